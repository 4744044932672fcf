package module

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPreset is returned when a preset name is not defined.
var ErrUnknownPreset = errors.New("unknown preset")

// ConfigError reports an invalid module configuration: a missing or cyclic
// dependency, a conflict between modules, or an active dependent blocking a
// deactivation. Operations that fail with it change nothing.
type ConfigError struct {
	Module string
	Reason string
	// Cycle lists the modules forming a dependency cycle, when that is the cause.
	Cycle []string
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("module %s: %s", e.Module, e.Reason)
	if len(e.Cycle) > 0 {
		msg += " (" + strings.Join(e.Cycle, " -> ") + ")"
	}
	return msg
}

func configErr(module, format string, args ...any) *ConfigError {
	return &ConfigError{Module: module, Reason: fmt.Sprintf(format, args...)}
}
