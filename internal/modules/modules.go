// Package modules lists the built-in module variants.
package modules

import (
	"fmt"

	"ctxpilot/internal/module"
	"ctxpilot/internal/modules/core"
	"ctxpilot/internal/modules/files"
	"ctxpilot/internal/modules/memory"
	"ctxpilot/internal/modules/notify"
	"ctxpilot/internal/modules/scratch"
	"ctxpilot/internal/modules/search"
	"ctxpilot/internal/modules/terminal"
	"ctxpilot/internal/modules/vcs"
	"ctxpilot/internal/tactile"
	"ctxpilot/internal/world"
)

// Builtin returns one instance of every built-in module with the default
// ignore patterns. Modules that run external commands share exec.
func Builtin(exec tactile.Executor) []module.Module {
	return BuiltinWith(exec, nil)
}

// BuiltinWith is Builtin with the ignore rules applied to trees, glob and
// grep.
func BuiltinWith(exec tactile.Executor, ignore *world.Ignore) []module.Module {
	return []module.Module{
		core.New(),
		files.New(ignore),
		search.New(ignore),
		memory.New(),
		scratch.New(),
		notify.New(),
		terminal.New(exec),
		vcs.NewRead(exec),
		vcs.NewWrite(exec),
	}
}

// Register makes every built-in module known to reg.
func Register(reg *module.Registry, exec tactile.Executor) error {
	for _, m := range Builtin(exec) {
		if err := reg.Register(m); err != nil {
			return fmt.Errorf("register %s: %w", m.ID(), err)
		}
	}
	return nil
}
