package config

import (
	"fmt"
	"slices"
	"strings"

	"ctxpilot/internal/logging"
)

// LoggingConfig controls the per-category log files under .ctxpilot/logs.
// Nothing is written unless DebugMode is set.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // text, json
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
}

var logLevels = []string{"debug", "info", "warn", "error"}

// IsCategoryEnabled reports whether category writes logs. Categories not
// listed follow DebugMode.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	on, listed := c.Categories[category]
	return c.DebugMode && (!listed || on)
}

// JSONFormat reports whether structured JSON output was requested.
func (c *LoggingConfig) JSONFormat() bool {
	return strings.EqualFold(c.Format, "json")
}

// Verbose enables debug output for every category not switched off.
func (c *LoggingConfig) Verbose() {
	c.DebugMode = true
	c.Level = "debug"
}

// Options converts the config for logging.Initialize.
func (c *LoggingConfig) Options() logging.Options {
	return logging.Options{
		DebugMode:  c.DebugMode,
		Level:      strings.ToLower(c.Level),
		JSONFormat: c.JSONFormat(),
		Categories: c.Categories,
	}
}

func (c *LoggingConfig) validate() error {
	if c.Level != "" && !slices.Contains(logLevels, strings.ToLower(c.Level)) {
		return fmt.Errorf("logging.level must be one of %s, got %q", strings.Join(logLevels, ", "), c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Format)
	}
	for name := range c.Categories {
		if !slices.Contains(logging.AllCategories, logging.Category(name)) {
			return fmt.Errorf("logging.categories: unknown category %q", name)
		}
	}
	return nil
}
