package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// StateDirName is the per-workspace directory holding config, database and logs.
const StateDirName = ".ctxpilot"

// Config holds all ctxpilot configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Prompt assembly and token budget
	Context ContextConfig `yaml:"context"`

	// Conversation history detachment
	History HistoryConfig `yaml:"history"`

	// Background worker pool
	Workers WorkersConfig `yaml:"workers"`

	// Timer-driven refresh intervals per panel kind
	Refresh RefreshConfig `yaml:"refresh"`

	// Watch-driven invalidation
	Watch WatchConfig `yaml:"watch"`

	// Module activation at startup
	Modules ModulesConfig `yaml:"modules"`

	// Named module bundles
	Presets []PresetConfig `yaml:"presets"`

	// Model dispatch
	Provider ProviderConfig `yaml:"provider"`

	// Session persistence
	Persist PersistConfig `yaml:"persist"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ContextConfig configures the context assembler.
type ContextConfig struct {
	// Maximum accounted tokens of one assembled prompt.
	Budget int `yaml:"budget"`

	// System prompt sent at the top of every request.
	SystemPrompt string `yaml:"system_prompt"`

	// Instructions repeated after the panel block.
	Reinjection string `yaml:"reinjection"`

	// How long a turn waits for loading panels before assembling.
	AssemblyWait string `yaml:"assembly_wait"`

	// Maximum model/tool round trips per user message.
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

// HistoryConfig configures conversation detachment.
type HistoryConfig struct {
	// Auto-detach once history exceeds this many tokens.
	Watermark int `yaml:"watermark"`

	// After auto-detaching, history is brought down to Watermark*TargetRatio.
	TargetRatio float64 `yaml:"target_ratio"`

	// Newest messages that are never detached automatically.
	KeepRecent int `yaml:"keep_recent"`
}

// WorkersConfig configures the background fetch pool.
type WorkersConfig struct {
	PoolSize     int    `yaml:"pool_size"`
	FetchTimeout string `yaml:"fetch_timeout"`
	QueueSize    int    `yaml:"queue_size"`
}

// RefreshConfig holds timer intervals per panel kind.
type RefreshConfig struct {
	Tmux      string `yaml:"tmux"`
	GitStatus string `yaml:"git_status"`
	Glob      string `yaml:"glob"`
	Grep      string `yaml:"grep"`
}

// WatchConfig configures filesystem watching.
type WatchConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DirBatch string `yaml:"dir_batch"`
	// Ignore adds patterns to the built-in ignore list used by watches,
	// trees, glob and grep.
	Ignore []string `yaml:"ignore"`
}

// ModulesConfig lists modules activated at startup.
type ModulesConfig struct {
	Enabled []string `yaml:"enabled"`
	Preset  string   `yaml:"preset"`
}

// PresetConfig is a named, restorable bundle of modules and tool permissions.
type PresetConfig struct {
	Name    string              `yaml:"name"`
	Modules []string            `yaml:"modules"`
	Tools   map[string][]string `yaml:"tools,omitempty"` // module id -> allowed tools (empty = all)
}

// ProviderConfig configures the model dispatch adapter.
type ProviderConfig struct {
	Name       string `yaml:"name"` // echo, scripted
	Model      string `yaml:"model"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
}

// PersistConfig configures session persistence.
type PersistConfig struct {
	DatabasePath string `yaml:"database_path"`
	Autosave     bool   `yaml:"autosave"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ctxpilot",
		Version: "0.4.0",

		Context: ContextConfig{
			Budget:        100000,
			SystemPrompt:  defaultSystemPrompt,
			Reinjection:   defaultReinjection,
			AssemblyWait:  "2s",
			MaxToolRounds: 16,
		},

		History: HistoryConfig{
			Watermark:   40000,
			TargetRatio: 0.6,
			KeepRecent:  6,
		},

		Workers: WorkersConfig{
			PoolSize:     4,
			FetchTimeout: "10s",
			QueueSize:    256,
		},

		Refresh: RefreshConfig{
			Tmux:      "1s",
			GitStatus: "5s",
			Glob:      "30s",
			Grep:      "30s",
		},

		Watch: WatchConfig{
			Enabled:  true,
			DirBatch: "250ms",
		},

		Modules: ModulesConfig{
			Enabled: []string{"core", "files", "search", "memory", "scratch", "notifications"},
		},

		Presets: []PresetConfig{
			{Name: "reader", Modules: []string{"core", "files", "search", "vcs-read"}},
			{Name: "worker", Modules: []string{"core", "files", "search", "memory", "scratch", "notifications", "terminal", "vcs-read", "vcs-write"}},
		},

		Provider: ProviderConfig{
			Name:       "echo",
			Timeout:    "120s",
			MaxRetries: 3,
		},

		Persist: PersistConfig{
			DatabasePath: filepath.Join(StateDirName, "state.db"),
			Autosave:     true,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

const defaultSystemPrompt = `You are a coding agent working inside a terminal.
Context panels (files, trees, searches, terminals, git status, notes) are shown to you as
results of earlier context_view calls. Prefer reading panels over re-opening files.
Close panels you no longer need to keep the context small.`

const defaultReinjection = `Reminder: panels above reflect the current state of the workspace.
Panels marked as loading or refreshing have no content yet; do not assume their contents.`

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultPath returns the config path inside a workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, StateDirName, "config.yaml")
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CTXPILOT_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Context.Budget = n
		}
	}
	if v := os.Getenv("CTXPILOT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers.PoolSize = n
		}
	}
	if path := os.Getenv("CTXPILOT_DB"); path != "" {
		c.Persist.DatabasePath = path
	}
	if preset := os.Getenv("CTXPILOT_PRESET"); preset != "" {
		c.Modules.Preset = preset
	}
	if os.Getenv("CTXPILOT_DEBUG") == "1" {
		c.Logging.Verbose()
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Context.Budget <= 0 {
		return fmt.Errorf("context.budget must be > 0")
	}
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("workers.pool_size must be >= 1")
	}
	if c.History.TargetRatio <= 0 || c.History.TargetRatio > 1 {
		return fmt.Errorf("history.target_ratio must be in (0, 1], got %v", c.History.TargetRatio)
	}
	seen := make(map[string]bool, len(c.Presets))
	for _, p := range c.Presets {
		if p.Name == "" {
			return fmt.Errorf("preset with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate preset: %s", p.Name)
		}
		seen[p.Name] = true
	}
	if c.Modules.Preset != "" && !seen[c.Modules.Preset] {
		return fmt.Errorf("startup preset %q is not defined", c.Modules.Preset)
	}
	return c.Logging.validate()
}

// Preset returns the named preset, if defined.
func (c *Config) Preset(name string) (PresetConfig, bool) {
	for _, p := range c.Presets {
		if p.Name == name {
			return p, true
		}
	}
	return PresetConfig{}, false
}

// GetFetchTimeout returns the per-fetch timeout as a duration.
func (c *Config) GetFetchTimeout() time.Duration {
	return parseDuration(c.Workers.FetchTimeout, 10*time.Second)
}

// GetAssemblyWait returns how long a turn waits for loading panels.
func (c *Config) GetAssemblyWait() time.Duration {
	return parseDuration(c.Context.AssemblyWait, 2*time.Second)
}

// GetDirBatch returns the batching window for directory change events.
func (c *Config) GetDirBatch() time.Duration {
	return parseDuration(c.Watch.DirBatch, 250*time.Millisecond)
}

// GetProviderTimeout returns the model request timeout.
func (c *Config) GetProviderTimeout() time.Duration {
	return parseDuration(c.Provider.Timeout, 120*time.Second)
}

// RefreshIntervals returns timer intervals keyed by panel kind name.
func (c *Config) RefreshIntervals() map[string]time.Duration {
	return map[string]time.Duration{
		"tmux":       parseDuration(c.Refresh.Tmux, time.Second),
		"git_status": parseDuration(c.Refresh.GitStatus, 5*time.Second),
		"glob":       parseDuration(c.Refresh.Glob, 30*time.Second),
		"grep":       parseDuration(c.Refresh.Grep, 30*time.Second),
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
