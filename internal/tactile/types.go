// Package tactile runs the external processes panels depend on: git
// commands and tmux pane captures. It knows nothing about panels; results
// are plain text with hashes for change detection.
package tactile

import (
	"strings"
	"time"
)

// Command represents a command to be executed.
type Command struct {
	// Binary is the executable to run (e.g., "git", "tmux").
	Binary string `json:"binary"`

	// Arguments are the command-line arguments.
	Arguments []string `json:"arguments"`

	// WorkingDirectory is the directory to execute in.
	// If empty, uses the executor's default working directory.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Environment variables to set (in KEY=VALUE format).
	Environment []string `json:"environment,omitempty"`

	// Stdin provides input to the command's standard input.
	Stdin string `json:"stdin,omitempty"`

	// Timeout overrides the executor default when non-zero.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// CommandString returns the full command as a string (for display/logging).
func (c Command) CommandString() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// ExecutionResult is the outcome of running a command.
type ExecutionResult struct {
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	Duration   time.Duration `json:"duration"`
	Killed     bool          `json:"killed,omitempty"`
	KillReason string        `json:"kill_reason,omitempty"`
	Truncated  bool          `json:"truncated,omitempty"`
}

// Combined returns stdout followed by stderr.
func (r *ExecutionResult) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// OK reports a zero exit status without being killed.
func (r *ExecutionResult) OK() bool { return r.ExitCode == 0 && !r.Killed }

// ExecutorConfig configures an executor.
type ExecutorConfig struct {
	DefaultTimeout     time.Duration
	MaxOutputBytes     int64
	WorkingDirectory   string
	AllowedEnvironment []string
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultTimeout: 30 * time.Second,
		MaxOutputBytes: 1 << 20,
		AllowedEnvironment: []string{
			"PATH", "HOME", "USER", "LANG", "LC_ALL", "TERM", "TMUX", "TMUX_PANE",
			"GIT_AUTHOR_NAME", "GIT_AUTHOR_EMAIL", "GIT_COMMITTER_NAME", "GIT_COMMITTER_EMAIL",
			"SSH_AUTH_SOCK", "TMPDIR",
		},
	}
}
