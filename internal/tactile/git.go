package tactile

import (
	"context"
	"fmt"
	"strings"
)

// Git runs git commands in one repository.
type Git struct {
	exec Executor
	dir  string
}

// NewGit creates a git runner for dir.
func NewGit(exec Executor, dir string) *Git {
	return &Git{exec: exec, dir: dir}
}

// GitResult is the outcome of a git command.
type GitResult struct {
	Args   []string
	Class  CommandClass
	Output string
	Exit   int
}

// Run validates, classifies and runs a git command line.
func (g *Git) Run(ctx context.Context, command string) (*GitResult, error) {
	args, err := ParseGit(command)
	if err != nil {
		return nil, err
	}
	return g.RunArgs(ctx, args...)
}

// RunArgs runs git with already parsed arguments.
func (g *Git) RunArgs(ctx context.Context, args ...string) (*GitResult, error) {
	res, err := g.exec.Execute(ctx, Command{
		Binary:           "git",
		Arguments:        append([]string{"--no-pager"}, args...),
		WorkingDirectory: g.dir,
		Environment:      []string{"GIT_TERMINAL_PROMPT=0"},
	})
	if err != nil {
		return nil, err
	}
	if res.Killed {
		return nil, fmt.Errorf("git %s: %s", strings.Join(args, " "), res.KillReason)
	}
	return &GitResult{
		Args:   args,
		Class:  ClassifyGit(args),
		Output: res.Combined(),
		Exit:   res.ExitCode,
	}, nil
}

// Status returns porcelain status with branch information.
func (g *Git) Status(ctx context.Context) (string, error) {
	res, err := g.RunArgs(ctx, "status", "--short", "--branch")
	if err != nil {
		return "", err
	}
	if res.Exit != 0 {
		return "", fmt.Errorf("git status: %s", strings.TrimSpace(res.Output))
	}
	if strings.TrimSpace(res.Output) == "" {
		return "(clean)\n", nil
	}
	return res.Output, nil
}

// Log returns the last n commits, one line each.
func (g *Git) Log(ctx context.Context, n int) (string, error) {
	if n <= 0 {
		n = 20
	}
	res, err := g.RunArgs(ctx, "log", "--oneline", "--decorate", fmt.Sprintf("-%d", n))
	if err != nil {
		return "", err
	}
	if res.Exit != 0 {
		return "", fmt.Errorf("git log: %s", strings.TrimSpace(res.Output))
	}
	return res.Output, nil
}
