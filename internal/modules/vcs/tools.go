package vcs

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ctxpilot/internal/logging"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/tactile"
	"ctxpilot/internal/tools"
)

func (m *ReadModule) statusTool() *tools.Tool {
	return &tools.Tool{
		Name:        "git_status",
		Description: "Open the repository status as a panel; it stays current",
		Module:      ReadID,
		Mode:        tools.ModeAsync,
		Priority:    70,
		Execute: func(_ context.Context, host tools.Host, _ map[string]any) (string, error) {
			id, err := host.OpenPanel(ReadID, panel.KindGitStatus, host.Workspace(), nil)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Opened git status as %s", id), nil
		},
	}
}

func (m *ReadModule) logTool() *tools.Tool {
	return &tools.Tool{
		Name:        "git_log",
		Description: "Open recent commits as a panel",
		Module:      ReadID,
		Mode:        tools.ModeAsync,
		Priority:    60,
		Execute: func(_ context.Context, host tools.Host, args map[string]any) (string, error) {
			var params map[string]string
			if n := tools.IntArg(args, "count", 0); n > 0 {
				params = map[string]string{"count": strconv.Itoa(n)}
			}
			id, err := host.OpenPanel(ReadID, panel.KindGitLog, host.Workspace(), params)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Opened git log as %s", id), nil
		},
		Schema: tools.ToolSchema{
			Properties: map[string]tools.Property{
				"count": {Type: "integer", Description: "Number of commits (default: 20)"},
			},
		},
	}
}

func (m *ReadModule) queryTool() *tools.Tool {
	return &tools.Tool{
		Name:        "git_query",
		Description: "Run a read-only git command (diff, show, blame, ...) and return its output",
		Module:      ReadID,
		Mode:        tools.ModeSync,
		Priority:    65,
		Execute: func(ctx context.Context, host tools.Host, args map[string]any) (string, error) {
			command, err := tools.RequireString(args, "command")
			if err != nil {
				return "", err
			}
			argv, err := tactile.ParseGit(command)
			if err != nil {
				return "", fmt.Errorf("%w: %w", tools.ErrInvalidArg, err)
			}
			if tactile.ClassifyGit(argv) == tactile.Mutating {
				return "", fmt.Errorf("git %s changes the repository; use the git tool", argv[0])
			}
			res, err := tactile.NewGit(m.exec, host.Workspace()).RunArgs(ctx, argv...)
			if err != nil {
				return "", err
			}
			return formatResult(res), nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"command"},
			Properties: map[string]tools.Property{
				"command": {Type: "string", Description: "git arguments, e.g. \"diff --stat\""},
			},
		},
	}
}

func (m *WriteModule) gitTool() *tools.Tool {
	return &tools.Tool{
		Name:        "git",
		Description: "Run a git command. Shell operators are rejected. Git panels refresh after commands that change the repository",
		Module:      WriteID,
		Mode:        tools.ModeSync,
		Priority:    60,
		Execute: func(ctx context.Context, host tools.Host, args map[string]any) (string, error) {
			command, err := tools.RequireString(args, "command")
			if err != nil {
				return "", err
			}
			argv, err := tactile.ParseGit(command)
			if err != nil {
				return "", fmt.Errorf("%w: %w", tools.ErrInvalidArg, err)
			}
			return run(ctx, host, m.exec, argv)
		},
		Schema: tools.ToolSchema{
			Required: []string{"command"},
			Properties: map[string]tools.Property{
				"command": {Type: "string", Description: "git arguments, e.g. \"checkout -b feature\""},
			},
		},
	}
}

// run executes argv and reports its completion class to the host, even
// when git exits non-zero: a failed merge still rewrites the index.
func run(ctx context.Context, host tools.Host, exec tactile.Executor, argv []string) (string, error) {
	res, err := tactile.NewGit(exec, host.Workspace()).RunArgs(ctx, argv...)
	if err != nil {
		return "", err
	}
	host.CommandCompleted(Subsystem, res.Class == tactile.Mutating)
	logging.Tactile("git %s: %s exit=%d", strings.Join(argv, " "), res.Class, res.Exit)
	return formatResult(res), nil
}

func (m *WriteModule) commitTool() *tools.Tool {
	return &tools.Tool{
		Name:        "git_commit",
		Description: "Stage the given files (if any) and commit",
		Module:      WriteID,
		Mode:        tools.ModeSync,
		Priority:    55,
		Execute: func(ctx context.Context, host tools.Host, args map[string]any) (string, error) {
			message, err := tools.RequireString(args, "message")
			if err != nil {
				return "", err
			}
			git := tactile.NewGit(m.exec, host.Workspace())
			if files := tools.StringsArg(args, "files"); len(files) > 0 {
				res, err := git.RunArgs(ctx, append([]string{"add", "--"}, files...)...)
				if err != nil {
					return "", err
				}
				host.CommandCompleted(Subsystem, true)
				if res.Exit != 0 {
					return "", fmt.Errorf("git add: %s", strings.TrimSpace(res.Output))
				}
			}
			res, err := git.RunArgs(ctx, "commit", "-m", message)
			if err != nil {
				return "", err
			}
			host.CommandCompleted(Subsystem, true)
			if res.Exit != 0 {
				return "", fmt.Errorf("git commit: %s", strings.TrimSpace(res.Output))
			}
			return strings.TrimSpace(res.Output), nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"message"},
			Properties: map[string]tools.Property{
				"message": {Type: "string", Description: "Commit message"},
				"files":   {Type: "array", Description: "Paths to stage first", Items: &tools.PropertyItems{Type: "string"}},
			},
		},
	}
}

func formatResult(res *tactile.GitResult) string {
	out := strings.TrimRight(res.Output, "\n")
	if out == "" {
		out = "(no output)"
	}
	if res.Exit != 0 {
		return fmt.Sprintf("exit %d\n%s", res.Exit, out)
	}
	return out
}
