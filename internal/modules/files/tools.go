package files

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ctxpilot/internal/diff"
	"ctxpilot/internal/logging"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/tools"
)

// maxDiffLines caps the diff echoed back after an edit.
const maxDiffLines = 40

// OpenFileTool returns a tool opening a file panel.
func OpenFileTool() *tools.Tool {
	return &tools.Tool{
		Name:        "open_file",
		Description: "Open a file as a context panel. Content arrives asynchronously and stays current as the file changes",
		Module:      ID,
		Mode:        tools.ModeAsync,
		Priority:    90,
		Execute:     executeOpenFile,
		Schema: tools.ToolSchema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {Type: "string", Description: "File path, relative to the workspace"},
			},
		},
	}
}

func executeOpenFile(_ context.Context, host tools.Host, args map[string]any) (string, error) {
	raw, err := tools.RequireString(args, "path")
	if err != nil {
		return "", err
	}
	path, err := tools.ResolvePath(host, raw)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, use open_tree", raw)
	}
	id, err := host.OpenPanel(ID, panel.KindFile, path, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Opened %s as %s", tools.RelPath(host, path), id), nil
}

// CreateFileTool returns a tool creating a new file and opening it.
func CreateFileTool() *tools.Tool {
	return &tools.Tool{
		Name:        "create_file",
		Description: "Create a new file with the given contents and open it as a panel. Fails if the file exists",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    80,
		Execute:     executeCreateFile,
		Schema: tools.ToolSchema{
			Required: []string{"path", "contents"},
			Properties: map[string]tools.Property{
				"path":     {Type: "string", Description: "File path, relative to the workspace"},
				"contents": {Type: "string", Description: "File contents"},
			},
		},
	}
}

func executeCreateFile(_ context.Context, host tools.Host, args map[string]any) (string, error) {
	raw, err := tools.RequireString(args, "path")
	if err != nil {
		return "", err
	}
	path, err := tools.ResolvePath(host, raw)
	if err != nil {
		return "", err
	}
	contents := tools.StringArg(args, "contents", "")

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("file %s already exists, use edit_file to modify it", raw)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directories: %w", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	host.InvalidateSource(panel.KindTree, filepath.Dir(path))

	id, err := host.OpenPanel(ID, panel.KindFile, path, nil)
	if err != nil {
		return "", err
	}
	logging.Tools("create_file: %s (%d bytes) as %s", path, len(contents), id)
	return fmt.Sprintf("Created %s as %s", tools.RelPath(host, path), id), nil
}

// EditFileTool returns a tool applying exact-match replacements to an open file.
func EditFileTool() *tools.Tool {
	return &tools.Tool{
		Name:        "edit_file",
		Description: "Apply edits to a file that is open as a panel. Each old_string must match exactly once",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    85,
		Execute:     executeEditFile,
		Schema: tools.ToolSchema{
			Required: []string{"path", "edits"},
			Properties: map[string]tools.Property{
				"path":  {Type: "string", Description: "File path, relative to the workspace"},
				"edits": {Type: "array", Description: "List of {old_string, new_string} replacements applied in order", Items: &tools.PropertyItems{Type: "object"}},
			},
		},
	}
}

// Edit is one exact-match replacement.
type Edit struct {
	Old string
	New string
}

func parseEdits(args map[string]any) ([]Edit, []string) {
	raw, _ := args["edits"].([]any)
	edits := make([]Edit, 0, len(raw))
	var failures []string
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			failures = append(failures, fmt.Sprintf("edit %d: not an object", i+1))
			continue
		}
		old, ok := m["old_string"].(string)
		if !ok || old == "" {
			failures = append(failures, fmt.Sprintf("edit %d: missing old_string", i+1))
			continue
		}
		repl, ok := m["new_string"].(string)
		if !ok {
			failures = append(failures, fmt.Sprintf("edit %d: missing new_string", i+1))
			continue
		}
		edits = append(edits, Edit{Old: old, New: repl})
	}
	return edits, failures
}

// ApplyEdits applies edits in order. Each must match exactly once in the
// current text; failing edits are skipped and reported.
func ApplyEdits(text string, edits []Edit) (string, int, []string) {
	applied := 0
	var failures []string
	for i, e := range edits {
		switch n := strings.Count(text, e.Old); n {
		case 0:
			failures = append(failures, fmt.Sprintf("edit %d: no match found", i+1))
		case 1:
			text = strings.Replace(text, e.Old, e.New, 1)
			applied++
		default:
			failures = append(failures, fmt.Sprintf("edit %d: %d matches (need unique)", i+1, n))
		}
	}
	return text, applied, failures
}

func executeEditFile(_ context.Context, host tools.Host, args map[string]any) (string, error) {
	raw, err := tools.RequireString(args, "path")
	if err != nil {
		return "", err
	}
	path, err := tools.ResolvePath(host, raw)
	if err != nil {
		return "", err
	}
	if !isOpen(host, path) {
		return "", fmt.Errorf("file %s is not open in context, use open_file first", raw)
	}

	edits, failures := parseEdits(args)
	if len(edits) == 0 && len(failures) == 0 {
		return "", fmt.Errorf("%w: no edits provided", tools.ErrInvalidArg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	text, applied, editFailures := ApplyEdits(string(data), edits)
	failures = append(failures, editFailures...)
	total := applied + len(failures)

	if applied == 0 {
		return "", fmt.Errorf("failed to edit %s: %s", raw, strings.Join(failures, "; "))
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	// Stale before the next assembly, whatever the watcher reports later.
	host.InvalidateSource(panel.KindFile, path)

	d := diff.Compute(raw, string(data), text, diff.DefaultContext)
	logging.Tools("edit_file: %s %d/%d edits applied (%s)", path, applied, total, d.Stat())
	var summary string
	if len(failures) > 0 {
		summary = fmt.Sprintf("Partial edit %s: %d/%d applied. Failed: %s", raw, applied, total, strings.Join(failures, "; "))
	} else {
		summary = fmt.Sprintf("Edited %s: %d/%d edits applied", raw, applied, total)
	}
	if d.Empty() {
		return summary, nil
	}
	return summary + " (" + d.Stat() + ")\n" + d.Unified(maxDiffLines), nil
}

func isOpen(host tools.Host, path string) bool {
	for _, e := range host.Panels() {
		if e.Kind == panel.KindFile && e.Source == path {
			return true
		}
	}
	return false
}

// DeleteFileTool returns a tool deleting a file and closing its panels.
func DeleteFileTool() *tools.Tool {
	return &tools.Tool{
		Name:        "delete_file",
		Description: "Delete a file and close its panel",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    50,
		Execute:     executeDeleteFile,
		Schema: tools.ToolSchema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {Type: "string", Description: "File path, relative to the workspace"},
			},
		},
	}
}

func executeDeleteFile(_ context.Context, host tools.Host, args map[string]any) (string, error) {
	raw, err := tools.RequireString(args, "path")
	if err != nil {
		return "", err
	}
	path, err := tools.ResolvePath(host, raw)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("cannot delete directory %s", raw)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("failed to delete file: %w", err)
	}
	for _, e := range host.Panels() {
		if e.Kind == panel.KindFile && e.Source == path {
			_ = host.ClosePanel(e.ID)
		}
	}
	host.InvalidateSource(panel.KindTree, filepath.Dir(path))
	return fmt.Sprintf("Deleted %s", raw), nil
}

// OpenTreeTool returns a tool opening a directory tree panel.
func OpenTreeTool() *tools.Tool {
	return &tools.Tool{
		Name:        "open_tree",
		Description: "Open a directory tree as a context panel; it updates as files are added or removed",
		Module:      ID,
		Mode:        tools.ModeAsync,
		Priority:    70,
		Execute:     executeOpenTree,
		Schema: tools.ToolSchema{
			Properties: map[string]tools.Property{
				"path":  {Type: "string", Description: "Directory, relative to the workspace (default: workspace root)"},
				"depth": {Type: "integer", Description: "Maximum depth (default: unlimited)"},
			},
		},
	}
}

func executeOpenTree(_ context.Context, host tools.Host, args map[string]any) (string, error) {
	path, err := tools.ResolvePath(host, tools.StringArg(args, "path", ""))
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to open directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory, use open_file", tools.RelPath(host, path))
	}
	var params map[string]string
	if depth := tools.IntArg(args, "depth", 0); depth > 0 {
		params = map[string]string{"depth": strconv.Itoa(depth)}
	}
	id, err := host.OpenPanel(ID, panel.KindTree, path, params)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Opened tree %s as %s", tools.RelPath(host, path), id), nil
}
