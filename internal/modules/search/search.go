// Package search is the module for glob and grep result panels. Results
// refresh on a timer since any file under the root may affect them.
package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ctxpilot/internal/module"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/tools"
	"ctxpilot/internal/world"
)

// ID is the module id.
const ID = "search"

// Module provides glob and grep panels.
type Module struct {
	module.Base
	globFactory *panel.Template
	grepFactory *panel.Template
	ignore      *world.Ignore
}

// New creates the search module. Paths matched by ignore are skipped; nil
// uses the defaults.
func New(ignore *world.Ignore) *Module {
	m := &Module{Base: module.Base{
		ModuleID: ID,
		Summary:  "Glob and grep result panels",
	}, ignore: ignore}
	m.globFactory = &panel.Template{
		Type:     panel.KindGlob,
		System:   ID,
		Refresh:  panel.StrategyTimer,
		Priority: 45,
		TitleFunc: func(_ string, params map[string]string) string {
			return "glob " + params["pattern"]
		},
		Fetch: m.fetchGlob,
	}
	m.grepFactory = &panel.Template{
		Type:     panel.KindGrep,
		System:   ID,
		Refresh:  panel.StrategyTimer,
		Priority: 45,
		TitleFunc: func(_ string, params map[string]string) string {
			title := "grep " + params["pattern"]
			if g := params["file_pattern"]; g != "" {
				title += " in " + g
			}
			return title
		},
		Fetch: m.fetchGrep,
	}
	return m
}

func (m *Module) PanelFactories() []panel.Factory {
	return []panel.Factory{m.globFactory, m.grepFactory}
}

func (m *Module) Tools() []*tools.Tool {
	return []*tools.Tool{GlobTool(), GrepTool()}
}

func (m *Module) fetchGlob(e panel.Element) panel.FetchFunc {
	base, pattern := e.Source, e.Param("pattern")
	limit, _ := strconv.Atoi(e.Param("limit"))
	return func(ctx context.Context) (panel.Content, error) {
		matches, err := world.Glob(ctx, base, pattern, limit, m.ignore)
		if err != nil {
			return panel.Content{}, err
		}
		if len(matches) == 0 {
			return panel.Content{Text: "No files match " + pattern + "\n"}, nil
		}
		return panel.Content{Text: fmt.Sprintf("%d files\n%s\n", len(matches), strings.Join(matches, "\n"))}, nil
	}
}

func (m *Module) fetchGrep(e panel.Element) panel.FetchFunc {
	root := e.Source
	pattern := e.Param("pattern")
	opts := world.GrepOptions{
		FileGlob:   e.Param("file_pattern"),
		IgnoreCase: e.Param("ignore_case") == "true",
		Ignore:     m.ignore,
	}
	opts.MaxResults, _ = strconv.Atoi(e.Param("limit"))
	opts.ContextLines, _ = strconv.Atoi(e.Param("context"))
	return func(ctx context.Context) (panel.Content, error) {
		matches, err := world.Grep(ctx, root, pattern, opts)
		if err != nil {
			return panel.Content{}, err
		}
		if len(matches) == 0 {
			return panel.Content{Text: "No matches for " + pattern + "\n"}, nil
		}
		return panel.Content{Text: world.FormatGrep(matches)}, nil
	}
}

// GlobTool returns a tool opening a glob result panel.
func GlobTool() *tools.Tool {
	return &tools.Tool{
		Name:        "glob",
		Description: "Find files matching a pattern (** matches any depth) and keep the list as a panel",
		Module:      ID,
		Mode:        tools.ModeAsync,
		Priority:    75,
		Execute:     executeGlob,
		Schema: tools.ToolSchema{
			Required: []string{"pattern"},
			Properties: map[string]tools.Property{
				"pattern": {Type: "string", Description: "Glob pattern, e.g. **/*.go"},
				"path":    {Type: "string", Description: "Base directory (default: workspace root)"},
				"limit":   {Type: "integer", Description: "Maximum results (default: 100)"},
			},
		},
	}
}

func executeGlob(_ context.Context, host tools.Host, args map[string]any) (string, error) {
	pattern, err := tools.RequireString(args, "pattern")
	if err != nil {
		return "", err
	}
	base, err := tools.ResolvePath(host, tools.StringArg(args, "path", ""))
	if err != nil {
		return "", err
	}
	if !world.ValidGlob(pattern) {
		return "", fmt.Errorf("%w: bad glob pattern %q", tools.ErrInvalidArg, pattern)
	}
	params := map[string]string{"pattern": pattern}
	if n := tools.IntArg(args, "limit", 0); n > 0 {
		params["limit"] = strconv.Itoa(n)
	}
	id, err := host.OpenPanel(ID, panel.KindGlob, base, params)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Searching %s for %s as %s", tools.RelPath(host, base), pattern, id), nil
}

// GrepTool returns a tool opening a grep result panel.
func GrepTool() *tools.Tool {
	return &tools.Tool{
		Name:        "grep",
		Description: "Search file contents with a regular expression and keep the matches as a panel",
		Module:      ID,
		Mode:        tools.ModeAsync,
		Priority:    75,
		Execute:     executeGrep,
		Schema: tools.ToolSchema{
			Required: []string{"pattern"},
			Properties: map[string]tools.Property{
				"pattern":      {Type: "string", Description: "Regular expression"},
				"path":         {Type: "string", Description: "File or directory to search (default: workspace root)"},
				"file_pattern": {Type: "string", Description: "Only search files whose name matches, e.g. *.go"},
				"ignore_case":  {Type: "boolean", Description: "Case insensitive match"},
				"context":      {Type: "integer", Description: "Lines of leading context per match"},
				"limit":        {Type: "integer", Description: "Maximum matches (default: 50)"},
			},
		},
	}
}

func executeGrep(_ context.Context, host tools.Host, args map[string]any) (string, error) {
	pattern, err := tools.RequireString(args, "pattern")
	if err != nil {
		return "", err
	}
	if err := world.ValidRegexp(pattern); err != nil {
		return "", fmt.Errorf("%w: %v", tools.ErrInvalidArg, err)
	}
	root, err := tools.ResolvePath(host, tools.StringArg(args, "path", ""))
	if err != nil {
		return "", err
	}
	params := map[string]string{"pattern": pattern}
	if g := tools.StringArg(args, "file_pattern", ""); g != "" {
		params["file_pattern"] = g
	}
	if tools.BoolArg(args, "ignore_case", false) {
		params["ignore_case"] = "true"
	}
	if n := tools.IntArg(args, "context", 0); n > 0 {
		params["context"] = strconv.Itoa(n)
	}
	if n := tools.IntArg(args, "limit", 0); n > 0 {
		params["limit"] = strconv.Itoa(n)
	}
	id, err := host.OpenPanel(ID, panel.KindGrep, root, params)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Searching %s for /%s/ as %s", tools.RelPath(host, root), pattern, id), nil
}
