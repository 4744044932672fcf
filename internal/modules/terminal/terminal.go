// Package terminal is the module for tmux pane panels.
package terminal

import (
	"context"
	"fmt"
	"strconv"

	"ctxpilot/internal/module"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/tactile"
	"ctxpilot/internal/tools"
)

const (
	ID        = "terminal"
	Subsystem = "tmux"

	defaultLines = 50
)

// Module provides tmux pane panels. Pane captures hash only their last
// lines, so output that merely scrolls does not dirty the view.
type Module struct {
	module.Base
	tmux    *tactile.Tmux
	factory *panel.Template
}

// New creates the terminal module driving tmux through exec.
func New(exec tactile.Executor) *Module {
	m := &Module{
		Base: module.Base{ModuleID: ID, Summary: "tmux pane panels and key input"},
		tmux: tactile.NewTmux(exec),
	}
	m.factory = &panel.Template{
		Type:     panel.KindTmux,
		System:   Subsystem,
		Refresh:  panel.StrategyTimer,
		Priority: 50,
		TitleFunc: func(source string, params map[string]string) string {
			if d := params["description"]; d != "" {
				return "tmux " + source + " " + d
			}
			return "tmux " + source
		},
		Fetch: m.fetchPane,
	}
	return m
}

func (m *Module) PanelFactories() []panel.Factory { return []panel.Factory{m.factory} }

func (m *Module) Tools() []*tools.Tool {
	return []*tools.Tool{m.openTool(), m.sendTool()}
}

func (m *Module) fetchPane(e panel.Element) panel.FetchFunc {
	pane := e.Source
	lines, err := strconv.Atoi(e.Param("lines"))
	if err != nil || lines <= 0 {
		lines = defaultLines
	}
	return func(ctx context.Context) (panel.Content, error) {
		c, err := m.tmux.CapturePane(ctx, pane, lines)
		if err != nil {
			return panel.Content{}, err
		}
		return panel.Content{Text: c.Text, Hash: c.Hash}, nil
	}
}

func (m *Module) openTool() *tools.Tool {
	return &tools.Tool{
		Name:        "tmux_open",
		Description: "Show a tmux pane as a panel, creating a new pane when none is given",
		Module:      ID,
		Mode:        tools.ModeAsync,
		Priority:    60,
		Execute: func(ctx context.Context, host tools.Host, args map[string]any) (string, error) {
			pane := tools.StringArg(args, "pane", "")
			if pane == "" {
				var err error
				if pane, err = m.tmux.NewPane(ctx, host.Workspace()); err != nil {
					return "", err
				}
			}
			params := map[string]string{}
			if n := tools.IntArg(args, "lines", 0); n > 0 {
				params["lines"] = strconv.Itoa(n)
			}
			if d := tools.StringArg(args, "description", ""); d != "" {
				params["description"] = d
			}
			if len(params) == 0 {
				params = nil
			}
			id, err := host.OpenPanel(ID, panel.KindTmux, pane, params)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Watching pane %s as %s", pane, id), nil
		},
		Schema: tools.ToolSchema{
			Properties: map[string]tools.Property{
				"pane":        {Type: "string", Description: "tmux pane id, e.g. %3 (default: new pane)"},
				"lines":       {Type: "integer", Description: "Lines of scrollback to show (default: 50)"},
				"description": {Type: "string", Description: "What the pane is for"},
			},
		},
	}
}

func (m *Module) sendTool() *tools.Tool {
	return &tools.Tool{
		Name:        "tmux_send",
		Description: "Type keys into a tmux pane; its panel refreshes afterwards",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    55,
		Execute: func(ctx context.Context, host tools.Host, args map[string]any) (string, error) {
			pane, err := tools.RequireString(args, "pane")
			if err != nil {
				return "", err
			}
			keys := tools.StringArg(args, "keys", "")
			enter := tools.BoolArg(args, "enter", true)
			if err := m.tmux.SendKeys(ctx, pane, keys, enter); err != nil {
				return "", err
			}
			host.CommandCompleted(Subsystem, true)
			return fmt.Sprintf("Sent %q to %s", keys, pane), nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"pane", "keys"},
			Properties: map[string]tools.Property{
				"pane":  {Type: "string", Description: "tmux pane id"},
				"keys":  {Type: "string", Description: "Keys to type"},
				"enter": {Type: "boolean", Description: "Press Enter afterwards (default: true)", Default: true},
			},
		},
	}
}
