// Package core is the always-on module: panel management tools the model
// uses to look at, pin, hide and close context panels.
package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"ctxpilot/internal/module"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/provider"
	"ctxpilot/internal/tools"
)

// ID is the module id.
const ID = "core"

// Module provides panel management tools. It owns no panel kinds.
type Module struct {
	module.Base
}

// New creates the core module.
func New() *Module {
	return &Module{Base: module.Base{
		ModuleID: ID,
		Summary:  "Panel management: view, list, pin, hide and close context panels",
	}}
}

func (m *Module) PanelFactories() []panel.Factory { return nil }

func (m *Module) Tools() []*tools.Tool {
	return []*tools.Tool{
		ContextViewTool(),
		ListPanelsTool(),
		ClosePanelsTool(),
		RefreshPanelTool(),
		PinPanelTool(),
		SetVisibleTool(),
	}
}

// ContextViewTool returns the tool whose calls carry panel content in
// assembled prompts. Calling it directly returns the current rendering.
func ContextViewTool() *tools.Tool {
	return &tools.Tool{
		Name:        provider.ContextViewTool,
		Description: "Show the current content of a context panel",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    95,
		Execute:     executeContextView,
		Schema: tools.ToolSchema{
			Required: []string{"panel"},
			Properties: map[string]tools.Property{
				"panel": {Type: "string", Description: "Panel id, e.g. P3"},
			},
		},
	}
}

func executeContextView(_ context.Context, host tools.Host, args map[string]any) (string, error) {
	id, err := tools.RequireString(args, "panel")
	if err != nil {
		return "", err
	}
	e, ok := host.Panel(panel.ID(id))
	if !ok {
		return "", fmt.Errorf("unknown panel %s", id)
	}
	return panel.Serialize(e, host.Now()), nil
}

// ListPanelsTool returns a tool listing every panel with its state.
func ListPanelsTool() *tools.Tool {
	return &tools.Tool{
		Name:        "list_panels",
		Description: "List open and hidden context panels with state and token cost",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    80,
		Execute:     executeListPanels,
	}
}

func executeListPanels(_ context.Context, host tools.Host, _ map[string]any) (string, error) {
	panels := host.Panels()
	if len(panels) == 0 {
		return "No panels", nil
	}
	var sb strings.Builder
	total := 0
	for _, e := range panels {
		flags := ""
		if !e.Visible {
			flags += " hidden"
		}
		if e.Pinned {
			flags += " pinned"
		}
		fmt.Fprintf(&sb, "%s %-10s %-8s %6s tokens  %s%s\n", e.ID, e.Kind, e.State, humanize.Comma(int64(e.Tokens)), e.Title, flags)
		if e.Visible {
			total += e.Tokens
		}
	}
	fmt.Fprintf(&sb, "%d panels, %s visible tokens", len(panels), humanize.Comma(int64(total)))
	return sb.String(), nil
}

// ClosePanelsTool returns a tool destroying panels.
func ClosePanelsTool() *tools.Tool {
	return &tools.Tool{
		Name:        "close_panels",
		Description: "Close context panels that are no longer needed",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    85,
		Execute:     executeClosePanels,
		Schema: tools.ToolSchema{
			Required: []string{"ids"},
			Properties: map[string]tools.Property{
				"ids": {Type: "array", Description: "Panel ids to close", Items: &tools.PropertyItems{Type: "string"}},
			},
		},
	}
}

func executeClosePanels(_ context.Context, host tools.Host, args map[string]any) (string, error) {
	ids := tools.StringsArg(args, "ids")
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: ids must list at least one panel", tools.ErrInvalidArg)
	}
	var closed, failed []string
	for _, id := range ids {
		if err := host.ClosePanel(panel.ID(id)); err != nil {
			failed = append(failed, id)
			continue
		}
		closed = append(closed, id)
	}
	if len(closed) == 0 {
		return "", fmt.Errorf("no such panels: %s", strings.Join(failed, ", "))
	}
	out := "Closed " + strings.Join(closed, ", ")
	if len(failed) > 0 {
		out += "; unknown: " + strings.Join(failed, ", ")
	}
	return out, nil
}

// RefreshPanelTool returns a tool forcing a refetch.
func RefreshPanelTool() *tools.Tool {
	return &tools.Tool{
		Name:        "refresh_panel",
		Description: "Re-fetch a panel's content now",
		Module:      ID,
		Mode:        tools.ModeAsync,
		Priority:    60,
		Execute:     executeRefreshPanel,
		Schema: tools.ToolSchema{
			Required: []string{"id"},
			Properties: map[string]tools.Property{
				"id": {Type: "string", Description: "Panel id"},
			},
		},
	}
}

func executeRefreshPanel(_ context.Context, host tools.Host, args map[string]any) (string, error) {
	id, err := tools.RequireString(args, "id")
	if err != nil {
		return "", err
	}
	if err := host.RefreshPanel(panel.ID(id)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Refreshing %s", id), nil
}

// PinPanelTool returns a tool exempting a panel from eviction.
func PinPanelTool() *tools.Tool {
	return &tools.Tool{
		Name:        "pin_panel",
		Description: "Pin a panel so it is never dropped to fit the context budget",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    55,
		Execute:     executePinPanel,
		Schema: tools.ToolSchema{
			Required: []string{"id"},
			Properties: map[string]tools.Property{
				"id":     {Type: "string", Description: "Panel id"},
				"pinned": {Type: "boolean", Description: "false to unpin (default: true)", Default: true},
			},
		},
	}
}

func executePinPanel(_ context.Context, host tools.Host, args map[string]any) (string, error) {
	id, err := tools.RequireString(args, "id")
	if err != nil {
		return "", err
	}
	pinned := tools.BoolArg(args, "pinned", true)
	if err := host.PinPanel(panel.ID(id), pinned); err != nil {
		return "", err
	}
	if pinned {
		return fmt.Sprintf("Pinned %s", id), nil
	}
	return fmt.Sprintf("Unpinned %s", id), nil
}

// SetVisibleTool returns a tool hiding or showing a panel without closing it.
func SetVisibleTool() *tools.Tool {
	return &tools.Tool{
		Name:        "toggle_panel",
		Description: "Hide a panel from the context, or show it again, without closing it",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    55,
		Execute:     executeTogglePanel,
		Schema: tools.ToolSchema{
			Required: []string{"id"},
			Properties: map[string]tools.Property{
				"id":      {Type: "string", Description: "Panel id"},
				"visible": {Type: "boolean", Description: "Target visibility (default: flip)"},
			},
		},
	}
}

func executeTogglePanel(_ context.Context, host tools.Host, args map[string]any) (string, error) {
	id, err := tools.RequireString(args, "id")
	if err != nil {
		return "", err
	}
	e, ok := host.Panel(panel.ID(id))
	if !ok {
		return "", fmt.Errorf("unknown panel %s", id)
	}
	visible := tools.BoolArg(args, "visible", !e.Visible)
	if err := host.SetPanelVisible(e.ID, visible); err != nil {
		return "", err
	}
	if visible {
		return fmt.Sprintf("Showing %s", id), nil
	}
	return fmt.Sprintf("Hid %s", id), nil
}
