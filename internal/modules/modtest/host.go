// Package modtest provides an in-memory tools.Host for module tests.
package modtest

import (
	"context"
	"fmt"
	"maps"
	"time"

	"ctxpilot/internal/panel"
	"ctxpilot/internal/tools"
)

// CommandEvent records one CommandCompleted call.
type CommandEvent struct {
	Subsystem string
	Mutating  bool
}

// SourceEvent records one InvalidateSource call.
type SourceEvent struct {
	Kind panel.Kind
	Path string
}

// Host implements tools.Host over a real panel store. Fetches run only when
// a test calls Fetch.
type Host struct {
	Root      string
	Store     *panel.Store
	Factories map[panel.Kind]panel.Factory

	Commands    []CommandEvent
	Sources     []SourceEvent
	Refreshed   []panel.ID
	RefreshedBy []panel.Kind
}

var _ tools.Host = (*Host)(nil)

// New creates a host rooted at root serving the given factories.
func New(root string, factories ...panel.Factory) *Host {
	h := &Host{Root: root, Store: panel.NewStore(), Factories: map[panel.Kind]panel.Factory{}}
	for _, f := range factories {
		h.Factories[f.Kind()] = f
	}
	return h
}

func (h *Host) Workspace() string { return h.Root }
func (h *Host) Now() time.Time    { return h.Store.Now() }

func (h *Host) OpenPanel(module string, kind panel.Kind, source string, params map[string]string) (panel.ID, error) {
	f, ok := h.Factories[kind]
	if !ok {
		return "", fmt.Errorf("no factory for %s", kind)
	}
	for _, e := range h.Store.ByKind(kind) {
		if e.Source == source && maps.Equal(e.Params, params) {
			h.Store.SetVisible(e.ID, true)
			return e.ID, nil
		}
	}
	return h.Store.CreateFrom(f, module, source, params), nil
}

func (h *Host) ClosePanel(id panel.ID) error {
	if !h.Store.Close(id) {
		return fmt.Errorf("unknown panel %s", id)
	}
	return nil
}

func (h *Host) RefreshPanel(id panel.ID) error {
	if !h.Store.MarkStale(id) {
		return fmt.Errorf("unknown panel %s", id)
	}
	h.Refreshed = append(h.Refreshed, id)
	return nil
}

func (h *Host) RefreshKind(module string, kind panel.Kind) {
	h.RefreshedBy = append(h.RefreshedBy, kind)
	for _, e := range h.Store.ByKind(kind) {
		if e.Module == module {
			_ = h.RefreshPanel(e.ID)
		}
	}
}

func (h *Host) Panel(id panel.ID) (panel.Element, bool) { return h.Store.Get(id) }
func (h *Host) Panels() []panel.Element                 { return h.Store.List() }

func (h *Host) SetPanelVisible(id panel.ID, visible bool) error {
	if !h.Store.SetVisible(id, visible) {
		return fmt.Errorf("unknown panel %s", id)
	}
	return nil
}

func (h *Host) PinPanel(id panel.ID, pinned bool) error {
	if !h.Store.SetPinned(id, pinned) {
		return fmt.Errorf("unknown panel %s", id)
	}
	return nil
}

func (h *Host) CommandCompleted(subsystem string, mutating bool) {
	h.Commands = append(h.Commands, CommandEvent{subsystem, mutating})
	if mutating {
		for _, e := range h.Store.BySubsystem(subsystem) {
			h.Store.MarkStale(e.ID)
		}
	}
}

func (h *Host) InvalidateSource(kind panel.Kind, path string) {
	h.Sources = append(h.Sources, SourceEvent{kind, path})
}

// Fetch runs the element's fetch synchronously and applies the result.
func (h *Host) Fetch(ctx context.Context, id panel.ID) (panel.Element, error) {
	e, ok := h.Store.Get(id)
	if !ok {
		return panel.Element{}, fmt.Errorf("unknown panel %s", id)
	}
	f, ok := h.Factories[e.Kind]
	if !ok {
		return panel.Element{}, fmt.Errorf("no factory for %s", e.Kind)
	}
	seq, ok := h.Store.BeginFetch(id)
	if !ok {
		return panel.Element{}, fmt.Errorf("%s already loading", id)
	}
	content, err := f.Prepare(e)(ctx)
	h.Store.ApplyUpdate(panel.Update{ID: id, Seq: seq, Text: content.Text, Hash: content.Hash, Err: err})
	got, _ := h.Store.Get(id)
	return got, err
}

// Call executes a tool with required-argument validation, as the registry does.
func (h *Host) Call(ctx context.Context, tool *tools.Tool, args map[string]any) (string, error) {
	res, err := tools.ExecuteTool(ctx, h, tool, args)
	if res == nil {
		return "", err
	}
	return res.Result, err
}
