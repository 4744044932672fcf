package terminal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxpilot/internal/modules/modtest"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/tactile"
)

type fakeTmux struct {
	calls  [][]string
	screen string
}

func (f *fakeTmux) Execute(_ context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	f.calls = append(f.calls, cmd.Arguments)
	switch cmd.Arguments[0] {
	case "split-window":
		return &tactile.ExecutionResult{Stdout: "%7\n"}, nil
	case "capture-pane":
		return &tactile.ExecutionResult{Stdout: f.screen}, nil
	}
	return &tactile.ExecutionResult{}, nil
}

func TestOpen_NewPaneAndCapture(t *testing.T) {
	ctx := context.Background()
	fake := &fakeTmux{screen: "$ make\nok\n$\n"}
	m := New(fake)
	h := modtest.New(t.TempDir(), m.PanelFactories()...)

	out, err := h.Call(ctx, m.openTool(), map[string]any{"lines": 20, "description": "build"})
	require.NoError(t, err)
	assert.Equal(t, "Watching pane %7 as P1", out)

	e, err := h.Fetch(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "tmux %7 build", e.Title)
	assert.Equal(t, panel.StrategyTimer, e.Strategy)
	assert.Equal(t, "$ make\nok\n$", e.Content)
	assert.Equal(t, tactile.TailHash("$ make\nok\n$", tactile.HashTailLines), e.Hash)
	assert.Contains(t, fake.calls[1], "-20")
}

func TestCapture_ScrollingOnlyKeepsHash(t *testing.T) {
	ctx := context.Background()
	fake := &fakeTmux{screen: "line1\nline2\nline3\n"}
	m := New(fake)
	h := modtest.New(t.TempDir(), m.PanelFactories()...)
	id, err := h.OpenPanel(ID, panel.KindTmux, "%1", nil)
	require.NoError(t, err)

	first, err := h.Fetch(ctx, id)
	require.NoError(t, err)
	h.Store.ClearDirty()

	fake.screen = "line0\nline2\nline3\n"
	require.NoError(t, h.RefreshPanel(id))
	second, err := h.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.Hash)
	assert.False(t, h.Store.Dirty(), "same tail lines, no redraw")
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	fake := &fakeTmux{}
	m := New(fake)
	h := modtest.New(t.TempDir(), m.PanelFactories()...)

	out, err := h.Call(ctx, m.sendTool(), map[string]any{"pane": "%1", "keys": "go test ./..."})
	require.NoError(t, err)
	assert.Equal(t, `Sent "go test ./..." to %1`, out)
	assert.Equal(t, []string{"send-keys", "-t", "%1", "go test ./...", "Enter"}, fake.calls[0])
	assert.Equal(t, []modtest.CommandEvent{{Subsystem: Subsystem, Mutating: true}}, h.Commands)

	_, err = h.Call(ctx, m.sendTool(), map[string]any{"keys": "x"})
	assert.Error(t, err)
}
