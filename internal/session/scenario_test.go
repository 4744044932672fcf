package session

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxpilot/internal/assembler"
	"ctxpilot/internal/config"
	"ctxpilot/internal/module"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/provider"
	"ctxpilot/internal/world"
)

// Opening a file, editing it through the tool and changing it behind the
// agent's back all end with the panel showing the file as it is on disk.
func TestScenario_EditAndExternalChange(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "main.go", "package main\n")

	assert.Equal(t, "Opened main.go as P1", f.tool(t, "open_file", map[string]any{"path": "main.go"}))
	assert.Equal(t, 1, f.watch.files[path])
	first := f.ready(t, "P1")
	assert.Contains(t, first.Content, "package main")

	out := f.tool(t, "edit_file", map[string]any{
		"path":  "main.go",
		"edits": []any{map[string]any{"old_string": "package main", "new_string": "package app"}},
	})
	assert.Contains(t, out, "1/1 edits applied")
	assert.NotEqual(t, panel.StateReady, f.panel(t, "P1").State, "stale before the next assembly")
	edited := f.ready(t, "P1")
	assert.Contains(t, edited.Content, "package app")
	assert.NotEqual(t, first.Hash, edited.Hash)

	require.NoError(t, os.WriteFile(path, []byte("package external\n"), 0644))
	f.watch.events <- world.Event{Path: path, Op: "modify"}
	f.until(t, "external change", func() bool {
		e := f.panel(t, "P1")
		return e.State == panel.StateReady && strings.Contains(e.Content, "package external")
	})
	assert.Equal(t, 1, f.s.Dispatcher().Stats().Watch)
	changed := f.panel(t, "P1")
	assert.NotEmpty(t, changed.Hash)
	assert.NotEqual(t, edited.Hash, changed.Hash)
	assert.NotEqual(t, first.Hash, changed.Hash)
}

// Two opens of the same file before any fetch completes produce one panel
// and one fetch.
func TestScenario_DuplicateOpenCoalesces(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "package a\n")

	first := f.tool(t, "open_file", map[string]any{"path": "a.go"})
	second := f.tool(t, "open_file", map[string]any{"path": "a.go"})
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.s.Store().Len())
	assert.Equal(t, uint64(1), f.s.Scheduler().Requests())

	f.ready(t, "P1")
	assert.Equal(t, uint64(1), f.s.Pool().Stats().Completed)
}

// A preset that lists a module without its dependency is rejected as a
// whole.
func TestScenario_PresetMissingDependency(t *testing.T) {
	f := newFixture(t, func(c *config.Config, _ *Options) {
		c.Modules.Enabled = []string{"core", "files"}
	})
	f.s.Registry().DefinePreset(module.Preset{Name: "broken", Modules: []string{"core", "files", "vcs-write"}})
	before := f.s.Registry().Order()

	err := f.s.Do(f.ctx, LoadPreset{Name: "broken"})
	var cerr *module.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, before, f.s.Registry().Order())
	assert.False(t, f.s.Registry().IsActive("vcs-write"))
	assert.False(t, f.s.Registry().IsActive("vcs-read"))
	assert.False(t, f.s.Registry().Allowed("git"))
}

// When the panels exceed the budget the lowest-value unpinned panels are
// left out of the prompt while every panel stays open.
func TestScenario_BudgetEviction(t *testing.T) {
	f := newFixture(t, func(c *config.Config, _ *Options) {
		c.Context.Budget = 2500
		c.Context.SystemPrompt = "sys"
		c.Context.Reinjection = ""
	})
	body := strings.Repeat("x", 4000)
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		f.write(t, name, body)
		f.tool(t, "open_file", map[string]any{"path": name})
	}
	for _, id := range []panel.ID{"P1", "P2", "P3"} {
		f.ready(t, id)
	}
	require.NoError(t, f.s.PinPanel("P1", true))

	f.adapter.Push(provider.Script{provider.Text("ok")})
	require.NoError(t, f.s.Do(f.ctx, SubmitMessage{Text: "go"}))
	turn := f.finish(t)
	require.Equal(t, assembler.Done, turn.State())

	report := f.s.LastReport()
	require.NotEmpty(t, report.Evicted)
	assert.NotContains(t, report.Evicted, panel.ID("P1"))
	assert.Contains(t, report.Included, panel.ID("P1"))
	assert.LessOrEqual(t, report.Total, 2500)
	assert.Len(t, f.adapter.Prompts()[0].Panels, len(report.Included))
	assert.Equal(t, 3, f.s.Store().Len())
	for _, id := range report.Evicted {
		assert.Equal(t, panel.StateReady, f.panel(t, id).State, "%s stays in the store", id)
		assert.True(t, f.panel(t, id).Visible, "%s stays open", id)
	}

	// Raising an evicted panel's priority brings it back next turn.
	back := report.Evicted[0]
	require.True(t, f.s.Store().SetPriority(back, 100))
	f.adapter.Push(provider.Script{provider.Text("again")})
	require.NoError(t, f.s.Do(f.ctx, SubmitMessage{Text: "more"}))
	require.Equal(t, assembler.Done, f.finish(t).State())

	next := f.s.LastReport()
	assert.Contains(t, next.Included, back)
	assert.NotContains(t, next.Evicted, back)
	assert.Contains(t, next.Included, panel.ID("P1"))
	assert.LessOrEqual(t, next.Total, 2500)
}

// A pinned panel larger than the whole budget fails the turn instead of
// sending an oversized prompt.
func TestScenario_BudgetExceededByPinned(t *testing.T) {
	f := newFixture(t, func(c *config.Config, _ *Options) {
		c.Context.Budget = 500
		c.Context.SystemPrompt = "sys"
		c.Context.Reinjection = ""
	})
	f.write(t, "big.txt", strings.Repeat("y", 8000))
	f.tool(t, "open_file", map[string]any{"path": "big.txt"})
	f.ready(t, "P1")
	require.NoError(t, f.s.PinPanel("P1", true))

	require.NoError(t, f.s.Do(f.ctx, SubmitMessage{Text: "go"}))
	turn := f.finish(t)
	assert.Equal(t, assembler.Failed, turn.State())
	var berr *assembler.BudgetError
	assert.True(t, errors.As(turn.Err(), &berr))
	assert.Empty(t, f.adapter.Prompts())
	assert.Equal(t, 1, f.s.Store().Len())
}

// A mutating git command refreshes git status at once, long before its
// timer is due.
func TestScenario_MutatingCommandRefreshesStatus(t *testing.T) {
	f := newFixture(t, func(c *config.Config, _ *Options) { c.Refresh.GitStatus = "30s" })

	f.tool(t, "git_status", nil)
	assert.Contains(t, f.ready(t, "P1").Content, "M main.go")
	require.Equal(t, 1, f.git.count("status"))

	f.tool(t, "git", map[string]any{"command": "log --oneline -1"})
	assert.Equal(t, panel.StateReady, f.panel(t, "P1").State, "read-only commands change nothing")

	f.tool(t, "git", map[string]any{"command": "checkout -b feature"})
	assert.NotEqual(t, panel.StateReady, f.panel(t, "P1").State)
	f.ready(t, "P1")
	assert.Equal(t, 2, f.git.count("status"))
	assert.Equal(t, 1, f.s.Dispatcher().Stats().Command)
	assert.Zero(t, f.s.Dispatcher().Stats().Timer)
}

// A change on disk to an open file and a mutating git command both show up
// in the notifications panel until the agent marks them processed.
func TestScenario_NotificationsFromSignals(t *testing.T) {
	f := newFixture(t, func(c *config.Config, _ *Options) {
		c.Modules.Enabled = append(c.Modules.Enabled, "notifications")
	})
	path := f.write(t, "main.go", "package main\n")
	f.tool(t, "open_file", map[string]any{"path": "main.go"})
	f.ready(t, "P1")

	require.NoError(t, os.WriteFile(path, []byte("package other\n"), 0644))
	f.watch.events <- world.Event{Path: path, Op: "modify"}
	f.until(t, "notification panel", func() bool {
		for _, e := range f.s.Store().ByKind(panel.KindNotifications) {
			if e.State == panel.StateReady && strings.Contains(e.Content, "[N1] file changed: main.go") {
				return true
			}
		}
		return false
	})

	f.tool(t, "git", map[string]any{"command": "checkout -b feature"})
	notes := f.s.Store().ByKind(panel.KindNotifications)
	require.Len(t, notes, 1)
	id := notes[0].ID
	f.until(t, "command notification", func() bool {
		e := f.panel(t, id)
		return e.State == panel.StateReady && strings.Contains(e.Content, "[N2] mutating command finished: git")
	})

	assert.Equal(t, "Marked notification N1 as processed", f.tool(t, "notification_mark_processed", map[string]any{"id": "N1"}))
	f.until(t, "processed", func() bool {
		e := f.panel(t, id)
		return e.State == panel.StateReady && !strings.Contains(e.Content, "N1")
	})
}
