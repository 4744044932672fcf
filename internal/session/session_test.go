package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ctxpilot/internal/assembler"
	"ctxpilot/internal/config"
	"ctxpilot/internal/history"
	"ctxpilot/internal/modules"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/persist"
	"ctxpilot/internal/provider"
	"ctxpilot/internal/tactile"
	"ctxpilot/internal/tokens"
	"ctxpilot/internal/world"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWatch struct {
	events chan world.Event
	files  map[string]int
	dirs   map[string]int
}

func newFakeWatch() *fakeWatch {
	return &fakeWatch{events: make(chan world.Event, 16), files: map[string]int{}, dirs: map[string]int{}}
}

func (w *fakeWatch) Events() <-chan world.Event { return w.events }
func (w *fakeWatch) WatchFile(p string) error   { w.files[p]++; return nil }
func (w *fakeWatch) UnwatchFile(p string)       { w.files[p]-- }
func (w *fakeWatch) WatchDir(p string) error    { w.dirs[p]++; return nil }
func (w *fakeWatch) UnwatchDir(p string)        { w.dirs[p]-- }

// fakeGit answers git commands by subcommand. Fetches call it from pool
// workers, so it is locked.
type fakeGit struct {
	mu     sync.Mutex
	calls  map[string]int
	output map[string]string
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		calls: map[string]int{},
		output: map[string]string{
			"status":   "## main\n M main.go\n",
			"log":      "abc123 (HEAD -> main) first\n",
			"checkout": "Switched to a new branch 'feature'\n",
		},
	}
}

func (g *fakeGit) Execute(_ context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	args := cmd.Arguments[1:]
	g.calls[args[0]]++
	return &tactile.ExecutionResult{Stdout: g.output[args[0]]}, nil
}

func (g *fakeGit) count(sub string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[sub]
}

type fixture struct {
	ctx     context.Context
	root    string
	s       *Session
	adapter *provider.Scripted
	watch   *fakeWatch
	git     *fakeGit
	views   []View
}

type option func(*config.Config, *Options)

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Watch.Enabled = false
	cfg.Provider.MaxRetries = 0
	cfg.Context.AssemblyWait = "1s"
	cfg.Modules.Enabled = []string{"core", "files", "search", "memory", "scratch", "vcs-read", "vcs-write"}

	f := &fixture{
		ctx:     context.Background(),
		root:    t.TempDir(),
		adapter: provider.NewScripted(),
		watch:   newFakeWatch(),
		git:     newFakeGit(),
	}
	o := Options{
		Workspace: f.root,
		Config:    cfg,
		Adapter:   f.adapter,
		Modules:   modules.Builtin(f.git),
		Watch:     f.watch,
		Renderer:  func(v View) { f.views = append(f.views, v) },
	}
	for _, opt := range opts {
		opt(cfg, &o)
	}

	s, err := New(o)
	require.NoError(t, err)
	require.NoError(t, s.Start(f.ctx))
	t.Cleanup(s.Close)
	f.s = s
	return f
}

// until steps the loop until cond holds.
func (f *fixture) until(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		f.s.Step(f.ctx, 10*time.Millisecond)
	}
}

func (f *fixture) write(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(f.root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func (f *fixture) tool(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	res, err := f.s.InvokeTool(f.ctx, name, args)
	require.NoError(t, err)
	return res.Text()
}

func (f *fixture) panel(t *testing.T, id panel.ID) panel.Element {
	t.Helper()
	e, ok := f.s.Store().Get(id)
	require.True(t, ok, "panel %s", id)
	return e
}

func (f *fixture) ready(t *testing.T, id panel.ID) panel.Element {
	t.Helper()
	f.until(t, string(id)+" ready", func() bool {
		e, ok := f.s.Store().Get(id)
		return ok && e.State == panel.StateReady
	})
	return f.panel(t, id)
}

func (f *fixture) finish(t *testing.T) *assembler.Turn {
	t.Helper()
	f.until(t, "turn end", func() bool { return f.s.ActiveTurn() == nil })
	return f.s.LastTurn()
}

func TestNew_StartupModules(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{"core", "files", "search", "memory", "scratch", "vcs-read", "vcs-write"}, f.s.Registry().Order())
	assert.NotEmpty(t, f.s.ID())
	assert.NotEmpty(t, f.s.Tools())
}

func TestNew_SkipsModulesThatCannotActivate(t *testing.T) {
	f := newFixture(t, func(c *config.Config, _ *Options) {
		c.Modules.Enabled = []string{"vcs-write", "core", "ghost"}
	})
	assert.Equal(t, []string{"core"}, f.s.Registry().Order())
}

func TestNew_StartupPreset(t *testing.T) {
	f := newFixture(t, func(c *config.Config, _ *Options) { c.Modules.Preset = "reader" })
	assert.ElementsMatch(t, []string{"core", "files", "search", "vcs-read"}, f.s.Registry().Order())
}

func TestNew_RequiresWorkspace(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestTurn_SimpleResponse(t *testing.T) {
	f := newFixture(t)
	f.adapter.Push(provider.Script{provider.Text("hel"), provider.Text("lo")})

	require.NoError(t, f.s.Do(f.ctx, SubmitMessage{Text: "hi"}))
	assert.ErrorIs(t, f.s.Do(f.ctx, SubmitMessage{Text: "again"}), ErrTurnActive)

	turn := f.finish(t)
	require.NotNil(t, turn)
	assert.Equal(t, assembler.Done, turn.State())
	assert.Equal(t, 1, turn.Rounds())

	msgs := f.s.Conversation().View()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, history.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Content)

	prompts := f.adapter.Prompts()
	require.Len(t, prompts, 1)
	assert.NotEmpty(t, prompts[0].Tools)
	assert.NotEmpty(t, f.views)

	used := f.s.Usage().Session(f.s.ID())
	assert.Equal(t, int64(1), used.Rounds)
	assert.Equal(t, int64(f.s.LastReport().Total), used.Input)
	assert.Equal(t, int64(tokens.Estimate("hello")), used.Output)
	assert.Equal(t, used, f.s.View().Usage)
	assert.Contains(t, f.s.Usage().Stats().ByProvider, "scripted")
}

func TestTurn_ToolRoundSeesFetchedPanel(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "package a\n")
	f.adapter.Push(
		provider.Script{provider.Call("c1", "open_file", map[string]any{"path": "a.go"})},
		provider.Script{provider.Text("done")},
	)

	require.NoError(t, f.s.Do(f.ctx, SubmitMessage{Text: "read a.go"}))
	turn := f.finish(t)
	assert.Equal(t, assembler.Done, turn.State())
	assert.Equal(t, 2, turn.Rounds())

	msgs := f.s.Conversation().View()
	require.Len(t, msgs, 4)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Contains(t, msgs[2].Content, "Opened a.go as P1")

	prompts := f.adapter.Prompts()
	require.Len(t, prompts, 2)
	require.Len(t, prompts[1].Panels, 1)
	assert.Equal(t, "P1", prompts[1].Panels[0].PanelID)
	assert.Contains(t, prompts[1].Panels[0].Result, "package a")
}

func TestTurn_MaxRoundsEndsTurn(t *testing.T) {
	f := newFixture(t, func(c *config.Config, _ *Options) { c.Context.MaxToolRounds = 1 })
	f.adapter.Push(provider.Script{provider.Call("c1", "list_panels", nil)})

	require.NoError(t, f.s.Do(f.ctx, SubmitMessage{Text: "loop"}))
	turn := f.finish(t)
	assert.Equal(t, assembler.Done, turn.State())
	assert.Len(t, f.adapter.Prompts(), 1)
	assert.Contains(t, f.s.View().Notice, "stopped after 1 tool rounds")
}

func TestTurn_FailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "package a\n")
	f.adapter.Push(
		provider.Script{provider.Call("c1", "open_file", map[string]any{"path": "a.go"})},
		provider.Script{provider.Text("partial"), provider.Fail(errors.New("boom"))},
	)

	require.NoError(t, f.s.Do(f.ctx, SubmitMessage{Text: "read a.go"}))
	turn := f.finish(t)
	assert.Equal(t, assembler.Failed, turn.State())
	assert.ErrorContains(t, turn.Err(), "boom")

	assert.Equal(t, 0, f.s.Conversation().Len())
	assert.Equal(t, 0, f.s.Store().Len(), "panels opened during the turn are closed")
	assert.Equal(t, 0, f.watch.files[filepath.Join(f.root, "a.go")])
	assert.Contains(t, f.s.View().Notice, "turn failed")
	assert.Equal(t, assembler.Failed, f.s.View().Turn)
}

func TestTurn_RollbackRestoresClosedPanelsAndModules(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "package a\n")
	f.tool(t, "open_file", map[string]any{"path": "a.go"})
	f.ready(t, "P1")
	require.NoError(t, f.s.PinPanel("P1", true))

	f.adapter.Push(
		provider.Script{
			provider.Call("c1", "close_panels", map[string]any{"ids": []any{"P1"}}),
			provider.Call("c2", "memory_create", map[string]any{"tl_dr": "temp"}),
		},
	)
	require.NoError(t, f.s.Do(f.ctx, SubmitMessage{Text: "clean up"}))
	f.until(t, "tool round", func() bool { return f.s.Conversation().Len() >= 4 })
	_, open := f.s.Store().Get("P1")
	require.False(t, open)

	require.NoError(t, f.s.Do(f.ctx, CancelTurn{}))
	assert.ErrorIs(t, f.s.LastTurn().Err(), context.Canceled)

	e := f.panel(t, "P1")
	assert.True(t, e.Pinned)
	assert.Equal(t, panel.KindFile, e.Kind)
	assert.Contains(t, f.ready(t, "P1").Content, "package a")
	assert.Equal(t, 1, f.s.Store().Len(), "memory panel from the turn is closed")

	notes := f.noteCount(t)
	assert.Zero(t, notes)
}

func (f *fixture) noteCount(t *testing.T) int {
	t.Helper()
	state, err := f.s.Registry().SaveState()
	require.NoError(t, err)
	data, ok := state["memory"]
	if !ok {
		return 0
	}
	return strings.Count(string(data), `"tl_dr"`)
}

func TestTurn_OpenErrorFails(t *testing.T) {
	f := newFixture(t)
	f.adapter.OpenErr = provider.NewError("scripted", provider.KindAuth, "bad key")

	require.NoError(t, f.s.Do(f.ctx, SubmitMessage{Text: "hi"}))
	turn := f.finish(t)
	assert.Equal(t, assembler.Failed, turn.State())
	var perr *provider.Error
	assert.ErrorAs(t, turn.Err(), &perr)
	assert.Equal(t, 0, f.s.Conversation().Len())
}

func TestCancelTurn(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.s.Do(f.ctx, CancelTurn{}), ErrNoTurn)

	require.NoError(t, f.s.Do(f.ctx, SubmitMessage{Text: "hi"}))
	require.NoError(t, f.s.Do(f.ctx, CancelTurn{}))
	assert.Nil(t, f.s.ActiveTurn())
	assert.Equal(t, assembler.Failed, f.s.LastTurn().State())
	assert.Equal(t, 0, f.s.Conversation().Len())
	assert.Empty(t, f.adapter.Prompts())
}

func TestToggleModule(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "package a\n")
	f.tool(t, "glob", map[string]any{"pattern": "*.go"})
	require.Len(t, f.s.Store().ByModule("search"), 1)

	require.NoError(t, f.s.Do(f.ctx, ToggleModule{ID: "search"}))
	assert.False(t, f.s.Registry().IsActive("search"))
	assert.Empty(t, f.s.Store().ByModule("search"))

	_, err := f.s.InvokeTool(f.ctx, "glob", map[string]any{"pattern": "*.go"})
	assert.ErrorIs(t, err, ErrToolNotAllowed)

	require.NoError(t, f.s.Do(f.ctx, ToggleModule{ID: "search"}))
	assert.True(t, f.s.Registry().IsActive("search"))

	err = f.s.Do(f.ctx, ToggleModule{ID: "vcs-read"})
	assert.Error(t, err, "vcs-write depends on it")
	require.NoError(t, f.s.Do(f.ctx, ToggleModule{ID: "vcs-read", Cascade: true}))
	assert.False(t, f.s.Registry().IsActive("vcs-write"))
}

func TestPresets_SaveAndLoad(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.s.Do(f.ctx, LoadPreset{Name: "reader"}))
	assert.ElementsMatch(t, []string{"core", "files", "search", "vcs-read"}, f.s.Registry().Order())

	require.NoError(t, f.s.Do(f.ctx, ToggleModule{ID: "memory"}))
	require.NoError(t, f.s.Do(f.ctx, SavePreset{Name: "mine"}))
	require.NoError(t, f.s.Do(f.ctx, LoadPreset{Name: "worker"}))
	require.NoError(t, f.s.Do(f.ctx, LoadPreset{Name: "mine"}))
	assert.ElementsMatch(t, []string{"core", "files", "search", "vcs-read", "memory"}, f.s.Registry().Order())

	assert.Error(t, f.s.Do(f.ctx, LoadPreset{Name: "ghost"}))
	assert.Error(t, f.s.Do(f.ctx, SavePreset{}))
}

func TestNewSession(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "package a\n")
	f.tool(t, "open_file", map[string]any{"path": "a.go"})
	f.tool(t, "memory_create", map[string]any{"tl_dr": "keep"})
	f.s.Conversation().AppendUser("hello")
	before := f.s.ID()

	require.NoError(t, f.s.Do(f.ctx, NewSession{}))
	assert.NotEqual(t, before, f.s.ID())
	assert.Equal(t, 0, f.s.Store().Len())
	assert.Equal(t, 0, f.s.Conversation().Len())
	assert.Zero(t, f.noteCount(t))
}

func TestRefreshAndClosePanelCommands(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "package a\n")
	f.tool(t, "open_file", map[string]any{"path": "a.go"})
	f.ready(t, "P1")

	require.NoError(t, f.s.Do(f.ctx, RefreshPanel{ID: "P1"}))
	assert.NotEqual(t, panel.StateReady, f.panel(t, "P1").State)
	f.ready(t, "P1")

	require.NoError(t, f.s.Do(f.ctx, ClosePanel{ID: "P1"}))
	assert.Equal(t, 0, f.s.Store().Len())
	assert.Error(t, f.s.Do(f.ctx, ClosePanel{ID: "P1"}))
	assert.Contains(t, f.s.View().Notice, "close_panel")
}

func TestHiddenPanelFetchedWhenShown(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "package a\n")
	f.tool(t, "open_file", map[string]any{"path": "a.go"})
	f.ready(t, "P1")

	require.NoError(t, f.s.SetPanelVisible("P1", false))
	require.NoError(t, f.s.RefreshPanel("P1"))
	assert.Equal(t, panel.StateStale, f.panel(t, "P1").State, "hidden panels are not fetched")

	requests := f.s.Scheduler().Requests()
	require.NoError(t, f.s.SetPanelVisible("P1", true))
	assert.Equal(t, requests+1, f.s.Scheduler().Requests())
	f.ready(t, "P1")
}

func TestRun_ProcessesSubmittedCommands(t *testing.T) {
	f := newFixture(t, func(_ *config.Config, o *Options) { o.Renderer = nil })
	f.write(t, "a.go", "package a\n")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.s.Run(ctx) }()

	reply := make(chan ToolReply, 1)
	require.NoError(t, f.s.Submit(InvokeTool{Name: "open_file", Args: map[string]any{"path": "a.go"}, Reply: reply}))
	select {
	case r := <-reply:
		require.NoError(t, r.Err)
		assert.Contains(t, r.Result.Text(), "P1")
	case <-time.After(5 * time.Second):
		t.Fatal("no reply")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	_, ok := f.s.Store().Get("P1")
	assert.True(t, ok)
}

func TestSaveAndResume(t *testing.T) {
	db, err := persist.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	withDB := func(_ *config.Config, o *Options) { o.Persist = db }
	f := newFixture(t, withDB)
	f.write(t, "a.go", "package a\n")
	f.tool(t, "open_file", map[string]any{"path": "a.go"})
	f.tool(t, "memory_create", map[string]any{"tl_dr": "remember me"})
	f.adapter.Push(provider.Script{provider.Text("ok")})
	require.NoError(t, f.s.Do(f.ctx, SubmitMessage{Text: "hi"}))
	f.finish(t)

	snaps, err := db.Snapshots(f.ctx, f.root, 10)
	require.NoError(t, err)
	require.NotEmpty(t, snaps, "autosave after the turn")

	g := newFixture(t, withDB, func(_ *config.Config, o *Options) { o.Workspace = f.root })
	require.NoError(t, g.s.Resume(g.ctx))
	assert.Equal(t, f.s.ID(), g.s.ID())
	assert.Equal(t, 2, g.s.Conversation().Len())
	assert.Equal(t, 1, g.noteCount(t))
	assert.Contains(t, g.ready(t, "P1").Content, "package a")
	assert.Equal(t, 2, g.s.Store().Len())
}

func TestRestore_RejectsOtherWorkspace(t *testing.T) {
	f := newFixture(t)
	st, err := f.s.State()
	require.NoError(t, err)
	st.Workspace = "/elsewhere"
	assert.Error(t, f.s.Restore(st))
}

func TestRestore_BadSnapshotKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "package a\n")
	f.tool(t, "open_file", map[string]any{"path": "a.go"})
	f.ready(t, "P1")
	f.tool(t, "memory_create", map[string]any{"tl_dr": "keep me"})
	f.s.Conversation().AppendUser("hello")
	require.NoError(t, f.s.Do(f.ctx, ToggleModule{ID: "scratch"}))

	good, err := f.s.State()
	require.NoError(t, err)
	order := f.s.Registry().Order()
	panels := f.s.Store().Len()

	t.Run("history", func(t *testing.T) {
		st := *good
		st.History = history.State{Messages: good.History.Messages, Detached: 5}
		assert.Error(t, f.s.Restore(&st))
		assert.Equal(t, order, f.s.Registry().Order())
		assert.Equal(t, panels, f.s.Store().Len())
		assert.Equal(t, 1, f.s.Conversation().Len())
	})

	t.Run("duplicate element", func(t *testing.T) {
		st := *good
		st.Elements = append(append([]persist.ElementState(nil), good.Elements...), good.Elements[0])
		assert.Error(t, f.s.Restore(&st))
		assert.Equal(t, panels, f.s.Store().Len())
	})

	t.Run("module state", func(t *testing.T) {
		st := *good
		st.Modules = append(append([]string(nil), order...), "scratch")
		st.ModuleState = map[string][]byte{"memory": []byte("{")}
		st.History = history.State{}
		assert.Error(t, f.s.Restore(&st))

		assert.Equal(t, order, f.s.Registry().Order())
		assert.False(t, f.s.Registry().IsActive("scratch"))
		assert.Equal(t, 1, f.noteCount(t))
		assert.Equal(t, 1, f.s.Conversation().Len())
		assert.Equal(t, panels, f.s.Store().Len())
		assert.Contains(t, f.ready(t, "P1").Content, "package a")
	})
}
