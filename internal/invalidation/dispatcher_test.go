package invalidation

import (
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxpilot/internal/panel"
	"ctxpilot/internal/world"
)

// staleOnly marks elements stale without fetching, so tests can observe
// the Stale state directly.
type staleOnly struct {
	store *panel.Store
	calls []panel.ID
}

func (s *staleOnly) Invalidate(id panel.ID) bool {
	s.calls = append(s.calls, id)
	return s.store.MarkStale(id)
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

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type fixture struct {
	store *panel.Store
	inv   *staleOnly
	watch *fakeWatch
	clock *clock
	d     *Dispatcher
}

func newFixture(intervals map[panel.Kind]time.Duration) *fixture {
	c := &clock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	store := panel.NewStore()
	store.SetClock(c.Now)
	inv := &staleOnly{store: store}
	watch := newFakeWatch()
	return &fixture{store: store, inv: inv, watch: watch, clock: c, d: New(store, inv, watch, intervals)}
}

// readyElement creates a Ready element and starts tracking it.
func (f *fixture) readyElement(t *testing.T, kind panel.Kind, strategy panel.Strategy, subsystem, source string) panel.ID {
	t.Helper()
	id := f.store.Create(kind, strategy)
	e, _ := f.store.Get(id)
	e.Source, e.Subsystem = source, subsystem
	f.store.Close(id)
	require.NoError(t, f.store.Restore(e))
	seq, ok := f.store.BeginFetch(id)
	require.True(t, ok)
	f.store.ApplyUpdate(panel.Update{ID: id, Seq: seq, Text: "v1"})
	got, _ := f.store.Get(id)
	f.d.Track(got)
	return id
}

func (f *fixture) state(id panel.ID) panel.State {
	e, _ := f.store.Get(id)
	return e.State
}

func TestWatch_FileEventInvalidatesMatchingFile(t *testing.T) {
	f := newFixture(nil)
	root := t.TempDir()
	a := f.readyElement(t, panel.KindFile, panel.StrategyWatch, "files", filepath.Join(root, "a.txt"))
	b := f.readyElement(t, panel.KindFile, panel.StrategyWatch, "files", filepath.Join(root, "b.txt"))
	assert.Equal(t, 1, f.watch.files[filepath.Join(root, "a.txt")])

	f.watch.events <- world.Event{Path: filepath.Join(root, "a.txt"), Op: "modify"}
	assert.Equal(t, 1, f.d.Drain())
	assert.Equal(t, panel.StateStale, f.state(a))
	assert.Equal(t, panel.StateReady, f.state(b))
	assert.Equal(t, 1, f.d.Stats().Watch)
}

func TestWatch_DirEventInvalidatesContainingTrees(t *testing.T) {
	f := newFixture(nil)
	root := t.TempDir()
	tree := f.readyElement(t, panel.KindTree, panel.StrategyWatch, "files", root)
	other := f.readyElement(t, panel.KindTree, panel.StrategyWatch, "files", filepath.Join(root, "other"))
	file := f.readyElement(t, panel.KindFile, panel.StrategyWatch, "files", filepath.Join(root, "src"))

	f.watch.events <- world.Event{Path: filepath.Join(root, "src"), Dir: true}
	assert.Equal(t, 1, f.d.Drain())
	assert.Equal(t, panel.StateStale, f.state(tree))
	assert.Equal(t, panel.StateReady, f.state(other))
	assert.Equal(t, panel.StateReady, f.state(file), "file elements ignore directory events")
}

func TestUntrack_ReleasesWatches(t *testing.T) {
	f := newFixture(nil)
	root := t.TempDir()
	id := f.readyElement(t, panel.KindTree, panel.StrategyWatch, "files", root)
	require.Equal(t, 1, f.watch.dirs[root])

	f.d.Untrack(id)
	assert.Zero(t, f.watch.dirs[root])

	f.watch.events <- world.Event{Path: root, Dir: true}
	assert.Zero(t, f.d.Drain())
}

func TestTimer_UnconditionalPerKindIntervals(t *testing.T) {
	f := newFixture(map[panel.Kind]time.Duration{
		panel.KindTmux: time.Second,
		panel.KindGrep: 30 * time.Second,
	})
	pane := f.readyElement(t, panel.KindTmux, panel.StrategyTimer, "tmux", "%1")
	grep := f.readyElement(t, panel.KindGrep, panel.StrategyTimer, "search", "TODO")

	assert.Zero(t, f.d.Drain())
	assert.Equal(t, f.clock.now.Add(time.Second), f.d.NextDeadline())

	f.clock.now = f.clock.now.Add(time.Second)
	assert.Equal(t, 1, f.d.Drain())
	assert.Equal(t, panel.StateStale, f.state(pane))
	assert.Equal(t, panel.StateReady, f.state(grep))

	f.clock.now = f.clock.now.Add(29 * time.Second)
	assert.Equal(t, 2, f.d.Drain())
	assert.Equal(t, panel.StateStale, f.state(grep))
	assert.Equal(t, 3, f.d.Stats().Timer)
}

func TestCommandCompleted_MutatingInvalidatesSubsystemSynchronously(t *testing.T) {
	f := newFixture(map[panel.Kind]time.Duration{panel.KindGitStatus: 30 * time.Second})
	status := f.readyElement(t, panel.KindGitStatus, panel.StrategyTimer, "git", "")
	log := f.readyElement(t, panel.KindGitLog, panel.StrategyCommand, "git", "")
	file := f.readyElement(t, panel.KindFile, panel.StrategyWatch, "files", "/tmp/x")

	assert.Zero(t, f.d.CommandCompleted("git", false), "read-only commands change nothing")
	assert.Equal(t, panel.StateReady, f.state(status))

	f.clock.now = f.clock.now.Add(10 * time.Second)
	assert.Equal(t, 2, f.d.CommandCompleted("git", true))
	assert.Equal(t, panel.StateStale, f.state(status), "stale long before its 30s timer")
	assert.Equal(t, panel.StateStale, f.state(log))
	assert.Equal(t, panel.StateReady, f.state(file))
	assert.Equal(t, f.clock.now.Add(30*time.Second), f.d.NextDeadline(), "timer restarts after the command")
}

func TestObserve_ReportsEffectiveSignals(t *testing.T) {
	f := newFixture(nil)
	root := t.TempDir()
	a := filepath.Join(root, "a.txt")
	f.readyElement(t, panel.KindFile, panel.StrategyWatch, "files", a)
	var got []Signal
	f.d.Observe(func(sig Signal) { got = append(got, sig) })

	f.watch.events <- world.Event{Path: filepath.Join(root, "untracked.txt"), Op: "modify"}
	f.watch.events <- world.Event{Path: a, Op: "modify"}
	f.d.Drain()
	f.d.CommandCompleted("git", false)
	f.d.CommandCompleted("git", true)

	assert.Equal(t, []Signal{
		{Class: SignalWatch, Path: a, Invalidated: 1},
		{Class: SignalCommand, Subsystem: "git"},
	}, got)
}

func TestInvalidate_LoadingRecordsRefetch(t *testing.T) {
	f := newFixture(nil)
	id := f.store.Create(panel.KindGitLog, panel.StrategyCommand)
	e, _ := f.store.Get(id)
	e.Subsystem = "git"
	f.store.Close(id)
	require.NoError(t, f.store.Restore(e))
	_, ok := f.store.BeginFetch(id)
	require.True(t, ok)

	assert.Equal(t, 1, f.d.CommandCompleted("git", true))
	assert.Empty(t, f.inv.calls, "no second request while loading")
	assert.True(t, f.store.PendingRefetch(id))
}

func TestInvalidateSource(t *testing.T) {
	f := newFixture(nil)
	root := t.TempDir()
	file := f.readyElement(t, panel.KindFile, panel.StrategyWatch, "files", filepath.Join(root, "a.txt"))
	grepAll := f.readyElement(t, panel.KindGrep, panel.StrategyTimer, "search", root)
	grepElse := f.readyElement(t, panel.KindGrep, panel.StrategyTimer, "search", "/elsewhere")

	assert.Equal(t, 1, f.d.InvalidateSource(panel.KindFile, filepath.Join(root, "a.txt")))
	assert.Equal(t, 1, f.d.InvalidateSource(panel.KindGrep, filepath.Join(root, "a.txt")))
	assert.Equal(t, panel.StateStale, f.state(file))
	assert.Equal(t, panel.StateStale, f.state(grepAll))
	assert.Equal(t, panel.StateReady, f.state(grepElse))

	sorted := append([]panel.ID(nil), f.inv.calls...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	assert.Equal(t, []panel.ID{file, grepAll}, sorted)
	assert.True(t, f.d.Refresh(grepElse))
	assert.False(t, f.d.Refresh("P99"))
}
