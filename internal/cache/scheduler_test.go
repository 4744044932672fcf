package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxpilot/internal/panel"
)

type stubFactory struct {
	text  atomic.Value
	calls atomic.Int32
	gate  chan struct{}
}

func newStubFactory(text string) *stubFactory {
	f := &stubFactory{}
	f.text.Store(text)
	return f
}

func (f *stubFactory) Kind() panel.Kind { return panel.KindFile }
func (f *stubFactory) Subsystem() string { return "fs" }
func (f *stubFactory) Strategy() panel.Strategy { return panel.StrategyWatch }
func (f *stubFactory) DefaultPriority() int { return 5 }
func (f *stubFactory) Title(src string, _ map[string]string) string { return src }

func (f *stubFactory) Prepare(e panel.Element) panel.FetchFunc {
	text := f.text.Load().(string)
	gate := f.gate
	return func(ctx context.Context) (panel.Content, error) {
		f.calls.Add(1)
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return panel.Content{}, ctx.Err()
			}
		}
		return panel.Content{Text: text}, nil
	}
}

type rejectingPool struct{ updates chan Update }

func (r *rejectingPool) Submit(Request) error { return ErrQueueFull }
func (r *rejectingPool) Updates() <-chan Update { return r.updates }

func newTestScheduler(t *testing.T, f panel.Factory) (*Scheduler, *panel.Store, *Pool) {
	t.Helper()
	store := panel.NewStore()
	pool := startPool(t, PoolConfig{Workers: 2, FetchTimeout: 5 * time.Second})
	sched := NewScheduler(store, pool, func(panel.Element) (panel.Factory, bool) { return f, true })
	return sched, store, pool
}

// drainUntil pumps updates until n have been applied.
func drainUntil(t *testing.T, s *Scheduler, p *Pool, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	total := 0
	for total < n {
		applied, _ := s.Drain()
		total += applied
		if total >= n {
			return
		}
		select {
		case <-p.Wake():
		case <-deadline:
			t.Fatalf("applied %d of %d updates", total, n)
		}
	}
}

func TestScheduler_RequestAndDrain(t *testing.T) {
	f := newStubFactory("hello")
	sched, store, pool := newTestScheduler(t, f)

	id := store.CreateFrom(f, "files", "a.txt", nil)
	require.True(t, sched.Request(id))
	e, _ := store.Get(id)
	assert.Equal(t, panel.StateLoading, e.State)

	drainUntil(t, sched, pool, 1)
	e, _ = store.Get(id)
	assert.Equal(t, panel.StateReady, e.State)
	assert.Equal(t, "hello", e.Content)
}

func TestScheduler_CoalescesWhileLoading(t *testing.T) {
	f := newStubFactory("x")
	f.gate = make(chan struct{})
	sched, store, pool := newTestScheduler(t, f)

	id := store.CreateFrom(f, "files", "a.txt", nil)
	assert.True(t, sched.Request(id))
	assert.False(t, sched.Request(id))
	assert.False(t, sched.Request(id))
	assert.Equal(t, uint64(1), sched.Requests())

	close(f.gate)
	drainUntil(t, sched, pool, 1)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestScheduler_InvalidateDuringLoadingRefetchesOnce(t *testing.T) {
	f := newStubFactory("v1")
	f.gate = make(chan struct{})
	sched, store, pool := newTestScheduler(t, f)

	id := store.CreateFrom(f, "files", "a.txt", nil)
	sched.Request(id)
	assert.False(t, sched.Invalidate(id), "invalidation while loading is deferred")
	assert.False(t, sched.Invalidate(id))

	f.text.Store("v2")
	close(f.gate)
	drainUntil(t, sched, pool, 2)

	e, _ := store.Get(id)
	assert.Equal(t, panel.StateReady, e.State)
	assert.Equal(t, "v2", e.Content)
	assert.Equal(t, uint64(2), sched.Requests())
}

func TestScheduler_ClosedElementUpdateDiscarded(t *testing.T) {
	f := newStubFactory("x")
	f.gate = make(chan struct{})
	sched, store, pool := newTestScheduler(t, f)

	id := store.CreateFrom(f, "files", "a.txt", nil)
	sched.Request(id)
	store.Close(id)
	close(f.gate)
	drainUntil(t, sched, pool, 1)

	_, ok := store.Get(id)
	assert.False(t, ok)
}

func TestScheduler_HiddenElementsAreNotFetched(t *testing.T) {
	f := newStubFactory("x")
	sched, store, _ := newTestScheduler(t, f)

	id := store.CreateFrom(f, "files", "a.txt", nil)
	store.SetVisible(id, false)
	assert.False(t, sched.Request(id))
	assert.Zero(t, sched.Requests())
}

func TestScheduler_SubmitFailureMarksError(t *testing.T) {
	store := panel.NewStore()
	f := newStubFactory("x")
	sched := NewScheduler(store, &rejectingPool{updates: make(chan Update)}, func(panel.Element) (panel.Factory, bool) { return f, true })

	id := store.CreateFrom(f, "files", "a.txt", nil)
	assert.False(t, sched.Request(id))
	e, _ := store.Get(id)
	assert.Equal(t, panel.StateError, e.State)
	assert.Contains(t, e.Err, ErrQueueFull.Error())

	n, _ := sched.Drain()
	assert.Zero(t, n)
}
