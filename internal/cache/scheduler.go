package cache

import (
	"ctxpilot/internal/logging"
	"ctxpilot/internal/panel"
)

// Submitter is the part of Pool the scheduler needs.
type Submitter interface {
	Submit(Request) error
	Updates() <-chan Update
}

// FactoryLookup resolves the factory that owns an element.
type FactoryLookup func(e panel.Element) (panel.Factory, bool)

// Scheduler connects the store and the pool. It runs on the main thread only.
type Scheduler struct {
	store     *panel.Store
	pool      Submitter
	factories FactoryLookup

	requests uint64
}

// NewScheduler creates a scheduler.
func NewScheduler(store *panel.Store, pool Submitter, factories FactoryLookup) *Scheduler {
	return &Scheduler{store: store, pool: pool, factories: factories}
}

// Requests returns how many requests were enqueued in total.
func (s *Scheduler) Requests() uint64 { return s.requests }

// Request enqueues a fetch for id unless one is already in flight. Hidden
// elements are not fetched until they are shown again.
func (s *Scheduler) Request(id panel.ID) bool {
	e, ok := s.store.Get(id)
	if !ok || !e.Visible {
		return false
	}
	f, ok := s.factories(e)
	if !ok {
		logging.CacheWarn("no factory for %s kind=%s", id, e.Kind)
		return false
	}
	seq, ok := s.store.BeginFetch(id)
	if !ok {
		return false
	}
	e.State, e.InFlight = panel.StateLoading, seq

	op := "fetch:" + string(e.Kind)
	req := Request{ID: id, Seq: seq, Op: op, Priority: e.Priority, Fetch: f.Prepare(e)}
	if err := s.pool.Submit(req); err != nil {
		s.store.ApplyUpdate(Update{ID: id, Seq: seq, Err: &FetchError{ID: id, Op: op, Err: err}})
		return false
	}
	s.requests++
	return true
}

// Invalidate marks an element stale and requests a refetch.
func (s *Scheduler) Invalidate(id panel.ID) bool {
	if !s.store.MarkStale(id) {
		return false
	}
	return s.Request(id)
}

// Drain applies every pending update without blocking. It returns the number
// of updates applied and whether any of them changed what is displayed.
func (s *Scheduler) Drain() (int, bool) {
	applied, dirty := 0, false
	for {
		select {
		case u := <-s.pool.Updates():
			if s.Apply(u) {
				dirty = true
			}
			applied++
		default:
			return applied, dirty
		}
	}
}

// Apply applies one update and re-requests the element when an invalidation
// arrived while it was loading.
func (s *Scheduler) Apply(u Update) bool {
	res := s.store.ApplyUpdate(u)
	if res.Refetch {
		s.Request(u.ID)
	}
	return res.Dirty
}
