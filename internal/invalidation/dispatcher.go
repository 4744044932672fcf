// Package invalidation routes external signals (filesystem changes, timer
// ticks, completed mutating commands) into staleness markings and refetch
// requests. It never produces content itself.
package invalidation

import (
	"path/filepath"
	"strings"
	"time"

	"ctxpilot/internal/logging"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/world"
)

// Invalidator marks an element stale and requests a refetch.
// *cache.Scheduler implements it.
type Invalidator interface {
	Invalidate(id panel.ID) bool
}

// Watch is the part of world.Watcher the dispatcher uses.
type Watch interface {
	Events() <-chan world.Event
	WatchFile(path string) error
	UnwatchFile(path string)
	WatchDir(root string) error
	UnwatchDir(root string)
}

// Stats counts invalidations per signal class.
type Stats struct {
	Watch   int
	Timer   int
	Command int
	Manual  int
}

// SignalClass names where a Signal came from.
type SignalClass string

const (
	SignalWatch   SignalClass = "watch"
	SignalCommand SignalClass = "command"
)

// Signal describes an external change that invalidated tracked elements.
// Watch signals carry the changed path; command signals the subsystem.
type Signal struct {
	Class     SignalClass
	Path      string
	Dir       bool
	Subsystem string
	// Invalidated is the number of elements the signal marked stale.
	Invalidated int
}

type registration struct {
	path string
	dir  bool
}

// Dispatcher is owned by the main loop.
type Dispatcher struct {
	store     *panel.Store
	inv       Invalidator
	watch     Watch
	intervals map[panel.Kind]time.Duration

	due     map[panel.ID]time.Time
	watched map[panel.ID]registration
	now     func() time.Time
	stats   Stats
	observe func(Signal)
}

// New creates a dispatcher. watch may be nil, which disables watch-driven
// invalidation. intervals maps panel kinds to timer periods.
func New(store *panel.Store, inv Invalidator, watch Watch, intervals map[panel.Kind]time.Duration) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		inv:       inv,
		watch:     watch,
		intervals: make(map[panel.Kind]time.Duration, len(intervals)),
		due:       make(map[panel.ID]time.Time),
		watched:   make(map[panel.ID]registration),
		now:       store.Now,
	}
	for k, v := range intervals {
		if v > 0 {
			d.intervals[k] = v
		}
	}
	return d
}

// IntervalsFromConfig converts config refresh intervals keyed by kind name.
func IntervalsFromConfig(m map[string]time.Duration) map[panel.Kind]time.Duration {
	out := make(map[panel.Kind]time.Duration, len(m))
	for k, v := range m {
		out[panel.Kind(k)] = v
	}
	return out
}

// Observe installs fn to be called after a watch event invalidated
// elements and after every mutating command. It runs on the main loop.
func (d *Dispatcher) Observe(fn func(Signal)) { d.observe = fn }

func (d *Dispatcher) emit(sig Signal) {
	if d.observe != nil {
		d.observe(sig)
	}
}

// Stats returns invalidation counters.
func (d *Dispatcher) Stats() Stats { return d.stats }

// Track starts routing signals for an element according to its strategy.
func (d *Dispatcher) Track(e panel.Element) {
	switch e.Strategy {
	case panel.StrategyTimer:
		if iv, ok := d.intervals[e.Kind]; ok {
			d.due[e.ID] = d.now().Add(iv)
		}
	case panel.StrategyWatch:
		if d.watch == nil || e.Source == "" {
			return
		}
		if _, ok := d.watched[e.ID]; ok {
			return
		}
		reg := registration{path: filepath.Clean(e.Source), dir: e.Kind != panel.KindFile}
		var err error
		if reg.dir {
			err = d.watch.WatchDir(reg.path)
		} else {
			err = d.watch.WatchFile(reg.path)
		}
		if err != nil {
			logging.WatchError("cannot watch %s for %s: %v", reg.path, e.ID, err)
			return
		}
		d.watched[e.ID] = reg
	}
}

// Untrack stops routing signals for an element.
func (d *Dispatcher) Untrack(id panel.ID) {
	delete(d.due, id)
	reg, ok := d.watched[id]
	if !ok {
		return
	}
	delete(d.watched, id)
	if d.watch == nil {
		return
	}
	if reg.dir {
		d.watch.UnwatchDir(reg.path)
	} else {
		d.watch.UnwatchFile(reg.path)
	}
}

// Drain handles every pending watch event and due timer without blocking.
// It returns the number of invalidations issued.
func (d *Dispatcher) Drain() int {
	n := 0
	if d.watch != nil {
	loop:
		for {
			select {
			case ev := <-d.watch.Events():
				n += d.handleWatch(ev)
			default:
				break loop
			}
		}
	}
	return n + d.Tick(d.now())
}

func (d *Dispatcher) handleWatch(ev world.Event) int {
	n := 0
	for id, reg := range d.watched {
		hit := false
		if ev.Dir {
			hit = reg.dir && within(ev.Path, reg.path)
		} else {
			hit = !reg.dir && reg.path == ev.Path
		}
		if hit && d.invalidate(id) {
			n++
		}
	}
	if n > 0 {
		d.stats.Watch += n
		logging.WatchDebug("%s change at %s invalidated %d elements", kindOf(ev), ev.Path, n)
		d.emit(Signal{Class: SignalWatch, Path: ev.Path, Dir: ev.Dir, Invalidated: n})
	}
	return n
}

func kindOf(ev world.Event) string {
	if ev.Dir {
		return "directory"
	}
	return "file"
}

// Tick invalidates every timer-driven element whose interval elapsed,
// unconditionally, and schedules its next tick.
func (d *Dispatcher) Tick(now time.Time) int {
	n := 0
	for id, at := range d.due {
		if now.Before(at) {
			continue
		}
		e, ok := d.store.Get(id)
		if !ok {
			delete(d.due, id)
			continue
		}
		d.due[id] = now.Add(d.intervals[e.Kind])
		if d.invalidate(id) {
			n++
		}
	}
	d.stats.Timer += n
	return n
}

// NextDeadline returns the earliest timer deadline, or zero when none.
func (d *Dispatcher) NextDeadline() time.Time {
	var next time.Time
	for _, at := range d.due {
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	return next
}

// CommandCompleted handles the completion of an external command. A
// mutating command synchronously invalidates every element of the
// subsystem, whatever its own schedule; read-only commands change nothing.
func (d *Dispatcher) CommandCompleted(subsystem string, mutating bool) int {
	if !mutating {
		return 0
	}
	n := 0
	for _, e := range d.store.BySubsystem(subsystem) {
		if d.invalidate(e.ID) {
			n++
		}
		if iv, ok := d.intervals[e.Kind]; ok && e.Strategy == panel.StrategyTimer {
			d.due[e.ID] = d.now().Add(iv)
		}
	}
	d.stats.Command += n
	logging.Watch("mutating %s command invalidated %d elements", subsystem, n)
	d.emit(Signal{Class: SignalCommand, Subsystem: subsystem, Invalidated: n})
	return n
}

// InvalidateSource invalidates elements of kind whose source is path or,
// for directory-like kinds, contains it. Tools call it after writing files
// so the next assembly never sees pre-write content.
func (d *Dispatcher) InvalidateSource(kind panel.Kind, path string) int {
	path = filepath.Clean(path)
	n := 0
	for _, e := range d.store.ByKind(kind) {
		src := filepath.Clean(e.Source)
		if src == path || (kind != panel.KindFile && within(path, src)) {
			if d.invalidate(e.ID) {
				n++
			}
		}
	}
	d.stats.Manual += n
	return n
}

// Refresh is a manual invalidation of one element.
func (d *Dispatcher) Refresh(id panel.ID) bool {
	if d.invalidate(id) {
		d.stats.Manual++
		return true
	}
	return false
}

// invalidate marks id stale and requests it. An element already loading
// records a pending refetch instead; that still counts as handled.
func (d *Dispatcher) invalidate(id panel.ID) bool {
	e, ok := d.store.Get(id)
	if !ok {
		return false
	}
	if e.State == panel.StateLoading {
		d.store.MarkStale(id)
		return true
	}
	d.inv.Invalidate(id)
	return true
}

func within(p, root string) bool {
	if p == root {
		return true
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
