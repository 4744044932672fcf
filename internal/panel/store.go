package panel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"ctxpilot/internal/logging"
	"ctxpilot/internal/tokens"
)

// Store is the single-writer element registry. It is owned by the main loop
// and holds no locks; workers never see it.
type Store struct {
	elements map[ID]*Element
	order    []ID
	nextID   uint64
	nextReq  uint64
	dirty    bool
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		elements: make(map[ID]*Element),
		now:      time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Now returns the store's current time.
func (s *Store) Now() time.Time { return s.now() }

// Create adds a new Empty element of the given kind.
func (s *Store) Create(kind Kind, strategy Strategy) ID {
	s.nextID++
	id := ID("P" + strconv.FormatUint(s.nextID, 10))
	now := s.now()
	s.elements[id] = &Element{
		ID:       id,
		Kind:     kind,
		State:    StateEmpty,
		Strategy: strategy,
		Visible:  true,
		Seq:      s.nextID,
		Created:  now,
	}
	s.order = append(s.order, id)
	s.dirty = true
	logging.StoreDebug("created %s kind=%s strategy=%s", id, kind, strategy)
	return id
}

// CreateFrom creates an element described by a factory.
func (s *Store) CreateFrom(f Factory, module, source string, params map[string]string) ID {
	id := s.Create(f.Kind(), f.Strategy())
	e := s.elements[id]
	e.Module = module
	e.Subsystem = f.Subsystem()
	e.Priority = f.DefaultPriority()
	e.Source = source
	e.Params = maps.Clone(params)
	e.Title = f.Title(source, params)
	return id
}

// Restore re-inserts a previously persisted element, keeping its id. Restored
// elements start Empty so their content is fetched again.
func (s *Store) Restore(e Element) error {
	if _, exists := s.elements[e.ID]; exists {
		return fmt.Errorf("element %s already exists", e.ID)
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(string(e.ID), "P"), 10, 64)
	if err != nil || !strings.HasPrefix(string(e.ID), "P") {
		return fmt.Errorf("invalid element id %q", e.ID)
	}
	if n > s.nextID {
		s.nextID = n
	}
	e.State = StateEmpty
	e.Content, e.Hash, e.Err, e.Tokens, e.InFlight = "", "", "", 0, 0
	e.refetch = false
	e.Params = maps.Clone(e.Params)
	if e.Created.IsZero() {
		e.Created = s.now()
	}
	s.elements[e.ID] = &e
	s.insertOrdered(e.ID, e.Seq)
	s.dirty = true
	return nil
}

func (s *Store) insertOrdered(id ID, seq uint64) {
	i := len(s.order)
	for i > 0 && s.elements[s.order[i-1]].Seq > seq {
		i--
	}
	s.order = append(s.order, "")
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = id
}

// Get returns a copy of the element. It never blocks.
func (s *Store) Get(id ID) (Element, bool) {
	e, ok := s.elements[id]
	if !ok {
		return Element{}, false
	}
	return e.snapshot(), true
}

func (e *Element) snapshot() Element {
	c := *e
	c.Params = maps.Clone(e.Params)
	return c
}

// Len returns the number of elements.
func (s *Store) Len() int { return len(s.elements) }

// List returns all elements in creation order.
func (s *Store) List() []Element {
	out := make([]Element, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.elements[id].snapshot())
	}
	return out
}

// ByKind returns elements of one kind in creation order.
func (s *Store) ByKind(kind Kind) []Element {
	var out []Element
	for _, id := range s.order {
		if e := s.elements[id]; e.Kind == kind {
			out = append(out, e.snapshot())
		}
	}
	return out
}

// BySubsystem returns elements of one subsystem in creation order.
func (s *Store) BySubsystem(subsystem string) []Element {
	var out []Element
	for _, id := range s.order {
		if e := s.elements[id]; e.Subsystem == subsystem {
			out = append(out, e.snapshot())
		}
	}
	return out
}

// ByModule returns elements owned by one module.
func (s *Store) ByModule(module string) []Element {
	var out []Element
	for _, id := range s.order {
		if e := s.elements[id]; e.Module == module {
			out = append(out, e.snapshot())
		}
	}
	return out
}

// BySource finds an element of the given kind and source.
func (s *Store) BySource(kind Kind, source string) (Element, bool) {
	for _, id := range s.order {
		if e := s.elements[id]; e.Kind == kind && e.Source == source {
			return e.snapshot(), true
		}
	}
	return Element{}, false
}

// BeginFetch is the coalescing gate. It fails when the element is unknown or
// already Loading; otherwise the element becomes Loading and the returned
// sequence number identifies the request.
func (s *Store) BeginFetch(id ID) (uint64, bool) {
	e, ok := s.elements[id]
	if !ok || e.State == StateLoading {
		return 0, false
	}
	s.nextReq++
	e.lastState = e.State
	if e.State == StateEmpty || e.State == StateError {
		s.dirty = true
	}
	e.State = StateLoading
	e.InFlight = s.nextReq
	logging.StoreDebug("%s loading seq=%d (was %s)", id, e.InFlight, e.lastState)
	return e.InFlight, true
}

// ApplyUpdate applies a worker result. Updates for unknown elements or with a
// superseded sequence number are discarded.
func (s *Store) ApplyUpdate(u Update) ApplyResult {
	e, ok := s.elements[u.ID]
	if !ok || e.State != StateLoading || u.Seq != e.InFlight {
		logging.StoreDebug("discarded update %s seq=%d", u.ID, u.Seq)
		return ApplyResult{Discarded: true}
	}

	res := ApplyResult{}
	e.InFlight = 0
	if u.Err != nil {
		res.Dirty = e.lastState != StateError || e.Err != u.Err.Error()
		e.State = StateError
		e.Err = u.Err.Error()
		logging.Get(logging.CategoryStore).Warn("%s fetch failed: %v", e.ID, u.Err)
	} else {
		hash := u.Hash
		if hash == "" {
			hash = HashContent(u.Text)
		}
		settled := e.lastState == StateReady || e.lastState == StateStale
		res.Dirty = hash != e.Hash || !settled
		e.State = StateReady
		e.Content = u.Text
		e.Hash = hash
		e.Err = ""
		e.Tokens = tokens.Estimate(u.Text)
		e.Freshness = u.At
		if e.Freshness.IsZero() {
			e.Freshness = s.now()
		}
	}

	if e.refetch {
		e.refetch = false
		e.State = StateStale
		res.Refetch = true
	}
	if res.Dirty {
		s.dirty = true
	}
	logging.StoreDebug("%s -> %s dirty=%v refetch=%v", e.ID, e.State, res.Dirty, res.Refetch)
	return res
}

// MarkStale invalidates an element and reports whether it should be
// re-requested now. An element that is Loading records a pending refetch
// instead, so that at most one request is ever in flight.
func (s *Store) MarkStale(id ID) bool {
	e, ok := s.elements[id]
	if !ok {
		return false
	}
	switch e.State {
	case StateLoading:
		e.refetch = true
		return false
	case StateEmpty:
		return true
	default:
		e.State = StateStale
		return true
	}
}

// PendingRefetch reports whether an invalidation arrived during the current fetch.
func (s *Store) PendingRefetch(id ID) bool {
	e, ok := s.elements[id]
	return ok && e.refetch
}

// Close destroys an element. A late update for it is discarded.
func (s *Store) Close(id ID) bool {
	if _, ok := s.elements[id]; !ok {
		return false
	}
	delete(s.elements, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.dirty = true
	logging.StoreDebug("closed %s", id)
	return true
}

// SetVisible opens or closes an element in the view.
func (s *Store) SetVisible(id ID, visible bool) bool {
	e, ok := s.elements[id]
	if !ok {
		return false
	}
	if e.Visible != visible {
		e.Visible = visible
		s.dirty = true
	}
	return true
}

// SetPinned marks an element as exempt from eviction.
func (s *Store) SetPinned(id ID, pinned bool) bool {
	e, ok := s.elements[id]
	if !ok {
		return false
	}
	e.Pinned = pinned
	return true
}

// SetPriority changes the declared priority of an element.
func (s *Store) SetPriority(id ID, priority int) bool {
	e, ok := s.elements[id]
	if !ok {
		return false
	}
	e.Priority = priority
	return true
}

// SetParam changes one element parameter.
func (s *Store) SetParam(id ID, key, value string) bool {
	e, ok := s.elements[id]
	if !ok {
		return false
	}
	if e.Params == nil {
		e.Params = make(map[string]string)
	}
	e.Params[key] = value
	return true
}

// Dirty reports whether anything visible changed since ClearDirty.
func (s *Store) Dirty() bool { return s.dirty }

// ClearDirty resets the dirty flag after a render.
func (s *Store) ClearDirty() { s.dirty = false }

// MarkDirty forces a re-render.
func (s *Store) MarkDirty() { s.dirty = true }

// HashContent returns the content hash used for change detection.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}
