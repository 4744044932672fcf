// Package usage accounts for the tokens a workspace sends to and receives
// from the model, persisted as JSON next to the rest of the workspace state.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the usage file inside the state directory.
const FileName = "usage.json"

// Tracker records usage events. It is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	data  Data
	path  string
	dirty bool
	now   func() time.Time
}

// NewTracker creates a tracker backed by dir/usage.json, loading what is
// already there. A corrupt file is reported and replaced on the next save.
func NewTracker(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create usage dir: %w", err)
	}
	t := &Tracker{path: filepath.Join(dir, FileName), data: newData(), now: time.Now}
	if err := t.load(); err != nil {
		return t, err
	}
	return t, nil
}

// NewMemory creates a tracker that is never written to disk.
func NewMemory() *Tracker {
	return &Tracker{data: newData(), now: time.Now}
}

func newData() Data {
	return Data{
		Version: "1",
		Aggregate: AggregatedStats{
			ByProvider:  make(map[string]TokenCounts),
			ByModel:     make(map[string]TokenCounts),
			ByOperation: make(map[string]TokenCounts),
			BySession:   make(map[string]TokenCounts),
		},
	}
}

func (t *Tracker) load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	raw, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("failed to parse %s: %w", t.path, err)
	}
	fresh := newData()
	for _, m := range []struct {
		dst *map[string]TokenCounts
		src map[string]TokenCounts
	}{
		{&fresh.Aggregate.ByProvider, d.Aggregate.ByProvider},
		{&fresh.Aggregate.ByModel, d.Aggregate.ByModel},
		{&fresh.Aggregate.ByOperation, d.Aggregate.ByOperation},
		{&fresh.Aggregate.BySession, d.Aggregate.BySession},
	} {
		if m.src != nil {
			*m.dst = m.src
		}
	}
	fresh.Aggregate.Total = d.Aggregate.Total
	fresh.Updated = d.Updated
	t.data = fresh
	return nil
}

// Path returns the backing file, or "" for a memory tracker.
func (t *Tracker) Path() string { return t.path }

// Track records one event.
func (t *Tracker) Track(ev Event) {
	if ev.Operation == "" {
		ev.Operation = "chat"
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	agg := &t.data.Aggregate
	agg.Total.Add(ev.Input, ev.Output)
	addToMap(agg.ByProvider, ev.Provider, ev.Input, ev.Output)
	if ev.Model != "" {
		addToMap(agg.ByModel, ev.Model, ev.Input, ev.Output)
	}
	addToMap(agg.ByOperation, ev.Operation, ev.Input, ev.Output)
	if ev.SessionID != "" {
		addToMap(agg.BySession, ev.SessionID, ev.Input, ev.Output)
	}
	t.data.Updated = t.now()
	t.dirty = true
}

// Session returns the counts of one session.
func (t *Tracker) Session(id string) TokenCounts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.Aggregate.BySession[id]
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByProvider = copyTokenCountsMap(stats.ByProvider)
	stats.ByModel = copyTokenCountsMap(stats.ByModel)
	stats.ByOperation = copyTokenCountsMap(stats.ByOperation)
	stats.BySession = copyTokenCountsMap(stats.BySession)
	return stats
}

// Save writes pending changes to disk. It is a no-op for memory trackers
// and when nothing changed.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.path == "" || !t.dirty {
		return nil
	}
	raw, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

func copyTokenCountsMap(src map[string]TokenCounts) map[string]TokenCounts {
	dst := make(map[string]TokenCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int) {
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}
