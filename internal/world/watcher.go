package world

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ctxpilot/internal/logging"
)

// Event reports a change to a watched file or directory.
type Event struct {
	Path string // absolute, cleaned
	Dir  bool   // batched directory change
	Op   string // create, modify, delete, rename (file events only)
}

// WatcherStats tracks watcher activity.
type WatcherStats struct {
	FileEvents    int
	DirBatches    int
	Dropped       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// Watcher turns fsnotify notifications into file and directory events.
// File events are emitted as they arrive; directory events are batched for
// dirBatch so that a burst of changes produces one event per directory.
// The watcher never touches panel state; consumers drain Events.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	files    map[string]int // watched file -> refcount
	dirs     map[string]int // recursively watched root -> refcount
	added    map[string]int // directory registered with fsnotify -> refcount
	pending  map[string]time.Time
	dirBatch time.Duration
	events   chan Event
	wake     chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	stats    WatcherStats
	ignore   *Ignore
}

// NewWatcher creates a watcher. Recursive watches skip paths matched by
// ignore; nil uses the default patterns. Call Start to begin delivering
// events.
func NewWatcher(dirBatch time.Duration, ignore *Ignore) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if dirBatch <= 0 {
		dirBatch = 250 * time.Millisecond
	}
	return &Watcher{
		watcher:  fw,
		files:    make(map[string]int),
		dirs:     make(map[string]int),
		added:    make(map[string]int),
		pending:  make(map[string]time.Time),
		dirBatch: dirBatch,
		events:   make(chan Event, 1024),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		ignore:   ignore,
	}, nil
}

// Events returns the channel of file and directory events.
func (w *Watcher) Events() <-chan Event { return w.events }

// Wake fires (coalesced) when events are available.
func (w *Watcher) Wake() <-chan struct{} { return w.wake }

// Stats returns a copy of the watcher counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Start begins processing notifications. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil // Already running
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
	logging.Watch("watcher started (dir batch %v)", w.dirBatch)
	return nil
}

// Stop stops the watcher and waits for cleanup.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		logging.WatchError("error closing watcher: %v", err)
	}
	logging.Watch("watcher stopped")
}

// WatchFile reports changes of a single file. The parent directory is
// watched so that editors which replace files on save are seen.
func (w *Watcher) WatchFile(p string) error {
	p = clean(p)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.addLocked(filepath.Dir(p)); err != nil {
		return err
	}
	w.files[p]++
	return nil
}

// UnwatchFile drops one reference to a watched file.
func (w *Watcher) UnwatchFile(p string) {
	p = clean(p)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[p] == 0 {
		return
	}
	w.files[p]--
	if w.files[p] == 0 {
		delete(w.files, p)
	}
	w.removeLocked(filepath.Dir(p))
}

// WatchDir reports batched changes anywhere below root.
func (w *Watcher) WatchDir(root string) error {
	root = clean(root)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirs[root]++
	if w.dirs[root] > 1 {
		return nil
	}
	return w.addTreeLocked(root)
}

// UnwatchDir drops one reference to a recursively watched root.
func (w *Watcher) UnwatchDir(root string) {
	root = clean(root)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[root] == 0 {
		return
	}
	w.dirs[root]--
	if w.dirs[root] > 0 {
		return
	}
	delete(w.dirs, root)
	for dir := range w.added {
		if dir == root || isWithin(dir, root) {
			w.removeLocked(dir)
		}
	}
}

func (w *Watcher) addTreeLocked(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, _ := filepath.Rel(root, p); rel != "." && w.ignore.Match(rel) {
			return filepath.SkipDir
		}
		return w.addLocked(p)
	})
}

func (w *Watcher) addLocked(dir string) error {
	if w.added[dir] > 0 {
		w.added[dir]++
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.added[dir] = 1
	logging.WatchDebug("watching %s", dir)
	return nil
}

func (w *Watcher) removeLocked(dir string) {
	if w.added[dir] == 0 {
		return
	}
	w.added[dir]--
	if w.added[dir] == 0 {
		delete(w.added, dir)
		_ = w.watcher.Remove(dir)
	}
}

// run is the main event loop for the watcher.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	// Flush ticker for batched directory events
	tick := max(w.dirBatch/5, 10*time.Millisecond)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WatchError("watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	var op string
	switch {
	case event.Op&fsnotify.Create != 0:
		op = "create"
	case event.Op&fsnotify.Write != 0:
		op = "modify"
	case event.Op&fsnotify.Remove != 0:
		op = "delete"
	case event.Op&fsnotify.Rename != 0:
		op = "rename"
	default:
		return // Ignore chmod
	}
	name := clean(event.Name)

	w.mu.Lock()
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = name
	_, isFile := w.files[name]

	var root string
	for r := range w.dirs {
		if isWithin(name, r) {
			root = r
			break
		}
	}
	if root != "" {
		rel, _ := filepath.Rel(root, name)
		if w.ignore.Match(rel) {
			root = ""
		}
	}
	if root != "" {
		dir := filepath.Dir(name)
		if _, seen := w.pending[dir]; !seen {
			w.pending[dir] = time.Now()
		}
		if op == "create" {
			if info, err := os.Stat(name); err == nil && info.IsDir() {
				_ = w.addTreeLocked(name)
			}
		}
	}
	if isFile {
		w.stats.FileEvents++
	}
	w.mu.Unlock()

	if isFile {
		logging.WatchDebug("%s %s", op, name)
		w.emit(Event{Path: name, Op: op})
	}
}

func (w *Watcher) flush(now time.Time) {
	var due []string
	w.mu.Lock()
	for dir, first := range w.pending {
		if now.Sub(first) >= w.dirBatch {
			due = append(due, dir)
			delete(w.pending, dir)
		}
	}
	w.stats.DirBatches += len(due)
	w.mu.Unlock()

	for _, dir := range due {
		w.emit(Event{Path: dir, Dir: true})
	}
}

func (w *Watcher) emit(e Event) {
	select {
	case w.events <- e:
	default:
		w.mu.Lock()
		w.stats.Dropped++
		w.mu.Unlock()
		logging.WatchError("event buffer full, dropped %s", e.Path)
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func clean(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// isWithin reports whether p is root or below it.
func isWithin(p, root string) bool {
	if p == root {
		return true
	}
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !startsWithDotDot(rel)
}

func startsWithDotDot(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
