// Package session implements the main loop that owns the context store.
//
// Architecture:
//
//	Command → Step → (tools, store, history) → Assembler → Adapter → Step
//
// One goroutine calls Step (or Run). It is the only mutator of the element
// store, the conversation and the module registry. Workers, the filesystem
// watcher and the model adapter talk to it through channels.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ctxpilot/internal/assembler"
	"ctxpilot/internal/cache"
	"ctxpilot/internal/config"
	"ctxpilot/internal/history"
	"ctxpilot/internal/invalidation"
	"ctxpilot/internal/logging"
	"ctxpilot/internal/module"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/persist"
	"ctxpilot/internal/provider"
	"ctxpilot/internal/tools"
	"ctxpilot/internal/usage"
	"ctxpilot/internal/world"
)

var (
	// ErrTurnActive is returned when a message is submitted during a turn.
	ErrTurnActive = errors.New("a turn is already in progress")
	// ErrNoTurn is returned by CancelTurn when nothing is running.
	ErrNoTurn = errors.New("no turn in progress")
	// ErrToolNotAllowed is returned for tools of inactive modules or
	// tools excluded by preset permissions.
	ErrToolNotAllowed = errors.New("tool not allowed")
)

// DefaultIdleWait is how long Run blocks per idle iteration.
const DefaultIdleWait = 50 * time.Millisecond

// Options configures a Session.
type Options struct {
	Workspace string
	Config    *config.Config
	Adapter   provider.Adapter
	Modules   []module.Module

	// Persist enables snapshots and stored presets. Optional.
	Persist *persist.Store
	// Watch overrides the filesystem watcher. When nil and watching is
	// enabled in config, a fsnotify watcher is created and owned.
	Watch invalidation.Watch
	// Summarizer produces detachment digests (default: extractive).
	// Usage receives token accounting; nil keeps it in memory.
	Usage      *usage.Tracker
	Summarizer history.Summarizer
	Renderer   Renderer
	Clock      func() time.Time
	// ToolTimeout bounds one tool execution (default 2m).
	ToolTimeout time.Duration
}

// Session is one interactive agent session.
type Session struct {
	id        string
	workspace string
	cfg       *config.Config

	store    *panel.Store
	pool     *cache.Pool
	sched    *cache.Scheduler
	disp     *invalidation.Dispatcher
	registry *module.Registry
	conv     *history.Conversation
	asm      *assembler.Assembler
	adapter  provider.Adapter
	persist  *persist.Store
	usage    *usage.Tracker

	watcher   *world.Watcher // set when owned
	watchWake <-chan struct{}

	commands chan Command
	wake     chan struct{}
	renderer Renderer

	run         *turnRun
	last        *assembler.Turn
	lastReport  assembler.Report
	notice      string
	dirty       bool
	toolTimeout time.Duration
	maxRounds   int
	started     bool
}

// New creates a session and activates the configured startup modules. A
// module whose activation fails is skipped; the session still starts.
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Workspace == "" {
		return nil, fmt.Errorf("workspace required")
	}
	adapter := opts.Adapter
	if adapter == nil {
		adapter = provider.Echo{}
	}
	policy := provider.DefaultRetryPolicy()
	policy.MaxRetries = cfg.Provider.MaxRetries

	s := &Session{
		id:          uuid.NewString(),
		workspace:   opts.Workspace,
		cfg:         cfg,
		store:       panel.NewStore(),
		registry:    module.NewRegistry(nil),
		adapter:     provider.WithRetries(adapter, policy),
		persist:     opts.Persist,
		usage:       opts.Usage,
		commands:    make(chan Command, 64),
		wake:        make(chan struct{}, 1),
		renderer:    opts.Renderer,
		toolTimeout: opts.ToolTimeout,
		maxRounds:   cfg.Context.MaxToolRounds,
	}
	if s.usage == nil {
		s.usage = usage.NewMemory()
	}
	if s.toolTimeout <= 0 {
		s.toolTimeout = 2 * time.Minute
	}
	if s.maxRounds <= 0 {
		s.maxRounds = 16
	}
	if opts.Clock != nil {
		s.store.SetClock(opts.Clock)
	}

	s.conv = history.New(history.Config{
		Watermark:   cfg.History.Watermark,
		TargetRatio: cfg.History.TargetRatio,
		KeepRecent:  cfg.History.KeepRecent,
	}, opts.Summarizer)
	if opts.Clock != nil {
		s.conv.SetClock(opts.Clock)
	}

	s.asm = assembler.New(assembler.Config{
		Budget:       cfg.Context.Budget,
		SystemPrompt: cfg.Context.SystemPrompt,
		Reinjection:  cfg.Context.Reinjection,
	})

	s.pool = cache.NewPool(cache.PoolConfig{
		Workers:      cfg.Workers.PoolSize,
		FetchTimeout: cfg.GetFetchTimeout(),
		QueueSize:    cfg.Workers.QueueSize,
	})
	s.sched = cache.NewScheduler(s.store, s.pool, s.factoryFor)

	watch := opts.Watch
	if watch == nil && cfg.Watch.Enabled {
		w, err := world.NewWatcher(cfg.GetDirBatch(), world.NewIgnore(cfg.Watch.Ignore...))
		if err != nil {
			logging.SessionWarn("filesystem watching disabled: %v", err)
		} else {
			s.watcher = w
			watch = w
		}
	}
	if w, ok := watch.(interface{ Wake() <-chan struct{} }); ok {
		s.watchWake = w.Wake()
	}
	s.disp = invalidation.New(s.store, s.sched, watch, invalidation.IntervalsFromConfig(cfg.RefreshIntervals()))
	s.disp.Observe(func(sig invalidation.Signal) { s.registry.Broadcast(s, sig) })

	for _, m := range opts.Modules {
		if err := s.registry.Register(m); err != nil {
			return nil, err
		}
	}
	for _, p := range cfg.Presets {
		s.registry.DefinePreset(module.Preset{Name: p.Name, Modules: p.Modules, Tools: p.Tools})
	}
	s.activateStartup()

	logging.Session("Session %s created: workspace=%s modules=%v", s.id, s.workspace, s.registry.Order())
	return s, nil
}

// activateStartup activates the startup preset or module list, skipping
// modules that cannot be activated.
func (s *Session) activateStartup() {
	if name := s.cfg.Modules.Preset; name != "" {
		_, _, err := s.registry.LoadPreset(name)
		if err == nil {
			return
		}
		logging.SessionWarn("startup preset %s: %v", name, err)
	}

	pending := append([]string(nil), s.cfg.Modules.Enabled...)
	for progress := true; progress && len(pending) > 0; {
		progress = false
		var rest []string
		for _, id := range pending {
			if _, err := s.registry.Activate(id); err != nil {
				rest = append(rest, id)
				continue
			}
			progress = true
		}
		pending = rest
	}
	for _, id := range pending {
		_, err := s.registry.Activate(id)
		logging.SessionWarn("skipping module %s: %v", id, err)
	}
}

// Start launches the worker pool and the owned watcher.
func (s *Session) Start(ctx context.Context) error {
	if s.started {
		return nil
	}
	s.pool.Start(ctx)
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
	}
	s.started = true
	return nil
}

// Close cancels any turn and stops background work.
func (s *Session) Close() {
	if s.run != nil {
		s.run.cancel()
		s.run = nil
	}
	s.pool.Stop()
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if err := s.usage.Save(); err != nil {
		logging.SessionWarn("save usage: %v", err)
	}
	logging.Session("Session %s closed", s.id)
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Config returns the configuration in use.
func (s *Session) Config() *config.Config { return s.cfg }

// Store returns the element store. Only the loop goroutine may use it.
func (s *Session) Store() *panel.Store { return s.store }

// Conversation returns the history. Only the loop goroutine may use it.
func (s *Session) Conversation() *history.Conversation { return s.conv }

// Registry returns the module registry. Only the loop goroutine may use it.
func (s *Session) Registry() *module.Registry { return s.registry }

// Scheduler returns the fetch scheduler.
func (s *Session) Scheduler() *cache.Scheduler { return s.sched }

// Dispatcher returns the invalidation dispatcher.
func (s *Session) Dispatcher() *invalidation.Dispatcher { return s.disp }

// Pool returns the worker pool.
func (s *Session) Pool() *cache.Pool { return s.pool }

// LastTurn returns the most recently finished turn, or nil.
func (s *Session) LastTurn() *assembler.Turn { return s.last }

// ActiveTurn returns the running turn, or nil.
func (s *Session) ActiveTurn() *assembler.Turn {
	if s.run == nil {
		return nil
	}
	return s.run.turn
}

// LastReport returns the report of the latest assembly.
func (s *Session) LastReport() assembler.Report { return s.lastReport }

// Usage returns the token usage tracker.
func (s *Session) Usage() *usage.Tracker { return s.usage }

// Tools returns the tools currently offered to the model.
func (s *Session) Tools() []*tools.Tool { return s.registry.ListTools() }

func (s *Session) factoryFor(e panel.Element) (panel.Factory, bool) {
	f, _, ok := s.registry.Factory(e.Kind)
	return f, ok
}

func (s *Session) toolSpecs() []provider.ToolSpec {
	list := s.registry.ListTools()
	specs := make([]provider.ToolSpec, 0, len(list))
	for _, t := range list {
		specs = append(specs, provider.ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.JSONSchema()})
	}
	return specs
}

func (s *Session) setNotice(format string, args ...any) {
	s.notice = fmt.Sprintf(format, args...)
	s.dirty = true
}
