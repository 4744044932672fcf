// Package cache runs panel fetches on a bounded background worker pool and
// feeds their results back to the main loop as Update messages.
package cache

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ctxpilot/internal/logging"
	"ctxpilot/internal/panel"
)

// Update is the message a worker sends to the main thread.
type Update = panel.Update

// Request asks the pool to run one fetch for one element.
type Request struct {
	ID       panel.ID
	Seq      uint64
	Op       string
	Priority int
	Fetch    panel.FetchFunc

	order uint64
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Workers      int
	FetchTimeout time.Duration
	QueueSize    int
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: 4, FetchTimeout: 10 * time.Second, QueueSize: 256}
}

// PoolStats counts pool activity.
type PoolStats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
	Timeouts  uint64
	Panics    uint64
	Queued    int
}

// Pool is a fixed set of workers draining a priority queue of fetch requests.
type Pool struct {
	cfg PoolConfig

	mu     sync.Mutex
	queue  requestQueue
	order  uint64
	closed bool

	notify  chan struct{}
	updates chan Update
	wake    chan struct{}

	// bounds running fetch goroutines, including ones abandoned after a timeout
	running *semaphore.Weighted
	fetches sync.WaitGroup

	group  *errgroup.Group
	cancel context.CancelFunc

	submitted, completed, failed, timeouts, panics atomic.Uint64
}

// NewPool creates a pool. Call Start to launch the workers.
func NewPool(cfg PoolConfig) *Pool {
	def := DefaultPoolConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = def.QueueSize
	}
	return &Pool{
		cfg:     cfg,
		notify:  make(chan struct{}, 1),
		updates: make(chan Update, cfg.QueueSize),
		wake:    make(chan struct{}, 1),
		running: semaphore.NewWeighted(int64(2 * cfg.Workers)),
	}
}

// Start launches the workers. They run until Stop or ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	p.group = g
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			p.work(gctx, worker)
			return nil
		})
	}
	logging.Cache("worker pool started: workers=%d timeout=%v", p.cfg.Workers, p.cfg.FetchTimeout)
}

// Stop cancels the workers and waits for them and their fetches to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	if p.group != nil {
		_ = p.group.Wait()
	}
	p.fetches.Wait()
	logging.Cache("worker pool stopped")
}

// Submit enqueues a request. It never blocks.
func (p *Pool) Submit(r Request) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.queue.Len() >= p.cfg.QueueSize {
		p.mu.Unlock()
		return ErrQueueFull
	}
	p.order++
	r.order = p.order
	p.queue.push(&r)
	p.mu.Unlock()

	p.submitted.Add(1)
	p.signal()
	logging.CacheDebug("queued %s seq=%d op=%s prio=%d", r.ID, r.Seq, r.Op, r.Priority)
	return nil
}

func (p *Pool) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Updates returns the channel the main thread drains.
func (p *Pool) Updates() <-chan Update { return p.updates }

// Wake fires (non-blocking, coalesced) whenever an update is available.
func (p *Pool) Wake() <-chan struct{} { return p.wake }

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	queued := p.queue.Len()
	p.mu.Unlock()
	return PoolStats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Timeouts:  p.timeouts.Load(),
		Panics:    p.panics.Load(),
		Queued:    queued,
	}
}

func (p *Pool) next() *Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.queue.pop()
	if r != nil && p.queue.Len() > 0 {
		p.signal()
	}
	return r
}

func (p *Pool) work(ctx context.Context, worker int) {
	for {
		r := p.next()
		if r == nil {
			select {
			case <-ctx.Done():
				return
			case <-p.notify:
				continue
			}
		}
		if !p.execute(ctx, r) {
			return
		}
	}
}

type fetchResult struct {
	content panel.Content
	err     error
}

// execute runs one request and emits exactly one update for it. It returns
// false when the pool is shutting down.
func (p *Pool) execute(ctx context.Context, r *Request) bool {
	if err := p.running.Acquire(ctx, 1); err != nil {
		return false
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	p.fetches.Add(1)
	go func() {
		defer p.fetches.Done()
		defer p.running.Release(1)
		done <- p.runFetch(fetchCtx, r)
	}()

	u := Update{ID: r.ID, Seq: r.Seq}
	select {
	case res := <-done:
		u.At = time.Now()
		switch {
		case res.err == nil:
			u.Text, u.Hash = res.content.Text, res.content.Hash
		case ctx.Err() != nil:
			return false
		case fetchCtx.Err() != nil:
			u.Err = p.timeoutError(r)
		default:
			p.failed.Add(1)
			u.Err = &FetchError{ID: r.ID, Op: r.Op, Err: res.err}
		}
	case <-fetchCtx.Done():
		if ctx.Err() != nil {
			return false
		}
		u.At = time.Now()
		u.Err = p.timeoutError(r)
	}

	select {
	case p.updates <- u:
	case <-ctx.Done():
		return false
	}
	p.completed.Add(1)
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

func (p *Pool) timeoutError(r *Request) error {
	p.timeouts.Add(1)
	logging.CacheWarn("%s %s timed out after %v", r.Op, r.ID, p.cfg.FetchTimeout)
	return &FetchError{ID: r.ID, Op: r.Op, Err: fmt.Errorf("%w after %v", ErrFetchTimeout, p.cfg.FetchTimeout)}
}

func (p *Pool) runFetch(ctx context.Context, r *Request) (res fetchResult) {
	defer func() {
		if rec := recover(); rec != nil {
			p.panics.Add(1)
			logging.Get(logging.CategoryCache).Error("fetch %s panicked: %v\n%s", r.ID, rec, debug.Stack())
			res = fetchResult{err: fmt.Errorf("%w: %v", ErrFetchPanic, rec)}
		}
	}()
	if r.Fetch == nil {
		return fetchResult{err: fmt.Errorf("no fetch function for %s", r.ID)}
	}
	c, err := r.Fetch(ctx)
	return fetchResult{content: c, err: err}
}
