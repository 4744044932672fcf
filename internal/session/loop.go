package session

import (
	"context"
	"time"

	"ctxpilot/internal/assembler"
	"ctxpilot/internal/history"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/provider"
	"ctxpilot/internal/usage"
)

// View is what a front end renders. It is a copy; holding it never races
// the loop.
type View struct {
	SessionID string
	Panels    []panel.Element
	Messages  []history.Message
	// Streaming is the partial response of the running round.
	Streaming     string
	Turn          assembler.State
	TurnErr       error
	Modules       []string
	Notice        string
	HistoryTokens int
	Usage         usage.TokenCounts
	Report        assembler.Report
}

// Renderer receives a View whenever something visible changed. It is
// called on the loop goroutine and must not block.
type Renderer func(View)

// View builds the current view.
func (s *Session) View() View {
	v := View{
		SessionID:     s.id,
		Panels:        s.store.List(),
		Messages:      s.conv.View(),
		Modules:       s.registry.Order(),
		Notice:        s.notice,
		HistoryTokens: s.conv.Tokens(),
		Report:        s.lastReport,
		Usage:         s.usage.Session(s.id),
	}
	switch {
	case s.run != nil:
		v.Turn = s.run.turn.State()
		v.Streaming = s.run.text.String()
	case s.last != nil:
		v.Turn = s.last.State()
		v.TurnErr = s.last.Err()
	}
	return v
}

// Step runs one iteration of the main loop: commands, fetch results,
// invalidations, the turn, then rendering. When nothing happened it blocks
// for at most idleWait for the next wakeup. It reports whether any work was
// done.
func (s *Session) Step(ctx context.Context, idleWait time.Duration) bool {
	progressed := false

	for done := false; !done; {
		select {
		case cmd := <-s.commands:
			_ = s.Do(ctx, cmd)
			progressed = true
		default:
			done = true
		}
	}

	if n, _ := s.sched.Drain(); n > 0 {
		progressed = true
	}
	if s.disp.Drain() > 0 {
		progressed = true
	}
	if s.driveTurn() {
		progressed = true
	}
	s.render()

	if progressed || idleWait <= 0 {
		return progressed
	}
	return s.idle(ctx, idleWait)
}

// Run drives Step until the context is done.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	for ctx.Err() == nil {
		s.Step(ctx, DefaultIdleWait)
	}
	return ctx.Err()
}

func (s *Session) render() {
	if !s.store.Dirty() && !s.dirty {
		return
	}
	if s.renderer != nil {
		s.renderer(s.View())
	}
	s.store.ClearDirty()
	s.dirty = false
}

// idle blocks until a wakeup source fires, the next deadline passes or
// wait elapses. A stream event read here is handled immediately.
func (s *Session) idle(ctx context.Context, wait time.Duration) bool {
	now := s.store.Now()
	if d := s.disp.NextDeadline(); !d.IsZero() && d.Sub(now) < wait {
		wait = d.Sub(now)
	}
	var stream <-chan provider.Event
	if r := s.run; r != nil {
		if r.stream != nil {
			stream = r.stream
		} else if d := r.waitUntil.Sub(now); d < wait {
			wait = d
		}
	}
	if wait <= 0 {
		return false
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-s.wake:
	case <-s.pool.Wake():
	case <-s.watchWake:
	case ev, ok := <-stream:
		s.handleEvent(s.run, ev, ok)
		s.render()
		return true
	case <-timer.C:
	}
	return false
}
