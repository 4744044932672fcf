package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"ctxpilot/internal/assembler"
	"ctxpilot/internal/history"
	"ctxpilot/internal/logging"
	"ctxpilot/internal/module"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/provider"
	"ctxpilot/internal/tokens"
	"ctxpilot/internal/tools"
	"ctxpilot/internal/usage"
)

// toolCallTokens is the output charged for each requested tool call.
const toolCallTokens = 20

// turnRun is the loop-side state of the turn in progress.
type turnRun struct {
	turn   *assembler.Turn
	ctx    context.Context
	cancel context.CancelFunc

	// restored when the turn fails
	conv    history.Checkpoint
	preset  module.Preset
	panels  []panel.Element
	modules map[string][]byte

	// a round starts once no visible panel is loading or this passes
	waitUntil time.Time
	stream    <-chan provider.Event
	text      strings.Builder
	calls     []history.ToolCall
	started   time.Time
}

func (s *Session) submitMessage(ctx context.Context, text string) error {
	if s.run != nil {
		return ErrTurnActive
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("empty message")
	}

	r := &turnRun{
		turn:    assembler.NewTurn(uuid.NewString()),
		conv:    s.conv.Checkpoint(),
		preset:  s.registry.Snapshot(""),
		panels:  s.store.List(),
		modules: s.moduleCheckpoint(),
		started: time.Now(),
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	s.run = r

	s.conv.AppendUser(text)
	r.waitUntil = s.store.Now().Add(s.cfg.GetAssemblyWait())
	s.notice = ""
	logging.Session("Turn %s started: %d chars", r.turn.ID, len(text))
	return nil
}

func (s *Session) cancelTurn() error {
	if s.run == nil {
		return ErrNoTurn
	}
	s.failTurn(s.run, context.Canceled)
	return nil
}

// driveTurn advances the running turn without blocking. It reports whether
// anything happened.
func (s *Session) driveTurn() bool {
	r := s.run
	if r == nil {
		return false
	}
	if r.stream == nil {
		if s.loading() > 0 && s.store.Now().Before(r.waitUntil) {
			return false
		}
		s.startRound(r)
		return true
	}
	progressed := false
	for s.run == r && r.stream != nil {
		select {
		case ev, ok := <-r.stream:
			s.handleEvent(r, ev, ok)
			progressed = true
		default:
			return progressed
		}
	}
	return progressed
}

// startRound assembles the prompt and dispatches it.
func (s *Session) startRound(r *turnRun) {
	if err := r.turn.To(assembler.Assembling); err != nil {
		s.failTurn(r, err)
		return
	}
	if _, err := s.conv.AutoDetach(r.ctx); err != nil {
		logging.SessionWarn("auto-detach failed: %v", err)
	}

	prompt, report, err := s.asm.Assemble(r.ctx, s.store, s.conv, s.toolSpecs())
	s.lastReport = report
	if err != nil {
		s.failTurn(r, err)
		return
	}
	if err := r.turn.To(assembler.Sent); err != nil {
		s.failTurn(r, err)
		return
	}
	stream, err := s.adapter.Stream(r.ctx, prompt)
	if err != nil {
		s.failTurn(r, provider.AsError(s.adapter.Name(), err))
		return
	}
	if err := r.turn.To(assembler.Streaming); err != nil {
		s.failTurn(r, err)
		return
	}
	r.stream = stream
	s.dirty = true
	logging.SessionDebug("Turn %s round %d sent: %d panels, %d tokens",
		r.turn.ID, r.turn.Rounds(), len(report.Included), report.Total)
}

func (s *Session) handleEvent(r *turnRun, ev provider.Event, ok bool) {
	if !ok {
		s.finishRound(r)
		return
	}
	switch ev.Kind {
	case provider.EventText:
		r.text.WriteString(ev.Text)
		s.dirty = true
	case provider.EventToolCall:
		if ev.ToolCall == nil {
			return
		}
		call := *ev.ToolCall
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		r.calls = append(r.calls, call)
	case provider.EventError:
		s.failTurn(r, provider.AsError(s.adapter.Name(), ev.Err))
	case provider.EventDone:
		s.finishRound(r)
	}
}

// finishRound records the response. Requested tools run synchronously
// here, so any invalidation they trigger lands before the next assembly.
func (s *Session) finishRound(r *turnRun) {
	r.stream = nil
	calls := r.calls
	s.usage.Track(usage.Event{
		Provider:  s.adapter.Name(),
		Model:     s.cfg.Provider.Model,
		SessionID: s.id,
		Input:     s.lastReport.Total,
		Output:    tokens.Estimate(r.text.String()) + len(calls)*toolCallTokens,
	})
	s.conv.AppendAgent(r.text.String(), calls)
	r.text.Reset()
	r.calls = nil
	s.dirty = true

	if len(calls) == 0 {
		s.completeTurn(r)
		return
	}
	for _, call := range calls {
		res := s.executeCall(r.ctx, call)
		s.conv.AppendToolResult(call.ID, call.Name, res.Text())
	}
	if r.ctx.Err() != nil {
		s.failTurn(r, r.ctx.Err())
		return
	}
	if r.turn.Rounds() >= s.maxRounds {
		s.setNotice("stopped after %d tool rounds", r.turn.Rounds())
		s.completeTurn(r)
		return
	}
	r.waitUntil = s.store.Now().Add(s.cfg.GetAssemblyWait())
}

func (s *Session) executeCall(ctx context.Context, call history.ToolCall) *tools.ToolResult {
	res, err := s.InvokeTool(ctx, call.Name, call.Args)
	if err != nil {
		logging.SessionDebug("tool %s failed: %v", call.Name, err)
	}
	if res == nil {
		res = &tools.ToolResult{ToolName: call.Name, Error: err}
	}
	return res
}

func (s *Session) completeTurn(r *turnRun) {
	if err := r.turn.To(assembler.Done); err != nil {
		s.failTurn(r, err)
		return
	}
	r.cancel()
	s.run, s.last = nil, r.turn
	s.dirty = true
	logging.Session("Turn %s done: %d rounds in %v", r.turn.ID, r.turn.Rounds(), time.Since(r.started))
	s.autosave()
}

// failTurn ends the turn in the error state and restores the active module
// set, the open panels, the conversation and module state captured when it
// started. Effects outside the session, like file writes, stay.
func (s *Session) failTurn(r *turnRun, err error) {
	if ferr := r.turn.Fail(err); ferr != nil {
		logging.SessionError("turn %s: %v", r.turn.ID, ferr)
	}
	r.cancel()
	s.conv.Rollback(r.conv)
	if deactivated, _, err := s.registry.Restore(r.preset); err != nil {
		logging.SessionWarn("restore modules: %v", err)
	} else {
		s.closeModulePanels(deactivated)
	}
	s.restorePanels(r.panels)
	s.restoreModules(r.modules)
	s.run, s.last = nil, r.turn
	s.setNotice("turn failed: %v", err)
	logging.SessionWarn("Turn %s failed after %d rounds: %v", r.turn.ID, r.turn.Rounds(), err)
}

func (s *Session) moduleCheckpoint() map[string][]byte {
	out := make(map[string][]byte)
	for _, id := range s.registry.Order() {
		m, _ := s.registry.Module(id)
		data, err := m.Save()
		if err != nil {
			logging.SessionWarn("checkpoint module %s: %v", id, err)
			continue
		}
		out[id] = data
	}
	return out
}

func (s *Session) restoreModules(saved map[string][]byte) {
	for id, data := range saved {
		m, ok := s.registry.Module(id)
		if !ok {
			continue
		}
		if err := m.Load(data); err != nil {
			logging.SessionWarn("restore module %s: %v", id, err)
		}
	}
}

// restorePanels brings the open set back to before: elements created since
// are closed, closed ones are restored and refetched, and visibility and
// pins are reset.
func (s *Session) restorePanels(before []panel.Element) {
	keep := make(map[panel.ID]panel.Element, len(before))
	for _, e := range before {
		keep[e.ID] = e
	}
	for _, e := range s.store.List() {
		if _, ok := keep[e.ID]; !ok {
			_ = s.ClosePanel(e.ID)
		}
	}
	for _, e := range before {
		cur, ok := s.store.Get(e.ID)
		if !ok {
			if err := s.store.Restore(e); err != nil {
				logging.SessionWarn("restore %s: %v", e.ID, err)
				continue
			}
			restored, _ := s.store.Get(e.ID)
			s.disp.Track(restored)
			s.sched.Request(e.ID)
			continue
		}
		if cur.Visible != e.Visible {
			_ = s.SetPanelVisible(e.ID, e.Visible)
		}
		if cur.Pinned != e.Pinned {
			s.store.SetPinned(e.ID, e.Pinned)
		}
	}
}
