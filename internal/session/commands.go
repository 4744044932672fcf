package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ctxpilot/internal/assembler"
	"ctxpilot/internal/logging"
	"ctxpilot/internal/module"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/persist"
	"ctxpilot/internal/tools"
)

// Command is an input to the main loop. Commands submitted from other
// goroutines are handled at the start of the next Step.
type Command interface {
	command() string
}

// NewSession discards panels and history and starts a fresh session with
// the current module set.
type NewSession struct{}

// ToggleModule activates an inactive module or deactivates an active one.
// Cascade also deactivates active dependents.
type ToggleModule struct {
	ID      string
	Cascade bool
}

// LoadPreset restores a named preset from config or the database.
type LoadPreset struct {
	Name string
}

// SavePreset stores the live module configuration as a named preset.
type SavePreset struct {
	Name string
}

// SubmitMessage starts a turn with a user message.
type SubmitMessage struct {
	Text string
}

// CancelTurn aborts the running turn and rolls it back.
type CancelTurn struct{}

// InvokeTool runs a tool outside the model loop. The outcome is sent on
// Reply when it is set.
type InvokeTool struct {
	Name  string
	Args  map[string]any
	Reply chan<- ToolReply
}

// ToolReply is the outcome of InvokeTool.
type ToolReply struct {
	Result *tools.ToolResult
	Err    error
}

// ClosePanel destroys a panel.
type ClosePanel struct {
	ID panel.ID
}

// RefreshPanel invalidates a panel and refetches it.
type RefreshPanel struct {
	ID panel.ID
}

func (NewSession) command() string    { return "new_session" }
func (ToggleModule) command() string  { return "toggle_module" }
func (LoadPreset) command() string    { return "load_preset" }
func (SavePreset) command() string    { return "save_preset" }
func (SubmitMessage) command() string { return "submit_message" }
func (CancelTurn) command() string    { return "cancel_turn" }
func (InvokeTool) command() string    { return "invoke_tool" }
func (ClosePanel) command() string    { return "close_panel" }
func (RefreshPanel) command() string  { return "refresh_panel" }

// Submit queues a command for the loop goroutine. It is safe to call from
// any goroutine and fails only when the queue is full.
func (s *Session) Submit(cmd Command) error {
	select {
	case s.commands <- cmd:
	default:
		return fmt.Errorf("command queue full, dropped %s", cmd.command())
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Do handles a command immediately. Only the loop goroutine may call it.
func (s *Session) Do(ctx context.Context, cmd Command) error {
	logging.SessionDebug("command %s", cmd.command())
	var err error
	switch c := cmd.(type) {
	case NewSession:
		s.newSession()
	case ToggleModule:
		err = s.toggleModule(c.ID, c.Cascade)
	case LoadPreset:
		err = s.loadPreset(ctx, c.Name)
	case SavePreset:
		err = s.savePreset(ctx, c.Name)
	case SubmitMessage:
		err = s.submitMessage(ctx, c.Text)
	case CancelTurn:
		err = s.cancelTurn()
	case InvokeTool:
		var res *tools.ToolResult
		res, err = s.InvokeTool(ctx, c.Name, c.Args)
		if c.Reply != nil {
			c.Reply <- ToolReply{Result: res, Err: err}
		}
	case ClosePanel:
		err = s.ClosePanel(c.ID)
	case RefreshPanel:
		err = s.RefreshPanel(c.ID)
	default:
		err = fmt.Errorf("unknown command %T", cmd)
	}
	if err != nil {
		logging.SessionWarn("command %s failed: %v", cmd.command(), err)
		s.setNotice("%s: %v", cmd.command(), err)
	}
	s.dirty = true
	return err
}

func (s *Session) newSession() {
	if s.run != nil {
		s.failTurn(s.run, context.Canceled)
	}
	s.closeAllPanels()
	s.conv.Reset()
	for _, id := range s.registry.Order() {
		if m, ok := s.registry.Module(id); ok {
			if err := m.Load(nil); err != nil {
				logging.SessionWarn("reset module %s: %v", id, err)
			}
		}
	}
	s.id = uuid.NewString()
	s.last, s.lastReport, s.notice = nil, assembler.Report{}, ""
	logging.Session("New session %s", s.id)
}

func (s *Session) toggleModule(id string, cascade bool) error {
	if s.registry.IsActive(id) {
		deactivated, err := s.registry.Deactivate(id, cascade)
		if err != nil {
			return err
		}
		s.closeModulePanels(deactivated)
		s.setNotice("deactivated %v", deactivated)
		return nil
	}
	activated, err := s.registry.Activate(id)
	if err != nil {
		return err
	}
	s.setNotice("activated %v", activated)
	return nil
}

func (s *Session) loadPreset(ctx context.Context, name string) error {
	deactivated, activated, err := s.registry.LoadPreset(name)
	if errors.Is(err, module.ErrUnknownPreset) && s.persist != nil {
		p, perr := s.persist.LoadPreset(ctx, name)
		if perr != nil {
			if errors.Is(perr, persist.ErrNotFound) {
				return err
			}
			return perr
		}
		s.registry.DefinePreset(p)
		deactivated, activated, err = s.registry.LoadPreset(name)
	}
	if err != nil {
		return err
	}
	s.closeModulePanels(deactivated)
	s.setNotice("preset %s: -%v +%v", name, deactivated, activated)
	return nil
}

func (s *Session) savePreset(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("preset name required")
	}
	p := s.registry.Snapshot(name)
	s.registry.DefinePreset(p)
	if s.persist != nil {
		if err := s.persist.SavePreset(ctx, p); err != nil {
			return err
		}
	}
	s.setNotice("saved preset %s", name)
	return nil
}

// InvokeTool runs one tool on the loop goroutine, as the model would.
func (s *Session) InvokeTool(ctx context.Context, name string, args map[string]any) (*tools.ToolResult, error) {
	if !s.registry.Allowed(name) {
		err := fmt.Errorf("%w: %s", ErrToolNotAllowed, name)
		return &tools.ToolResult{ToolName: name, Error: err}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.toolTimeout)
	defer cancel()
	return s.registry.ToolRegistry().Execute(ctx, s, name, args)
}
