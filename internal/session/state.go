package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"ctxpilot/internal/history"
	"ctxpilot/internal/logging"
	"ctxpilot/internal/module"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/persist"
)

// snapshotsKept is how many snapshots per workspace survive a save.
const snapshotsKept = 20

// State captures the resumable state of the session. Element content is
// not included; restored elements are fetched again.
func (s *Session) State() (*persist.SessionState, error) {
	modState, err := s.registry.SaveState()
	if err != nil {
		return nil, err
	}
	st := &persist.SessionState{
		Version:     persist.StateVersion,
		SessionID:   s.id,
		Workspace:   s.workspace,
		Modules:     s.registry.Order(),
		Permissions: s.registry.Permissions(),
		ModuleState: modState,
		History:     s.conv.Export(),
		SavedAt:     s.store.Now(),
	}
	for _, e := range s.store.List() {
		st.Elements = append(st.Elements, persist.FromElement(e))
	}
	return st, nil
}

// Restore replaces the session with a saved state. Elements whose kind no
// active module provides are dropped. Must not be called during a turn. On
// error the session is left as it was.
func (s *Session) Restore(st *persist.SessionState) error {
	if st == nil {
		return fmt.Errorf("nil session state")
	}
	if s.run != nil {
		return ErrTurnActive
	}
	if st.Workspace != "" && st.Workspace != s.workspace {
		return fmt.Errorf("snapshot belongs to %s, not %s", st.Workspace, s.workspace)
	}

	if err := history.Validate(st.History); err != nil {
		return fmt.Errorf("snapshot history: %w", err)
	}
	if err := validateElements(st.Elements); err != nil {
		return err
	}

	prev := s.checkpoint()
	dropped, err := s.replace(st)
	if err != nil {
		s.rollback(prev)
		logging.SessionWarn("restore of %s failed, previous state kept: %v", st.SessionID, err)
		return err
	}
	if st.SessionID != "" {
		s.id = st.SessionID
	}
	s.last = nil
	s.dirty = true
	logging.Session("Restored session %s: %d elements (%d dropped), %d messages",
		s.id, len(st.Elements)-dropped, dropped, len(st.History.Messages))
	return nil
}

func (s *Session) replace(st *persist.SessionState) (dropped int, err error) {
	if _, _, err := s.registry.Restore(module.Preset{Name: "snapshot", Modules: st.Modules, Tools: st.Permissions}); err != nil {
		return 0, err
	}
	s.closeAllPanels()
	if err := s.registry.LoadState(st.ModuleState); err != nil {
		return 0, err
	}
	if err := s.conv.Import(st.History); err != nil {
		return 0, err
	}
	for _, es := range st.Elements {
		if _, _, ok := s.registry.Factory(es.Kind); !ok {
			dropped++
			continue
		}
		if err := s.store.Restore(es.Element()); err != nil {
			return 0, err
		}
		e, _ := s.store.Get(es.ID)
		s.disp.Track(e)
		s.sched.Request(e.ID)
	}
	return dropped, nil
}

func validateElements(elements []persist.ElementState) error {
	seen := make(map[panel.ID]bool, len(elements))
	for _, es := range elements {
		id := string(es.ID)
		if _, err := strconv.ParseUint(strings.TrimPrefix(id, "P"), 10, 64); err != nil || !strings.HasPrefix(id, "P") {
			return fmt.Errorf("snapshot element: invalid id %q", id)
		}
		if seen[es.ID] {
			return fmt.Errorf("snapshot element: duplicate id %s", id)
		}
		seen[es.ID] = true
	}
	return nil
}

// restorePoint is what Restore puts back when a snapshot fails to apply.
type restorePoint struct {
	preset  module.Preset
	panels  []panel.Element
	modules map[string][]byte
	history history.State
}

func (s *Session) checkpoint() restorePoint {
	p := restorePoint{
		preset:  s.registry.Snapshot("previous"),
		panels:  s.store.List(),
		modules: make(map[string][]byte),
		history: s.conv.Export(),
	}
	for _, id := range s.registry.Known() {
		m, _ := s.registry.Module(id)
		data, err := m.Save()
		if err != nil {
			logging.SessionWarn("checkpoint module %s: %v", id, err)
			continue
		}
		p.modules[id] = data
	}
	return p
}

func (s *Session) rollback(p restorePoint) {
	if _, _, err := s.registry.Restore(p.preset); err != nil {
		logging.SessionWarn("restore modules: %v", err)
	}
	s.closeAllPanels()
	s.restorePanels(p.panels)
	s.restoreModules(p.modules)
	if err := s.conv.Import(p.history); err != nil {
		logging.SessionWarn("restore history: %v", err)
	}
	s.dirty = true
}

// Save stores a snapshot and prunes old ones.
func (s *Session) Save(ctx context.Context, label string) (string, error) {
	if s.persist == nil {
		return "", fmt.Errorf("persistence disabled")
	}
	st, err := s.State()
	if err != nil {
		return "", err
	}
	id, err := s.persist.PutSnapshot(ctx, st, label)
	if err != nil {
		return "", err
	}
	if _, err := s.persist.Prune(ctx, s.workspace, snapshotsKept); err != nil {
		logging.SessionWarn("prune snapshots: %v", err)
	}
	return id, nil
}

// Resume restores the latest snapshot of the workspace.
func (s *Session) Resume(ctx context.Context) error {
	if s.persist == nil {
		return fmt.Errorf("persistence disabled")
	}
	st, err := s.persist.Latest(ctx, s.workspace)
	if err != nil {
		return err
	}
	return s.Restore(st)
}

func (s *Session) autosave() {
	if s.persist == nil || !s.cfg.Persist.Autosave {
		return
	}
	if _, err := s.Save(context.Background(), "autosave"); err != nil {
		logging.SessionWarn("autosave failed: %v", err)
	}
	if err := s.usage.Save(); err != nil {
		logging.SessionWarn("save usage: %v", err)
	}
}
