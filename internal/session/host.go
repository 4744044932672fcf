package session

import (
	"fmt"
	"maps"
	"time"

	"ctxpilot/internal/logging"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/tools"
)

var _ tools.Host = (*Session)(nil)

func (s *Session) Workspace() string { return s.workspace }
func (s *Session) Now() time.Time    { return s.store.Now() }

// OpenPanel returns the existing element for (kind, source, params) or
// creates one, and makes sure it is fetched.
func (s *Session) OpenPanel(module string, kind panel.Kind, source string, params map[string]string) (panel.ID, error) {
	f, owner, ok := s.registry.Factory(kind)
	if !ok {
		return "", fmt.Errorf("no active module provides %s panels", kind)
	}
	if module == "" {
		module = owner
	}
	for _, e := range s.store.ByKind(kind) {
		if e.Source == source && maps.Equal(e.Params, params) {
			s.store.SetVisible(e.ID, true)
			if e.State != panel.StateReady {
				s.sched.Request(e.ID)
			}
			return e.ID, nil
		}
	}

	id := s.store.CreateFrom(f, module, source, params)
	e, _ := s.store.Get(id)
	s.disp.Track(e)
	s.sched.Request(id)
	logging.SessionDebug("opened %s %s source=%q", id, kind, source)
	return id, nil
}

// ClosePanel destroys an element. An in-flight fetch for it is discarded
// when it lands.
func (s *Session) ClosePanel(id panel.ID) error {
	if _, ok := s.store.Get(id); !ok {
		return fmt.Errorf("unknown panel %s", id)
	}
	s.disp.Untrack(id)
	s.store.Close(id)
	logging.SessionDebug("closed %s", id)
	return nil
}

func (s *Session) RefreshPanel(id panel.ID) error {
	if !s.disp.Refresh(id) {
		return fmt.Errorf("unknown panel %s", id)
	}
	return nil
}

func (s *Session) RefreshKind(module string, kind panel.Kind) {
	for _, e := range s.store.ByKind(kind) {
		if e.Module == module {
			s.disp.Refresh(e.ID)
		}
	}
}

func (s *Session) Panel(id panel.ID) (panel.Element, bool) { return s.store.Get(id) }
func (s *Session) Panels() []panel.Element                 { return s.store.List() }

// SetPanelVisible shows or hides an element. Hidden elements are not
// fetched, so showing one that is not Ready requests it.
func (s *Session) SetPanelVisible(id panel.ID, visible bool) error {
	if !s.store.SetVisible(id, visible) {
		return fmt.Errorf("unknown panel %s", id)
	}
	if e, _ := s.store.Get(id); visible && e.State != panel.StateReady {
		s.sched.Request(id)
	}
	return nil
}

func (s *Session) PinPanel(id panel.ID, pinned bool) error {
	if !s.store.SetPinned(id, pinned) {
		return fmt.Errorf("unknown panel %s", id)
	}
	s.dirty = true
	return nil
}

func (s *Session) CommandCompleted(subsystem string, mutating bool) {
	s.disp.CommandCompleted(subsystem, mutating)
}

func (s *Session) InvalidateSource(kind panel.Kind, path string) {
	s.disp.InvalidateSource(kind, path)
}

// closeModulePanels destroys the elements owned by deactivated modules.
func (s *Session) closeModulePanels(modules []string) {
	for _, m := range modules {
		for _, e := range s.store.ByModule(m) {
			_ = s.ClosePanel(e.ID)
		}
	}
}

func (s *Session) closeAllPanels() {
	for _, e := range s.store.List() {
		_ = s.ClosePanel(e.ID)
	}
}

// loading counts visible elements still waiting for their first or next
// content.
func (s *Session) loading() int {
	n := 0
	for _, e := range s.store.List() {
		if e.Visible && e.State == panel.StateLoading {
			n++
		}
	}
	return n
}
