// Package notify is the module for workspace notifications: changes the
// agent did not ask for, such as files edited on disk or a mutating git
// command. Open notifications render into one panel until the agent marks
// them processed.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"ctxpilot/internal/invalidation"
	"ctxpilot/internal/module"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/tools"
)

// ID is the module id.
const ID = "notifications"

// keepProcessed bounds how many processed notifications are retained.
const keepProcessed = 20

// Type is the category of a notification.
type Type string

const (
	FileChanged Type = "file_changed"
	DirChanged  Type = "dir_changed"
	Command     Type = "command"
)

// Notification is one workspace event. Repeats of an open notification
// with the same type and source bump Count instead of adding a new one.
type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Source    string    `json:"source"`
	Count     int       `json:"count"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
	Processed bool      `json:"processed,omitempty"`
}

type state struct {
	NextID        int             `json:"next_id"`
	Notifications []*Notification `json:"notifications"`
}

// Module collects notifications from invalidation signals.
type Module struct {
	module.Base
	st      state
	factory *panel.Template
}

var _ module.Listener = (*Module)(nil)

func New() *Module {
	m := &Module{Base: module.Base{ModuleID: ID, Summary: "Notifications about workspace changes"}}
	m.factory = &panel.Template{
		Type:     panel.KindNotifications,
		System:   ID,
		Refresh:  panel.StrategyCommand,
		Priority: 75,
		TitleFunc: func(string, map[string]string) string {
			return "Notifications"
		},
		Fetch: func(panel.Element) panel.FetchFunc {
			text := m.Render()
			return func(context.Context) (panel.Content, error) {
				return panel.Content{Text: text}, nil
			}
		},
	}
	return m
}

func (m *Module) PanelFactories() []panel.Factory { return []panel.Factory{m.factory} }

func (m *Module) Tools() []*tools.Tool {
	return []*tools.Tool{m.markProcessedTool()}
}

// Observe records a notification for sig and refreshes the panel.
func (m *Module) Observe(host tools.Host, sig invalidation.Signal) {
	typ, source := classify(host.Workspace(), sig)
	if typ == "" {
		return
	}
	m.Add(host.Now(), typ, source)
	_, _ = tools.ShowPanel(host, ID, panel.KindNotifications)
}

func classify(root string, sig invalidation.Signal) (Type, string) {
	switch sig.Class {
	case invalidation.SignalWatch:
		path := sig.Path
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			path = rel
		}
		if sig.Dir {
			return DirChanged, path
		}
		return FileChanged, path
	case invalidation.SignalCommand:
		if sig.Subsystem == ID {
			return "", ""
		}
		return Command, sig.Subsystem
	}
	return "", ""
}

// Add records a notification at now and returns it.
func (m *Module) Add(now time.Time, typ Type, source string) Notification {
	for _, n := range m.st.Notifications {
		if !n.Processed && n.Type == typ && n.Source == source {
			n.Count++
			n.Updated = now
			return *n
		}
	}
	m.st.NextID++
	n := &Notification{
		ID:      fmt.Sprintf("N%d", m.st.NextID),
		Type:    typ,
		Source:  source,
		Count:   1,
		Created: now,
		Updated: now,
	}
	m.st.Notifications = append(m.st.Notifications, n)
	return *n
}

// Notifications returns copies in creation order.
func (m *Module) Notifications() []Notification {
	out := make([]Notification, len(m.st.Notifications))
	for i, n := range m.st.Notifications {
		out[i] = *n
	}
	return out
}

// Pending returns the number of unprocessed notifications.
func (m *Module) Pending() int {
	n := 0
	for _, x := range m.st.Notifications {
		if !x.Processed {
			n++
		}
	}
	return n
}

func (m *Module) find(id string) (*Notification, bool) {
	for _, n := range m.st.Notifications {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// prune drops the oldest processed notifications beyond keepProcessed.
func (m *Module) prune() {
	processed := len(m.st.Notifications) - m.Pending()
	if processed <= keepProcessed {
		return
	}
	drop := processed - keepProcessed
	out := m.st.Notifications[:0]
	for _, n := range m.st.Notifications {
		if n.Processed && drop > 0 {
			drop--
			continue
		}
		out = append(out, n)
	}
	m.st.Notifications = out
}

// Render formats the open notifications as panel text.
func (m *Module) Render() string {
	var sb strings.Builder
	for _, n := range m.st.Notifications {
		if n.Processed {
			continue
		}
		fmt.Fprintf(&sb, "[%s] %s: %s", n.ID, describe(n.Type), n.Source)
		if n.Count > 1 {
			fmt.Fprintf(&sb, " (x%d)", n.Count)
		}
		sb.WriteByte('\n')
	}
	if sb.Len() == 0 {
		return "No open notifications"
	}
	return strings.TrimRight(sb.String(), "\n")
}

func describe(t Type) string {
	switch t {
	case FileChanged:
		return "file changed"
	case DirChanged:
		return "directory changed"
	case Command:
		return "mutating command finished"
	}
	return string(t)
}

func (m *Module) Save() ([]byte, error) {
	if len(m.st.Notifications) == 0 && m.st.NextID == 0 {
		return nil, nil
	}
	return json.Marshal(m.st)
}

func (m *Module) Load(data []byte) error {
	if len(data) == 0 {
		m.st = state{}
		return nil
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode notifications: %w", err)
	}
	m.st = st
	return nil
}

func (m *Module) markProcessedTool() *tools.Tool {
	return &tools.Tool{
		Name:        "notification_mark_processed",
		Description: "Mark a notification as processed so it leaves the notifications panel",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    60,
		Execute: func(_ context.Context, host tools.Host, args map[string]any) (string, error) {
			id, err := tools.RequireString(args, "id")
			if err != nil {
				return "", err
			}
			n, ok := m.find(id)
			if !ok {
				return "", fmt.Errorf("notification '%s' not found", id)
			}
			if n.Processed {
				return fmt.Sprintf("Notification %s is already processed", id), nil
			}
			n.Processed = true
			m.prune()
			if _, err := tools.ShowPanel(host, ID, panel.KindNotifications); err != nil {
				return "", err
			}
			return fmt.Sprintf("Marked notification %s as processed", id), nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"id"},
			Properties: map[string]tools.Property{
				"id": {Type: "string", Description: "Notification id, e.g. N1"},
			},
		},
	}
}
