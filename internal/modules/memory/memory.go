// Package memory is the module for persistent notes the model keeps about
// its work. Notes render into a single panel sorted by importance.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"ctxpilot/internal/module"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/tools"
)

// ID is the module id.
const ID = "memory"

// Importance ranks a note. Higher importance sorts first.
type Importance string

const (
	Critical Importance = "critical"
	High     Importance = "high"
	Medium   Importance = "medium"
	Low      Importance = "low"
)

func (i Importance) rank() int {
	switch i {
	case Critical:
		return 0
	case High:
		return 1
	case Medium:
		return 2
	default:
		return 3
	}
}

// ParseImportance accepts the four importance names; empty means medium.
func ParseImportance(s string) (Importance, error) {
	switch Importance(strings.ToLower(s)) {
	case "":
		return Medium, nil
	case Critical, High, Medium, Low:
		return Importance(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("%w: importance must be critical, high, medium or low, got %q", tools.ErrInvalidArg, s)
}

// Note is one memory entry. Closed notes render only their tl;dr.
type Note struct {
	ID         string     `json:"id"`
	TLDR       string     `json:"tl_dr"`
	Contents   string     `json:"contents,omitempty"`
	Importance Importance `json:"importance"`
	Labels     []string   `json:"labels,omitempty"`
	Open       bool       `json:"open,omitempty"`
}

type state struct {
	NextID int     `json:"next_id"`
	Notes  []*Note `json:"notes"`
}

// Module holds the notes. Only tools running on the main loop mutate them.
type Module struct {
	module.Base
	st      state
	factory *panel.Template
}

// New creates an empty memory module.
func New() *Module {
	m := &Module{Base: module.Base{ModuleID: ID, Summary: "Notes kept across turns, ranked by importance"}}
	m.factory = &panel.Template{
		Type:     panel.KindMemory,
		System:   ID,
		Refresh:  panel.StrategyManual,
		Priority: 70,
		TitleFunc: func(string, map[string]string) string {
			return "Memories"
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
	return []*tools.Tool{m.createTool(), m.updateTool(), m.deleteTool(), m.openTool()}
}

// Notes returns the notes in creation order.
func (m *Module) Notes() []Note {
	out := make([]Note, len(m.st.Notes))
	for i, n := range m.st.Notes {
		out[i] = *n
		out[i].Labels = slices.Clone(n.Labels)
	}
	return out
}

func (m *Module) Save() ([]byte, error) {
	if len(m.st.Notes) == 0 && m.st.NextID == 0 {
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
		return fmt.Errorf("decode memory state: %w", err)
	}
	m.st = st
	return nil
}

// Render formats the notes as panel text.
func (m *Module) Render() string {
	if len(m.st.Notes) == 0 {
		return "No memories"
	}
	sorted := slices.Clone(m.st.Notes)
	slices.SortStableFunc(sorted, func(a, b *Note) int {
		return a.Importance.rank() - b.Importance.rank()
	})

	var sb strings.Builder
	for _, n := range sorted {
		fmt.Fprintf(&sb, "[%s] %s (%s)", n.ID, n.TLDR, n.Importance)
		if len(n.Labels) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(n.Labels, ", "))
		}
		sb.WriteByte('\n')
		if n.Open && n.Contents != "" {
			sb.WriteString(n.Contents)
			sb.WriteString("\n\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m *Module) find(id string) (*Note, bool) {
	for _, n := range m.st.Notes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

func (m *Module) changed(host tools.Host) error {
	_, err := tools.ShowPanel(host, ID, panel.KindMemory)
	return err
}
