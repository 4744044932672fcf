// Package scratch is the module for the scratchpad: titled cells the model
// uses for working notes that need no ranking.
package scratch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ctxpilot/internal/module"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/tools"
)

const ID = "scratch"

// Cell is one scratchpad entry.
type Cell struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type state struct {
	NextID int    `json:"next_id"`
	Cells  []Cell `json:"cells"`
}

// Module holds the scratchpad cells.
type Module struct {
	module.Base
	st      state
	factory *panel.Template
}

func New() *Module {
	m := &Module{Base: module.Base{ModuleID: ID, Summary: "Scratchpad cells for working notes"}}
	m.factory = &panel.Template{
		Type:     panel.KindScratchpad,
		System:   ID,
		Refresh:  panel.StrategyManual,
		Priority: 65,
		TitleFunc: func(string, map[string]string) string {
			return "Scratchpad"
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
	return []*tools.Tool{m.createTool(), m.editTool(), m.wipeTool()}
}

// Cells returns a copy of the cells in creation order.
func (m *Module) Cells() []Cell {
	return append([]Cell(nil), m.st.Cells...)
}

func (m *Module) Save() ([]byte, error) {
	if len(m.st.Cells) == 0 && m.st.NextID == 0 {
		return nil, nil
	}
	return json.Marshal(m.st)
}

func (m *Module) Load(data []byte) error {
	m.st = state{}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &m.st); err != nil {
		return fmt.Errorf("decode scratchpad: %w", err)
	}
	return nil
}

// Render formats the cells as panel text.
func (m *Module) Render() string {
	if len(m.st.Cells) == 0 {
		return "Scratchpad is empty"
	}
	var sb strings.Builder
	for _, c := range m.st.Cells {
		fmt.Fprintf(&sb, "[%s] %s\n%s\n\n", c.ID, c.Title, c.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m *Module) index(id string) int {
	for i, c := range m.st.Cells {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (m *Module) createTool() *tools.Tool {
	return &tools.Tool{
		Name:        "scratch_create_cell",
		Description: "Add a cell to the scratchpad",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    50,
		Execute: func(_ context.Context, host tools.Host, args map[string]any) (string, error) {
			title, err := tools.RequireString(args, "title")
			if err != nil {
				return "", err
			}
			m.st.NextID++
			c := Cell{ID: fmt.Sprintf("C%d", m.st.NextID), Title: title, Content: tools.StringArg(args, "content", "")}
			m.st.Cells = append(m.st.Cells, c)
			if _, err := tools.ShowPanel(host, ID, panel.KindScratchpad); err != nil {
				return "", err
			}
			return "Created " + c.ID, nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"title"},
			Properties: map[string]tools.Property{
				"title":   {Type: "string", Description: "Cell title"},
				"content": {Type: "string", Description: "Cell text"},
			},
		},
	}
}

func (m *Module) editTool() *tools.Tool {
	return &tools.Tool{
		Name:        "scratch_edit_cell",
		Description: "Replace the title or content of a scratchpad cell",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    45,
		Execute: func(_ context.Context, host tools.Host, args map[string]any) (string, error) {
			id, err := tools.RequireString(args, "cell_id")
			if err != nil {
				return "", err
			}
			i := m.index(id)
			if i < 0 {
				return "", fmt.Errorf("unknown cell %s", id)
			}
			if v := tools.StringArg(args, "title", ""); v != "" {
				m.st.Cells[i].Title = v
			}
			if v, ok := args["content"].(string); ok {
				m.st.Cells[i].Content = v
			}
			if _, err := tools.ShowPanel(host, ID, panel.KindScratchpad); err != nil {
				return "", err
			}
			return "Edited " + id, nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"cell_id"},
			Properties: map[string]tools.Property{
				"cell_id": {Type: "string", Description: "Cell id, e.g. C1"},
				"title":   {Type: "string", Description: "New title"},
				"content": {Type: "string", Description: "New content"},
			},
		},
	}
}

func (m *Module) wipeTool() *tools.Tool {
	return &tools.Tool{
		Name:        "scratch_wipe",
		Description: "Delete scratchpad cells, or all of them when no ids are given",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    40,
		Execute: func(_ context.Context, host tools.Host, args map[string]any) (string, error) {
			ids := tools.StringsArg(args, "cell_ids")
			var out string
			if len(ids) == 0 {
				out = fmt.Sprintf("Wiped %d cells", len(m.st.Cells))
				m.st.Cells = nil
			} else {
				var removed []string
				for _, id := range ids {
					if i := m.index(id); i >= 0 {
						m.st.Cells = append(m.st.Cells[:i], m.st.Cells[i+1:]...)
						removed = append(removed, id)
					}
				}
				if len(removed) == 0 {
					return "", fmt.Errorf("unknown cells: %s", strings.Join(ids, ", "))
				}
				out = "Deleted " + strings.Join(removed, ", ")
			}
			if _, err := tools.ShowPanel(host, ID, panel.KindScratchpad); err != nil {
				return "", err
			}
			return out, nil
		},
		Schema: tools.ToolSchema{
			Properties: map[string]tools.Property{
				"cell_ids": {Type: "array", Description: "Cells to delete (default: all)", Items: &tools.PropertyItems{Type: "string"}},
			},
		},
	}
}
