package memory

import (
	"context"
	"fmt"
	"strings"

	"ctxpilot/internal/tools"
)

func (m *Module) createTool() *tools.Tool {
	return &tools.Tool{
		Name:        "memory_create",
		Description: "Save a note that stays in context across turns",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    65,
		Execute: func(_ context.Context, host tools.Host, args map[string]any) (string, error) {
			tldr, err := tools.RequireString(args, "tl_dr")
			if err != nil {
				return "", err
			}
			imp, err := ParseImportance(tools.StringArg(args, "importance", ""))
			if err != nil {
				return "", err
			}
			m.st.NextID++
			n := &Note{
				ID:         fmt.Sprintf("M%d", m.st.NextID),
				TLDR:       tldr,
				Contents:   tools.StringArg(args, "contents", ""),
				Importance: imp,
				Labels:     tools.StringsArg(args, "labels"),
			}
			m.st.Notes = append(m.st.Notes, n)
			if err := m.changed(host); err != nil {
				return "", err
			}
			return "Created " + n.ID, nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"tl_dr"},
			Properties: map[string]tools.Property{
				"tl_dr":      {Type: "string", Description: "One-line summary, always shown"},
				"contents":   {Type: "string", Description: "Full text, shown while the note is open"},
				"importance": {Type: "string", Description: "Ranking (default: medium)", Enum: importanceEnum},
				"labels":     {Type: "array", Description: "Free-form labels", Items: &tools.PropertyItems{Type: "string"}},
			},
		},
	}
}

var importanceEnum = []any{string(Critical), string(High), string(Medium), string(Low)}

func (m *Module) updateTool() *tools.Tool {
	return &tools.Tool{
		Name:        "memory_update",
		Description: "Change fields of an existing note; omitted fields are kept",
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
				return "", fmt.Errorf("unknown note %s", id)
			}
			if v, ok := args["importance"].(string); ok {
				imp, err := ParseImportance(v)
				if err != nil {
					return "", err
				}
				n.Importance = imp
			}
			if v, ok := args["tl_dr"].(string); ok && v != "" {
				n.TLDR = v
			}
			if v, ok := args["contents"].(string); ok {
				n.Contents = v
			}
			if _, ok := args["labels"]; ok {
				n.Labels = tools.StringsArg(args, "labels")
			}
			if err := m.changed(host); err != nil {
				return "", err
			}
			return "Updated " + id, nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"id"},
			Properties: map[string]tools.Property{
				"id":         {Type: "string", Description: "Note id, e.g. M2"},
				"tl_dr":      {Type: "string", Description: "New summary"},
				"contents":   {Type: "string", Description: "New full text"},
				"importance": {Type: "string", Description: "New ranking", Enum: importanceEnum},
				"labels":     {Type: "array", Description: "Replacement labels", Items: &tools.PropertyItems{Type: "string"}},
			},
		},
	}
}

func (m *Module) deleteTool() *tools.Tool {
	return &tools.Tool{
		Name:        "memory_delete",
		Description: "Delete notes",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    55,
		Execute: func(_ context.Context, host tools.Host, args map[string]any) (string, error) {
			ids := tools.StringsArg(args, "ids")
			if len(ids) == 0 {
				return "", fmt.Errorf("%w: ids", tools.ErrMissingRequiredArg)
			}
			var deleted, unknown []string
			for _, id := range ids {
				idx := -1
				for i, n := range m.st.Notes {
					if n.ID == id {
						idx = i
						break
					}
				}
				if idx < 0 {
					unknown = append(unknown, id)
					continue
				}
				m.st.Notes = append(m.st.Notes[:idx], m.st.Notes[idx+1:]...)
				deleted = append(deleted, id)
			}
			if len(deleted) == 0 {
				return "", fmt.Errorf("unknown notes: %s", strings.Join(unknown, ", "))
			}
			if err := m.changed(host); err != nil {
				return "", err
			}
			out := "Deleted " + strings.Join(deleted, ", ")
			if len(unknown) > 0 {
				out += "; unknown: " + strings.Join(unknown, ", ")
			}
			return out, nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"ids"},
			Properties: map[string]tools.Property{
				"ids": {Type: "array", Description: "Note ids", Items: &tools.PropertyItems{Type: "string"}},
			},
		},
	}
}

func (m *Module) openTool() *tools.Tool {
	return &tools.Tool{
		Name:        "memory_open",
		Description: "Show or hide the full contents of a note",
		Module:      ID,
		Mode:        tools.ModeSync,
		Priority:    50,
		Execute: func(_ context.Context, host tools.Host, args map[string]any) (string, error) {
			id, err := tools.RequireString(args, "id")
			if err != nil {
				return "", err
			}
			n, ok := m.find(id)
			if !ok {
				return "", fmt.Errorf("unknown note %s", id)
			}
			n.Open = tools.BoolArg(args, "open", true)
			if err := m.changed(host); err != nil {
				return "", err
			}
			if n.Open {
				return "Opened " + id, nil
			}
			return "Closed " + id, nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"id"},
			Properties: map[string]tools.Property{
				"id":   {Type: "string", Description: "Note id"},
				"open": {Type: "boolean", Description: "Show full contents (default: true)", Default: true},
			},
		},
	}
}
