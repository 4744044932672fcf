// Package provider defines the model dispatch adapter contract: an
// assembled prompt goes in, a stream of events comes out.
package provider

import (
	"context"

	"ctxpilot/internal/history"
)

// ToolSpec describes a tool offered to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// PanelPair is one panel serialized as a synthetic context_view call and
// its result.
type PanelPair struct {
	CallID  string         `json:"call_id"`
	PanelID string         `json:"panel_id"`
	Args    map[string]any `json:"args"`
	Result  string         `json:"result"`
	Tokens  int            `json:"tokens"`
}

// Prompt is the assembled request for one model call.
type Prompt struct {
	ID          string            `json:"id"`
	System      string            `json:"system"`
	Panels      []PanelPair       `json:"panels"`
	Reinjection string            `json:"reinjection,omitempty"`
	History     []history.Message `json:"history"`
	Tools       []ToolSpec        `json:"tools,omitempty"`
	Tokens      int               `json:"tokens"`
}

// ContextViewTool is the name of the synthetic tool panels are attributed to.
const ContextViewTool = "context_view"

// Messages linearizes the prompt in sending order: panel pairs, the
// re-injected instructions, then the conversation. System is sent separately.
func (p *Prompt) Messages() []history.Message {
	out := make([]history.Message, 0, 2*len(p.Panels)+1+len(p.History))
	for _, pair := range p.Panels {
		out = append(out,
			history.Message{
				Origin:    history.OriginAgent,
				Role:      history.RoleAssistant,
				ToolCalls: []history.ToolCall{{ID: pair.CallID, Name: ContextViewTool, Args: pair.Args}},
			},
			history.Message{
				Origin:     history.OriginTool,
				Role:       history.RoleTool,
				Content:    pair.Result,
				ToolCallID: pair.CallID,
				ToolName:   ContextViewTool,
				Tokens:     pair.Tokens,
			},
		)
	}
	if p.Reinjection != "" {
		out = append(out, history.Message{Role: history.RoleSystem, Content: p.Reinjection})
	}
	return append(out, p.History...)
}

// EventKind classifies stream events.
type EventKind int

const (
	EventText EventKind = iota
	EventToolCall
	EventError
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventToolCall:
		return "tool_call"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one streamed item of a model response.
type Event struct {
	Kind     EventKind
	Text     string
	ToolCall *history.ToolCall
	Err      error
}

// Adapter dispatches prompts to a model. The returned channel is closed
// after a Done or Error event.
type Adapter interface {
	Name() string
	Stream(ctx context.Context, prompt *Prompt) (<-chan Event, error)
}
