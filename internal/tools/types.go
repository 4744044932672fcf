// Package tools defines the tools modules expose to the model and the
// registry that dispatches tool calls.
//
// Architecture:
//
//	Module.Tools() → Registry.Register() → Registry.Execute(host, name, args)
//
// Sync tools run inline on the main loop and may mutate session state through
// the Host. Async tools only create or refresh panels and return at once; the
// content arrives later through the worker pool.
package tools

import (
	"context"
	"time"

	"ctxpilot/internal/panel"
)

// Mode says how a tool runs.
type Mode string

const (
	// ModeSync tools complete inline on the main thread.
	ModeSync Mode = "sync"
	// ModeAsync tools create or refresh panels and return before content exists.
	ModeAsync Mode = "async"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// Host is the session surface a tool may use. All calls happen on the main
// loop, so implementations need no locking.
type Host interface {
	// Workspace returns the workspace root directory.
	Workspace() string

	// Now returns the session clock.
	Now() time.Time

	// OpenPanel creates a panel of the given kind for source, or returns the
	// existing one, and makes sure a fetch is requested.
	OpenPanel(module string, kind panel.Kind, source string, params map[string]string) (panel.ID, error)

	// ClosePanel destroys a panel.
	ClosePanel(id panel.ID) error

	// RefreshPanel marks a panel stale and requests a refetch.
	RefreshPanel(id panel.ID) error

	// RefreshKind refreshes every panel of a kind owned by module.
	RefreshKind(module string, kind panel.Kind)

	// Panel returns a snapshot of one panel.
	Panel(id panel.ID) (panel.Element, bool)

	// Panels returns snapshots of all panels in creation order.
	Panels() []panel.Element

	// SetPanelVisible opens or closes a panel in the view without destroying it.
	SetPanelVisible(id panel.ID, visible bool) error

	// PinPanel exempts a panel from per-turn eviction.
	PinPanel(id panel.ID, pinned bool) error

	// CommandCompleted reports a finished external command. Mutating
	// commands synchronously invalidate every panel of the subsystem.
	CommandCompleted(subsystem string, mutating bool)

	// InvalidateSource invalidates panels of a kind whose source is path or
	// contains it.
	InvalidateSource(kind panel.Kind, path string)
}

// ExecuteFunc is the signature for tool execution.
// Returns the result string and any error.
type ExecuteFunc func(ctx context.Context, host Host, args map[string]any) (string, error)

// Tool defines a tool exposed by a module.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description explains what the tool does.
	// Used for LLM tool calling and documentation.
	Description string

	// Module is the id of the owning module.
	Module string

	// Mode says whether the tool completes inline or via panels.
	Mode Mode

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema

	// Priority orders tool listings (default 50).
	Priority int
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	if t.Mode != "" && t.Mode != ModeSync && t.Mode != ModeAsync {
		return ErrToolModeInvalid
	}
	return nil
}

// JSONSchema returns the argument schema as a JSON schema object.
func (t *Tool) JSONSchema() map[string]any {
	props := make(map[string]any, len(t.Schema.Properties))
	for name, p := range t.Schema.Properties {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Items != nil {
			prop["items"] = map[string]any{"type": p.Items.Type}
		}
		props[name] = prop
	}
	required := t.Schema.Required
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ToolResult wraps the result of tool execution with metadata.
type ToolResult struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Result is the string output from the tool.
	Result string

	// Error is set if the tool failed.
	Error error

	// DurationMs is how long execution took.
	DurationMs int64
}

// IsSuccess returns true if the tool executed without error.
func (r *ToolResult) IsSuccess() bool {
	return r.Error == nil
}

// Text is what the model sees as the tool result.
func (r *ToolResult) Text() string {
	if r.Error != nil {
		return "Error: " + r.Error.Error()
	}
	return r.Result
}
