package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ctxpilot/internal/logging"
)

// Registry holds all available tools and provides lookup functionality.
// It is thread-safe; the session mutates it on the main loop while the MCP
// bridge reads it from its own goroutine.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool

	// byModule provides fast lookup by owning module.
	byModule map[string][]*Tool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]*Tool),
		byModule: make(map[string][]*Tool),
	}
}

// Register adds a tool to the registry.
// Returns an error if a tool with the same name already exists.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}

	if tool.Priority == 0 {
		tool.Priority = 50
	}
	if tool.Mode == "" {
		tool.Mode = ModeSync
	}

	r.tools[tool.Name] = tool
	r.byModule[tool.Module] = append(r.byModule[tool.Module], tool)

	logging.ToolsDebug("Registered tool: %s (module=%s, mode=%s)", tool.Name, tool.Module, tool.Mode)
	return nil
}

// MustRegister registers a tool and panics on error.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Unregister removes a tool by name. It reports whether the tool existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tool, ok := r.tools[name]
	if !ok {
		return false
	}
	delete(r.tools, name)
	list := r.byModule[tool.Module]
	for i, t := range list {
		if t == tool {
			r.byModule[tool.Module] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.byModule[tool.Module]) == 0 {
		delete(r.byModule, tool.Module)
	}
	return true
}

// UnregisterModule removes every tool owned by module and returns their names.
func (r *Registry) UnregisterModule(module string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byModule[module]
	names := make([]string, 0, len(list))
	for _, t := range list {
		delete(r.tools, t.Name)
		names = append(names, t.Name)
	}
	delete(r.byModule, module)
	if len(names) > 0 {
		logging.ToolsDebug("Unregistered %d tools of module %s", len(names), module)
	}
	return names
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// ByModule returns the tools of a module, sorted by priority (descending)
// then name.
func (r *Registry) ByModule(module string) []*Tool {
	r.mu.RLock()
	tools := make([]*Tool, len(r.byModule[module]))
	copy(tools, r.byModule[module])
	r.mu.RUnlock()

	sortTools(tools)
	return tools
}

// All returns all registered tools sorted by priority then name.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	result := make([]*Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	r.mu.RUnlock()

	sortTools(result)
	return result
}

func sortTools(tools []*Tool) {
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].Priority != tools[j].Priority {
			return tools[i].Priority > tools[j].Priority
		}
		return tools[i].Name < tools[j].Name
	})
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs a tool by name with the given arguments.
// Returns ErrToolNotFound if the tool doesn't exist.
func (r *Registry) Execute(ctx context.Context, host Host, name string, args map[string]any) (*ToolResult, error) {
	tool := r.Get(name)
	if tool == nil {
		err := fmt.Errorf("%w: %s", ErrToolNotFound, name)
		return &ToolResult{ToolName: name, Error: err}, err
	}

	return ExecuteTool(ctx, host, tool, args)
}

// ExecuteTool runs a specific tool with the given arguments.
func ExecuteTool(ctx context.Context, host Host, tool *Tool, args map[string]any) (*ToolResult, error) {
	start := time.Now()
	if args == nil {
		args = map[string]any{}
	}

	if err := validateArgs(tool, args); err != nil {
		return &ToolResult{
			ToolName:   tool.Name,
			Error:      err,
			DurationMs: time.Since(start).Milliseconds(),
		}, err
	}

	logging.ToolsDebug("Executing tool: %s", tool.Name)
	result, err := tool.Execute(ctx, host, args)

	duration := time.Since(start)
	if err != nil {
		logging.ToolsWarn("Tool %s failed after %v: %v", tool.Name, duration, err)
	} else {
		logging.ToolsDebug("Tool %s completed in %v", tool.Name, duration)
	}

	return &ToolResult{
		ToolName:   tool.Name,
		Result:     result,
		Error:      err,
		DurationMs: duration.Milliseconds(),
	}, err
}

// validateArgs checks that all required arguments are present.
func validateArgs(tool *Tool, args map[string]any) error {
	for _, required := range tool.Schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, required)
		}
	}
	return nil
}
