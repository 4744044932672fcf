package module

import (
	"fmt"
	"sort"

	"ctxpilot/internal/invalidation"
	"ctxpilot/internal/logging"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/tools"
)

// Registry tracks known and active modules. It is owned by the main loop.
// Tools of active modules are kept registered in the tool registry.
type Registry struct {
	modules map[string]Module
	known   []string // registration order

	active map[string]bool
	order  []string // activation order of the active set

	// perms maps module id to its allowed tool names; absent means all.
	perms map[string]map[string]bool

	presets map[string]Preset

	tools *tools.Registry
}

// NewRegistry creates an empty registry publishing tools into toolReg.
func NewRegistry(toolReg *tools.Registry) *Registry {
	if toolReg == nil {
		toolReg = tools.NewRegistry()
	}
	return &Registry{
		modules: make(map[string]Module),
		active:  make(map[string]bool),
		perms:   make(map[string]map[string]bool),
		presets: make(map[string]Preset),
		tools:   toolReg,
	}
}

// ToolRegistry returns the registry holding the tools of active modules.
func (r *Registry) ToolRegistry() *tools.Registry { return r.tools }

// Register makes a module known without activating it.
func (r *Registry) Register(m Module) error {
	id := m.ID()
	if id == "" {
		return fmt.Errorf("module id cannot be empty")
	}
	if _, exists := r.modules[id]; exists {
		return fmt.Errorf("module already registered: %s", id)
	}
	r.modules[id] = m
	r.known = append(r.known, id)
	logging.ModuleDebug("Registered module: %s (deps=%v)", id, m.Dependencies())
	return nil
}

// Module returns a registered module.
func (r *Registry) Module(id string) (Module, bool) {
	m, ok := r.modules[id]
	return m, ok
}

// Known returns registered module ids in registration order.
func (r *Registry) Known() []string {
	return append([]string(nil), r.known...)
}

// IsActive reports whether a module is active.
func (r *Registry) IsActive(id string) bool { return r.active[id] }

// Order returns active module ids in activation order: every module appears
// after all of its dependencies.
func (r *Registry) Order() []string {
	return append([]string(nil), r.order...)
}

// Activate activates the given modules in addition to the active set.
// Every dependency must be active or part of the same call. On any error
// nothing is activated. Returns the newly activated ids in activation order.
func (r *Registry) Activate(ids ...string) ([]string, error) {
	target := make(map[string]bool, len(r.active)+len(ids))
	for id := range r.active {
		target[id] = true
	}
	for _, id := range ids {
		target[id] = true
	}

	order, err := r.plan(target)
	if err != nil {
		logging.ModuleWarn("Activation of %v rejected: %v", ids, err)
		return nil, err
	}

	var added []string
	for _, id := range order {
		if r.active[id] {
			continue
		}
		r.publish(r.modules[id])
		r.active[id] = true
		added = append(added, id)
	}
	r.order = r.extendOrder(order)
	if len(added) > 0 {
		logging.Module("Activated modules %v (order=%v)", added, order)
	}
	return added, nil
}

// Deactivate deactivates a module. Active dependents make it fail with a
// *ConfigError unless cascade is set, in which case dependents are
// deactivated first. Returns the deactivated ids in deactivation order.
func (r *Registry) Deactivate(id string, cascade bool) ([]string, error) {
	if !r.active[id] {
		return nil, configErr(id, "not active")
	}

	dependents := r.dependentsOf(id)
	if len(dependents) > 0 && !cascade {
		return nil, configErr(id, "required by active modules %v", dependents)
	}

	remove := make(map[string]bool, len(dependents)+1)
	remove[id] = true
	for _, d := range dependents {
		remove[d] = true
	}

	var removed []string
	for i := len(r.order) - 1; i >= 0; i-- {
		m := r.order[i]
		if !remove[m] {
			continue
		}
		r.unpublish(m)
		delete(r.active, m)
		removed = append(removed, m)
	}
	r.order = r.filterOrder()
	logging.Module("Deactivated modules %v", removed)
	return removed, nil
}

// dependentsOf returns active modules depending on id, directly or
// transitively, in activation order.
func (r *Registry) dependentsOf(id string) []string {
	affected := map[string]bool{id: true}
	var out []string
	for _, m := range r.order {
		if m == id {
			continue
		}
		for _, dep := range r.modules[m].Dependencies() {
			if affected[dep] {
				affected[m] = true
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// extendOrder keeps the modules of the current order that stay active in
// place and appends the rest of planned, which is dependency ordered.
func (r *Registry) extendOrder(planned []string) []string {
	keep := make(map[string]bool, len(planned))
	for _, id := range planned {
		keep[id] = true
	}
	out := make([]string, 0, len(planned))
	placed := make(map[string]bool, len(planned))
	for _, id := range r.order {
		if keep[id] {
			out = append(out, id)
			placed[id] = true
		}
	}
	for _, id := range planned {
		if !placed[id] {
			out = append(out, id)
		}
	}
	return out
}

func (r *Registry) filterOrder() []string {
	out := make([]string, 0, len(r.active))
	for _, id := range r.order {
		if r.active[id] {
			out = append(out, id)
		}
	}
	return out
}

// plan validates a prospective active set and returns its activation order.
func (r *Registry) plan(target map[string]bool) ([]string, error) {
	ids := make([]string, 0, len(target))
	for id := range target {
		if _, ok := r.modules[id]; !ok {
			return nil, configErr(id, "unknown module")
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for _, dep := range r.modules[id].Dependencies() {
			if !target[dep] {
				return nil, configErr(id, "dependency %s is not active", dep)
			}
		}
	}

	order, err := r.topoSort(ids)
	if err != nil {
		return nil, err
	}
	if err := r.checkConflicts(order); err != nil {
		return nil, err
	}
	return order, nil
}

// topoSort orders ids so dependencies come first. Ties are broken by id so
// the order is deterministic.
func (r *Registry) topoSort(ids []string) ([]string, error) {
	indegree := make(map[string]int, len(ids))
	successors := make(map[string][]string, len(ids))
	for _, id := range ids {
		seen := map[string]bool{}
		for _, dep := range r.modules[id].Dependencies() {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			indegree[id]++
			successors[dep] = append(successors[dep], id)
		}
	}

	var ready []string
	for _, id := range ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(ids))
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, succ := range successors[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}

	if len(order) < len(ids) {
		return nil, r.cycleError(ids, indegree)
	}
	return order, nil
}

// cycleError reports one dependency cycle among the modules left unsorted.
func (r *Registry) cycleError(ids []string, indegree map[string]int) *ConfigError {
	var start string
	for _, id := range ids {
		if indegree[id] > 0 {
			start = id
			break
		}
	}

	// Walk unsorted dependencies until a module repeats.
	pos := map[string]int{}
	var path []string
	cur := start
	for {
		if i, seen := pos[cur]; seen {
			cycle := append(append([]string(nil), path[i:]...), cur)
			return &ConfigError{Module: cur, Reason: "dependency cycle", Cycle: cycle}
		}
		pos[cur] = len(path)
		path = append(path, cur)
		next := ""
		for _, dep := range r.modules[cur].Dependencies() {
			if indegree[dep] > 0 {
				next = dep
				break
			}
		}
		if next == "" {
			return &ConfigError{Module: start, Reason: "dependency cycle"}
		}
		cur = next
	}
}

// checkConflicts rejects two modules providing the same tool or panel kind.
func (r *Registry) checkConflicts(order []string) error {
	toolOwner := map[string]string{}
	kindOwner := map[panel.Kind]string{}
	for _, id := range order {
		m := r.modules[id]
		for _, t := range m.Tools() {
			if owner, ok := toolOwner[t.Name]; ok {
				return configErr(id, "tool %s already provided by %s", t.Name, owner)
			}
			toolOwner[t.Name] = id
		}
		for _, f := range m.PanelFactories() {
			if owner, ok := kindOwner[f.Kind()]; ok {
				return configErr(id, "panel kind %s already provided by %s", f.Kind(), owner)
			}
			kindOwner[f.Kind()] = id
		}
	}
	return nil
}

func (r *Registry) publish(m Module) {
	for _, t := range m.Tools() {
		t.Module = m.ID()
		if err := r.tools.Register(t); err != nil {
			// Conflicts were rejected by plan; a leftover entry means the
			// tool registry was populated behind our back.
			logging.ModuleWarn("Module %s: %v", m.ID(), err)
		}
	}
}

func (r *Registry) unpublish(id string) {
	r.tools.UnregisterModule(id)
}

// Broadcast hands sig to every active Listener in activation order.
func (r *Registry) Broadcast(host tools.Host, sig invalidation.Signal) {
	for _, id := range r.order {
		if l, ok := r.modules[id].(Listener); ok {
			l.Observe(host, sig)
		}
	}
}

// Factory returns the active factory for a panel kind and its module id.
func (r *Registry) Factory(kind panel.Kind) (panel.Factory, string, bool) {
	for _, id := range r.order {
		for _, f := range r.modules[id].PanelFactories() {
			if f.Kind() == kind {
				return f, id, true
			}
		}
	}
	return nil, "", false
}

// ListPanelFactories returns factories of active modules in activation order.
func (r *Registry) ListPanelFactories() []panel.Factory {
	var out []panel.Factory
	for _, id := range r.order {
		out = append(out, r.modules[id].PanelFactories()...)
	}
	return out
}

// ListTools returns the tools of active modules that the current
// permissions allow, grouped by module in activation order.
func (r *Registry) ListTools() []*tools.Tool {
	var out []*tools.Tool
	for _, id := range r.order {
		for _, t := range r.tools.ByModule(id) {
			if r.allowed(id, t.Name) {
				out = append(out, t)
			}
		}
	}
	return out
}

// Allowed reports whether a tool is registered by an active module and
// permitted.
func (r *Registry) Allowed(name string) bool {
	t := r.tools.Get(name)
	if t == nil || !r.active[t.Module] {
		return false
	}
	return r.allowed(t.Module, name)
}

func (r *Registry) allowed(module, tool string) bool {
	set, ok := r.perms[module]
	if !ok {
		return true
	}
	return set[tool]
}

// SetPermissions restricts a module to the named tools. An empty list
// removes the restriction.
func (r *Registry) SetPermissions(module string, allowed []string) {
	if len(allowed) == 0 {
		delete(r.perms, module)
		return
	}
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	r.perms[module] = set
}

// Permissions returns the restricted tool list per module, sorted.
func (r *Registry) Permissions() map[string][]string {
	out := make(map[string][]string, len(r.perms))
	for module, set := range r.perms {
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		out[module] = names
	}
	return out
}

// SaveState collects the opaque state of every active module.
func (r *Registry) SaveState() (map[string][]byte, error) {
	out := make(map[string][]byte, len(r.order))
	for _, id := range r.order {
		data, err := r.modules[id].Save()
		if err != nil {
			return nil, fmt.Errorf("save module %s: %w", id, err)
		}
		if data != nil {
			out[id] = data
		}
	}
	return out, nil
}

// LoadState hands saved state back to registered modules. State for
// unknown modules is ignored.
func (r *Registry) LoadState(state map[string][]byte) error {
	for _, id := range r.known {
		data, ok := state[id]
		if !ok {
			continue
		}
		if err := r.modules[id].Load(data); err != nil {
			return fmt.Errorf("load module %s: %w", id, err)
		}
	}
	return nil
}
