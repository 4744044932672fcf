package module

import (
	"fmt"
	"sort"

	"ctxpilot/internal/logging"
)

// Preset is a named bundle of active modules and tool permissions.
type Preset struct {
	Name    string              `json:"name" yaml:"name"`
	Modules []string            `json:"modules" yaml:"modules"`
	Tools   map[string][]string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// Snapshot captures the live configuration as a preset.
func (r *Registry) Snapshot(name string) Preset {
	return Preset{
		Name:    name,
		Modules: r.Order(),
		Tools:   r.Permissions(),
	}
}

// Restore makes the active set exactly p.Modules and applies its
// permissions. The target set is validated first; on error the registry is
// unchanged. Returns the deactivated and activated module ids.
func (r *Registry) Restore(p Preset) (deactivated, activated []string, err error) {
	target := make(map[string]bool, len(p.Modules))
	for _, id := range p.Modules {
		target[id] = true
	}
	order, err := r.plan(target)
	if err != nil {
		logging.ModuleWarn("Preset %s rejected: %v", p.Name, err)
		return nil, nil, fmt.Errorf("preset %s: %w", p.Name, err)
	}

	// Target modules only depend on target modules, so removing the rest
	// dependents-first never strands anything.
	for i := len(r.order) - 1; i >= 0; i-- {
		id := r.order[i]
		if target[id] {
			continue
		}
		r.unpublish(id)
		delete(r.active, id)
		deactivated = append(deactivated, id)
	}
	for _, id := range order {
		if r.active[id] {
			continue
		}
		r.publish(r.modules[id])
		r.active[id] = true
		activated = append(activated, id)
	}
	r.order = r.extendOrder(order)

	r.perms = make(map[string]map[string]bool)
	for module, names := range p.Tools {
		r.SetPermissions(module, names)
	}

	logging.Module("Restored preset %s: -%v +%v", p.Name, deactivated, activated)
	return deactivated, activated, nil
}

// DefinePreset stores a preset by name, replacing any previous definition.
func (r *Registry) DefinePreset(p Preset) {
	r.presets[p.Name] = p
}

// Preset returns a stored preset.
func (r *Registry) Preset(name string) (Preset, bool) {
	p, ok := r.presets[name]
	return p, ok
}

// Presets returns stored presets sorted by name.
func (r *Registry) Presets() []Preset {
	out := make([]Preset, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadPreset restores a stored preset by name.
func (r *Registry) LoadPreset(name string) (deactivated, activated []string, err error) {
	p, ok := r.presets[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}
	return r.Restore(p)
}
