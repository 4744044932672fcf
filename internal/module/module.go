// Package module holds the module registry: the set of modules that supply
// tools and panel factories, activated in dependency order.
package module

import (
	"ctxpilot/internal/invalidation"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/tools"
)

// Module is the capability interface every module variant implements. The
// registry never inspects concrete types beyond it.
type Module interface {
	ID() string
	Description() string
	Dependencies() []string
	Tools() []*tools.Tool
	PanelFactories() []panel.Factory

	// Save returns opaque module state; nil means nothing to persist.
	Save() ([]byte, error)
	// Load restores state produced by Save.
	Load(data []byte) error
}

// Listener is implemented by modules that react to workspace changes.
type Listener interface {
	Observe(host tools.Host, sig invalidation.Signal)
}

// Base carries the identity fields shared by module implementations.
// Embedders supply Tools and PanelFactories.
type Base struct {
	ModuleID  string
	Summary   string
	DependsOn []string
}

func (b Base) ID() string             { return b.ModuleID }
func (b Base) Description() string    { return b.Summary }
func (b Base) Dependencies() []string { return b.DependsOn }

// Save persists nothing.
func (Base) Save() ([]byte, error) { return nil, nil }

// Load accepts and ignores any state.
func (Base) Load([]byte) error { return nil }
