// Package files is the module for file and directory-tree panels and the
// tools that read, create and edit files.
package files

import (
	"context"
	"path/filepath"
	"strconv"

	"ctxpilot/internal/module"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/tools"
	"ctxpilot/internal/world"
)

// ID is the module id.
const ID = "files"

// Subsystem groups file panels for command-driven invalidation.
const Subsystem = "files"

// Module provides file and tree panels.
type Module struct {
	module.Base
	fileFactory *panel.Template
	treeFactory *panel.Template
	ignore      *world.Ignore
}

// New creates the files module. Tree panels skip paths matched by ignore;
// nil uses the defaults.
func New(ignore *world.Ignore) *Module {
	m := &Module{Base: module.Base{
		ModuleID: ID,
		Summary:  "Open, create and edit files; directory tree panels",
	}, ignore: ignore}
	m.fileFactory = &panel.Template{
		Type:      panel.KindFile,
		System:    Subsystem,
		Refresh:   panel.StrategyWatch,
		Priority:  60,
		TitleFunc: func(source string, _ map[string]string) string { return filepath.Base(source) },
		Fetch:     fetchFile,
	}
	m.treeFactory = &panel.Template{
		Type:     panel.KindTree,
		System:   Subsystem,
		Refresh:  panel.StrategyWatch,
		Priority: 40,
		TitleFunc: func(source string, _ map[string]string) string {
			return filepath.Base(source) + "/"
		},
		Fetch: m.fetchTree,
	}
	return m
}

func (m *Module) PanelFactories() []panel.Factory {
	return []panel.Factory{m.fileFactory, m.treeFactory}
}

func (m *Module) Tools() []*tools.Tool {
	return []*tools.Tool{
		OpenFileTool(),
		CreateFileTool(),
		EditFileTool(),
		DeleteFileTool(),
		OpenTreeTool(),
	}
}

func fetchFile(e panel.Element) panel.FetchFunc {
	path := e.Source
	return func(context.Context) (panel.Content, error) {
		f, err := world.ReadFile(path)
		if err != nil {
			return panel.Content{}, err
		}
		return panel.Content{Text: f.Text, Hash: f.Hash}, nil
	}
}

func (m *Module) fetchTree(e panel.Element) panel.FetchFunc {
	root := e.Source
	depth, _ := strconv.Atoi(e.Param("depth"))
	return func(ctx context.Context) (panel.Content, error) {
		text, err := world.Tree(ctx, root, world.TreeOptions{MaxDepth: depth, Ignore: m.ignore})
		if err != nil {
			return panel.Content{}, err
		}
		return panel.Content{Text: text}, nil
	}
}
