// Package vcs provides the git modules: vcs-read owns the status and log
// panels and read-only queries; vcs-write runs classified git commands and
// reports mutating ones so git panels are invalidated at once.
package vcs

import (
	"context"
	"strconv"

	"ctxpilot/internal/module"
	"ctxpilot/internal/panel"
	"ctxpilot/internal/tactile"
	"ctxpilot/internal/tools"
)

const (
	ReadID  = "vcs-read"
	WriteID = "vcs-write"

	// Subsystem groups every git panel for command-driven invalidation.
	Subsystem = "git"
)

// ReadModule provides git status and log panels.
type ReadModule struct {
	module.Base
	exec      tactile.Executor
	status    *panel.Template
	log       *panel.Template
	toolsList []*tools.Tool
}

// NewRead creates the vcs-read module running git through exec.
func NewRead(exec tactile.Executor) *ReadModule {
	m := &ReadModule{
		Base: module.Base{ModuleID: ReadID, Summary: "Git status and log panels, read-only git queries"},
		exec: exec,
	}
	m.status = &panel.Template{
		Type:      panel.KindGitStatus,
		System:    Subsystem,
		Refresh:   panel.StrategyTimer,
		Priority:  55,
		TitleFunc: func(string, map[string]string) string { return "git status" },
		Fetch:     m.fetchStatus,
	}
	m.log = &panel.Template{
		Type:      panel.KindGitLog,
		System:    Subsystem,
		Refresh:   panel.StrategyCommand,
		Priority:  35,
		TitleFunc: func(string, map[string]string) string { return "git log" },
		Fetch:     m.fetchLog,
	}
	m.toolsList = []*tools.Tool{m.statusTool(), m.logTool(), m.queryTool()}
	return m
}

func (m *ReadModule) PanelFactories() []panel.Factory { return []panel.Factory{m.status, m.log} }
func (m *ReadModule) Tools() []*tools.Tool            { return m.toolsList }

func (m *ReadModule) fetchStatus(e panel.Element) panel.FetchFunc {
	git := tactile.NewGit(m.exec, e.Source)
	return func(ctx context.Context) (panel.Content, error) {
		out, err := git.Status(ctx)
		if err != nil {
			return panel.Content{}, err
		}
		return panel.Content{Text: out}, nil
	}
}

func (m *ReadModule) fetchLog(e panel.Element) panel.FetchFunc {
	git := tactile.NewGit(m.exec, e.Source)
	n, _ := strconv.Atoi(e.Param("count"))
	return func(ctx context.Context) (panel.Content, error) {
		out, err := git.Log(ctx, n)
		if err != nil {
			return panel.Content{}, err
		}
		return panel.Content{Text: out}, nil
	}
}

// WriteModule runs arbitrary classified git commands.
type WriteModule struct {
	module.Base
	exec tactile.Executor
}

// NewWrite creates the vcs-write module. It depends on vcs-read.
func NewWrite(exec tactile.Executor) *WriteModule {
	return &WriteModule{
		Base: module.Base{
			ModuleID:  WriteID,
			Summary:   "Run git commands that change the repository",
			DependsOn: []string{ReadID},
		},
		exec: exec,
	}
}

func (m *WriteModule) PanelFactories() []panel.Factory { return nil }
func (m *WriteModule) Tools() []*tools.Tool            { return []*tools.Tool{m.gitTool(), m.commitTool()} }
