package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ctxpilot/internal/config"
	"ctxpilot/internal/logging"
	"ctxpilot/internal/modules"
	"ctxpilot/internal/persist"
	"ctxpilot/internal/provider"
	"ctxpilot/internal/session"
	"ctxpilot/internal/tactile"
	"ctxpilot/internal/usage"
	"ctxpilot/internal/world"
)

// app bundles everything a command needs for one workspace.
type app struct {
	root    string
	cfg     *config.Config
	db      *persist.Store
	usage   *usage.Tracker
	session *session.Session
}

// resolveWorkspace returns the absolute workspace directory.
func resolveWorkspace() (string, error) {
	dir := workspace
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("workspace %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workspace %s is not a directory", abs)
	}
	return abs, nil
}

// openStore loads the config and opens the state database without
// creating a session.
func openStore() (*app, error) {
	root, err := resolveWorkspace()
	if err != nil {
		return nil, err
	}
	path := configPath
	if path == "" {
		path = config.DefaultPath(root)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Verbose()
	}
	if err := logging.Initialize(root, cfg.Logging.Options()); err != nil {
		return nil, err
	}

	a := &app{root: root, cfg: cfg}
	tracker, err := usage.NewTracker(filepath.Join(root, config.StateDirName))
	if err != nil {
		logging.BootWarn("usage: %v", err)
	}
	a.usage = tracker
	if dbPath := cfg.Persist.DatabasePath; dbPath != "" {
		if !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(root, dbPath)
		}
		db, err := persist.Open(dbPath)
		if err != nil {
			logging.CloseAll()
			return nil, err
		}
		a.db = db
	}
	return a, nil
}

// openApp opens the workspace and creates its session. The session is not
// started; the caller owns its loop.
func openApp(ctx context.Context, renderer session.Renderer) (*app, error) {
	a, err := openStore()
	if err != nil {
		return nil, err
	}
	if err := a.applyPreset(ctx, presetName); err != nil {
		a.Close()
		return nil, err
	}
	adapter, err := newAdapter(a.cfg, offline)
	if err != nil {
		a.Close()
		return nil, err
	}

	s, err := session.New(session.Options{
		Workspace: a.root,
		Config:    a.cfg,
		Adapter:   adapter,
		Modules:   modules.BuiltinWith(tactile.NewDirectExecutor(), world.NewIgnore(a.cfg.Watch.Ignore...)),
		Persist:   a.db,
		Usage:     a.usage,
		Renderer:  renderer,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.session = s
	logging.Boot("pilot %s started in %s (session %s)", version, a.root, s.ID())
	return a, nil
}

// applyPreset makes name the startup preset. A preset saved in the state
// database is added to the config so startup validation accepts it.
func (a *app) applyPreset(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	if _, ok := a.cfg.Preset(name); !ok {
		if a.db == nil {
			return fmt.Errorf("unknown preset %q", name)
		}
		p, err := a.db.LoadPreset(ctx, name)
		if err != nil {
			return err
		}
		a.cfg.Presets = append(a.cfg.Presets, config.PresetConfig{Name: p.Name, Modules: p.Modules, Tools: p.Tools})
	}
	a.cfg.Modules.Preset = name
	return nil
}

// resumeLatest restores the latest snapshot. A workspace without one
// starts fresh.
func (a *app) resumeLatest(ctx context.Context) error {
	if a.db == nil {
		return fmt.Errorf("persistence is disabled")
	}
	err := a.session.Resume(ctx)
	if errors.Is(err, persist.ErrNotFound) {
		logging.Boot("no saved session for %s", a.root)
		return nil
	}
	return err
}

// Close releases the session, the database and the log files.
func (a *app) Close() {
	if a.session != nil {
		a.session.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logging.BootWarn("close state db: %v", err)
		}
	}
	logging.CloseAll()
}

// newAdapter picks the model adapter named in the config.
func newAdapter(cfg *config.Config, forceOffline bool) (provider.Adapter, error) {
	if forceOffline {
		return provider.Echo{}, nil
	}
	switch cfg.Provider.Name {
	case "", "echo":
		return provider.Echo{}, nil
	default:
		return nil, fmt.Errorf("provider %q is not available in this build (use --offline)", cfg.Provider.Name)
	}
}
