package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ctxpilot/internal/module"
)

// SavePreset stores a preset by name, replacing any earlier one.
func (s *Store) SavePreset(ctx context.Context, p module.Preset) error {
	if p.Name == "" {
		return fmt.Errorf("preset name required")
	}
	modules, err := json.Marshal(p.Modules)
	if err != nil {
		return fmt.Errorf("failed to encode preset modules: %w", err)
	}
	var tools []byte
	if len(p.Tools) > 0 {
		if tools, err = json.Marshal(p.Tools); err != nil {
			return fmt.Errorf("failed to encode preset tools: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO presets (name, modules, tools, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET modules = excluded.modules, tools = excluded.tools, updated_at = excluded.updated_at`,
		p.Name, string(modules), string(tools), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save preset %s: %w", p.Name, err)
	}
	return nil
}

// LoadPreset loads a preset by name.
func (s *Store) LoadPreset(ctx context.Context, name string) (module.Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var modules, tools string
	err := s.db.QueryRowContext(ctx,
		`SELECT modules, COALESCE(tools, '') FROM presets WHERE name = ?`, name,
	).Scan(&modules, &tools)
	if errors.Is(err, sql.ErrNoRows) {
		return module.Preset{}, fmt.Errorf("preset %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return module.Preset{}, fmt.Errorf("failed to load preset %s: %w", name, err)
	}
	return decodePreset(name, modules, tools)
}

// Presets returns every stored preset ordered by name.
func (s *Store) Presets(ctx context.Context) ([]module.Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT name, modules, COALESCE(tools, '') FROM presets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %w", err)
	}
	defer rows.Close()

	var out []module.Preset
	for rows.Next() {
		var name, modules, tools string
		if err := rows.Scan(&name, &modules, &tools); err != nil {
			return nil, fmt.Errorf("failed to scan preset: %w", err)
		}
		p, err := decodePreset(name, modules, tools)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePreset removes a stored preset.
func (s *Store) DeletePreset(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM presets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete preset %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("preset %s: %w", name, ErrNotFound)
	}
	return nil
}

func decodePreset(name, modules, tools string) (module.Preset, error) {
	p := module.Preset{Name: name}
	if err := json.Unmarshal([]byte(modules), &p.Modules); err != nil {
		return module.Preset{}, fmt.Errorf("corrupt preset %s: %w", name, err)
	}
	if tools != "" {
		if err := json.Unmarshal([]byte(tools), &p.Tools); err != nil {
			return module.Preset{}, fmt.Errorf("corrupt preset %s: %w", name, err)
		}
	}
	return p, nil
}
