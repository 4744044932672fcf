package persist

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"ctxpilot/internal/history"
	"ctxpilot/internal/logging"
	"ctxpilot/internal/panel"
)

// StateVersion is the encoding version of SessionState blobs.
const StateVersion = 1

var (
	// ErrNotFound is returned when a snapshot or preset does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnsupportedVersion is returned for blobs written by a newer build.
	ErrUnsupportedVersion = errors.New("unsupported session state version")
)

// ElementState is what survives a restart of one element: its identity and
// view settings, never its content. Restored elements are fetched again.
type ElementState struct {
	ID        panel.ID          `json:"id"`
	Kind      panel.Kind        `json:"kind"`
	Title     string            `json:"title,omitempty"`
	Strategy  panel.Strategy    `json:"strategy"`
	Source    string            `json:"source,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Subsystem string            `json:"subsystem,omitempty"`
	Module    string            `json:"module,omitempty"`
	Visible   bool              `json:"visible"`
	Pinned    bool              `json:"pinned,omitempty"`
	Priority  int               `json:"priority"`
	Seq       uint64            `json:"seq"`
	Created   time.Time         `json:"created"`
}

// FromElement captures the persistent part of an element.
func FromElement(e panel.Element) ElementState {
	return ElementState{
		ID:        e.ID,
		Kind:      e.Kind,
		Title:     e.Title,
		Strategy:  e.Strategy,
		Source:    e.Source,
		Params:    e.Params,
		Subsystem: e.Subsystem,
		Module:    e.Module,
		Visible:   e.Visible,
		Pinned:    e.Pinned,
		Priority:  e.Priority,
		Seq:       e.Seq,
		Created:   e.Created,
	}
}

// Element rebuilds an Empty element for panel.Store.Restore.
func (es ElementState) Element() panel.Element {
	return panel.Element{
		ID:        es.ID,
		Kind:      es.Kind,
		Title:     es.Title,
		Strategy:  es.Strategy,
		Source:    es.Source,
		Params:    es.Params,
		Subsystem: es.Subsystem,
		Module:    es.Module,
		Visible:   es.Visible,
		Pinned:    es.Pinned,
		Priority:  es.Priority,
		Seq:       es.Seq,
		Created:   es.Created,
	}
}

// SessionState is everything needed to resume a session.
type SessionState struct {
	Version     int                 `json:"version"`
	SessionID   string              `json:"session_id"`
	Workspace   string              `json:"workspace"`
	Modules     []string            `json:"modules"`
	Permissions map[string][]string `json:"permissions,omitempty"`
	ModuleState map[string][]byte   `json:"module_state,omitempty"`
	Elements    []ElementState      `json:"elements"`
	History     history.State       `json:"history"`
	SavedAt     time.Time           `json:"saved_at"`
}

// SaveSession encodes a session state into a blob.
func SaveSession(state *SessionState) ([]byte, error) {
	if state == nil {
		return nil, fmt.Errorf("nil session state")
	}
	out := *state
	out.Version = StateVersion
	if out.SavedAt.IsZero() {
		out.SavedAt = time.Now()
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session state: %w", err)
	}
	return data, nil
}

// LoadSession decodes a blob written by SaveSession.
func LoadSession(blob []byte) (*SessionState, error) {
	var state SessionState
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, state.Version)
	}
	return &state, nil
}

// SnapshotInfo describes a stored snapshot without its state.
type SnapshotInfo struct {
	ID        string
	SessionID string
	Workspace string
	Label     string
	Bytes     int
	CreatedAt time.Time
}

// newID must be called with s.mu held.
func (s *Store) newID(t time.Time) string {
	if s.entropy == nil {
		s.entropy = ulid.Monotonic(rand.Reader, 0)
	}
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// PutSnapshot stores a session state and returns the snapshot id. Ids are
// ULIDs, so they sort by creation time.
func (s *Store) PutSnapshot(ctx context.Context, state *SessionState, label string) (string, error) {
	blob, err := SaveSession(state)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	id := s.newID(now)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, session_id, workspace, label, state, bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, state.SessionID, state.Workspace, label, blob, len(blob), now.UnixMilli(),
	)
	if err != nil {
		logging.PersistError("failed to store snapshot for %s: %v", state.SessionID, err)
		return "", fmt.Errorf("failed to store snapshot: %w", err)
	}
	logging.PersistDebug("stored snapshot %s (%d bytes, %d elements, %d messages)",
		id, len(blob), len(state.Elements), len(state.History.Messages))
	return id, nil
}

// Snapshot loads a snapshot by id.
func (s *Store) Snapshot(ctx context.Context, id string) (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM snapshots WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return LoadSession(blob)
}

// Latest loads the most recent snapshot of a workspace.
func (s *Store) Latest(ctx context.Context, workspace string) (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM snapshots WHERE workspace = ? ORDER BY id DESC LIMIT 1`,
		workspace,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no snapshot for %s: %w", workspace, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return LoadSession(blob)
}

// Snapshots lists snapshots of a workspace, newest first.
func (s *Store) Snapshots(ctx context.Context, workspace string, limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, workspace, COALESCE(label, ''), bytes, created_at
		 FROM snapshots WHERE workspace = ? ORDER BY id DESC LIMIT ?`,
		workspace, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var created int64
		if err := rows.Scan(&info.ID, &info.SessionID, &info.Workspace, &info.Label, &info.Bytes, &created); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		info.CreatedAt = time.UnixMilli(created)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep snapshots of a workspace and deletes the rest.
func (s *Store) Prune(ctx context.Context, workspace string, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE workspace = ? AND id NOT IN (
		   SELECT id FROM snapshots WHERE workspace = ? ORDER BY id DESC LIMIT ?
		 )`,
		workspace, workspace, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.PersistDebug("pruned %d snapshots of %s", n, workspace)
	}
	return int(n), nil
}
