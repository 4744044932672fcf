package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxpilot/internal/history"
	"ctxpilot/internal/module"
	"ctxpilot/internal/panel"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleState(workspace string) *SessionState {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &SessionState{
		SessionID:   "s-1",
		Workspace:   workspace,
		Modules:     []string{"core", "files"},
		Permissions: map[string][]string{"files": {"read_file"}},
		ModuleState: map[string][]byte{"scratch": []byte(`{"cells":["a"]}`)},
		Elements: []ElementState{
			{ID: "P3", Kind: panel.KindFile, Strategy: panel.StrategyWatch, Source: "/w/main.go", Visible: true, Priority: 50, Seq: 3, Created: at},
			{ID: "P7", Kind: panel.KindTree, Strategy: panel.StrategyWatch, Source: "/w", Visible: false, Pinned: true, Seq: 7, Created: at},
		},
		History: history.State{
			Messages: []history.Message{
				{ID: "U1", Origin: history.OriginUser, Role: history.RoleUser, Content: "hi", Tokens: 1, Seq: 1, At: at},
			},
			NextSeq: 2,
		},
	}
}

func TestOpen_MigratesToCurrentVersion(t *testing.T) {
	s := openTemp(t)

	version, err := UserVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode;").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SavePreset(context.Background(), module.Preset{Name: "p", Modules: []string{"core"}}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	p, err := s.LoadPreset(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"core"}, p.Modules)
}

func TestSaveLoadSession(t *testing.T) {
	in := sampleState("/w")
	blob, err := SaveSession(in)
	require.NoError(t, err)

	out, err := LoadSession(blob)
	require.NoError(t, err)
	assert.Equal(t, StateVersion, out.Version)
	assert.Equal(t, in.Modules, out.Modules)
	assert.Equal(t, in.ModuleState, out.ModuleState)
	assert.Equal(t, in.Elements, out.Elements)
	assert.Equal(t, in.History.Messages[0].ID, out.History.Messages[0].ID)
	assert.False(t, out.SavedAt.IsZero())

	_, err = LoadSession([]byte(`{"version": 99}`))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	_, err = LoadSession([]byte(`not json`))
	assert.Error(t, err)
}

func TestElementState_RoundTripThroughStore(t *testing.T) {
	es := sampleState("/w").Elements[1]
	store := panel.NewStore()
	require.NoError(t, store.Restore(es.Element()))

	e, ok := store.Get("P7")
	require.True(t, ok)
	assert.Equal(t, panel.StateEmpty, e.State)
	assert.False(t, e.Visible)
	assert.True(t, e.Pinned)
	assert.Equal(t, es, FromElement(e))
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	_, err := s.Latest(ctx, "/w")
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := s.PutSnapshot(ctx, sampleState("/w"), "first")
	require.NoError(t, err)
	second := sampleState("/w")
	second.Modules = append(second.Modules, "search")
	secondID, err := s.PutSnapshot(ctx, second, "")
	require.NoError(t, err)
	_, err = s.PutSnapshot(ctx, sampleState("/other"), "")
	require.NoError(t, err)
	assert.Less(t, first, secondID, "ulids sort by creation")

	latest, err := s.Latest(ctx, "/w")
	require.NoError(t, err)
	assert.Equal(t, []string{"core", "files", "search"}, latest.Modules)

	got, err := s.Snapshot(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, []string{"core", "files"}, got.Modules)

	infos, err := s.Snapshots(ctx, "/w", 0)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, secondID, infos[0].ID)
	assert.Equal(t, "first", infos[1].Label)

	n, err := s.Prune(ctx, "/w", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.Snapshot(ctx, first)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Latest(ctx, "/other")
	assert.NoError(t, err, "pruning is per workspace")
}

func TestPresets(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.SavePreset(ctx, module.Preset{Name: "worker", Modules: []string{"core", "vcs-write"}}))
	require.NoError(t, s.SavePreset(ctx, module.Preset{
		Name:    "reader",
		Modules: []string{"core", "files"},
		Tools:   map[string][]string{"files": {"read_file"}},
	}))
	require.NoError(t, s.SavePreset(ctx, module.Preset{Name: "worker", Modules: []string{"core"}}))

	all, err := s.Presets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "reader", all[0].Name)
	assert.Equal(t, []string{"read_file"}, all[0].Tools["files"])
	assert.Equal(t, []string{"core"}, all[1].Modules, "saving again replaces")
	assert.Nil(t, all[1].Tools)

	require.NoError(t, s.DeletePreset(ctx, "worker"))
	_, err = s.LoadPreset(ctx, "worker")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeletePreset(ctx, "worker"), ErrNotFound)
	assert.Error(t, s.SavePreset(ctx, module.Preset{}))
}
