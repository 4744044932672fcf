package panel

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t0 time.Time) (func() time.Time, *time.Time) {
	now := t0
	return func() time.Time { return now }, &now
}

func TestStore_CreateAssignsUniqueIDs(t *testing.T) {
	s := NewStore()
	a := s.Create(KindFile, StrategyWatch)
	b := s.Create(KindTree, StrategyWatch)
	assert.Equal(t, ID("P1"), a)
	assert.Equal(t, ID("P2"), b)

	require.True(t, s.Close(a))
	c := s.Create(KindFile, StrategyWatch)
	assert.Equal(t, ID("P3"), c, "ids are never reused")

	e, ok := s.Get(c)
	require.True(t, ok)
	assert.Equal(t, StateEmpty, e.State)
	assert.True(t, e.Visible)
}

func TestStore_Lifecycle(t *testing.T) {
	s := NewStore()
	clock, now := fixedClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	s.SetClock(clock)

	id := s.Create(KindFile, StrategyWatch)
	seq, ok := s.BeginFetch(id)
	require.True(t, ok)

	_, again := s.BeginFetch(id)
	assert.False(t, again, "second BeginFetch while loading must fail")

	res := s.ApplyUpdate(Update{ID: id, Seq: seq, Text: "hello", At: *now})
	assert.True(t, res.Dirty)
	e, _ := s.Get(id)
	assert.Equal(t, StateReady, e.State)
	assert.Equal(t, "hello", e.Content)
	assert.Equal(t, HashContent("hello"), e.Hash)
	assert.Equal(t, 2, e.Tokens)
	assert.Zero(t, e.InFlight)

	require.True(t, s.MarkStale(id))
	e, _ = s.Get(id)
	assert.Equal(t, StateStale, e.State)

	seq2, ok := s.BeginFetch(id)
	require.True(t, ok)
	assert.Greater(t, seq2, seq)
	s.ApplyUpdate(Update{ID: id, Seq: seq2, Err: errors.New("boom")})
	e, _ = s.Get(id)
	assert.Equal(t, StateError, e.State)
	assert.Equal(t, "boom", e.Err)
	assert.Equal(t, "hello", e.Content, "error keeps last content for display")

	require.True(t, s.MarkStale(id), "errored elements retry on invalidation")
	e, _ = s.Get(id)
	assert.Equal(t, StateStale, e.State)
}

func TestStore_EqualHashBumpsFreshnessWithoutDirty(t *testing.T) {
	s := NewStore()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	id := s.Create(KindTmux, StrategyTimer)

	seq, _ := s.BeginFetch(id)
	s.ApplyUpdate(Update{ID: id, Seq: seq, Text: "same", At: t0})
	s.ClearDirty()

	s.MarkStale(id)
	seq, _ = s.BeginFetch(id)
	res := s.ApplyUpdate(Update{ID: id, Seq: seq, Text: "same", At: t0.Add(time.Second)})
	assert.False(t, res.Dirty)
	assert.False(t, s.Dirty())

	e, _ := s.Get(id)
	assert.Equal(t, t0.Add(time.Second), e.Freshness)
	assert.Equal(t, StateReady, e.State)
}

func TestStore_ExplicitHashOverridesContentHash(t *testing.T) {
	s := NewStore()
	id := s.Create(KindTmux, StrategyTimer)
	seq, _ := s.BeginFetch(id)
	s.ApplyUpdate(Update{ID: id, Seq: seq, Text: "line a\nprompt$", Hash: "tail"})
	s.ClearDirty()

	s.MarkStale(id)
	seq, _ = s.BeginFetch(id)
	res := s.ApplyUpdate(Update{ID: id, Seq: seq, Text: "scrolled\nline a\nprompt$", Hash: "tail"})
	assert.False(t, res.Dirty)
	e, _ := s.Get(id)
	assert.Equal(t, "scrolled\nline a\nprompt$", e.Content)
}

func TestStore_DiscardsUnknownAndSuperseded(t *testing.T) {
	s := NewStore()
	assert.True(t, s.ApplyUpdate(Update{ID: "P99", Seq: 1}).Discarded)

	id := s.Create(KindFile, StrategyWatch)
	seq, _ := s.BeginFetch(id)
	assert.True(t, s.ApplyUpdate(Update{ID: id, Seq: seq + 7, Text: "x"}).Discarded)

	s.ApplyUpdate(Update{ID: id, Seq: seq, Text: "x"})
	assert.True(t, s.ApplyUpdate(Update{ID: id, Seq: seq, Text: "y"}).Discarded, "duplicate update after Ready")

	s.Close(id)
	assert.True(t, s.ApplyUpdate(Update{ID: id, Seq: seq, Text: "late"}).Discarded)
}

func TestStore_InvalidationDuringLoadingRefetches(t *testing.T) {
	s := NewStore()
	id := s.Create(KindFile, StrategyWatch)
	seq, _ := s.BeginFetch(id)

	assert.False(t, s.MarkStale(id), "no second request while loading")
	assert.True(t, s.PendingRefetch(id))

	res := s.ApplyUpdate(Update{ID: id, Seq: seq, Text: "old"})
	assert.True(t, res.Refetch)
	e, _ := s.Get(id)
	assert.Equal(t, StateStale, e.State)
	assert.False(t, s.PendingRefetch(id))
}

func TestStore_QueriesKeepCreationOrder(t *testing.T) {
	s := NewStore()
	a := s.Create(KindFile, StrategyWatch)
	s.Create(KindTree, StrategyWatch)
	c := s.Create(KindFile, StrategyWatch)

	var ids []ID
	for _, e := range s.ByKind(KindFile) {
		ids = append(ids, e.ID)
	}
	if diff := cmp.Diff([]ID{a, c}, ids); diff != "" {
		t.Errorf("ByKind order mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, s.List(), 3)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore()
	id := s.Create(KindFile, StrategyWatch)
	s.SetParam(id, "path", "a.txt")

	e, _ := s.Get(id)
	e.Params["path"] = "mutated"
	e.Content = "mutated"

	fresh, _ := s.Get(id)
	assert.Equal(t, "a.txt", fresh.Param("path"))
	assert.Empty(t, fresh.Content)
}

func TestStore_RestoreKeepsIDAndAdvancesCounter(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Restore(Element{ID: "P7", Kind: KindFile, Source: "a.txt", Seq: 7, State: StateReady, Content: "stale"}))
	require.Error(t, s.Restore(Element{ID: "P7"}))
	require.Error(t, s.Restore(Element{ID: "bogus"}))

	e, ok := s.Get("P7")
	require.True(t, ok)
	assert.Equal(t, StateEmpty, e.State, "restored elements refetch")
	assert.Empty(t, e.Content)

	assert.Equal(t, ID("P8"), s.Create(KindFile, StrategyWatch))
}

func TestStore_VisibilityDirtiesOnChange(t *testing.T) {
	s := NewStore()
	id := s.Create(KindFile, StrategyWatch)
	s.ClearDirty()

	s.SetVisible(id, true)
	assert.False(t, s.Dirty())
	s.SetVisible(id, false)
	assert.True(t, s.Dirty())
	assert.False(t, s.SetVisible("P404", true))
}

func TestRender(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 12, 0, time.UTC)
	e := Element{
		ID: "P3", Kind: KindFile, Title: "a.txt", State: StateReady,
		Content: "hello", Tokens: 2, Freshness: now.Add(-12 * time.Second),
	}
	got := Serialize(e, now)
	assert.Equal(t, "=== P3 [file] a.txt ===\nhello\n--- refreshed 12 seconds ago, 2 tokens ---", got)

	e.State = StateLoading
	assert.Equal(t, "=== P3 [file] a.txt ===\n[loading, content not yet available]", Serialize(e, now))

	e.State = StateStale
	assert.NotContains(t, Serialize(e, now), "hello", "stale content is never serialized")

	assert.Equal(t, "never", Age(time.Time{}, now))
	assert.Equal(t, "3 minutes ago", Age(now.Add(-3*time.Minute), now))
}
