package usage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_Aggregates(t *testing.T) {
	tr := NewMemory()
	tr.Track(Event{Provider: "echo", SessionID: "s1", Input: 100, Output: 10})
	tr.Track(Event{Provider: "echo", SessionID: "s1", Input: 120, Output: 5})
	tr.Track(Event{Provider: "echo", Model: "m", SessionID: "s2", Operation: "summarize", Input: 50, Output: 20})

	stats := tr.Stats()
	assert.Equal(t, TokenCounts{Input: 270, Output: 35, Total: 305, Rounds: 3}, stats.Total)
	assert.Equal(t, int64(305), stats.ByProvider["echo"].Total)
	assert.Equal(t, int64(2), stats.ByOperation["chat"].Rounds)
	assert.Equal(t, int64(70), stats.ByOperation["summarize"].Total)
	assert.Len(t, stats.ByModel, 1)

	assert.Equal(t, TokenCounts{Input: 220, Output: 15, Total: 235, Rounds: 2}, tr.Session("s1"))
	assert.Zero(t, tr.Session("missing"))
}

func TestTracker_StatsIsCopy(t *testing.T) {
	tr := NewMemory()
	tr.Track(Event{Provider: "echo", SessionID: "s1", Input: 1})
	stats := tr.Stats()
	stats.BySession["s1"] = TokenCounts{}
	assert.Equal(t, int64(1), tr.Session("s1").Input)
}

func TestTracker_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	tr, err := NewTracker(dir)
	require.NoError(t, err)
	tr.Track(Event{Provider: "echo", SessionID: "s1", Input: 40, Output: 2})
	require.NoError(t, tr.Save())
	assert.FileExists(t, filepath.Join(dir, FileName))

	again, err := NewTracker(dir)
	require.NoError(t, err)
	assert.Equal(t, tr.Stats(), again.Stats())
}

func TestTracker_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{nope"), 0644))
	tr, err := NewTracker(dir)
	assert.Error(t, err)
	require.NotNil(t, tr)

	tr.Track(Event{Provider: "echo", Input: 1})
	require.NoError(t, tr.Save())
	again, err := NewTracker(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Stats().Total.Input)
}

func TestTracker_MemoryNeverWrites(t *testing.T) {
	tr := NewMemory()
	tr.Track(Event{Provider: "echo", Input: 1})
	assert.NoError(t, tr.Save())
	assert.Empty(t, tr.Path())
}

func TestTracker_Concurrent(t *testing.T) {
	tr := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Track(Event{Provider: "echo", SessionID: "s", Input: 1, Output: 1})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(800), tr.Session("s").Rounds)
}
