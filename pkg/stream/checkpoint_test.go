package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCheckpointStore(t *testing.T) *CheckpointStore {
	t.Helper()
	store, err := NewCheckpointStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCheckpointStoreSaveAndLatest(t *testing.T) {
	store := openTestCheckpointStore(t)

	cp1 := &Checkpoint{ID: "cp-1", Timestamp: time.Now(), SourceOffsets: map[string]string{"t:0": "1"}}
	require.NoError(t, store.Save(cp1))

	cp2 := &Checkpoint{ID: "cp-2", Timestamp: time.Now().Add(time.Second), SourceOffsets: map[string]string{"t:0": "2"}}
	require.NoError(t, store.Save(cp2))

	latest, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, "cp-2", latest.ID)
	assert.Equal(t, "2", latest.SourceOffsets["t:0"])
}

func TestCheckpointStoreLatestWithNoCheckpoints(t *testing.T) {
	store := openTestCheckpointStore(t)
	latest, err := store.Latest()
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestBuildCollectsRealWindowAndProcessingState(t *testing.T) {
	windows := NewWindowManager()
	windows.Configure(sumConfig("w", WindowTumbling, time.Minute, 0, 0))
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a, _ := windows.Assign("k1", Event{Timestamp: ts}, "w")
	windows.Ingest(a[0], Event{Timestamp: ts, Fields: map[string]float64{"value": 1}})

	state := NewStateStore()
	state.Put("k1", map[string]any{"seen": true}, ts)

	cp := Build("cp-1", ts, map[string]string{"t:0": "5"}, windows, state)

	assert.Equal(t, "cp-1", cp.ID)
	assert.Equal(t, "5", cp.SourceOffsets["t:0"])
	assert.Len(t, cp.WindowStates, 1)
	assert.Len(t, cp.ProcessingState, 1)
}
