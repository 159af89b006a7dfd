package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumConfig(name string, kind WindowKind, size, slide, gap time.Duration) WindowConfig {
	return WindowConfig{
		Name:  name,
		Kind:  kind,
		Size:  size,
		Slide: slide,
		SessionGap: gap,
		Aggregations: []AggregationConfig{
			{Name: "total", Function: AggSum, Field: "value"},
		},
	}
}

func TestTumblingAssignsFixedGrid(t *testing.T) {
	m := NewWindowManager()
	cfg := sumConfig("w", WindowTumbling, time.Minute, 0, 0)
	m.Configure(cfg)

	base := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	assignments, err := m.Assign("k1", Event{Timestamp: base, Fields: map[string]float64{"value": 1}}, "w")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, base.Truncate(time.Minute), assignments[0].Start)
	assert.Equal(t, base.Truncate(time.Minute).Add(time.Minute), assignments[0].End)
}

func TestSlidingAssignsOverlappingWindows(t *testing.T) {
	m := NewWindowManager()
	m.Configure(sumConfig("sw", WindowSliding, 10*time.Minute, 5*time.Minute, 0))

	ts := time.Date(2026, 1, 1, 0, 12, 0, 0, time.UTC)
	assignments, err := m.Assign("k1", Event{Timestamp: ts, Fields: map[string]float64{"value": 1}}, "sw")
	require.NoError(t, err)
	assert.Len(t, assignments, 2)
}

func TestSessionExtendsOnActivityWithinGap(t *testing.T) {
	m := NewWindowManager()
	m.Configure(sumConfig("s", WindowSession, 0, 0, 5*time.Minute))

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := m.Assign("k1", Event{Timestamp: t0, Fields: map[string]float64{"value": 1}}, "s")
	require.NoError(t, err)

	t1 := t0.Add(2 * time.Minute)
	second, err := m.Assign("k1", Event{Timestamp: t1, Fields: map[string]float64{"value": 1}}, "s")
	require.NoError(t, err)

	assert.Equal(t, first[0].WindowID, second[0].WindowID)
	assert.True(t, second[0].End.After(first[0].End))
}

func TestSessionStartsNewWindowAfterGapExpires(t *testing.T) {
	m := NewWindowManager()
	m.Configure(sumConfig("s", WindowSession, 0, 0, time.Minute))

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := m.Assign("k1", Event{Timestamp: t0, Fields: map[string]float64{"value": 1}}, "s")
	require.NoError(t, err)

	t1 := t0.Add(5 * time.Minute)
	second, err := m.Assign("k1", Event{Timestamp: t1, Fields: map[string]float64{"value": 1}}, "s")
	require.NoError(t, err)

	assert.NotEqual(t, first[0].WindowID, second[0].WindowID)
}

func TestGlobalWindowNeverClosesOnEmit(t *testing.T) {
	m := NewWindowManager()
	m.Configure(sumConfig("g", WindowGlobal, 0, 0, 0))

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assignments, err := m.Assign("k1", Event{Timestamp: ts, Fields: map[string]float64{"value": 1}}, "g")
	require.NoError(t, err)
	m.Ingest(assignments[0], Event{Timestamp: ts, Fields: map[string]float64{"value": 1}})

	ready := m.EmitReady(ts.Add(1000 * time.Hour))
	assert.Empty(t, ready)
}

func TestIngestAccumulatesSum(t *testing.T) {
	m := NewWindowManager()
	m.Configure(sumConfig("w", WindowTumbling, time.Minute, 0, 0))

	ts := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	a, err := m.Assign("k1", Event{Timestamp: ts}, "w")
	require.NoError(t, err)
	m.Ingest(a[0], Event{Timestamp: ts, Fields: map[string]float64{"value": 3}})
	m.Ingest(a[0], Event{Timestamp: ts.Add(time.Second), Fields: map[string]float64{"value": 4}})

	snap := m.Snapshot()[a[0].WindowID]
	assert.Equal(t, float64(7), snap.Aggregations["total"].Sum)
	assert.Equal(t, uint64(2), snap.RecordCount)
}

func TestEmitReadyMarksCompleteAndEvictsAfterLateness(t *testing.T) {
	m := NewWindowManager()
	cfg := sumConfig("w", WindowTumbling, time.Minute, 0, 0)
	cfg.AllowedLateness = 30 * time.Second
	m.Configure(cfg)

	ts := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	a, _ := m.Assign("k1", Event{Timestamp: ts}, "w")
	m.Ingest(a[0], Event{Timestamp: ts, Fields: map[string]float64{"value": 1}})

	end := a[0].End
	ready := m.EmitReady(end)
	require.Len(t, ready, 1)
	assert.True(t, ready[0].Complete)

	// within allowed lateness, window should still be tracked
	assert.True(t, m.Emitted(a[0].WindowID))

	// past allowed lateness, window should be evicted
	m.EmitReady(end.Add(time.Minute))
	assert.False(t, m.Emitted(a[0].WindowID))
}

func TestHandleLateAppliesPolicy(t *testing.T) {
	m := NewWindowManager()
	cfg := sumConfig("w", WindowTumbling, time.Minute, 0, 0)
	cfg.LateDataPolicy = LateUpdate
	cfg.AllowedLateness = time.Minute
	m.Configure(cfg)

	ts := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	a, _ := m.Assign("k1", Event{Timestamp: ts}, "w")
	m.Ingest(a[0], Event{Timestamp: ts, Fields: map[string]float64{"value": 1}})
	m.EmitReady(a[0].End)

	snap, sideOutput, apply := m.HandleLate(a[0], Event{Timestamp: ts, Fields: map[string]float64{"value": 5}})
	assert.False(t, sideOutput)
	assert.True(t, apply)
	assert.Equal(t, float64(6), snap.Aggregations["total"].Sum)
}
