package slo

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/controlplane/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	samples []Sample
	err     error
}

func (f *fakeSource) Query(ctx context.Context, service, metric string, start, end time.Time) ([]Sample, error) {
	return f.samples, f.err
}

func TestRunOnceRecordsCompliantCalculation(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFake(now)

	require.NoError(t, repo.Insert(&Slo{
		ID: "s1", Name: "availability", ServiceName: "orders", MetricName: "availability",
		Operator: OpGTE, ThresholdValue: 99.0, TargetPercent: 60, TimeWindow: "30d", Status: StatusActive,
	}))

	source := &fakeSource{samples: []Sample{{Value: 99.5}, {Value: 99.8}, {Value: 98.0}}}
	v := New(repo, source, fc, Config{}, nil)
	v.RunOnce(context.Background())

	calcs, err := repo.ListCalculations("s1", now.AddDate(0, -1, 0), now.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, calcs, 1)
	assert.InDelta(t, 66.67, calcs[0].CurrentPercent, 0.1)
	assert.True(t, calcs[0].Compliant)
}

func TestRunOnceRaisesViolationOnNonCompliance(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFake(now)

	require.NoError(t, repo.Insert(&Slo{
		ID: "s1", Name: "latency", ServiceName: "orders", MetricName: "latency_p99",
		Operator: OpLTE, ThresholdValue: 200, TargetPercent: 99, TimeWindow: "1h", Status: StatusActive,
	}))

	source := &fakeSource{samples: []Sample{{Value: 500}, {Value: 600}}}
	var raised []Violation
	v := New(repo, source, fc, Config{}, func(vi Violation) { raised = append(raised, vi) })
	v.RunOnce(context.Background())

	require.Len(t, raised, 1)
	assert.Equal(t, ViolationThreshold, raised[0].Kind)
	assert.Equal(t, SeverityCritical, raised[0].Severity)
}

func TestRunOnceHandlesEmptySeriesAsNonCompliant(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFake(now)

	require.NoError(t, repo.Insert(&Slo{
		ID: "s1", Name: "empty", ServiceName: "orders", MetricName: "throughput",
		Operator: OpGTE, ThresholdValue: 1, TargetPercent: 99, TimeWindow: "1h", Status: StatusActive,
	}))

	source := &fakeSource{samples: nil}
	v := New(repo, source, fc, Config{}, nil)
	v.RunOnce(context.Background())

	calcs, err := repo.RecentCalculations("s1", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, calcs, 1)
	assert.Equal(t, 0, calcs[0].SampleCount)
	assert.False(t, calcs[0].Compliant)
}

func TestCheckBurnRateRaisesOnRapidDegradation(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	fc := clock.NewFake(now)

	require.NoError(t, repo.Insert(&Slo{ID: "s1", Name: "availability", TargetPercent: 99, Status: StatusActive}))
	require.NoError(t, repo.InsertCalculation(&Calculation{SloID: "s1", CurrentPercent: 99, ComputedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, repo.InsertCalculation(&Calculation{SloID: "s1", CurrentPercent: 50, ComputedAt: now}))

	var raised []Violation
	v := New(repo, &fakeSource{}, fc, Config{}, func(vi Violation) { raised = append(raised, vi) })
	v.checkBurnRate(&Slo{ID: "s1", Name: "availability", TargetPercent: 99}, now)

	require.Len(t, raised, 1)
	assert.Equal(t, ViolationBurnRate, raised[0].Kind)
	assert.Equal(t, SeverityCritical, raised[0].Severity)
}

func TestCleanupDeletesBeyondRetention(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFake(now)

	require.NoError(t, repo.InsertCalculation(&Calculation{SloID: "s1", ComputedAt: now.AddDate(0, 0, -40)}))
	require.NoError(t, repo.InsertCalculation(&Calculation{SloID: "s1", ComputedAt: now}))

	v := New(repo, &fakeSource{}, fc, Config{RetentionDays: 30}, nil)
	deleted, err := v.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}
