package execstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExec(id string, priority int, started time.Time) *Execution {
	return &Execution{
		ExecutionID: id,
		WorkflowID:  "wf-1",
		Status:      StatusQueued,
		Priority:    priority,
		TimeoutSec:  30,
		StartedAt:   started,
		MaxRetries:  3,
	}
}

func TestInsertAndGet(t *testing.T) {
	r := NewMemoryRepository()
	base := time.Now()
	require.NoError(t, r.Insert(newExec("e1", 5, base)))

	got, err := r.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, StatusQueued, got.Status)
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	r := NewMemoryRepository()
	_, err := r.Get("missing")
	assert.ErrorIs(t, err, errNotFound)
}

func TestUpdateStatusSetsCompletedAtOnlyWhenTerminal(t *testing.T) {
	r := NewMemoryRepository()
	require.NoError(t, r.Insert(newExec("e1", 1, time.Now())))

	require.NoError(t, r.UpdateStatus("e1", StatusRunning, nil, "", nil))
	got, _ := r.Get("e1")
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, r.UpdateStatus("e1", StatusCompleted, map[string]any{"ok": true}, "", nil))
	got, _ = r.Get("e1")
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestUpdateStatusAppendsLogAtomically(t *testing.T) {
	r := NewMemoryRepository()
	require.NoError(t, r.Insert(newExec("e1", 1, time.Now())))

	require.NoError(t, r.UpdateStatus("e1", StatusFailed, nil, "boom", &LogEntry{
		Timestamp: time.Now(),
		Level:     LogError,
		Message:   "worker failed",
	}))

	logs, err := r.ListLogs("e1", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "worker failed", logs[0].Message)
	assert.Equal(t, "e1", logs[0].ExecutionID)
}

func TestListFiltersAndSortsByPriorityDescending(t *testing.T) {
	r := NewMemoryRepository()
	base := time.Now()
	require.NoError(t, r.Insert(newExec("low", 1, base)))
	require.NoError(t, r.Insert(newExec("high", 9, base)))
	require.NoError(t, r.Insert(newExec("mid", 5, base)))

	page, err := r.List(Filter{WorkflowID: "wf-1"}, Sort{Field: SortPriority}, Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Executions, 3)
	assert.Equal(t, []string{"high", "mid", "low"}, []string{
		page.Executions[0].ExecutionID, page.Executions[1].ExecutionID, page.Executions[2].ExecutionID,
	})
}

func TestListPaginatesWithCursor(t *testing.T) {
	r := NewMemoryRepository()
	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Insert(newExec(string(rune('a'+i)), i, base)))
	}

	first, err := r.List(Filter{}, Sort{Field: SortPriority, Ascending: true}, Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Executions, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := r.List(Filter{}, Sort{Field: SortPriority, Ascending: true}, Page{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.NotEqual(t, first.Executions[0].ExecutionID, second.Executions[0].ExecutionID)
}

func TestUpsertProgressIsLastWriterWinsOnUpdatedAt(t *testing.T) {
	r := NewMemoryRepository()
	require.NoError(t, r.Insert(newExec("e1", 1, time.Now())))

	later := time.Now()
	earlier := later.Add(-time.Minute)

	require.NoError(t, r.UpsertProgress("e1", Progress{CompletedSteps: 5, UpdatedAt: later}))
	require.NoError(t, r.UpsertProgress("e1", Progress{CompletedSteps: 1, UpdatedAt: earlier}))

	p, err := r.GetProgress("e1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.CompletedSteps)
}

func TestAcquireLeaseRejectsConflict(t *testing.T) {
	r := NewMemoryRepository()
	require.NoError(t, r.Insert(newExec("e1", 1, time.Now())))
	now := time.Now()

	require.NoError(t, r.AcquireLease("e1", "worker-a", time.Minute, now))
	err := r.AcquireLease("e1", "worker-b", time.Minute, now)
	assert.ErrorIs(t, err, errLeaseConflict)
}

func TestAcquireLeaseSucceedsAfterExpiry(t *testing.T) {
	r := NewMemoryRepository()
	require.NoError(t, r.Insert(newExec("e1", 1, time.Now())))
	now := time.Now()

	require.NoError(t, r.AcquireLease("e1", "worker-a", time.Second, now))
	later := now.Add(2 * time.Second)
	require.NoError(t, r.AcquireLease("e1", "worker-b", time.Minute, later))
}

func TestExpiredLeasesExcludesTerminalExecutions(t *testing.T) {
	r := NewMemoryRepository()
	require.NoError(t, r.Insert(newExec("e1", 1, time.Now())))
	now := time.Now()
	require.NoError(t, r.AcquireLease("e1", "worker-a", time.Second, now))
	require.NoError(t, r.UpdateStatus("e1", StatusCompleted, nil, "", nil))

	expired, err := r.ExpiredLeases(now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)
}
