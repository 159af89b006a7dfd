// Package execstore implements the Execution Store collaborator contract
// from the orchestrator design: an ExecutionRepository over WorkflowExecution,
// ExecutionProgress, and ExecutionLog records, with an in-memory
// implementation for tests and a bbolt-backed implementation for production.
package execstore

import (
	"time"

	"github.com/cuemby/controlplane/pkg/apperrors"
)

// Status is a WorkflowExecution's place in the orchestrator state machine.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether s ends the execution's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// LogLevel mirrors the five severities an ExecutionLog entry may carry.
type LogLevel string

const (
	LogTrace LogLevel = "trace"
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Execution is the durable record of one workflow run.
type Execution struct {
	ExecutionID   string
	WorkflowID    string
	Status        Status
	Input         map[string]any
	Output        map[string]any
	Error         string
	Context       map[string]any
	Priority      int
	TimeoutSec    int
	CreatedBy     string
	StartedAt     time.Time
	CompletedAt   *time.Time
	Attempts      int
	MaxRetries    int
	LeaseOwner    string
	LeaseExpires  *time.Time
	UpdatedAt     time.Time
}

// Duration returns the execution's wall-clock runtime once terminal.
func (e *Execution) Duration() (time.Duration, bool) {
	if e.CompletedAt == nil {
		return 0, false
	}
	return e.CompletedAt.Sub(e.StartedAt), true
}

// Progress is the last-writer-wins progress snapshot for an execution.
type Progress struct {
	ExecutionID    string
	CurrentStep    string
	TotalSteps     int
	CompletedSteps int
	Percentage     float64
	EtaSec         *int
	UpdatedAt      time.Time
}

// LogEntry is one append-only line in an execution's log.
type LogEntry struct {
	ExecutionID string
	Timestamp   time.Time
	Level       LogLevel
	Message     string
	Step        string
	Metadata    map[string]string
}

// Filter narrows List to a workflow, a status set, and/or a time range.
type Filter struct {
	WorkflowID string
	Statuses   []Status
	After      *time.Time
	Before     *time.Time
}

func (f Filter) matches(e *Execution) bool {
	if f.WorkflowID != "" && e.WorkflowID != f.WorkflowID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if e.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.After != nil && e.StartedAt.Before(*f.After) {
		return false
	}
	if f.Before != nil && e.StartedAt.After(*f.Before) {
		return false
	}
	return true
}

// SortField is one of the three fields List may order by.
type SortField string

const (
	SortStartedAt   SortField = "started_at"
	SortCompletedAt SortField = "completed_at"
	SortPriority    SortField = "priority"
)

// Sort controls List ordering; the default is StartedAt descending.
type Sort struct {
	Field     SortField
	Ascending bool
}

// MaxPageLimit bounds List's page size per the orchestrator's "limit <= 1000" rule.
const MaxPageLimit = 1000

// Page requests a bounded slice of results, optionally continuing from a
// cursor returned by a previous Page's NextCursor.
type Page struct {
	Limit  int
	Cursor string
}

// PageResult carries the matched executions plus a cursor for the next page,
// empty once exhausted. Cursor-based per spec's "SHOULD layer a cursor
// variant" on top of offset pagination.
type PageResult struct {
	Executions []*Execution
	NextCursor string
}

var (
	errNotFound      = apperrors.ErrNotFound
	errLeaseConflict = apperrors.New(apperrors.Conflict, "execution already leased by another worker")
)
