package execstore

import "time"

// ExecutionRepository is the persistence collaborator contract the
// orchestrator drives every execution through. Implementations must make
// status transitions that also append a log atomic: either both the status
// change and the log line land, or neither does.
type ExecutionRepository interface {
	Insert(exec *Execution) error
	Get(id string) (*Execution, error)
	List(filter Filter, sort Sort, page Page) (PageResult, error)

	// UpdateStatus transitions an execution's status, optionally attaching
	// output or an error message, and appends logLine in the same
	// transaction when logLine is non-nil.
	UpdateStatus(id string, status Status, output map[string]any, errMsg string, logLine *LogEntry) error

	AppendLog(id string, entry LogEntry) error
	ListLogs(id string, limit int) ([]LogEntry, error)

	UpsertProgress(id string, progress Progress) error
	GetProgress(id string) (*Progress, error)

	// AcquireLease grants id to owner for ttl if unleased or the existing
	// lease has expired, returning errLeaseConflict otherwise.
	AcquireLease(id, owner string, ttl time.Duration, now time.Time) error
	// RenewLease extends an existing lease id holds as owner.
	RenewLease(id, owner string, ttl time.Duration, now time.Time) error
	// ReleaseLease clears id's lease unconditionally, used on terminal transitions.
	ReleaseLease(id string) error
	// ExpiredLeases returns execution IDs whose lease has lapsed as of now,
	// for the supervisor's re-enqueue sweep.
	ExpiredLeases(now time.Time) ([]string, error)

	Close() error
}
