package execstore

import (
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process ExecutionRepository for tests and
// single-node development, guarded by one mutex so status+log updates are
// trivially atomic.
type MemoryRepository struct {
	mu         sync.Mutex
	executions map[string]*Execution
	logs       map[string][]LogEntry
	progress   map[string]*Progress
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		executions: make(map[string]*Execution),
		logs:       make(map[string][]LogEntry),
		progress:   make(map[string]*Progress),
	}
}

func (r *MemoryRepository) Insert(exec *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *exec
	r.executions[exec.ExecutionID] = &cp
	return nil
}

func (r *MemoryRepository) Get(id string) (*Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *MemoryRepository) List(filter Filter, srt Sort, page Page) (PageResult, error) {
	r.mu.Lock()
	matched := make([]*Execution, 0, len(r.executions))
	for _, e := range r.executions {
		if filter.matches(e) {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	r.mu.Unlock()

	less := sortLess(srt, matched)
	sort.SliceStable(matched, less)

	limit := page.Limit
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	start := decodeCursor(page.Cursor)
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	result := PageResult{Executions: matched[start:end]}
	if end < len(matched) {
		result.NextCursor = encodeCursor(end)
	}
	return result, nil
}

func sortLess(srt Sort, items []*Execution) func(i, j int) bool {
	field := srt.Field
	if field == "" {
		field = SortStartedAt
	}
	cmp := func(a, b *Execution) int {
		switch field {
		case SortCompletedAt:
			at, bt := completedOrZero(a), completedOrZero(b)
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		case SortPriority:
			return a.Priority - b.Priority
		default:
			switch {
			case a.StartedAt.Before(b.StartedAt):
				return -1
			case a.StartedAt.After(b.StartedAt):
				return 1
			default:
				return 0
			}
		}
	}
	return func(i, j int) bool {
		c := cmp(items[i], items[j])
		if srt.Ascending {
			return c < 0
		}
		return c > 0
	}
}

func completedOrZero(e *Execution) time.Time {
	if e.CompletedAt == nil {
		return time.Time{}
	}
	return *e.CompletedAt
}

func (r *MemoryRepository) UpdateStatus(id string, status Status, output map[string]any, errMsg string, logLine *LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[id]
	if !ok {
		return errNotFound
	}
	if status == StatusQueued && e.Status == StatusRunning {
		e.Attempts++
	}
	e.Status = status
	e.UpdatedAt = time.Now()
	if output != nil {
		e.Output = output
	}
	if errMsg != "" {
		e.Error = errMsg
	}
	if status.Terminal() {
		now := e.UpdatedAt
		e.CompletedAt = &now
		e.LeaseOwner = ""
		e.LeaseExpires = nil
	}
	if logLine != nil {
		entry := *logLine
		entry.ExecutionID = id
		r.logs[id] = append(r.logs[id], entry)
	}
	return nil
}

func (r *MemoryRepository) AppendLog(id string, entry LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executions[id]; !ok {
		return errNotFound
	}
	entry.ExecutionID = id
	r.logs[id] = append(r.logs[id], entry)
	return nil
}

func (r *MemoryRepository) ListLogs(id string, limit int) ([]LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.logs[id]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]LogEntry, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

func (r *MemoryRepository) UpsertProgress(id string, progress Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executions[id]; !ok {
		return errNotFound
	}
	existing, ok := r.progress[id]
	if ok && existing.UpdatedAt.After(progress.UpdatedAt) {
		return nil // last-writer-wins on updated_at
	}
	cp := progress
	cp.ExecutionID = id
	r.progress[id] = &cp
	return nil
}

func (r *MemoryRepository) GetProgress(id string) (*Progress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.progress[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) AcquireLease(id, owner string, ttl time.Duration, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[id]
	if !ok {
		return errNotFound
	}
	if e.LeaseOwner != "" && e.LeaseOwner != owner && e.LeaseExpires != nil && e.LeaseExpires.After(now) {
		return errLeaseConflict
	}
	e.LeaseOwner = owner
	expiry := now.Add(ttl)
	e.LeaseExpires = &expiry
	return nil
}

func (r *MemoryRepository) RenewLease(id, owner string, ttl time.Duration, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[id]
	if !ok {
		return errNotFound
	}
	if e.LeaseOwner != owner {
		return errLeaseConflict
	}
	expiry := now.Add(ttl)
	e.LeaseExpires = &expiry
	return nil
}

func (r *MemoryRepository) ReleaseLease(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[id]
	if !ok {
		return errNotFound
	}
	e.LeaseOwner = ""
	e.LeaseExpires = nil
	return nil
}

func (r *MemoryRepository) ExpiredLeases(now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, e := range r.executions {
		if e.LeaseOwner != "" && e.LeaseExpires != nil && e.LeaseExpires.Before(now) && !e.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *MemoryRepository) Close() error { return nil }
