package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/controlplane/pkg/apperrors"
	"github.com/cuemby/controlplane/pkg/clock"
	"github.com/cuemby/controlplane/pkg/execstore"
	"github.com/cuemby/controlplane/pkg/log"
	"github.com/cuemby/controlplane/pkg/metrics"
	"github.com/google/uuid"
)

// Orchestrator drives submitted workflow executions through the
// Queued -> Running -> {Completed,Failed,Cancelled,TimedOut} state machine,
// with Failed -> Queued retries bounded by max_retries and lease-based
// worker ownership so a crashed worker's execution gets re-enqueued.
type Orchestrator struct {
	repo    execstore.ExecutionRepository
	handler Handler
	clock   clock.Clock

	workers  int
	leaseTTL time.Duration

	queue chan string

	mu        sync.Mutex
	cancelers map[string]context.CancelFunc

	tick   clock.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup

	workerID string
}

// Config parameterizes an Orchestrator.
type Config struct {
	Workers            int
	LeaseTTL           time.Duration
	SupervisorInterval time.Duration
	QueueSize          int
}

// New builds an Orchestrator. handler is invoked once per execution attempt.
func New(repo execstore.ExecutionRepository, handler Handler, c clock.Clock, cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.SupervisorInterval <= 0 {
		cfg.SupervisorInterval = DefaultSupervisorInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if c == nil {
		c = clock.New()
	}
	return &Orchestrator{
		repo:      repo,
		handler:   handler,
		clock:     c,
		workers:   cfg.Workers,
		leaseTTL:  cfg.LeaseTTL,
		queue:     make(chan string, cfg.QueueSize),
		cancelers: make(map[string]context.CancelFunc),
		stopCh:    make(chan struct{}),
		workerID:  uuid.NewString(),
	}
}

// Start launches the worker pool and the lease/timeout supervisor.
func (o *Orchestrator) Start(supervisorInterval time.Duration) {
	if supervisorInterval <= 0 {
		supervisorInterval = DefaultSupervisorInterval
	}
	o.tick = o.clock.NewTicker(supervisorInterval)

	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	o.wg.Add(1)
	go o.supervise()
}

// Stop drains the worker pool and supervisor loop. In-flight handler
// invocations are cancelled via context.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	o.mu.Lock()
	for _, cancel := range o.cancelers {
		cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
	if o.tick != nil {
		o.tick.Stop()
	}
}

// Submit creates a Queued execution and enqueues it for processing.
func (o *Orchestrator) Submit(req SubmitRequest) (*execstore.Execution, error) {
	if req.MaxRetries <= 0 {
		req.MaxRetries = DefaultMaxRetries
	}
	exec := &execstore.Execution{
		ExecutionID: uuid.NewString(),
		WorkflowID:  req.WorkflowID,
		Status:      execstore.StatusQueued,
		Input:       req.Input,
		Context:     req.Context,
		Priority:    req.Priority,
		TimeoutSec:  req.TimeoutSec,
		CreatedBy:   req.CreatedBy,
		MaxRetries:  req.MaxRetries,
		UpdatedAt:   o.clock.Now(),
	}
	if err := o.repo.Insert(exec); err != nil {
		return nil, apperrors.Wrap(apperrors.StorageUnavailable, "insert execution", err)
	}
	if err := o.repo.UpsertProgress(exec.ExecutionID, execstore.Progress{
		CurrentStep: "Initializing",
		TotalSteps:  1,
		UpdatedAt:   o.clock.Now(),
	}); err != nil {
		log.Warn("failed to write initial execution progress")
	}
	_ = o.repo.AppendLog(exec.ExecutionID, execstore.LogEntry{
		Timestamp: o.clock.Now(),
		Level:     execstore.LogInfo,
		Message:   "execution queued for processing",
	})

	metrics.ExecutionsInFlight.WithLabelValues(string(execstore.StatusQueued)).Inc()
	o.enqueue(exec.ExecutionID)
	return exec, nil
}

// enqueue suspends the caller if the queue is full, per the "Submit
// suspends on enqueue" contract; it never drops work.
func (o *Orchestrator) enqueue(id string) {
	select {
	case o.queue <- id:
	case <-o.stopCh:
	}
}

// Get returns an execution with its current progress and most recent logs.
func (o *Orchestrator) Get(executionID string) (*ExecutionView, error) {
	exec, err := o.repo.Get(executionID)
	if err != nil {
		return nil, err
	}
	progress, err := o.repo.GetProgress(executionID)
	if err != nil && apperrors.KindOf(err) != apperrors.NotFound {
		return nil, err
	}
	logs, err := o.repo.ListLogs(executionID, DefaultRecentLogLimit)
	if err != nil {
		return nil, err
	}
	return &ExecutionView{Execution: exec, Progress: progress, Logs: logs}, nil
}

// List returns a bounded, paginated slice of executions.
func (o *Orchestrator) List(filter execstore.Filter, sort execstore.Sort, page execstore.Page) (execstore.PageResult, error) {
	if page.Limit <= 0 || page.Limit > execstore.MaxPageLimit {
		page.Limit = execstore.MaxPageLimit
	}
	return o.repo.List(filter, sort, page)
}

// Cancel transitions a Queued or Running execution to Cancelled and signals
// its worker, if any, to stop. Idempotent on already-terminal executions.
func (o *Orchestrator) Cancel(executionID string) (*execstore.Execution, error) {
	exec, err := o.repo.Get(executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return exec, nil
	}

	if err := o.repo.UpdateStatus(executionID, execstore.StatusCancelled, nil, "", &execstore.LogEntry{
		Timestamp: o.clock.Now(),
		Level:     execstore.LogInfo,
		Message:   "execution cancelled by user",
	}); err != nil {
		return nil, apperrors.Wrap(apperrors.StorageUnavailable, "cancel execution", err)
	}
	metrics.ExecutionsTotal.WithLabelValues(exec.WorkflowID, string(execstore.StatusCancelled)).Inc()

	o.mu.Lock()
	cancel, ok := o.cancelers[executionID]
	o.mu.Unlock()
	if ok {
		cancel()
	}

	return o.repo.Get(executionID)
}

// UpdateProgress is called by workers to report step-level progress.
func (o *Orchestrator) UpdateProgress(executionID string, progress execstore.Progress) error {
	progress.UpdatedAt = o.clock.Now()
	if progress.TotalSteps > 0 {
		progress.Percentage = 100 * float64(progress.CompletedSteps) / float64(progress.TotalSteps)
	}
	return o.repo.UpsertProgress(executionID, progress)
}

// AppendLog is called by workers to append one log line.
func (o *Orchestrator) AppendLog(executionID string, entry execstore.LogEntry) error {
	entry.Timestamp = o.clock.Now()
	return o.repo.AppendLog(executionID, entry)
}
