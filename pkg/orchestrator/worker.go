package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/controlplane/pkg/apperrors"
	"github.com/cuemby/controlplane/pkg/execstore"
	"github.com/cuemby/controlplane/pkg/log"
	"github.com/cuemby/controlplane/pkg/metrics"
)

// worker pulls execution IDs off the queue and drives one attempt each.
func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case id := <-o.queue:
			o.runAttempt(id)
		case <-o.stopCh:
			return
		}
	}
}

// runAttempt acquires the execution's lease, transitions it to Running, runs
// the handler under a per-execution timeout, and drives the resulting
// terminal or retry transition.
func (o *Orchestrator) runAttempt(id string) {
	now := o.clock.Now()
	if err := o.repo.AcquireLease(id, o.workerID, o.leaseTTL, now); err != nil {
		return // another worker already owns it, or it raced a cancel
	}

	exec, err := o.repo.Get(id)
	if err != nil {
		return
	}
	if exec.Status.Terminal() {
		_ = o.repo.ReleaseLease(id)
		return
	}

	startedAt := now
	if err := o.retryableUpdate(id, execstore.StatusRunning, nil, "", &execstore.LogEntry{
		Timestamp: startedAt,
		Level:     execstore.LogInfo,
		Message:   "execution started",
	}); err != nil {
		o.failStorageUnavailable(id, exec)
		return
	}
	metrics.ExecutionsInFlight.WithLabelValues(string(execstore.StatusQueued)).Dec()
	metrics.ExecutionsInFlight.WithLabelValues(string(execstore.StatusRunning)).Inc()
	exec.Status = execstore.StatusRunning
	exec.StartedAt = startedAt

	ctx, cancel := context.WithTimeout(context.Background(), o.execTimeout(exec))
	o.mu.Lock()
	o.cancelers[id] = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.cancelers, id)
		o.mu.Unlock()
	}()

	output, runErr := o.handler(ctx, exec)
	metrics.ExecutionsInFlight.WithLabelValues(string(execstore.StatusRunning)).Dec()

	duration := o.clock.Now().Sub(startedAt)
	metrics.ExecutionDuration.Observe(duration.Seconds())

	switch {
	case runErr == nil:
		o.complete(id, exec, output)
	case ctx.Err() == context.DeadlineExceeded:
		o.timeout(id, exec)
	case errors.Is(runErr, context.Canceled):
		// Cancel already wrote the terminal transition; nothing to do.
	default:
		o.fail(id, exec, runErr)
	}
}

func (o *Orchestrator) execTimeout(exec *execstore.Execution) time.Duration {
	if exec.TimeoutSec <= 0 {
		return time.Minute
	}
	return time.Duration(exec.TimeoutSec) * time.Second
}

func (o *Orchestrator) complete(id string, exec *execstore.Execution, output map[string]any) {
	_ = o.retryableUpdate(id, execstore.StatusCompleted, output, "", &execstore.LogEntry{
		Timestamp: o.clock.Now(),
		Level:     execstore.LogInfo,
		Message:   "execution completed",
	})
	metrics.ExecutionsTotal.WithLabelValues(exec.WorkflowID, string(execstore.StatusCompleted)).Inc()
}

func (o *Orchestrator) timeout(id string, exec *execstore.Execution) {
	_ = o.retryableUpdate(id, execstore.StatusTimedOut, nil, "execution exceeded timeout_sec", &execstore.LogEntry{
		Timestamp: o.clock.Now(),
		Level:     execstore.LogError,
		Message:   "execution timed out",
	})
	metrics.ExecutionsTotal.WithLabelValues(exec.WorkflowID, string(execstore.StatusTimedOut)).Inc()
}

// fail retries the execution (Queued) while attempts remain, else marks it
// Failed, per the state machine's "Failed (if attempts <= max_retries ->
// back to Queued)" branch.
func (o *Orchestrator) fail(id string, exec *execstore.Execution, cause error) {
	if exec.Attempts < exec.MaxRetries {
		if err := o.retryableUpdate(id, execstore.StatusQueued, nil, cause.Error(), &execstore.LogEntry{
			Timestamp: o.clock.Now(),
			Level:     execstore.LogWarn,
			Message:   "execution failed, retrying: " + cause.Error(),
		}); err != nil {
			o.failStorageUnavailable(id, exec)
			return
		}
		metrics.ExecutionsInFlight.WithLabelValues(string(execstore.StatusQueued)).Inc()
		o.enqueue(id)
		return
	}

	_ = o.retryableUpdate(id, execstore.StatusFailed, nil, cause.Error(), &execstore.LogEntry{
		Timestamp: o.clock.Now(),
		Level:     execstore.LogError,
		Message:   "execution failed, retry budget exhausted: " + cause.Error(),
	})
	metrics.ExecutionsTotal.WithLabelValues(exec.WorkflowID, string(execstore.StatusFailed)).Inc()
}

// failStorageUnavailable is the terminal outcome when the store itself will
// not accept writes after the retry budget, per spec's storage failure
// semantics.
func (o *Orchestrator) failStorageUnavailable(id string, exec *execstore.Execution) {
	_ = o.repo.UpdateStatus(id, execstore.StatusFailed, nil, string(apperrors.StorageUnavailable), nil)
	metrics.ExecutionsTotal.WithLabelValues(exec.WorkflowID, string(execstore.StatusFailed)).Inc()
	log.Error("orchestrator marking execution failed: storage unavailable")
}

// retryableUpdate retries a transient store failure with bounded backoff
// before giving up, per "storage errors while driving an execution are
// retried with bounded backoff".
func (o *Orchestrator) retryableUpdate(id string, status execstore.Status, output map[string]any, errMsg string, logLine *execstore.LogEntry) error {
	policy := apperrors.DefaultRetryPolicy()
	return apperrors.Do(context.Background(), policy, func(ctx context.Context) error {
		err := o.repo.UpdateStatus(id, status, output, errMsg, logLine)
		if err != nil {
			return apperrors.Wrap(apperrors.StorageUnavailable, "update execution status", err)
		}
		return nil
	})
}
