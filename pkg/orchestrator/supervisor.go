package orchestrator

import (
	"time"

	"github.com/cuemby/controlplane/pkg/execstore"
	"github.com/cuemby/controlplane/pkg/log"
	"github.com/cuemby/controlplane/pkg/metrics"
)

func secondsToDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

// supervise periodically re-enqueues executions whose worker lease expired
// (a crashed worker) and times out executions that have overrun
// timeout_sec, per spec's "supervisor loop" contract.
func (o *Orchestrator) supervise() {
	defer o.wg.Done()
	for {
		select {
		case <-o.tick.C():
			o.sweepExpiredLeases()
			o.sweepTimeouts()
		case <-o.stopCh:
			return
		}
	}
}

func (o *Orchestrator) sweepExpiredLeases() {
	now := o.clock.Now()
	ids, err := o.repo.ExpiredLeases(now)
	if err != nil {
		log.Warn("supervisor failed to list expired leases")
		return
	}
	for _, id := range ids {
		if err := o.repo.UpdateStatus(id, execstore.StatusQueued, nil, "worker lease expired", &execstore.LogEntry{
			Timestamp: now,
			Level:     execstore.LogWarn,
			Message:   "worker lease expired, re-enqueuing",
		}); err != nil {
			log.Warn("supervisor failed to re-enqueue execution after lease expiry")
			continue
		}
		metrics.LeaseExpiriesTotal.Inc()
		o.enqueue(id)
	}
}

func (o *Orchestrator) sweepTimeouts() {
	now := o.clock.Now()
	running := execstore.StatusRunning
	page, err := o.repo.List(execstore.Filter{Statuses: []execstore.Status{running}}, execstore.Sort{}, execstore.Page{Limit: execstore.MaxPageLimit})
	if err != nil {
		log.Warn("supervisor failed to list running executions")
		return
	}
	for _, exec := range page.Executions {
		if exec.TimeoutSec <= 0 {
			continue
		}
		deadline := exec.StartedAt.Add(secondsToDuration(exec.TimeoutSec))
		if now.Before(deadline) {
			continue
		}
		// The handler's own context already carries this deadline and will
		// unwind on its own; this sweep is the backstop for a handler that
		// doesn't observe ctx in time.
		o.mu.Lock()
		if cancel, ok := o.cancelers[exec.ExecutionID]; ok {
			cancel()
		}
		o.mu.Unlock()
		o.timeout(exec.ExecutionID, exec)
	}
}
