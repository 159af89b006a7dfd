// Package orchestrator implements the Workflow Orchestrator: durable
// execution of submitted workflows with progress, logs, cancellation, and
// retry, driven through an ExecutionRepository collaborator.
package orchestrator

import (
	"context"
	"time"

	"github.com/cuemby/controlplane/pkg/execstore"
)

// Handler runs one execution attempt's actual workflow logic. The
// orchestrator owns the state machine; Handler owns what a workflow does.
type Handler func(ctx context.Context, exec *execstore.Execution) (output map[string]any, err error)

// SubmitRequest captures Submit's parameters.
type SubmitRequest struct {
	WorkflowID string
	Input      map[string]any
	Context    map[string]any
	Priority   int
	TimeoutSec int
	Callback   string
	CreatedBy  string
	MaxRetries int
}

// ExecutionView is the response shape Get returns: an execution plus its
// current progress and most-recent logs.
type ExecutionView struct {
	Execution *execstore.Execution
	Progress  *execstore.Progress
	Logs      []execstore.LogEntry
}

const (
	// DefaultMaxRetries applies when SubmitRequest.MaxRetries is unset.
	DefaultMaxRetries = 3
	// DefaultLeaseTTL bounds how long a worker may hold an execution before
	// the supervisor treats it as crashed.
	DefaultLeaseTTL = 30 * time.Second
	// DefaultSupervisorInterval is the ticker period for the lease-expiry
	// and timeout sweep.
	DefaultSupervisorInterval = 5 * time.Second
	// DefaultRecentLogLimit bounds how many log lines Get returns.
	DefaultRecentLogLimit = 20
)
