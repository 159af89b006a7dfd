// Package breaker wraps github.com/sony/gobreaker to pin down the
// closed/half-open/open semantics spec §7 requires for an upstream
// collaborator. The SLO validator's metric source calls are the only calls
// wrapped by a Breaker; the Registry and Execution stores are not.
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cuemby/controlplane/pkg/apperrors"
)

// Config controls when a breaker trips and how long it stays open.
type Config struct {
	// Name identifies the upstream in metrics/logs.
	Name string
	// FailureRatio trips the breaker once the failure ratio exceeds this
	// threshold (0..1). The ratio is taken over gobreaker's cumulative
	// counts since the breaker last changed state; there is no sliding
	// window, so old outcomes weigh as much as recent ones.
	FailureRatio float64
	// MinRequests is the minimum sample size before FailureRatio applies.
	MinRequests uint32
	// OpenTimeout is how long the breaker stays open before allowing a
	// half-open probe.
	OpenTimeout time.Duration
}

// DefaultConfig trips above a 50% failure rate over at least 10 requests and
// stays open for 30s before probing again.
func DefaultConfig(name string) Config {
	return Config{Name: name, FailureRatio: 0.5, MinRequests: 10, OpenTimeout: 30 * time.Second}
}

// Breaker is a per-upstream circuit breaker.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New builds a Breaker from Config.
func New(cfg Config) *Breaker {
	st := gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= cfg.MinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) > cfg.FailureRatio
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// State mirrors gobreaker's three states for observability.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// State returns the breaker's current state.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Do executes fn through the breaker. When the breaker is open, fn is never
// called and an UpstreamUnavailable error is returned immediately (fail fast).
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperrors.Wrap(apperrors.UpstreamUnavailable, "circuit breaker open: "+b.cb.Name(), err)
	}
	return err
}
