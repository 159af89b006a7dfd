package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPProbe classifies Healthy iff a connection completes within the
// enclosing context's deadline.
type TCPProbe struct{}

func NewTCPProbe() *TCPProbe { return &TCPProbe{} }

func (p *TCPProbe) Probe(ctx context.Context, target Target) Result {
	start := time.Now()
	addr := fmt.Sprintf("%s:%d", target.Address, target.Port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		outcome := OutcomeUnhealthy
		if ctx.Err() == context.DeadlineExceeded {
			outcome = OutcomeTimeout
		}
		return Result{Outcome: outcome, Message: "connect failed: " + err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}
	_ = conn.Close()

	return Result{Outcome: OutcomeHealthy, Message: "tcp connect ok", CheckedAt: start, Duration: time.Since(start)}
}
