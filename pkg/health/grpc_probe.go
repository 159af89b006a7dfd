package health

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// GRPCProbe calls the standard gRPC Health Checking v1 service. Per spec §4.2
// and §9, a peer that doesn't implement grpc.health.v1.Health (Unimplemented)
// is not automatically Unhealthy: the probe falls back to a plain TCP
// connect so peers without the health service aren't penalized for it.
type GRPCProbe struct {
	ServiceName string
	fallback    *TCPProbe
}

func NewGRPCProbe(serviceName string) *GRPCProbe {
	return &GRPCProbe{ServiceName: serviceName, fallback: NewTCPProbe()}
}

func (p *GRPCProbe) Probe(ctx context.Context, target Target) Result {
	start := time.Now()
	addr := fmt.Sprintf("%s:%d", target.Address, target.Port)

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return Result{Outcome: OutcomeUnhealthy, Message: "dial failed: " + err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}
	defer conn.Close()

	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: p.ServiceName})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Result{Outcome: OutcomeTimeout, Message: "grpc health check timed out", CheckedAt: start, Duration: time.Since(start)}
		}
		if status.Code(err) == codes.Unimplemented {
			// Peer lacks the health service: fall back to a TCP connect per spec §9.
			fallback := p.fallback.Probe(ctx, target)
			fallback.Message = "grpc health unimplemented, fell back to tcp: " + fallback.Message
			return fallback
		}
		return Result{Outcome: OutcomeUnhealthy, Message: "grpc health check failed: " + err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}

	outcome := OutcomeUnhealthy
	if resp.Status == grpc_health_v1.HealthCheckResponse_SERVING {
		outcome = OutcomeHealthy
	}
	return Result{
		Outcome:   outcome,
		Message:   "grpc health status: " + resp.Status.String(),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
