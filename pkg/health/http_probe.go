package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPProbe performs HTTP(S)-based health checks against a target.
type HTTPProbe struct {
	Scheme         string
	Path           string
	Method         string
	Headers        map[string]string
	ExpectedStatus int
	ExpectedBody   string
	Client         *http.Client
}

// NewHTTPProbe builds an HTTPProbe from Config, defaulting Method to GET and
// ExpectedStatus to 200 when unset.
func NewHTTPProbe(cfg Config) *HTTPProbe {
	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	status := cfg.ExpectedStatus
	if status == 0 {
		status = http.StatusOK
	}
	return &HTTPProbe{
		Scheme:         scheme,
		Path:           cfg.Path,
		Method:         method,
		Headers:        cfg.Headers,
		ExpectedStatus: status,
		ExpectedBody:   cfg.ExpectedBody,
		Client:         &http.Client{},
	}
}

func (p *HTTPProbe) Probe(ctx context.Context, target Target) Result {
	start := time.Now()
	url := fmt.Sprintf("%s://%s:%d%s", p.Scheme, target.Address, target.Port, p.Path)

	req, err := http.NewRequestWithContext(ctx, p.Method, url, nil)
	if err != nil {
		return Result{Outcome: OutcomeUnhealthy, Message: "build request: " + err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		outcome := OutcomeUnhealthy
		if ctx.Err() == context.DeadlineExceeded {
			outcome = OutcomeTimeout
		}
		return Result{Outcome: outcome, Message: "request failed: " + err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	healthy := resp.StatusCode == p.ExpectedStatus
	if healthy && p.ExpectedBody != "" {
		healthy = strings.Contains(string(body), p.ExpectedBody)
	}

	outcome := OutcomeUnhealthy
	if healthy {
		outcome = OutcomeHealthy
	}
	return Result{
		Outcome:   outcome,
		Message:   fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
