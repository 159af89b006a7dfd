package slo

import (
	"context"
	"fmt"
	"time"

	papi "github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// PrometheusSource is the production MetricSeriesSource backed by a
// Prometheus-compatible range query API, the Metrics Sink spec's
// MetricSeriesSource is abstracted over.
type PrometheusSource struct {
	api v1.API
	// Step is the range-query resolution; defaults to 30s.
	Step time.Duration
}

// NewPrometheusSource builds a PrometheusSource against baseURL (e.g.
// "http://prometheus:9090").
func NewPrometheusSource(baseURL string) (*PrometheusSource, error) {
	client, err := papi.NewClient(papi.Config{Address: baseURL})
	if err != nil {
		return nil, fmt.Errorf("build prometheus client: %w", err)
	}
	return &PrometheusSource{api: v1.NewAPI(client), Step: 30 * time.Second}, nil
}

// Query satisfies MetricSeriesSource by issuing a Prometheus range query for
// metric, filtered to service over [start, end].
func (s *PrometheusSource) Query(ctx context.Context, service, metric string, start, end time.Time) ([]Sample, error) {
	step := s.Step
	if step <= 0 {
		step = 30 * time.Second
	}
	query := fmt.Sprintf(`%s{service=%q}`, metric, service)
	value, warnings, err := s.api.QueryRange(ctx, query, v1.Range{Start: start, End: end, Step: step})
	if err != nil {
		return nil, fmt.Errorf("query range %s: %w", query, err)
	}
	_ = warnings

	matrix, ok := value.(model.Matrix)
	if !ok || len(matrix) == 0 {
		return nil, nil
	}

	samples := make([]Sample, 0, len(matrix[0].Values))
	for _, sp := range matrix[0].Values {
		samples = append(samples, Sample{
			Timestamp: sp.Timestamp.Time(),
			Value:     float64(sp.Value),
		})
	}
	return samples, nil
}
