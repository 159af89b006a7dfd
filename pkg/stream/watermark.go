package stream

import (
	"sort"
	"sync"
	"time"

	"github.com/cuemby/controlplane/pkg/metrics"
)

// WatermarkTracker maintains one monotonic watermark per source, derived
// from recently observed event timestamps per the configured policy.
// The original implementation overwrites the watermark unconditionally on
// every update; this tracker enforces monotonicity per source and counts
// regressions instead of silently dropping them.
type WatermarkTracker struct {
	mu         sync.Mutex
	policy     WatermarkPolicy
	watermarks map[string]time.Time
	samples    map[string][]time.Time
}

// NewWatermarkTracker returns a tracker applying policy uniformly across
// all sources.
func NewWatermarkTracker(policy WatermarkPolicy) *WatermarkTracker {
	return &WatermarkTracker{
		policy:     policy,
		watermarks: make(map[string]time.Time),
		samples:    make(map[string][]time.Time),
	}
}

// Observe records one event's timestamp for source and recomputes that
// source's watermark. It returns the (possibly unchanged) watermark.
func (w *WatermarkTracker) Observe(source string, eventTime time.Time) time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[source] = append(w.samples[source], eventTime)
	if n := len(w.samples[source]); n > maxWatermarkSamples {
		w.samples[source] = w.samples[source][n-maxWatermarkSamples:]
	}

	candidate := w.compute(source)
	current, ok := w.watermarks[source]
	if !ok || candidate.After(current) {
		w.watermarks[source] = candidate
		return candidate
	}
	if candidate.Before(current) {
		metrics.WatermarkRegressionsTotal.Inc()
	}
	return current
}

func (w *WatermarkTracker) compute(source string) time.Time {
	samples := w.samples[source]
	switch w.policy.Kind {
	case WatermarkPercentile:
		sorted := append([]time.Time(nil), samples...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
		idx := int((w.policy.Percentile / 100) * float64(len(sorted)-1))
		if idx < 0 {
			idx = 0
		}
		return sorted[idx]
	case WatermarkFixedDelay:
		fallthrough
	default:
		maxTS := samples[0]
		for _, s := range samples[1:] {
			if s.After(maxTS) {
				maxTS = s
			}
		}
		return maxTS.Add(-w.policy.FixedDelay)
	}
}

// Watermark returns the current watermark for source, or the zero time if
// no events have been observed for it.
func (w *WatermarkTracker) Watermark(source string) time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watermarks[source]
}

// Global returns the minimum watermark across every tracked source: the
// point below which no source can still produce an on-time record.
func (w *WatermarkTracker) Global() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	var min time.Time
	first := true
	for _, wm := range w.watermarks {
		if first || wm.Before(min) {
			min = wm
			first = false
		}
	}
	return min
}

const maxWatermarkSamples = 4096
