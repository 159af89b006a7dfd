// Package slo implements the SLO Store collaborator contract and the SLO
// Validator: a periodic job that evaluates every active SLO against a
// metric series, records compliance, and raises severity-classified and
// burn-rate violations.
package slo

import (
	"context"
	"time"
)

// Operator is one of the five comparisons a per-sample compliance test uses.
type Operator string

const (
	OpGTE Operator = "gte"
	OpGT  Operator = "gt"
	OpLTE Operator = "lte"
	OpLT  Operator = "lt"
	OpEQ  Operator = "eq"
)

func (o Operator) satisfiedBy(value, threshold float64) bool {
	switch o {
	case OpGTE:
		return value >= threshold
	case OpGT:
		return value > threshold
	case OpLTE:
		return value <= threshold
	case OpLT:
		return value < threshold
	case OpEQ:
		return value == threshold
	default:
		return false
	}
}

// Status is an SLO's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// Slo is one service-level objective definition.
type Slo struct {
	ID              string
	Name            string
	Description     string
	ServiceName     string
	MetricName      string
	Operator        Operator
	ThresholdValue  float64
	TargetPercent   float64 // 0 < TargetPercent <= 100
	TimeWindow      string  // "<int><unit>", unit in {m,h,d,w}
	Status          Status
	Metadata        map[string]string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Severity classifies how far a violation is from target.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Calculation is one append-only compliance computation.
type Calculation struct {
	SloID            string
	CurrentPercent   float64
	TargetPercent    float64
	Compliant        bool
	SampleCount      int
	WindowStart      time.Time
	WindowEnd        time.Time
	ComputedAt       time.Time
}

// ViolationKind distinguishes a threshold breach from a burn-rate alert.
type ViolationKind string

const (
	ViolationThreshold ViolationKind = "threshold_breach"
	ViolationBurnRate  ViolationKind = "burn_rate"
)

// Violation is a single alertable compliance failure.
type Violation struct {
	SloID         string
	SloName       string
	ServiceName   string
	Kind          ViolationKind
	Severity      Severity
	Description   string
	CurrentValue  float64
	ThresholdValue float64
	Timestamp     time.Time
}

// Sample is one (timestamp, value) point from a metric series.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// MetricSeriesSource fetches a metric's samples over a time range.
type MetricSeriesSource interface {
	Query(ctx context.Context, service, metric string, start, end time.Time) ([]Sample, error)
}
