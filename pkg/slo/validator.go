package slo

import (
	"context"
	"time"

	"github.com/cuemby/controlplane/pkg/breaker"
	"github.com/cuemby/controlplane/pkg/clock"
	"github.com/cuemby/controlplane/pkg/log"
	"github.com/cuemby/controlplane/pkg/metrics"
)

// NotificationSink receives violations as they're raised, in addition to
// the metrics they always emit to.
type NotificationSink func(Violation)

// Config parameterizes a Validator.
type Config struct {
	TickInterval  time.Duration
	RetentionDays int
}

const (
	defaultTickInterval  = time.Minute
	defaultRetentionDays = 30
)

// Validator periodically evaluates every active SLO and emits violations,
// grounded on the original validate_all_slos/validate_slo/check_violations
// cycle.
type Validator struct {
	repo    SloRepository
	source  MetricSeriesSource
	breaker *breaker.Breaker
	clock   clock.Clock
	cfg     Config
	notify  NotificationSink

	tick   clock.Ticker
	stopCh chan struct{}
	done   chan struct{}
}

// New builds a Validator. notify may be nil.
func New(repo SloRepository, source MetricSeriesSource, c clock.Clock, cfg Config, notify NotificationSink) *Validator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	return &Validator{
		repo:    repo,
		source:  source,
		breaker: breaker.New(breaker.DefaultConfig("slo-metric-source")),
		clock:   c,
		cfg:     cfg,
		notify:  notify,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the periodic validation cycle; Stop blocks until the
// current cycle, if any, finishes.
func (v *Validator) Start() {
	v.tick = v.clock.NewTicker(v.cfg.TickInterval)
	go v.loop()
}

func (v *Validator) Stop() {
	close(v.stopCh)
	<-v.done
	if v.tick != nil {
		v.tick.Stop()
	}
}

func (v *Validator) loop() {
	defer close(v.done)
	for {
		select {
		case <-v.tick.C():
			v.RunOnce(context.Background())
		case <-v.stopCh:
			return
		}
	}
}

// RunOnce evaluates every active SLO once, appends a Calculation for each,
// and raises threshold and burn-rate violations.
func (v *Validator) RunOnce(ctx context.Context) {
	active, err := v.repo.ListByStatus(StatusActive)
	if err != nil {
		log.Error("slo validator: failed to list active SLOs")
		return
	}

	for _, s := range active {
		calc, err := v.evaluate(ctx, s)
		if err != nil {
			log.Error("slo validator: failed to evaluate SLO " + s.Name)
			continue
		}
		if err := v.repo.InsertCalculation(calc); err != nil {
			log.Error("slo validator: failed to store calculation for " + s.Name)
		}
		metrics.SloCompliancePercent.WithLabelValues(s.ID).Set(calc.CurrentPercent)

		if !calc.Compliant {
			v.raise(Violation{
				SloID: s.ID, SloName: s.Name, ServiceName: s.ServiceName,
				Kind:     ViolationThreshold,
				Severity: DetermineSeverity(calc.CurrentPercent, calc.TargetPercent),
				Description: "SLO '" + s.Name + "' violation",
				CurrentValue: calc.CurrentPercent, ThresholdValue: calc.TargetPercent,
				Timestamp: calc.ComputedAt,
			})
		}

		v.checkBurnRate(s, calc.ComputedAt)
	}
}

func (v *Validator) evaluate(ctx context.Context, s *Slo) (*Calculation, error) {
	window, err := ParseTimeWindow(s.TimeWindow)
	if err != nil {
		return nil, err
	}
	end := v.clock.Now()
	start := end.Add(-window)

	var samples []Sample
	err = v.breaker.Do(ctx, func(ctx context.Context) error {
		var qErr error
		samples, qErr = v.source.Query(ctx, s.ServiceName, s.MetricName, start, end)
		return qErr
	})
	if err != nil {
		return nil, err
	}

	if len(samples) == 0 {
		return &Calculation{
			SloID: s.ID, CurrentPercent: 0, TargetPercent: s.TargetPercent,
			Compliant: false, SampleCount: 0,
			WindowStart: start, WindowEnd: end, ComputedAt: end,
		}, nil
	}

	compliant := 0
	for _, sample := range samples {
		if s.Operator.satisfiedBy(sample.Value, s.ThresholdValue) {
			compliant++
		}
	}
	percent := float64(compliant) / float64(len(samples)) * 100

	return &Calculation{
		SloID: s.ID, CurrentPercent: percent, TargetPercent: s.TargetPercent,
		Compliant: percent >= s.TargetPercent, SampleCount: len(samples),
		WindowStart: start, WindowEnd: end, ComputedAt: end,
	}, nil
}

func (v *Validator) checkBurnRate(s *Slo, now time.Time) {
	recent, err := v.repo.RecentCalculations(s.ID, now.Add(-burnRateWindow))
	if err != nil {
		return
	}
	rate, ok := burnRate(recent, now)
	if !ok {
		return
	}
	metrics.SloBurnRate.WithLabelValues(s.ID).Set(rate)
	severity, alert := BurnRateSeverity(rate)
	if !alert {
		return
	}
	v.raise(Violation{
		SloID: s.ID, SloName: s.Name, ServiceName: s.ServiceName,
		Kind: ViolationBurnRate, Severity: severity,
		Description:    "high burn rate detected for SLO '" + s.Name + "'",
		CurrentValue:   rate,
		ThresholdValue: s.TargetPercent,
		Timestamp:      now,
	})
}

func (v *Validator) raise(violation Violation) {
	metrics.SloViolationsTotal.WithLabelValues(violation.SloID, string(violation.Severity)).Inc()
	if v.notify != nil {
		v.notify(violation)
	}
}

// Cleanup deletes calculations older than RetentionDays; intended to be
// called from a separate, coarser periodic task.
func (v *Validator) Cleanup() (int, error) {
	cutoff := v.clock.Now().AddDate(0, 0, -v.cfg.RetentionDays)
	return v.repo.DeleteOlderThan(cutoff)
}
