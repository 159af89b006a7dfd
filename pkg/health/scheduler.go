package health

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cuemby/controlplane/pkg/clock"
	"github.com/cuemby/controlplane/pkg/log"
	"github.com/cuemby/controlplane/pkg/metrics"
	"github.com/cuemby/controlplane/pkg/registry"
)

// instanceScheduler tracks probe state for a single instance: independent
// consecutive-success/consecutive-failure counters and the next due time.
type instanceScheduler struct {
	instanceID string
	target     Target
	cfg        Config
	prober     Prober

	consecutiveSuccesses int
	consecutiveFailures  int
	nextCheckAt          time.Time

	recoveryAttempts int
	inRecovery       bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Service runs the Health Prober: one scheduler per instance, a global
// concurrency semaphore, and auto-recovery backoff on Unhealthy instances,
// which are marked Failed once their recovery attempts are exhausted.
type Service struct {
	mu         sync.Mutex
	schedulers map[string]*instanceScheduler

	reg   *registry.Registry
	sem   chan struct{}
	clock clock.Clock

	tick   clock.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// DefaultConcurrency is the default global probe concurrency cap.
const DefaultConcurrency = 100

// NewService builds a Prober Service bound to reg. concurrency <= 0 uses
// DefaultConcurrency.
func NewService(reg *registry.Registry, c clock.Clock, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if c == nil {
		c = clock.New()
	}
	return &Service{
		schedulers: make(map[string]*instanceScheduler),
		reg:        reg,
		sem:        make(chan struct{}, concurrency),
		clock:      c,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the scheduler tick loop at the given resolution. A 1s
// resolution is typical: each tick scans schedulers whose nextCheckAt is due.
func (s *Service) Start(resolution time.Duration) {
	s.tick = s.clock.NewTicker(resolution)
	s.wg.Add(1)
	go s.run()
}

// Stop halts the tick loop and cancels every in-flight probe.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	if s.tick != nil {
		s.tick.Stop()
	}
	s.mu.Lock()
	for _, sch := range s.schedulers {
		if sch.cancel != nil {
			sch.cancel()
		}
	}
	s.mu.Unlock()
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.tick.C():
			s.tickOnce()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Service) tickOnce() {
	now := s.clock.Now()
	s.mu.Lock()
	due := make([]*instanceScheduler, 0)
	for _, sch := range s.schedulers {
		if !now.Before(sch.nextCheckAt) {
			sch.nextCheckAt = now.Add(sch.cfg.Interval)
			due = append(due, sch)
		}
	}
	s.mu.Unlock()

	for _, sch := range due {
		sch := sch
		go s.runProbe(sch)
	}
}

// Register adds an instance to scheduling. Per-instance probes are
// serialized: tickOnce moves a due scheduler's nextCheckAt one Interval
// ahead before launching its probe, so later ticks skip that instance while
// the probe runs (Validate keeps Timeout below Interval).
func (s *Service) Register(instanceID string, target Target, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	prober, err := s.buildProber(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sch := &instanceScheduler{
		instanceID:  instanceID,
		target:      target,
		cfg:         cfg,
		prober:      prober,
		nextCheckAt: s.clock.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}

	s.mu.Lock()
	s.schedulers[instanceID] = sch
	s.mu.Unlock()
	return nil
}

// Deregister cancels and removes the scheduler for instanceID.
func (s *Service) Deregister(instanceID string) {
	s.mu.Lock()
	sch, ok := s.schedulers[instanceID]
	if ok {
		delete(s.schedulers, instanceID)
	}
	s.mu.Unlock()
	if ok && sch.cancel != nil {
		sch.cancel()
	}
}

func (s *Service) buildProber(cfg Config) (Prober, error) {
	switch cfg.Kind {
	case KindHTTP:
		return NewHTTPProbe(cfg), nil
	case KindTCP:
		return NewTCPProbe(), nil
	case KindGRPC:
		return NewGRPCProbe(cfg.GRPCServiceName), nil
	case KindScript:
		return NewScriptProbe(cfg.Command, cfg.WorkingDir), nil
	default:
		return nil, errUnknownKind
	}
}

func (s *Service) runProbe(sch *instanceScheduler) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-s.stopCh:
		return
	}
	metrics.ProbesInFlight.Inc()
	defer metrics.ProbesInFlight.Dec()

	ctx, cancel := context.WithTimeout(sch.ctx, sch.cfg.Timeout)
	defer cancel()

	timer := metrics.NewTimer()
	result := sch.prober.Probe(ctx, sch.target)
	timer.ObserveDurationVec(metrics.ProbeDuration, string(sch.cfg.Kind))
	metrics.ProbesTotal.WithLabelValues(string(sch.cfg.Kind), string(result.Outcome)).Inc()

	s.applyResult(sch, result)
}

// applyResult updates the scheduler's counters and drives a Registry status
// transition, per spec §4.2 steps 3-6. Failed is never a direct side effect
// of steps 3-5 (Unhealthy/Healthy flapping): it is only reached via
// maybeScheduleRecovery once recovery attempts on a persistently Unhealthy
// instance are exhausted (step 6).
func (s *Service) applyResult(sch *instanceScheduler, result Result) {
	s.mu.Lock()
	if result.Outcome == OutcomeHealthy {
		sch.consecutiveSuccesses++
		sch.consecutiveFailures = 0
	} else {
		sch.consecutiveFailures++
		sch.consecutiveSuccesses = 0
	}
	successes, failures := sch.consecutiveSuccesses, sch.consecutiveFailures
	s.mu.Unlock()

	inst, err := s.reg.Get(sch.instanceID)
	if err != nil {
		s.scheduleNext(sch)
		return // instance deregistered mid-probe
	}

	if inst.Status == registry.StatusFailed || inst.Status == registry.StatusStopped {
		// Terminal: legalTransitions only allows Failed/Stopped -> Stopped,
		// so there is nothing left for the prober to drive here.
		s.scheduleNext(sch)
		return
	}

	var target *registry.Status
	switch {
	case failures >= sch.cfg.FailureThreshold && inst.Status != registry.StatusUnhealthy:
		st := registry.StatusUnhealthy
		target = &st
	case successes >= sch.cfg.SuccessThreshold && inst.Status != registry.StatusHealthy:
		st := registry.StatusHealthy
		target = &st
	}

	if target != nil {
		if _, err := s.reg.Update(sch.instanceID, registry.Patch{Status: target}); err != nil {
			metrics.RegistryWriteFailuresTotal.Inc()
			log.Warn("health prober failed to write registry status")
			s.scheduleNext(sch)
			return
		}
		if *target == registry.StatusHealthy {
			s.resetRecovery(sch)
			s.scheduleNext(sch)
			return
		}
	}

	unhealthy := inst.Status == registry.StatusUnhealthy || (target != nil && *target == registry.StatusUnhealthy)
	if unhealthy && sch.cfg.AutoRecovery {
		s.maybeScheduleRecovery(sch)
		return
	}
	s.scheduleNext(sch)
}

func (s *Service) scheduleNext(sch *instanceScheduler) {
	s.mu.Lock()
	sch.nextCheckAt = s.clock.Now().Add(sch.cfg.Interval)
	s.mu.Unlock()
}

func (s *Service) resetRecovery(sch *instanceScheduler) {
	s.mu.Lock()
	sch.inRecovery = false
	sch.recoveryAttempts = 0
	s.mu.Unlock()
}

// maybeScheduleRecovery reacts to an instance that is already Unhealthy with
// AutoRecovery enabled: it backs off the next probe and, once
// MaxRecoveryAttempts is exceeded, marks the instance Failed via a dedicated
// exhausted-recovery path rather than as a byproduct of the first Unhealthy
// detection.
func (s *Service) maybeScheduleRecovery(sch *instanceScheduler) {
	s.mu.Lock()
	sch.inRecovery = true
	sch.recoveryAttempts++
	attempts := sch.recoveryAttempts
	delay := time.Duration(float64(sch.cfg.RecoveryBaseDelay) * math.Pow(sch.cfg.RecoveryMultiplier, float64(attempts)))
	sch.nextCheckAt = s.clock.Now().Add(delay)
	exhausted := attempts > sch.cfg.MaxRecoveryAttempts
	s.mu.Unlock()

	if !exhausted {
		return
	}

	failedStatus := registry.StatusFailed
	if _, err := s.reg.Update(sch.instanceID, registry.Patch{Status: &failedStatus}); err != nil {
		metrics.RegistryWriteFailuresTotal.Inc()
		log.Warn("health prober failed to mark instance failed after exhausting recovery attempts")
	}
}
