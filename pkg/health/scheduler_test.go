package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/controlplane/pkg/clock"
	"github.com/cuemby/controlplane/pkg/registry"
)

// scriptedProbe returns outcomes from a fixed, thread-safe queue, looping on
// the last entry once exhausted.
type scriptedProbe struct {
	mu       sync.Mutex
	outcomes []Outcome
	idx      int
}

func (p *scriptedProbe) Probe(ctx context.Context, target Target) Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	o := p.outcomes[p.idx]
	if p.idx < len(p.outcomes)-1 {
		p.idx++
	}
	return Result{Outcome: o, CheckedAt: time.Now()}
}

func TestConfigValidate(t *testing.T) {
	ok := Config{FailureThreshold: 3, SuccessThreshold: 2, Interval: time.Second, Timeout: 500 * time.Millisecond}
	assert.NoError(t, ok.Validate())

	badThreshold := ok
	badThreshold.FailureThreshold = 0
	assert.Error(t, badThreshold.Validate())

	badTimeout := ok
	badTimeout.Timeout = 2 * time.Second
	assert.Error(t, badTimeout.Validate())
}

// TestHealthFlapRequiresThreshold reproduces scenario S1: F=3, S=2, starting
// Healthy. Three consecutive failures flip to Unhealthy exactly at the third;
// two consecutive successes flip back to Healthy at the second.
func TestHealthFlapRequiresThreshold(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	reg := registry.New(fc)
	inst, err := reg.Register(registry.Instance{Name: "checkout", Address: "10.0.0.1", Port: 8080}, false)
	require.NoError(t, err)
	healthy := registry.StatusHealthy
	_, err = reg.Update(inst.ID, registry.Patch{Status: &healthy})
	require.NoError(t, err)

	svc := NewService(reg, fc, 10)
	probe := &scriptedProbe{outcomes: []Outcome{OutcomeUnhealthy, OutcomeUnhealthy, OutcomeUnhealthy, OutcomeHealthy, OutcomeHealthy}}

	sch := &instanceScheduler{
		instanceID: inst.ID,
		target:     Target{Address: inst.Address, Port: inst.Port},
		cfg: Config{
			Kind: KindTCP, Interval: time.Second, Timeout: 500 * time.Millisecond,
			FailureThreshold: 3, SuccessThreshold: 2,
		},
		prober: probe,
		ctx:    context.Background(),
	}

	for i := 0; i < 3; i++ {
		svc.runProbe(sch)
	}
	got, err := reg.Get(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusUnhealthy, got.Status, "status should flip to Unhealthy exactly at the third consecutive failure")

	for i := 0; i < 2; i++ {
		svc.runProbe(sch)
	}
	got, err = reg.Get(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusHealthy, got.Status, "status should flip to Healthy exactly at the second consecutive success")
}

func TestRegisterValidatesConfig(t *testing.T) {
	reg := registry.New(nil)
	svc := NewService(reg, nil, 10)

	err := svc.Register("inst-1", Target{Address: "10.0.0.1", Port: 80}, Config{
		Kind: KindTCP, Interval: time.Second, Timeout: 2 * time.Second,
		FailureThreshold: 1, SuccessThreshold: 1,
	})
	assert.Error(t, err)
}

// TestAutoRecoveryDoesNotImmediatelyFail reproduces a single Unhealthy
// detection under AutoRecovery: the instance must stay Unhealthy, not jump
// straight to Failed, and a subsequent healthy probe must still be able to
// bring it back to Healthy (the Healthy<->Unhealthy path stays reversible).
func TestAutoRecoveryDoesNotImmediatelyFail(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	reg := registry.New(fc)
	inst, err := reg.Register(registry.Instance{Name: "checkout", Address: "10.0.0.1", Port: 8080}, false)
	require.NoError(t, err)
	healthy := registry.StatusHealthy
	_, err = reg.Update(inst.ID, registry.Patch{Status: &healthy})
	require.NoError(t, err)

	svc := NewService(reg, fc, 10)
	probe := &scriptedProbe{outcomes: []Outcome{OutcomeUnhealthy, OutcomeHealthy}}
	sch := &instanceScheduler{
		instanceID: inst.ID,
		target:     Target{Address: inst.Address, Port: inst.Port},
		cfg: Config{
			Kind: KindTCP, Interval: time.Second, Timeout: 500 * time.Millisecond,
			FailureThreshold: 1, SuccessThreshold: 1,
			AutoRecovery: true, RecoveryBaseDelay: time.Millisecond, RecoveryMultiplier: 1,
			MaxRecoveryAttempts: 5,
		},
		prober: probe,
		ctx:    context.Background(),
	}

	svc.runProbe(sch)
	got, err := reg.Get(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusUnhealthy, got.Status, "first unhealthy detection must not jump straight to Failed")

	svc.runProbe(sch)
	got, err = reg.Get(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusHealthy, got.Status, "a healthy probe must still recover Unhealthy -> Healthy")

	svc.mu.Lock()
	attempts := sch.recoveryAttempts
	inRecovery := sch.inRecovery
	svc.mu.Unlock()
	assert.Equal(t, 0, attempts, "recovering to Healthy resets recovery attempts")
	assert.False(t, inRecovery)
}

// TestAutoRecoveryEscalatesToFailedAfterExhaustion reproduces an instance
// that stays Unhealthy across every recovery attempt: only once
// MaxRecoveryAttempts is exceeded should it become Failed, and Failed must
// then be terminal (no further status writes from the prober).
func TestAutoRecoveryEscalatesToFailedAfterExhaustion(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	reg := registry.New(fc)
	inst, err := reg.Register(registry.Instance{Name: "checkout", Address: "10.0.0.1", Port: 8080}, false)
	require.NoError(t, err)
	healthy := registry.StatusHealthy
	_, err = reg.Update(inst.ID, registry.Patch{Status: &healthy})
	require.NoError(t, err)

	svc := NewService(reg, fc, 10)
	probe := &scriptedProbe{outcomes: []Outcome{OutcomeUnhealthy}}
	sch := &instanceScheduler{
		instanceID: inst.ID,
		target:     Target{Address: inst.Address, Port: inst.Port},
		cfg: Config{
			Kind: KindTCP, Interval: time.Second, Timeout: 500 * time.Millisecond,
			FailureThreshold: 1, SuccessThreshold: 1,
			AutoRecovery: true, RecoveryBaseDelay: time.Millisecond, RecoveryMultiplier: 1,
			MaxRecoveryAttempts: 2,
		},
		prober: probe,
		ctx:    context.Background(),
	}

	for i := 0; i < 3; i++ {
		svc.runProbe(sch)
		got, err := reg.Get(inst.ID)
		require.NoError(t, err)
		if i < 2 {
			assert.Equal(t, registry.StatusUnhealthy, got.Status, "recovery attempt %d must stay Unhealthy", i+1)
		}
	}

	got, err := reg.Get(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusFailed, got.Status, "exhausting recovery attempts must mark the instance Failed")

	// Failed is terminal: a further probe must not attempt another status
	// write (Failed only legally transitions to Stopped).
	svc.runProbe(sch)
	got, err = reg.Get(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusFailed, got.Status)
}

func TestDeregisterCancelsScheduler(t *testing.T) {
	reg := registry.New(nil)
	svc := NewService(reg, nil, 10)
	require.NoError(t, svc.Register("inst-1", Target{Address: "10.0.0.1", Port: 80}, Config{
		Kind: KindTCP, Interval: time.Second, Timeout: 100 * time.Millisecond,
		FailureThreshold: 1, SuccessThreshold: 1,
	}))

	svc.mu.Lock()
	sch := svc.schedulers["inst-1"]
	svc.mu.Unlock()
	require.NotNil(t, sch)

	svc.Deregister("inst-1")
	assert.Error(t, sch.ctx.Err())

	svc.mu.Lock()
	_, ok := svc.schedulers["inst-1"]
	svc.mu.Unlock()
	assert.False(t, ok)
}
