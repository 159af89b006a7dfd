package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/controlplane/pkg/apperrors"
	"github.com/cuemby/controlplane/pkg/clock"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New(clock.NewFake(time.Unix(0, 0)))

	inst, err := r.Register(Instance{Name: "checkout", Address: "10.0.0.1", Port: 8080}, false)
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, inst.Status)
	assert.NotEmpty(t, inst.ID)

	found := r.Lookup("checkout", Filter{})
	require.Len(t, found, 1)
	assert.Equal(t, inst.ID, found[0].ID)
}

func TestRegisterConflictWithoutReplace(t *testing.T) {
	r := New(nil)
	_, err := r.Register(Instance{Name: "checkout", Address: "10.0.0.1", Port: 8080}, false)
	require.NoError(t, err)

	_, err = r.Register(Instance{Name: "checkout", Address: "10.0.0.1", Port: 8080}, false)
	require.Error(t, err)
	assert.Equal(t, apperrors.Conflict, apperrors.KindOf(err))
}

func TestDeregisterIsIdempotent(t *testing.T) {
	r := New(nil)
	inst, err := r.Register(Instance{Name: "checkout", Address: "10.0.0.1", Port: 8080}, false)
	require.NoError(t, err)

	require.NoError(t, r.Deregister(inst.ID))
	require.NoError(t, r.Deregister(inst.ID)) // second call is a no-op

	assert.Empty(t, r.Lookup("checkout", Filter{}))
}

func TestUpdateRejectsIllegalTransition(t *testing.T) {
	r := New(nil)
	inst, err := r.Register(Instance{Name: "checkout", Address: "10.0.0.1", Port: 8080}, false)
	require.NoError(t, err)

	failed := StatusFailed
	_, err = r.Update(inst.ID, Patch{Status: &failed})
	require.NoError(t, err)

	healthy := StatusHealthy
	_, err = r.Update(inst.ID, Patch{Status: &healthy})
	require.Error(t, err)
	assert.Equal(t, apperrors.Conflict, apperrors.KindOf(err))
}

func TestUpdateUnknownInstance(t *testing.T) {
	r := New(nil)
	_, err := r.Update("missing", Patch{})
	require.Error(t, err)
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))
}

func TestLookupFilterByStatusAndMetadata(t *testing.T) {
	r := New(nil)
	a, err := r.Register(Instance{Name: "checkout", Address: "10.0.0.1", Port: 8080, Metadata: map[string]string{"az": "us-east-1a"}}, false)
	require.NoError(t, err)
	_, err = r.Register(Instance{Name: "checkout", Address: "10.0.0.2", Port: 8080, Metadata: map[string]string{"az": "us-east-1b"}}, false)
	require.NoError(t, err)

	starting := StatusStarting
	_, err = r.Update(a.ID, Patch{Status: &starting})
	require.NoError(t, err)
	healthy := StatusHealthy
	_, err = r.Update(a.ID, Patch{Status: &healthy})
	require.NoError(t, err)

	byStatus := r.Lookup("checkout", Filter{Status: StatusHealthy})
	require.Len(t, byStatus, 1)
	assert.Equal(t, a.ID, byStatus[0].ID)

	byTag := r.Lookup("checkout", Filter{MetadataTag: "az=us-east-1b"})
	require.Len(t, byTag, 1)
	assert.NotEqual(t, a.ID, byTag[0].ID)
}

func TestSubscribeReceivesEventsInCommitOrder(t *testing.T) {
	r := New(nil)

	var mu sync.Mutex
	var kinds []EventKind
	done := make(chan struct{}, 10)

	r.Subscribe(func(ev MembershipEvent) error {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, 1)

	inst, err := r.Register(Instance{Name: "checkout", Address: "10.0.0.1", Port: 8080}, false)
	require.NoError(t, err)
	require.NoError(t, r.Deregister(inst.ID))

	<-done
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, kinds, 2)
	assert.Equal(t, EventRegistered, kinds[0])
	assert.Equal(t, EventDeregistered, kinds[1])
}

func TestSubscriberDroppedAfterMaxAttempts(t *testing.T) {
	r := New(nil)

	calls := make(chan struct{}, 10)
	r.Subscribe(func(ev MembershipEvent) error {
		calls <- struct{}{}
		return assert.AnError
	}, 2)

	_, err := r.Register(Instance{Name: "checkout", Address: "10.0.0.1", Port: 8080}, false)
	require.NoError(t, err)

	<-calls
	<-calls

	select {
	case <-calls:
		t.Fatal("callback invoked more than maxAttempts times")
	case <-time.After(200 * time.Millisecond):
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()
	assert.Empty(t, r.subs)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusStarting, StatusHealthy))
	assert.True(t, CanTransition(StatusHealthy, StatusUnhealthy))
	assert.False(t, CanTransition(StatusFailed, StatusHealthy))
	assert.True(t, CanTransition(StatusFailed, StatusStopped))
	assert.False(t, CanTransition(StatusStopped, StatusHealthy))
}
