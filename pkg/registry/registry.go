// Package registry is the authoritative inventory of service instances: the
// single writer of ServiceInstance state, with atomic status transitions and
// linearizable reads. Membership changes are published to subscribers
// at-least-once in commit order.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/controlplane/pkg/apperrors"
	"github.com/cuemby/controlplane/pkg/clock"
	"github.com/cuemby/controlplane/pkg/log"
	"github.com/cuemby/controlplane/pkg/metrics"
)

// Callback receives membership events. It must be non-blocking: Registry
// invokes callbacks on a dedicated per-subscriber goroutine and never waits
// on the caller's own processing.
type Callback func(MembershipEvent) error

// subscription pairs a callback with its retry bookkeeping.
type subscription struct {
	id       string
	cb       Callback
	attempts int
	maxAttempts int
}

// Registry is the in-memory, mutex-guarded instance store. It satisfies
// spec's linearizability requirement by serializing every write under a
// single RWMutex and never exposing mutable internal state to callers.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	byName    map[string][]string // name -> instance IDs, preserves registration order

	subMu sync.Mutex
	subs  map[string]*subscription

	clock clock.Clock
}

// New constructs an empty Registry.
func New(c clock.Clock) *Registry {
	if c == nil {
		c = clock.New()
	}
	return &Registry{
		instances: make(map[string]*Instance),
		byName:    make(map[string][]string),
		subs:      make(map[string]*subscription),
		clock:     c,
	}
}

// Register assigns an identity (if absent) and persists the instance with
// status=Registered. It fails with Conflict if an instance with the same
// (name, address, port) already exists and replace is false.
func (r *Registry) Register(inst Instance, replace bool) (*Instance, error) {
	r.mu.Lock()
	if existing := r.findByCoordinates(inst.Name, inst.Address, inst.Port); existing != "" && !replace {
		r.mu.Unlock()
		return nil, apperrors.New(apperrors.Conflict, "instance already registered: "+inst.Name)
	} else if existing != "" && replace {
		delete(r.instances, existing)
		r.removeFromIndex(inst.Name, existing)
	}

	now := r.clock.Now()
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	inst.Status = StatusRegistered
	inst.RegisteredAt = now
	inst.UpdatedAt = now
	if inst.Metadata == nil {
		inst.Metadata = map[string]string{}
	}
	stored := inst
	r.instances[stored.ID] = &stored
	r.byName[stored.Name] = append(r.byName[stored.Name], stored.ID)
	r.mu.Unlock()

	metrics.RegistryOpsTotal.WithLabelValues("Register", "ok").Inc()
	metrics.InstancesTotal.WithLabelValues(stored.Name, string(stored.Status)).Inc()
	r.publish(MembershipEvent{Kind: EventRegistered, Instance: stored, Timestamp: now})
	return &stored, nil
}

// Deregister removes an instance. Idempotent: absent IDs are a no-op success.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	snapshot := *inst
	delete(r.instances, id)
	r.removeFromIndex(inst.Name, id)
	r.mu.Unlock()

	metrics.RegistryOpsTotal.WithLabelValues("Deregister", "ok").Inc()
	metrics.InstancesTotal.WithLabelValues(snapshot.Name, string(snapshot.Status)).Dec()
	r.publish(MembershipEvent{Kind: EventDeregistered, Instance: snapshot, Timestamp: r.clock.Now()})
	return nil
}

// Update atomically applies patch to the instance identified by id, rejecting
// illegal status transitions.
func (r *Registry) Update(id string, patch Patch) (*Instance, error) {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		metrics.RegistryOpsTotal.WithLabelValues("Update", "not_found").Inc()
		return nil, apperrors.New(apperrors.NotFound, "instance not found: "+id)
	}

	if patch.Status != nil && !CanTransition(inst.Status, *patch.Status) {
		r.mu.Unlock()
		metrics.RegistryOpsTotal.WithLabelValues("Update", "conflict").Inc()
		return nil, apperrors.New(apperrors.Conflict, "illegal transition "+string(inst.Status)+"->"+string(*patch.Status))
	}

	if patch.Status != nil && *patch.Status != inst.Status {
		metrics.InstancesTotal.WithLabelValues(inst.Name, string(inst.Status)).Dec()
		inst.Status = *patch.Status
		metrics.InstancesTotal.WithLabelValues(inst.Name, string(inst.Status)).Inc()
	}
	if patch.Weight != nil {
		inst.Weight = *patch.Weight
	}
	for k, v := range patch.Metadata {
		inst.Metadata[k] = v
	}
	inst.UpdatedAt = r.clock.Now()
	snapshot := *inst
	r.mu.Unlock()

	metrics.RegistryOpsTotal.WithLabelValues("Update", "ok").Inc()
	r.publish(MembershipEvent{Kind: EventUpdated, Instance: snapshot, Timestamp: snapshot.UpdatedAt})
	return &snapshot, nil
}

// Lookup returns instances of name matching filter. Reads are linearizable
// with respect to committed writes: the RWMutex read-lock happens-after any
// write that completed before this call returns.
func (r *Registry) Lookup(name string, filter Filter) []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byName[name]
	out := make([]Instance, 0, len(ids))
	for _, id := range ids {
		inst, ok := r.instances[id]
		if !ok {
			continue
		}
		if filter.matches(inst) {
			out = append(out, *inst)
		}
	}
	return out
}

// Get returns a single instance by id.
func (r *Registry) Get(id string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, apperrors.New(apperrors.NotFound, "instance not found: "+id)
	}
	snapshot := *inst
	return &snapshot, nil
}

// Subscribe registers cb for membership events. maxAttempts bounds the
// number of retries before a persistently failing subscriber is dropped;
// zero means DefaultMaxAttempts.
func (r *Registry) Subscribe(cb Callback, maxAttempts int) (id string) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	id = uuid.NewString()
	r.subMu.Lock()
	r.subs[id] = &subscription{id: id, cb: cb, maxAttempts: maxAttempts}
	r.subMu.Unlock()
	return id
}

// Unsubscribe removes a subscription.
func (r *Registry) Unsubscribe(id string) {
	r.subMu.Lock()
	delete(r.subs, id)
	r.subMu.Unlock()
}

// DefaultMaxAttempts is the default retry budget for a failing subscriber
// callback before it is dropped.
const DefaultMaxAttempts = 5

// publish fans out ev to every subscriber on its own goroutine so a slow or
// failing callback cannot block the writer or other subscribers.
func (r *Registry) publish(ev MembershipEvent) {
	r.subMu.Lock()
	subs := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.subMu.Unlock()

	for _, s := range subs {
		go r.deliverWithRetry(s, ev)
	}
}

func (r *Registry) deliverWithRetry(s *subscription, ev MembershipEvent) {
	delay := 50 * time.Millisecond
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := s.cb(ev); err == nil {
			return
		}
		if attempt == s.maxAttempts {
			log.Warn("dropping registry subscriber after repeated callback failures")
			r.Unsubscribe(s.id)
			return
		}
		time.Sleep(delay)
		delay *= 2
	}
}

func (r *Registry) findByCoordinates(name, address string, port int) string {
	for _, id := range r.byName[name] {
		inst := r.instances[id]
		if inst != nil && inst.Address == address && inst.Port == port {
			return id
		}
	}
	return ""
}

func (r *Registry) removeFromIndex(name, id string) {
	ids := r.byName[name]
	for i, existing := range ids {
		if existing == id {
			r.byName[name] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}
