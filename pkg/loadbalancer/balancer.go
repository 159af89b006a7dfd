package loadbalancer

import (
	"math/rand"
	"sync"

	"github.com/cuemby/controlplane/pkg/apperrors"
	"github.com/cuemby/controlplane/pkg/log"
	"github.com/cuemby/controlplane/pkg/metrics"
)

// serviceState holds the per-service strategy state that must survive
// across selections: round-robin counters, weighted-rr current-weights, and
// the consistent-hash ring.
type serviceState struct {
	roundRobin  roundRobinCounter
	weighted    *weightedRoundRobinState
	hashRing    *consistentHashRing
	lastMembers map[string]bool // instance IDs present as of the last ring rebuild
}

// Balancer selects instances for named services under one of six strategies
// and accounts for active connections and latency per instance.
type Balancer struct {
	virtualNodes int

	mu       sync.Mutex
	services map[string]*serviceState
	conns    map[string]*connectionInfo // keyed by instance ID
}

// New builds a Balancer. virtualNodes configures the consistent-hash ring
// density; <= 0 uses 150 (the value used in spec scenario S6).
func New(virtualNodes int) *Balancer {
	return &Balancer{
		virtualNodes: virtualNodes,
		services:     make(map[string]*serviceState),
		conns:        make(map[string]*connectionInfo),
	}
}

func (b *Balancer) stateFor(service string) *serviceState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.services[service]
	if !ok {
		st = &serviceState{
			weighted:    newWeightedRoundRobinState(),
			hashRing:    newConsistentHashRing(b.virtualNodes),
			lastMembers: make(map[string]bool),
		}
		b.services[service] = st
	}
	return st
}

func (b *Balancer) connInfo(instanceID string) *connectionInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conns[instanceID]
	if !ok {
		c = newConnectionInfo()
		b.conns[instanceID] = c
	}
	return c
}

// Select picks one instance from candidates (expected to already be filtered
// to Healthy status by the caller, per spec §8 invariant 2) using strategy.
// clientKey is required by IpHash/ConsistentHash; its absence falls back to
// RoundRobin and increments a fallback counter.
func (b *Balancer) Select(service string, candidates []Instance, strategy Strategy, clientKey string) (*Instance, error) {
	if len(candidates) == 0 {
		return nil, apperrors.New(apperrors.NotFound, "no healthy instances for service: "+service)
	}

	effective := strategy
	if requiresClientKey(strategy) && clientKey == "" {
		log.Warn("strategy requires a client key, falling back to round robin")
		metrics.LBFallbacksTotal.WithLabelValues(service).Inc()
		effective = RoundRobin
	}

	st := b.stateFor(service)
	b.maybeRebuildRing(st, candidates)

	var selected *Instance
	switch effective {
	case RoundRobin:
		idx := st.roundRobin.next(len(candidates))
		selected = &candidates[idx]
	case LeastConnections:
		selected = b.selectLeastConnections(candidates)
	case WeightedRoundRobin:
		idx := st.weighted.selectIndex(candidates)
		selected = &candidates[idx]
	case Random:
		selected = &candidates[rand.Intn(len(candidates))]
	case IPHash:
		selected = b.selectIPHash(candidates, clientKey)
	case ConsistentHash:
		owner, ok := st.hashRing.find(clientKey)
		if !ok {
			selected = &candidates[0]
		} else {
			selected = findByID(candidates, owner)
			if selected == nil {
				selected = &candidates[0]
			}
		}
	default:
		return nil, apperrors.New(apperrors.InvalidRequest, "unknown strategy: "+string(strategy))
	}

	b.connInfo(selected.ID).incActive()
	metrics.LBSelectionsTotal.WithLabelValues(service, string(effective)).Inc()
	return selected, nil
}

func (b *Balancer) selectLeastConnections(candidates []Instance) *Instance {
	selected := &candidates[0]
	min := b.connInfo(selected.ID).active()
	for i := 1; i < len(candidates); i++ {
		active := b.connInfo(candidates[i].ID).active()
		if active < min || (active == min && candidates[i].ID < selected.ID) {
			min = active
			selected = &candidates[i]
		}
	}
	return selected
}

func (b *Balancer) selectIPHash(candidates []Instance, clientIP string) *Instance {
	idx := int(hashKey(clientIP) % uint64(len(candidates)))
	return &candidates[idx]
}

// maybeRebuildRing recomputes the hash ring only when membership changed
// since the last selection, per spec §4.3's "recomputed lazily on the next
// selection" rule.
func (b *Balancer) maybeRebuildRing(st *serviceState, candidates []Instance) {
	current := make(map[string]bool, len(candidates))
	ids := make([]string, 0, len(candidates))
	changed := len(candidates) != len(st.lastMembers)
	for _, c := range candidates {
		current[c.ID] = true
		ids = append(ids, c.ID)
		if !st.lastMembers[c.ID] {
			changed = true
		}
	}
	if !changed {
		return
	}
	st.hashRing.update(ids)
	st.lastMembers = current
}

// Record decrements the active-connection counter and appends a latency
// sample; callers are contractually required to call this once the work
// that Select returned an instance for completes.
func (b *Balancer) Record(service, instanceID string, latencyMs float64, success bool) {
	c := b.connInfo(instanceID)
	c.decActive()
	c.record(latencyMs, success)
	metrics.LBRequestLatency.WithLabelValues(service).Observe(latencyMs / 1000.0)
}

// Stats returns a point-in-time snapshot for service across candidateIDs.
func (b *Balancer) Stats(service string, candidateIDs []string) Stats {
	stats := Stats{
		Service:           service,
		ActiveConnections: make(map[string]uint64),
		ResponseTimes:     make(map[string]ResponseTimeStats),
		ErrorRates:        make(map[string]float64),
	}
	var total uint64
	for _, id := range candidateIDs {
		c := b.connInfo(id)
		stats.ActiveConnections[id] = uint64(c.active())
		stats.ResponseTimes[id] = c.responseTimeStats()
		stats.ErrorRates[id] = c.errorRate()
		total += c.total()
	}
	stats.TotalRequests = total
	return stats
}

func findByID(candidates []Instance, id string) *Instance {
	for i := range candidates {
		if candidates[i].ID == id {
			return &candidates[i]
		}
	}
	return nil
}
