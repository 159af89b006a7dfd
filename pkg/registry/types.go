package registry

import "time"

// Status is the lifecycle state of a ServiceInstance. Starting->Healthy and
// Healthy<->Unhealthy are the only common paths; Failed is terminal until
// re-registration.
type Status string

const (
	StatusRegistered Status = "Registered"
	StatusStarting   Status = "Starting"
	StatusHealthy    Status = "Healthy"
	StatusUnhealthy  Status = "Unhealthy"
	StatusFailed     Status = "Failed"
	StatusDraining   Status = "Draining"
	StatusStopped    Status = "Stopped"
)

// legalTransitions enumerates the allowed status transitions. A transition
// not present here is rejected as a Conflict.
var legalTransitions = map[Status]map[Status]bool{
	StatusRegistered: {StatusStarting: true, StatusHealthy: true, StatusFailed: true, StatusStopped: true, StatusDraining: true},
	StatusStarting:   {StatusHealthy: true, StatusUnhealthy: true, StatusFailed: true, StatusStopped: true, StatusDraining: true},
	StatusHealthy:    {StatusUnhealthy: true, StatusFailed: true, StatusDraining: true, StatusStopped: true},
	StatusUnhealthy:  {StatusHealthy: true, StatusFailed: true, StatusDraining: true, StatusStopped: true},
	StatusFailed:     {StatusStopped: true},
	StatusDraining:   {StatusStopped: true, StatusUnhealthy: true},
	StatusStopped:    {},
}

// CanTransition reports whether from->to is a legal status transition.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	allowed, ok := legalTransitions[from]
	return ok && allowed[to]
}

// Instance is one addressable endpoint of a named service.
type Instance struct {
	ID         string
	Name       string
	Version    string
	Address    string
	Port       int
	Protocol   string
	Weight     int // admin weight, 1..1000
	Status     Status
	Metadata   map[string]string
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// Patch is a partial update applied atomically by Update.
type Patch struct {
	Status   *Status
	Weight   *int
	Metadata map[string]string
}

// Filter narrows Lookup results.
type Filter struct {
	Status      Status // zero value means any
	Version     string // empty means any
	MetadataTag string // "key=value", empty means any
}

func (f Filter) matches(i *Instance) bool {
	if f.Status != "" && i.Status != f.Status {
		return false
	}
	if f.Version != "" && i.Version != f.Version {
		return false
	}
	if f.MetadataTag != "" {
		k, v, ok := splitTag(f.MetadataTag)
		if !ok || i.Metadata[k] != v {
			return false
		}
	}
	return true
}

func splitTag(tag string) (key, value string, ok bool) {
	for i := 0; i < len(tag); i++ {
		if tag[i] == '=' {
			return tag[:i], tag[i+1:], true
		}
	}
	return "", "", false
}

// EventKind identifies the kind of membership event.
type EventKind string

const (
	EventRegistered   EventKind = "registered"
	EventDeregistered EventKind = "deregistered"
	EventUpdated      EventKind = "updated"
)

// MembershipEvent is delivered to subscribers at-least-once in commit order.
type MembershipEvent struct {
	Kind      EventKind
	Instance  Instance
	Timestamp time.Time
}
