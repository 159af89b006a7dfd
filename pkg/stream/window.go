package stream

import (
	"fmt"
	"sync"
	"time"
)

// windowState is the live, mutable state behind one window instance:
// its boundaries plus one aggState per configured aggregation.
type windowState struct {
	mu         sync.Mutex
	assignment WindowAssignment
	key        string
	config     WindowConfig
	records    uint64
	aggs       map[string]*aggState
	emitted    bool
	evicted    bool
}

func newWindowState(key string, cfg WindowConfig, a WindowAssignment) *windowState {
	ws := &windowState{assignment: a, key: key, config: cfg, aggs: make(map[string]*aggState, len(cfg.Aggregations))}
	for _, ac := range cfg.Aggregations {
		ws.aggs[ac.Name] = newAggState(ac)
	}
	return ws
}

func (ws *windowState) ingest(ev Event) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.records++
	for _, ac := range ws.config.Aggregations {
		value, ok := ev.Fields[ac.Field]
		if !ok {
			continue
		}
		ws.aggs[ac.Name].update(value, ev.Tags[ac.DistinctTag])
	}
}

func (ws *windowState) snapshot() WindowSnapshot {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	snap := WindowSnapshot{
		WindowID:     ws.assignment.WindowID,
		ConfigName:   ws.assignment.ConfigName,
		Kind:         ws.assignment.Kind,
		Start:        ws.assignment.Start,
		End:          ws.assignment.End,
		RecordCount:  ws.records,
		Aggregations: make(map[string]AggregationSnapshot, len(ws.aggs)),
		Complete:     ws.emitted,
	}
	for name, a := range ws.aggs {
		snap.Aggregations[name] = a.snapshot()
	}
	return snap
}

// WindowManager assigns events to window instances per the configured
// WindowKind and accumulates per-window aggregations online, grounded on
// the original implementation's Tumbling-only assign_to_windows and
// extended here to Sliding, Session and Global per the full assignment
// rules: Tumbling buckets on a fixed grid, Sliding assigns a record to
// every overlapping window, Session extends a per-key window's end on
// each record and closes once the watermark passes it, Global never
// closes on its own.
type WindowManager struct {
	mu      sync.Mutex
	configs map[string]WindowConfig
	windows map[string]*windowState // windowID -> state
	open    map[string][]string     // configName|key -> open windowIDs, oldest first
}

// NewWindowManager returns an empty WindowManager.
func NewWindowManager() *WindowManager {
	return &WindowManager{
		configs: make(map[string]WindowConfig),
		windows: make(map[string]*windowState),
		open:    make(map[string][]string),
	}
}

// Configure registers or replaces a named window configuration.
func (m *WindowManager) Configure(cfg WindowConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.Name] = cfg
}

// Assign resolves an event against a named window config, creating window
// instances as needed, and returns every assignment it landed in (more
// than one only for Sliding).
func (m *WindowManager) Assign(key string, ev Event, configName string) ([]WindowAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[configName]
	if !ok {
		return nil, fmt.Errorf("stream: unknown window config %q", configName)
	}

	switch cfg.Kind {
	case WindowTumbling:
		return []WindowAssignment{m.assignTumbling(key, cfg, ev.Timestamp)}, nil
	case WindowSliding:
		return m.assignSliding(key, cfg, ev.Timestamp), nil
	case WindowSession:
		return []WindowAssignment{m.assignSession(key, cfg, ev.Timestamp)}, nil
	case WindowGlobal:
		return []WindowAssignment{m.assignGlobal(key, cfg)}, nil
	default:
		return nil, fmt.Errorf("stream: unsupported window kind %q", cfg.Kind)
	}
}

func (m *WindowManager) assignTumbling(key string, cfg WindowConfig, ts time.Time) WindowAssignment {
	start := ts.Truncate(cfg.Size)
	end := start.Add(cfg.Size)
	return m.instance(key, cfg, start, end)
}

func (m *WindowManager) assignSliding(key string, cfg WindowConfig, ts time.Time) []WindowAssignment {
	slide := cfg.Slide
	if slide <= 0 {
		slide = cfg.Size
	}
	numWindows := int(cfg.Size / slide)
	if numWindows < 1 {
		numWindows = 1
	}
	lastBoundary := ts.Truncate(slide)
	assignments := make([]WindowAssignment, 0, numWindows)
	for i := 0; i < numWindows; i++ {
		start := lastBoundary.Add(-time.Duration(i) * slide)
		end := start.Add(cfg.Size)
		if !ts.Before(start) && ts.Before(end) {
			assignments = append(assignments, m.instance(key, cfg, start, end))
		}
	}
	return assignments
}

func (m *WindowManager) assignSession(key string, cfg WindowConfig, ts time.Time) WindowAssignment {
	scope := sessionScope(cfg.Name, key)
	if ids, ok := m.open[scope]; ok && len(ids) > 0 {
		last := ids[len(ids)-1]
		if ws, ok := m.windows[last]; ok && !ws.evicted {
			if !ts.Before(ws.assignment.Start) && ts.Before(ws.assignment.End) {
				// falls inside the still-open session: extend it
				ws.mu.Lock()
				newEnd := ts.Add(cfg.SessionGap)
				if newEnd.After(ws.assignment.End) {
					ws.assignment.End = newEnd
				}
				assignment := ws.assignment
				ws.mu.Unlock()
				return assignment
			}
		}
	}
	start := ts
	end := ts.Add(cfg.SessionGap)
	return m.instance(key, cfg, start, end)
}

func (m *WindowManager) assignGlobal(key string, cfg WindowConfig) WindowAssignment {
	start := time.Unix(0, 0).UTC()
	end := time.Unix(1<<62, 0).UTC()
	return m.instance(key, cfg, start, end)
}

// instance returns the window covering [start,end) for (cfg.Name, key),
// creating and registering it if this is the first record to land there.
// Caller holds m.mu.
func (m *WindowManager) instance(key string, cfg WindowConfig, start, end time.Time) WindowAssignment {
	id := windowID(cfg.Name, key, start)
	if ws, ok := m.windows[id]; ok {
		return ws.assignment
	}
	assignment := WindowAssignment{WindowID: id, ConfigName: cfg.Name, Kind: cfg.Kind, Start: start, End: end}
	ws := newWindowState(key, cfg, assignment)
	m.windows[id] = ws
	scope := sessionScope(cfg.Name, key)
	m.open[scope] = append(m.open[scope], id)
	return assignment
}

// Ingest folds an event's fields into the window it was assigned to.
func (m *WindowManager) Ingest(a WindowAssignment, ev Event) {
	m.mu.Lock()
	ws := m.windows[a.WindowID]
	m.mu.Unlock()
	if ws != nil {
		ws.ingest(ev)
	}
}

// EmitReady returns snapshots for every window whose End has fallen behind
// the watermark and evicts windows past End+AllowedLateness, so late
// arrivals within the grace period can still reach HandleLate.
func (m *WindowManager) EmitReady(watermark time.Time) []WindowSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ready []WindowSnapshot
	for scope, ids := range m.open {
		var remaining []string
		for _, id := range ids {
			ws := m.windows[id]
			if ws == nil {
				continue
			}
			if ws.config.Kind != WindowGlobal && !watermark.Before(ws.assignment.End) {
				if !ws.emitted {
					ws.mu.Lock()
					ws.emitted = true
					ws.mu.Unlock()
					ready = append(ready, ws.snapshot())
				}
				if !watermark.Before(ws.assignment.End.Add(ws.config.AllowedLateness)) {
					ws.evicted = true
					delete(m.windows, id)
					continue
				}
			}
			remaining = append(remaining, id)
		}
		m.open[scope] = remaining
	}
	return ready
}

// Emitted reports whether windowID has already emitted, meaning any
// further record landing in it is late.
func (m *WindowManager) Emitted(windowID string) bool {
	m.mu.Lock()
	ws := m.windows[windowID]
	m.mu.Unlock()
	if ws == nil {
		return false
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.emitted
}

// HandleLate applies a window's LateDataPolicy to a record that arrived
// after that window already emitted. It returns (snapshot, sideOutput,
// apply) where apply is false for Drop.
func (m *WindowManager) HandleLate(a WindowAssignment, ev Event) (snapshot WindowSnapshot, sideOutput bool, apply bool) {
	m.mu.Lock()
	ws := m.windows[a.WindowID]
	m.mu.Unlock()
	if ws == nil {
		return WindowSnapshot{}, false, false
	}
	switch ws.config.LateDataPolicy {
	case LateDrop:
		return WindowSnapshot{}, false, false
	case LateSideOutput:
		return ws.snapshot(), true, false
	case LateUpdate:
		ws.ingest(ev)
		return ws.snapshot(), false, true
	default:
		return WindowSnapshot{}, false, false
	}
}

// Snapshot returns every still-tracked window, open or recently emitted,
// for checkpointing.
func (m *WindowManager) Snapshot() map[string]WindowSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]WindowSnapshot, len(m.windows))
	for id, ws := range m.windows {
		out[id] = ws.snapshot()
	}
	return out
}

func windowID(configName, key string, start time.Time) string {
	return fmt.Sprintf("%s|%s|%d", configName, key, start.UnixNano())
}

func sessionScope(configName, key string) string {
	return configName + "|" + key
}
