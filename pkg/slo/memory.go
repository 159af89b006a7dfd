package slo

import (
	"sort"
	"sync"
	"time"

	"github.com/cuemby/controlplane/pkg/apperrors"
)

// MemoryRepository is an in-process SloRepository for tests and
// single-node deployments without a durable store requirement.
type MemoryRepository struct {
	mu           sync.Mutex
	slos         map[string]*Slo
	calculations map[string][]*Calculation // sloID -> append-only, time order
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		slos:         make(map[string]*Slo),
		calculations: make(map[string][]*Calculation),
	}
}

func (r *MemoryRepository) Insert(s *Slo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.slos[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) Update(s *Slo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.slos[s.ID]; !ok {
		return apperrors.ErrNotFound
	}
	cp := *s
	r.slos[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(id string) (*Slo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slos[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) List(serviceName string) ([]*Slo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Slo
	for _, s := range r.slos {
		if serviceName != "" && s.ServiceName != serviceName {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) ListByStatus(status Status) ([]*Slo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Slo
	for _, s := range r.slos {
		if s.Status == status {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertCalculation(c *Calculation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.calculations[c.SloID] = append(r.calculations[c.SloID], &cp)
	return nil
}

func (r *MemoryRepository) ListCalculations(sloID string, start, end time.Time) ([]*Calculation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Calculation
	for _, c := range r.calculations[sloID] {
		if c.ComputedAt.Before(start) || c.ComputedAt.After(end) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryRepository) RecentCalculations(sloID string, since time.Time) ([]*Calculation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Calculation
	for _, c := range r.calculations[sloID] {
		if c.ComputedAt.After(since) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ComputedAt.Before(out[j].ComputedAt) })
	return out, nil
}

func (r *MemoryRepository) DeleteOlderThan(cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for sloID, calcs := range r.calculations {
		remaining := calcs[:0]
		for _, c := range calcs {
			if c.ComputedAt.Before(cutoff) {
				deleted++
				continue
			}
			remaining = append(remaining, c)
		}
		r.calculations[sloID] = remaining
	}
	return deleted, nil
}

func (r *MemoryRepository) Close() error { return nil }
