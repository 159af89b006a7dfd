package loadbalancer

import "sync"

// weightedRoundRobinState implements smooth weighted round-robin: each
// selection adds every instance's admin weight to its running current-weight,
// picks the max, then subtracts the total weight from the winner. Over many
// selections this converges to per-instance ratios equal to the weight
// ratios (spec §8 invariant 3).
type weightedRoundRobinState struct {
	mu             sync.Mutex
	currentWeights map[string]int
}

func newWeightedRoundRobinState() *weightedRoundRobinState {
	return &weightedRoundRobinState{currentWeights: make(map[string]int)}
}

func (s *weightedRoundRobinState) selectIndex(instances []Instance) int {
	if len(instances) == 0 {
		return -1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	selected := 0
	maxWeight := -1 << 62
	totalWeight := 0

	for i, inst := range instances {
		current := s.currentWeights[inst.ID] + inst.Weight
		s.currentWeights[inst.ID] = current
		totalWeight += inst.Weight

		if current > maxWeight {
			maxWeight = current
			selected = i
		}
	}

	s.currentWeights[instances[selected].ID] -= totalWeight
	return selected
}
