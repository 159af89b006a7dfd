package loadbalancer

import "sort"

// percentile performs linear interpolation between closest ranks over
// sortedSamples, matching the nearest-rank-with-interpolation convention
// (p=50 over an even-length slice lands between the two middle elements).
func percentile(sortedSamples []float64, p float64) float64 {
	if len(sortedSamples) == 0 {
		return 0
	}
	index := (p / 100.0) * float64(len(sortedSamples)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedSamples) {
		return sortedSamples[len(sortedSamples)-1]
	}
	weight := index - float64(lower)
	return sortedSamples[lower] + weight*(sortedSamples[upper]-sortedSamples[lower])
}

func sortedCopy(samples []float64) []float64 {
	out := make([]float64, len(samples))
	copy(out, samples)
	sort.Float64s(out)
	return out
}
