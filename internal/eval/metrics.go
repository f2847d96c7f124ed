package eval

import "sort"

// RecallAtK is the fraction of relevant ids found in the first k retrieved.
// With no relevant ids it is 1 when nothing was retrieved and 0 otherwise.
func RecallAtK(retrieved []string, relevant map[string]bool, k int) float64 {
	if k > len(retrieved) {
		k = len(retrieved)
	}
	if len(relevant) == 0 {
		if k == 0 {
			return 1
		}
		return 0
	}
	found := make(map[string]bool, k)
	for _, id := range retrieved[:k] {
		if relevant[id] {
			found[id] = true
		}
	}
	return float64(len(found)) / float64(len(relevant))
}

// ReciprocalRank is 1/rank of the first relevant id, 0 if none is retrieved.
// With no relevant ids it is 1.
func ReciprocalRank(retrieved []string, relevant map[string]bool) float64 {
	if len(relevant) == 0 {
		return 1
	}
	for i, id := range retrieved {
		if relevant[id] {
			return 1 / float64(i+1)
		}
	}
	return 0
}

// Coverage is unique citations over the expected minimum, capped at 1
func Coverage(unique, expectedMin int) float64 {
	if expectedMin <= 0 {
		return 1
	}
	ratio := float64(unique) / float64(expectedMin)
	if ratio > 1 {
		return 1
	}
	return ratio
}

// Mean returns 0 for an empty slice
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Median returns 0 for an empty slice
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
