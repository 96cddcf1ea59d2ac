package analytics

import (
	"math"
	"sort"
)

// Mean returns nil for an empty sample set; analytics never divides by zero.
func Mean(samples []float64) *float64 {
	if len(samples) == 0 {
		return nil
	}
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))
	return &mean
}

// Percentile computes the p-th percentile (0-100) with linear interpolation
// between closest ranks. Median is Percentile(samples, 50).
func Percentile(samples []float64, p float64) *float64 {
	if len(samples) == 0 {
		return nil
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	if p <= 0 {
		return &sorted[0]
	}
	if p >= 100 {
		return &sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return &sorted[lower]
	}
	weight := rank - float64(lower)
	value := sorted[lower]*(1-weight) + sorted[upper]*weight
	return &value
}

// StdDev returns the population standard deviation, nil for fewer than two
// samples (a lone sample has no spread to measure).
func StdDev(samples []float64) *float64 {
	if len(samples) < 2 {
		return nil
	}
	mean := *Mean(samples)
	sumSq := 0.0
	for _, s := range samples {
		d := s - mean
		sumSq += d * d
	}
	sd := math.Sqrt(sumSq / float64(len(samples)))
	return &sd
}

// ZScore measures how many standard deviations value sits from the sample
// mean. Zero when the spread is zero or unknown.
func ZScore(value float64, samples []float64) float64 {
	mean := Mean(samples)
	sd := StdDev(samples)
	if mean == nil || sd == nil || *sd == 0 {
		return 0
	}
	return (value - *mean) / *sd
}

// Ratio returns a/b as a pointer, nil when b is zero.
func Ratio(a, b int) *float64 {
	if b == 0 {
		return nil
	}
	r := float64(a) / float64(b)
	return &r
}

// Clamp bounds v into [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WeightedScore combines 0-100 factor scores by weight, skipping factors
// without data and renormalizing over the weights that remain. Nil when no
// factor had data.
func WeightedScore(scores []*float64, weights []float64) *float64 {
	total := 0.0
	weightSum := 0.0
	for i, score := range scores {
		if score == nil {
			continue
		}
		total += *score * weights[i]
		weightSum += weights[i]
	}
	if weightSum == 0 {
		return nil
	}
	combined := Clamp(total/weightSum, 0, 100)
	return &combined
}
