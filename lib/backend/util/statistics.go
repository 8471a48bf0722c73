package util

import (
	"math"
)

// ----------------------------------------------------------------------------
// Sample statistics
// ----------------------------------------------------------------------------

// Stats summarizes a set of samples, e.g. the ns/op of repeated benchmark runs
type Stats struct {
	Count        int     `json:"count"`
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes mean, population standard deviation, minimum and maximum
// of values. An empty slice yields the zero Stats.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	min, max := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))

	var sumSquaredDiffs float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiffs += diff * diff
	}

	minMaxRatio := 1.0
	if max > 0 {
		minMaxRatio = min / max
	}

	return Stats{
		Count:        len(values),
		StdDeviation: math.Sqrt(sumSquaredDiffs / float64(len(values))),
		Min:          min,
		Max:          max,
		Mean:         mean,
		MinMaxRatio:  minMaxRatio,
	}
}

// RelativeDeviation returns the standard deviation as a fraction of the mean
// (coefficient of variation), 0 for a zero mean
func (s Stats) RelativeDeviation() float64 {
	if s.Mean == 0 {
		return 0
	}
	return s.StdDeviation / s.Mean
}

// ----------------------------------------------------------------------------
// Distribution quality
// ----------------------------------------------------------------------------

// DistributionStats rates how evenly work is spread, e.g. operations over
// benchmark workers
type DistributionStats struct {
	Stats
	// DistributionQuality is 1 for a perfectly even spread and approaches 0
	// the more the shares differ
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats computes the distribution quality of shares. It
// combines a low coefficient of variation with a high min/max ratio.
func NewDistributionStats(shares []float64) DistributionStats {
	stats := NewStats(shares)
	if stats.Count == 0 {
		return DistributionStats{}
	}
	return DistributionStats{
		Stats:               stats,
		DistributionQuality: (1.0-math.Min(1.0, stats.RelativeDeviation()))*0.5 + stats.MinMaxRatio*0.5,
	}
}
