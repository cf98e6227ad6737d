// Package extract computes per-region summary statistics of a metric volume
// under a resampled atlas mask, and writes them out as CSV metric tables.
package extract

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"radextract/internal/models"
)

// Stats holds the five summary statistics reported per region. An empty
// region yields NaN in every field; that is the expected "missing" sentinel,
// not an error.
type Stats struct {
	Mean   float64
	Std    float64
	Min    float64
	Max    float64
	Median float64
}

// Names lists the statistic row labels in output order.
var Names = []string{"mean", "std", "min", "max", "median"}

// missing is the all-NaN sentinel for empty regions.
func missing() Stats {
	nan := math.NaN()
	return Stats{Mean: nan, Std: nan, Min: nan, Max: nan, Median: nan}
}

// Compute summarizes the data voxels selected by mask > 0.5 AND data > 0.
// Exact zeros count as background and are excluded regardless of mask
// coverage; NaNs in the data are skipped. The computation is stateless and
// idempotent. Volumes of unequal size cannot share a grid, so pairing their
// flat indices would compare unrelated voxels; the result is missing.
//
// Std is the population standard deviation, matching the source pipeline's
// aggregation semantics (gonum's StdDev is the sample estimator).
func Compute(data, mask *models.Volume) Stats {
	if len(data.Data) != len(mask.Data) {
		return missing()
	}

	vals := make([]float64, 0, 256)
	for i, v := range data.Data {
		if mask.Data[i] > 0.5 && v > 0 && !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return missing()
	}

	mean := stat.Mean(vals, nil)

	variance := 0.0
	minVal := vals[0]
	maxVal := vals[0]
	for _, v := range vals {
		d := v - mean
		variance += d * d
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	variance /= float64(len(vals))

	return Stats{
		Mean:   mean,
		Std:    math.Sqrt(variance),
		Min:    minVal,
		Max:    maxVal,
		Median: median(vals),
	}
}

// median sorts in place and averages the two middle values for even counts.
func median(vals []float64) float64 {
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

// Row returns the statistics in Names order.
func (s Stats) Row() []float64 {
	return []float64{s.Mean, s.Std, s.Min, s.Max, s.Median}
}
