package utils

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// ResidualStats summarizes a set of non-negative residual magnitudes, e.g. reprojection errors in
// pixels.
type ResidualStats struct {
	Count  int
	Mean   float64
	Median float64
	StdDev float64
	Max    float64
}

// ComputeResidualStats returns the statistics of the finite values in residuals. Infinite and NaN
// values are skipped.
func ComputeResidualStats(residuals []float64) (ResidualStats, error) {
	finite := make([]float64, 0, len(residuals))
	for _, r := range residuals {
		if !math.IsInf(r, 0) && !math.IsNaN(r) {
			finite = append(finite, r)
		}
	}
	if len(finite) == 0 {
		return ResidualStats{}, errors.New("no finite residuals")
	}
	data := stats.Float64Data(finite)
	mean, err := data.Mean()
	if err != nil {
		return ResidualStats{}, err
	}
	median, err := data.Median()
	if err != nil {
		return ResidualStats{}, err
	}
	stdDev, err := data.StandardDeviation()
	if err != nil {
		return ResidualStats{}, err
	}
	maxVal, err := data.Max()
	if err != nil {
		return ResidualStats{}, err
	}
	return ResidualStats{Count: len(finite), Mean: mean, Median: median, StdDev: stdDev, Max: maxVal}, nil
}

// String implements fmt.Stringer.
func (s ResidualStats) String() string {
	return fmt.Sprintf("n=%d mean=%.4g median=%.4g std=%.4g max=%.4g", s.Count, s.Mean, s.Median, s.StdDev, s.Max)
}
