package thermalcal

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Percentiles used to scale previews.
const (
	DisplayLowPercentile  = 2
	DisplayHighPercentile = 98
)

// DisplayRange returns the 2nd and 98th percentiles of the finite values,
// interpolating linearly between closest ranks. ok is false when no value
// is finite.
func DisplayRange(values []float32) (lo, hi float64, ok bool) {
	return displayRange(values, nil)
}

// ComputeStatistics summarises the finite values.
func ComputeStatistics(values []float32) Statistics {
	return computeStatistics(values, nil)
}

func displayRange(values []float32, skip func(float64) bool) (lo, hi float64, ok bool) {
	sorted, _, _ := finiteSorted(values, skip)
	if len(sorted) == 0 {
		return math.NaN(), math.NaN(), false
	}
	return Percentile(sorted, DisplayLowPercentile), Percentile(sorted, DisplayHighPercentile), true
}

// finiteSorted collects the finite values not rejected by skip, sorted
// ascending, and counts the non-finite and skipped ones.
func finiteSorted(values []float32, skip func(float64) bool) (sorted []float64, nonFinite, skipped int) {
	sorted = make([]float64, 0, len(values))
	for _, v := range values {
		x := float64(v)
		if skip != nil && skip(x) {
			skipped++
			continue
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			nonFinite++
			continue
		}
		sorted = append(sorted, x)
	}
	sort.Float64s(sorted)
	return sorted, nonFinite, skipped
}

// Percentile returns the p-th percentile (0-100) of ascending values using
// linear interpolation between closest ranks.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}
	h := p / 100 * float64(n-1)
	i := int(math.Floor(h))
	frac := h - float64(i)
	if i+1 >= n {
		return sorted[n-1]
	}
	return sorted[i] + frac*(sorted[i+1]-sorted[i])
}

func computeStatistics(values []float32, skip func(float64) bool) Statistics {
	sorted, nonFinite, skipped := finiteSorted(values, skip)
	s := Statistics{
		Finite:    len(sorted),
		NonFinite: nonFinite,
		NoData:    skipped,
	}
	if len(sorted) == 0 {
		nan := math.NaN()
		s.Min, s.Max, s.Mean, s.StdDev, s.Low, s.High = nan, nan, nan, nan, nan, nan
		return s
	}
	s.Min = floats.Min(sorted)
	s.Max = floats.Max(sorted)
	if len(sorted) == 1 {
		s.Mean = sorted[0]
	} else {
		s.Mean, s.StdDev = stat.MeanStdDev(sorted, nil)
	}
	s.Low = Percentile(sorted, DisplayLowPercentile)
	s.High = Percentile(sorted, DisplayHighPercentile)
	return s
}
