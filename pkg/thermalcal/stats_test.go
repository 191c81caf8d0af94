package thermalcal

import (
	"math"
	"testing"
)

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestDisplayRangeUniformSequence(t *testing.T) {
	values := make([]float32, 100)
	for i := range values {
		values[i] = float32(i)
	}
	lo, hi, ok := DisplayRange(values)
	if !ok {
		t.Fatalf("DisplayRange reported no finite values")
	}
	if !near(lo, 1.96, 0.1) || !near(hi, 97.04, 0.1) {
		t.Fatalf("DisplayRange = (%v, %v), want about (1.96, 97.04)", lo, hi)
	}
	if lo == 0 || hi == 99 {
		t.Fatalf("DisplayRange returned min/max instead of percentiles")
	}
}

func TestDisplayRangeIgnoresNonFinite(t *testing.T) {
	values := make([]float32, 0, 104)
	for i := 0; i < 100; i++ {
		values = append(values, float32(i))
	}
	values = append(values, float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1)), float32(math.NaN()))

	lo, hi, ok := DisplayRange(values)
	if !ok || !near(lo, 1.98, 1e-9) || !near(hi, 97.02, 1e-9) {
		t.Fatalf("DisplayRange = (%v, %v, %v), want (1.98, 97.02, true)", lo, hi, ok)
	}
}

func TestDisplayRangeNoFiniteValues(t *testing.T) {
	_, _, ok := DisplayRange([]float32{float32(math.NaN()), float32(math.Inf(1))})
	if ok {
		t.Fatalf("expected ok=false without finite values")
	}
	if _, _, ok := DisplayRange(nil); ok {
		t.Fatalf("expected ok=false for no values")
	}
}

func TestBandDisplayRangeSkipsNoData(t *testing.T) {
	data := make([]float32, 0, 120)
	for i := 0; i < 100; i++ {
		data = append(data, float32(i))
	}
	for len(data) < 120 {
		data = append(data, -9999)
	}
	p := utmProfile(12, 10)
	p.NoData = -9999
	p.HasNoData = true
	band := mustBand(t, data, p)

	lo, hi, ok := band.DisplayRange()
	if !ok || !near(lo, 1.98, 1e-9) || !near(hi, 97.02, 1e-9) {
		t.Fatalf("Band.DisplayRange = (%v, %v, %v)", lo, hi, ok)
	}
	s := band.Statistics()
	if s.NoData != 20 || s.Finite != 100 || s.Min != 0 || s.Max != 99 {
		t.Fatalf("Statistics = %v", s)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}
	cases := map[float64]float64{0: 10, 25: 20, 50: 30, 90: 46, 100: 50, -5: 10, 150: 50}
	for p, want := range cases {
		if got := Percentile(sorted, p); !near(got, want, 1e-12) {
			t.Errorf("Percentile(%v) = %v, want %v", p, got, want)
		}
	}
	if got := Percentile([]float64{7}, 98); got != 7 {
		t.Errorf("single value percentile = %v", got)
	}
	if !math.IsNaN(Percentile(nil, 50)) {
		t.Errorf("empty percentile should be NaN")
	}
}

func TestComputeStatistics(t *testing.T) {
	s := ComputeStatistics([]float32{2, 4, 4, 4, 5, 5, 7, 9, float32(math.NaN())})
	if s.Finite != 8 || s.NonFinite != 1 {
		t.Fatalf("counts = %d/%d", s.Finite, s.NonFinite)
	}
	if s.Min != 2 || s.Max != 9 || s.Mean != 5 {
		t.Fatalf("min/max/mean = %v/%v/%v", s.Min, s.Max, s.Mean)
	}
	// Sample standard deviation of the classic example.
	if !near(s.StdDev, math.Sqrt(32.0/7.0), 1e-12) {
		t.Fatalf("stddev = %v", s.StdDev)
	}

	single := ComputeStatistics([]float32{3})
	if single.Mean != 3 || single.StdDev != 0 || single.Low != 3 || single.High != 3 {
		t.Fatalf("single = %v", single)
	}

	empty := ComputeStatistics([]float32{float32(math.NaN())})
	if empty.Finite != 0 || !math.IsNaN(empty.Mean) {
		t.Fatalf("empty = %v", empty)
	}
}
