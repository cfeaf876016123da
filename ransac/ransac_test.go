package ransac

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

// lineEstimator fits y = a*x + b.
type lineEstimator struct{}

type line struct{ a, b float64 }

func (lineEstimator) MinNumSamples() int { return 2 }

func (lineEstimator) Estimate(x, y []float64) []line {
	if x[0] == x[1] {
		return nil
	}
	a := (y[1] - y[0]) / (x[1] - x[0])
	return []line{{a, y[0] - a*x[0]}}
}

func (lineEstimator) Residuals(x, y []float64, model line, residuals []float64) {
	for i := range x {
		d := y[i] - (model.a*x[i] + model.b)
		residuals[i] = d * d
	}
}

// lsqLineEstimator fits a line to any number of samples by least squares.
type lsqLineEstimator struct {
	lineEstimator
	calls *int
}

func (e lsqLineEstimator) Estimate(x, y []float64) []line {
	*e.calls++
	n := float64(len(x))
	var sx, sy, sxx, sxy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
		sxx += x[i] * x[i]
		sxy += x[i] * y[i]
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return nil
	}
	a := (n*sxy - sx*sy) / den
	return []line{{a, (sy - a*sx) / n}}
}

func lineData(numInliers, numOutliers int, noise float64) ([]float64, []float64) {
	//nolint:gosec
	rng := rand.New(rand.NewSource(7))
	var x, y []float64
	for i := 0; i < numInliers; i++ {
		xi := float64(i) / 10
		x = append(x, xi)
		y = append(y, 2*xi+1+noise*(rng.Float64()-0.5))
	}
	for i := 0; i < numOutliers; i++ {
		x = append(x, rng.Float64()*10)
		y = append(y, 50+rng.Float64()*50)
	}
	return x, y
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.MaxError = 0.1
	opts.RandomSeed = 42
	return opts
}

func TestRANSACRejectsOutliers(t *testing.T) {
	x, y := lineData(100, 40, 0)
	engine, err := New[float64, float64, line](testOptions(), lineEstimator{}, InlierSupportMeasurer{})
	test.That(t, err, test.ShouldBeNil)

	report, err := engine.Estimate(x, y)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Model.a, test.ShouldAlmostEqual, 2, 1e-9)
	test.That(t, report.Model.b, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, report.Support.NumInliers, test.ShouldEqual, 100)
	test.That(t, report.InlierMask, test.ShouldHaveLength, 140)
	for i, inlier := range report.InlierMask {
		test.That(t, inlier, test.ShouldEqual, i < 100)
	}
	test.That(t, report.InlierRatio(), test.ShouldAlmostEqual, 100.0/140.0)
}

func TestRANSACFailures(t *testing.T) {
	engine, err := New[float64, float64, line](testOptions(), lineEstimator{}, nil)
	test.That(t, err, test.ShouldBeNil)

	_, err = engine.Estimate([]float64{1}, []float64{1})
	test.That(t, errors.Is(err, ErrNotEnoughSamples), test.ShouldBeTrue)

	_, err = engine.Estimate([]float64{1, 2}, []float64{1})
	test.That(t, err, test.ShouldNotBeNil)

	// every sample is degenerate
	_, err = engine.Estimate([]float64{1, 1, 1}, []float64{1, 2, 3})
	test.That(t, errors.Is(err, ErrNoModel), test.ShouldBeTrue)

	bad := testOptions()
	bad.MaxError = 0
	_, err = New[float64, float64, line](bad, lineEstimator{}, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

// firstOnlyEstimator returns a model for its first sample only.
type firstOnlyEstimator struct {
	lineEstimator
	calls *int
}

func (e firstOnlyEstimator) Estimate(x, y []float64) []line {
	*e.calls++
	if *e.calls > 1 {
		return nil
	}
	return e.lineEstimator.Estimate(x, y)
}

func TestRANSACStopsOnTrialsWithoutModels(t *testing.T) {
	x, y := lineData(100, 0, 0)
	calls := 0
	opts := testOptions()
	engine, err := New[float64, float64, line](opts, firstOnlyEstimator{calls: &calls}, InlierSupportMeasurer{})
	test.That(t, err, test.ShouldBeNil)

	report, err := engine.Estimate(x, y)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Support.NumInliers, test.ShouldEqual, 100)
	// every point is an inlier, so only the minimum number of trials runs
	test.That(t, report.NumTrials, test.ShouldEqual, opts.MinNumTrials)
	test.That(t, calls, test.ShouldEqual, opts.MinNumTrials)
}

func TestLORANSAC(t *testing.T) {
	x, y := lineData(200, 50, 0.05)
	calls := 0
	opts := testOptions()
	opts.MaxError = 0.05
	engine, err := NewLORANSAC[float64, float64, line](opts, lineEstimator{},
		lsqLineEstimator{calls: &calls}, InlierSupportMeasurer{})
	test.That(t, err, test.ShouldBeNil)

	report, err := engine.Estimate(x, y)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, calls, test.ShouldBeGreaterThan, 0)
	test.That(t, report.Model.a, test.ShouldAlmostEqual, 2, 0.05)
	test.That(t, report.Model.b, test.ShouldAlmostEqual, 1, 0.05)
	test.That(t, report.Support.NumInliers, test.ShouldBeGreaterThan, 150)
	for i := 200; i < 250; i++ {
		test.That(t, report.InlierMask[i], test.ShouldBeFalse)
	}
}

func TestUniqueInlierSupport(t *testing.T) {
	m := NewUniqueInlierSupportMeasurer([]int{0, 0, 1, 2, 2, 2})
	support := m.Measure([]float64{0.1, 0.2, 5, 0.1, 0.1, 0.3}, 1)
	test.That(t, support.NumInliers, test.ShouldEqual, 5)
	test.That(t, support.NumUniqueInliers, test.ShouldEqual, 2)
	test.That(t, support.ResidualSum, test.ShouldAlmostEqual, 0.8)

	more := Support{NumInliers: 2, NumUniqueInliers: 3}
	test.That(t, m.IsLeftBetter(more, support), test.ShouldBeTrue)
	test.That(t, m.IsLeftBetter(support, more), test.ShouldBeFalse)

	tighter := support
	tighter.ResidualSum = 0.5
	test.That(t, m.IsLeftBetter(tighter, support), test.ShouldBeTrue)

	var plain InlierSupportMeasurer
	test.That(t, plain.Measure([]float64{0, math.Inf(1), math.NaN()}, 1).NumInliers, test.ShouldEqual, 1)
}

func TestComputeNumTrials(t *testing.T) {
	test.That(t, ComputeNumTrials(100, 100, 3, 0.99, 1), test.ShouldEqual, 1)
	test.That(t, ComputeNumTrials(0, 100, 3, 0.99, 1), test.ShouldEqual, math.MaxInt32)
	test.That(t, ComputeNumTrials(50, 100, 3, 1, 1), test.ShouldEqual, math.MaxInt32)
	// log(0.01)/log(1-0.125) = 34.49
	test.That(t, ComputeNumTrials(50, 100, 3, 0.99, 1), test.ShouldEqual, 35)
	test.That(t, ComputeNumTrials(50, 100, 3, 0.99, 2), test.ShouldEqual, 69)
}

func TestSampler(t *testing.T) {
	s := NewSampler(5, 1)
	dst := make([]int, 5)
	for trial := 0; trial < 20; trial++ {
		s.Sample(dst)
		seen := map[int]bool{}
		for _, idx := range dst {
			test.That(t, idx, test.ShouldBeGreaterThanOrEqualTo, 0)
			test.That(t, idx, test.ShouldBeLessThan, 5)
			seen[idx] = true
		}
		test.That(t, seen, test.ShouldHaveLength, 5)
	}
}

func TestOptionsCheck(t *testing.T) {
	test.That(t, DefaultOptions().Check(), test.ShouldBeNil)
	opts := Options{MaxError: -1, MinInlierRatio: 2, MinNumTrials: 5, MaxNumTrials: 1, Confidence: 2}
	err := opts.Check()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "max_error")
	test.That(t, err.Error(), test.ShouldContainSubstring, "dyn_num_trials_multiplier")
}
