package ransac

import (
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrNotEnoughSamples is returned when there are fewer correspondences than a minimal sample.
	ErrNotEnoughSamples = errors.New("not enough samples for a minimal sample")
	// ErrNoModel is returned when no hypothesis reached a minimal sample worth of inliers.
	ErrNoModel = errors.New("no model found")
)

// An Estimator fits models of type M to corresponding samples x and y.
type Estimator[X, Y, M any] interface {
	// MinNumSamples is the size of a minimal sample.
	MinNumSamples() int
	// Estimate returns every model consistent with the samples. It may return none.
	Estimate(x []X, y []Y) []M
	// Residuals writes one squared residual per correspondence into residuals.
	Residuals(x []X, y []Y, model M, residuals []float64)
}

// A LocalEstimator can re-fit starting from an existing hypothesis. LORANSAC prefers it over
// Estimate when the local estimator implements it.
type LocalEstimator[X, Y, M any] interface {
	Estimator[X, Y, M]
	EstimateFrom(x []X, y []Y, initial M) []M
}

// Report is the outcome of a RANSAC run.
type Report[M any] struct {
	Model      M
	Support    Support
	NumTrials  int
	InlierMask []bool
}

// RANSAC is a random sample consensus engine.
type RANSAC[X, Y, M any] struct {
	opts      Options
	estimator Estimator[X, Y, M]
	measurer  SupportMeasurer
}

// New returns a RANSAC engine. It caps the number of trials by the count needed at the minimum
// inlier ratio.
func New[X, Y, M any](opts Options, estimator Estimator[X, Y, M], measurer SupportMeasurer) (*RANSAC[X, Y, M], error) {
	if err := opts.Check(); err != nil {
		return nil, err
	}
	if measurer == nil {
		measurer = InlierSupportMeasurer{}
	}
	const numSamplesForRatio = 100000
	capped := ComputeNumTrials(int(opts.MinInlierRatio*numSamplesForRatio), numSamplesForRatio,
		estimator.MinNumSamples(), opts.Confidence, opts.DynNumTrialsMultiplier)
	if capped < opts.MaxNumTrials {
		opts.MaxNumTrials = capped
	}
	if opts.MaxNumTrials < opts.MinNumTrials {
		opts.MaxNumTrials = opts.MinNumTrials
	}
	return &RANSAC[X, Y, M]{opts: opts, estimator: estimator, measurer: measurer}, nil
}

// Estimate runs the consensus loop over the correspondences.
func (r *RANSAC[X, Y, M]) Estimate(x []X, y []Y) (*Report[M], error) {
	return run(r.opts, r.estimator, nil, r.measurer, x, y)
}

// LORANSAC is RANSAC with local optimization: every new best hypothesis is re-fit on its inliers
// with a non-minimal estimator until the support stops improving.
type LORANSAC[X, Y, M any] struct {
	opts      Options
	estimator Estimator[X, Y, M]
	local     Estimator[X, Y, M]
	measurer  SupportMeasurer
}

// NewLORANSAC returns a locally optimized engine.
func NewLORANSAC[X, Y, M any](
	opts Options,
	estimator Estimator[X, Y, M],
	local Estimator[X, Y, M],
	measurer SupportMeasurer,
) (*LORANSAC[X, Y, M], error) {
	base, err := New(opts, estimator, measurer)
	if err != nil {
		return nil, err
	}
	return &LORANSAC[X, Y, M]{opts: base.opts, estimator: estimator, local: local, measurer: base.measurer}, nil
}

// Estimate runs the consensus loop with local optimization.
func (r *LORANSAC[X, Y, M]) Estimate(x []X, y []Y) (*Report[M], error) {
	return run(r.opts, r.estimator, r.local, r.measurer, x, y)
}

const maxNumLocalTrials = 10

func run[X, Y, M any](
	opts Options,
	estimator, local Estimator[X, Y, M],
	measurer SupportMeasurer,
	x []X, y []Y,
) (*Report[M], error) {
	if len(x) != len(y) {
		return nil, errors.Errorf("sample sets differ in size: %d != %d", len(x), len(y))
	}
	numSamples := len(x)
	sampleSize := estimator.MinNumSamples()
	if numSamples < sampleSize {
		return nil, errors.Wrapf(ErrNotEnoughSamples, "have %d, need %d", numSamples, sampleSize)
	}

	maxResidual := opts.MaxError * opts.MaxError
	sampler := NewSampler(numSamples, opts.RandomSeed)
	sampleIdxs := make([]int, sampleSize)
	xSample := make([]X, sampleSize)
	ySample := make([]Y, sampleSize)
	residuals := make([]float64, numSamples)

	var (
		bestModel    M
		bestSupport  Support
		haveModel    bool
		dynMaxTrials = opts.MaxNumTrials
		numTrials    int
	)

	consider := func(model M) bool {
		estimator.Residuals(x, y, model, residuals)
		support := measurer.Measure(residuals, maxResidual)
		if haveModel && !measurer.IsLeftBetter(support, bestSupport) {
			return false
		}
		bestModel, bestSupport, haveModel = model, support, true
		return true
	}

	for numTrials < opts.MaxNumTrials {
		numTrials++
		sampler.Sample(sampleIdxs)
		for i, idx := range sampleIdxs {
			xSample[i] = x[idx]
			ySample[i] = y[idx]
		}

		for _, model := range estimator.Estimate(xSample, ySample) {
			if consider(model) {
				if local != nil {
					localOptimize(local, measurer, maxResidual, x, y, residuals,
						&bestModel, &bestSupport)
				}
				dynMaxTrials = ComputeNumTrials(bestSupport.NumInliers, numSamples, sampleSize,
					opts.Confidence, opts.DynNumTrialsMultiplier)
			}
		}
		// checked on every trial, including those where the sample yields no model
		if numTrials >= dynMaxTrials && numTrials >= opts.MinNumTrials {
			break
		}
	}

	report := &Report[M]{NumTrials: numTrials, Support: bestSupport}
	if !haveModel || bestSupport.NumInliers < sampleSize {
		return report, ErrNoModel
	}
	report.Model = bestModel
	estimator.Residuals(x, y, bestModel, residuals)
	report.InlierMask = make([]bool, numSamples)
	for i, r := range residuals {
		report.InlierMask[i] = r <= maxResidual
	}
	return report, nil
}

// localOptimize re-fits the best model on its inliers, keeping any improvement, until the inlier
// count stops growing.
func localOptimize[X, Y, M any](
	local Estimator[X, Y, M],
	measurer SupportMeasurer,
	maxResidual float64,
	x []X, y []Y,
	residuals []float64,
	bestModel *M,
	bestSupport *Support,
) {
	refiner, canRefine := local.(LocalEstimator[X, Y, M])
	localResiduals := make([]float64, len(x))
	for trial := 0; trial < maxNumLocalTrials; trial++ {
		if bestSupport.NumInliers <= local.MinNumSamples() {
			return
		}
		local.Residuals(x, y, *bestModel, residuals)
		xInliers := make([]X, 0, bestSupport.NumInliers)
		yInliers := make([]Y, 0, bestSupport.NumInliers)
		for i, r := range residuals {
			if r <= maxResidual {
				xInliers = append(xInliers, x[i])
				yInliers = append(yInliers, y[i])
			}
		}

		var models []M
		if canRefine {
			models = refiner.EstimateFrom(xInliers, yInliers, *bestModel)
		} else {
			models = local.Estimate(xInliers, yInliers)
		}

		prevNumInliers := bestSupport.NumInliers
		for _, model := range models {
			local.Residuals(x, y, model, localResiduals)
			support := measurer.Measure(localResiduals, maxResidual)
			if measurer.IsLeftBetter(support, *bestSupport) {
				*bestModel = model
				*bestSupport = support
			}
		}
		if bestSupport.NumInliers <= prevNumInliers {
			return
		}
	}
}

// InlierRatio returns the fraction of correspondences marked as inliers.
func (r *Report[M]) InlierRatio() float64 {
	if len(r.InlierMask) == 0 {
		return math.NaN()
	}
	return float64(r.Support.NumInliers) / float64(len(r.InlierMask))
}
