// Package ransac implements random sample consensus and its locally optimized variant over
// arbitrary model types. Estimators provide a minimal solver and a residual function; the engine
// scores hypotheses with a SupportMeasurer and reports the best model with its inlier mask.
package ransac

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Options configures a RANSAC run.
type Options struct {
	// MaxError is the inlier threshold in the units of the estimator's residual (before squaring).
	// Callers that take pixel thresholds convert them before constructing the engine.
	MaxError float64 `json:"max_error"`
	// MinInlierRatio bounds the number of trials assuming at least this fraction of inliers.
	MinInlierRatio float64 `json:"min_inlier_ratio"`
	MinNumTrials   int     `json:"min_num_trials"`
	MaxNumTrials   int     `json:"max_num_trials"`
	// Confidence is the probability of having sampled at least one outlier-free set when the
	// dynamic trial count stops the loop.
	Confidence             float64 `json:"confidence"`
	DynNumTrialsMultiplier float64 `json:"dyn_num_trials_multiplier"`
	// RandomSeed seeds the sampler. A negative seed draws one from the clock.
	RandomSeed int64 `json:"random_seed"`
}

// DefaultOptions returns the options used when a config does not override them.
func DefaultOptions() Options {
	return Options{
		MaxError:               4.0,
		MinInlierRatio:         0.1,
		MinNumTrials:           100,
		MaxNumTrials:           10000,
		Confidence:             0.9999,
		DynNumTrialsMultiplier: 3.0,
		RandomSeed:             -1,
	}
}

// Check validates the options, collecting every problem.
func (opts Options) Check() error {
	var errs error
	if !(opts.MaxError > 0) {
		errs = multierr.Append(errs, errors.Errorf("max_error must be positive, got %v", opts.MaxError))
	}
	if opts.MinInlierRatio < 0 || opts.MinInlierRatio > 1 {
		errs = multierr.Append(errs, errors.Errorf("min_inlier_ratio must be in [0, 1], got %v", opts.MinInlierRatio))
	}
	if opts.MinNumTrials < 0 {
		errs = multierr.Append(errs, errors.Errorf("min_num_trials must be non-negative, got %d", opts.MinNumTrials))
	}
	if opts.MaxNumTrials < opts.MinNumTrials {
		errs = multierr.Append(errs, errors.Errorf("max_num_trials (%d) must be at least min_num_trials (%d)",
			opts.MaxNumTrials, opts.MinNumTrials))
	}
	if opts.Confidence < 0 || opts.Confidence > 1 {
		errs = multierr.Append(errs, errors.Errorf("confidence must be in [0, 1], got %v", opts.Confidence))
	}
	if !(opts.DynNumTrialsMultiplier > 0) {
		errs = multierr.Append(errs, errors.Errorf("dyn_num_trials_multiplier must be positive, got %v",
			opts.DynNumTrialsMultiplier))
	}
	return errs
}

// ComputeNumTrials returns the number of trials needed to sample at least one outlier-free
// minimal set with the given confidence, scaled by multiplier.
func ComputeNumTrials(numInliers, numSamples, sampleSize int, confidence, multiplier float64) int {
	if numSamples <= 0 {
		return math.MaxInt32
	}
	inlierRatio := float64(numInliers) / float64(numSamples)
	nom := 1 - confidence
	if nom <= 0 {
		return math.MaxInt32
	}
	denom := 1 - math.Pow(inlierRatio, float64(sampleSize))
	if denom <= 0 {
		return 1
	}
	if denom == 1 {
		return math.MaxInt32
	}
	trials := math.Ceil(math.Log(nom) / math.Log(denom) * multiplier)
	if trials > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(trials)
}
