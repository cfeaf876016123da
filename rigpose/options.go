package rigpose

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// RefinementOptions configures RefineGeneralizedAbsolutePose.
type RefinementOptions struct {
	// LossFunctionScale is the width, in pixels, of the Cauchy loss applied to every residual.
	LossFunctionScale float64 `json:"loss_function_scale"`
	RefineFocalLength bool    `json:"refine_focal_length"`
	RefineExtraParams bool    `json:"refine_extra_params"`
	GradientTolerance float64 `json:"gradient_tolerance"`
	MaxNumIterations  int     `json:"max_num_iterations"`
	// PrintSummary logs the solver summary at info level. Otherwise it is logged at debug level.
	PrintSummary bool `json:"print_summary"`
	// ComputeCovariance requests the 6x6 covariance of the refined pose.
	ComputeCovariance bool `json:"compute_covariance"`
}

// DefaultRefinementOptions returns the options used when a config does not override them.
func DefaultRefinementOptions() RefinementOptions {
	return RefinementOptions{
		LossFunctionScale: 1.0,
		RefineFocalLength: true,
		RefineExtraParams: true,
		GradientTolerance: 1.0,
		MaxNumIterations:  100,
	}
}

// Check validates the options, collecting every problem.
func (opts RefinementOptions) Check() error {
	var errs error
	if !(opts.LossFunctionScale >= 0) {
		errs = multierr.Append(errs, errors.Errorf("loss_function_scale must be non-negative, got %v", opts.LossFunctionScale))
	}
	if !(opts.GradientTolerance >= 0) {
		errs = multierr.Append(errs, errors.Errorf("gradient_tolerance must be non-negative, got %v", opts.GradientTolerance))
	}
	if opts.MaxNumIterations < 0 {
		errs = multierr.Append(errs, errors.Errorf("max_num_iterations must be non-negative, got %d", opts.MaxNumIterations))
	}
	return errs
}
