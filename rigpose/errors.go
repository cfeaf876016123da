package rigpose

import (
	"github.com/pkg/errors"
)

var (
	// ErrNoCorrespondences is returned when an estimator is called without correspondences.
	ErrNoCorrespondences = errors.New("no correspondences")
	// ErrEstimationFailed is returned when the consensus engine finds no model.
	ErrEstimationFailed = errors.New("robust estimation failed")
	// ErrNoResiduals is returned when the inlier mask selects no correspondence to refine on.
	ErrNoResiduals = errors.New("no inlier residuals to refine")
	// ErrRefinementFailed is returned when the solver does not produce a usable solution.
	ErrRefinementFailed = errors.New("refinement failed")
	// ErrCovarianceFailed is returned when the pose covariance cannot be computed.
	ErrCovarianceFailed = errors.New("covariance computation failed")
)

// InvariantViolation is the value the estimators panic with when called with inconsistent inputs,
// such as mismatched lengths or camera indices out of range. It signals a programming error in
// the caller and is never returned as an error.
type InvariantViolation struct {
	err error
}

// Error implements error.
func (v *InvariantViolation) Error() string {
	return "invariant violation: " + v.err.Error()
}

// Unwrap returns the failed condition.
func (v *InvariantViolation) Unwrap() error {
	return v.err
}

func check(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(&InvariantViolation{errors.Errorf(format, args...)})
	}
}

func checkNoError(err error, what string) {
	if err != nil {
		panic(&InvariantViolation{errors.Wrap(err, what)})
	}
}

func checkEqualLen(name1 string, len1 int, name2 string, len2 int) {
	check(len1 == len2, "len(%s) = %d != len(%s) = %d", name1, len1, name2, len2)
}
