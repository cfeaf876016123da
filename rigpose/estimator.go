package rigpose

import (
	"go.viam.com/rigpose/logging"
)

// An Estimator runs the rig pose estimators and reports their progress to a logger. The package
// level functions use an Estimator that discards logs.
type Estimator struct {
	logger logging.Logger
}

// NewEstimator returns an Estimator logging to logger.
func NewEstimator(logger logging.Logger) *Estimator {
	return &Estimator{logger: logger}
}

func defaultEstimator() *Estimator {
	return NewEstimator(logging.NewBlankLogger("rigpose"))
}
