package leastsquares

import "math"

// A LossFunction reduces the influence of large residuals. Evaluate receives the squared norm s
// of a residual block and returns rho(s) and its derivative rho'(s).
type LossFunction interface {
	Evaluate(s float64) (rho, rhoPrime float64)
}

// TrivialLoss is rho(s) = s, plain least squares.
type TrivialLoss struct{}

// Evaluate implements LossFunction.
func (TrivialLoss) Evaluate(s float64) (float64, float64) {
	return s, 1
}

// CauchyLoss is rho(s) = b·log(1 + s/b) with b = scale². Residuals much larger than scale are
// strongly down-weighted.
type CauchyLoss struct {
	b float64
}

// NewCauchyLoss returns a Cauchy loss with the given scale. A zero scale yields TrivialLoss
// since the Cauchy loss is undefined there.
func NewCauchyLoss(scale float64) LossFunction {
	if scale == 0 {
		return TrivialLoss{}
	}
	return CauchyLoss{b: scale * scale}
}

// Evaluate implements LossFunction.
func (l CauchyLoss) Evaluate(s float64) (float64, float64) {
	sum := 1 + s/l.b
	return l.b * math.Log1p(s/l.b), 1 / sum
}
