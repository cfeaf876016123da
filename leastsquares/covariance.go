package leastsquares

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrRankDeficient is returned when the Jacobian of the problem is rank deficient and the
// covariance is not defined.
var ErrRankDeficient = errors.New("jacobian is rank deficient")

// ComputeCovariance returns the covariance of the given parameter blocks, in their tangent spaces
// and in argument order, at the current values. It is the corresponding sub-block of (JᵀJ)⁻¹ over
// all variable blocks of the problem, so uncertainty of the other variable blocks is
// marginalized.
func ComputeCovariance(problem *Problem, blocks ...[]float64) (*mat.SymDense, error) {
	numTangent := problem.layout()
	if numTangent == 0 {
		return nil, errors.New("problem has no variable parameter blocks")
	}
	var idxs []int
	for i, values := range blocks {
		b, ok := problem.ParameterBlock(values)
		if !ok {
			return nil, errors.Errorf("block %d is not part of the problem", i)
		}
		if b.offset < 0 {
			return nil, errors.Errorf("block %d is constant", i)
		}
		for k := 0; k < b.tangentSize(); k++ {
			idxs = append(idxs, b.offset+k)
		}
	}

	lin, ok := problem.linearize(numTangent)
	if !ok {
		return nil, errors.New("residual evaluation failed")
	}
	if lin.jacobian == nil {
		return nil, ErrRankDeficient
	}
	jtj := mat.NewSymDense(numTangent, nil)
	jtj.SymOuterK(1, lin.jacobian.T())

	var chol mat.Cholesky
	if ok := chol.Factorize(jtj); !ok {
		return nil, ErrRankDeficient
	}
	if cond := chol.Cond(); cond > 1e14 {
		return nil, errors.Wrapf(ErrRankDeficient, "condition number %.3g", cond)
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, errors.Wrap(ErrRankDeficient, err.Error())
	}

	cov := mat.NewSymDense(len(idxs), nil)
	for r, ri := range idxs {
		for c := r; c < len(idxs); c++ {
			cov.SetSym(r, c, inv.At(ri, idxs[c]))
		}
	}
	return cov, nil
}
