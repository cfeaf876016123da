package leastsquares

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// linearization is the loss-weighted residual vector and Jacobian of a problem in the tangent
// coordinates of its variable blocks.
type linearization struct {
	residuals []float64
	jacobian  *mat.Dense
	cost      float64
	// per residual block |f|, before loss weighting
	norms []float64
}

// linearize evaluates every residual block at the current values and differentiates it
// numerically with central differences in the tangent space of its variable blocks. The loss is
// folded into the residuals and the Jacobian by scaling both with sqrt(rho'(|f|²)).
func (p *Problem) linearize(numTangent int) (*linearization, bool) {
	numResiduals := p.NumResiduals()
	lin := &linearization{
		residuals: make([]float64, numResiduals),
		norms:     make([]float64, len(p.residuals)),
	}
	if numTangent > 0 && numResiduals > 0 {
		lin.jacobian = mat.NewDense(numResiduals, numTangent, nil)
	}

	row := 0
	for i, rb := range p.residuals {
		m := rb.cost.NumResiduals()
		f := lin.residuals[row : row+m]
		if !rb.cost.Evaluate(rb.values(), f) {
			return nil, false
		}
		s := floats.Dot(f, f)
		rho, rhoPrime := rb.loss.Evaluate(s)
		if math.IsNaN(rho) || math.IsInf(rho, 0) {
			return nil, false
		}
		lin.cost += rho / 2
		lin.norms[i] = math.Sqrt(s)
		weight := math.Sqrt(rhoPrime)

		if lin.jacobian != nil {
			if ok := rb.differentiate(lin.jacobian, row, weight); !ok {
				return nil, false
			}
		}
		floats.Scale(weight, f)
		row += m
	}
	return lin, true
}

// differentiate writes the weighted Jacobian of the block into rows [row, row+m) of jac at the
// tangent offsets of its variable blocks.
func (rb residualBlock) differentiate(jac *mat.Dense, row int, weight float64) bool {
	localSize := 0
	for _, b := range rb.blocks {
		if b.offset >= 0 {
			localSize += b.tangentSize()
		}
	}
	if localSize == 0 {
		return true
	}
	m := rb.cost.NumResiduals()

	perturbed := make([][]float64, len(rb.blocks))
	for i, b := range rb.blocks {
		if b.offset >= 0 {
			perturbed[i] = make([]float64, len(b.values))
		} else {
			perturbed[i] = b.values
		}
	}
	ok := true
	evaluate := func(y, delta []float64) {
		start := 0
		for i, b := range rb.blocks {
			if b.offset < 0 {
				continue
			}
			size := b.tangentSize()
			b.plus(b.values, delta[start:start+size], perturbed[i])
			start += size
		}
		if !rb.cost.Evaluate(perturbed, y) {
			ok = false
			for k := range y {
				y[k] = math.NaN()
			}
		}
	}

	local := mat.NewDense(m, localSize, nil)
	fd.Jacobian(local, evaluate, make([]float64, localSize), &fd.JacobianSettings{Formula: fd.Central})
	if !ok {
		return false
	}

	start := 0
	for _, b := range rb.blocks {
		if b.offset < 0 {
			continue
		}
		size := b.tangentSize()
		for r := 0; r < m; r++ {
			for c := 0; c < size; c++ {
				jac.Set(row+r, b.offset+c, weight*local.At(r, start+c))
			}
		}
		start += size
	}
	return true
}
