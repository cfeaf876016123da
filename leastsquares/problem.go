// Package leastsquares is a small dense nonlinear least squares solver. A Problem is a set of
// residual blocks, each depending on a few parameter blocks; Solve minimizes
//
//	1/2 · Σ rho_i(|f_i(x)|²)
//
// with Levenberg-Marquardt on dense normal equations. Parameter blocks may be held constant or
// constrained to a Manifold, and the covariance of any set of blocks can be recovered afterwards.
package leastsquares

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// A CostFunction computes the residuals of one residual block from its parameter blocks.
type CostFunction interface {
	NumResiduals() int
	// ParameterBlockSizes lists the ambient size of every parameter block in argument order.
	ParameterBlockSizes() []int
	// Evaluate writes the residuals and reports whether the evaluation succeeded.
	Evaluate(params [][]float64, residuals []float64) bool
}

// ParameterBlock is a slice of parameters optimized in place.
type ParameterBlock struct {
	values   []float64
	manifold Manifold
	constant bool
	// offset into the tangent vector of all variable blocks, or -1 when constant
	offset int
}

// Values returns the block's current values. The slice is the one the block was created from.
func (b *ParameterBlock) Values() []float64 {
	return b.values
}

func (b *ParameterBlock) tangentSize() int {
	if b.manifold == nil {
		return len(b.values)
	}
	return b.manifold.TangentSize()
}

func (b *ParameterBlock) plus(x, delta, out []float64) {
	if b.manifold == nil {
		euclidean(len(x)).Plus(x, delta, out)
		return
	}
	b.manifold.Plus(x, delta, out)
}

type residualBlock struct {
	cost   CostFunction
	loss   LossFunction
	blocks []*ParameterBlock
}

// Problem holds the parameter and residual blocks of a least squares problem.
type Problem struct {
	blocks    []*ParameterBlock
	byAddress map[*float64]*ParameterBlock
	residuals []residualBlock
}

// NewProblem returns an empty problem.
func NewProblem() *Problem {
	return &Problem{byAddress: map[*float64]*ParameterBlock{}}
}

// AddParameterBlock registers values as a parameter block and returns its handle. Adding the same
// slice twice returns the existing block.
func (p *Problem) AddParameterBlock(values []float64) *ParameterBlock {
	if len(values) == 0 {
		panic("leastsquares: empty parameter block")
	}
	if b, ok := p.byAddress[&values[0]]; ok {
		return b
	}
	b := &ParameterBlock{values: values, offset: -1}
	p.blocks = append(p.blocks, b)
	p.byAddress[&values[0]] = b
	return b
}

// AddResidualBlock adds a residual block over the given parameter slices, registering any that are
// not yet part of the problem. A nil loss means TrivialLoss.
func (p *Problem) AddResidualBlock(cost CostFunction, loss LossFunction, params ...[]float64) error {
	sizes := cost.ParameterBlockSizes()
	if len(sizes) != len(params) {
		return errors.Errorf("cost function expects %d parameter blocks, got %d", len(sizes), len(params))
	}
	if loss == nil {
		loss = TrivialLoss{}
	}
	rb := residualBlock{cost: cost, loss: loss}
	for i, values := range params {
		if len(values) != sizes[i] {
			return errors.Errorf("parameter block %d has size %d, cost function expects %d", i, len(values), sizes[i])
		}
		rb.blocks = append(rb.blocks, p.AddParameterBlock(values))
	}
	p.residuals = append(p.residuals, rb)
	return nil
}

// ParameterBlock returns the block registered for values.
func (p *Problem) ParameterBlock(values []float64) (*ParameterBlock, bool) {
	if len(values) == 0 {
		return nil, false
	}
	b, ok := p.byAddress[&values[0]]
	return b, ok
}

func (p *Problem) mustBlock(values []float64) *ParameterBlock {
	b, ok := p.ParameterBlock(values)
	if !ok {
		panic("leastsquares: parameter block is not part of the problem")
	}
	return b
}

// SetParameterBlockConstant holds the block at its current value.
func (p *Problem) SetParameterBlockConstant(values []float64) {
	p.mustBlock(values).constant = true
}

// SetParameterBlockVariable lets the block vary again.
func (p *Problem) SetParameterBlockVariable(values []float64) {
	p.mustBlock(values).constant = false
}

// IsParameterBlockConstant reports whether the block is held constant.
func (p *Problem) IsParameterBlockConstant(values []float64) bool {
	return p.mustBlock(values).constant
}

// SetManifold constrains the block to the manifold.
func (p *Problem) SetManifold(values []float64, manifold Manifold) error {
	b := p.mustBlock(values)
	if manifold.AmbientSize() != len(values) {
		return errors.Errorf("manifold ambient size %d does not match block size %d", manifold.AmbientSize(), len(values))
	}
	b.manifold = manifold
	return nil
}

// NumResidualBlocks returns the number of residual blocks.
func (p *Problem) NumResidualBlocks() int {
	return len(p.residuals)
}

// NumResiduals returns the total number of scalar residuals.
func (p *Problem) NumResiduals() int {
	n := 0
	for _, rb := range p.residuals {
		n += rb.cost.NumResiduals()
	}
	return n
}

// NumParameters returns the total ambient size of all blocks.
func (p *Problem) NumParameters() int {
	n := 0
	for _, b := range p.blocks {
		n += len(b.values)
	}
	return n
}

// layout assigns tangent offsets to the variable blocks and returns the tangent dimension.
// Variable blocks with a zero dimensional tangent space are treated as constant.
func (p *Problem) layout() int {
	n := 0
	for _, b := range p.blocks {
		if b.constant || b.tangentSize() == 0 {
			b.offset = -1
			continue
		}
		b.offset = n
		n += b.tangentSize()
	}
	return n
}

// cost evaluates 1/2·Σ rho(|f|²) at the current values.
func (p *Problem) cost() (float64, bool) {
	total := 0.0
	for _, rb := range p.residuals {
		f := make([]float64, rb.cost.NumResiduals())
		if !rb.cost.Evaluate(rb.values(), f) {
			return 0, false
		}
		rho, _ := rb.loss.Evaluate(floats.Dot(f, f))
		total += rho
	}
	return total / 2, true
}

func (rb residualBlock) values() [][]float64 {
	params := make([][]float64, len(rb.blocks))
	for i, b := range rb.blocks {
		params[i] = b.values
	}
	return params
}

