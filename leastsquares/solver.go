package leastsquares

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rigpose/logging"
	"go.viam.com/rigpose/utils"
)

// SolverOptions controls the Levenberg-Marquardt iterations.
type SolverOptions struct {
	MaxNumIterations         int
	GradientTolerance        float64
	FunctionTolerance        float64
	ParameterTolerance       float64
	InitialTrustRegionRadius float64
	// Logger receives a line per iteration at debug level. May be nil.
	Logger logging.Logger
}

// DefaultSolverOptions returns the options used when none are given.
func DefaultSolverOptions() SolverOptions {
	return SolverOptions{
		MaxNumIterations:         50,
		GradientTolerance:        1e-10,
		FunctionTolerance:        1e-6,
		ParameterTolerance:       1e-8,
		InitialTrustRegionRadius: 1e4,
	}
}

// Check validates the options.
func (opts SolverOptions) Check() error {
	switch {
	case opts.MaxNumIterations < 0:
		return errors.Errorf("max_num_iterations must be non-negative, got %d", opts.MaxNumIterations)
	case opts.GradientTolerance < 0:
		return errors.Errorf("gradient_tolerance must be non-negative, got %v", opts.GradientTolerance)
	case opts.FunctionTolerance < 0:
		return errors.Errorf("function_tolerance must be non-negative, got %v", opts.FunctionTolerance)
	case opts.ParameterTolerance < 0:
		return errors.Errorf("parameter_tolerance must be non-negative, got %v", opts.ParameterTolerance)
	case opts.InitialTrustRegionRadius <= 0:
		return errors.Errorf("initial_trust_region_radius must be positive, got %v", opts.InitialTrustRegionRadius)
	}
	return nil
}

const (
	minTrustRegionRadius = 1e-32
	minRelativeDecrease  = 1e-3
	minDiagonal          = 1e-6
	maxDiagonal          = 1e32
)

// Solve minimizes the problem in place, starting from the current values of its parameter blocks.
func Solve(opts SolverOptions, problem *Problem) *Summary {
	start := time.Now()
	summary := &Summary{
		NumParameterBlocks: len(problem.blocks),
		NumParameters:      problem.NumParameters(),
		NumResidualBlocks:  problem.NumResidualBlocks(),
		NumResiduals:       problem.NumResiduals(),
	}
	defer func() {
		summary.TotalTime = time.Since(start)
	}()
	if err := opts.Check(); err != nil {
		summary.terminate(Failure, err.Error())
		return summary
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewBlankLogger("leastsquares")
	}

	numTangent := problem.layout()
	summary.NumEffectiveParameters = numTangent

	lin, ok := problem.linearize(numTangent)
	if !ok {
		summary.terminate(Failure, "residual evaluation failed at the initial point")
		return summary
	}
	summary.InitialCost = lin.cost
	summary.FinalCost = lin.cost
	defer func() {
		if lin != nil {
			summary.ResidualStats, _ = utils.ComputeResidualStats(lin.norms)
		}
	}()
	if numTangent == 0 {
		summary.terminate(Convergence, "no variable parameter blocks")
		return summary
	}
	if lin.cost == 0 {
		summary.terminate(Convergence, "initial cost is zero")
		return summary
	}

	variable := make([]*ParameterBlock, 0, len(problem.blocks))
	for _, b := range problem.blocks {
		if b.offset >= 0 {
			variable = append(variable, b)
		}
	}
	saved := make([][]float64, len(variable))
	for i, b := range variable {
		saved[i] = make([]float64, len(b.values))
	}

	radius := opts.InitialTrustRegionRadius
	decreaseFactor := 2.0
	cost := lin.cost
	for {
		gradient := mat.NewVecDense(numTangent, nil)
		gradient.MulVec(lin.jacobian.T(), mat.NewVecDense(len(lin.residuals), lin.residuals))
		if mat.Norm(gradient, math.Inf(1)) <= opts.GradientTolerance {
			summary.terminate(Convergence, "gradient tolerance reached")
			break
		}
		if summary.NumIterations >= opts.MaxNumIterations {
			summary.terminate(NoConvergence, "maximum number of iterations reached")
			break
		}
		if radius < minTrustRegionRadius {
			summary.terminate(Convergence, "minimum trust region radius reached")
			break
		}
		summary.NumIterations++

		jtj := mat.NewSymDense(numTangent, nil)
		jtj.SymOuterK(1, lin.jacobian.T())
		damped := mat.NewSymDense(numTangent, nil)
		damped.CopySym(jtj)
		for k := 0; k < numTangent; k++ {
			d := math.Min(math.Max(jtj.At(k, k), minDiagonal), maxDiagonal)
			damped.SetSym(k, k, jtj.At(k, k)+d/radius)
		}

		var chol mat.Cholesky
		var step mat.VecDense
		if ok := chol.Factorize(damped); !ok {
			radius /= decreaseFactor
			decreaseFactor *= 2
			summary.NumUnsuccessfulSteps++
			continue
		}
		if err := chol.SolveVecTo(&step, gradient); err != nil {
			radius /= decreaseFactor
			decreaseFactor *= 2
			summary.NumUnsuccessfulSteps++
			continue
		}
		step.ScaleVec(-1, &step)

		xNorm := 0.0
		for i, b := range variable {
			copy(saved[i], b.values)
			xNorm += floats.Dot(b.values, b.values)
		}
		xNorm = math.Sqrt(xNorm)
		stepNorm := mat.Norm(&step, 2)
		if stepNorm <= opts.ParameterTolerance*(xNorm+opts.ParameterTolerance) {
			summary.terminate(Convergence, "parameter tolerance reached")
			break
		}

		stepData := step.RawVector().Data
		for i, b := range variable {
			size := b.tangentSize()
			b.plus(saved[i], stepData[b.offset:b.offset+size], b.values)
		}
		newCost, ok := problem.cost()

		// predicted decrease of the linear model: -(gᵀδ + ½·δᵀ·JᵀJ·δ)
		var jtjStep mat.VecDense
		jtjStep.MulVec(jtj, &step)
		modelDecrease := -(mat.Dot(gradient, &step) + 0.5*mat.Dot(&step, &jtjStep))
		ratio := (cost - newCost) / modelDecrease

		if !ok || modelDecrease <= 0 || !(ratio > minRelativeDecrease) {
			for i, b := range variable {
				copy(b.values, saved[i])
			}
			radius /= decreaseFactor
			decreaseFactor *= 2
			summary.NumUnsuccessfulSteps++
			logger.Debugw("rejected step", "iteration", summary.NumIterations, "cost", cost, "radius", radius)
			continue
		}

		summary.NumSuccessfulSteps++
		relDecrease := (cost - newCost) / cost
		radius = radius / math.Max(1.0/3, 1-math.Pow(2*ratio-1, 3))
		decreaseFactor = 2
		cost = newCost
		logger.Debugw("accepted step", "iteration", summary.NumIterations, "cost", cost, "step_norm", stepNorm)

		next, ok := problem.linearize(numTangent)
		if !ok {
			summary.terminate(Failure, "residual evaluation failed")
			break
		}
		lin = next
		if relDecrease <= opts.FunctionTolerance {
			summary.terminate(Convergence, "function tolerance reached")
			break
		}
	}
	summary.FinalCost = cost
	return summary
}
