package leastsquares

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"go.viam.com/rigpose/utils"
)

// TerminationType says why the solver stopped.
type TerminationType int

// The termination types.
const (
	Convergence TerminationType = iota
	NoConvergence
	Failure
)

func (t TerminationType) String() string {
	switch t {
	case Convergence:
		return "CONVERGENCE"
	case NoConvergence:
		return "NO_CONVERGENCE"
	case Failure:
		return "FAILURE"
	default:
		return fmt.Sprintf("TerminationType(%d)", int(t))
	}
}

// Summary reports the outcome of Solve.
type Summary struct {
	InitialCost float64
	FinalCost   float64

	NumIterations        int
	NumSuccessfulSteps   int
	NumUnsuccessfulSteps int

	NumParameterBlocks     int
	NumParameters          int
	NumEffectiveParameters int
	NumResidualBlocks      int
	NumResiduals           int

	// statistics of the per residual block norms at the final values
	ResidualStats utils.ResidualStats

	Termination TerminationType
	Message     string
	TotalTime   time.Duration
}

func (s *Summary) terminate(t TerminationType, msg string) {
	s.Termination = t
	s.Message = msg
}

// IsSolutionUsable reports whether the final parameters may be used. The solver may have stopped
// on the iteration limit and still produced a usable result.
func (s *Summary) IsSolutionUsable() bool {
	return s.Termination == Convergence || s.Termination == NoConvergence
}

// String renders the summary as a table.
func (s *Summary) String() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Solver summary", ""})
	t.AppendRows([]table.Row{
		{"Residual blocks", s.NumResidualBlocks},
		{"Residuals", s.NumResiduals},
		{"Parameter blocks", s.NumParameterBlocks},
		{"Parameters", s.NumParameters},
		{"Effective parameters", s.NumEffectiveParameters},
		{"Initial cost", fmt.Sprintf("%.6e", s.InitialCost)},
		{"Final cost", fmt.Sprintf("%.6e", s.FinalCost)},
		{"Residual norms", s.ResidualStats.String()},
		{"Iterations", fmt.Sprintf("%d (%d successful, %d unsuccessful)",
			s.NumIterations, s.NumSuccessfulSteps, s.NumUnsuccessfulSteps)},
		{"Time", s.TotalTime.String()},
		{"Termination", fmt.Sprintf("%s (%s)", s.Termination, s.Message)},
	})
	return t.Render()
}
