// Provides the error taxonomy shared by the solver packages.
package stokes_errors

import (
	"errors"
	"fmt"
)

var (
	ErrPartition           = errors.New("gostokes: malformed block partition")
	ErrPreconditionerBuild = errors.New("gostokes: preconditioner build failed")
	ErrDeflation           = errors.New("gostokes: degenerate deflation subspace")
	ErrNonConvergence      = errors.New("gostokes: iteration limit reached")
	ErrUnknownSolver       = errors.New("gostokes: unknown linear solver")
)

// NonConvergenceError is returned alongside the approximate solution when the
// iteration cap is reached before the tolerance is met.
type NonConvergenceError struct {
	Iterations int
	Residual   float64 // relative residual norm at exit
	Time       float64 // simulation time of the step, zero when unknown
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("%v: %d iterations, relative residual %8.3e, t = %g",
		ErrNonConvergence, e.Iterations, e.Residual, e.Time)
}

func (e *NonConvergenceError) Unwrap() error { return ErrNonConvergence }

type UnknownSolverError struct {
	ID string
}

func (e *UnknownSolverError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnknownSolver, e.ID)
}

func (e *UnknownSolverError) Unwrap() error { return ErrUnknownSolver }

// IsFatal reports whether err must stop a time-stepping run. Deflation and
// non-convergence failures are reported per step and left to the caller.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrDeflation), errors.Is(err, ErrNonConvergence):
		return false
	}
	return true
}
