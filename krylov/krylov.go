// Package krylov provides a deflated, right-preconditioned GMRES for large
// sparse saddle-point systems, together with the deflation subspace that is
// harvested from one solve and reused by the next.
package krylov

import (
	"time"

	"github.com/notargets/gostokes/stokes_errors"
	"github.com/notargets/gostokes/system"
	"github.com/notargets/gostokes/utils"
)

// Matrix is the system operator. utils.CSR satisfies it.
type Matrix interface {
	MulVec(dst, x []float64)
}

// Preconditioner applies an approximate inverse. It must be a fixed linear
// operator for the duration of one solve.
type Preconditioner interface {
	Apply(dst, x []float64)
}

type identity struct{}

func (identity) Apply(dst, x []float64) { copy(dst, x) }

// Settings holds the parameters of one solve. Zero values mean defaults.
type Settings struct {
	// X0 is the initial guess. If it is nil, the zero vector is used.
	X0 []float64

	// Tolerance is the relative residual |b - A x| / |b| at which the
	// iteration stops. It must be in (eps, 1).
	Tolerance float64

	// MaxIterations caps the Krylov basis size; there is no restart.
	MaxIterations int

	// Preconditioner is applied from the right. Nil means identity.
	Preconditioner Preconditioner

	// Deflation is projected out of the system before iterating. Nil or an
	// empty subspace disables deflation.
	Deflation *Subspace

	Logger utils.Logger
}

func DefaultSettings() Settings {
	return Settings{
		Tolerance:     1e-6,
		MaxIterations: 150,
	}
}

func defaultSettings(s *Settings) {
	d := DefaultSettings()
	if s.Tolerance == 0 {
		s.Tolerance = d.Tolerance
	}
	if s.MaxIterations == 0 {
		s.MaxIterations = d.MaxIterations
	}
	if s.Preconditioner == nil {
		s.Preconditioner = identity{}
	}
	if s.Logger == nil {
		s.Logger = utils.NopLogger{}
	}
}

// Stats holds statistics about one solve.
type Stats struct {
	// Iterations is the number of Krylov basis vectors generated.
	Iterations int
	MatVec     int
	PSolve     int
	// ResidualNorm is the final relative residual estimated from the
	// Hessenberg least squares problem, TrueResidualNorm the one recomputed
	// from the returned solution.
	ResidualNorm     float64
	TrueResidualNorm float64
	// ResidualHistory holds the relative residual estimate after every
	// iteration, starting with the initial residual.
	ResidualHistory []float64
	Converged       bool
	// DeflationRank is the rank actually projected out. It is zero when the
	// supplied subspace was degenerate and DeflationError records why.
	DeflationRank  int
	DeflationError error
	StartTime      time.Time
	Runtime        time.Duration
}

// Result holds the result of one solve together with the Krylov data needed to
// extract Ritz vectors from it.
type Result struct {
	X          []float64
	Stats      Stats
	Arnoldi    *Arnoldi
	Projection *Projection
}

// Solver is a linear solver selectable by identifier.
type Solver interface {
	Solve(A Matrix, b []float64, settings Settings) (Result, error)
}

// SolverID is the identifier of the deflated GMRES path, named after the
// Krylov package the method was first prototyped with.
const SolverID = "krypy"

// Lookup returns the solver registered under id.
func Lookup(id string) (Solver, error) {
	switch id {
	case SolverID:
		return &GMRES{}, nil
	}
	return nil, &stokes_errors.UnknownSolverError{ID: id}
}

// SolveSystem solves sys with solver s.
func SolveSystem(s Solver, sys *system.SparseSystem, settings Settings) (Result, error) {
	return s.Solve(sys.A, sys.RHS, settings)
}

// MinTolerance is the smallest relative residual tolerance GMRES accepts, the
// double precision unit roundoff.
const MinTolerance = 1.0 / (1 << 53)
