package Stokes2D

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/gostokes/amg"
	"github.com/notargets/gostokes/krylov"
	"github.com/notargets/gostokes/precon"
	"github.com/notargets/gostokes/stokes_errors"
	"github.com/notargets/gostokes/system"
	"github.com/notargets/gostokes/utils"
)

// Stepper runs implicit Euler steps of an Assembler from InitialTime to
// FinalTime. It owns the block preconditioner, rebuilt only when the mesh
// spacing or dt change, and the deflation subspace carried between steps.
type Stepper struct {
	Assembler   Assembler
	Solver      krylov.Solver
	Settings    krylov.Settings // Tolerance and MaxIterations of every solve
	AMG         amg.Options
	InitialTime float64
	FinalTime   float64
	// DeflationRank bounds the number of Ritz vectors recycled into the next
	// step. Zero disables deflation.
	DeflationRank int
	// AcceptNonConverged continues with the approximate solution when a step
	// reaches the iteration limit instead of stopping the run.
	AcceptNonConverged bool
	// Expressions are advanced to the time of every step before assembly.
	Expressions []TimeDependent
	// InitialVelocity is evaluated at InitialTime, nil means zero.
	InitialVelocity *VectorField
	// ExactVelocity and ExactPressure, when both set, are used for per-step
	// error norms.
	ExactVelocity *VectorField
	ExactPressure *ScalarField
	Logger        utils.Logger
	Verbose       bool

	prec      *precon.BlockPreconditioner
	deflation *krylov.Subspace
	builds    int
}

type StepReport struct {
	Step          int
	Time          float64
	Stats         krylov.Stats
	VelocityError float64
	PressureError float64
}

type Solution struct {
	RunID                string
	X                    []float64
	U, P                 []float64
	Lambda               float64
	Steps                []StepReport
	NormU, NormP         float64
	MaxVelocityError     float64
	MaxPressureError     float64
	PreconditionerBuilds int
	Elapsed              time.Duration
}

func (sol *Solution) Iterations() (total int) {
	for _, s := range sol.Steps {
		total += s.Stats.Iterations
	}
	return
}

// errorNormer is implemented by assemblers that can measure discretisation
// errors against exact fields.
type errorNormer interface {
	ErrorNorms(x []float64, uEx *VectorField, pEx *ScalarField) (eu, ep float64)
}

type velocityInterpolator interface {
	InterpolateVelocity(f *VectorField) []float64
}

func (s *Stepper) defaults() {
	if s.Solver == nil {
		s.Solver = &krylov.GMRES{}
	}
	if s.Logger == nil {
		s.Logger = utils.NopLogger{}
	}
	if s.Settings.Logger == nil {
		s.Settings.Logger = s.Logger
	}
}

// Run steps until FinalTime or until a fatal error. Partition and
// preconditioner build errors always stop the run; a step that does not
// converge stops it unless AcceptNonConverged is set. The solution reached so
// far is returned in every case.
func (s *Stepper) Run(ctx context.Context) (sol *Solution, err error) {
	s.defaults()
	var (
		asm     = s.Assembler
		blocks  = asm.Partition()
		dt      = asm.DT()
		h2      = asm.Hmin() * asm.Hmin()
		t       = s.InitialTime
		x       = make([]float64, blocks.N)
		uOld    []float64
		start   = time.Now()
		runID   = uuid.NewString()
		withErr = s.ExactVelocity != nil && s.ExactPressure != nil
	)
	ctx = utils.WithDefaultArgs(ctx, "run", runID)
	sol = &Solution{RunID: runID}
	for _, e := range s.Expressions {
		e.AdvanceTo(t)
	}
	if s.InitialVelocity != nil {
		s.InitialVelocity.AdvanceTo(t)
		if vi, ok := asm.(velocityInterpolator); ok {
			blocks.Scatter(system.Velocity, x, vi.InterpolateVelocity(s.InitialVelocity))
		}
	}
	uOld, _, _ = asm.Split(x)
	s.Logger.InfoCtx(ctx, "starting run", "unknowns", blocks.N, "dt", dt,
		"hmin/hmax", asm.Hmin()/asm.Hmax(), "deflation", s.DeflationRank)
	if s.Verbose {
		fmt.Printf("Solve with n_dofs=%d, dt=%e, hmin/hmax=%e.\n", blocks.N, dt, asm.Hmin()/asm.Hmax())
		fmt.Printf("    step        time  iter    residual    defl\n")
	}

	defer func() {
		sol.X = x
		sol.U, sol.P, sol.Lambda = asm.Split(x)
		sol.NormU = floats.Norm(sol.U, 2)
		sol.NormP = floats.Norm(sol.P, 2)
		sol.PreconditionerBuilds = s.builds
		sol.Elapsed = time.Since(start)
	}()

	// steps stop within half a step of FinalTime to absorb rounding in t
	for step := 1; t < s.FinalTime-0.5*dt; step++ {
		if err = ctx.Err(); err != nil {
			return sol, pkgerrors.Wrapf(err, "stopped before step %d, t = %g", step, t)
		}
		var (
			sys *system.SparseSystem
			res krylov.Result
		)
		t += dt
		for _, e := range s.Expressions {
			e.AdvanceTo(t)
		}
		if sys, err = asm.System(t, uOld); err != nil {
			return sol, pkgerrors.Wrapf(err, "assembling step %d", step)
		}
		if !s.prec.Matches(h2, dt) {
			if s.prec, err = precon.New(asm.PreconditionerForms(), blocks, h2, dt, s.AMG); err != nil {
				return sol, err
			}
			s.builds++
			s.Logger.DebugCtx(ctx, "built preconditioner", "h2", h2, "dt", dt)
		}
		if s.deflation.Rank() > 0 {
			s.deflation = krylov.NewSubspace(sys.A, s.deflation.Z)
		}
		settings := s.Settings
		settings.X0 = x
		settings.Preconditioner = s.prec
		settings.Deflation = s.deflation

		res, err = s.Solver.Solve(sys.A, sys.RHS, settings)
		if e := res.Stats.DeflationError; e != nil {
			s.Logger.WarnCtx(ctx, "deflation fell back to rank 0", "t", t, "err", e)
		}
		if err != nil {
			var nce *stokes_errors.NonConvergenceError
			if !errors.As(err, &nce) {
				return sol, pkgerrors.Wrapf(err, "solving step %d", step)
			}
			nce.Time = t
			s.Logger.WarnCtx(ctx, "linear solve did not converge", "t", t,
				"iterations", nce.Iterations, "residual", nce.Residual)
			if !s.AcceptNonConverged {
				if res.X != nil {
					x = res.X
				}
				return sol, err
			}
			err = nil
		}
		x = res.X
		uOld, _, _ = asm.Split(x)

		if s.DeflationRank > 0 {
			var sp *krylov.Subspace
			if sp, err = krylov.UpdateFromRitz(sys.A, res, s.DeflationRank); err != nil {
				s.Logger.WarnCtx(ctx, "Ritz extraction failed, dropping deflation", "t", t, "err", err)
				krylov.DeflationFallbacks.Inc()
				sp, err = nil, nil
			}
			s.deflation = sp
		}

		report := StepReport{Step: step, Time: t, Stats: res.Stats}
		if en, ok := asm.(errorNormer); ok && withErr {
			report.VelocityError, report.PressureError = en.ErrorNorms(x, s.ExactVelocity, s.ExactPressure)
			sol.MaxVelocityError = math.Max(sol.MaxVelocityError, report.VelocityError)
			sol.MaxPressureError = math.Max(sol.MaxPressureError, report.PressureError)
		}
		sol.Steps = append(sol.Steps, report)
		s.Logger.InfoCtx(ctx, "step", "n", step, "t", t, "iterations", res.Stats.Iterations,
			"residual", res.Stats.ResidualNorm, "deflation", res.Stats.DeflationRank)
		if s.Verbose {
			fmt.Printf("%8d%12.5f%6d%12.4e%8d\n", step, t, res.Stats.Iterations,
				res.Stats.ResidualNorm, res.Stats.DeflationRank)
		}
	}
	return
}

// PrintFinal reports the norms of the final fields.
func (sol *Solution) PrintFinal(lagrange bool) {
	fmt.Printf("norm(u_new) = %e\n", sol.NormU)
	fmt.Printf("norm(p_new) = %e\n", sol.NormP)
	if lagrange {
		fmt.Printf("norm(lam_new) = %e\n", math.Abs(sol.Lambda))
	}
	fmt.Printf("%d steps, %d GMRES iterations, %d preconditioner builds in %v\n",
		len(sol.Steps), sol.Iterations(), sol.PreconditionerBuilds, sol.Elapsed)
}
