// Package precon composes per-block multigrid solves into the block-diagonal
// preconditioner for the unsteady Stokes saddle-point operator, after Peters,
// Reichelt and Reusken, "Fast iterative solvers for discrete Stokes equations"
// (2005).
package precon

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/gostokes/amg"
	"github.com/notargets/gostokes/system"
	"github.com/notargets/gostokes/utils"
)

// Forms are the assembled auxiliary operators, full size and partitioned like
// the system: the mass-plus-stiffness form (velocity mass + dt·stiffness,
// pressure mass, Lagrange mass) and the pure pressure stiffness form.
type Forms struct {
	MassStiffness     utils.CSR
	PressureStiffness utils.CSR
}

// BlockPreconditioner approximates the inverse of
//
//	diag( M_V + dt·K_V ,  S⁻¹ ,  I )
//
// where the pressure Schur complement inverse is applied as a weighted sum of
// the pressure mass and pressure stiffness multigrid solves.
type BlockPreconditioner struct {
	MV, MQ, NQ *amg.BlockSolve
	blocks     system.Partition
	h2, dt     float64
	alphaM     float64 // weight of the pressure mass solve
	alphaN     float64 // weight of the pressure stiffness solve
}

// New builds the three multigrid solves concurrently. h2 is the square of the
// smallest mesh spacing and dt the time step size.
func New(forms Forms, blocks system.Partition, h2, dt float64, opts amg.Options) (bp *BlockPreconditioner, err error) {
	if dt <= 0 {
		panic(fmt.Errorf("precon: time step must be positive, have %g", dt))
	}
	for _, name := range []string{system.Velocity, system.Pressure} {
		if !blocks.Has(name) {
			panic(fmt.Errorf("precon: partition %v lacks block %q", blocks, name))
		}
	}
	var (
		vIdx = blocks.Indices(system.Velocity)
		qIdx = blocks.Indices(system.Pressure)
	)
	bp = &BlockPreconditioner{
		blocks: blocks,
		h2:     h2,
		dt:     dt,
	}
	// Peters, Reichelt, Reusken: the scaling keeps the Schur complement
	// approximation spectrally equivalent in both regimes
	if h2 <= dt {
		bp.alphaM = 1
	} else {
		bp.alphaM = h2 / dt
	}
	bp.alphaN = 1 / dt
	build := func(dst **amg.BlockSolve, A utils.CSR, idx []int, name string) func() error {
		return func() (err error) {
			o := opts
			o.Name = name
			if *dst, err = amg.Build(A.Extract(idx, idx), o); err != nil {
				err = errors.Wrapf(err, "building %s block solve", name)
			}
			return
		}
	}
	err = utils.RunParallel(
		build(&bp.MV, forms.MassStiffness, vIdx, "MV"),
		build(&bp.MQ, forms.MassStiffness, qIdx, "MQ"),
		build(&bp.NQ, forms.PressureStiffness, qIdx, "NQ"),
	)
	if err != nil {
		return nil, err
	}
	return
}

// Matches reports whether the preconditioner was built for this mesh spacing
// and step size, in which case it can be reused.
func (bp *BlockPreconditioner) Matches(h2, dt float64) bool {
	return bp != nil && bp.h2 == h2 && bp.dt == dt
}

// Weights returns the pressure block combination coefficients.
func (bp *BlockPreconditioner) Weights() (alphaM, alphaN float64) {
	return bp.alphaM, bp.alphaN
}

func (bp *BlockPreconditioner) Dim() int { return bp.blocks.N }

// Apply stores into dst the preconditioner applied to x. dst and x must not
// alias.
func (bp *BlockPreconditioner) Apply(dst, x []float64) {
	var (
		b  = bp.blocks
		xV = b.SubVector(system.Velocity, x)
		xQ = b.SubVector(system.Pressure, x)
		yV = make([]float64, len(xV))
		yQ = make([]float64, len(xQ))
		yN = make([]float64, len(xQ))
	)
	if len(dst) != b.N || len(x) != b.N {
		panic(fmt.Errorf("precon: vector length %d/%d, want %d", len(dst), len(x), b.N))
	}
	for i := range dst {
		dst[i] = 0
	}
	bp.MV.Apply(yV, xV)
	bp.MQ.Apply(yQ, xQ)
	bp.NQ.Apply(yN, xQ)
	floats.Scale(bp.alphaM, yQ)
	floats.AddScaled(yQ, bp.alphaN, yN)
	b.Scatter(system.Velocity, dst, yV)
	b.Scatter(system.Pressure, dst, yQ)
	if b.Has(system.Lagrange) {
		// The scalar constraint is well conditioned, pass it through
		b.Scatter(system.Lagrange, dst, b.SubVector(system.Lagrange, x))
	}
}
