package krylov

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/gostokes/stokes_errors"
)

// DeflationRankTol is the smallest admissible ratio min|R_ii| / max|R_ii| of
// the triangular factor of A*Z. Below it the subspace is treated as degenerate.
const DeflationRankTol = 1e-12

// Subspace is a set of deflation vectors Z together with their images A*Z,
// both stored column by column.
type Subspace struct {
	N  int
	Z  [][]float64
	AZ [][]float64
	// RitzValues are the harmonic Ritz values the columns were selected from,
	// one per column with conjugate pairs repeated. Empty for user supplied Z.
	RitzValues []complex128
}

// EmptySubspace returns a rank zero subspace for systems of size n.
func EmptySubspace(n int) *Subspace {
	return &Subspace{N: n}
}

// NewSubspace builds a subspace from the columns of Z, computing A*Z.
func NewSubspace(A Matrix, Z [][]float64) *Subspace {
	if len(Z) == 0 {
		panic("krylov: NewSubspace called with no vectors, use EmptySubspace")
	}
	var (
		n  = len(Z[0])
		sp = &Subspace{N: n, Z: make([][]float64, len(Z)), AZ: make([][]float64, len(Z))}
	)
	for j, z := range Z {
		if len(z) != n {
			panic("krylov: deflation vectors of unequal length")
		}
		sp.Z[j] = append([]float64(nil), z...)
		sp.AZ[j] = make([]float64, n)
		A.MulVec(sp.AZ[j], sp.Z[j])
	}
	return sp
}

func (sp *Subspace) Rank() int {
	if sp == nil {
		return 0
	}
	return len(sp.Z)
}

// Projection is the deflation applied to one solve. With A*Z = Q*R, the columns
// of Q are orthonormal, ZR holds Z*R^-1 so that A*ZR = Q, and X0 is the initial
// guess corrected so that its residual is orthogonal to Q.
type Projection struct {
	Q  [][]float64
	ZR [][]float64
	R  [][]float64 // upper triangular, R[i][j] for j >= i
	X0 []float64
}

func (p *Projection) Rank() int {
	if p == nil {
		return 0
	}
	return len(p.Q)
}

// Project prepares the deflated problem for A x = b from initial guess x0. An
// empty subspace yields the identity projection with X0 = x0.
func (sp *Subspace) Project(A Matrix, b, x0 []float64) (p *Projection, err error) {
	var (
		n = len(b)
		d = sp.Rank()
	)
	p = &Projection{X0: append([]float64(nil), x0...)}
	if d == 0 {
		return
	}
	if sp.N != n {
		panic("krylov: deflation subspace does not match system size")
	}
	if p.Q, p.R, err = thinQR(sp.AZ); err != nil {
		return nil, err
	}
	p.ZR = make([][]float64, d)
	for j := 0; j < d; j++ {
		zr := append([]float64(nil), sp.Z[j]...)
		for i := 0; i < j; i++ {
			floats.AddScaled(zr, -p.R[i][j], p.ZR[i])
		}
		floats.Scale(1/p.R[j][j], zr)
		p.ZR[j] = zr
	}
	// x0 += Z R^-1 Q^T (b - A x0)
	var (
		r0 = make([]float64, n)
	)
	A.MulVec(r0, x0)
	floats.SubTo(r0, b, r0)
	for j := 0; j < d; j++ {
		floats.AddScaled(p.X0, floats.Dot(p.Q[j], r0), p.ZR[j])
	}
	return
}

// Apply overwrites u with (I - Q Q^T) u and returns the removed coefficients
// added onto c when c is not nil.
func (p *Projection) Apply(u []float64, c []float64) {
	for j, q := range p.Q {
		h := floats.Dot(q, u)
		floats.AddScaled(u, -h, q)
		if c != nil {
			c[j] += h
		}
	}
}

// thinQR factors the columns of V with classical Gram-Schmidt applied twice.
func thinQR(V [][]float64) (Q, R [][]float64, err error) {
	var (
		d          = len(V)
		n          = len(V[0])
		rmin, rmax = math.Inf(1), 0.
	)
	Q = make([][]float64, d)
	R = make([][]float64, d)
	for i := range R {
		R[i] = make([]float64, d)
	}
	for j := 0; j < d; j++ {
		q := append([]float64(nil), V[j]...)
		for pass := 0; pass < 2; pass++ {
			c := make([]float64, j)
			for i := 0; i < j; i++ {
				c[i] = floats.Dot(Q[i], q)
			}
			for i := 0; i < j; i++ {
				floats.AddScaled(q, -c[i], Q[i])
				R[i][j] += c[i]
			}
		}
		rjj := floats.Norm(q, 2)
		R[j][j] = rjj
		rmin, rmax = math.Min(rmin, rjj), math.Max(rmax, rjj)
		if rjj == 0 || math.IsNaN(rjj) {
			return nil, nil, errors.Wrapf(stokes_errors.ErrDeflation,
				"column %d of A*Z is linearly dependent (n = %d)", j, n)
		}
		floats.Scale(1/rjj, q)
		Q[j] = q
	}
	if rmin <= DeflationRankTol*rmax {
		return nil, nil, errors.Wrapf(stokes_errors.ErrDeflation,
			"A*Z is numerically rank deficient, min|R_ii| = %8.3e, max|R_ii| = %8.3e", rmin, rmax)
	}
	return
}
