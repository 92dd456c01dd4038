package krylov

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/gostokes/stokes_errors"
	"github.com/notargets/gostokes/system"
	"github.com/notargets/gostokes/utils"
)

func laplace1D(n int) utils.CSR {
	dok := utils.NewDOK(n, n)
	for i := 0; i < n; i++ {
		dok.Set(i, i, 2)
		if i > 0 {
			dok.Set(i, i-1, -1)
		}
		if i < n-1 {
			dok.Set(i, i+1, -1)
		}
	}
	return dok.ToCSR()
}

// convection1D is a nonsymmetric tridiagonal matrix with a dominant diagonal.
func convection1D(n int) utils.CSR {
	dok := utils.NewDOK(n, n)
	for i := 0; i < n; i++ {
		dok.Set(i, i, 2)
		if i > 0 {
			dok.Set(i, i-1, -1.3)
		}
		if i < n-1 {
			dok.Set(i, i+1, -0.7)
		}
	}
	return dok.ToCSR()
}

type jacobi []float64

func (d jacobi) Apply(dst, x []float64) {
	for i := range dst {
		dst[i] = x[i] / d[i]
	}
}

func randomVec(n int, rnd *rand.Rand) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = rnd.NormFloat64()
	}
	return v
}

func assertMonotone(t *testing.T, history []float64) {
	for i := 1; i < len(history); i++ {
		assert.LessOrEqual(t, history[i], history[i-1]*(1+1e-12))
	}
}

func TestGMRESDiagonal(t *testing.T) {
	var (
		A = utils.NewDiagonalCSR([]float64{2, 2, 3, 3})
		b = []float64{2, 2, 3, 3}
		g GMRES
	)
	res, err := g.Solve(A, b, Settings{Tolerance: 1e-12})
	require.NoError(t, err)
	assert.True(t, res.Stats.Converged)
	assert.LessOrEqual(t, res.Stats.Iterations, 2)
	assert.InDeltaSlice(t, []float64{1, 1, 1, 1}, res.X, 1e-12)
	assert.Less(t, res.Stats.TrueResidualNorm, 1e-12)
	assert.Equal(t, res.Stats.Iterations+1, len(res.Stats.ResidualHistory))
	assert.Equal(t, 1., res.Stats.ResidualHistory[0])
	assertMonotone(t, res.Stats.ResidualHistory)
	assert.Equal(t, 0, res.Stats.DeflationRank)

	{ // An exact initial guess needs no iteration
		res, err = g.Solve(A, b, Settings{Tolerance: 1e-12, X0: []float64{1, 1, 1, 1}})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Stats.Iterations)
		assert.Nil(t, res.Arnoldi.H)
	}
	{ // Zero right hand side
		res, err = g.Solve(A, make([]float64, 4), Settings{})
		require.NoError(t, err)
		assert.Equal(t, make([]float64, 4), res.X)
	}
}

func TestGMRESPreconditioned(t *testing.T) {
	var (
		n   = 80
		A   = convection1D(n)
		rnd = rand.New(rand.NewSource(1))
		b   = randomVec(n, rnd)
		g   GMRES
	)
	plain, err := g.Solve(A, b, Settings{Tolerance: 1e-10})
	require.NoError(t, err)
	res, err := g.Solve(A, b, Settings{Tolerance: 1e-10, Preconditioner: jacobi(A.Diagonal())})
	require.NoError(t, err)
	for _, r := range []Result{plain, res} {
		assert.True(t, r.Stats.Converged)
		assert.Less(t, r.Stats.TrueResidualNorm, 1e-8)
		assertMonotone(t, r.Stats.ResidualHistory)
		assert.Equal(t, r.Stats.Iterations, r.Stats.PSolve)
	}
	assert.InDelta(t, utils.RelativeResidual(A, res.X, b), res.Stats.TrueResidualNorm, 1e-14)

	{ // Arnoldi relation A M V_m = V_{m+1} H
		ar := res.Arnoldi
		m := ar.Iterations()
		require.Equal(t, m+1, len(ar.V))
		au := make([]float64, n)
		for j := 0; j < m; j++ {
			A.MulVec(au, ar.MV[j])
			for i := 0; i <= j+1; i++ {
				floats.AddScaled(au, -ar.H.At(i, j), ar.V[i])
			}
			assert.Less(t, floats.Norm(au, 2), 1e-10)
		}
		for i := 0; i < m; i++ {
			for j := 0; j <= i; j++ {
				want := 0.
				if i == j {
					want = 1
				}
				assert.InDelta(t, want, floats.Dot(ar.V[i], ar.V[j]), 1e-12)
			}
		}
	}
}

func TestGMRESNonConvergence(t *testing.T) {
	var (
		n = 50
		A = laplace1D(n)
		b = utils.NewVecConst(n, 1)
		g GMRES
	)
	res, err := g.Solve(A, b, Settings{Tolerance: 1e-10, MaxIterations: 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, stokes_errors.ErrNonConvergence))
	var nce *stokes_errors.NonConvergenceError
	require.True(t, errors.As(err, &nce))
	assert.Equal(t, 3, nce.Iterations)
	assert.Equal(t, res.Stats.ResidualNorm, nce.Residual)
	assert.False(t, res.Stats.Converged)
	assert.Len(t, res.X, n)
	assert.Len(t, res.Stats.ResidualHistory, 4)
	assert.False(t, stokes_errors.IsFatal(err))
}

func TestDeflationProjection(t *testing.T) {
	var (
		n   = 40
		A   = laplace1D(n)
		rnd = rand.New(rand.NewSource(1))
		b   = randomVec(n, rnd)
		x0  = randomVec(n, rnd)
		sp  = NewSubspace(A, [][]float64{randomVec(n, rnd), randomVec(n, rnd), randomVec(n, rnd)})
	)
	require.Equal(t, 3, sp.Rank())
	p, err := sp.Project(A, b, x0)
	require.NoError(t, err)
	require.Equal(t, 3, p.Rank())
	az := make([]float64, n)
	for i := range p.Q {
		for j := range p.Q {
			want := 0.
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, floats.Dot(p.Q[i], p.Q[j]), 1e-13)
		}
		A.MulVec(az, p.ZR[i])
		assert.InDeltaSlice(t, p.Q[i], az, 1e-12)
	}
	// The corrected guess leaves a residual orthogonal to A Z
	r := make([]float64, n)
	utils.Residual(r, A, p.X0, b)
	for _, q := range p.Q {
		assert.InDelta(t, 0, floats.Dot(q, r), 1e-12)
	}

	var g GMRES
	res, err := g.Solve(A, b, Settings{Tolerance: 1e-10, X0: x0, Deflation: sp})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.DeflationRank)
	assert.Nil(t, res.Stats.DeflationError)
	assert.Less(t, res.Stats.TrueResidualNorm, 1e-8)
	assertMonotone(t, res.Stats.ResidualHistory)

	{ // Deflated Arnoldi relation A M V_m = Q B + V_{m+1} H
		ar := res.Arnoldi
		for j := 0; j < ar.Iterations(); j++ {
			A.MulVec(az, ar.MV[j])
			for i := range p.Q {
				floats.AddScaled(az, -ar.B.At(i, j), res.Projection.Q[i])
			}
			for i := 0; i <= j+1; i++ {
				floats.AddScaled(az, -ar.H.At(i, j), ar.V[i])
			}
			assert.Less(t, floats.Norm(az, 2), 1e-10)
		}
	}
}

func TestDeflationDegenerate(t *testing.T) {
	var (
		n   = 30
		A   = laplace1D(n)
		rnd = rand.New(rand.NewSource(2))
		z   = randomVec(n, rnd)
		b   = randomVec(n, rnd)
		sp  = NewSubspace(A, [][]float64{z, randomVec(n, rnd), z})
	)
	_, err := sp.Project(A, b, make([]float64, n))
	require.Error(t, err)
	assert.True(t, errors.Is(err, stokes_errors.ErrDeflation))
	assert.False(t, stokes_errors.IsFatal(err))

	var g GMRES
	res, err := g.Solve(A, b, Settings{Tolerance: 1e-10, Deflation: sp})
	require.NoError(t, err)
	assert.True(t, errors.Is(res.Stats.DeflationError, stokes_errors.ErrDeflation))
	assert.Equal(t, 0, res.Stats.DeflationRank)
	assert.True(t, res.Stats.Converged)
}

func TestRitzUpdate(t *testing.T) {
	var (
		n   = 60
		A   = laplace1D(n)
		rnd = rand.New(rand.NewSource(3))
		b   = randomVec(n, rnd)
		g   GMRES
	)
	res, err := g.Solve(A, b, Settings{Tolerance: 1e-10})
	require.NoError(t, err)

	{ // Rank zero gives the empty subspace and the identity projection
		sp, err := UpdateFromRitz(A, res, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, sp.Rank())
		assert.Empty(t, sp.Z)
		assert.Empty(t, sp.AZ)
		x0 := randomVec(n, rnd)
		p, err := sp.Project(A, b, x0)
		require.NoError(t, err)
		assert.Equal(t, 0, p.Rank())
		assert.Equal(t, x0, p.X0)
	}
	{
		sp, err := UpdateFromRitz(A, res, 4)
		require.NoError(t, err)
		require.Equal(t, 4, sp.Rank())
		require.Len(t, sp.RitzValues, 4)
		az := make([]float64, n)
		for j := range sp.Z {
			assert.InDelta(t, 1, floats.Norm(sp.Z[j], 2), 1e-12)
			A.MulVec(az, sp.Z[j])
			assert.InDeltaSlice(t, az, sp.AZ[j], 1e-14)
		}
		// Harmonic Ritz values approximate the smallest eigenvalues of A
		for k, theta := range sp.RitzValues {
			lambda := 2 - 2*math.Cos(float64(k+1)*math.Pi/float64(n+1))
			assert.InDelta(t, 0, imag(theta), 1e-8)
			assert.InEpsilon(t, lambda, real(theta), 0.05)
		}
	}
}

func TestDeflationReducesIterations(t *testing.T) {
	var (
		n   = 100
		A   = laplace1D(n)
		rnd = rand.New(rand.NewSource(4))
		b1  = randomVec(n, rnd)
		b2  = randomVec(n, rnd)
		g   GMRES
		set = Settings{Tolerance: 1e-8}
	)
	first, err := g.Solve(A, b1, set)
	require.NoError(t, err)
	sp, err := UpdateFromRitz(A, first, 8)
	require.NoError(t, err)
	require.Equal(t, 8, sp.Rank())

	plain, err := g.Solve(A, b2, set)
	require.NoError(t, err)
	set.Deflation = sp
	deflated, err := g.Solve(A, b2, set)
	require.NoError(t, err)
	assert.Less(t, deflated.Stats.Iterations, plain.Stats.Iterations)
	assert.Less(t, deflated.Stats.TrueResidualNorm, 1e-6)

	{ // Recycling carries over through a sequence of solves
		next, err := UpdateFromRitz(A, deflated, 8)
		require.NoError(t, err)
		assert.Equal(t, 8, next.Rank())
	}
}

func TestLookup(t *testing.T) {
	s, err := Lookup("krypy")
	require.NoError(t, err)
	assert.IsType(t, &GMRES{}, s)

	_, err = Lookup("petsc")
	require.Error(t, err)
	var use *stokes_errors.UnknownSolverError
	require.True(t, errors.As(err, &use))
	assert.Equal(t, "petsc", use.ID)

	{ // Solving a block system through the registry
		A := utils.NewDiagonalCSR([]float64{2, 2, 3, 3})
		blocks, err := system.ContiguousPartition([]string{system.Velocity, system.Pressure}, []int{2, 2})
		require.NoError(t, err)
		sys, err := system.NewSparseSystem(A, []float64{2, 2, 3, 3}, blocks)
		require.NoError(t, err)
		res, err := SolveSystem(s, sys, Settings{Tolerance: 1e-12})
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{1, 1}, sys.Blocks.SubVector(system.Pressure, res.X), 1e-12)
	}
}
