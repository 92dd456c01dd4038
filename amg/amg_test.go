package amg

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/gostokes/stokes_errors"
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

// laplace2D is the 5-point Laplacian on an m×m grid; with dirichlet false the
// boundary rows are Neumann and the matrix is singular.
func laplace2D(m int, dirichlet bool) utils.CSR {
	var (
		n   = m * m
		dok = utils.NewDOK(n, n)
		id  = func(i, j int) int { return i + m*j }
	)
	for j := 0; j < m; j++ {
		for i := 0; i < m; i++ {
			var nbrs int
			for _, d := range [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				ii, jj := i+d[0], j+d[1]
				if ii < 0 || jj < 0 || ii >= m || jj >= m {
					continue
				}
				dok.Set(id(i, j), id(ii, jj), -1)
				nbrs++
			}
			if dirichlet {
				nbrs = 4
			}
			dok.Set(id(i, j), id(i, j), float64(nbrs))
		}
	}
	return dok.ToCSR()
}

func randomVec(n int, rnd *rand.Rand) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = rnd.NormFloat64()
	}
	return v
}

func TestAggregate(t *testing.T) {
	strong := [][]int{{1}, {0, 2}, {1, 3}, {2, 4}, {3, 5}, {4}}
	agg, nAgg := aggregate(strong)
	assert.Equal(t, 2, nAgg)
	assert.Equal(t, []int{0, 0, 1, 1, 1, 1}, agg)

	agg, nAgg = aggregate([][]int{nil, nil, nil})
	assert.Equal(t, 0, nAgg)
	assert.Equal(t, []int{isolated, isolated, isolated}, agg)

	T, Bc := tentative([]int{0, 0, 1, isolated}, 2, []float64{1, 1, 1, 1})
	assert.InDeltaSlice(t, []float64{math.Sqrt2, 1}, Bc, 1e-15)
	assert.InDelta(t, 1/math.Sqrt2, T.At(1, 0), 1e-15)
	assert.Equal(t, 1., T.At(2, 1))
	assert.Equal(t, 0., T.At(3, 0))
	assert.Equal(t, 0., T.At(3, 1))
}

func TestBlockSolveConvergence(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for _, A := range []utils.CSR{laplace1D(300), laplace2D(20, true)} {
		n, _ := A.Dims()
		s, err := Build(A, DefaultOptions())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s.Hierarchy().Levels(), 2)
		sizes := s.Hierarchy().Sizes()
		assert.LessOrEqual(t, sizes[len(sizes)-1], 50)
		for k := 1; k < len(sizes); k++ {
			assert.Less(t, sizes[k], sizes[k-1])
		}

		want := randomVec(n, rnd)
		b := make([]float64, n)
		A.MulVec(b, want)
		x, history := s.Solve(b, 200, 1e-12)
		require.NotEmpty(t, history)
		assert.LessOrEqual(t, history[len(history)-1], 1e-12)
		// Multigrid reduces the residual by a mesh independent factor per cycle
		for k := len(history) - 3; k < len(history); k++ {
			if k > 0 {
				assert.Less(t, history[k]/history[k-1], 0.6, "n=%d cycle %d", n, k)
			}
		}
		assert.Less(t, floats.Distance(x, want, math.Inf(1)), 1e-6)
	}
}

func TestBlockSolveApply(t *testing.T) {
	var (
		rnd = rand.New(rand.NewSource(2))
		A   = laplace2D(16, true)
		n   = 256
	)
	s1, err := Build(A, DefaultOptions())
	require.NoError(t, err)
	s2, err := Build(A, DefaultOptions())
	require.NoError(t, err)
	x, y := randomVec(n, rnd), randomVec(n, rnd)
	{ // Repeated builds on identical input give identical operators
		y1, y2 := make([]float64, n), make([]float64, n)
		s1.Apply(y1, x)
		s2.Apply(y2, x)
		assert.Equal(t, y1, y2)
	}
	{ // Apply is linear
		a, b := 1.7, -0.3
		ax, ay, axy := make([]float64, n), make([]float64, n), make([]float64, n)
		xy := make([]float64, n)
		floats.AddScaledTo(xy, floats.ScaleTo(make([]float64, n), a, x), b, y)
		s1.Apply(ax, x)
		s1.Apply(ay, y)
		s1.Apply(axy, xy)
		floats.Scale(a, ax)
		floats.AddScaled(ax, b, ay)
		assert.Less(t, floats.Distance(axy, ax, math.Inf(1)), 1e-12*floats.Norm(axy, math.Inf(1)))
	}
	{ // Three cycles already give a useful approximate inverse
		b := make([]float64, n)
		A.MulVec(b, x)
		z := make([]float64, n)
		s1.Apply(z, b)
		assert.Less(t, utils.RelativeResidual(A, z, b), 0.1)
	}
	{ // Zero in, zero out
		z := utils.NewVecConst(n, 5)
		s1.Apply(z, make([]float64, n))
		assert.Equal(t, make([]float64, n), z)
	}
}

func TestBlockSolveSpecialCases(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	{ // Diagonal matrices do not coarsen; the smoother is exact
		n := 600
		d := make([]float64, n)
		for i := range d {
			d[i] = 1 + rnd.Float64()
		}
		s, err := Build(utils.NewDiagonalCSR(d), DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, 1, s.Hierarchy().Levels())
		x := randomVec(n, rnd)
		y := make([]float64, n)
		s.Apply(y, x)
		for i := range y {
			assert.InDelta(t, x[i]/d[i], y[i], 1e-14)
		}
	}
	{ // Singular Neumann Laplacian: consistent right hand sides are solved
		A := laplace2D(5, false)
		s, err := Build(A, DefaultOptions())
		require.NoError(t, err)
		x := randomVec(25, rnd)
		b := make([]float64, 25)
		A.MulVec(b, x)
		y := make([]float64, 25)
		s.Apply(y, b)
		assert.Less(t, utils.RelativeResidual(A, y, b), 1e-10)
	}
}

func TestBuildFailures(t *testing.T) {
	indefinite := utils.NewDOK(2, 2)
	indefinite.Set(0, 1, 1)
	indefinite.Set(1, 0, 1)
	negative := laplace1D(100).AddScaled(-3, utils.NewDiagonalCSR(utils.NewVecConst(100, 1)))
	nan := utils.NewDiagonalCSR([]float64{1, math.NaN()})
	rect := utils.NewDOK(2, 3)
	rect.Set(0, 0, 1)
	for _, A := range []utils.CSR{indefinite.ToCSR(), negative, nan, rect.ToCSR()} {
		_, err := Build(A, Options{Name: "bad"})
		assert.True(t, errors.Is(err, stokes_errors.ErrPreconditionerBuild), "%v", err)
	}
}
