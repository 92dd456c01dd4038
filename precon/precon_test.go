package precon

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/gostokes/amg"
	"github.com/notargets/gostokes/krylov"
	"github.com/notargets/gostokes/stokes_errors"
	"github.com/notargets/gostokes/system"
	"github.com/notargets/gostokes/utils"
)

// testForms lays out nV velocity, nQ pressure and optionally one Lagrange
// unknown with the pressure block interleaved into the velocity block.
func testForms(t *testing.T, nV, nQ int, lagrange bool, diagonal bool) (Forms, system.Partition) {
	var (
		n       = nV + nQ
		names   = []string{system.Velocity, system.Pressure}
		indices = map[string][]int{}
	)
	if lagrange {
		n++
		names = append(names, system.Lagrange)
		indices[system.Lagrange] = []int{n - 1}
	}
	// Pressure unknowns sit at every other index from the front
	for i := 0; i < nQ; i++ {
		indices[system.Pressure] = append(indices[system.Pressure], 2*i)
	}
	for i := 0; i < n; i++ {
		if (i%2 == 0 && i/2 < nQ) || (lagrange && i == n-1) {
			continue
		}
		indices[system.Velocity] = append(indices[system.Velocity], i)
	}
	p, err := system.NewPartition(n, names, indices)
	require.NoError(t, err)

	var (
		M = utils.NewDOK(n, n)
		N = utils.NewDOK(n, n)
	)
	chain := func(dok utils.DOK, idx []int, d, off float64) {
		for k, i := range idx {
			dok.Add(i, i, d)
			if !diagonal && k > 0 {
				dok.Add(i, idx[k-1], off)
				dok.Add(idx[k-1], i, off)
			}
		}
	}
	chain(M, indices[system.Velocity], 2.5, -1)
	chain(M, indices[system.Pressure], 0.5, 0.1)
	chain(N, indices[system.Pressure], 2, -1)
	if lagrange {
		M.Add(n-1, n-1, 1)
	}
	return Forms{MassStiffness: M.ToCSR(), PressureStiffness: N.ToCSR()}, p
}

func TestPreconditionerWeights(t *testing.T) {
	forms, p := testForms(t, 8, 4, false, true)
	bp, err := New(forms, p, 0.01, 0.1, amg.DefaultOptions())
	require.NoError(t, err)
	aM, aN := bp.Weights()
	assert.Equal(t, 1., aM)
	assert.InDelta(t, 10, aN, 1e-14)
	assert.True(t, bp.Matches(0.01, 0.1))
	assert.False(t, bp.Matches(0.01, 0.2))

	bp, err = New(forms, p, 0.04, 0.01, amg.DefaultOptions())
	require.NoError(t, err)
	aM, aN = bp.Weights()
	assert.InDelta(t, 4, aM, 1e-14)
	assert.InDelta(t, 100, aN, 1e-12)
}

func TestPreconditionerBlocks(t *testing.T) {
	// With diagonal blocks every multigrid solve is exact, so the whole
	// operator is known in closed form.
	var (
		h2, dt   = 0.04, 0.01
		forms, p = testForms(t, 8, 4, true, true)
		x        = utils.NewVecRange(1, p.N+1)
		y        = make([]float64, p.N)
	)
	bp, err := New(forms, p, h2, dt, amg.DefaultOptions())
	require.NoError(t, err)
	bp.Apply(y, x)
	for _, i := range p.Indices(system.Velocity) {
		assert.InDelta(t, x[i]/2.5, y[i], 1e-14)
	}
	for _, i := range p.Indices(system.Pressure) {
		assert.InDelta(t, (h2/dt)*x[i]/0.5+(1/dt)*x[i]/2, y[i], 1e-12)
	}
	l := p.Indices(system.Lagrange)[0]
	assert.Equal(t, x[l], y[l])
}

var _ krylov.Preconditioner = (*BlockPreconditioner)(nil)

func TestPreconditionerLinear(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for _, lagrange := range []bool{false, true} {
		forms, p := testForms(t, 120, 60, lagrange, false)
		bp, err := New(forms, p, 0.001, 0.05, amg.DefaultOptions())
		require.NoError(t, err)
		var (
			n     = p.N
			x     = make([]float64, n)
			y     = make([]float64, n)
			a, b  = rnd.NormFloat64(), rnd.NormFloat64()
			axby  = make([]float64, n)
			px    = make([]float64, n)
			py    = make([]float64, n)
			paxby = make([]float64, n)
		)
		for i := 0; i < n; i++ {
			x[i], y[i] = rnd.NormFloat64(), rnd.NormFloat64()
			axby[i] = a*x[i] + b*y[i]
		}
		bp.Apply(px, x)
		bp.Apply(py, y)
		bp.Apply(paxby, axby)
		floats.Scale(a, px)
		floats.AddScaled(px, b, py)
		assert.Less(t, floats.Distance(paxby, px, math.Inf(1)), 1e-11*floats.Norm(paxby, math.Inf(1)))
	}
}

func TestPreconditionerBuildError(t *testing.T) {
	forms, p := testForms(t, 8, 4, false, true)
	// Knock out a pressure pivot of the stiffness form
	q := p.Indices(system.Pressure)[1]
	forms.PressureStiffness = forms.PressureStiffness.AddScaled(-1,
		utils.NewDiagonalCSR(func() []float64 {
			d := make([]float64, p.N)
			d[q] = 2
			return d
		}()))
	_, err := New(forms, p, 0.01, 0.1, amg.DefaultOptions())
	assert.True(t, errors.Is(err, stokes_errors.ErrPreconditionerBuild))
	assert.Contains(t, err.Error(), "NQ")
}
