// Package amg implements a smoothed-aggregation algebraic multigrid hierarchy
// and the fixed-cycle approximate inverse built on it.
package amg

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gostokes/stokes_errors"
	"github.com/notargets/gostokes/utils"
)

type Options struct {
	Name      string  // block label used in logs and metrics
	MaxLevels int     // maximum hierarchy depth
	MaxCoarse int     // coarsening stops at or below this many unknowns
	Cycles    int     // V-cycles per Apply
	Tolerance float64 // relative residual at which Apply stops early
	Seed      int64   // seed of the spectral radius estimate
	Theta     float64 // strength of connection threshold
	// PreSweeps and PostSweeps are the symmetric Gauss-Seidel smoothing
	// sweeps before and after the coarse grid correction.
	PreSweeps, PostSweeps int
	Logger                utils.Logger
}

func DefaultOptions() Options {
	return Options{
		MaxLevels:  25,
		MaxCoarse:  50,
		Cycles:     3,
		Tolerance:  1e-15,
		Seed:       1337,
		PreSweeps:  1,
		PostSweeps: 1,
	}
}

func defaultOptions(o *Options) {
	d := DefaultOptions()
	if o.MaxLevels == 0 {
		o.MaxLevels = d.MaxLevels
	}
	if o.MaxCoarse == 0 {
		o.MaxCoarse = d.MaxCoarse
	}
	if o.Cycles == 0 {
		o.Cycles = d.Cycles
	}
	if o.Tolerance == 0 {
		o.Tolerance = d.Tolerance
	}
	if o.Seed == 0 {
		o.Seed = d.Seed
	}
	if o.PreSweeps == 0 {
		o.PreSweeps = d.PreSweeps
	}
	if o.PostSweeps == 0 {
		o.PostSweeps = d.PostSweeps
	}
	if o.Logger == nil {
		o.Logger = utils.NopLogger{}
	}
	if o.Name == "" {
		o.Name = "unnamed"
	}
}

const (
	// Coarsest levels up to this size are solved with a dense pseudo-inverse,
	// larger ones (coarsening stalled) with coarseSweeps smoothing sweeps.
	maxDirect    = 500
	coarseSweeps = 20
	powerIters   = 15
	pinvRcond    = 1e-13
)

type level struct {
	A    utils.CSR
	P, R utils.CSR // prolongation to this level from the next coarser one, R = Pᵀ
	diag []float64
}

// Hierarchy is immutable after BuildHierarchy returns and may be cycled from
// several goroutines at once.
type Hierarchy struct {
	levels []level
	pinv   *mat.Dense // nil when the coarsest level is smoothed instead
}

// BuildHierarchy coarsens A by smoothed aggregation until MaxCoarse or
// MaxLevels is reached, or aggregation stops reducing the problem.
func BuildHierarchy(A utils.CSR, opts Options) (h *Hierarchy, err error) {
	var (
		nr, nc = A.Dims()
		B      = utils.NewVecConst(nr, 1)
	)
	defaultOptions(&opts)
	rnd := rand.New(rand.NewSource(opts.Seed))
	switch {
	case nr != nc:
		err = errors.Wrapf(stokes_errors.ErrPreconditionerBuild,
			"%s: matrix is %dx%d, not square", opts.Name, nr, nc)
		return
	case nr == 0:
		err = errors.Wrapf(stokes_errors.ErrPreconditionerBuild, "%s: empty matrix", opts.Name)
		return
	case !A.IsFinite():
		err = errors.Wrapf(stokes_errors.ErrPreconditionerBuild, "%s: non-finite entries", opts.Name)
		return
	}
	h = &Hierarchy{}
	Ak := A
	for {
		lv := level{A: Ak, diag: Ak.Diagonal()}
		n, _ := Ak.Dims()
		lk := len(h.levels)
		if lk == 0 {
			if err = checkPivots(lv.diag, lk, opts.Name); err != nil {
				return nil, err
			}
		}
		if n <= opts.MaxCoarse || lk+1 >= opts.MaxLevels {
			h.levels = append(h.levels, lv)
			break
		}
		agg, nAgg := aggregate(strength(Ak, lv.diag, opts.Theta))
		if nAgg == 0 || nAgg >= n {
			h.levels = append(h.levels, lv)
			break
		}
		// This level is smoothed, Gauss-Seidel needs positive pivots
		if err = checkPivots(lv.diag, lk, opts.Name); err != nil {
			return nil, err
		}
		T, Bc := tentative(agg, nAgg, B)
		rho := spectralRadius(Ak, lv.diag, rnd)
		if rho == 0 || math.IsNaN(rho) {
			return nil, errors.Wrapf(stokes_errors.ErrPreconditionerBuild,
				"%s: level %d has zero spectral radius", opts.Name, lk)
		}
		// P = (I - ω D⁻¹A) T, ω = 4/(3ρ)
		lv.P = T.AddScaled(-(4./3.)/rho, scaleRows(Ak, lv.diag).Mul(T))
		lv.R = lv.P.Transpose()
		h.levels = append(h.levels, lv)
		Ak = lv.R.Mul(Ak.Mul(lv.P))
		B = Bc
	}
	if err = h.setupCoarse(opts); err != nil {
		return nil, err
	}
	opts.Logger.Debug("amg hierarchy built", "block", opts.Name,
		"levels", h.Levels(), "sizes", fmt.Sprint(h.Sizes()),
		"operatorComplexity", h.OperatorComplexity())
	return
}

func checkPivots(diag []float64, lk int, name string) error {
	for i, d := range diag {
		if !(d > 0) {
			return errors.Wrapf(stokes_errors.ErrPreconditionerBuild,
				"%s: zero or negative pivot %g at level %d, row %d", name, d, lk, i)
		}
	}
	return nil
}

func (h *Hierarchy) setupCoarse(opts Options) (err error) {
	var (
		lk   = len(h.levels) - 1
		last = h.levels[lk]
		n, _ = last.A.Dims()
	)
	if n > maxDirect {
		opts.Logger.Debug("amg coarsest level smoothed", "block", opts.Name, "size", n)
		return checkPivots(last.diag, lk, opts.Name)
	}
	var (
		svd mat.SVD
		U   mat.Dense
		V   mat.Dense
	)
	if !svd.Factorize(last.A.ToDense(), mat.SVDThin) {
		return errors.Wrapf(stokes_errors.ErrPreconditionerBuild,
			"%s: coarse level SVD failed", opts.Name)
	}
	s := svd.Values(nil)
	svd.UTo(&U)
	svd.VTo(&V)
	cutoff := pinvRcond * s[0]
	for k := range s {
		if s[k] > cutoff {
			s[k] = 1 / s[k]
		} else {
			s[k] = 0
		}
	}
	// pinv = V Σ⁺ Uᵀ
	VS := mat.NewDense(n, len(s), nil)
	VS.Apply(func(i, j int, v float64) float64 { return v * s[j] }, &V)
	h.pinv = mat.NewDense(n, n, nil)
	h.pinv.Mul(VS, U.T())
	return
}

// scaleRows returns D⁻¹A.
func scaleRows(A utils.CSR, diag []float64) utils.CSR {
	inv := make([]float64, len(diag))
	for i, d := range diag {
		inv[i] = 1 / d
	}
	return A.ScaleRows(inv)
}

// spectralRadius estimates ρ(D⁻¹A) by power iteration from a random start
// drawn from rnd.
func spectralRadius(A utils.CSR, diag []float64, rnd *rand.Rand) (rho float64) {
	var (
		n = len(diag)
		v = make([]float64, n)
		w = make([]float64, n)
	)
	for i := range v {
		v[i] = rnd.NormFloat64()
	}
	floats.Scale(1/floats.Norm(v, 2), v)
	for k := 0; k < powerIters; k++ {
		A.MulVec(w, v)
		floats.Div(w, diag)
		rho = floats.Norm(w, 2)
		if rho == 0 {
			return
		}
		floats.ScaleTo(v, 1/rho, w)
	}
	return
}

func (h *Hierarchy) Levels() int { return len(h.levels) }

func (h *Hierarchy) Dim() int {
	n, _ := h.levels[0].A.Dims()
	return n
}

func (h *Hierarchy) Sizes() (sizes []int) {
	for _, lv := range h.levels {
		n, _ := lv.A.Dims()
		sizes = append(sizes, n)
	}
	return
}

// OperatorComplexity is the total stored non-zeros over the fine level's.
func (h *Hierarchy) OperatorComplexity() float64 {
	var total int
	for _, lv := range h.levels {
		total += lv.A.NNZ()
	}
	return float64(total) / float64(h.levels[0].A.NNZ())
}

// cycle performs one V-cycle on level l improving x for A_l x = b.
func (h *Hierarchy) cycle(l int, x, b []float64, opts *Options) {
	var (
		lv = h.levels[l]
	)
	if l == len(h.levels)-1 {
		h.coarseSolve(x, b)
		return
	}
	for s := 0; s < opts.PreSweeps; s++ {
		gaussSeidel(lv, x, b, true)
	}
	var (
		n, _  = lv.A.Dims()
		nc, _ = h.levels[l+1].A.Dims()
		r     = make([]float64, n)
		bc    = make([]float64, nc)
		xc    = make([]float64, nc)
		dx    = make([]float64, n)
	)
	utils.Residual(r, lv.A, x, b)
	lv.R.MulVec(bc, r)
	h.cycle(l+1, xc, bc, opts)
	lv.P.MulVec(dx, xc)
	floats.Add(x, dx)
	for s := 0; s < opts.PostSweeps; s++ {
		gaussSeidel(lv, x, b, false)
	}
}

func (h *Hierarchy) coarseSolve(x, b []float64) {
	last := h.levels[len(h.levels)-1]
	if h.pinv == nil {
		for s := 0; s < coarseSweeps; s++ {
			gaussSeidel(last, x, b, true)
			gaussSeidel(last, x, b, false)
		}
		return
	}
	// The coarse correction enters from a zero guess, but stay general
	r := make([]float64, len(b))
	utils.Residual(r, last.A, x, b)
	dx := mat.NewVecDense(len(x), nil)
	dx.MulVec(h.pinv, mat.NewVecDense(len(r), r))
	floats.Add(x, dx.RawVector().Data)
}

// gaussSeidel performs one in-place sweep, forward or backward.
func gaussSeidel(lv level, x, b []float64, forward bool) {
	var (
		raw = lv.A.RawMatrix()
		n   = raw.I
	)
	relax := func(i int) {
		sum := b[i]
		for k := raw.Indptr[i]; k < raw.Indptr[i+1]; k++ {
			if j := raw.Ind[k]; j != i {
				sum -= raw.Data[k] * x[j]
			}
		}
		x[i] = sum / lv.diag[i]
	}
	if forward {
		for i := 0; i < n; i++ {
			relax(i)
		}
		return
	}
	for i := n - 1; i >= 0; i-- {
		relax(i)
	}
}
