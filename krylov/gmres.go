package krylov

import (
	"math"
	"time"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gostokes/stokes_errors"
)

// breakdownTol flags a happy breakdown when the new Arnoldi vector has lost
// all but this fraction of its norm to orthogonalization.
const breakdownTol = 1e-14

// Arnoldi is the Krylov data of one solve. With d = rank of the deflation and
// m = iterations it satisfies
//
//	P A MV = V H,  Q^T A MV = B
//
// where P = I - Q Q^T, V has m+1 orthonormal columns (the last one is zero
// after a breakdown) and H is (m+1)×m upper Hessenberg.
type Arnoldi struct {
	V  [][]float64
	MV [][]float64
	H  *mat.Dense // nil when m == 0
	B  *mat.Dense // nil when m == 0 or d == 0
}

func (ar *Arnoldi) Iterations() int {
	if ar == nil {
		return 0
	}
	return len(ar.MV)
}

type givens struct {
	c, s float64
}

// GMRES is an unrestarted, right-preconditioned GMRES with optional deflation.
// The preconditioned directions are kept, so the preconditioner only needs to
// be fixed for the length of one solve.
type GMRES struct{}

// Solve iterates on A x = b. On reaching MaxIterations it returns the best
// available iterate together with a *stokes_errors.NonConvergenceError.
func (g *GMRES) Solve(A Matrix, b []float64, settings Settings) (res Result, err error) {
	var (
		n     = len(b)
		start = time.Now()
		proj  *Projection
		x0    = settings.X0
	)
	defaultSettings(&settings)
	if settings.Tolerance < MinTolerance || settings.Tolerance >= 1 {
		panic("krylov: invalid tolerance")
	}
	if settings.MaxIterations < 0 {
		panic("krylov: negative iteration limit")
	}
	if x0 == nil {
		x0 = make([]float64, n)
	} else if len(x0) != n {
		panic("krylov: mismatched size of initial guess")
	}
	res.Stats.StartTime = start

	if proj, err = settings.Deflation.Project(A, b, x0); err != nil {
		settings.Logger.Warn("deflation subspace rejected, solving without deflation",
			"rank", settings.Deflation.Rank(), "err", err)
		DeflationFallbacks.Inc()
		res.Stats.DeflationError = err
		proj = &Projection{X0: append([]float64(nil), x0...)}
		err = nil
	}
	res.Projection = proj
	res.Stats.DeflationRank = proj.Rank()
	if d := proj.Rank(); d > 0 {
		res.Stats.MatVec += 1
	}

	var (
		d     = proj.Rank()
		m     = settings.MaxIterations
		tol   = settings.Tolerance
		bnorm = floats.Norm(b, 2)
		r0    = make([]float64, n)
		s     = make([]float64, m+1)
		rot   = make([]givens, m)
		ldr   = max(m, 1)
		R     = make([]float64, ldr*ldr) // rotated Hessenberg, row-major
		hcols [][]float64                // unrotated Hessenberg columns
		bcols [][]float64                // Q^T A M v_j
		V     = make([][]float64, 0, m+1)
		MV    = make([][]float64, 0, m)
		k     int
	)
	if bnorm == 0 {
		bnorm = 1
	}
	A.MulVec(r0, proj.X0)
	res.Stats.MatVec++
	floats.SubTo(r0, b, r0)
	proj.Apply(r0, nil)
	beta := floats.Norm(r0, 2)
	s[0] = beta
	res.Stats.ResidualHistory = append(res.Stats.ResidualHistory, beta/bnorm)

	if beta > tol*bnorm {
		floats.Scale(1/beta, r0)
		V = append(V, r0)
		for j := 0; j < m; j++ {
			var (
				mv = make([]float64, n)
				u  = make([]float64, n)
				h  = make([]float64, j+2)
				bc = make([]float64, d)
			)
			settings.Preconditioner.Apply(mv, V[j])
			res.Stats.PSolve++
			A.MulVec(u, mv)
			res.Stats.MatVec++
			unorm := floats.Norm(u, 2)
			for pass := 0; pass < 2; pass++ {
				proj.Apply(u, bc)
				for i := 0; i <= j; i++ {
					c := floats.Dot(V[i], u)
					floats.AddScaled(u, -c, V[i])
					h[i] += c
				}
			}
			hn := floats.Norm(u, 2)
			h[j+1] = hn
			breakdown := hn <= breakdownTol*unorm
			if breakdown {
				for i := range u {
					u[i] = 0
				}
			} else {
				floats.Scale(1/hn, u)
			}
			MV = append(MV, mv)
			V = append(V, u)
			hcols = append(hcols, h)
			bcols = append(bcols, bc)

			// Reduce the new column with the previous rotations and zero H[j+1,j].
			col := append([]float64(nil), h...)
			for i := 0; i < j; i++ {
				col[i], col[i+1] = rotvec(col[i], col[i+1], rot[i])
			}
			rot[j] = drotg(col[j], col[j+1])
			col[j], col[j+1] = rotvec(col[j], col[j+1], rot[j])
			s[j], s[j+1] = rotvec(s[j], s[j+1], rot[j])
			for i := 0; i <= j; i++ {
				R[i*ldr+j] = col[i]
			}
			k = j + 1
			rn := math.Abs(s[j+1])
			res.Stats.ResidualHistory = append(res.Stats.ResidualHistory, rn/bnorm)
			if rn <= tol*bnorm || breakdown {
				break
			}
		}
	}
	res.Stats.Iterations = k
	res.Stats.ResidualNorm = res.Stats.ResidualHistory[len(res.Stats.ResidualHistory)-1]
	res.Stats.Converged = res.Stats.ResidualNorm <= tol

	// x = x0 + MV y - ZR (B y)
	res.X = append([]float64(nil), proj.X0...)
	if k > 0 {
		y := append([]float64(nil), s[:k]...)
		blas64.Implementation().Dtrsv(blas.Upper, blas.NoTrans, blas.NonUnit, k, R, ldr, y, 1)
		for j := 0; j < k; j++ {
			floats.AddScaled(res.X, y[j], MV[j])
		}
		for i := 0; i < d; i++ {
			var by float64
			for j := 0; j < k; j++ {
				by += bcols[j][i] * y[j]
			}
			floats.AddScaled(res.X, -by, proj.ZR[i])
		}
	}
	res.Arnoldi = newArnoldi(V, MV, hcols, bcols, d)

	rt := make([]float64, n)
	A.MulVec(rt, res.X)
	res.Stats.MatVec++
	floats.SubTo(rt, b, rt)
	res.Stats.TrueResidualNorm = floats.Norm(rt, 2) / bnorm
	res.Stats.Runtime = time.Since(start)

	SolveDuration.Observe(res.Stats.Runtime.Seconds())
	Iterations.Observe(float64(k))
	if !res.Stats.Converged {
		NonConvergences.Inc()
		err = &stokes_errors.NonConvergenceError{
			Iterations: k,
			Residual:   res.Stats.ResidualNorm,
		}
	}
	return
}

func newArnoldi(V, MV, hcols, bcols [][]float64, d int) (ar *Arnoldi) {
	ar = &Arnoldi{V: V, MV: MV}
	m := len(MV)
	if m == 0 {
		return
	}
	ar.H = mat.NewDense(m+1, m, nil)
	for j, h := range hcols {
		for i, v := range h {
			ar.H.Set(i, j, v)
		}
	}
	if d > 0 {
		ar.B = mat.NewDense(d, m, nil)
		for j, bc := range bcols {
			for i, v := range bc {
				ar.B.Set(i, j, v)
			}
		}
	}
	return
}

func drotg(a, b float64) givens {
	if b == 0 {
		return givens{c: 1, s: 0}
	}
	if math.Abs(b) > math.Abs(a) {
		tmp := -a / b
		s := 1 / math.Sqrt(1+tmp*tmp)
		return givens{c: tmp * s, s: s}
	}
	tmp := -b / a
	c := 1 / math.Sqrt(1+tmp*tmp)
	return givens{c: c, s: tmp * c}
}

func rotvec(x, y float64, g givens) (rx, ry float64) {
	rx = g.c*x - g.s*y
	ry = g.s*x + g.c*y
	return
}
