package krylov

import (
	"math"
	"math/cmplx"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gostokes/stokes_errors"
)

// UpdateFromRitz extracts up to rank harmonic Ritz vectors from the search
// space S = [Z R^-1, M V] of a finished solve and returns them as the
// deflation subspace for the next solve. The vectors belonging to the Ritz
// values of smallest magnitude are kept. A complex conjugate pair contributes
// the real and imaginary parts of its vector. Rank zero returns the empty
// subspace.
func UpdateFromRitz(A Matrix, res Result, rank int) (sp *Subspace, err error) {
	var (
		n    = len(res.X)
		proj = res.Projection
		ar   = res.Arnoldi
		d    = proj.Rank()
		m    = ar.Iterations()
	)
	if rank < 0 {
		panic("krylov: negative deflation rank")
	}
	if rank == 0 || d+m == 0 {
		return EmptySubspace(n), nil
	}
	var (
		S = make([][]float64, 0, d+m)
		W = make([][]float64, 0, d+m+1)
	)
	if proj != nil {
		S = append(S, proj.ZR...)
		W = append(W, proj.Q...)
	}
	if m > 0 {
		S = append(S, ar.MV...)
		W = append(W, ar.V...)
	}
	var (
		ns = len(S)
		nw = len(W)
		G  = mat.NewDense(nw, ns, nil)
		F  = mat.NewDense(nw, ns, nil)
	)
	for i := 0; i < d; i++ {
		G.Set(i, i, 1)
		for j := 0; j < m; j++ {
			G.Set(i, d+j, ar.B.At(i, j))
		}
	}
	for i := 0; i < m+1 && m > 0; i++ {
		for j := 0; j < m; j++ {
			G.Set(d+i, d+j, ar.H.At(i, j))
		}
	}
	for i, w := range W {
		for j, s := range S {
			F.Set(i, j, floats.Dot(w, s))
		}
	}

	// G^T G c = θ G^T F c, solved as K c = μ c with K = (G^T G)^-1 G^T F, μ = 1/θ
	var (
		gtg  mat.Dense
		L    mat.Dense
		K    mat.Dense
		chol mat.Cholesky
		eig  mat.Eigen
		vecs mat.CDense
	)
	gtg.Mul(G.T(), G)
	L.Mul(G.T(), F)
	sym := mat.NewSymDense(ns, nil)
	for i := 0; i < ns; i++ {
		for j := i; j < ns; j++ {
			sym.SetSym(i, j, 0.5*(gtg.At(i, j)+gtg.At(j, i)))
		}
	}
	if ok := chol.Factorize(sym); !ok {
		return nil, errors.Wrapf(stokes_errors.ErrDeflation,
			"harmonic Ritz extraction: A*S is rank deficient (%d columns)", ns)
	}
	if err = chol.SolveTo(&K, &L); err != nil {
		if _, cond := err.(mat.Condition); !cond {
			return nil, errors.Wrap(stokes_errors.ErrDeflation, err.Error())
		}
		err = nil
	}
	if ok := eig.Factorize(&K, mat.EigenRight); !ok {
		return nil, errors.Wrapf(stokes_errors.ErrDeflation,
			"harmonic Ritz extraction: eigenvalue iteration failed (%d columns)", ns)
	}
	mu := eig.Values(nil)
	eig.VectorsTo(&vecs)

	order := make([]int, ns)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return cmplx.Abs(mu[order[a]]) > cmplx.Abs(mu[order[b]])
	})

	var (
		coef  [][]float64
		theta []complex128
		used  = make([]bool, ns)
		mumax = cmplx.Abs(mu[order[0]])
	)
	column := func(j int, imagPart bool) []float64 {
		c := make([]float64, ns)
		for i := range c {
			if imagPart {
				c[i] = imag(vecs.At(i, j))
			} else {
				c[i] = real(vecs.At(i, j))
			}
		}
		return c
	}
	for _, j := range order {
		if len(coef) >= rank {
			break
		}
		if used[j] {
			continue
		}
		used[j] = true
		amu := cmplx.Abs(mu[j])
		if amu == 0 || amu <= 1e-14*mumax {
			break
		}
		th := 1 / mu[j]
		if math.Abs(imag(mu[j])) <= 1e-12*amu {
			coef = append(coef, column(j, false))
			theta = append(theta, complex(real(th), 0))
			continue
		}
		for _, p := range order {
			if !used[p] && cmplx.Abs(mu[p]-cmplx.Conj(mu[j])) <= 1e-10*amu {
				used[p] = true
				break
			}
		}
		coef = append(coef, column(j, false))
		theta = append(theta, th)
		if len(coef) < rank {
			coef = append(coef, column(j, true))
			theta = append(theta, cmplx.Conj(th))
		}
	}
	if len(coef) == 0 {
		return EmptySubspace(n), nil
	}

	Z := make([][]float64, len(coef))
	for k, c := range coef {
		z := make([]float64, n)
		for i, s := range S {
			floats.AddScaled(z, c[i], s)
		}
		if nrm := floats.Norm(z, 2); nrm > 0 {
			floats.Scale(1/nrm, z)
		}
		Z[k] = z
	}
	sp = NewSubspace(A, Z)
	sp.RitzValues = theta
	DeflationRank.Set(float64(sp.Rank()))
	return
}
