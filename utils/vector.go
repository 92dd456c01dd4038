package utils

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

func NewVecConst(N int, val float64) (v []float64) {
	v = make([]float64, N)
	for i := range v {
		v[i] = val
	}
	return
}

// NewVecRange returns [min, min+1, ..., max-1] as floats.
func NewVecRange(min, max int) (v []float64) {
	v = make([]float64, max-min)
	for i := range v {
		v[i] = float64(min + i)
	}
	return
}

// Residual computes dst = b - A*x.
func Residual(dst []float64, A CSR, x, b []float64) {
	A.MulVecParallel(dst, x)
	floats.AddScaledTo(dst, b, -1, dst)
}

// RelativeResidual returns |b - A*x| / |b|, with |b| = 0 treated as 1.
func RelativeResidual(A CSR, x, b []float64) float64 {
	var (
		r     = make([]float64, len(b))
		bnorm = floats.Norm(b, 2)
	)
	if bnorm == 0 {
		bnorm = 1
	}
	Residual(r, A, x, b)
	return floats.Norm(r, 2) / bnorm
}

// Gather returns v[idx].
func Gather(v []float64, idx []int) (sub []float64) {
	sub = make([]float64, len(idx))
	for i, k := range idx {
		sub[i] = v[k]
	}
	return
}

// Scatter writes sub into dst[idx].
func Scatter(dst []float64, idx []int, sub []float64) {
	for i, k := range idx {
		dst[k] = sub[i]
	}
}

func IsFiniteVec(v []float64) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// NewIntRange returns [min, min+1, ..., max-1].
func NewIntRange(min, max int) (I []int) {
	I = make([]int, max-min)
	for i := range I {
		I[i] = min + i
	}
	return
}
