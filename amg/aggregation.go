package amg

import (
	"math"

	"github.com/notargets/gostokes/utils"
)

const (
	unassigned = -1
	isolated   = -2
)

// strength returns, for every row, the columns strongly connected to it under
// the symmetric criterion |a_ij| >= theta*sqrt(|a_ii*a_jj|). With theta = 0
// every stored non-zero off-diagonal entry is strong.
func strength(A utils.CSR, diag []float64, theta float64) (strong [][]int) {
	var (
		n, _ = A.Dims()
	)
	strong = make([][]int, n)
	for i := 0; i < n; i++ {
		A.DoRow(i, func(j int, v float64) {
			if i == j || v == 0 {
				return
			}
			if math.Abs(v) >= theta*math.Sqrt(math.Abs(diag[i]*diag[j])) {
				strong[i] = append(strong[i], j)
			}
		})
	}
	return
}

// aggregate performs standard three-pass aggregation on the strength graph.
// Pass one seeds an aggregate at every node whose neighbourhood is untouched,
// pass two attaches leftover nodes to a neighbouring pass-one aggregate, pass
// three groups whatever remains with its unassigned neighbours. Nodes without
// strong connections stay out of every aggregate (zero row in the prolongator)
// and are handled by the smoother alone. The sweep order is the natural row
// order, so the result is deterministic.
func aggregate(strong [][]int) (agg []int, nAgg int) {
	var (
		n      = len(strong)
		attach = make([]int, n)
	)
	agg = make([]int, n)
	for i := range agg {
		agg[i] = unassigned
		attach[i] = unassigned
	}
	// Pass 1
	for i := 0; i < n; i++ {
		if agg[i] != unassigned {
			continue
		}
		if len(strong[i]) == 0 {
			agg[i] = isolated
			continue
		}
		free := true
		for _, j := range strong[i] {
			if agg[j] != unassigned {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		agg[i] = nAgg
		for _, j := range strong[i] {
			agg[j] = nAgg
		}
		nAgg++
	}
	// Pass 2
	for i := 0; i < n; i++ {
		if agg[i] != unassigned {
			continue
		}
		for _, j := range strong[i] {
			if agg[j] >= 0 {
				attach[i] = agg[j]
				break
			}
		}
	}
	for i, a := range attach {
		if a != unassigned {
			agg[i] = a
		}
	}
	// Pass 3
	for i := 0; i < n; i++ {
		if agg[i] != unassigned {
			continue
		}
		agg[i] = nAgg
		for _, j := range strong[i] {
			if agg[j] == unassigned {
				agg[j] = nAgg
			}
		}
		nAgg++
	}
	return
}

// tentative builds the piecewise-constant prolongator fitting the near null
// space vector B exactly on every aggregate, and returns the coarse B.
func tentative(agg []int, nAgg int, B []float64) (T utils.CSR, Bc []float64) {
	var (
		n      = len(agg)
		indptr = make([]int, n+1)
		ind    []int
		data   []float64
	)
	Bc = make([]float64, nAgg)
	for i, a := range agg {
		if a >= 0 {
			Bc[a] += B[i] * B[i]
		}
	}
	for a := range Bc {
		Bc[a] = math.Sqrt(Bc[a])
	}
	for i, a := range agg {
		if a >= 0 && Bc[a] > 0 {
			ind = append(ind, a)
			data = append(data, B[i]/Bc[a])
		}
		indptr[i+1] = len(ind)
	}
	T = utils.NewCSR(n, nAgg, indptr, ind, data)
	return
}
