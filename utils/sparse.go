package utils

import (
	"fmt"
	"math"
	"sort"

	"github.com/james-bowman/sparse"
	"github.com/james-bowman/sparse/blas"
	"gonum.org/v1/gonum/mat"
)

// DOK is the assembly-side sparse format: random access accumulation, converted
// to CSR once assembly is complete.
type DOK struct {
	M        *sparse.DOK
	readOnly bool
	name     string
}

func NewDOK(nr, nc int) (R DOK) {
	R = DOK{
		sparse.NewDOK(nr, nc),
		false,
		"unnamed - hint: pass a variable name to SetReadOnly()",
	}
	return
}

// Dims, At and T minimally satisfy the mat.Matrix interface.
func (m DOK) Dims() (r, c int)    { return m.M.Dims() }
func (m DOK) At(i, j int) float64 { return m.M.At(i, j) }
func (m DOK) T() mat.Matrix       { return m.M.T() }

func (m DOK) Set(i, j int, val float64) {
	m.checkWritable()
	m.M.Set(i, j, val)
}

// Add accumulates val into entry (i,j), the usual finite element / finite volume
// assembly operation.
func (m DOK) Add(i, j int, val float64) {
	m.checkWritable()
	if val == 0 {
		return
	}
	m.M.Set(i, j, m.M.At(i, j)+val)
}

func (m DOK) SetReadOnly(name ...string) DOK {
	if len(name) != 0 {
		m.name = name[0]
	}
	m.readOnly = true
	return m
}

func (m DOK) checkWritable() {
	if m.readOnly {
		err := fmt.Errorf("attempt to write to a read only matrix named: \"%v\"", m.name)
		panic(err)
	}
}

// ToCSR compresses the matrix. Column indices are sorted within every row so
// that row sums are evaluated in a fixed order, which keeps repeated solves on
// identical input bit-for-bit reproducible.
func (m DOK) ToCSR() CSR {
	return newSortedCSR(m.M.ToCSR())
}

// CSR is the solve-side format. Every constructor leaves the column indices of
// each row sorted.
type CSR struct {
	M *sparse.CSR
}

func newSortedCSR(M *sparse.CSR) CSR {
	sortRows(M.RawMatrix())
	return CSR{M}
}

// NewCSR wraps already compressed storage. indptr has nr+1 entries.
func NewCSR(nr, nc int, indptr, ind []int, data []float64) (R CSR) {
	if len(indptr) != nr+1 {
		panic(fmt.Errorf("row pointer length %d does not match %d rows", len(indptr), nr))
	}
	if len(ind) != len(data) {
		panic(fmt.Errorf("index length %d does not match data length %d", len(ind), len(data)))
	}
	return newSortedCSR(sparse.NewCSR(nr, nc, indptr, ind, data))
}

// NewDiagonalCSR returns diag(d).
func NewDiagonalCSR(d []float64) CSR {
	var (
		n      = len(d)
		indptr = make([]int, n+1)
		ind    = make([]int, n)
		data   = make([]float64, n)
	)
	for i := 0; i < n; i++ {
		indptr[i+1] = i + 1
		ind[i] = i
		data[i] = d[i]
	}
	return NewCSR(n, n, indptr, ind, data)
}

// Dims, At and T minimally satisfy the mat.Matrix interface.
func (m CSR) Dims() (r, c int)              { return m.M.Dims() }
func (m CSR) At(i, j int) float64           { return m.M.At(i, j) }
func (m CSR) T() mat.Matrix                 { return m.M.T() }
func (m CSR) RawMatrix() *blas.SparseMatrix { return m.M.RawMatrix() }
func (m CSR) NNZ() int                      { return m.M.NNZ() }
func (m CSR) Data() []float64 {
	return m.RawMatrix().Data
}

// DoRow calls fn for every stored entry of row i in column order.
func (m CSR) DoRow(i int, fn func(j int, v float64)) {
	m.M.DoRowNonZero(i, func(_, j int, v float64) { fn(j, v) })
}

// MulVec computes dst = M*x, overwriting dst.
func (m CSR) MulVec(dst, x []float64) {
	nr, nc := m.Dims()
	if nc != len(x) || nr != len(dst) {
		panic(fmt.Errorf("dimension mismatch: matrix is %dx%d, len(x) = %d, len(dst) = %d",
			nr, nc, len(x), len(dst)))
	}
	for i := range dst {
		dst[i] = 0
	}
	m.M.MulVecTo(dst, false, x)
}

// Diagonal returns a copy of the main diagonal.
func (m CSR) Diagonal() (d []float64) {
	n, _ := m.Dims()
	d = make([]float64, n)
	m.M.DoNonZero(func(i, j int, v float64) {
		if i == j {
			d[i] += v
		}
	})
	return
}

// Transpose returns Mᵀ in CSR form.
func (m CSR) Transpose() CSR {
	return newSortedCSR(m.M.T().(*sparse.CSC).ToCSR())
}

// Mul returns the sparse product M*B.
func (m CSR) Mul(B CSR) CSR {
	var (
		nr, nk = m.Dims()
		bk, nc = B.Dims()
	)
	if nk != bk {
		panic(fmt.Errorf("dimension mismatch: %dx%d times %dx%d", nr, nk, bk, nc))
	}
	C := sparse.NewCSR(nr, nc, nil, nil, nil)
	C.Mul(m.M, B.M)
	return newSortedCSR(C)
}

// ScaleRows returns diag(d)*M.
func (m CSR) ScaleRows(d []float64) CSR {
	nr, nc := m.Dims()
	if len(d) != nr {
		panic(fmt.Errorf("dimension mismatch: %d row scales for %d rows", len(d), nr))
	}
	C := sparse.NewCSR(nr, nc, nil, nil, nil)
	C.Mul(sparse.NewDIA(nr, nr, d), m.M)
	return newSortedCSR(C)
}

// AddScaled returns M + alpha*B for matrices of equal shape.
func (m CSR) AddScaled(alpha float64, B CSR) CSR {
	var (
		nr, nc = m.Dims()
		br, bc = B.Dims()
		C      = sparse.NewCSR(nr, nc, nil, nil, nil)
	)
	if nr != br || nc != bc {
		panic(fmt.Errorf("dimension mismatch: %dx%d plus %dx%d", nr, nc, br, bc))
	}
	switch alpha {
	case 1:
		C.Add(m.M, B.M)
	case -1:
		C.Sub(m.M, B.M)
	default:
		C.Add(m.M, B.ScaleRows(NewVecConst(br, alpha)).M)
	}
	return newSortedCSR(C)
}

// Extract returns the submatrix M[rows, cols]. The relative order of rows and
// columns is that of the index slices.
func (m CSR) Extract(rows, cols []int) CSR {
	var (
		raw    = m.RawMatrix()
		colMap = make([]int, raw.J)
		indptr = make([]int, len(rows)+1)
		ind    []int
		data   []float64
	)
	for j := range colMap {
		colMap[j] = -1
	}
	for jj, j := range cols {
		colMap[j] = jj
	}
	for ii, i := range rows {
		start := len(ind)
		for k := raw.Indptr[i]; k < raw.Indptr[i+1]; k++ {
			if jj := colMap[raw.Ind[k]]; jj >= 0 {
				ind = append(ind, jj)
				data = append(data, raw.Data[k])
			}
		}
		// Column sets need not be increasing, so re-sort the local indices
		sortRow(ind[start:], data[start:])
		indptr[ii+1] = len(ind)
	}
	return NewCSR(len(rows), len(cols), indptr, ind, data)
}

// IsFinite reports whether every stored entry is finite.
func (m CSR) IsFinite() bool {
	for _, v := range m.Data() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// IsSymmetric checks |a_ij - a_ji| <= tol*max|a| over the stored pattern.
func (m CSR) IsSymmetric(tol float64) bool {
	var (
		nr, nc = m.Dims()
		amax   float64
	)
	if nr != nc {
		return false
	}
	for _, v := range m.Data() {
		amax = math.Max(amax, math.Abs(v))
	}
	mt := m.Transpose()
	diff := m.AddScaled(-1, mt)
	for _, v := range diff.Data() {
		if math.Abs(v) > tol*amax {
			return false
		}
	}
	return true
}

func (m CSR) ToDense() *mat.Dense {
	nr, nc := m.Dims()
	D := mat.NewDense(nr, nc, nil)
	for i := 0; i < nr; i++ {
		m.DoRow(i, func(j int, v float64) {
			D.Set(i, j, v)
		})
	}
	return D
}

func sortRows(raw *blas.SparseMatrix) {
	for i := 0; i < raw.I; i++ {
		lo, hi := raw.Indptr[i], raw.Indptr[i+1]
		sortRow(raw.Ind[lo:hi], raw.Data[lo:hi])
	}
}

type rowSorter struct {
	ind  []int
	data []float64
}

func (r rowSorter) Len() int           { return len(r.ind) }
func (r rowSorter) Less(i, j int) bool { return r.ind[i] < r.ind[j] }
func (r rowSorter) Swap(i, j int) {
	r.ind[i], r.ind[j] = r.ind[j], r.ind[i]
	r.data[i], r.data[j] = r.data[j], r.data[i]
}

func sortRow(ind []int, data []float64) {
	if !sort.IsSorted(rowSorter{ind, data}) {
		sort.Sort(rowSorter{ind, data})
	}
}
