// Package system holds an assembled linear system together with the partition
// of its unknowns into named physical blocks.
package system

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/notargets/gostokes/stokes_errors"
	"github.com/notargets/gostokes/utils"
)

// Block names used by the saddle-point solvers.
const (
	Velocity = "velocity"
	Pressure = "pressure"
	Lagrange = "lagrange"
)

// Partition maps block names to ordered, pairwise disjoint index sets whose
// union is [0, N).
type Partition struct {
	N       int
	names   []string
	indices map[string][]int
	owner   []int // owner[i] is the position in names of the block holding i
}

// NewPartition validates and freezes a block partition. names fixes the block
// order; every name must have an entry in indices.
func NewPartition(n int, names []string, indices map[string][]int) (p Partition, err error) {
	var (
		owner = make([]int, n)
	)
	for i := range owner {
		owner[i] = -1
	}
	if len(names) != len(indices) {
		err = errors.Wrapf(stokes_errors.ErrPartition,
			"%d block names for %d index sets", len(names), len(indices))
		return
	}
	p = Partition{
		N:       n,
		names:   append([]string{}, names...),
		indices: make(map[string][]int, len(names)),
		owner:   owner,
	}
	for b, name := range names {
		idx, ok := indices[name]
		if !ok {
			err = errors.Wrapf(stokes_errors.ErrPartition, "block %q has no index set", name)
			return
		}
		if _, dup := p.indices[name]; dup {
			err = errors.Wrapf(stokes_errors.ErrPartition, "block %q named twice", name)
			return
		}
		for _, i := range idx {
			if i < 0 || i >= n {
				err = errors.Wrapf(stokes_errors.ErrPartition,
					"block %q index %d outside [0,%d)", name, i, n)
				return
			}
			if owner[i] != -1 {
				err = errors.Wrapf(stokes_errors.ErrPartition,
					"index %d in both %q and %q", i, names[owner[i]], name)
				return
			}
			owner[i] = b
		}
		p.indices[name] = append([]int{}, idx...)
	}
	for i, b := range owner {
		if b == -1 {
			err = errors.Wrapf(stokes_errors.ErrPartition, "index %d belongs to no block", i)
			return
		}
	}
	return
}

// ContiguousPartition lays the blocks out one after the other with the given
// sizes, the layout produced by most assemblers.
func ContiguousPartition(names []string, sizes []int) (Partition, error) {
	var (
		indices = make(map[string][]int, len(names))
		n       int
	)
	if len(names) != len(sizes) {
		return Partition{}, errors.Wrapf(stokes_errors.ErrPartition,
			"%d block names for %d sizes", len(names), len(sizes))
	}
	for b, name := range names {
		indices[name] = utils.NewIntRange(n, n+sizes[b])
		n += sizes[b]
	}
	return NewPartition(n, names, indices)
}

func (p Partition) Names() []string { return append([]string{}, p.names...) }

func (p Partition) Has(name string) bool {
	_, ok := p.indices[name]
	return ok
}

// Indices returns the index set of a block. The slice must not be modified.
func (p Partition) Indices(name string) []int {
	idx, ok := p.indices[name]
	if !ok {
		panic(fmt.Errorf("unknown block %q, have %v", name, p.names))
	}
	return idx
}

func (p Partition) Size(name string) int { return len(p.Indices(name)) }

// BlockOf returns the name of the block that owns unknown i.
func (p Partition) BlockOf(i int) string { return p.names[p.owner[i]] }

func (p Partition) String() (s string) {
	s = fmt.Sprintf("Partition[N=%d]", p.N)
	keys := p.Names()
	sort.Strings(keys)
	for _, k := range keys {
		s += fmt.Sprintf(" %s:%d", k, len(p.indices[k]))
	}
	return
}

// SparseSystem is an immutable snapshot of A x = b plus its block partition.
type SparseSystem struct {
	A      utils.CSR
	RHS    []float64
	Blocks Partition
}

func NewSparseSystem(A utils.CSR, rhs []float64, blocks Partition) (s *SparseSystem, err error) {
	nr, nc := A.Dims()
	switch {
	case nr != nc:
		err = errors.Wrapf(stokes_errors.ErrPartition, "matrix is %dx%d, not square", nr, nc)
		return
	case nr != len(rhs):
		err = errors.Wrapf(stokes_errors.ErrPartition,
			"matrix dimension %d does not match rhs length %d", nr, len(rhs))
		return
	case nr != blocks.N:
		err = errors.Wrapf(stokes_errors.ErrPartition,
			"matrix dimension %d does not match partition size %d", nr, blocks.N)
		return
	}
	s = &SparseSystem{
		A:      A,
		RHS:    append([]float64{}, rhs...),
		Blocks: blocks,
	}
	return
}

func (s *SparseSystem) Dim() int { return len(s.RHS) }

// SubMatrix returns A restricted to the rows and columns of block name.
func (s *SparseSystem) SubMatrix(name string) utils.CSR {
	idx := s.Blocks.Indices(name)
	return s.A.Extract(idx, idx)
}

// SubRHS returns b restricted to the rows of block name.
func (s *SparseSystem) SubRHS(name string) []float64 {
	return utils.Gather(s.RHS, s.Blocks.Indices(name))
}

// SubVector returns x restricted to block name.
func (p Partition) SubVector(name string, x []float64) []float64 {
	return utils.Gather(x, p.Indices(name))
}

// Scatter writes the block vector sub into dst at the block's indices.
func (p Partition) Scatter(name string, dst, sub []float64) {
	utils.Scatter(dst, p.Indices(name), sub)
}

// Split returns one sub-vector per block, keyed by name.
func (p Partition) Split(x []float64) (parts map[string][]float64) {
	parts = make(map[string][]float64, len(p.names))
	for _, name := range p.names {
		parts[name] = p.SubVector(name, x)
	}
	return
}
