package Stokes2D

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/notargets/gostokes/precon"
	"github.com/notargets/gostokes/stokes_errors"
	"github.com/notargets/gostokes/system"
	"github.com/notargets/gostokes/utils"
)

// Assembler supplies the discrete saddle-point problem of one time step.
type Assembler interface {
	Partition() system.Partition
	// System assembles the implicit Euler step to time t from the previous
	// velocity uOld.
	System(t float64, uOld []float64) (*system.SparseSystem, error)
	// PreconditionerForms changes only when the mesh or dt change.
	PreconditionerForms() precon.Forms
	Hmin() float64
	Hmax() float64
	DT() float64
	// Split separates a solution vector into velocity, pressure and the
	// Lagrange multiplier (zero when there is none).
	Split(x []float64) (u, p []float64, lambda float64)
}

/*
MAC is a staggered grid discretisation of the unsteady Stokes equations on the
unit square with N×N cells of width h and Dirichlet velocity on the boundary.

	u (x-velocity) lives on interior vertical faces    (i*h, (j+½)*h), i = 1..N-1, j = 0..N-1
	v (y-velocity) lives on interior horizontal faces  ((i+½)*h, j*h), i = 0..N-1, j = 1..N-1
	p lives on cell centres                            ((i+½)*h, (j+½)*h)

Integrated over a control volume and stepped with implicit Euler the system is

	[ h²I + dt·L   -dt·Dᵀ   0      ] [ u ]   [ h²·u_old + dt·h²·f ]
	[ -dt·D         0       dt·h²  ] [ p ] = [ boundary fluxes    ]
	[ 0             dt·h²ᵀ  0      ] [ λ ]   [ dt·h²·Σ p_exact    ]

with L the 5-point stencil (tangential boundary values through ghost faces)
and D the face-to-cell divergence scaled by h. The last row and column exist
only with the Lagrange multiplier, which pins the mean pressure.
*/
type MAC struct {
	N        int
	Lagrange bool
	Forcing  *VectorField
	Boundary *VectorField // Dirichlet velocity
	Pressure *ScalarField // mean pressure target of the Lagrange row, may be nil
	h, dt    float64
	nU, nV   int
	nP       int
	blocks   system.Partition
	A        utils.CSR
	forms    precon.Forms
}

func NewMAC(n int, scaleDT float64, lagrange bool, forcing, boundary *VectorField, pressure *ScalarField) (m *MAC, err error) {
	if n < 2 {
		return nil, errors.Errorf("MAC grid needs at least 2 cells per side, have %d", n)
	}
	if scaleDT <= 0 {
		return nil, errors.Errorf("time step scale must be positive, have %g", scaleDT)
	}
	if forcing == nil {
		forcing = ZeroField()
	}
	if boundary == nil {
		boundary = ZeroField()
	}
	m = &MAC{
		N:        n,
		Lagrange: lagrange,
		Forcing:  forcing,
		Boundary: boundary,
		Pressure: pressure,
		h:        1 / float64(n),
		nU:       (n - 1) * n,
		nV:       n * (n - 1),
		nP:       n * n,
	}
	m.dt = scaleDT * m.Hmax()
	names := []string{system.Velocity, system.Pressure}
	sizes := []int{m.nU + m.nV, m.nP}
	if lagrange {
		names = append(names, system.Lagrange)
		sizes = append(sizes, 1)
	}
	if m.blocks, err = system.ContiguousPartition(names, sizes); err != nil {
		return nil, err
	}
	m.assemble()
	return
}

func (m *MAC) uIdx(i, j int) int { return (i - 1) + (m.N-1)*j }
func (m *MAC) vIdx(i, j int) int { return m.nU + i + m.N*(j-1) }
func (m *MAC) pIdx(i, j int) int { return m.nU + m.nV + i + m.N*j }
func (m *MAC) lIdx() int         { return m.nU + m.nV + m.nP }

func (m *MAC) Dim() int { return m.blocks.N }

func (m *MAC) Partition() system.Partition { return m.blocks }

func (m *MAC) Hmin() float64 { return m.h }

func (m *MAC) Hmax() float64 { return m.h }

func (m *MAC) DT() float64 { return m.dt }

func (m *MAC) PreconditionerForms() precon.Forms { return m.forms }

func (m *MAC) String() string {
	return fmt.Sprintf("MAC %dx%d, h = %g, dt = %g, unknowns = %v", m.N, m.N, m.h, m.dt, m.blocks)
}

// assemble builds the time independent system matrix and preconditioner forms.
func (m *MAC) assemble() {
	var (
		n, h, dt = m.N, m.h, m.dt
		dim      = m.Dim()
		A        = utils.NewDOK(dim, dim)
		MS       = utils.NewDOK(dim, dim)
		NQ       = utils.NewDOK(dim, dim)
		h2       = h * h
	)
	// velocity row r with in-grid neighbours nbrs and ghostCount tangential
	// boundary faces
	velocityRow := func(r int, nbrs []int, ghostCount int) {
		diag := h2 + dt*float64(4+ghostCount)
		A.Set(r, r, diag)
		MS.Set(r, r, diag)
		for _, c := range nbrs {
			A.Set(r, c, -dt)
			MS.Set(r, c, -dt)
		}
	}
	coupling := func(r, c int, val float64) {
		A.Set(r, c, val)
		A.Set(c, r, val)
	}
	for j := 0; j < n; j++ {
		for i := 1; i < n; i++ {
			var (
				r     = m.uIdx(i, j)
				nbrs  []int
				ghost int
			)
			for _, ii := range []int{i - 1, i + 1} {
				if ii >= 1 && ii <= n-1 {
					nbrs = append(nbrs, m.uIdx(ii, j))
				}
			}
			for _, jj := range []int{j - 1, j + 1} {
				if jj >= 0 && jj <= n-1 {
					nbrs = append(nbrs, m.uIdx(i, jj))
				} else {
					ghost++
				}
			}
			velocityRow(r, nbrs, ghost)
			coupling(r, m.pIdx(i-1, j), -dt*h)
			coupling(r, m.pIdx(i, j), dt*h)
		}
	}
	for j := 1; j < n; j++ {
		for i := 0; i < n; i++ {
			var (
				r     = m.vIdx(i, j)
				nbrs  []int
				ghost int
			)
			for _, jj := range []int{j - 1, j + 1} {
				if jj >= 1 && jj <= n-1 {
					nbrs = append(nbrs, m.vIdx(i, jj))
				}
			}
			for _, ii := range []int{i - 1, i + 1} {
				if ii >= 0 && ii <= n-1 {
					nbrs = append(nbrs, m.vIdx(ii, j))
				} else {
					ghost++
				}
			}
			velocityRow(r, nbrs, ghost)
			coupling(r, m.pIdx(i, j-1), -dt*h)
			coupling(r, m.pIdx(i, j), dt*h)
		}
	}
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			var (
				r     = m.pIdx(i, j)
				count int
			)
			for _, d := range [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				ii, jj := i+d[0], j+d[1]
				if ii < 0 || jj < 0 || ii >= n || jj >= n {
					continue
				}
				NQ.Set(r, m.pIdx(ii, jj), -1)
				count++
			}
			NQ.Set(r, r, float64(count))
			MS.Set(r, r, h2)
			if m.Lagrange {
				coupling(r, m.lIdx(), dt*h2)
			}
		}
	}
	if m.Lagrange {
		MS.Set(m.lIdx(), m.lIdx(), 1)
	}
	m.A = A.ToCSR()
	m.forms = precon.Forms{
		MassStiffness:     MS.ToCSR(),
		PressureStiffness: NQ.ToCSR(),
	}
}

// System assembles the step to time t. The expressions must already be
// advanced to t.
func (m *MAC) System(t float64, uOld []float64) (sys *system.SparseSystem, err error) {
	var (
		n, h, dt = m.N, m.h, m.dt
		h2       = h * h
		rhs      = make([]float64, m.Dim())
		g        = m.Boundary
	)
	if len(uOld) != m.nU+m.nV {
		return nil, errors.Wrapf(stokes_errors.ErrPartition, "previous velocity has length %d, want %d",
			len(uOld), m.nU+m.nV)
	}
	for j := 0; j < n; j++ {
		y := (float64(j) + 0.5) * h
		for i := 1; i < n; i++ {
			var (
				x     = float64(i) * h
				r     = m.uIdx(i, j)
				fx, _ = m.Forcing.At(x, y)
			)
			rhs[r] = h2*uOld[r] + dt*h2*fx
			if i == 1 {
				gx, _ := g.At(0, y)
				rhs[r] += dt * gx
			}
			if i == n-1 {
				gx, _ := g.At(1, y)
				rhs[r] += dt * gx
			}
			if j == 0 {
				gx, _ := g.At(x, 0)
				rhs[r] += 2 * dt * gx
			}
			if j == n-1 {
				gx, _ := g.At(x, 1)
				rhs[r] += 2 * dt * gx
			}
		}
	}
	for j := 1; j < n; j++ {
		y := float64(j) * h
		for i := 0; i < n; i++ {
			var (
				x     = (float64(i) + 0.5) * h
				r     = m.vIdx(i, j)
				_, fy = m.Forcing.At(x, y)
			)
			rhs[r] = h2*uOld[r] + dt*h2*fy
			if j == 1 {
				_, gy := g.At(x, 0)
				rhs[r] += dt * gy
			}
			if j == n-1 {
				_, gy := g.At(x, 1)
				rhs[r] += dt * gy
			}
			if i == 0 {
				_, gy := g.At(0, y)
				rhs[r] += 2 * dt * gy
			}
			if i == n-1 {
				_, gy := g.At(1, y)
				rhs[r] += 2 * dt * gy
			}
		}
	}
	var pSum float64
	for j := 0; j < n; j++ {
		yc := (float64(j) + 0.5) * h
		for i := 0; i < n; i++ {
			xc := (float64(i) + 0.5) * h
			r := m.pIdx(i, j)
			if i == 0 {
				gx, _ := g.At(0, yc)
				rhs[r] -= dt * h * gx
			}
			if i == n-1 {
				gx, _ := g.At(1, yc)
				rhs[r] += dt * h * gx
			}
			if j == 0 {
				_, gy := g.At(xc, 0)
				rhs[r] -= dt * h * gy
			}
			if j == n-1 {
				_, gy := g.At(xc, 1)
				rhs[r] += dt * h * gy
			}
			if m.Pressure != nil {
				pSum += m.Pressure.At(xc, yc)
			}
		}
	}
	if m.Lagrange {
		rhs[m.lIdx()] = dt * h2 * pSum
	}
	return system.NewSparseSystem(m.A, rhs, m.blocks)
}

func (m *MAC) Split(x []float64) (u, p []float64, lambda float64) {
	u = m.blocks.SubVector(system.Velocity, x)
	p = m.blocks.SubVector(system.Pressure, x)
	if m.Lagrange {
		lambda = x[m.lIdx()]
	}
	return
}

// InterpolateVelocity samples f at the velocity faces.
func (m *MAC) InterpolateVelocity(f *VectorField) (u []float64) {
	var (
		n, h = m.N, m.h
	)
	u = make([]float64, m.nU+m.nV)
	for j := 0; j < n; j++ {
		for i := 1; i < n; i++ {
			u[m.uIdx(i, j)], _ = f.At(float64(i)*h, (float64(j)+0.5)*h)
		}
	}
	for j := 1; j < n; j++ {
		for i := 0; i < n; i++ {
			_, u[m.vIdx(i, j)] = f.At((float64(i)+0.5)*h, float64(j)*h)
		}
	}
	return
}

// InterpolatePressure samples f at the cell centres.
func (m *MAC) InterpolatePressure(f *ScalarField) (p []float64) {
	var (
		n, h = m.N, m.h
	)
	p = make([]float64, m.nP)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			p[i+n*j] = f.At((float64(i)+0.5)*h, (float64(j)+0.5)*h)
		}
	}
	return
}

// ErrorNorms returns the discrete L2 errors of the solution x against the
// exact fields at their current time. Without a Lagrange multiplier the
// pressure is only defined up to a constant and the mean difference is removed.
func (m *MAC) ErrorNorms(x []float64, uEx *VectorField, pEx *ScalarField) (eu, ep float64) {
	var (
		u, p, _ = m.Split(x)
		ue      = m.InterpolateVelocity(uEx)
		pe      = m.InterpolatePressure(pEx)
		shift   float64
	)
	for i := range u {
		eu += (u[i] - ue[i]) * (u[i] - ue[i])
	}
	if !m.Lagrange {
		for i := range p {
			shift += p[i] - pe[i]
		}
		shift /= float64(len(p))
	}
	for i := range p {
		d := p[i] - pe[i] - shift
		ep += d * d
	}
	return math.Sqrt(eu) * m.h, math.Sqrt(ep) * m.h
}
