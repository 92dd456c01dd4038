package Stokes2D

import (
	"math"
)

// TimeDependent is anything evaluated at the current simulation time. The
// time loop advances all of them together before assembling a step.
type TimeDependent interface {
	AdvanceTo(t float64)
}

type VectorField struct {
	t  float64
	fn func(t, x, y float64) (fx, fy float64)
}

func NewVectorField(fn func(t, x, y float64) (fx, fy float64)) *VectorField {
	return &VectorField{fn: fn}
}

func (f *VectorField) AdvanceTo(t float64) { f.t = t }

func (f *VectorField) Time() float64 { return f.t }

func (f *VectorField) At(x, y float64) (fx, fy float64) { return f.fn(f.t, x, y) }

type ScalarField struct {
	t  float64
	fn func(t, x, y float64) float64
}

func NewScalarField(fn func(t, x, y float64) float64) *ScalarField {
	return &ScalarField{fn: fn}
}

func (f *ScalarField) AdvanceTo(t float64) { f.t = t }

func (f *ScalarField) Time() float64 { return f.t }

func (f *ScalarField) At(x, y float64) float64 { return f.fn(f.t, x, y) }

func ZeroField() *VectorField {
	return NewVectorField(func(t, x, y float64) (float64, float64) { return 0, 0 })
}

/*
Manufactured solution of the unsteady Stokes equations on the unit square

	u = t [ sin(αxt) sin(αyt) ]     p = exp(βtx) + exp(βty)
	      [ cos(αxt) cos(αyt) ]

The velocity is divergence free for all t. The forcing is f = ∂u/∂t - Δu + ∇p.
*/
type Manufactured struct {
	Alpha, Beta float64
}

func (m Manufactured) ExactVelocity() *VectorField {
	a := m.Alpha
	return NewVectorField(func(t, x, y float64) (float64, float64) {
		return t * math.Sin(a*x*t) * math.Sin(a*y*t), t * math.Cos(a*x*t) * math.Cos(a*y*t)
	})
}

func (m Manufactured) ExactPressure() *ScalarField {
	b := m.Beta
	return NewScalarField(func(t, x, y float64) float64 {
		return math.Exp(b*t*x) + math.Exp(b*t*y)
	})
}

func (m Manufactured) Forcing() *VectorField {
	a, b := m.Alpha, m.Beta
	return NewVectorField(func(t, x, y float64) (fx, fy float64) {
		var (
			s0, c0 = math.Sincos(a * x * t)
			s1, c1 = math.Sincos(a * y * t)
			u0     = s0 * s1
			u1     = c0 * c1
			dtU0   = u0 + t*a*(x*c0*s1+y*s0*c1)
			dtU1   = u1 - t*a*(x*s0*c1+y*c0*s1)
			lapl   = -2 * a * a * t * t * t
		)
		fx = dtU0 - lapl*u0 + b*t*math.Exp(b*t*x)
		fy = dtU1 - lapl*u1 + b*t*math.Exp(b*t*y)
		return
	})
}
