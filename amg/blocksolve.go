package amg

import (
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/notargets/gostokes/utils"
)

// BlockSolve is a fixed-cost approximate inverse of one diagonal sub-block: a
// few V-cycles of its multigrid hierarchy started from zero. Because the cycle
// count is fixed, Apply is a linear operator of its input.
type BlockSolve struct {
	h    *Hierarchy
	opts Options
}

// Build constructs the hierarchy for A. The returned BlockSolve never changes;
// the owner rebuilds it when A changes.
func Build(A utils.CSR, opts Options) (s *BlockSolve, err error) {
	var (
		h     *Hierarchy
		start = time.Now()
	)
	defaultOptions(&opts)
	if h, err = BuildHierarchy(A, opts); err != nil {
		BuildFailures.WithLabelValues(opts.Name).Inc()
		return
	}
	BuildDuration.WithLabelValues(opts.Name).Observe(time.Since(start).Seconds())
	HierarchyLevels.WithLabelValues(opts.Name).Set(float64(h.Levels()))
	s = &BlockSolve{h: h, opts: opts}
	return
}

func (s *BlockSolve) Hierarchy() *Hierarchy { return s.h }

func (s *BlockSolve) Dim() int { return s.h.Dim() }

func (s *BlockSolve) Name() string { return s.opts.Name }

// Apply stores into dst an approximation of A⁻¹x using at most Cycles V-cycles,
// stopping early once |x - A dst| <= Tolerance*|x|.
func (s *BlockSolve) Apply(dst, x []float64) {
	if len(dst) != s.Dim() || len(x) != s.Dim() {
		panic("amg: dimension mismatch in BlockSolve.Apply")
	}
	for i := range dst {
		dst[i] = 0
	}
	s.run(dst, x, s.opts.Cycles, s.opts.Tolerance, nil)
}

// Solve iterates V-cycles to convergence and returns the approximation with
// the relative residual after every cycle.
func (s *BlockSolve) Solve(b []float64, maxCycles int, tol float64) (x []float64, history []float64) {
	x = make([]float64, len(b))
	history = s.run(x, b, maxCycles, tol, make([]float64, 0, maxCycles))
	return
}

func (s *BlockSolve) run(x, b []float64, cycles int, tol float64, history []float64) []float64 {
	var (
		bnorm = floats.Norm(b, 2)
		r     = make([]float64, len(b))
		A     = s.h.levels[0].A
	)
	if bnorm == 0 {
		return history
	}
	for c := 0; c < cycles; c++ {
		s.h.cycle(0, x, b, &s.opts)
		utils.Residual(r, A, x, b)
		rel := floats.Norm(r, 2) / bnorm
		if history != nil {
			history = append(history, rel)
		}
		if rel <= tol {
			break
		}
	}
	return history
}
