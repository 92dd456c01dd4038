package Stokes2D

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/pkg/errors"

	"github.com/notargets/gostokes/InputParameters"
	"github.com/notargets/gostokes/krylov"
	"github.com/notargets/gostokes/utils"
)

// NewStepper sets up the manufactured solution problem of ip on an n×n grid.
func NewStepper(ip *InputParameters.InputParametersStokes, n int, logger utils.Logger) (s *Stepper, m *MAC, err error) {
	var (
		solver krylov.Solver
		ms     = Manufactured{Alpha: ip.Alpha, Beta: ip.Beta}
		uEx    = ms.ExactVelocity()
		pEx    = ms.ExactPressure()
		f      = ms.Forcing()
		pMean  *ScalarField
	)
	if err = ip.Validate(); err != nil {
		return
	}
	if solver, err = krylov.Lookup(ip.LinearSolver); err != nil {
		return
	}
	if ip.LagrangeMultiplier {
		pMean = pEx
	}
	if m, err = NewMAC(n, ip.ScaleDT, ip.LagrangeMultiplier, f, uEx, pMean); err != nil {
		return
	}
	opts := ip.AMGOptions()
	opts.Logger = logger
	s = &Stepper{
		Assembler: m,
		Solver:    solver,
		Settings: krylov.Settings{
			Tolerance:     ip.Tolerance,
			MaxIterations: ip.MaxIterations,
		},
		AMG:                opts,
		InitialTime:        ip.InitialTime,
		FinalTime:          ip.FinalTime,
		DeflationRank:      ip.DeflationRank,
		AcceptNonConverged: ip.AcceptNonConverged,
		Expressions:        []TimeDependent{f, uEx, pEx},
		InitialVelocity:    uEx,
		ExactVelocity:      uEx,
		ExactPressure:      pEx,
		Logger:             logger,
	}
	return
}

type RefinementLevel struct {
	N             int
	Hmax          float64
	Unknowns      int
	VelocityError float64 // maximum over all steps
	PressureError float64
	Iterations    int
}

// RefinementStudy holds the errors of the manufactured solution over a
// sequence of doubled grids and the experimental orders of convergence
// between consecutive grids.
type RefinementStudy struct {
	Title         string
	Levels        []RefinementLevel
	VelocityOrder []float64
	PressureOrder []float64
}

// RunRefinementStudy solves on GridPoints·2^r cells per side for
// r = 0..Refinements.
func RunRefinementStudy(ctx context.Context, ip *InputParameters.InputParametersStokes,
	logger utils.Logger, verbose bool) (rs *RefinementStudy, err error) {
	rs = &RefinementStudy{Title: ip.Title}
	for r := 0; r <= ip.Refinements; r++ {
		var (
			n   = ip.GridPoints << r
			s   *Stepper
			m   *MAC
			sol *Solution
		)
		if s, m, err = NewStepper(ip, n, logger); err != nil {
			return
		}
		s.Verbose = verbose
		if sol, err = s.Run(ctx); err != nil {
			return rs, errors.Wrapf(err, "refinement %d (%dx%d)", r, n, n)
		}
		rs.Levels = append(rs.Levels, RefinementLevel{
			N:             n,
			Hmax:          m.Hmax(),
			Unknowns:      m.Dim(),
			VelocityError: sol.MaxVelocityError,
			PressureError: sol.MaxPressureError,
			Iterations:    sol.Iterations(),
		})
		if verbose {
			fmt.Printf("max(u_err_norms): %e\n", sol.MaxVelocityError)
			fmt.Printf("max(p_err_norms): %e\n", sol.MaxPressureError)
		}
	}
	rs.computeOrders()
	return
}

func (rs *RefinementStudy) computeOrders() {
	rs.VelocityOrder, rs.PressureOrder = nil, nil
	for k := 1; k < len(rs.Levels); k++ {
		var (
			a, b = rs.Levels[k-1], rs.Levels[k]
			lh   = math.Log(b.Hmax / a.Hmax)
		)
		rs.VelocityOrder = append(rs.VelocityOrder, math.Log(b.VelocityError/a.VelocityError)/lh)
		rs.PressureOrder = append(rs.PressureOrder, math.Log(b.PressureError/a.PressureError)/lh)
	}
}

var csvHeader = []string{"Title", "N", "Hmax", "Unknowns", "VelocityError", "PressureError", "Iterations"}

// WriteCSV appends one record per level. header controls whether the column
// names are written first.
func (rs *RefinementStudy) WriteCSV(w io.Writer, header bool) error {
	cw := csv.NewWriter(w)
	if header {
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
	}
	g := func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
	for _, l := range rs.Levels {
		rec := []string{rs.Title, strconv.Itoa(l.N), g(l.Hmax), strconv.Itoa(l.Unknowns),
			g(l.VelocityError), g(l.PressureError), strconv.Itoa(l.Iterations)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadStudiesCSV reads records written by WriteCSV, grouping them by title in
// order of first appearance.
func ReadStudiesCSV(r io.Reader) (studies []*RefinementStudy, err error) {
	var (
		records [][]string
		byTitle = make(map[string]*RefinementStudy)
	)
	if records, err = csv.NewReader(r).ReadAll(); err != nil {
		return nil, errors.Wrap(err, "reading refinement study")
	}
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && rec[0] == csvHeader[0] {
			continue
		}
		if len(rec) != len(csvHeader) {
			return nil, errors.Errorf("record %d has %d fields, want %d", i, len(rec), len(csvHeader))
		}
		var (
			l  RefinementLevel
			rs *RefinementStudy
			ok bool
		)
		atoi := func(f string) (v int) {
			if err == nil {
				v, err = strconv.Atoi(f)
			}
			return
		}
		atof := func(f string) (v float64) {
			if err == nil {
				v, err = strconv.ParseFloat(f, 64)
			}
			return
		}
		l.N, l.Hmax, l.Unknowns = atoi(rec[1]), atof(rec[2]), atoi(rec[3])
		l.VelocityError, l.PressureError, l.Iterations = atof(rec[4]), atof(rec[5]), atoi(rec[6])
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		if rs, ok = byTitle[rec[0]]; !ok {
			rs = &RefinementStudy{Title: rec[0]}
			byTitle[rec[0]] = rs
			studies = append(studies, rs)
		}
		rs.Levels = append(rs.Levels, l)
	}
	for _, rs := range studies {
		rs.computeOrders()
	}
	return
}

func (rs *RefinementStudy) Print() {
	fmt.Printf("Title = %s\n", rs.Title)
	fmt.Printf("%6s%12s%10s%14s%14s%8s%8s%8s\n",
		"N", "hmax", "unknowns", "u error", "p error", "u EOC", "p EOC", "iter")
	for k, l := range rs.Levels {
		uo, po := "", ""
		if k > 0 {
			uo = fmt.Sprintf("%8.3f", rs.VelocityOrder[k-1])
			po = fmt.Sprintf("%8.3f", rs.PressureOrder[k-1])
		}
		fmt.Printf("%6d%12.4e%10d%14.4e%14.4e%8s%8s%8d\n",
			l.N, l.Hmax, l.Unknowns, l.VelocityError, l.PressureError, uo, po, l.Iterations)
	}
}
