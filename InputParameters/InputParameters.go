package InputParameters

import (
	"fmt"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"

	"github.com/notargets/gostokes/amg"
	"github.com/notargets/gostokes/krylov"
)

// Parameters of the algebraic multigrid block solves
type AMGParameters struct {
	MaxLevels int     `json:"MaxLevels"`
	MaxCoarse int     `json:"MaxCoarse"`
	Cycles    int     `json:"Cycles"`
	Tolerance float64 `json:"Tolerance"`
	Seed      int64   `json:"Seed"`
	Theta     float64 `json:"Theta"`
}

// Parameters obtained from the YAML input file
type InputParametersStokes struct {
	Title              string        `json:"Title"`
	GridPoints         int           `json:"GridPoints"`  // cells per side of the unit square
	Refinements        int           `json:"Refinements"` // additional grid doublings for the convergence study
	ScaleDT            float64       `json:"ScaleDT"`     // dt = ScaleDT * hmax
	InitialTime        float64       `json:"InitialTime"`
	FinalTime          float64       `json:"FinalTime"`
	LagrangeMultiplier bool          `json:"LagrangeMultiplier"`
	LinearSolver       string        `json:"LinearSolver"`
	Tolerance          float64       `json:"Tolerance"`
	MaxIterations      int           `json:"MaxIterations"`
	DeflationRank      int           `json:"DeflationRank"`
	Alpha              float64       `json:"Alpha"` // frequency of the manufactured velocity
	Beta               float64       `json:"Beta"`  // growth rate of the manufactured pressure
	AMG                AMGParameters `json:"AMG"`
	AcceptNonConverged bool          `json:"AcceptNonConverged"`
}

func Defaults() (ip *InputParametersStokes) {
	o := amg.DefaultOptions()
	s := krylov.DefaultSettings()
	ip = &InputParametersStokes{
		Title:              "Stokes 2D, manufactured solution",
		GridPoints:         8,
		ScaleDT:            0.2,
		FinalTime:          1,
		LagrangeMultiplier: true,
		LinearSolver:       krylov.SolverID,
		Tolerance:          s.Tolerance,
		MaxIterations:      s.MaxIterations,
		Alpha:              20,
		Beta:               5,
		AMG: AMGParameters{
			MaxLevels: o.MaxLevels,
			MaxCoarse: o.MaxCoarse,
			Cycles:    o.Cycles,
			Tolerance: o.Tolerance,
			Seed:      o.Seed,
			Theta:     o.Theta,
		},
	}
	return
}

// Parse overlays the YAML document onto the current values.
func (ip *InputParametersStokes) Parse(data []byte) error {
	return yaml.Unmarshal(data, ip)
}

// Validate fails fast on parameters that would abort the run later, including
// an unknown linear solver.
func (ip *InputParametersStokes) Validate() (err error) {
	switch {
	case ip.GridPoints < 2:
		return errors.Errorf("GridPoints must be at least 2, have %d", ip.GridPoints)
	case ip.Refinements < 0:
		return errors.Errorf("Refinements must be non-negative, have %d", ip.Refinements)
	case ip.ScaleDT <= 0:
		return errors.Errorf("ScaleDT must be positive, have %g", ip.ScaleDT)
	case ip.FinalTime <= ip.InitialTime:
		return errors.Errorf("FinalTime %g must exceed InitialTime %g", ip.FinalTime, ip.InitialTime)
	case ip.Tolerance < krylov.MinTolerance || ip.Tolerance >= 1:
		return errors.Errorf("Tolerance must be in [%g,1), have %g", krylov.MinTolerance, ip.Tolerance)
	case ip.MaxIterations <= 0:
		return errors.Errorf("MaxIterations must be positive, have %d", ip.MaxIterations)
	case ip.DeflationRank < 0:
		return errors.Errorf("DeflationRank must be non-negative, have %d", ip.DeflationRank)
	case ip.AMG.Cycles < 0 || ip.AMG.MaxLevels < 0 || ip.AMG.MaxCoarse < 0:
		return errors.Errorf("AMG parameters must be non-negative, have %+v", ip.AMG)
	}
	_, err = krylov.Lookup(ip.LinearSolver)
	return
}

func (ip *InputParametersStokes) AMGOptions() amg.Options {
	return amg.Options{
		MaxLevels: ip.AMG.MaxLevels,
		MaxCoarse: ip.AMG.MaxCoarse,
		Cycles:    ip.AMG.Cycles,
		Tolerance: ip.AMG.Tolerance,
		Seed:      ip.AMG.Seed,
		Theta:     ip.AMG.Theta,
	}
}

func (ip *InputParametersStokes) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", ip.Title)
	fmt.Printf("[%d]\t\t\t\t= Grid Points\n", ip.GridPoints)
	fmt.Printf("[%d]\t\t\t\t= Refinements\n", ip.Refinements)
	fmt.Printf("%8.5f\t\t= ScaleDT\n", ip.ScaleDT)
	fmt.Printf("%8.5f\t\t= InitialTime\n", ip.InitialTime)
	fmt.Printf("%8.5f\t\t= FinalTime\n", ip.FinalTime)
	fmt.Printf("[%v]\t\t\t= Lagrange Multiplier\n", ip.LagrangeMultiplier)
	fmt.Printf("[%s]\t\t\t= Linear Solver\n", ip.LinearSolver)
	fmt.Printf("%8.3e\t\t= Tolerance\n", ip.Tolerance)
	fmt.Printf("[%d]\t\t\t\t= Max Iterations\n", ip.MaxIterations)
	fmt.Printf("[%d]\t\t\t\t= Deflation Rank\n", ip.DeflationRank)
	fmt.Printf("%8.5f\t\t= Alpha\n", ip.Alpha)
	fmt.Printf("%8.5f\t\t= Beta\n", ip.Beta)
	fmt.Printf("AMG = %+v\n", ip.AMG)
	fmt.Printf("[%v]\t\t\t= Accept Non-converged Steps\n", ip.AcceptNonConverged)
}
