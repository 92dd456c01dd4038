/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notargets/gostokes/InputParameters"
	"github.com/notargets/gostokes/model_problems/Stokes2D"
	"github.com/notargets/gostokes/utils"
)

// StokesCmd represents the stokes command
var StokesCmd = &cobra.Command{
	Use:   "stokes",
	Short: "Unsteady Stokes flow with a manufactured solution on the unit square",
	Long: `
Time steps the unsteady Stokes equations on a staggered grid and reports the
linear solver behaviour per step. With --refine the run is repeated on doubled
grids and the experimental order of convergence is printed.

gostokes stokes -I input.yaml -n 16 --deflation 6`,
	Run: func(cmd *cobra.Command, args []string) {
		var (
			err error
			ip  *InputParameters.InputParametersStokes
		)
		fmt.Println("stokes called")
		icFile, _ := cmd.Flags().GetString("inputConditionsFile")
		if ip, err = processInput(icFile, viper.GetViper()); err != nil {
			fmt.Printf("error: %s\n", err.Error())
			os.Exit(1)
		}
		ip.Print()
		ctx := context.Background()
		if timeout := viper.GetDuration("timeout"); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		csvFile, _ := cmd.Flags().GetString("csv")
		if err = RunStokes(ctx, ip, logger, true, csvFile); err != nil {
			fmt.Printf("error: %s\n", err.Error())
			os.Exit(1)
		}
	},
}

// flag name -> input parameter key
var stokesFlags = map[string]string{
	"n":          "GridPoints",
	"deflation":  "DeflationRank",
	"tol":        "Tolerance",
	"solver":     "LinearSolver",
	"refine":     "Refinements",
	"finalTime":  "FinalTime",
	"accept":     "AcceptNonConverged",
	"lagrange":   "LagrangeMultiplier",
	"iterations": "MaxIterations",
}

func init() {
	rootCmd.AddCommand(StokesCmd)
	d := InputParameters.Defaults()
	StokesCmd.Flags().StringP("inputConditionsFile", "I", "", "YAML file for input parameters like:\n\t- GridPoints\n\t- ScaleDT\n\t- DeflationRank")
	StokesCmd.Flags().IntP("n", "n", d.GridPoints, "cells per side of the unit square")
	StokesCmd.Flags().Int("deflation", d.DeflationRank, "number of Ritz vectors recycled between time steps")
	StokesCmd.Flags().Float64("tol", d.Tolerance, "relative residual tolerance of GMRES")
	StokesCmd.Flags().String("solver", d.LinearSolver, "linear solver, only \"krypy\" is available")
	StokesCmd.Flags().Int("refine", d.Refinements, "number of grid doublings for the convergence study")
	StokesCmd.Flags().Float64("finalTime", d.FinalTime, "FinalTime - the target end time for the sim")
	StokesCmd.Flags().Bool("accept", d.AcceptNonConverged, "continue past time steps where GMRES did not converge")
	StokesCmd.Flags().Bool("lagrange", d.LagrangeMultiplier, "pin the mean pressure with a Lagrange multiplier")
	StokesCmd.Flags().Int("iterations", d.MaxIterations, "GMRES iteration limit")
	StokesCmd.Flags().String("csv", "", "append the convergence study to this CSV file, read by tools/convOrder")
	StokesCmd.Flags().Duration("timeout", 0, "wall clock limit of the whole run, checked between time steps")
	for flag, key := range stokesFlags {
		if err := viper.BindPFlag(key, StokesCmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
	if err := viper.BindPFlag("timeout", StokesCmd.Flags().Lookup("timeout")); err != nil {
		panic(err)
	}
}

// processInput layers the parameters: defaults, then the input file, then
// whatever v has set explicitly (config file, GOSTOKES_* environment, flags).
func processInput(icFile string, v *viper.Viper) (ip *InputParameters.InputParametersStokes, err error) {
	ip = InputParameters.Defaults()
	if len(icFile) != 0 {
		var data []byte
		if data, err = os.ReadFile(icFile); err != nil {
			return nil, errors.Wrap(err, "reading input conditions")
		}
		if err = ip.Parse(data); err != nil {
			return nil, errors.Wrapf(err, "parsing %s", icFile)
		}
	}
	overlay(ip, v)
	if err = ip.Validate(); err != nil {
		return nil, err
	}
	return
}

func overlay(ip *InputParameters.InputParametersStokes, v *viper.Viper) {
	if v.IsSet("GridPoints") {
		ip.GridPoints = v.GetInt("GridPoints")
	}
	if v.IsSet("DeflationRank") {
		ip.DeflationRank = v.GetInt("DeflationRank")
	}
	if v.IsSet("Tolerance") {
		ip.Tolerance = v.GetFloat64("Tolerance")
	}
	if v.IsSet("LinearSolver") {
		ip.LinearSolver = v.GetString("LinearSolver")
	}
	if v.IsSet("Refinements") {
		ip.Refinements = v.GetInt("Refinements")
	}
	if v.IsSet("FinalTime") {
		ip.FinalTime = v.GetFloat64("FinalTime")
	}
	if v.IsSet("AcceptNonConverged") {
		ip.AcceptNonConverged = v.GetBool("AcceptNonConverged")
	}
	if v.IsSet("LagrangeMultiplier") {
		ip.LagrangeMultiplier = v.GetBool("LagrangeMultiplier")
	}
	if v.IsSet("MaxIterations") {
		ip.MaxIterations = v.GetInt("MaxIterations")
	}
}

// RunStokes runs a single time stepping run, or the convergence study when
// Refinements is positive. A non-empty csvFile receives the study.
func RunStokes(ctx context.Context, ip *InputParameters.InputParametersStokes, logger utils.Logger,
	verbose bool, csvFile string) (err error) {
	if ip.Refinements > 0 {
		var rs *Stokes2D.RefinementStudy
		if rs, err = Stokes2D.RunRefinementStudy(ctx, ip, logger, verbose); err != nil {
			return
		}
		if verbose {
			rs.Print()
		}
		if len(csvFile) != 0 {
			err = appendCSV(csvFile, rs)
		}
		return
	}
	var (
		s     *Stokes2D.Stepper
		m     *Stokes2D.MAC
		sol   *Stokes2D.Solution
		start = time.Now()
	)
	if s, m, err = Stokes2D.NewStepper(ip, ip.GridPoints, logger); err != nil {
		return
	}
	s.Verbose = verbose
	if verbose {
		fmt.Println(m)
	}
	sol, err = s.Run(ctx)
	if verbose && sol != nil {
		sol.PrintFinal(ip.LagrangeMultiplier)
		fmt.Printf("max(u_err_norms): %e\nmax(p_err_norms): %e\n", sol.MaxVelocityError, sol.MaxPressureError)
		fmt.Printf("elapsed %v\n", time.Since(start))
	}
	return
}

func appendCSV(csvFile string, rs *Stokes2D.RefinementStudy) (err error) {
	var (
		f  *os.File
		fi os.FileInfo
	)
	if f, err = os.OpenFile(csvFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err != nil {
		return
	}
	defer f.Close()
	if fi, err = f.Stat(); err != nil {
		return
	}
	return rs.WriteCSV(f, fi.Size() == 0)
}
