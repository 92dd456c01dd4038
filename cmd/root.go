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
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notargets/gostokes/amg"
	"github.com/notargets/gostokes/krylov"
	"github.com/notargets/gostokes/utils"
)

var (
	cfgFile string
	prof    interface{ Stop() }
	logger  utils.Logger = utils.NopLogger{}
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gostokes",
	Short: "Deflated, block preconditioned GMRES for unsteady Stokes problems",
	Long: `
Solves the saddle point systems of implicit Euler steps of the unsteady Stokes
equations with right preconditioned GMRES, recycling harmonic Ritz vectors
from one time step into the next.

gostokes stokes -I input.yaml`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		var (
			level slog.Level
		)
		if err = level.UnmarshalText([]byte(viper.GetString("logLevel"))); err != nil {
			return
		}
		logger = utils.NewDefaultLogger(level)
		if viper.GetBool("profile") {
			prof = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook)
		}
		if addr := viper.GetString("metricsAddr"); addr != "" {
			serveMetrics(addr)
		}
		return
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if prof != nil {
			prof.Stop()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gostokes.yaml)")
	rootCmd.PersistentFlags().Bool("profile", false, "write a CPU profile to the current directory")
	rootCmd.PersistentFlags().String("metricsAddr", "", "serve prometheus metrics on this address, e.g. :9090")
	rootCmd.PersistentFlags().String("logLevel", "warn", "log level: debug, info, warn or error")
	for _, name := range []string{"profile", "metricsAddr", "logLevel"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".gostokes" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".gostokes")
	}

	viper.SetEnvPrefix("GOSTOKES")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func serveMetrics(addr string) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(amg.Collectors()...)
	reg.MustRegister(krylov.Collectors()...)
	go func() {
		if err := http.ListenAndServe(addr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})); err != nil {
			logger.Error("metrics endpoint stopped", "addr", addr, "err", err)
		}
	}()
}
