package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/fftune/internal/logging"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "fftune",
	Short: "Force-field parameter calibration",
	Long: `fftune calibrates bonded force-field parameters against reference
energies of a molecule population. Bond dissociation energies can be seeded
by least squares before simulated annealing refines every selected parameter.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(logLevel, logFormat, os.Stderr)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format (json, text)")
}
