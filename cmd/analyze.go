package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/fftune/internal/estimate"
	"github.com/cwbudde/fftune/internal/forcefield"
	"github.com/cwbudde/fftune/internal/params"
)

var analyzeFlags configFlags

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Summarize the parameters a dataset exercises",
	Long: `Counts how often every force-field type occurs in the supported molecules
and lists the flat parameter layout. With --estimate the least-squares bond
dissociation energies are printed as well; nothing is optimized or stored.`,
	RunE: runAnalyze,
}

func init() {
	analyzeFlags.register(analyzeCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := analyzeFlags.load(cmd)
	if err != nil {
		return err
	}

	ff, pop, err := forcefield.LoadDataset(cfg.Dataset)
	if err != nil {
		return err
	}
	opts := cfg.RegistryOptions()
	mask, err := forcefield.Analyze(pop, ff, opts.Kinds())
	if err != nil {
		return err
	}
	if err := mask.WriteSummary(os.Stdout, len(pop), ff); err != nil {
		return err
	}

	reg, err := params.Build(ff, mask, opts)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d parameters to optimize\n", reg.Len())

	if !cfg.Estimate.Enabled {
		return nil
	}
	sol, err := estimate.Seed(reg, pop, estimate.Options{
		FitOffset: cfg.Estimate.FitOffset,
		Tolerance: cfg.Estimate.Tolerance,
		MaxIter:   cfg.Estimate.MaxIter,
	})
	if err != nil {
		return err
	}
	fmt.Println()
	return writeEstimate(os.Stdout, reg, sol)
}

// writeEstimate prints the seeded dissociation energy of every bond slot
func writeEstimate(w io.Writer, reg *params.Registry, sol *estimate.Solution) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BOND\tDISSOCIATION ENERGY")
	fmt.Fprintln(tw, "----\t-------------------")
	for _, s := range reg.Slots() {
		if s.Kind() != forcefield.Bond {
			continue
		}
		fmt.Fprintf(tw, "%s\t%.3f\n", reg.Label(s.Offset), reg.Orig[s.Offset])
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "chi2 %.6g  offset %.6g  iterations %d  converged %t\n",
		sol.Chi2, sol.Offset, sol.Iterations, sol.Converged)
	return err
}
