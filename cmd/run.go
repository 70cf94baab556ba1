package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cwbudde/fftune/internal/calibrate"
	"github.com/cwbudde/fftune/internal/config"
	"github.com/cwbudde/fftune/internal/store"
)

var (
	runFlags configFlags
	runJobID string
	outPath  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a calibration",
	Long: `Loads the dataset, optionally seeds the bond dissociation energies,
runs the optimizer nrun times and prints the parameter and molecule report.
The checkpoint, the trace and the artifacts are stored under the job ID.`,
	RunE: runCalibration,
}

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().StringVar(&runJobID, "job-id", "", "Job ID (default: generated)")
	runCmd.Flags().StringVar(&outPath, "out", "", "Also write the calibrated force field JSON to this path")
	rootCmd.AddCommand(runCmd)
}

func runCalibration(cmd *cobra.Command, args []string) error {
	cfg, err := runFlags.load(cmd)
	if err != nil {
		return err
	}
	return execute(cfg, calibrate.Request{Config: cfg, JobID: runJobID})
}

// execute opens the configured store, runs the session and prints the result
func execute(cfg *config.Config, req calibrate.Request) error {
	st, err := store.NewStore(cfg.Store, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.CloseIfSupported(st)
	req.Store = st

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := calibrate.Run(ctx, req)
	if err != nil {
		return err
	}

	fmt.Print(out.Report)
	fmt.Printf("\nJob %s: cost %.6g -> %.6g after %d run(s)\n",
		out.JobID, out.Checkpoint.InitialCost, out.Result.BestCost, out.Checkpoint.Run)
	if len(out.ZeroBounds) > 0 {
		fmt.Printf("Warning: %d parameter(s) have zero bounds and cannot move\n", len(out.ZeroBounds))
	}

	if outPath != "" {
		data, err := st.LoadArtifact(out.JobID, store.ArtifactForceField)
		if err != nil {
			return err
		}
		if err := os.WriteFile(outPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
		fmt.Printf("Wrote %s\n", outPath)
	}
	return nil
}
