package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/fftune/internal/calibrate"
	"github.com/cwbudde/fftune/internal/config"
	"github.com/cwbudde/fftune/internal/store"
)

var (
	resumeDataDir string
	resumeStore   string
	resumeNRun    int
	resumeConfig  string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Continue a calibration from its checkpoint",
	Long: `Restarts the optimizer from the checkpoint's best vector. Run numbers and
the random seed continue where the checkpoint stopped and the trace is appended.
The dataset and the selected kinds must match the checkpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Directory for checkpoints, traces and artifacts")
	resumeCmd.Flags().StringVar(&resumeStore, "store", "fs", "Checkpoint backend: fs or sqlite")
	resumeCmd.Flags().IntVar(&resumeNRun, "nrun", 0, "Additional runs (0 = as recorded)")
	resumeCmd.Flags().StringVar(&resumeConfig, "config", "", "YAML config for the settings a checkpoint does not record")
	resumeCmd.Flags().StringVar(&outPath, "out", "", "Also write the calibrated force field JSON to this path")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	st, err := store.NewStore(resumeStore, resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	cp, err := st.LoadCheckpoint(jobID)
	store.CloseIfSupported(st)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if resumeConfig != "" {
		if cfg, err = config.LoadConfig(resumeConfig); err != nil {
			return err
		}
	}
	cfg.ApplyRunConfig(cp.Config)
	cfg.DataDir = resumeDataDir
	cfg.Store = resumeStore
	if resumeNRun > 0 {
		cfg.Search.NRun = resumeNRun
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Printf("Resuming %s after run %d (best cost %.6g)\n", jobID, cp.Run, cp.BestCost)
	return execute(cfg, calibrate.Request{Config: cfg, JobID: jobID, Resume: cp})
}
