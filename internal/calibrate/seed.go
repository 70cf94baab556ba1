package calibrate

import (
	"bytes"
	"log/slog"

	"github.com/cwbudde/fftune/internal/config"
	"github.com/cwbudde/fftune/internal/estimate"
	"github.com/cwbudde/fftune/internal/forcefield"
	"github.com/cwbudde/fftune/internal/params"
	"github.com/cwbudde/fftune/internal/store"
)

// seed replaces the bond dissociation energies with the least-squares
// estimate and optionally stores the design matrix as an artifact
func seed(cfg *config.Config, s store.Store, jobID string, reg *params.Registry, pop forcefield.Population) (*estimate.Solution, error) {
	d, err := estimate.BuildDesign(pop, reg)
	if err != nil {
		return nil, err
	}
	if cfg.Estimate.DesignCSV {
		var buf bytes.Buffer
		if err := d.WriteCSV(&buf); err != nil {
			return nil, err
		}
		if err := s.SaveArtifact(jobID, store.ArtifactDesign, buf.Bytes()); err != nil {
			return nil, err
		}
	}

	sol, err := estimate.Solve(d, estimate.Options{
		FitOffset: cfg.Estimate.FitOffset,
		Tolerance: cfg.Estimate.Tolerance,
		MaxIter:   cfg.Estimate.MaxIter,
	})
	if err != nil {
		return nil, err
	}
	if err := estimate.Apply(reg, d, sol); err != nil {
		return nil, err
	}

	slog.Info("Dissociation energies estimated",
		"bonds", len(sol.Coefficients),
		"molecules", len(d.Molecules),
		"chi2", sol.Chi2,
		"offset", sol.Offset,
		"converged", sol.Converged,
	)
	return sol, nil
}
