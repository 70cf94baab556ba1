package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/fftune/internal/calibrate"
	"github.com/cwbudde/fftune/internal/fit"
	"github.com/cwbudde/fftune/internal/store"
)

// runJob executes a calibration job. Checkpoints, traces and artifacts go
// to st under the job's ID; progress is broadcast after every run.
func runJob(ctx context.Context, jm *JobManager, st store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if job.Done() {
		slog.Info("Skipping job", "job_id", jobID, "state", job.State)
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.cancel = cancel
	})
	if err != nil {
		return err
	}
	jm.broadcast(jobID)

	slog.Info("Starting job", "job_id", jobID, "dataset", job.Config.Dataset, "method", job.Config.Search.Method)
	start := time.Now()

	out, err := calibrate.Run(ctx, calibrate.Request{
		Config: job.Config,
		JobID:  jobID,
		Store:  st,
		Resume: job.resume,
		Hooks: fit.Hooks{
			Initial: func(cost float64) {
				jm.UpdateJob(jobID, func(j *Job) {
					j.InitialCost = cost
					j.BestCost = cost
				})
				jm.broadcast(jobID)
			},
			RunStart: func(run int) {
				jm.UpdateJob(jobID, func(j *Job) { j.Run = run })
			},
			RunEnd: func(info fit.RunInfo) {
				jm.UpdateJob(jobID, func(j *Job) {
					j.Run = info.Run + 1
					j.BestCost = info.BestCost
					j.BestParams = info.Params
					j.Evaluations += info.Evaluations
				})
				jm.broadcastCost(jobID, info.Cost)
			},
		},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			markJobCancelled(jm, jobID)
			return ctx.Err()
		}
		markJobFailed(jm, jobID, err)
		return err
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Labels = out.Checkpoint.Labels
		j.BestParams = out.Result.BestParams
		j.BestCost = out.Result.BestCost
		j.InitialCost = out.Checkpoint.InitialCost
		j.Run = out.Checkpoint.Run
		j.Evaluations = out.Result.Evaluations
		j.RMSDBefore = out.RMSDBefore
		j.RMSDAfter = out.RMSDAfter
		j.EndTime = &endTime
		j.cancel = nil
	})
	if err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", time.Since(start),
		"initial_cost", out.Result.InitialCost,
		"best_cost", out.Result.BestCost,
		"rmsd_after", out.RMSDAfter,
	)
	jm.broadcast(jobID)
	return nil
}

// broadcast sends the job's current state to its subscribers
func (jm *JobManager) broadcast(jobID string) {
	jm.broadcastCost(jobID, 0)
}

func (jm *JobManager) broadcastCost(jobID string, runCost float64) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:       jobID,
		State:       job.State,
		Run:         job.Run,
		RunCost:     runCost,
		BestCost:    job.BestCost,
		InitialCost: job.InitialCost,
		Evaluations: job.Evaluations,
		Timestamp:   time.Now(),
	})
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
		j.cancel = nil
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	jm.broadcast(jobID)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
		j.cancel = nil
	})
	slog.Info("Job cancelled", "job_id", jobID)
	jm.broadcast(jobID)
}
