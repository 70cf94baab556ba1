package server

import (
	"testing"
	"time"

	"github.com/cwbudde/fftune/internal/config"
	"github.com/cwbudde/fftune/internal/store"
)

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	cfg := config.Default()
	cfg.Dataset = "alkanes.json"
	job := jm.CreateJob(cfg)

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}
	if job.Config.Dataset != "alkanes.json" {
		t.Errorf("Config not set correctly")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(config.Default())

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Error("Job should exist")
	}
	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	// snapshots do not alias the managed job
	retrieved.BestCost = 99
	again, _ := jm.GetJob(job.ID)
	if again.BestCost != 0 {
		t.Error("Modifying a snapshot should not change the job")
	}

	_, exists = jm.GetJob("nonexistent")
	if exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	jm.CreateJob(config.Default())
	jm.CreateJob(config.Default())

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(config.Default())

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Run = 3
		j.BestCost = 123.45
	})
	if err != nil {
		t.Errorf("Update should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning {
		t.Error("State should be updated")
	}
	if updated.Run != 3 {
		t.Error("Run should be updated")
	}
	if updated.BestCost != 123.45 {
		t.Error("BestCost should be updated")
	}
	if len(jm.GetRunningJobs()) != 1 {
		t.Error("Expected one running job")
	}

	err = jm.UpdateJob("nonexistent", func(j *Job) {})
	if err == nil {
		t.Error("Update of nonexistent job should fail")
	}
}

func TestJobManager_CancelPending(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(config.Default())

	if err := jm.CancelJob(job.ID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled || updated.EndTime == nil {
		t.Errorf("Expected cancelled job with end time, got %s", updated.State)
	}

	if err := jm.CancelJob(job.ID); err == nil {
		t.Error("Cancelling a finished job should fail")
	}
	if err := jm.CancelJob("nonexistent"); err == nil {
		t.Error("Cancelling a nonexistent job should fail")
	}
}

func TestJobManager_CreateResumeJob(t *testing.T) {
	jm := NewJobManager()
	cp := store.NewCheckpoint("old", []float64{1}, []string{"bond c3-h [0]"}, 1, 2, 1, config.Default().RunConfig())

	job := jm.CreateResumeJob(config.Default(), cp)
	if job.ResumedFrom != "old" {
		t.Errorf("Expected returned job to resume from old, got %q", job.ResumedFrom)
	}
	got, _ := jm.GetJob(job.ID)
	if got.ResumedFrom != "old" || got.resume != cp {
		t.Errorf("Expected resume from old, got %q", got.ResumedFrom)
	}
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(config.Default())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(run int) {
			jm.UpdateJob(job.ID, func(j *Job) {
				j.Run = run
				time.Sleep(1 * time.Millisecond)
			})
			jm.ListJobs()
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	if _, exists := jm.GetJob(job.ID); !exists {
		t.Error("Job should still exist after concurrent updates")
	}
}
