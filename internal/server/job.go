package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/fftune/internal/config"
	"github.com/cwbudde/fftune/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Job represents a calibration job
type Job struct {
	ID     string         `json:"id"`
	State  JobState       `json:"state"`
	Config *config.Config `json:"config"`
	// ResumedFrom is the checkpoint job the calibration continues from
	ResumedFrom string     `json:"resumedFrom,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	BestParams  []float64  `json:"bestParams,omitempty"`
	BestCost    float64    `json:"bestCost"`
	InitialCost float64    `json:"initialCost"`
	Run         int        `json:"run"`
	Evaluations int        `json:"evaluations"`
	RMSDBefore  float64    `json:"rmsdBefore"`
	RMSDAfter   float64    `json:"rmsdAfter"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Error       string     `json:"error,omitempty"`

	cancel context.CancelFunc
	resume *store.Checkpoint
}

// Done reports whether the job reached a terminal state
func (j *Job) Done() bool {
	return j.State == StateCompleted || j.State == StateFailed || j.State == StateCancelled
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob registers a pending job for cfg and returns a snapshot
func (jm *JobManager) CreateJob(cfg *config.Config) *Job {
	return jm.createJob(cfg, nil)
}

// CreateResumeJob registers a pending job that continues from cp
func (jm *JobManager) CreateResumeJob(cfg *config.Config, cp *store.Checkpoint) *Job {
	return jm.createJob(cfg, cp)
}

func (jm *JobManager) createJob(cfg *config.Config, resume *store.Checkpoint) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    cfg,
		StartTime: time.Now(),
		resume:    resume,
	}
	if resume != nil {
		job.ResumedFrom = resume.JobID
	}

	jm.jobs[job.ID] = job
	cp := *job
	return &cp
}

// GetJob returns a snapshot of a job by ID
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	cp := *job
	return &cp, true
}

// ListJobs returns snapshots of all jobs
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		cp := *job
		jobs = append(jobs, &cp)
	}
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			cp := *job
			runningJobs = append(runningJobs, &cp)
		}
	}
	return runningJobs
}

// CancelJob stops a pending or running job
func (jm *JobManager) CancelJob(id string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	if job.Done() {
		return fmt.Errorf("job %s already %s", id, job.State)
	}
	if job.cancel != nil {
		job.cancel()
		return nil
	}
	// never started
	now := time.Now()
	job.State = StateCancelled
	job.EndTime = &now
	return nil
}
