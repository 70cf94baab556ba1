package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/fftune/internal/config"
	"github.com/cwbudde/fftune/internal/store"
)

// maxConfigBytes caps request bodies carrying a config
const maxConfigBytes = 1 << 20

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      store.Store
	// defaults serves requests without a body; DataDir and Store always come from it
	defaults *config.Config
	addr     string
	server   *http.Server
	ctx      context.Context
	stop     context.CancelFunc
}

// NewServer creates a new HTTP server. Jobs persist checkpoints and
// artifacts in st; defaults may be nil.
func NewServer(addr string, st store.Store, defaults *config.Config) *Server {
	if defaults == nil {
		defaults = config.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		jobManager: NewJobManager(),
		store:      st,
		defaults:   defaults,
		addr:       addr,
		ctx:        ctx,
		stop:       stop,
	}
}

// Handler returns the routed and wrapped handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/checkpoints", s.handleCheckpoints)
	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server", "running_jobs", len(s.jobManager.GetRunningJobs()))
	s.stop()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleIndex lists the jobs as a plain text table
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	jobs := s.jobManager.ListJobs()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartTime.Before(jobs[j].StartTime) })

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tSTATE\tDATASET\tMETHOD\tRUN\tINITIAL\tBEST")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%.4f\t%.4f\n",
			job.ID, job.State, job.Config.Dataset, job.Config.Search.Method,
			job.Run, job.Config.Search.NRun, job.InitialCost, job.BestCost)
	}
	tw.Flush()
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}

	switch sub {
	case "", "status":
		s.handleGetJobStatus(w, r, jobID)
	case "stream":
		s.handleJobStream(w, r, jobID)
	case "report":
		s.handleGetArtifact(w, r, jobID, store.ArtifactReport, "text/plain; charset=utf-8")
	case "forcefield":
		s.handleGetArtifact(w, r, jobID, store.ArtifactForceField, "application/json")
	case "design":
		s.handleGetArtifact(w, r, jobID, store.ArtifactDesign, "text/csv")
	case "cancel":
		s.handleCancelJob(w, r, jobID)
	case "resume":
		s.handleResumeJob(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// readConfig parses an optional YAML or JSON body over base. JSON is a
// subset of YAML, so one parser serves both.
func (s *Server) readConfig(r *http.Request, base func() *config.Config) (*config.Config, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	var cfg *config.Config
	if len(strings.TrimSpace(string(body))) == 0 {
		cfg = base()
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	} else if cfg, err = config.ParseConfigYAML(body); err != nil {
		return nil, err
	}
	cfg.DataDir = s.defaults.DataDir
	cfg.Store = s.defaults.Store
	return cfg, nil
}

func (s *Server) copyDefaults() *config.Config {
	cp := *s.defaults
	return &cp
}

func (s *Server) startJob(job *Job) {
	go func() {
		if err := runJob(s.ctx, s.jobManager, s.store, job.ID); err != nil {
			slog.Debug("Job ended with error", "job_id", job.ID, "error", err)
		}
	}()
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.readConfig(r, s.copyDefaults)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid config: %v", err), http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateJob(cfg)
	s.startJob(job)

	writeJSON(w, http.StatusCreated, job)
}

// handleResumeJob handles POST /api/v1/jobs/:id/resume. The checkpoint of
// :id seeds a new job; without a body its recorded settings are used.
func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cp, err := s.store.LoadCheckpoint(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Checkpoint not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to load checkpoint: %v", err), http.StatusInternalServerError)
		return
	}

	cfg, err := s.readConfig(r, func() *config.Config {
		c := s.copyDefaults()
		c.ApplyRunConfig(cp.Config)
		return c
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid config: %v", err), http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateResumeJob(cfg, cp)
	s.startJob(job)

	writeJSON(w, http.StatusCreated, job)
}

// handleCancelJob handles POST /api/v1/jobs/:id/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err := s.jobManager.CancelJob(jobID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	evalsPerSecond := 0.0
	if elapsed.Seconds() > 0 {
		evalsPerSecond = float64(job.Evaluations) / elapsed.Seconds()
	}

	response := map[string]interface{}{
		"id":             job.ID,
		"state":          job.State,
		"dataset":        job.Config.Dataset,
		"method":         job.Config.Search.Method,
		"run":            job.Run,
		"nrun":           job.Config.Search.NRun,
		"bestCost":       job.BestCost,
		"initialCost":    job.InitialCost,
		"bestParams":     job.BestParams,
		"labels":         job.Labels,
		"evaluations":    job.Evaluations,
		"evalsPerSecond": evalsPerSecond,
		"rmsdBefore":     job.RMSDBefore,
		"rmsdAfter":      job.RMSDAfter,
		"elapsed":        elapsed.Seconds(),
		"startTime":      job.StartTime,
		"endTime":        job.EndTime,
		"resumedFrom":    job.ResumedFrom,
		"error":          job.Error,
	}
	writeJSON(w, http.StatusOK, response)
}

// handleGetArtifact serves a stored artifact of a finished job
func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request, jobID, name, contentType string) {
	data, err := s.store.LoadArtifact(jobID, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "No results yet", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to load %s: %v", name, err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

// handleCheckpoints handles GET /api/v1/checkpoints
func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	infos, err := s.store.ListCheckpoints()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list checkpoints: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
