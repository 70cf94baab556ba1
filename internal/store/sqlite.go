//go:build sqlite

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps checkpoints and artifacts in one SQLite database.
// Checkpoints are stored as JSON payloads next to a few indexed columns.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore creates a store for the database at path; call Init before use
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Init opens the database and creates the tables
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create tables: %w", err)
	}

	s.db = db
	slog.Debug("SQLite store opened", "path", s.path)
	return nil
}

func (s *SQLiteStore) SaveCheckpoint(jobID string, checkpoint *Checkpoint) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO checkpoints (job_id, run, best_cost, updated_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			run = excluded.run,
			best_cost = excluded.best_cost,
			updated_at = excluded.updated_at,
			payload = excluded.payload
	`, jobID, checkpoint.Run, checkpoint.BestCost, checkpoint.Timestamp.Format(time.RFC3339Nano), payload)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	slog.Debug("Checkpoint saved", "jobID", jobID, "run", checkpoint.Run, "backend", BackendSQLite)
	return nil
}

func (s *SQLiteStore) LoadCheckpoint(jobID string) (*Checkpoint, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID cannot be empty")
	}
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var payload []byte
	err = db.QueryRow(`SELECT payload FROM checkpoints WHERE job_id = ?`, jobID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{JobID: jobID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(payload, &checkpoint); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", jobID, err)
	}
	return &checkpoint, nil
}

func (s *SQLiteStore) ListCheckpoints() ([]CheckpointInfo, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT job_id, payload FROM checkpoints ORDER BY job_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	infos := []CheckpointInfo{}
	for rows.Next() {
		var (
			jobID   string
			payload []byte
		)
		if err := rows.Scan(&jobID, &payload); err != nil {
			return nil, err
		}
		var checkpoint Checkpoint
		if err := json.Unmarshal(payload, &checkpoint); err != nil {
			slog.Warn("Failed to decode checkpoint for listing", "jobID", jobID, "error", err)
			continue
		}
		infos = append(infos, checkpoint.ToInfo())
	}
	return infos, rows.Err()
}

func (s *SQLiteStore) DeleteCheckpoint(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	res, err := db.Exec(`DELETE FROM checkpoints WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{JobID: jobID}
	}
	if _, err := db.Exec(`DELETE FROM artifacts WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to delete artifacts: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveArtifact(jobID, name string, data []byte) error {
	if jobID == "" || name == "" {
		return fmt.Errorf("jobID and artifact name cannot be empty")
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT INTO artifacts (job_id, name, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(job_id, name) DO UPDATE SET
			payload = excluded.payload
	`, jobID, name, data)
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadArtifact(jobID, name string) ([]byte, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var payload []byte
	err = db.QueryRow(`SELECT payload FROM artifacts WHERE job_id = ? AND name = ?`, jobID, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{JobID: jobID, Artifact: name}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return payload, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			job_id TEXT PRIMARY KEY,
			run INTEGER NOT NULL,
			best_cost REAL NOT NULL,
			updated_at TEXT NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS artifacts (
			job_id TEXT NOT NULL,
			name TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (job_id, name)
		);
	`)
	return err
}
