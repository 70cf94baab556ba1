package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TraceEntry is one line of trace.jsonl: the annealer state every nprint
// iterations of a run
type TraceEntry struct {
	Run       int       `json:"run"`
	Iteration int       `json:"iteration"`
	Cost      float64   `json:"cost"`
	Timestamp time.Time `json:"timestamp"`

	// Params is the full flat vector, omitted when the writer runs without params
	Params []float64 `json:"params,omitempty"`
}

// TracePath returns the trace file of a job
func TracePath(baseDir, jobID string) string {
	return filepath.Join(JobDir(baseDir, jobID), "trace.jsonl")
}

// TraceWriter appends entries to a job's trace.jsonl through a buffer.
// It is safe for concurrent use.
type TraceWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string

	run        int
	withParams bool
}

// NewTraceWriter opens <baseDir>/jobs/<jobID>/trace.jsonl, truncating it
// unless append is set (resumed jobs)
func NewTraceWriter(baseDir, jobID string, append bool) (*TraceWriter, error) {
	path := TracePath(baseDir, jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	return &TraceWriter{
		file:       file,
		writer:     bufio.NewWriterSize(file, 64*1024),
		path:       path,
		withParams: true,
	}, nil
}

// SetRun sets the run index stamped on entries written through Trace
func (tw *TraceWriter) SetRun(run int) {
	tw.mu.Lock()
	tw.run = run
	tw.mu.Unlock()
}

// SetParams controls whether Trace records the flat vector
func (tw *TraceWriter) SetParams(on bool) {
	tw.mu.Lock()
	tw.withParams = on
	tw.mu.Unlock()
}

// Trace records the optimizer state; its signature matches opt.TraceFunc.
// Write failures are logged, the search keeps going.
func (tw *TraceWriter) Trace(iter int, cost float64, v []float64) {
	tw.mu.Lock()
	entry := TraceEntry{Run: tw.run, Iteration: iter, Cost: cost, Timestamp: time.Now()}
	if tw.withParams {
		entry.Params = append([]float64(nil), v...)
	}
	tw.mu.Unlock()

	if err := tw.Write(entry); err != nil {
		slog.Warn("Failed to write trace entry", "path", tw.path, "error", err)
	}
}

// Write appends one entry; it reaches the file on Flush or Close
func (tw *TraceWriter) Write(entry TraceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()
	if _, err := tw.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	return nil
}

// Flush writes buffered entries and syncs the file
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes buffered data and closes the trace file
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the trace file
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader reads trace entries back in file order
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewTraceReader opens a job's trace; a missing file is ErrNotFound
func NewTraceReader(baseDir, jobID string) (*TraceReader, error) {
	file, err := os.Open(TracePath(baseDir, jobID))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{JobID: jobID, Artifact: "trace.jsonl"}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	// lines with params grow with the registry
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &TraceReader{file: file, scanner: scanner}, nil
}

// Read returns the next entry or io.EOF
func (tr *TraceReader) Read() (*TraceEntry, error) {
	if !tr.scanner.Scan() {
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan trace line: %w", err)
		}
		return nil, io.EOF
	}

	var entry TraceEntry
	if err := json.Unmarshal(tr.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace entry: %w", err)
	}
	return &entry, nil
}

// ReadAll reads all remaining entries
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
}

// Close closes the trace reader
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// DeleteTrace removes the trace file of a job; a missing file is not an error
func DeleteTrace(baseDir, jobID string) error {
	err := os.Remove(TracePath(baseDir, jobID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete trace file: %w", err)
	}
	return nil
}
