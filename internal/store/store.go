package store

// Store persists calibration checkpoints and the artifacts written at the end
// of a job. Implementations must be safe for concurrent use.
//
// Load and Delete return ErrNotFound (compare with errors.Is) when nothing is
// stored under the job ID.
type Store interface {
	// SaveCheckpoint replaces the checkpoint of jobID
	SaveCheckpoint(jobID string, checkpoint *Checkpoint) error

	LoadCheckpoint(jobID string) (*Checkpoint, error)

	// ListCheckpoints may return an empty slice
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the checkpoint together with all artifacts
	// and the trace of the job
	DeleteCheckpoint(jobID string) error

	// SaveArtifact stores a named output (report.txt, forcefield.json,
	// design.csv) for a job
	SaveArtifact(jobID, name string, data []byte) error

	LoadArtifact(jobID, name string) ([]byte, error)
}

// Artifact names written by a calibration session
const (
	ArtifactReport     = "report.txt"
	ArtifactForceField = "forcefield.json"
	ArtifactDesign     = "design.csv"
)

// ErrNotFound is returned when a requested checkpoint or artifact does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing checkpoint or artifact
type NotFoundError struct {
	JobID string
	// Artifact is empty for checkpoints
	Artifact string
}

func (e *NotFoundError) Error() string {
	what := "checkpoint"
	if e.Artifact != "" {
		what = "artifact " + e.Artifact
	}
	if e.JobID != "" {
		return what + " not found: " + e.JobID
	}
	return what + " not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
