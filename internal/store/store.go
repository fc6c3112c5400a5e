// Package store persists optimization runs: checkpoints to resume from and
// JSONL traces of the loss history.
package store

// Store persists checkpoints. Implementations must be safe for concurrent
// use.
//
// Load and Delete return a *NotFoundError (matching ErrNotFound under
// errors.Is) when the job has no checkpoint. Other failures are wrapped
// with context.
type Store interface {
	// SaveCheckpoint writes the checkpoint of jobID, replacing any earlier
	// one. A failed save must leave the previous checkpoint intact.
	SaveCheckpoint(jobID string, checkpoint *Checkpoint) error

	// LoadCheckpoint reads the checkpoint of jobID.
	LoadCheckpoint(jobID string) (*Checkpoint, error)

	// ListCheckpoints returns the metadata of every readable checkpoint,
	// newest first.
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the checkpoint of jobID together with its
	// trace.
	DeleteCheckpoint(jobID string) error
}

// ErrNotFound matches every *NotFoundError under errors.Is.
var ErrNotFound = &NotFoundError{}

// NotFoundError reports a job without a checkpoint or trace.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	if e.JobID == "" {
		return "checkpoint not found"
	}
	return "checkpoint not found: " + e.JobID
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
