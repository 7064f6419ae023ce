package checkpoint

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when a checkpoint or thread has no stored entry.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint represents a saved state at a specific point of a thread
type Checkpoint struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	NodeName  string         `json:"node_name"`
	State     any            `json:"state"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
	Version   int            `json:"version"`
}

// Store defines the interface for checkpoint persistence
type Store interface {
	// Save stores a checkpoint, replacing any checkpoint with the same ID
	Save(ctx context.Context, checkpoint *Checkpoint) error

	// Load retrieves a checkpoint by ID
	Load(ctx context.Context, checkpointID string) (*Checkpoint, error)

	// List returns all checkpoints of a thread, oldest version first
	List(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// Latest returns the highest-version checkpoint of a thread
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)

	// Delete removes a checkpoint
	Delete(ctx context.Context, checkpointID string) error

	// Clear removes all checkpoints of a thread
	Clear(ctx context.Context, threadID string) error
}

// SortByVersion orders checkpoints oldest version first, breaking ties by
// timestamp.
func SortByVersion(cps []*Checkpoint) {
	slices.SortStableFunc(cps, func(a, b *Checkpoint) int {
		if a.Version != b.Version {
			return a.Version - b.Version
		}
		return a.Timestamp.Compare(b.Timestamp)
	})
}
