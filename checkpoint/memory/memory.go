package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/graphlocal/graphlocal/checkpoint"
)

// Store keeps checkpoints in process memory. States are kept as given, so
// the memory store hands back the same values it was saved with.
type Store struct {
	mu          sync.RWMutex
	checkpoints map[string]*checkpoint.Checkpoint
	threads     map[string][]string
}

var _ checkpoint.Store = (*Store)(nil)

// New creates an empty in-memory checkpoint store.
func New() *Store {
	return &Store{
		checkpoints: make(map[string]*checkpoint.Checkpoint),
		threads:     make(map[string][]string),
	}
}

// Save stores a checkpoint
func (s *Store) Save(_ context.Context, cp *checkpoint.Checkpoint) error {
	if cp == nil || cp.ID == "" {
		return fmt.Errorf("checkpoint id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.checkpoints[cp.ID]
	if exists && old.ThreadID != cp.ThreadID {
		s.unindex(old.ThreadID, old.ID)
	}
	if !exists || old.ThreadID != cp.ThreadID {
		s.threads[cp.ThreadID] = append(s.threads[cp.ThreadID], cp.ID)
	}
	stored := *cp
	s.checkpoints[cp.ID] = &stored
	return nil
}

// Load retrieves a checkpoint by ID
func (s *Store) Load(_ context.Context, checkpointID string) (*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", checkpoint.ErrNotFound, checkpointID)
	}
	out := *cp
	return &out, nil
}

// List returns all checkpoints of a thread, oldest version first
func (s *Store) List(_ context.Context, threadID string) ([]*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.threads[threadID]
	out := make([]*checkpoint.Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp := *s.checkpoints[id]
		out = append(out, &cp)
	}
	checkpoint.SortByVersion(out)
	return out, nil
}

// Latest returns the highest-version checkpoint of a thread
func (s *Store) Latest(ctx context.Context, threadID string) (*checkpoint.Checkpoint, error) {
	cps, _ := s.List(ctx, threadID)
	if len(cps) == 0 {
		return nil, fmt.Errorf("%w: thread %s", checkpoint.ErrNotFound, threadID)
	}
	return cps[len(cps)-1], nil
}

// Delete removes a checkpoint
func (s *Store) Delete(_ context.Context, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cp, ok := s.checkpoints[checkpointID]; ok {
		s.unindex(cp.ThreadID, cp.ID)
		delete(s.checkpoints, checkpointID)
	}
	return nil
}

// Clear removes all checkpoints of a thread
func (s *Store) Clear(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.threads[threadID] {
		delete(s.checkpoints, id)
	}
	delete(s.threads, threadID)
	return nil
}

// Close is a no-op; it lets the memory store stand in for the closable backends.
func (s *Store) Close() error {
	return nil
}

func (s *Store) unindex(threadID, id string) {
	ids := s.threads[threadID]
	for i, v := range ids {
		if v == id {
			s.threads[threadID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(s.threads[threadID]) == 0 {
		delete(s.threads, threadID)
	}
}
