package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/graphlocal/graphlocal/chatgraph"
	"github.com/graphlocal/graphlocal/log"
	"github.com/smallnest/langgraphgo/graph"
)

// ErrGraphNotFound is returned when no graph is registered under a name.
var ErrGraphNotFound = errors.New("graph not found")

// Executable is a compiled graph that can stream one turn.
type Executable interface {
	Stream(ctx context.Context, input chatgraph.TurnState, cfg *graph.Config) <-chan chatgraph.Event
}

var _ Executable = (*chatgraph.Graph)(nil)

// Repository maps graph names to executables. It is built once at startup
// and shared by reference.
type Repository struct {
	mu     sync.RWMutex
	graphs map[string]Executable
	logger log.Logger
}

// New creates an empty repository.
func New(logger log.Logger) *Repository {
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	return &Repository{
		graphs: make(map[string]Executable),
		logger: logger,
	}
}

// Register stores g under name, replacing any earlier registration.
func (r *Repository) Register(name string, g Executable) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.graphs[name]; exists {
		r.logger.Warn("graph %q is already registered, overwriting", name)
	}
	r.graphs[name] = g
	r.logger.Info("graph %q registered", name)
}

// Get returns the graph registered under name.
func (r *Repository) Get(name string) (Executable, bool) {
	r.mu.RLock()
	g, ok := r.graphs[name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("graph %q not found", name)
	}
	return g, ok
}

// List returns the registered names in sorted order.
func (r *Repository) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.graphs))
	for name := range r.graphs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// StreamExecution runs input on the named graph under threadID. It fails
// with ErrGraphNotFound before anything is streamed.
func (r *Repository) StreamExecution(ctx context.Context, name string, input chatgraph.TurnState, threadID string) (<-chan chatgraph.Event, error) {
	g, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrGraphNotFound, name, strings.Join(r.List(), ", "))
	}
	r.logger.Debug("streaming graph %q for thread %s", name, threadID)
	return g.Stream(ctx, input, chatgraph.ThreadConfig(threadID)), nil
}
