package chatgraph

import (
	"context"
	"sync/atomic"
)

// EventKind tags an Event.
type EventKind string

const (
	// EventMessages carries one message produced by a node.
	EventMessages EventKind = "messages"
	// EventUpdates carries the delta a node returned.
	EventUpdates EventKind = "updates"
	// EventValues carries the final state of a finished run.
	EventValues EventKind = "values"
	// EventError reports a run that stopped with an error.
	EventError EventKind = "error"
)

// Event is one item of a run's stream. Which payload field is set depends
// on Kind; Raw carries the payload of kinds this package does not define.
type Event struct {
	Kind    EventKind
	Node    string
	Message Message
	Update  Update
	State   TurnState
	Err     error
	Raw     any
}

type runKey struct{}

// run is the per-invocation context the node adapter reports through.
type run struct {
	id       string
	threadID string
	events   chan<- Event
	steps    atomic.Int32
	version  atomic.Int64
}

func withRun(ctx context.Context, r *run) context.Context {
	return context.WithValue(ctx, runKey{}, r)
}

func runFrom(ctx context.Context) *run {
	r, _ := ctx.Value(runKey{}).(*run)
	return r
}

// emit delivers ev unless ctx is done first.
func (r *run) emit(ctx context.Context, ev Event) bool {
	select {
	case r.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
