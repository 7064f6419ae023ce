package chatgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/graphlocal/graphlocal/log"
)

// NodeFunc is a node body: it returns the delta to merge, or a failure.
type NodeFunc func(ctx context.Context, state TurnState) (Update, error)

// NodeError is a structured node failure.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// FallbackPolicy turns a node failure into the update the turn continues with.
type FallbackPolicy func(state TurnState, err *NodeError) Update

// DefaultFallback sends planner and tool failures straight to the responder
// and lets a failed responder answer with the error text.
func DefaultFallback(_ TurnState, err *NodeError) Update {
	if err.Node == NodeRespond {
		return Update{Messages: []Message{AIMessage("error occurred: " + err.Err.Error())}}
	}
	return Update{Step: StepResponding}
}

// Degrade wraps body so that its errors and panics are logged and replaced
// by the policy's update. Context cancellation is returned as is so that an
// abandoned run stops.
func Degrade(node string, body NodeFunc, policy FallbackPolicy, logger log.Logger) NodeFunc {
	if policy == nil {
		policy = DefaultFallback
	}
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	return func(ctx context.Context, state TurnState) (upd Update, err error) {
		defer func() {
			if r := recover(); r != nil {
				upd, err = degrade(ctx, node, state, fmt.Errorf("panic: %v", r), policy, logger)
			}
		}()

		upd, err = body(ctx, state)
		if err != nil {
			return degrade(ctx, node, state, err, policy, logger)
		}
		return upd, nil
	}
}

func degrade(ctx context.Context, node string, state TurnState, cause error, policy FallbackPolicy, logger log.Logger) (Update, error) {
	if ctx.Err() != nil && (errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)) {
		return Update{}, cause
	}
	nodeErr := &NodeError{Node: node, Err: cause}
	logger.Error("%v; continuing with fallback", nodeErr)
	return policy(state, nodeErr), nil
}
