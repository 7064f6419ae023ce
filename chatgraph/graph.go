package chatgraph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/graphlocal/graphlocal/checkpoint"
	"github.com/graphlocal/graphlocal/config"
	"github.com/graphlocal/graphlocal/log"
	"github.com/oklog/ulid/v2"
	"github.com/smallnest/langgraphgo/graph"
)

// ErrStepLimit aborts a run that executed more nodes than allowed.
var ErrStepLimit = errors.New("step limit exceeded")

// Graph is a compiled planner/tool/respond graph.
type Graph struct {
	name     string
	runnable *graph.StateRunnable[TurnState]
	store    checkpoint.Store
	logger   log.Logger
	fallback FallbackPolicy
	maxSteps int
	bodies   map[string]NodeFunc
}

// Option configures Build.
type Option func(*Graph)

// WithLogger sets the logger used by the nodes and the run loop.
func WithLogger(logger log.Logger) Option {
	return func(g *Graph) {
		g.logger = logger
	}
}

// WithCheckpointStore enables checkpointing and thread resumption.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(g *Graph) {
		g.store = store
	}
}

// WithFallback replaces DefaultFallback.
func WithFallback(policy FallbackPolicy) Option {
	return func(g *Graph) {
		g.fallback = policy
	}
}

// WithMaxSteps overrides the configured node execution budget of a run.
func WithMaxSteps(n int) Option {
	return func(g *Graph) {
		g.maxSteps = n
	}
}

// WithNode replaces the body of one node.
func WithNode(name string, body NodeFunc) Option {
	return func(g *Graph) {
		g.bodies[name] = body
	}
}

// Build compiles the graph: planner routes through Route, tool always goes
// to respond, respond ends the turn.
func Build(name string, cfg config.GraphConfig, opts ...Option) (*Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph config %s: %w", name, err)
	}
	g := &Graph{
		name:     name,
		logger:   log.NoOpLogger{},
		fallback: DefaultFallback,
		maxSteps: cfg.MaxSteps,
		bodies:   make(map[string]NodeFunc),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.maxSteps <= 0 {
		g.maxSteps = 25
	}

	defaults := map[string]NodeFunc{
		NodePlanner: NewPlanner(cfg, g.logger),
		NodeTool:    NewTool(cfg, g.logger),
		NodeRespond: NewResponder(cfg, g.logger),
	}
	for name, body := range defaults {
		if _, ok := g.bodies[name]; !ok {
			g.bodies[name] = body
		}
	}

	sg := graph.NewStateGraph[TurnState]()
	sg.AddNode(NodePlanner, "decide between the tool and a direct answer", g.node(NodePlanner))
	sg.AddNode(NodeTool, "run the fake search tool", g.node(NodeTool))
	sg.AddNode(NodeRespond, "echo the user message", g.node(NodeRespond))

	sg.SetEntryPoint(NodePlanner)
	sg.AddConditionalEdge(NodePlanner, routeState)
	sg.AddEdge(NodeTool, NodeRespond)
	sg.AddEdge(NodeRespond, graph.END)

	runnable, err := sg.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to compile graph %s: %w", name, err)
	}
	g.runnable = runnable
	return g, nil
}

// Name returns the name the graph was built with.
func (g *Graph) Name() string {
	return g.name
}

// node adapts a body to the engine: it applies the fallback policy, merges
// the update, reports it on the run's stream and checkpoints the new state.
func (g *Graph) node(name string) func(context.Context, TurnState) (TurnState, error) {
	body := Degrade(name, g.bodies[name], g.fallback, g.logger)
	return func(ctx context.Context, state TurnState) (TurnState, error) {
		r := runFrom(ctx)
		if r != nil && int(r.steps.Add(1)) > g.maxSteps {
			return state, fmt.Errorf("%w: %d nodes", ErrStepLimit, g.maxSteps)
		}

		upd, err := body(ctx, state)
		if err != nil {
			return state, err
		}
		next := state.Apply(upd)
		if r == nil {
			return next, nil
		}

		for _, m := range upd.Messages {
			if !r.emit(ctx, Event{Kind: EventMessages, Node: name, Message: m}) {
				return next, ctx.Err()
			}
		}
		if !r.emit(ctx, Event{Kind: EventUpdates, Node: name, Update: upd}) {
			return next, ctx.Err()
		}
		g.save(ctx, r, name, next)
		return next, nil
	}
}

// Invoke runs one turn to completion without streaming or checkpointing.
func (g *Graph) Invoke(ctx context.Context, input TurnState) (TurnState, error) {
	return g.invoke(ctx, input, &graph.Config{ResumeFrom: []string{Route(input.Step)}})
}

// Stream runs one turn and reports its events on the returned channel, which
// is closed when the run ends. A thread_id in cfg.Configurable resumes the
// thread's checkpointed conversation.
func (g *Graph) Stream(ctx context.Context, input TurnState, cfg *graph.Config) <-chan Event {
	events := make(chan Event)
	threadID := threadIDFrom(cfg)

	go func() {
		defer close(events)

		r := &run{id: ulid.Make().String(), threadID: threadID, events: events}

		state, err := g.resume(ctx, r, input)
		if err != nil {
			r.emit(ctx, Event{Kind: EventError, Err: err})
			return
		}

		runCfg := &graph.Config{ResumeFrom: []string{Route(state.Step)}}
		if cfg != nil {
			runCfg.Configurable = cfg.Configurable
		}

		g.logger.Debug("graph %s: run %s started (thread=%s)", g.name, r.id, threadID)
		final, err := g.invoke(withRun(ctx, r), state, runCfg)
		if err != nil {
			g.logger.Error("graph %s: run %s failed: %v", g.name, r.id, err)
			r.emit(ctx, Event{Kind: EventError, Err: err})
			return
		}
		r.emit(ctx, Event{Kind: EventValues, State: final})
		g.logger.Debug("graph %s: run %s finished", g.name, r.id)
	}()

	return events
}

func (g *Graph) invoke(ctx context.Context, state TurnState, cfg *graph.Config) (final TurnState, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("graph %s panicked: %v", g.name, p)
		}
	}()
	return g.runnable.InvokeWithConfig(ctx, state, cfg)
}

// resume prepends the thread's checkpointed messages to the input. Tool
// results and the step always start from the input.
func (g *Graph) resume(ctx context.Context, r *run, input TurnState) (TurnState, error) {
	if input.Step == "" {
		input.Step = StepIdle
	}
	if g.store == nil || r.threadID == "" {
		return input, nil
	}

	cp, err := g.store.Latest(ctx, r.threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return input, nil
	}
	if err != nil {
		return input, fmt.Errorf("failed to load thread %s: %w", r.threadID, err)
	}

	prior, err := DecodeState(cp.State)
	if err != nil {
		return input, err
	}
	r.version.Store(int64(cp.Version))
	g.logger.Debug("graph %s: resuming thread %s at version %d (%d messages)",
		g.name, r.threadID, cp.Version, len(prior.Messages))

	input.Messages = slices.Concat(prior.Messages, input.Messages)
	return input, nil
}

// save writes a checkpoint for the state after node. Failures are logged;
// the turn still completes.
func (g *Graph) save(ctx context.Context, r *run, node string, state TurnState) {
	if g.store == nil || r.threadID == "" {
		return
	}
	cp := &checkpoint.Checkpoint{
		ID:        ulid.Make().String(),
		ThreadID:  r.threadID,
		NodeName:  node,
		State:     state,
		Timestamp: time.Now(),
		Version:   int(r.version.Add(1)),
		Metadata: map[string]any{
			"thread_id":    r.threadID,
			"execution_id": r.threadID,
			"graph":        g.name,
			"run_id":       r.id,
		},
	}
	if err := g.store.Save(ctx, cp); err != nil {
		g.logger.Error("graph %s: failed to checkpoint thread %s after %s: %v", g.name, r.threadID, node, err)
	}
}

// ThreadConfig returns a run config carrying threadID.
func ThreadConfig(threadID string) *graph.Config {
	return &graph.Config{Configurable: map[string]any{"thread_id": threadID}}
}

func threadIDFrom(cfg *graph.Config) string {
	if cfg == nil || cfg.Configurable == nil {
		return ""
	}
	id, _ := cfg.Configurable["thread_id"].(string)
	return id
}
