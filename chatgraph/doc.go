// Package chatgraph implements the planner/tool/respond graph served by
// graphlocal, on top of the langgraphgo state graph engine.
//
// # Turn flow
//
// A turn starts idle with the user's message. The planner inspects the last
// message: a user message starting with the configured prefix (default
// "tool:") routes to the tool node, anything else goes straight to the
// responder. The tool fabricates a search result after a short delay and
// appends it as a tool message; the responder echoes the user text, marking
// answers that used a tool.
//
//	planner --(Route(step))--> tool --> respond --> END
//	        \-----------------------------^
//
// # Node results and fallbacks
//
// Node bodies return an Update or an error. Degrade applies a FallbackPolicy
// so that a failing node never fails the turn: DefaultFallback sends planner
// and tool failures to the responder, and a failing responder answers with
// the error text. Context cancellation is not degraded.
//
// # Streaming and threads
//
// Graph.Stream reports node messages, node updates, the final state and run
// errors as Events. When a checkpoint store is configured, every node step is
// checkpointed under the request's thread_id and the next turn on the same
// thread continues its conversation.
//
//	g, err := chatgraph.Build("default", cfg.Graph,
//		chatgraph.WithLogger(logger),
//		chatgraph.WithCheckpointStore(memory.New()))
//	for ev := range g.Stream(ctx, chatgraph.NewTurn("tool: weather"), chatgraph.ThreadConfig("t1")) {
//		...
//	}
package chatgraph
