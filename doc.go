// graphlocal - a local chat graph server streaming over SSE
//
// graphlocal runs small state-machine chat graphs (planner, tool, respond) on
// top of the langgraphgo engine and streams every step of a turn to HTTP
// clients as Server-Sent Events. Turns are grouped in threads; with a
// checkpoint store configured a thread resumes from its last saved state.
//
// # Quick Start
//
// Run the server with the defaults (listens on :8000, in-memory checkpoints):
//
//	go run ./cmd/graphlocal
//
// Chat with it:
//
//	curl -N -X POST localhost:8000/chat -d '{"input":"tool: weather in Paris"}'
//
// or with the bundled terminal client:
//
//	go run ./cmd/graphlocal-chat "tool: weather in Paris"
//
// Every frame is a JSON envelope {"ch": <channel>, "data": <payload>}:
//
//	data: {"ch":"session","data":{"thread_id":"..."}}
//	data: {"ch":"updates","data":{"planner":{"step":"tooling"}}}
//	data: {"ch":"messages","data":[{"type":"ToolMessage","role":"tool","content":"..."},{"langgraph_node":"tool"}]}
//	data: {"ch":"updates","data":{"tool":{...}}}
//	data: {"ch":"messages","data":[{"type":"AIMessage","role":"assistant","content":"(tool used)\nEcho: ..."},{"langgraph_node":"respond"}]}
//	data: {"ch":"updates","data":{"respond":{...}}}
//	data: {"ch":"raw","data":{"messages":[...],"tool_results":[...],"step":"responding"}}
//
// # Packages
//
//   - chatgraph: turn state, the three nodes, routing, fallback policy and
//     the compiled Graph with its event stream
//   - checkpoint: the checkpoint Store interface, with memory, sqlite, redis
//     and postgres backends in sub-packages
//   - repository: named graph registry used by the HTTP layer
//   - server: request validation, envelope encoding, the chat service and
//     the HTTP handlers
//   - client: SSE client and terminal renderer
//   - config: viper-backed configuration
//   - log: leveled logger backed by golog
//
// # Configuration
//
// Settings come from an optional graphlocal.yaml (or --config) and the
// environment:
//
//   - TOOL_PREFIX: prefix that routes a message through the tool (default "tool:")
//   - TOOL_PROCESSING_DELAY, RESPONSE_DELAY: simulated latencies ("300ms", "200ms")
//   - FAKE_TOOL_NAME: name recorded on tool results (default "fake_search")
//   - CHECKPOINT_BACKEND: none, memory, sqlite, redis or postgres
//   - SERVER_ADDR, DEFAULT_GRAPH, LOG_LEVEL, DEBUG
//
// Additional graphs are declared under graphs.<name> and inherit every unset
// key from graph.*.
package graphlocal // import "github.com/graphlocal/graphlocal"
