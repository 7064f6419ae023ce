package chatgraph

import "context"

// Node names.
const (
	NodePlanner = "planner"
	NodeTool    = "tool"
	NodeRespond = "respond"
)

var routes = map[StepType]string{
	StepTooling:    NodeTool,
	StepResponding: NodeRespond,
	StepIdle:       NodePlanner,
}

// Route maps a step to the node that handles it. Unknown and empty steps go
// to the planner, which always decides a known step.
func Route(step StepType) string {
	if next, ok := routes[step]; ok {
		return next
	}
	return NodePlanner
}

// routeState adapts Route to the engine's conditional edge signature.
func routeState(_ context.Context, state TurnState) string {
	return Route(state.Step)
}
