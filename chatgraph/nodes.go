package chatgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/graphlocal/graphlocal/config"
	"github.com/graphlocal/graphlocal/log"
	"github.com/tmc/langchaingo/llms"
)

// ToolUsedMarker prefixes the answer of a turn that ran a tool.
const ToolUsedMarker = "(tool used)\n"

// NewPlanner returns the planner body. It routes a turn to the tool when the
// last message is a user message starting with the configured prefix.
func NewPlanner(cfg config.GraphConfig, logger log.Logger) NodeFunc {
	prefix := strings.ToLower(strings.TrimSpace(cfg.ToolPrefix))
	return func(_ context.Context, state TurnState) (Update, error) {
		last, ok := state.LastMessage()
		if !ok {
			logger.Warn("planner: no messages in state, responding directly")
			return Update{Step: StepResponding}, nil
		}

		text := ""
		if last.Role == llms.ChatMessageTypeHuman {
			text = strings.ToLower(strings.TrimSpace(last.Content))
		}
		if strings.HasPrefix(text, prefix) {
			logger.Debug("planner: tool prefix detected")
			return Update{Step: StepTooling}, nil
		}
		return Update{Step: StepResponding}, nil
	}
}

// NewTool returns the fake search tool body.
func NewTool(cfg config.GraphConfig, logger log.Logger) NodeFunc {
	return func(ctx context.Context, state TurnState) (Update, error) {
		query := toolQuery(state)

		if err := sleep(ctx, cfg.ToolProcessingDelay); err != nil {
			return Update{}, err
		}

		result := ToolResult{
			ID:    "tool-" + uuid.NewString()[:8],
			Name:  cfg.FakeToolName,
			Input: ToolInput{Q: query},
			Output: ToolOutput{
				Top:   fmt.Sprintf("Top result for '%s'", query),
				Items: []string{query + " - A", query + " - B", query + " - C"},
			},
		}

		content, err := encodeToolResult(result)
		if err != nil {
			return Update{}, err
		}
		logger.Debug("tool %s answered query %q", result.ID, query)

		return Update{
			Messages:    []Message{ToolMessage(result.ID, content)},
			ToolResults: []ToolResult{result},
			Step:        StepResponding,
		}, nil
	}
}

// NewResponder returns the echo responder body.
func NewResponder(cfg config.GraphConfig, logger log.Logger) NodeFunc {
	return func(ctx context.Context, state TurnState) (Update, error) {
		if len(state.Messages) == 0 {
			logger.Warn("respond: no messages in state")
			return Update{Messages: []Message{AIMessage("error: no messages found")}}, nil
		}

		if err := sleep(ctx, cfg.ResponseDelay); err != nil {
			return Update{}, err
		}

		text := ""
		if user, ok := state.LastUserMessage(); ok {
			text = strings.TrimSpace(user.Content)
		}

		answer := "Echo: " + text
		if len(state.ToolResults) > 0 {
			answer = ToolUsedMarker + answer
		}
		return Update{Messages: []Message{AIMessage(answer)}}, nil
	}
}

// toolQuery returns the text after the first colon of the last user
// message, trimmed. Text without a colon is used whole.
func toolQuery(state TurnState) string {
	last, ok := state.LastMessage()
	if !ok || last.Role != llms.ChatMessageTypeHuman {
		return ""
	}
	if _, after, found := strings.Cut(last.Content, ":"); found {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(last.Content)
}

// encodeToolResult renders the result the way it is shown to clients,
// without HTML escaping.
func encodeToolResult(r ToolResult) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return "", fmt.Errorf("failed to encode tool result: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
