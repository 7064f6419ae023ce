package chatgraph

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/tmc/langchaingo/llms"
)

// StepType tags where a turn currently is.
type StepType string

const (
	StepIdle       StepType = "idle"
	StepTooling    StepType = "tooling"
	StepResponding StepType = "responding"
)

// Message is one conversation entry. Role uses the langchaingo message
// vocabulary (human, ai, tool, system).
type Message struct {
	Role       llms.ChatMessageType `json:"role"`
	Content    string               `json:"content"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
}

// HumanMessage creates a user-authored message.
func HumanMessage(content string) Message {
	return Message{Role: llms.ChatMessageTypeHuman, Content: content}
}

// AIMessage creates an assistant message.
func AIMessage(content string) Message {
	return Message{Role: llms.ChatMessageTypeAI, Content: content}
}

// ToolMessage creates a tool message answering the given call.
func ToolMessage(callID, content string) Message {
	return Message{Role: llms.ChatMessageTypeTool, Content: content, ToolCallID: callID}
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: llms.ChatMessageTypeSystem, Content: content}
}

// Type returns the client-facing class name of the message.
func (m Message) Type() string {
	switch m.Role {
	case llms.ChatMessageTypeHuman:
		return "HumanMessage"
	case llms.ChatMessageTypeAI:
		return "AIMessage"
	case llms.ChatMessageTypeTool:
		return "ToolMessage"
	case llms.ChatMessageTypeSystem:
		return "SystemMessage"
	default:
		return "Message"
	}
}

// ClientRole returns the role name clients see: user, assistant, tool or system.
// Unknown roles are reported as assistant.
func (m Message) ClientRole() string {
	switch m.Role {
	case llms.ChatMessageTypeHuman:
		return "user"
	case llms.ChatMessageTypeTool:
		return "tool"
	case llms.ChatMessageTypeSystem:
		return "system"
	default:
		return "assistant"
	}
}

// ToolInput is the echoed query of a tool call.
type ToolInput struct {
	Q string `json:"q"`
}

// ToolOutput is the fabricated search output.
type ToolOutput struct {
	Top   string   `json:"top"`
	Items []string `json:"items"`
}

// ToolResult records one tool invocation of the turn.
type ToolResult struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Input  ToolInput  `json:"input"`
	Output ToolOutput `json:"output"`
}

// TurnState is the record threaded through the graph for one turn.
type TurnState struct {
	Messages    []Message    `json:"messages"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Step        StepType     `json:"step"`
}

// NewTurn starts an idle turn from a single user input.
func NewTurn(input string) TurnState {
	return TurnState{
		Messages: []Message{HumanMessage(input)},
		Step:     StepIdle,
	}
}

// Update is the delta a node contributes.
type Update struct {
	Messages    []Message    `json:"messages,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Step        StepType     `json:"step,omitempty"`
}

// Apply merges u into a copy of s: messages and tool results are appended,
// the step is replaced when u sets one.
func (s TurnState) Apply(u Update) TurnState {
	next := TurnState{
		Messages:    slices.Concat(s.Messages, u.Messages),
		ToolResults: slices.Concat(s.ToolResults, u.ToolResults),
		Step:        s.Step,
	}
	if u.Step != "" {
		next.Step = u.Step
	}
	return next
}

// LastMessage returns the most recent message, if any.
func (s TurnState) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// LastUserMessage returns the most recent user-authored message, if any.
func (s TurnState) LastUserMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == llms.ChatMessageTypeHuman {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// DecodeState converts a checkpointed state back into a TurnState. Stores
// that persist JSON hand back generic maps; the memory store hands back the
// value itself.
func DecodeState(v any) (TurnState, error) {
	switch s := v.(type) {
	case TurnState:
		return s, nil
	case *TurnState:
		if s == nil {
			return TurnState{}, nil
		}
		return *s, nil
	case nil:
		return TurnState{}, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return TurnState{}, fmt.Errorf("failed to encode checkpointed state: %w", err)
	}
	var state TurnState
	if err := json.Unmarshal(data, &state); err != nil {
		return TurnState{}, fmt.Errorf("failed to decode checkpointed state: %w", err)
	}
	return state, nil
}
