package server

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/graphlocal/graphlocal/chatgraph"
)

// Envelope channels.
const (
	ChannelSession  = "session"
	ChannelMessages = "messages"
	ChannelUpdates  = "updates"
	ChannelRaw      = "raw"
	ChannelError    = "error"
)

// Envelope wraps every streamed frame.
type Envelope struct {
	Channel string `json:"ch"`
	Data    any    `json:"data"`
}

// SessionEnvelope announces the thread of a stream.
func SessionEnvelope(threadID string) Envelope {
	return Envelope{Channel: ChannelSession, Data: map[string]any{"thread_id": threadID}}
}

// ErrorEnvelope reports a failure in-stream.
func ErrorEnvelope(message string) Envelope {
	return Envelope{Channel: ChannelError, Data: map[string]any{"message": message}}
}

// EventEnvelope maps one engine event to its envelope.
func EventEnvelope(ev chatgraph.Event) Envelope {
	switch ev.Kind {
	case chatgraph.EventMessages:
		return Envelope{Channel: ChannelMessages, Data: []any{
			ToJSONable(ev.Message),
			map[string]any{"langgraph_node": ev.Node},
		}}
	case chatgraph.EventUpdates:
		return Envelope{Channel: ChannelUpdates, Data: map[string]any{ev.Node: ToJSONable(ev.Update)}}
	case chatgraph.EventValues:
		return Envelope{Channel: ChannelRaw, Data: ToJSONable(ev.State)}
	case chatgraph.EventError:
		msg := "unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return ErrorEnvelope("streaming error: " + msg)
	default:
		return Envelope{Channel: ChannelRaw, Data: ToJSONable(ev.Raw)}
	}
}

// ToJSONable converts engine values into plain JSON-ready values, flattening
// every message to {type, role, content}.
func ToJSONable(v any) any {
	switch x := v.(type) {
	case chatgraph.Message:
		return flattenMessage(x)
	case *chatgraph.Message:
		if x == nil {
			return nil
		}
		return flattenMessage(*x)
	case []chatgraph.Message:
		out := make([]any, len(x))
		for i, m := range x {
			out[i] = flattenMessage(m)
		}
		return out
	case chatgraph.Update:
		out := make(map[string]any, 3)
		if len(x.Messages) > 0 {
			out["messages"] = ToJSONable(x.Messages)
		}
		if len(x.ToolResults) > 0 {
			out["tool_results"] = x.ToolResults
		}
		if x.Step != "" {
			out["step"] = string(x.Step)
		}
		return out
	case chatgraph.TurnState:
		results := x.ToolResults
		if results == nil {
			results = []chatgraph.ToolResult{}
		}
		return map[string]any{
			"messages":     ToJSONable(x.Messages),
			"tool_results": results,
			"step":         string(x.Step),
		}
	case error:
		return x.Error()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = ToJSONable(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = ToJSONable(val)
		}
		return out
	default:
		return v
	}
}

func flattenMessage(m chatgraph.Message) map[string]any {
	return map[string]any{
		"type":    m.Type(),
		"role":    m.ClientRole(),
		"content": m.Content,
	}
}

// encodeEnvelope renders env as one JSON line without HTML escaping.
func encodeEnvelope(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", env.Channel, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
