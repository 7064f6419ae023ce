package server

import (
	"context"

	"github.com/google/uuid"
	"github.com/graphlocal/graphlocal/chatgraph"
	"github.com/graphlocal/graphlocal/log"
)

// Streamer starts graph executions by name.
type Streamer interface {
	StreamExecution(ctx context.Context, name string, input chatgraph.TurnState, threadID string) (<-chan chatgraph.Event, error)
}

// ChatService turns one chat request into a stream of encoded envelopes.
type ChatService struct {
	streamer    Streamer
	logger      log.Logger
	newThreadID func() string
}

// NewChatService creates a service on top of streamer.
func NewChatService(streamer Streamer, logger log.Logger) *ChatService {
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	return &ChatService{
		streamer:    streamer,
		logger:      logger,
		newThreadID: uuid.NewString,
	}
}

// Start resolves the thread id and starts the turn. The channel carries one
// JSON envelope per frame and is closed at the end of the stream or when ctx
// is done. An unknown graph yields a single error envelope.
func (s *ChatService) Start(ctx context.Context, req ChatRequest, graphName string) (string, <-chan []byte) {
	threadID := req.ThreadID
	if threadID == "" {
		threadID = s.newThreadID()
	}

	events, err := s.streamer.StreamExecution(ctx, graphName, chatgraph.NewTurn(req.Input), threadID)

	frames := make(chan []byte)
	go func() {
		defer close(frames)

		send := func(env Envelope) bool {
			select {
			case frames <- s.encode(env):
				return true
			case <-ctx.Done():
				return false
			}
		}

		if err != nil {
			s.logger.Warn("chat stream for thread %s not started: %v", threadID, err)
			send(ErrorEnvelope(err.Error()))
			return
		}

		if !send(SessionEnvelope(threadID)) {
			return
		}
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if !send(EventEnvelope(ev)) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return threadID, frames
}

// encode renders env; an envelope that cannot be encoded is replaced by an
// error envelope so the stream goes on.
func (s *ChatService) encode(env Envelope) []byte {
	data, err := encodeEnvelope(env)
	if err == nil {
		return data
	}
	s.logger.Error("serialization error: %v", err)
	data, err = encodeEnvelope(ErrorEnvelope("serialization error: " + err.Error()))
	if err != nil {
		return []byte(`{"ch":"error","data":{"message":"serialization error"}}`)
	}
	return data
}
