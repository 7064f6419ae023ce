package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/graphlocal/graphlocal/chatgraph"
	"github.com/graphlocal/graphlocal/checkpoint"
	"github.com/graphlocal/graphlocal/checkpoint/memory"
	"github.com/graphlocal/graphlocal/config"
	"github.com/graphlocal/graphlocal/log"
	"github.com/graphlocal/graphlocal/repository"
	"github.com/smallnest/langgraphgo/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGraphConfig() config.GraphConfig {
	return config.GraphConfig{ToolPrefix: "tool:", FakeToolName: "fake_search", MaxSteps: 25}
}

// scriptedGraph replays fixed events regardless of input.
type scriptedGraph struct {
	events []chatgraph.Event
}

func (s scriptedGraph) Stream(_ context.Context, _ chatgraph.TurnState, _ *graph.Config) <-chan chatgraph.Event {
	ch := make(chan chatgraph.Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch
}

// panickingRegistry blows up on every call.
type panickingRegistry struct{}

func (panickingRegistry) StreamExecution(context.Context, string, chatgraph.TurnState, string) (<-chan chatgraph.Event, error) {
	panic("registry exploded")
}

func (panickingRegistry) List() []string {
	panic("registry exploded")
}

type testEnv struct {
	handler http.Handler
	repo    *repository.Repository
	store   checkpoint.Store
}

func newTestEnv(t *testing.T, store checkpoint.Store) *testEnv {
	t.Helper()
	repo := repository.New(nil)

	opts := []chatgraph.Option{}
	if store != nil {
		opts = append(opts, chatgraph.WithCheckpointStore(store))
	}
	g, err := chatgraph.Build(config.DefaultGraphName, testGraphConfig(), opts...)
	require.NoError(t, err)
	repo.Register(config.DefaultGraphName, g)

	srv, err := New(Options{Registry: repo, Checkpoints: store})
	require.NoError(t, err)
	return &testEnv{handler: srv.Handler(), repo: repo, store: store}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// frames splits an SSE body into decoded envelopes.
func frames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, chunk := range strings.Split(body, "\n\n") {
		if chunk == "" {
			continue
		}
		require.True(t, strings.HasPrefix(chunk, "data: "), "bad frame %q", chunk)
		var env map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &env))
		out = append(out, env)
	}
	return out
}

func channels(envs []map[string]any) []string {
	out := make([]string, len(envs))
	for i, env := range envs {
		out[i], _ = env["ch"].(string)
	}
	return out
}

// assistantTexts returns the contents of assistant messages in message frames.
func assistantTexts(envs []map[string]any) []string {
	var out []string
	for _, env := range envs {
		if env["ch"] != ChannelMessages {
			continue
		}
		pair := env["data"].([]any)
		msg := pair[0].(map[string]any)
		if msg["role"] == "assistant" {
			out = append(out, msg["content"].(string))
		}
	}
	return out
}

func TestChat_Echo(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/chat", `{"input":"hello"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))

	threadID := rec.Header().Get("X-Thread-Id")
	assert.Len(t, threadID, 36)

	envs := frames(t, rec.Body.String())
	require.NotEmpty(t, envs)
	assert.Equal(t, ChannelSession, envs[0]["ch"])
	assert.Equal(t, map[string]any{"thread_id": threadID}, envs[0]["data"])

	assert.Equal(t, []string{"session", "updates", "messages", "updates", "raw"}, channels(envs))
	assert.Equal(t, []string{"Echo: hello"}, assistantTexts(envs))

	pair := envs[2]["data"].([]any)
	assert.Equal(t, map[string]any{"langgraph_node": "respond"}, pair[1])
}

func TestChat_ExplicitThreadID(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/chat", `{"input":"hi","thread_id":"t2"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t2", rec.Header().Get("X-Thread-Id"))
	envs := frames(t, rec.Body.String())
	assert.Equal(t, map[string]any{"thread_id": "t2"}, envs[0]["data"])
}

func TestChat_ToolPrefix(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/chat", `{"input":"tool: search test"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	envs := frames(t, rec.Body.String())
	assert.Equal(t, []string{
		"session", "updates", "messages", "updates", "messages", "updates", "raw",
	}, channels(envs))

	toolFrame := envs[2]["data"].([]any)
	toolMsg := toolFrame[0].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Contains(t, toolMsg["content"], "search test")
	assert.Equal(t, map[string]any{"langgraph_node": "tool"}, toolFrame[1])

	assert.Equal(t, []string{chatgraph.ToolUsedMarker + "Echo: tool: search test"}, assistantTexts(envs))
}

func TestChat_GraphFromPath(t *testing.T) {
	env := newTestEnv(t, nil)
	g, err := chatgraph.Build("other", testGraphConfig())
	require.NoError(t, err)
	env.repo.Register("other", g)

	rec := env.do(t, http.MethodPost, "/graphs/other/chat", `{"input":"hi"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Echo: hi"}, assistantTexts(frames(t, rec.Body.String())))
}

func TestChat_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	for name, body := range map[string]string{
		"empty input":   `{"input":""}`,
		"missing input": `{"thread_id":"t1"}`,
		"malformed":     `{"input":`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/chat", body)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Empty(t, rec.Header().Get("X-Thread-Id"))

			var resp struct {
				Detail []FieldError `json:"detail"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Detail)
		})
	}
}

func TestChat_UnknownGraph(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/chat?graph_name=missing", `{"input":"hi"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	envs := frames(t, rec.Body.String())
	require.Len(t, envs, 1)
	assert.Equal(t, ChannelError, envs[0]["ch"])
	msg := envs[0]["data"].(map[string]any)["message"].(string)
	assert.Contains(t, msg, `"missing"`)
	assert.Contains(t, msg, "available: default")
}

func TestChat_SerializationErrorKeepsStreaming(t *testing.T) {
	repo := repository.New(nil)
	repo.Register("default", scriptedGraph{events: []chatgraph.Event{
		{Kind: "custom", Raw: math.Inf(1)},
		{Kind: chatgraph.EventValues, State: chatgraph.NewTurn("hi")},
	}})
	srv, err := New(Options{Registry: repo})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"input":"hi"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	envs := frames(t, rec.Body.String())
	assert.Equal(t, []string{"session", "error", "raw"}, channels(envs))
	assert.Contains(t, envs[1]["data"].(map[string]any)["message"], "serialization error")
}

func TestChat_ThreadIDGenerator(t *testing.T) {
	repo := repository.New(nil)
	repo.Register("default", scriptedGraph{})
	svc := NewChatService(repo, nil)
	svc.newThreadID = func() string { return "fixed" }

	threadID, out := svc.Start(context.Background(), ChatRequest{Input: "hi"}, "default")
	assert.Equal(t, "fixed", threadID)

	var got []string
	for frame := range out {
		got = append(got, string(frame))
	}
	assert.Equal(t, []string{`{"ch":"session","data":{"thread_id":"fixed"}}`}, got)
}

func TestChatService_StopsOnCancel(t *testing.T) {
	events := make(chan chatgraph.Event)
	defer close(events)
	svc := NewChatService(streamerFunc(func(context.Context, string, chatgraph.TurnState, string) (<-chan chatgraph.Event, error) {
		return events, nil
	}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, out := svc.Start(ctx, ChatRequest{Input: "hi", ThreadID: "t1"}, "default")
	<-out // session
	cancel()

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel not closed after cancel")
	}
}

type streamerFunc func(ctx context.Context, name string, input chatgraph.TurnState, threadID string) (<-chan chatgraph.Event, error)

func (f streamerFunc) StreamExecution(ctx context.Context, name string, input chatgraph.TurnState, threadID string) (<-chan chatgraph.Event, error) {
	return f(ctx, name, input, threadID)
}

func TestGraphs(t *testing.T) {
	env := newTestEnv(t, nil)
	env.repo.Register("another", scriptedGraph{})

	rec := env.do(t, http.MethodGet, "/graphs", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"graphs":["another","default"],"default":"default"}`, rec.Body.String())
}

func TestThreadState(t *testing.T) {
	env := newTestEnv(t, memory.New())

	rec := env.do(t, http.MethodPost, "/chat", `{"input":"hi","thread_id":"t1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/threads/t1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ThreadID     string `json:"thread_id"`
		CheckpointID string `json:"checkpoint_id"`
		Node         string `json:"node"`
		Version      int    `json:"version"`
		State        struct {
			Messages []map[string]string `json:"messages"`
			Step     string              `json:"step"`
		} `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t1", resp.ThreadID)
	assert.NotEmpty(t, resp.CheckpointID)
	assert.Equal(t, chatgraph.NodeRespond, resp.Node)
	assert.Equal(t, 2, resp.Version)
	require.Len(t, resp.State.Messages, 2)
	assert.Equal(t, "Echo: hi", resp.State.Messages[1]["content"])

	rec = env.do(t, http.MethodGet, "/threads/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestThreadState_NoStore(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/threads/t1", "")

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.JSONEq(t, `{"detail":"checkpointing is disabled"}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSchemaEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/schema/chat", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/schema+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"input"`)
}

func TestRecoverer(t *testing.T) {
	srv, err := New(Options{Registry: panickingRegistry{}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/graphs", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"internal server error: registry exploded"}`, rec.Body.String())
}

func TestNew_RequiresRegistry(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestChat_OverRealServer(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader(`{"input":"over the wire"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body strings.Builder
	_, err = io.Copy(&body, resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []string{"Echo: over the wire"}, assistantTexts(frames(t, body.String())))
}

// brokenWriter accepts headers but fails every body write.
type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestWriteFailuresAreLogged(t *testing.T) {
	var buf bytes.Buffer
	repo := repository.New(nil)
	srv, err := New(Options{Registry: repo, Logger: log.New(log.LogLevelDebug, &buf)})
	require.NoError(t, err)
	h := srv.Handler()

	for _, target := range []string{"/health", "/schema/chat"} {
		w := brokenWriter{httptest.NewRecorder()}
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	assert.Contains(t, buf.String(), "failed to write 200 response: connection reset")
	assert.Contains(t, buf.String(), "failed to write schema: connection reset")
}
