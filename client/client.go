package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Frame is one decoded SSE envelope.
type Frame struct {
	Channel string          `json:"ch"`
	Data    json.RawMessage `json:"data"`
}

// Message is a flattened chat message as the server streams it.
type Message struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessageData decodes a messages frame into the message and the node that
// produced it.
func (f Frame) MessageData() (Message, string, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(f.Data, &pair); err != nil {
		return Message{}, "", err
	}
	if len(pair) != 2 {
		return Message{}, "", fmt.Errorf("messages frame has %d parts", len(pair))
	}
	var msg Message
	if err := json.Unmarshal(pair[0], &msg); err != nil {
		return Message{}, "", err
	}
	var meta struct {
		Node string `json:"langgraph_node"`
	}
	if err := json.Unmarshal(pair[1], &meta); err != nil {
		return Message{}, "", err
	}
	return msg, meta.Node, nil
}

// ErrorMessage returns the message of an error frame.
func (f Frame) ErrorMessage() string {
	var data struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(f.Data, &data)
	return data.Message
}

// APIError is a non-streaming error response.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Detail)
}

// Client talks to a graphlocal server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream is an open chat response.
type Stream struct {
	ThreadID string

	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Next returns the next frame, or io.EOF once the server ends the stream.
func (s *Stream) Next() (Frame, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var f Frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			return Frame{}, fmt.Errorf("bad frame %q: %w", data, err)
		}
		return f, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}

// Close releases the response body.
func (s *Stream) Close() error {
	return s.body.Close()
}

// Chat sends input to graphName (the server default when empty) on threadID
// (a new thread when empty).
func (c *Client) Chat(ctx context.Context, graphName, input, threadID string) (*Stream, error) {
	body := map[string]any{"input": input}
	if threadID != "" {
		body["thread_id"] = threadID
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat"
	if graphName != "" {
		endpoint = c.baseURL + "/graphs/" + url.PathEscape(graphName) + "/chat"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Stream{
		ThreadID: resp.Header.Get("X-Thread-Id"),
		body:     resp.Body,
		scanner:  scanner,
	}, nil
}

// Graphs lists the graphs registered on the server and the default one.
func (c *Client) Graphs(ctx context.Context) ([]string, string, error) {
	var out struct {
		Graphs  []string `json:"graphs"`
		Default string   `json:"default"`
	}
	if err := c.getJSON(ctx, "/graphs", &out); err != nil {
		return nil, "", err
	}
	return out.Graphs, out.Default, nil
}

// ThreadState is the latest checkpoint of a thread.
type ThreadState struct {
	ThreadID     string `json:"thread_id"`
	CheckpointID string `json:"checkpoint_id"`
	Node         string `json:"node"`
	Version      int    `json:"version"`
	State        struct {
		Messages []Message `json:"messages"`
		Step     string    `json:"step"`
	} `json:"state"`
}

// Thread fetches the latest checkpointed state of threadID.
func (c *Client) Thread(ctx context.Context, threadID string) (*ThreadState, error) {
	var out ThreadState
	if err := c.getJSON(ctx, "/threads/"+url.PathEscape(threadID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(data))}

	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(data, &body) != nil || len(body.Detail) == 0 {
		return apiErr
	}
	var detail string
	if json.Unmarshal(body.Detail, &detail) == nil {
		apiErr.Detail = detail
		return apiErr
	}
	var fields []struct {
		Loc string `json:"loc"`
		Msg string `json:"msg"`
	}
	if json.Unmarshal(body.Detail, &fields) == nil && len(fields) > 0 {
		parts := make([]string, len(fields))
		for i, f := range fields {
			parts[i] = strings.TrimSpace(f.Loc + " " + f.Msg)
		}
		apiErr.Detail = strings.Join(parts, "; ")
	}
	return apiErr
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
