package main

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/graphlocal/graphlocal/chatgraph"
	"github.com/graphlocal/graphlocal/checkpoint/memory"
	"github.com/graphlocal/graphlocal/config"
	"github.com/graphlocal/graphlocal/repository"
	"github.com/graphlocal/graphlocal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.New()
	g, err := chatgraph.Build("default", config.GraphConfig{ToolPrefix: "tool:", FakeToolName: "fake_search", MaxSteps: 25},
		chatgraph.WithCheckpointStore(store))
	require.NoError(t, err)
	repo := repository.New(nil)
	repo.Register("default", g)

	srv, err := server.New(server.Options{Registry: repo, Checkpoints: store})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestOneShot(t *testing.T) {
	ts := newTestServer(t)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--url", ts.URL, "--thread", "t1", "hello", "there"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "thread t1\nassistant@respond: Echo: hello there\n", out.String())
}

func TestREPLKeepsThread(t *testing.T) {
	ts := newTestServer(t)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("first\n\nsecond\n"))
	cmd.SetArgs([]string{"--url", ts.URL})

	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, lines[0], lines[2])
	assert.Equal(t, "assistant@respond: Echo: first", lines[1])
	assert.Equal(t, "assistant@respond: Echo: second", lines[3])
}

func TestGraphsCommand(t *testing.T) {
	ts := newTestServer(t)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"graphs", "--url", ts.URL})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "* default\n", out.String())
}

func TestUnknownGraphInREPL(t *testing.T) {
	ts := newTestServer(t)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("hi\n"))
	cmd.SetArgs([]string{"--url", ts.URL, "--graph", "missing"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "error: ")
	assert.Contains(t, out.String(), `"missing"`)
}
