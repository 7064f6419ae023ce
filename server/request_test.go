package server

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestValidator_Decode(t *testing.T) {
	v, err := NewRequestValidator()
	require.NoError(t, err)

	req, err := v.Decode(strings.NewReader(`{"input":"hi","thread_id":"t1"}`))
	require.NoError(t, err)
	assert.Equal(t, ChatRequest{Input: "hi", ThreadID: "t1"}, req)

	req, err = v.Decode(strings.NewReader(`{"input":"hi","thread_id":null}`))
	require.NoError(t, err)
	assert.Equal(t, ChatRequest{Input: "hi"}, req)

	req, err = v.Decode(strings.NewReader(`{"input":"hi","extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", req.Input)
}

func TestRequestValidator_Rejects(t *testing.T) {
	v, err := NewRequestValidator()
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
		loc  string
	}{
		{name: "empty input", body: `{"input":""}`, loc: "/input"},
		{name: "missing input", body: `{}`, loc: ""},
		{name: "wrong input type", body: `{"input":42}`, loc: "/input"},
		{name: "wrong thread type", body: `{"input":"hi","thread_id":5}`, loc: "/thread_id"},
		{name: "malformed json", body: `{"input":`, loc: ""},
		{name: "not an object", body: `"hi"`, loc: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Decode(strings.NewReader(tt.body))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			require.NotEmpty(t, ve.Fields)

			locs := make([]string, len(ve.Fields))
			for i, f := range ve.Fields {
				locs[i] = f.Loc
				assert.NotEmpty(t, f.Msg)
			}
			assert.Contains(t, locs, tt.loc)
		})
	}
}

func TestRequestValidator_Schema(t *testing.T) {
	v, err := NewRequestValidator()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(v.Schema(), &schema))

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"input"}, schema["required"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "input")
	assert.Contains(t, props, "thread_id")
}
