package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	invjsonschema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ChatRequest is the body of a chat call.
type ChatRequest struct {
	Input    string `json:"input" jsonschema:"minLength=1"`
	ThreadID string `json:"thread_id,omitempty" jsonschema:"oneof_type=string;null"`
}

const chatRequestSchemaURL = "chat_request.json"

// maxBodyBytes bounds a chat request body.
const maxBodyBytes = 1 << 20

// FieldError is one validation failure.
type FieldError struct {
	Loc string `json:"loc"`
	Msg string `json:"msg"`
}

// ValidationError reports a rejected request body.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid request"
	}
	return fmt.Sprintf("invalid request: %s %s", e.Fields[0].Loc, e.Fields[0].Msg)
}

// RequestValidator checks chat bodies against the schema reflected from
// ChatRequest.
type RequestValidator struct {
	schema *jsonschema.Schema
	raw    []byte
}

// NewRequestValidator reflects and compiles the ChatRequest schema.
func NewRequestValidator() (*RequestValidator, error) {
	reflector := &invjsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	raw, err := json.Marshal(reflector.Reflect(&ChatRequest{}))
	if err != nil {
		return nil, fmt.Errorf("failed to encode request schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(chatRequestSchemaURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to add request schema: %w", err)
	}
	schema, err := compiler.Compile(chatRequestSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile request schema: %w", err)
	}
	return &RequestValidator{schema: schema, raw: raw}, nil
}

// Schema returns the JSON Schema document requests are validated against.
func (v *RequestValidator) Schema() json.RawMessage {
	return v.raw
}

// Decode reads, validates and decodes a chat body. Every rejection is a
// *ValidationError.
func (v *RequestValidator) Decode(body io.Reader) (ChatRequest, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return ChatRequest{}, &ValidationError{Fields: []FieldError{{Loc: "", Msg: "unreadable body: " + err.Error()}}}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return ChatRequest{}, &ValidationError{Fields: []FieldError{{Loc: "", Msg: "invalid JSON: " + err.Error()}}}
	}

	if err := v.schema.Validate(doc); err != nil {
		return ChatRequest{}, toValidationError(err)
	}

	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ChatRequest{}, &ValidationError{Fields: []FieldError{{Loc: "", Msg: err.Error()}}}
	}
	return req, nil
}

func toValidationError(err error) *ValidationError {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Fields: []FieldError{{Loc: "", Msg: err.Error()}}}
	}

	out := &ValidationError{}
	for _, e := range ve.BasicOutput().Errors {
		if e.Error == "" || e.KeywordLocation == "" {
			continue
		}
		out.Fields = append(out.Fields, FieldError{Loc: e.InstanceLocation, Msg: e.Error})
	}
	if len(out.Fields) == 0 {
		out.Fields = []FieldError{{Loc: ve.InstanceLocation, Msg: ve.Message}}
	}
	return out
}
