package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidBody is returned for request bodies that fail schema validation
var ErrInvalidBody = errors.New("invalid request body")

const ragSchema = `{
	"type": ["object", "null"],
	"properties": {
		"enabled":       {"type": ["boolean", "null"]},
		"top_k":         {"type": ["integer", "null"], "minimum": 1, "maximum": 50},
		"system_prompt": {"type": ["string", "null"]},
		"file_contains": {"type": ["string", "null"]}
	}
}`

var chatSchemaJSON = `{
	"type": "object",
	"required": ["messages"],
	"properties": {
		"model":      {"type": ["string", "null"]},
		"messages": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["role"],
				"properties": {"role": {"type": "string"}}
			}
		},
		"max_tokens": {"type": ["integer", "null"], "minimum": 1},
		"stream":     {"type": ["boolean", "null"]},
		"rag": ` + ragSchema + `
	}
}`

var completionSchemaJSON = `{
	"type": "object",
	"properties": {
		"model":      {"type": ["string", "null"]},
		"prompt": {
			"anyOf": [
				{"type": "string"},
				{"type": "array", "items": {"type": "string"}},
				{"type": "null"}
			]
		},
		"max_tokens": {"type": ["integer", "null"], "minimum": 1},
		"stream":     {"type": ["boolean", "null"]},
		"rag": ` + ragSchema + `
	}
}`

var (
	chatSchema       = mustSchema(chatSchemaJSON)
	completionSchema = mustSchema(completionSchemaJSON)
)

func mustSchema(def string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(def))
	if err != nil {
		panic(fmt.Sprintf("proxy: bad schema: %v", err))
	}
	return s
}

// validateBody checks raw JSON against schema
func validateBody(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidBody, strings.Join(details, "; "))
}

// readBody reads and validates a JSON body, decoding it twice: once into the
// typed request and once into a generic map for passthrough. Numbers in the
// map keep their original text.
func readBody(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema) (*request, map[string]any, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	if err := validateBody(schema, raw); err != nil {
		return nil, nil, err
	}

	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic map[string]any
	if err := dec.Decode(&generic); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return &req, generic, nil
}
