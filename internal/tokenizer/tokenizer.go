// Package tokenizer counts the tokens a chat request will occupy in the
// model's context window.
package tokenizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/dshills/ragsync/pkg/types"
)

// DefaultCharsPerToken is the heuristic ratio used by CharEstimator
const DefaultCharsPerToken = 4

// ErrUnavailable is returned when the tokenizer endpoint cannot be used
var ErrUnavailable = errors.New("tokenizer unavailable")

// Counter estimates the token length of a message list
type Counter interface {
	Count(ctx context.Context, messages []types.Message) (int, error)
}

// Flatten renders messages as "[ROLE]\ncontent\n" blocks. This is the form
// sent to /v1/completions and the fallback input for raw encoding.
func Flatten(messages []types.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(m.Role))
		b.WriteString("]\n")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// CharEstimator approximates tokens as runes divided by CharsPerToken,
// rounded up, over the flattened prompt.
type CharEstimator struct {
	CharsPerToken int
}

// Count implements Counter. It never fails.
func (c CharEstimator) Count(_ context.Context, messages []types.Message) (int, error) {
	per := c.CharsPerToken
	if per <= 0 {
		per = DefaultCharsPerToken
	}
	n := utf8.RuneCountInString(Flatten(messages))
	return (n + per - 1) / per, nil
}

// HTTPDoer is satisfied by *http.Client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTP counts tokens with a vLLM-style /tokenize endpoint. It first asks for
// the chat-templated length and falls back to encoding the flattened prompt
// when the server rejects messages (no chat template).
type HTTP struct {
	baseURL string
	model   string
	client  HTTPDoer
}

// NewHTTP creates a tokenizer client. baseURL is the server root, without /v1.
func NewHTTP(baseURL, model string, client HTTPDoer) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{
		baseURL: strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1"),
		model:   model,
		client:  client,
	}
}

// Count implements Counter
func (h *HTTP) Count(ctx context.Context, messages []types.Message) (int, error) {
	n, err := h.tokenize(ctx, map[string]any{
		"model":                 h.model,
		"messages":              messages,
		"add_generation_prompt": false,
	})
	if err == nil {
		return n, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}

	n, perr := h.tokenize(ctx, map[string]any{
		"model":  h.model,
		"prompt": Flatten(messages),
	})
	if perr != nil {
		return 0, fmt.Errorf("%w: chat: %v; prompt: %v", ErrUnavailable, err, perr)
	}
	return n, nil
}

func (h *HTTP) tokenize(ctx context.Context, body map[string]any) (int, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/tokenize", bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Count  *int  `json:"count"`
		Tokens []int `json:"tokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if out.Count != nil {
		return *out.Count, nil
	}
	return len(out.Tokens), nil
}
