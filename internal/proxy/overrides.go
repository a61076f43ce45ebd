package proxy

import (
	"net/http"
	"strconv"
	"strings"
)

// Override headers
const (
	HeaderEnabled      = "X-Rag-Enabled"
	HeaderTopK         = "X-Rag-Top-K"
	HeaderSystemPrompt = "X-Rag-System-Prompt"
	HeaderFileContains = "X-Rag-File-Contains"
	HeaderRequestID    = "X-Request-ID"
)

const (
	minTopK = 1
	maxTopK = 50
)

// Overrides is the per-request retrieval configuration
type Overrides struct {
	Enabled      bool
	TopK         int
	SystemPrompt string
	FileContains string
}

// inlineRAG is the optional "rag" object of a request body
type inlineRAG struct {
	Enabled      *bool   `json:"enabled"`
	TopK         *int    `json:"top_k"`
	SystemPrompt *string `json:"system_prompt"`
	FileContains *string `json:"file_contains"`
}

// ResolveOverrides applies the inline object over defaults, then headers over both
func ResolveOverrides(defaults Overrides, inline *inlineRAG, h http.Header) Overrides {
	o := defaults
	if inline != nil {
		if inline.Enabled != nil {
			o.Enabled = *inline.Enabled
		}
		if inline.TopK != nil {
			o.TopK = clampTopK(*inline.TopK)
		}
		if inline.SystemPrompt != nil {
			o.SystemPrompt = *inline.SystemPrompt
		}
		if inline.FileContains != nil {
			o.FileContains = *inline.FileContains
		}
	}

	if values, ok := h[http.CanonicalHeaderKey(HeaderEnabled)]; ok && len(values) > 0 {
		o.Enabled = !isFalsey(values[0])
	}
	if v := h.Get(HeaderTopK); v != "" {
		if k, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			o.TopK = clampTopK(k)
		}
	}
	if v := h.Get(HeaderSystemPrompt); v != "" {
		o.SystemPrompt = v
	}
	if v := h.Get(HeaderFileContains); v != "" {
		o.FileContains = v
	}
	return o
}

func isFalsey(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "off":
		return true
	}
	return false
}

func clampTopK(k int) int {
	return max(minTopK, min(maxTopK, k))
}
