// Package proxy is an OpenAI-compatible front for a completion backend that
// adds retrieved context to chat and completion requests and reports which
// sources the answer cited.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/ragsync/internal/citation"
	"github.com/dshills/ragsync/internal/packer"
	"github.com/dshills/ragsync/internal/retriever"
	"github.com/dshills/ragsync/pkg/types"
)

// ServiceName is reported by GET /
const ServiceName = "ragsync OpenAI proxy"

const maxBodyBytes = 8 << 20

// Fields forwarded to the backend; everything else in a request body is dropped
var (
	allowedCompletionFields = []string{
		"model", "prompt", "suffix", "max_tokens", "temperature", "top_p", "n", "stream", "logprobs",
		"echo", "stop", "presence_penalty", "frequency_penalty", "best_of", "logit_bias", "user", "seed",
		"response_format",
	}
	allowedChatFields = []string{
		"model", "messages", "max_tokens", "temperature", "top_p", "n", "stream", "stop", "presence_penalty",
		"frequency_penalty", "logit_bias", "user", "tools", "tool_choice", "seed", "response_format", "logprobs",
	}
)

// Config holds the proxy's request defaults
type Config struct {
	Model        string
	MaxContext   int
	MaxTokens    int
	Temperature  float64
	TopK         int
	SystemPrompt string
	FailOpen     bool   // Proceed without context when retrieval fails
	SearchURL    string // Reported by /health
	Version      string
}

// HealthChecker is implemented by searchers that can report their own health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Proxy serves the OpenAI-compatible endpoints
type Proxy struct {
	cfg      Config
	backend  *Backend
	searcher retriever.Searcher
	packer   *packer.Packer
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New creates a Proxy
func New(cfg Config, backend *Backend, searcher retriever.Searcher, pk *packer.Packer, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 2
	}
	p := &Proxy{
		cfg:      cfg,
		backend:  backend,
		searcher: searcher,
		packer:   pk,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	p.mux.HandleFunc("GET /{$}", p.handleRoot)
	p.mux.HandleFunc("GET /health", p.handleHealth)
	p.mux.HandleFunc("GET /debug/probe", p.handleProbe)
	p.mux.HandleFunc("GET /v1/models", p.handleModels)
	p.mux.HandleFunc("POST /v1/embeddings", p.handleEmbeddings)
	p.mux.HandleFunc("POST /v1/chat/completions", p.handleChat)
	p.mux.HandleFunc("POST /v1/completions", p.handleCompletions)
	return p
}

// ServeHTTP implements http.Handler
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

func (p *Proxy) defaultOverrides() Overrides {
	return Overrides{
		Enabled:      true,
		TopK:         p.cfg.TopK,
		SystemPrompt: p.cfg.SystemPrompt,
	}
}

// request is the part of a body the proxy interprets itself
type request struct {
	Model     string          `json:"model"`
	Messages  []chatMessage   `json:"messages"`
	Prompt    json.RawMessage `json:"prompt"`
	MaxTokens *int            `json:"max_tokens"`
	Stream    bool            `json:"stream"`
	RAG       *inlineRAG      `json:"rag"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// text returns string content, or the joined text parts of multi-part content
func (m chatMessage) text() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return ""
	}
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.Type == "text" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// lastUserQuery returns the content of the last user message
func lastUserQuery(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			return messages[i].text()
		}
	}
	return ""
}

// promptText returns a string prompt, or the last element of a prompt list
func promptText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[len(list)-1]
	}
	return ""
}

// ragState carries one request's retrieval outcome into the response
type ragState struct {
	RequestID string
	Overrides Overrides
	Query     string
	Packed    *packer.Packed
	Results   []types.SearchResult
	Err       string
}

func (s *ragState) enabled() bool {
	return s.Overrides.Enabled && s.Err == ""
}

func (s *ragState) citations() citation.Map {
	if s.Packed == nil {
		return citation.Map{}
	}
	return s.Packed.Citations
}

type apiError struct {
	status int
	body   map[string]any
}

// retrieve searches and packs; it returns an apiError when the request must fail
func (p *Proxy) retrieve(ctx context.Context, st *ragState, maxTokens int) *apiError {
	if !st.Overrides.Enabled {
		return nil
	}

	var results []types.SearchResult
	if strings.TrimSpace(st.Query) != "" {
		var err error
		results, err = p.searcher.Search(ctx, retriever.Query{
			Text:         st.Query,
			K:            st.Overrides.TopK,
			PathContains: st.Overrides.FileContains,
		})
		if err != nil {
			if p.cfg.FailOpen {
				p.logger.Warn("retrieval failed, continuing without context",
					slog.String("request_id", st.RequestID),
					slog.String("error", err.Error()))
				st.Err = err.Error()
				return nil
			}
			p.logger.Error("retrieval failed",
				slog.String("request_id", st.RequestID),
				slog.String("error", err.Error()))
			return &apiError{status: http.StatusBadGateway, body: map[string]any{
				"error":      "RAG fetch failed",
				"detail":     err.Error(),
				"search_url": p.cfg.SearchURL,
			}}
		}
	}

	packed, err := p.packer.Pack(ctx, packer.Request{
		SystemPrompt:  st.Overrides.SystemPrompt,
		Query:         st.Query,
		Results:       results,
		MaxContext:    p.cfg.MaxContext,
		MaxCompletion: maxTokens,
	})
	if err != nil {
		if errors.Is(err, packer.ErrBudgetExceeded) {
			return &apiError{status: http.StatusBadRequest, body: map[string]any{"error": err.Error()}}
		}
		return &apiError{status: http.StatusInternalServerError, body: map[string]any{"error": err.Error()}}
	}
	st.Packed = packed
	st.Results = results

	p.logger.Debug("context packed",
		slog.String("request_id", st.RequestID),
		slog.Int("retrieved", len(results)),
		slog.Int("used", packed.Used),
		slog.Int("tokens", packed.Tokens),
		slog.Bool("estimated", packed.Estimated),
		slog.Bool("trimmed", packed.Trimmed))
	return nil
}

func passthrough(src map[string]any, allowed []string) map[string]any {
	out := make(map[string]any, len(allowed))
	for _, k := range allowed {
		if v, ok := src[k]; ok && v != nil {
			out[k] = v
		}
	}
	return out
}

func (p *Proxy) requestID(r *http.Request) string {
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

func (p *Proxy) applyDefaults(payload map[string]any, req *request) int {
	if req.Model == "" {
		payload["model"] = p.cfg.Model
	}
	maxTokens := p.cfg.MaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	} else {
		payload["max_tokens"] = maxTokens
	}
	if _, ok := payload["temperature"]; !ok {
		payload["temperature"] = p.cfg.Temperature
	}
	return maxTokens
}

func (p *Proxy) handleChat(w http.ResponseWriter, r *http.Request) {
	req, generic, err := readBody(w, r, chatSchema)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	st := &ragState{
		RequestID: p.requestID(r),
		Overrides: ResolveOverrides(p.defaultOverrides(), req.RAG, r.Header),
		Query:     lastUserQuery(req.Messages),
	}
	w.Header().Set(HeaderRequestID, st.RequestID)

	payload := passthrough(generic, allowedChatFields)
	maxTokens := p.applyDefaults(payload, req)

	if apiErr := p.retrieve(r.Context(), st, maxTokens); apiErr != nil {
		writeJSON(w, apiErr.status, apiErr.body)
		return
	}
	if st.Packed != nil {
		payload["messages"] = st.Packed.Messages
	}

	p.forward(w, r, "/chat/completions", payload, req.Stream, st, chatChoiceText)
}

func (p *Proxy) handleCompletions(w http.ResponseWriter, r *http.Request) {
	req, generic, err := readBody(w, r, completionSchema)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	st := &ragState{
		RequestID: p.requestID(r),
		Overrides: ResolveOverrides(p.defaultOverrides(), req.RAG, r.Header),
		Query:     promptText(req.Prompt),
	}
	w.Header().Set(HeaderRequestID, st.RequestID)

	payload := passthrough(generic, allowedCompletionFields)
	payload["prompt"] = st.Query
	maxTokens := p.applyDefaults(payload, req)

	if apiErr := p.retrieve(r.Context(), st, maxTokens); apiErr != nil {
		writeJSON(w, apiErr.status, apiErr.body)
		return
	}
	if st.Packed != nil {
		payload["prompt"] = packer.FlattenPrompt(st.Packed.Messages)
	}

	p.forward(w, r, "/completions", payload, req.Stream, st, completionChoiceText)
}

// choiceText reads and rewrites the generated text of one choice
type choiceText struct {
	get func(choice map[string]any) (string, bool)
	set func(choice map[string]any, text string)
}

var chatChoiceText = choiceText{
	get: func(c map[string]any) (string, bool) {
		msg, ok := c["message"].(map[string]any)
		if !ok {
			return "", false
		}
		s, ok := msg["content"].(string)
		return s, ok
	},
	set: func(c map[string]any, text string) {
		c["message"].(map[string]any)["content"] = text
	},
}

var completionChoiceText = choiceText{
	get: func(c map[string]any) (string, bool) {
		s, ok := c["text"].(string)
		return s, ok
	},
	set: func(c map[string]any, text string) {
		c["text"] = text
	},
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, path string, payload map[string]any, stream bool, st *ragState, ct choiceText) {
	body, err := json.Marshal(payload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if st.Packed != nil {
		w.Header().Set("X-Rag-Used-Chunks", strconv.Itoa(st.Packed.Used))
	}

	if stream {
		p.forwardStream(w, r, path, body)
		return
	}

	resp, err := p.backend.Do(r.Context(), http.MethodPost, path, body)
	if err != nil {
		p.logger.Error("backend request failed",
			slog.String("request_id", st.RequestID),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "backend_url": p.backend.URL()})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "backend_url": p.backend.URL()})
		return
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil || data == nil {
		writeRaw(w, resp, raw)
		return
	}

	data["_rag"] = p.annotate(data, st, ct)
	writeJSON(w, resp.StatusCode, data)
}

// annotate appends the references trailer to every choice and returns the _rag object
func (p *Proxy) annotate(data map[string]any, st *ragState, ct choiceText) map[string]any {
	cmap := st.citations()
	var usedAll []citation.Entry
	seen := make(map[int]bool)

	if choices, ok := data["choices"].([]any); ok && cmap.Len() > 0 {
		for _, c := range choices {
			choice, ok := c.(map[string]any)
			if !ok {
				continue
			}
			text, ok := ct.get(choice)
			if !ok {
				continue
			}
			used := citation.ExtractUsed(text, cmap)
			ct.set(choice, citation.Append(text, used))
			for _, e := range used {
				if !seen[e.N] {
					seen[e.N] = true
					usedAll = append(usedAll, e)
				}
			}
		}
	}

	usedChunks := 0
	contextCites := make([]map[string]any, 0)
	if st.Packed != nil {
		usedChunks = st.Packed.Used
		for _, e := range cmap.Entries() {
			contextCites = append(contextCites, map[string]any{"file_path": e.FilePath, "chunk_index": e.ChunkIndex})
		}
	}
	if usedAll == nil {
		usedAll = []citation.Entry{}
	}

	out := map[string]any{
		"enabled":        st.enabled(),
		"query":          st.Query,
		"citations_all":  cmap,
		"citations_used": usedAll,
		"context_blocks": usedChunks,
		"used_chunks":    usedChunks,
		"citations":      contextCites,
		"request_id":     st.RequestID,
	}
	if st.Err != "" {
		out["error"] = st.Err
	}
	return out
}

// forwardStream relays the backend's bytes as they arrive. A failure before
// the upstream answers becomes a single JSON error chunk.
func (p *Proxy) forwardStream(w http.ResponseWriter, r *http.Request, path string, body []byte) {
	flusher, _ := w.(http.Flusher)

	resp, err := p.backend.Stream(r.Context(), path, body)
	if err != nil {
		p.logger.Error("backend stream failed", slog.String("error", err.Error()))
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		chunk, _ := json.Marshal(map[string]any{"error": err.Error(), "backend_url": p.backend.URL()})
		_, _ = w.Write(chunk)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	ctype := resp.Header.Get("Content-Type")
	if ctype == "" {
		ctype = "text/event-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(resp.StatusCode)

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && r.Context().Err() == nil {
				p.logger.Warn("backend stream interrupted", slog.String("error", readErr.Error()))
				chunk, _ := json.Marshal(map[string]any{"error": readErr.Error(), "backend_url": p.backend.URL()})
				_, _ = w.Write(chunk)
			}
			return
		}
	}
}

func (p *Proxy) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"service": ServiceName, "version": p.cfg.Version})
}

func (p *Proxy) handleModels(w http.ResponseWriter, r *http.Request) {
	p.relay(w, r, http.MethodGet, "/models", nil)
}

func (p *Proxy) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	p.relay(w, r, http.MethodPost, "/embeddings", raw)
}

// relay forwards a request unchanged and copies the backend's answer
func (p *Proxy) relay(w http.ResponseWriter, r *http.Request, method, path string, body []byte) {
	resp, err := p.backend.Do(r.Context(), method, path, body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "backend_url": p.backend.URL()})
		return
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "backend_url": p.backend.URL()})
		return
	}
	writeRaw(w, resp, raw)
}

func (p *Proxy) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"model":              p.cfg.Model,
		"backend_url":        p.backend.URL(),
		"search_url":         p.cfg.SearchURL,
		"max_context":        p.cfg.MaxContext,
		"default_max_tokens": p.cfg.MaxTokens,
		"temperature":        p.cfg.Temperature,
	}

	status, models, err := p.fetchModels(r.Context())
	if err != nil {
		out["backend_ok"] = false
		out["backend_error"] = err.Error()
	} else {
		out["backend_ok"] = status == http.StatusOK
		out["models"] = models
	}

	if hc, ok := p.searcher.(HealthChecker); ok {
		if err := hc.Health(r.Context()); err != nil {
			out["search_ok"] = false
			out["search_error"] = err.Error()
		} else {
			out["search_ok"] = true
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (p *Proxy) handleProbe(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}

	status, models, err := p.fetchModels(r.Context())
	if err != nil {
		out["backend_error"] = err.Error()
	} else {
		out["backend_models_status"] = status
		out["backend_models"] = models
	}

	results, err := p.searcher.Search(r.Context(), retriever.Query{Text: "ping", K: 1})
	if err != nil {
		out["search_error"] = err.Error()
	} else {
		if results == nil {
			results = []types.SearchResult{}
		}
		out["search"] = retriever.Response{Query: "ping", Results: results}
	}
	writeJSON(w, http.StatusOK, out)
}

// fetchModels returns the backend's /models status and body; non-JSON bodies
// come back as text
func (p *Proxy) fetchModels(ctx context.Context) (int, any, error) {
	resp, err := p.backend.Do(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	var models any
	if err := json.Unmarshal(raw, &models); err != nil {
		return resp.StatusCode, map[string]any{"status_code": resp.StatusCode, "body": string(raw)}, nil
	}
	return resp.StatusCode, models, nil
}

func writeRaw(w http.ResponseWriter, resp *http.Response, raw []byte) {
	ctype := resp.Header.Get("Content-Type")
	if ctype == "" {
		ctype = "application/json"
	}
	w.Header().Set("Content-Type", ctype)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(raw)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
