// Package searchapi serves retrieval over HTTP: GET /search, GET /health and
// GET /debug/peek. Responses are JSON; results carry id, chunk_text,
// metadata, distance and similarity.
package searchapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/ragsync/internal/retriever"
	"github.com/dshills/ragsync/internal/vectorstore"
	"github.com/dshills/ragsync/pkg/types"
)

// Peeker samples the vector collection
type Peeker interface {
	Peek(ctx context.Context, limit int) (*retriever.PeekResult, error)
}

// Handler answers the search API
type Handler struct {
	searcher retriever.Searcher
	peeker   Peeker // Optional; /debug/peek answers 404 without it
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New builds the handler. peeker may be nil.
func New(searcher retriever.Searcher, peeker Peeker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		searcher: searcher,
		peeker:   peeker,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	h.mux.HandleFunc("/health", h.handleHealth)
	h.mux.HandleFunc("/search", h.handleSearch)
	h.mux.HandleFunc("/debug/peek", h.handlePeek)
	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)
	h.logger.Debug("request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.Duration("duration", time.Since(start)))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.searcher.Search(r.Context(), q)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("search failed", slog.String("query", q.Text), slog.String("error", err.Error()))
		}
		writeError(w, status, err.Error())
		return
	}
	if results == nil {
		results = []types.SearchResult{}
	}
	writeJSON(w, http.StatusOK, retriever.Response{Query: q.Text, Results: results})
}

func (h *Handler) handlePeek(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if h.peeker == nil {
		writeError(w, http.StatusNotFound, "peek not available")
		return
	}

	limit := retriever.DefaultPeekLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	res, err := h.peeker.Peek(r.Context(), limit)
	if err != nil {
		h.logger.Error("peek failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// parseQuery reads query, top_k, file_contains, file_path_eq, file_path_in
// and mode. file_path_in may repeat or carry a comma-separated list.
func parseQuery(r *http.Request) (retriever.Query, error) {
	params := r.URL.Query()
	q := retriever.Query{
		Text:         params.Get("query"),
		K:            retriever.DefaultK,
		PathContains: params.Get("file_contains"),
		Mode:         retriever.Mode(params.Get("mode")),
	}
	if strings.TrimSpace(q.Text) == "" {
		return q, retriever.ErrEmptyQuery
	}
	if raw := params.Get("top_k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil || k < 1 {
			return q, errors.New("top_k must be a positive integer")
		}
		q.K = k
	}

	q.Paths.Eq = params.Get("file_path_eq")
	for _, v := range params["file_path_in"] {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				q.Paths.In = append(q.Paths.In, p)
			}
		}
	}
	return q, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, retriever.ErrEmptyQuery),
		errors.Is(err, retriever.ErrUnsupportedMode),
		errors.Is(err, retriever.ErrRemoteFilter),
		errors.Is(err, vectorstore.ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, retriever.ErrNoFullText):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
