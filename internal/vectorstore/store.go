package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/dshills/ragsync/pkg/types"
)

var (
	// ErrNotFound is returned when the collection does not exist
	ErrNotFound = errors.New("not found")
	// ErrDimensionMismatch is returned when a vector has the wrong length
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrUnknownBackend is returned by New for an unrecognized backend
	ErrUnknownBackend = errors.New("unknown vector store backend")
	// ErrBackend wraps non-success responses from a remote store
	ErrBackend = errors.New("vector store request failed")
)

// Backend names accepted by New
const (
	BackendChroma   = "chroma"
	BackendPGVector = "pgvector"
	BackendMemory   = "memory"
)

// Entry is one chunk to be stored
type Entry struct {
	ID        string
	Embedding []float32
	Document  string
	Metadata  types.Metadata
}

// QueryResult holds one sub-slice per query vector, nearest first
type QueryResult struct {
	IDs       [][]string
	Documents [][]string
	Metadatas [][]types.Metadata
	Distances [][]float64
}

// Results flattens the hits of query vector i into search results
func (q *QueryResult) Results(i int) []types.SearchResult {
	if q == nil || i >= len(q.IDs) {
		return nil
	}
	out := make([]types.SearchResult, 0, len(q.IDs[i]))
	for j, id := range q.IDs[i] {
		var doc string
		if i < len(q.Documents) && j < len(q.Documents[i]) {
			doc = q.Documents[i][j]
		}
		var meta types.Metadata
		if i < len(q.Metadatas) && j < len(q.Metadatas[i]) {
			meta = q.Metadatas[i][j]
		}
		var dist *float64
		if i < len(q.Distances) && j < len(q.Distances[i]) {
			d := q.Distances[i][j]
			dist = &d
		}
		out = append(out, types.NewSearchResult(id, doc, meta, dist))
	}
	return out
}

// GetResult holds records fetched by filter
type GetResult struct {
	IDs       []string
	Documents []string
	Metadatas []types.Metadata
}

// Store is a vector collection
type Store interface {
	// Add writes entries, replacing any with the same id.
	Add(ctx context.Context, entries []Entry) error
	// Delete removes every record matching filter. The zero filter is refused.
	Delete(ctx context.Context, filter Filter) error
	Query(ctx context.Context, embeddings [][]float32, n int, filter Filter) (*QueryResult, error)
	// Get returns up to limit matching records; limit <= 0 means no limit.
	Get(ctx context.Context, filter Filter, limit int) (*GetResult, error)
	Count(ctx context.Context, filter Filter) (int, error)
	Close() error
}

// Config selects a backend
type Config struct {
	Backend    string
	URL        string // Chroma base URL or PostgreSQL DSN
	Collection string
	Dimension  int // pgvector column size
	Client     HTTPDoer
}

// New creates the configured backend
func New(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendChroma:
		return NewChroma(cfg.URL, cfg.Collection, cfg.Client)
	case BackendPGVector:
		return NewPGVector(context.Background(), cfg.URL, cfg.Collection, cfg.Dimension)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

var errDeleteAll = fmt.Errorf("%w: delete requires a filter", ErrInvalidFilter)

func checkDelete(filter Filter) error {
	if filter.IsZero() {
		return errDeleteAll
	}
	return filter.Validate()
}

// cosineDistance is 1 - cosine similarity; 1 when either vector is zero
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
