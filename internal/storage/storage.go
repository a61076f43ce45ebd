package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/ragsync/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrEmptyQuery is returned when a search query has no usable terms
	ErrEmptyQuery = errors.New("empty search query")
	// ErrUnknownBackend is returned by Open for an unrecognized backend name
	ErrUnknownBackend = errors.New("unknown full-text backend")
)

// Backend names accepted by Open
const (
	BackendSQLite = "sqlite"
	BackendBleve  = "bleve"
)

// FullTextStore is the keyword index kept beside the vector store
type FullTextStore interface {
	// DeleteByPath removes every row of a file and reports how many went.
	DeleteByPath(ctx context.Context, filePath string) (int, error)
	// Insert writes rows in one unit of work.
	Insert(ctx context.Context, rows []Row) error
	// IDsForPath lists the chunk ids stored for a file.
	IDsForPath(ctx context.Context, filePath string) ([]string, error)
	// Search runs a keyword query, best match first.
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	// Count returns the number of stored rows.
	Count(ctx context.Context) (int, error)
	Close() error
}

// Row is one chunk as stored in the full-text index
type Row struct {
	ID         string
	FilePath   string
	ChunkIndex int
	Text       string
}

// Hit is a keyword search match
type Hit struct {
	ID         string  `json:"id"`
	FilePath   string  `json:"file_path"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"chunk_text"`
	Score      float64 `json:"score"` // Higher is better on every backend
}

// RowsFromChunks converts chunks into rows keyed by chunk id
func RowsFromChunks(chunks []types.Chunk) []Row {
	rows := make([]Row, len(chunks))
	for i, c := range chunks {
		id := c.ID
		if id == "" {
			id = types.ChunkID(c.FilePath, c.Index)
		}
		rows[i] = Row{ID: id, FilePath: c.FilePath, ChunkIndex: c.Index, Text: c.Text}
	}
	return rows
}

// Config selects and locates a full-text backend
type Config struct {
	Backend string
	Path    string
}

// Open creates the configured backend
func Open(cfg Config) (FullTextStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendSQLite:
		return NewSQLiteStore(cfg.Path)
	case BackendBleve:
		return NewBleveStore(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

// PathReplacer is implemented by backends that can swap a file's rows
// atomically. Callers fall back to DeleteByPath plus Insert otherwise.
type PathReplacer interface {
	ReplacePath(ctx context.Context, filePath string, rows []Row) error
}
