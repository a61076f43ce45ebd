package retriever

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dshills/ragsync/internal/vectorstore"
)

const (
	DefaultPeekLimit = 5
	previewRunes     = 180
)

// PeekSample is one stored chunk shown by Peek
type PeekSample struct {
	ID         string `json:"id"`
	FilePath   string `json:"file_path"`
	ChunkIndex int    `json:"chunk_index"`
	DocPreview string `json:"doc_preview"`
}

// PeekResult is a quick look at the vector collection. Count is nil when the
// store could not count.
type PeekResult struct {
	Count  *int         `json:"count"`
	Sample []PeekSample `json:"sample"`
}

// Peek returns the collection size and up to limit stored chunks
func (r *Retriever) Peek(ctx context.Context, limit int) (*PeekResult, error) {
	if limit <= 0 {
		limit = DefaultPeekLimit
	}

	got, err := r.vectors.Get(ctx, vectorstore.Filter{}, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to sample collection: %w", err)
	}

	out := &PeekResult{Sample: make([]PeekSample, 0, len(got.IDs))}
	for i, id := range got.IDs {
		if i >= limit {
			break
		}
		s := PeekSample{ID: id}
		if i < len(got.Metadatas) {
			s.FilePath = got.Metadatas[i].FilePath
			s.ChunkIndex = got.Metadatas[i].ChunkIndex
		}
		if i < len(got.Documents) {
			s.DocPreview = preview(got.Documents[i], previewRunes)
		}
		out.Sample = append(out.Sample, s)
	}

	if n, err := r.vectors.Count(ctx, vectorstore.Filter{}); err == nil {
		out.Count = &n
	} else {
		r.logger.Warn("collection count failed", slog.String("error", err.Error()))
	}
	return out, nil
}

// preview cuts text to at most n runes
func preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

// Health reports whether the vector collection answers a count
func (r *Retriever) Health(ctx context.Context) error {
	if _, err := r.vectors.Count(ctx, vectorstore.Filter{}); err != nil {
		return fmt.Errorf("vector store unavailable: %w", err)
	}
	return nil
}
