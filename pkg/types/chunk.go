package types

import (
	"fmt"
	"strconv"
	"strings"
)

// idSeparator joins a file path and a chunk ordinal into one key.
const idSeparator = "::"

// Span is a half-open rune range [Start, End) into extracted text.
type Span struct {
	Start int
	End   int
}

// Len returns the number of runes covered by the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// Chunk is a contiguous text slice of a source document
type Chunk struct {
	ID       string
	FilePath string
	Index    int // Ordinal within the file, contiguous from 0

	Text string
	Span Span

	DocHash string // Optional whole-file SHA-256, hex encoded
	Title   string // Optional document title
}

// Validate checks if the chunk is well formed
func (c *Chunk) Validate() error {
	if c.FilePath == "" {
		return ErrEmptyPath
	}
	if c.Index < 0 {
		return ErrNegativeIndex
	}
	if c.Span.End < c.Span.Start {
		return ErrInvalidSpan
	}
	if c.Text == "" {
		return ErrEmptyContent
	}
	return nil
}

// Metadata returns the metadata stored next to the chunk's vector.
func (c *Chunk) Metadata() Metadata {
	return Metadata{
		FilePath:   c.FilePath,
		ChunkIndex: c.Index,
		Start:      c.Span.Start,
		End:        c.Span.End,
		DocHash:    c.DocHash,
		Title:      c.Title,
	}
}

// ChunkID serializes a (file path, ordinal) pair into an opaque key.
func ChunkID(filePath string, index int) string {
	return filePath + idSeparator + strconv.Itoa(index)
}

// ParseChunkID splits an id produced by ChunkID.
func ParseChunkID(id string) (string, int, error) {
	i := strings.LastIndex(id, idSeparator)
	if i <= 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	n, err := strconv.Atoi(id[i+len(idSeparator):])
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return id[:i], n, nil
}
