package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dshills/ragsync/pkg/types"
)

const (
	// DefaultSize is the default window size in characters
	DefaultSize = 1200

	// DefaultOverlap is the default number of characters shared by neighbouring windows
	DefaultOverlap = 200

	// titleScanLines bounds how far into a markdown file we look for a heading
	titleScanLines = 40
)

var (
	ErrInvalidSize    = errors.New("chunk size must be positive")
	ErrInvalidOverlap = errors.New("chunk overlap must not be negative")
)

// Config controls window sizing
type Config struct {
	Size        int  // Window size in characters
	Overlap     int  // Characters shared between consecutive windows
	HashContent bool // Stamp chunks with a SHA-256 of the whole text
}

// Validate rejects configurations that cannot produce chunks.
// Overlap >= Size is allowed; splitting still makes progress one rune at a time.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, c.Size)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOverlap, c.Overlap)
	}
	return nil
}

// OverlapHazard reports whether the overlap would make every window start
// only one rune after the previous one.
func (c Config) OverlapHazard() bool {
	return c.Overlap >= c.Size
}

// Chunker turns document text into chunks
type Chunker struct {
	cfg Config
}

// New creates a Chunker. Zero values fall back to the defaults.
func New(cfg Config) *Chunker {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration
func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk splits text into chunks owned by filePath.
func (c *Chunker) Chunk(filePath, text string) []types.Chunk {
	runes := []rune(text)
	spans := splitRunes(runes, c.cfg.Size, c.cfg.Overlap)
	if len(spans) == 0 {
		return nil
	}

	var docHash string
	if c.cfg.HashContent {
		docHash = HashText(text)
	}
	title := Title(filePath, text)

	chunks := make([]types.Chunk, len(spans))
	for i, sp := range spans {
		chunks[i] = types.Chunk{
			ID:       types.ChunkID(filePath, i),
			FilePath: filePath,
			Index:    i,
			Text:     string(runes[sp.Start:sp.End]),
			Span:     sp,
			DocHash:  docHash,
			Title:    title,
		}
	}
	return chunks
}

// Split returns the window spans for text, in rune offsets.
func Split(text string, size, overlap int) []types.Span {
	return splitRunes([]rune(text), size, overlap)
}

func splitRunes(runes []rune, size, overlap int) []types.Span {
	n := len(runes)
	if n == 0 || size <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}

	spans := make([]types.Span, 0, n/size+1)
	start := 0
	for {
		end := start + size
		if end > n {
			end = n
		}
		spans = append(spans, types.Span{Start: start, End: end})
		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return spans
}

// HashText returns the hex SHA-256 of text
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Title picks a display title: the first markdown heading for .md files,
// otherwise the file base name.
func Title(filePath, text string) string {
	base := filepath.Base(filePath)
	if !strings.EqualFold(filepath.Ext(filePath), ".md") {
		return base
	}
	lines := strings.SplitN(text, "\n", titleScanLines+1)
	for i, line := range lines {
		if i >= titleScanLines {
			break
		}
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			title := strings.TrimSpace(strings.TrimLeft(line, "#"))
			if title != "" {
				return title
			}
		}
	}
	return base
}
