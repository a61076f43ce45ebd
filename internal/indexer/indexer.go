package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dshills/ragsync/internal/chunker"
	"github.com/dshills/ragsync/internal/embedder"
	"github.com/dshills/ragsync/internal/extract"
	"github.com/dshills/ragsync/internal/fingerprint"
	"github.com/dshills/ragsync/internal/gate"
	"github.com/dshills/ragsync/internal/storage"
	"github.com/dshills/ragsync/internal/vectorstore"
	"github.com/dshills/ragsync/pkg/types"
)

const (
	// DefaultEmbedBatch is the number of chunk texts sent per GenerateBatch call
	DefaultEmbedBatch = 64

	// DefaultEmbedConcurrency bounds in-flight embedding calls across all files
	DefaultEmbedConcurrency = 4

	// maxErrorMessages caps Statistics.ErrorMessages
	maxErrorMessages = 100
)

var (
	ErrMissingDependency = errors.New("indexer dependency not set")
	ErrEmbeddingCount    = errors.New("embedding count does not match chunk count")
)

// Outcome reports what Reindex did with a path
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeUnchanged
	OutcomeIndexed
	OutcomeEmptied
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeIndexed:
		return "indexed"
	case OutcomeEmptied:
		return "emptied"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Deps are the collaborators an Indexer writes through
type Deps struct {
	Gate      *gate.Gate
	Extractor extract.Extractor
	Embedder  embedder.Embedder
	Vectors   vectorstore.Store
	FullText  storage.FullTextStore
	Seen      *SeenTable // Optional; a fresh table is created when nil
	Logger    *slog.Logger
}

// Config contains configuration for the indexer
type Config struct {
	ChunkSize        int
	ChunkOverlap     int
	HashContent      bool // Stamp chunks with the whole-file SHA-256
	Verify           bool // Count vectors after upsert and warn on mismatch
	EmbedBatch       int
	EmbedConcurrency int64
	Upsert           UpsertConfig
}

// Statistics contains statistics about indexing so far
type Statistics struct {
	FilesIndexed   int
	FilesUnchanged int
	FilesSkipped   int
	FilesEmptied   int
	FilesDeleted   int
	FilesFailed    int
	ChunksWritten  int
	VerifyWarnings int
	TrackedFiles   int
	LastIndexed    time.Time
	ErrorMessages  []string
}

type counters struct {
	indexed   atomic.Int64
	unchanged atomic.Int64
	skipped   atomic.Int64
	emptied   atomic.Int64
	deleted   atomic.Int64
	failed    atomic.Int64
	chunks    atomic.Int64
	verify    atomic.Int64
	lastIndex atomic.Int64 // Unix nanos
}

// Indexer keeps the vector store and the full-text store in step with files
// on disk, one path at a time.
type Indexer struct {
	gate      *gate.Gate
	extractor extract.Extractor
	chunker   *chunker.Chunker
	embedder  embedder.Embedder
	vectors   vectorstore.Store
	fulltext  storage.FullTextStore
	upserter  *BatchUpserter
	seen      *SeenTable
	locks     *PathLocks
	embedSem  *semaphore.Weighted
	cfg       Config
	logger    *slog.Logger

	stats   counters
	errMu   sync.Mutex
	errMsgs []string
}

// New creates a new Indexer instance
func New(deps Deps, cfg Config) (*Indexer, error) {
	switch {
	case deps.Gate == nil:
		return nil, fmt.Errorf("%w: gate", ErrMissingDependency)
	case deps.Extractor == nil:
		return nil, fmt.Errorf("%w: extractor", ErrMissingDependency)
	case deps.Embedder == nil:
		return nil, fmt.Errorf("%w: embedder", ErrMissingDependency)
	case deps.Vectors == nil:
		return nil, fmt.Errorf("%w: vector store", ErrMissingDependency)
	case deps.FullText == nil:
		return nil, fmt.Errorf("%w: full-text store", ErrMissingDependency)
	}

	chunkCfg := chunker.Config{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}
	if err := chunkCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunk config: %w", err)
	}
	if cfg.EmbedBatch <= 0 {
		cfg.EmbedBatch = DefaultEmbedBatch
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = DefaultEmbedConcurrency
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if chunkCfg.OverlapHazard() {
		logger.Warn("chunk overlap is not smaller than chunk size; windows will advance one character at a time",
			slog.Int("chunk_chars", chunkCfg.Size),
			slog.Int("chunk_overlap", chunkCfg.Overlap))
	}

	seen := deps.Seen
	if seen == nil {
		seen = NewSeenTable()
	}

	return &Indexer{
		gate:      deps.Gate,
		extractor: deps.Extractor,
		chunker:   chunker.New(chunkCfg),
		embedder:  deps.Embedder,
		vectors:   deps.Vectors,
		fulltext:  deps.FullText,
		upserter:  NewBatchUpserter(cfg.Upsert, logger),
		seen:      seen,
		locks:     &PathLocks{},
		embedSem:  semaphore.NewWeighted(cfg.EmbedConcurrency),
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Seen returns the table of indexed paths
func (idx *Indexer) Seen() *SeenTable {
	return idx.seen
}

// Gate returns the indexability rules
func (idx *Indexer) Gate() *gate.Gate {
	return idx.gate
}

// Reindex brings both stores up to date with the file at path.
//
// The full-text store is written after the vector store, and the seen table
// is updated only once both writes succeeded, so any failure leaves the path
// eligible for the next scan.
func (idx *Indexer) Reindex(ctx context.Context, path string) (Outcome, error) {
	if !idx.gate.IsIndexable(path) || !idx.gate.IsStable(path) {
		idx.stats.skipped.Add(1)
		return OutcomeSkipped, nil
	}

	unlock := idx.locks.Lock(path)
	defer unlock()

	fp, err := fingerprint.Stat(path)
	if err != nil {
		// Vanished between the gate and the lock; the delete event cleans up.
		idx.stats.skipped.Add(1)
		return OutcomeSkipped, nil
	}
	if prev, ok := idx.seen.Get(path); ok && prev.SameVersion(fp) {
		idx.stats.unchanged.Add(1)
		return OutcomeUnchanged, nil
	}

	// Hashed before extraction: the recorded version must never be newer
	// than the text the chunks are built from.
	if idx.cfg.HashContent {
		hashed, err := fingerprint.Compute(path, true)
		if err != nil {
			idx.stats.skipped.Add(1)
			idx.logger.Warn("skipping file", slog.String("path", path), slog.String("error", err.Error()))
			return OutcomeSkipped, fmt.Errorf("%w: %s: %v", extract.ErrUnreadable, path, err)
		}
		fp = hashed
	}

	res := idx.extractor.Extract(path)
	switch res.Reason {
	case extract.ReasonOK:
	case extract.ReasonEmpty:
		idx.removeFromStores(ctx, path)
		idx.seen.Delete(path)
		idx.stats.emptied.Add(1)
		idx.logger.Info("file is empty, removed from index", slog.String("path", path))
		return OutcomeEmptied, nil
	default:
		idx.stats.skipped.Add(1)
		idx.logger.Warn("skipping file",
			slog.String("path", path),
			slog.String("reason", res.Reason.String()),
			slog.Any("error", res.Err))
		return OutcomeSkipped, res.Err
	}

	chunks := idx.chunker.Chunk(path, res.Text)
	for i := range chunks {
		chunks[i].DocHash = fp.Hash
	}

	vectors, err := idx.embed(ctx, chunks)
	if err != nil {
		return idx.fail(path, err)
	}

	if err := idx.vectors.Delete(ctx, vectorstore.Eq("file_path", path)); err != nil {
		idx.logger.Warn("vector delete failed, stale chunks may remain until the next re-index",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}

	entries := make([]vectorstore.Entry, len(chunks))
	for i := range chunks {
		entries[i] = vectorstore.Entry{
			ID:        chunks[i].ID,
			Embedding: vectors[i],
			Document:  chunks[i].Text,
			Metadata:  chunks[i].Metadata(),
		}
	}
	if _, err := idx.upserter.Add(ctx, idx.vectors, entries); err != nil {
		return idx.fail(path, fmt.Errorf("failed to upsert vectors for %s: %w", path, err))
	}

	if idx.cfg.Verify {
		idx.verify(ctx, path, len(entries))
	}

	if err := idx.replaceFullText(ctx, path, storage.RowsFromChunks(chunks)); err != nil {
		idx.logger.Warn("full-text write failed, stores disagree until the next re-index",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return idx.fail(path, fmt.Errorf("failed to write full-text rows for %s: %w", path, err))
	}

	if idx.changedSince(path, fp) {
		// Written to while indexing. Leaving it out of the seen table makes
		// the next event or scan pick up the newer content.
		idx.logger.Info("file changed while indexing, will re-index", slog.String("path", path))
	} else {
		idx.seen.Set(path, fp)
	}
	idx.stats.indexed.Add(1)
	idx.stats.chunks.Add(int64(len(chunks)))
	idx.stats.lastIndex.Store(time.Now().UnixNano())
	idx.logger.Info("indexed file", slog.String("path", path), slog.Int("chunks", len(chunks)))
	return OutcomeIndexed, nil
}

// changedSince reports whether path no longer matches the mtime and size in fp
func (idx *Indexer) changedSince(path string, fp fingerprint.Fingerprint) bool {
	now, err := fingerprint.Stat(path)
	if err != nil {
		return true
	}
	return !now.ModTime.Equal(fp.ModTime) || now.Size != fp.Size
}

// Delete removes path from both stores and the seen table. Store failures
// are logged per store.
func (idx *Indexer) Delete(ctx context.Context, path string) {
	unlock := idx.locks.Lock(path)
	defer unlock()

	idx.removeFromStores(ctx, path)
	idx.seen.Delete(path)
	idx.stats.deleted.Add(1)
	idx.logger.Info("removed file from index", slog.String("path", path))
}

func (idx *Indexer) removeFromStores(ctx context.Context, path string) {
	if err := idx.vectors.Delete(ctx, vectorstore.Eq("file_path", path)); err != nil {
		idx.logger.Warn("vector delete failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	if _, err := idx.fulltext.DeleteByPath(ctx, path); err != nil {
		idx.logger.Warn("full-text delete failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func (idx *Indexer) replaceFullText(ctx context.Context, path string, rows []storage.Row) error {
	if r, ok := idx.fulltext.(storage.PathReplacer); ok {
		return r.ReplacePath(ctx, path, rows)
	}
	if _, err := idx.fulltext.DeleteByPath(ctx, path); err != nil {
		return err
	}
	return idx.fulltext.Insert(ctx, rows)
}

// embed generates one vector per chunk, in chunk order
func (idx *Indexer) embed(ctx context.Context, chunks []types.Chunk) ([][]float32, error) {
	out := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += idx.cfg.EmbedBatch {
		end := min(start+idx.cfg.EmbedBatch, len(chunks))
		texts := make([]string, end-start)
		for i := range texts {
			texts[i] = chunks[start+i].Text
		}

		if err := idx.embedSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		resp, err := idx.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		idx.embedSem.Release(1)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks: %w", err)
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrEmbeddingCount, len(resp.Embeddings), len(texts))
		}
		out = append(out, resp.Vectors()...)
	}
	return out, nil
}

// verify compares the stored vector count with what was just written. A
// mismatch is only reported.
func (idx *Indexer) verify(ctx context.Context, path string, want int) {
	got, err := idx.vectors.Count(ctx, vectorstore.Eq("file_path", path))
	if err != nil {
		idx.logger.Warn("verify count failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	if got != want {
		idx.stats.verify.Add(1)
		idx.logger.Warn("vector count mismatch after upsert",
			slog.String("path", path),
			slog.Int("expected", want),
			slog.Int("stored", got))
	}
}

func (idx *Indexer) fail(path string, err error) (Outcome, error) {
	idx.stats.failed.Add(1)
	idx.errMu.Lock()
	if len(idx.errMsgs) >= maxErrorMessages {
		idx.errMsgs = idx.errMsgs[1:]
	}
	idx.errMsgs = append(idx.errMsgs, fmt.Sprintf("%s: %v", path, err))
	idx.errMu.Unlock()
	idx.logger.Error("re-index failed", slog.String("path", path), slog.String("error", err.Error()))
	return OutcomeFailed, err
}

// Stats returns a snapshot of the counters
func (idx *Indexer) Stats() Statistics {
	s := Statistics{
		FilesIndexed:   int(idx.stats.indexed.Load()),
		FilesUnchanged: int(idx.stats.unchanged.Load()),
		FilesSkipped:   int(idx.stats.skipped.Load()),
		FilesEmptied:   int(idx.stats.emptied.Load()),
		FilesDeleted:   int(idx.stats.deleted.Load()),
		FilesFailed:    int(idx.stats.failed.Load()),
		ChunksWritten:  int(idx.stats.chunks.Load()),
		VerifyWarnings: int(idx.stats.verify.Load()),
		TrackedFiles:   idx.seen.Len(),
	}
	if ns := idx.stats.lastIndex.Load(); ns > 0 {
		s.LastIndexed = time.Unix(0, ns)
	}
	idx.errMu.Lock()
	s.ErrorMessages = append([]string(nil), idx.errMsgs...)
	idx.errMu.Unlock()
	return s
}
