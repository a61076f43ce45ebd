// Package indexer keeps a vector store and a full-text store in sync with a
// set of watched directories.
//
// # Re-indexing a file
//
// Indexer.Reindex is the single write path. For one file it:
//
//  1. Skips the file unless it is indexable and has been quiet long enough
//  2. Compares mtime and size with the SeenTable and stops if unchanged
//  3. Extracts text; an empty document is removed from both stores
//  4. Chunks and embeds the text
//  5. Deletes the old vectors (best effort) and upserts the new ones
//  6. Replaces the file's full-text rows
//  7. Records the fingerprint
//
// The fingerprint is recorded last, so a failure at any step leaves the file
// to be retried by the next scan. Between steps 5 and 6 a reader may briefly
// see new vectors next to old full-text rows.
//
// # Usage
//
//	idx, err := indexer.New(indexer.Deps{
//	    Gate:      g,
//	    Extractor: extract.NewRegistry(),
//	    Embedder:  emb,
//	    Vectors:   vectors,
//	    FullText:  fts,
//	}, indexer.Config{ChunkSize: 1200, ChunkOverlap: 200, Verify: true})
//
//	pool := indexer.NewPool(0, 0, logger)
//	watcher, _ := indexer.NewWatcher(roots, logger)
//	rec, _ := indexer.NewReconciler(idx, pool, roots, 20*time.Second, logger)
//
//	err = indexer.NewService(idx, pool, watcher, rec, logger).Run(ctx)
//
// # Concurrency
//
// Re-indexes run on a bounded Pool. Work on a single path is serialized by
// PathLocks, a fixed array of mutexes sharded by path hash. Embedding calls
// across all files are bounded by a weighted semaphore. The Reconciler skips
// a tick if the previous pass is still running.
//
// # Vector writes
//
// BatchUpserter writes vectors in slices of BatchSize. When the store rejects
// a slice it backs off exponentially and retries with half as many entries,
// down to MinBatch, until MaxRetries is reached and ErrRetriesExhausted is
// returned.
package indexer
