// Package storage provides the full-text side index that mirrors the vector
// store.
//
// Every chunk written to the vector store is also written here under the
// same id, so both stores can be addressed (and reconciled) by one key.
//
// # Backends
//
//   - sqlite: an FTS5 virtual table with the porter tokenizer
//   - bleve: an on-disk bleve index
//
// # Database Schema
//
// The SQLite backend keeps a single virtual table:
//
//	chunks(id, file_path, chunk_index UNINDEXED, text, tokenize='porter')
//
// plus schema_version for semver-ordered migrations.
//
// # Basic Usage
//
//	store, err := storage.Open(storage.Config{Backend: "sqlite", Path: "/cache/fts/chunks.db"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	// Replace everything known for one file
//	if _, err := store.DeleteByPath(ctx, path); err != nil {
//	    return err
//	}
//	err = store.Insert(ctx, storage.RowsFromChunks(chunks))
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (no CGO). Building with
//
//	CGO_ENABLED=1 go build -tags "sqlite_cgo,fts5" ./...
//
// switches to github.com/mattn/go-sqlite3. The fts5 tag is required for
// that driver to compile in FTS5 support.
//
// # Concurrency
//
// The SQLite store hands out a pooled connection per operation. WAL
// journaling and a busy timeout let readers proceed while a writer holds
// the lock. The bleve index is safe for concurrent use.
package storage
