package storage

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragsync/pkg/types"
)

func openBackends(t *testing.T) map[string]FullTextStore {
	t.Helper()
	dir := t.TempDir()

	sqliteStore, err := Open(Config{Backend: BackendSQLite, Path: filepath.Join(dir, "fts", "chunks.db")})
	require.NoError(t, err)
	bleveStore, err := Open(Config{Backend: BackendBleve, Path: filepath.Join(dir, "chunks.bleve")})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = sqliteStore.Close()
		_ = bleveStore.Close()
	})
	return map[string]FullTextStore{
		BackendSQLite: sqliteStore,
		BackendBleve:  bleveStore,
	}
}

func sampleRows(path string, texts ...string) []Row {
	chunks := make([]types.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = types.Chunk{FilePath: path, Index: i, Text: text}
	}
	return RowsFromChunks(chunks)
}

func TestFullTextStore_InsertAndIDs(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Insert(ctx, sampleRows("/docs/a.txt", "alpha one", "alpha two")))
			require.NoError(t, store.Insert(ctx, sampleRows("/docs/b.txt", "beta")))

			ids, err := store.IDsForPath(ctx, "/docs/a.txt")
			require.NoError(t, err)
			sort.Strings(ids)
			assert.Equal(t, []string{"/docs/a.txt::0", "/docs/a.txt::1"}, ids)

			n, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestFullTextStore_DeleteByPath(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Insert(ctx, sampleRows("/docs/a.txt", "one", "two")))
			require.NoError(t, store.Insert(ctx, sampleRows("/docs/a.txt.bak", "three")))

			deleted, err := store.DeleteByPath(ctx, "/docs/a.txt")
			require.NoError(t, err)
			assert.Equal(t, 2, deleted)

			ids, err := store.IDsForPath(ctx, "/docs/a.txt")
			require.NoError(t, err)
			assert.Empty(t, ids)

			// A path sharing the prefix is untouched
			ids, err = store.IDsForPath(ctx, "/docs/a.txt.bak")
			require.NoError(t, err)
			assert.Len(t, ids, 1)

			deleted, err = store.DeleteByPath(ctx, "/docs/missing.txt")
			require.NoError(t, err)
			assert.Zero(t, deleted)
		})
	}
}

func TestFullTextStore_Search(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Insert(ctx, sampleRows("/docs/db.md",
				"the database stores rows on disk",
				"unrelated paragraph about gardening")))

			hits, err := store.Search(ctx, "database", 5)
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, "/docs/db.md::0", hits[0].ID)
			assert.Equal(t, "/docs/db.md", hits[0].FilePath)
			assert.Equal(t, 0, hits[0].ChunkIndex)
			assert.Contains(t, hits[0].Text, "database")

			_, err = store.Search(ctx, "  ", 5)
			assert.ErrorIs(t, err, ErrEmptyQuery)
		})
	}
}

func TestSQLiteStore_SearchOperatorsAreLiteral(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chunks.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Insert(ctx, sampleRows("/docs/x.txt", "cats AND dogs")))

	hits, err := store.Search(ctx, `cats AND "dogs" (NEAR*`, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = store.Search(ctx, "cats AND dogs", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSQLiteStore_ReplacePath(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Insert(ctx, sampleRows("/docs/a.txt", "one", "two", "three")))
	require.NoError(t, store.ReplacePath(ctx, "/docs/a.txt", sampleRows("/docs/a.txt", "only")))

	ids, err := store.IDsForPath(ctx, "/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs/a.txt::0"}, ids)
}

func TestSQLiteStore_ReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chunks.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, sampleRows("/docs/a.txt", "persisted")))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMigrations(t *testing.T) {
	ctx := context.Background()
	db, err := openDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, ApplyMigrations(ctx, db))
	// Idempotent
	require.NoError(t, ApplyMigrations(ctx, db))

	v, err := currentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())

	require.NoError(t, RollbackMigration(ctx, db))
	v, err = currentVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", v.String())

	assert.Error(t, RollbackMigration(ctx, db))
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(Config{Backend: "lucene", Path: t.TempDir()})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestSanitizeFTSQuery(t *testing.T) {
	assert.Equal(t, `"hello" "world"`, sanitizeFTSQuery("hello world"))
	assert.Equal(t, `"say""hi"`, sanitizeFTSQuery(`say"hi`))
	assert.Equal(t, "", sanitizeFTSQuery(`"" ** ()`))
}
