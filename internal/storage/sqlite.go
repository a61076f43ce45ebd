package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	memoryPath = ":memory:"

	// DefaultBusyTimeoutMS bounds how long a connection waits on a locked database
	DefaultBusyTimeoutMS = 5000
)

// SQLiteStore implements FullTextStore on an FTS5 virtual table
type SQLiteStore struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath != memoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(DriverName, buildDSN(dbPath, DefaultBusyTimeoutMS))
	if err != nil {
		return nil, err
	}

	if dbPath == memoryPath {
		// Every new connection to :memory: is a different database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
	}
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return db, nil
}

// NewSQLiteStore opens (or creates) the FTS database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite full-text store: empty path")
	}
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func deleteByPathWithQuerier(ctx context.Context, q querier, filePath string) (int, error) {
	result, err := q.ExecContext(ctx, "DELETE FROM chunks WHERE file_path = ?", filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks for %s: %w", filePath, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// DeleteByPath implements FullTextStore
func (s *SQLiteStore) DeleteByPath(ctx context.Context, filePath string) (int, error) {
	return deleteByPathWithQuerier(ctx, s.db, filePath)
}

// Insert implements FullTextStore. Rows are written in a single transaction.
func (s *SQLiteStore) Insert(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO chunks (id, file_path, chunk_index, text) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.ID, r.FilePath, r.ChunkIndex, r.Text); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

// ReplacePath deletes and inserts a file's rows in one transaction
func (s *SQLiteStore) ReplacePath(ctx context.Context, filePath string, rows []Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := deleteByPathWithQuerier(ctx, tx, filePath); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, "INSERT INTO chunks (id, file_path, chunk_index, text) VALUES (?, ?, ?, ?)",
			r.ID, r.FilePath, r.ChunkIndex, r.Text); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// IDsForPath implements FullTextStore
func (s *SQLiteStore) IDsForPath(ctx context.Context, filePath string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM chunks WHERE file_path = ? ORDER BY chunk_index", filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Search implements FullTextStore using bm25 ranking. bm25 is lower-is-better,
// so Score is its negation.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	match := sanitizeFTSQuery(query)
	if match == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, chunk_index, text, bm25(chunks) AS score
		FROM chunks
		WHERE chunks MATCH ?
		ORDER BY score
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var score float64
		if err := rows.Scan(&h.ID, &h.FilePath, &h.ChunkIndex, &h.Text, &score); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		h.Score = -score
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Count implements FullTextStore
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// sanitizeFTSQuery turns free text into an FTS5 query of quoted terms, so
// operators and punctuation in user input are matched literally.
func sanitizeFTSQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `"'*()^:`)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " ")
}
