package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/dshills/ragsync/pkg/types"
)

// DefaultPGDimension matches all-MiniLM-L6-v2
const DefaultPGDimension = 384

// Metadata keys mapped to table columns
var pgColumns = map[string]string{
	"file_path":   "file_path",
	"chunk_index": "chunk_index",
	"start":       "span_start",
	"end":         "span_end",
	"doc_hash":    "doc_hash",
	"title":       "title",
}

var tableNameRE = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// PGVector implements Store on PostgreSQL with the pgvector extension
type PGVector struct {
	db        *sql.DB
	table     string // quoted identifier
	dimension int
}

// NewPGVector connects with lib/pq and ensures the collection table exists
func NewPGVector(ctx context.Context, dsn, collection string, dimension int) (*PGVector, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	store, err := NewPGVectorFromDB(ctx, db, collection, dimension)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPGVectorFromDB reuses an existing *sql.DB
func NewPGVectorFromDB(ctx context.Context, db *sql.DB, collection string, dimension int) (*PGVector, error) {
	if db == nil {
		return nil, fmt.Errorf("pgvector: db is required")
	}
	if dimension <= 0 {
		dimension = DefaultPGDimension
	}
	name := tableNameRE.ReplaceAllString(collection, "_")
	if name == "" {
		return nil, fmt.Errorf("pgvector: empty collection name")
	}

	s := &PGVector{db: db, table: pq.QuoteIdentifier(name), dimension: dimension}
	if err := s.ensureTable(ctx, name); err != nil {
		return nil, fmt.Errorf("pgvector: ensure table: %w", err)
	}
	return s, nil
}

func (s *PGVector) ensureTable(ctx context.Context, name string) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS %[1]s (
  id          text PRIMARY KEY,
  file_path   text NOT NULL,
  chunk_index integer NOT NULL,
  span_start  integer NOT NULL DEFAULT 0,
  span_end    integer NOT NULL DEFAULT 0,
  doc_hash    text,
  title       text,
  document    text,
  embedding   vector(%[2]d)
);
CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s (file_path);
`, s.table, s.dimension, pq.QuoteIdentifier(name+"_file_path_idx"))
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close implements Store
func (s *PGVector) Close() error {
	return s.db.Close()
}

// Add implements Store as an upsert on id
func (s *PGVector) Add(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt := fmt.Sprintf(`
INSERT INTO %s (id, file_path, chunk_index, span_start, span_end, doc_hash, title, document, embedding)
 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::vector)
 ON CONFLICT (id) DO UPDATE SET
   file_path=EXCLUDED.file_path,
   chunk_index=EXCLUDED.chunk_index,
   span_start=EXCLUDED.span_start,
   span_end=EXCLUDED.span_end,
   doc_hash=EXCLUDED.doc_hash,
   title=EXCLUDED.title,
   document=EXCLUDED.document,
   embedding=EXCLUDED.embedding`, s.table)

	for _, e := range entries {
		lit, err := toVectorLiteral(e.Embedding, s.dimension)
		if err != nil {
			return fmt.Errorf("entry %s: %w", e.ID, err)
		}
		m := e.Metadata
		if _, err := tx.ExecContext(ctx, stmt,
			e.ID, m.FilePath, m.ChunkIndex, m.Start, m.End, m.DocHash, m.Title, e.Document, lit,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Delete implements Store
func (s *PGVector) Delete(ctx context.Context, filter Filter) error {
	if err := checkDelete(filter); err != nil {
		return err
	}
	where, args := whereSQL(filter, 1)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", s.table, where), args...)
	return err
}

// Query implements Store ordering by cosine distance (<=>)
func (s *PGVector) Query(ctx context.Context, embeddings [][]float32, n int, filter Filter) (*QueryResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 10
	}

	res := &QueryResult{}
	for _, emb := range embeddings {
		lit, err := toVectorLiteral(emb, s.dimension)
		if err != nil {
			return nil, err
		}
		where, args := whereSQL(filter, 2)
		q := fmt.Sprintf(`SELECT id, document, file_path, chunk_index, span_start, span_end, doc_hash, title,
  embedding <=> $1::vector AS distance
 FROM %s WHERE %s ORDER BY distance LIMIT %d`, s.table, where, n)

		rows, err := s.db.QueryContext(ctx, q, append([]any{lit}, args...)...)
		if err != nil {
			return nil, fmt.Errorf("pgvector query: %w", err)
		}

		var ids, docs []string
		var metas []types.Metadata
		var dists []float64
		for rows.Next() {
			var id string
			var doc, hash, title sql.NullString
			var meta types.Metadata
			var dist float64
			if err := rows.Scan(&id, &doc, &meta.FilePath, &meta.ChunkIndex, &meta.Start, &meta.End, &hash, &title, &dist); err != nil {
				_ = rows.Close()
				return nil, err
			}
			meta.DocHash, meta.Title = hash.String, title.String
			ids = append(ids, id)
			docs = append(docs, doc.String)
			metas = append(metas, meta)
			dists = append(dists, dist)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
		res.IDs = append(res.IDs, ids)
		res.Documents = append(res.Documents, docs)
		res.Metadatas = append(res.Metadatas, metas)
		res.Distances = append(res.Distances, dists)
	}
	return res, nil
}

// Get implements Store
func (s *PGVector) Get(ctx context.Context, filter Filter, limit int) (*GetResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	where, args := whereSQL(filter, 1)
	q := fmt.Sprintf(`SELECT id, document, file_path, chunk_index, span_start, span_end, doc_hash, title
 FROM %s WHERE %s ORDER BY file_path, chunk_index`, s.table, where)
	if limit > 0 {
		q += " LIMIT " + strconv.Itoa(limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector get: %w", err)
	}
	defer func() { _ = rows.Close() }()

	res := &GetResult{}
	for rows.Next() {
		var id string
		var doc, hash, title sql.NullString
		var meta types.Metadata
		if err := rows.Scan(&id, &doc, &meta.FilePath, &meta.ChunkIndex, &meta.Start, &meta.End, &hash, &title); err != nil {
			return nil, err
		}
		meta.DocHash, meta.Title = hash.String, title.String
		res.IDs = append(res.IDs, id)
		res.Documents = append(res.Documents, doc.String)
		res.Metadatas = append(res.Metadatas, meta)
	}
	return res, rows.Err()
}

// Count implements Store
func (s *PGVector) Count(ctx context.Context, filter Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	where, args := whereSQL(filter, 1)
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", s.table, where), args...).Scan(&n)
	return n, err
}

// whereSQL renders a validated filter with placeholders numbered from argIdx
func whereSQL(f Filter, argIdx int) (string, []any) {
	switch f.op {
	case opEq:
		return fmt.Sprintf("%s = $%d", pgColumns[f.field], argIdx), []any{f.values[0]}
	case opIn:
		marks := make([]string, len(f.values))
		for i := range f.values {
			marks[i] = "$" + strconv.Itoa(argIdx+i)
		}
		return fmt.Sprintf("%s IN (%s)", pgColumns[f.field], strings.Join(marks, ",")), append([]any(nil), f.values...)
	case opAnd:
		parts := make([]string, 0, len(f.clauses))
		var args []any
		for _, c := range f.clauses {
			part, a := whereSQL(c, argIdx+len(args))
			parts = append(parts, "("+part+")")
			args = append(args, a...)
		}
		return strings.Join(parts, " AND "), args
	default:
		return "TRUE", nil
	}
}

func toVectorLiteral(embedding []float32, dim int) (string, error) {
	if len(embedding) == 0 {
		return "", fmt.Errorf("%w: embedding is required", ErrDimensionMismatch)
	}
	if dim > 0 && len(embedding) != dim {
		return "", fmt.Errorf("%w: length %d, want %d", ErrDimensionMismatch, len(embedding), dim)
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}
