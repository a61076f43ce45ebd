package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Bleve document field names
const (
	fieldFilePath   = "file_path"
	fieldChunkIndex = "chunk_index"
	fieldText       = "text"

	blevePageSize = 1000
)

type bleveDoc struct {
	FilePath   string  `json:"file_path"`
	ChunkIndex float64 `json:"chunk_index"`
	Text       string  `json:"text"`
}

// BleveStore implements FullTextStore on a bleve index
type BleveStore struct {
	index bleve.Index
}

// CreateIndexMapping creates the bleve mapping for chunk documents.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = true
	textField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt(fieldText, textField)

	// Exact match only
	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = keyword.Name
	pathField.Store = true
	docMapping.AddFieldMappingsAt(fieldFilePath, pathField)

	indexField := bleve.NewNumericFieldMapping()
	indexField.Index = false
	indexField.Store = true
	docMapping.AddFieldMappingsAt(fieldChunkIndex, indexField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// NewBleveStore opens the index at path, creating it when absent
func NewBleveStore(path string) (*BleveStore, error) {
	if path == "" {
		return nil, fmt.Errorf("bleve full-text store: empty path")
	}

	index, err := bleve.Open(path)
	if err == nil {
		return &BleveStore{index: index}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	index, err = bleve.New(path, CreateIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &BleveStore{index: index}, nil
}

// Close implements FullTextStore
func (b *BleveStore) Close() error {
	return b.index.Close()
}

func pathQuery(filePath string) query.Query {
	q := bleve.NewTermQuery(filePath)
	q.SetField(fieldFilePath)
	return q
}

// IDsForPath implements FullTextStore
func (b *BleveStore) IDsForPath(ctx context.Context, filePath string) ([]string, error) {
	var ids []string
	for from := 0; ; from += blevePageSize {
		req := bleve.NewSearchRequestOptions(pathQuery(filePath), blevePageSize, from, false)
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to list chunk ids: %w", err)
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < blevePageSize {
			return ids, nil
		}
	}
}

// DeleteByPath implements FullTextStore
func (b *BleveStore) DeleteByPath(ctx context.Context, filePath string) (int, error) {
	ids, err := b.IDsForPath(ctx, filePath)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("batch delete failed: %w", err)
	}
	return len(ids), nil
}

// Insert implements FullTextStore
func (b *BleveStore) Insert(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := b.index.NewBatch()
	for _, r := range rows {
		doc := bleveDoc{FilePath: r.FilePath, ChunkIndex: float64(r.ChunkIndex), Text: r.Text}
		if err := batch.Index(r.ID, doc); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", r.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("batch index failed: %w", err)
	}
	return nil
}

// Search implements FullTextStore
func (b *BleveStore) Search(ctx context.Context, q string, limit int) ([]Hit, error) {
	if sanitizeFTSQuery(q) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = 10
	}

	match := bleve.NewMatchQuery(q)
	match.SetField(fieldText)

	req := bleve.NewSearchRequestOptions(match, limit, 0, false)
	req.Fields = []string{fieldFilePath, fieldChunkIndex, fieldText}

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		if v, ok := h.Fields[fieldFilePath].(string); ok {
			hit.FilePath = v
		}
		if v, ok := h.Fields[fieldChunkIndex].(float64); ok {
			hit.ChunkIndex = int(v)
		}
		if v, ok := h.Fields[fieldText].(string); ok {
			hit.Text = v
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count implements FullTextStore
func (b *BleveStore) Count(_ context.Context) (int, error) {
	n, err := b.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(n), nil
}
