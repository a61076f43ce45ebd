package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/ragsync/pkg/types"
)

type memRecord struct {
	embedding []float32
	entry     Entry
}

// Memory is an in-process Store using cosine distance
type Memory struct {
	mu      sync.RWMutex
	records map[string]memRecord
	order   []string // insertion order, for stable Get
}

// NewMemory returns an empty in-memory store
func NewMemory() *Memory {
	return &Memory{records: make(map[string]memRecord)}
}

// Add implements Store
func (m *Memory) Add(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("%w: empty id", ErrInvalidFilter)
		}
		if _, exists := m.records[e.ID]; !exists {
			m.order = append(m.order, e.ID)
		}
		vec := make([]float32, len(e.Embedding))
		copy(vec, e.Embedding)
		m.records[e.ID] = memRecord{embedding: vec, entry: e}
	}
	return nil
}

// Delete implements Store
func (m *Memory) Delete(ctx context.Context, filter Filter) error {
	if err := checkDelete(filter); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	for _, id := range m.order {
		rec := m.records[id]
		if filter.Match(rec.entry.Metadata.ToMap()) {
			delete(m.records, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return nil
}

// Query implements Store
func (m *Memory) Query(ctx context.Context, embeddings [][]float32, n int, filter Filter) (*QueryResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := &QueryResult{}
	for _, q := range embeddings {
		type scored struct {
			id   string
			dist float64
		}
		var cands []scored
		for _, id := range m.order {
			rec := m.records[id]
			if !filter.Match(rec.entry.Metadata.ToMap()) {
				continue
			}
			cands = append(cands, scored{id: id, dist: cosineDistance(q, rec.embedding)})
		}
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
		if n > 0 && len(cands) > n {
			cands = cands[:n]
		}

		ids := make([]string, len(cands))
		docs := make([]string, len(cands))
		metas := make([]types.Metadata, len(cands))
		dists := make([]float64, len(cands))
		for i, c := range cands {
			rec := m.records[c.id]
			ids[i] = c.id
			docs[i] = rec.entry.Document
			metas[i] = rec.entry.Metadata
			dists[i] = c.dist
		}
		res.IDs = append(res.IDs, ids)
		res.Documents = append(res.Documents, docs)
		res.Metadatas = append(res.Metadatas, metas)
		res.Distances = append(res.Distances, dists)
	}
	return res, nil
}

// Get implements Store
func (m *Memory) Get(ctx context.Context, filter Filter, limit int) (*GetResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := &GetResult{}
	for _, id := range m.order {
		if limit > 0 && len(res.IDs) >= limit {
			break
		}
		rec := m.records[id]
		if !filter.Match(rec.entry.Metadata.ToMap()) {
			continue
		}
		res.IDs = append(res.IDs, id)
		res.Documents = append(res.Documents, rec.entry.Document)
		res.Metadatas = append(res.Metadatas, rec.entry.Metadata)
	}
	return res, nil
}

// Count implements Store
func (m *Memory) Count(ctx context.Context, filter Filter) (int, error) {
	res, err := m.Get(ctx, filter, 0)
	if err != nil {
		return 0, err
	}
	return len(res.IDs), nil
}

// Close implements Store
func (m *Memory) Close() error {
	return nil
}
