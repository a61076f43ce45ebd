package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dshills/ragsync/internal/embedder"
	"github.com/dshills/ragsync/internal/storage"
	"github.com/dshills/ragsync/internal/vectorstore"
	"github.com/dshills/ragsync/pkg/types"
)

// Mode defines how search is performed
type Mode string

const (
	ModeVector  Mode = "vector"  // Vector similarity only
	ModeKeyword Mode = "keyword" // Full-text only
	ModeHybrid  Mode = "hybrid"  // Vector + full-text with RRF
)

const (
	DefaultK = 4
	MaxK     = 50

	// widenFactor multiplies K for the second query when PathContains
	// filtered away too many hits
	widenFactor = 4

	// rrfK is the k constant of Reciprocal Rank Fusion
	rrfK = 60.0
)

var (
	ErrEmptyQuery      = errors.New("query cannot be empty")
	ErrUnsupportedMode = errors.New("unsupported search mode")
	ErrNoFullText      = errors.New("full-text store not configured")
)

// PathFilter restricts results to exact file paths. Eq wins over In.
type PathFilter struct {
	Eq string
	In []string
}

// Filter converts the restriction to a store filter
func (p PathFilter) Filter() vectorstore.Filter {
	if p.Eq != "" {
		return vectorstore.Eq("file_path", p.Eq)
	}
	if len(p.In) > 0 {
		values := make([]any, len(p.In))
		for i, v := range p.In {
			values[i] = v
		}
		return vectorstore.In("file_path", values...)
	}
	return vectorstore.Filter{}
}

// Query contains parameters for a search operation
type Query struct {
	Text         string
	K            int
	Paths        PathFilter
	Where        vectorstore.Filter // Extra metadata filter, combined with Paths
	PathContains string             // Case-insensitive substring of file_path
	Mode         Mode               // Defaults to ModeVector
}

func (q Query) where() vectorstore.Filter {
	return vectorstore.And(q.Where, q.Paths.Filter())
}

// Searcher is anything that answers a Query
type Searcher interface {
	Search(ctx context.Context, q Query) ([]types.SearchResult, error)
}

// Retriever answers queries from the local stores
type Retriever struct {
	vectors  vectorstore.Store
	fulltext storage.FullTextStore // Optional, needed for keyword and hybrid
	embedder embedder.Embedder
	logger   *slog.Logger
}

// New creates a Retriever. fulltext may be nil.
func New(vectors vectorstore.Store, fulltext storage.FullTextStore, emb embedder.Embedder, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		vectors:  vectors,
		fulltext: fulltext,
		embedder: emb,
		logger:   logger,
	}
}

// Search returns at most K results, nearest first
func (r *Retriever) Search(ctx context.Context, q Query) ([]types.SearchResult, error) {
	if err := normalizeQuery(&q); err != nil {
		return nil, err
	}
	if err := q.where().Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	results, err := r.searchMode(ctx, q, q.K)
	if err != nil {
		return nil, err
	}

	if q.PathContains != "" {
		results, err = r.widen(ctx, q, results)
		if err != nil {
			return nil, err
		}
	}
	if len(results) > q.K {
		results = results[:q.K]
	}

	r.logger.Debug("search",
		slog.String("mode", string(q.Mode)),
		slog.Int("k", q.K),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))
	return results, nil
}

func normalizeQuery(q *Query) error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return ErrEmptyQuery
	}
	if q.K <= 0 {
		q.K = DefaultK
	}
	if q.K > MaxK {
		q.K = MaxK
	}
	if q.Mode == "" {
		q.Mode = ModeVector
	}
	return nil
}

func (r *Retriever) searchMode(ctx context.Context, q Query, n int) ([]types.SearchResult, error) {
	switch q.Mode {
	case ModeVector:
		return r.vectorSearch(ctx, q, n)
	case ModeKeyword:
		return r.keywordSearch(ctx, q, n)
	case ModeHybrid:
		return r.hybridSearch(ctx, q, n)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, q.Mode)
	}
}

// widen keeps the hits whose path contains the needle and, if fewer than K
// remain, runs the query again with widenFactor*K and tops up from it.
func (r *Retriever) widen(ctx context.Context, q Query, first []types.SearchResult) ([]types.SearchResult, error) {
	needle := strings.ToLower(q.PathContains)
	matches := func(res types.SearchResult) bool {
		return strings.Contains(strings.ToLower(res.Metadata.FilePath), needle)
	}

	kept := make([]types.SearchResult, 0, q.K)
	seen := make(map[string]bool)
	for _, res := range first {
		if matches(res) && !seen[res.ID] {
			kept = append(kept, res)
			seen[res.ID] = true
		}
	}
	if len(kept) >= q.K {
		return kept, nil
	}

	wider, err := r.searchMode(ctx, q, q.K*widenFactor)
	if err != nil {
		return nil, err
	}
	for _, res := range wider {
		if len(kept) >= q.K {
			break
		}
		if matches(res) && !seen[res.ID] {
			kept = append(kept, res)
			seen[res.ID] = true
		}
	}
	return kept, nil
}

func (r *Retriever) embedQuery(ctx context.Context, text string) ([]float32, error) {
	emb, err := r.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	return emb.Vector, nil
}

// vectorSearch performs only vector similarity search
func (r *Retriever) vectorSearch(ctx context.Context, q Query, n int) ([]types.SearchResult, error) {
	vec, err := r.embedQuery(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	res, err := r.vectors.Query(ctx, [][]float32{vec}, n, q.where())
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	results := res.Results(0)
	sortByDistance(results)
	return results, nil
}

// keywordSearch performs only full-text search. Results carry no distance.
func (r *Retriever) keywordSearch(ctx context.Context, q Query, n int) ([]types.SearchResult, error) {
	if r.fulltext == nil {
		return nil, ErrNoFullText
	}
	where := q.where()

	// Over-fetch when a metadata filter will discard hits afterwards
	limit := n
	if !where.IsZero() {
		limit = n * widenFactor
	}
	hits, err := r.fulltext.Search(ctx, q.Text, limit)
	if err != nil {
		if errors.Is(err, storage.ErrEmptyQuery) {
			return nil, nil
		}
		return nil, fmt.Errorf("full-text search failed: %w", err)
	}

	results := make([]types.SearchResult, 0, len(hits))
	for _, h := range hits {
		meta := types.Metadata{FilePath: h.FilePath, ChunkIndex: h.ChunkIndex}
		if !where.Match(meta.ToMap()) {
			continue
		}
		results = append(results, types.NewSearchResult(h.ID, h.Text, meta, nil))
		if len(results) >= n {
			break
		}
	}
	return results, nil
}

// rankedResult represents a hit with its fused score
type rankedResult struct {
	result types.SearchResult
	score  float64
}

// hybridSearch combines vector and full-text search using Reciprocal Rank
// Fusion. Either side may fail as long as the other succeeds.
func (r *Retriever) hybridSearch(ctx context.Context, q Query, n int) ([]types.SearchResult, error) {
	type sideResult struct {
		results []types.SearchResult
		err     error
	}
	vectorCh := make(chan sideResult, 1)
	textCh := make(chan sideResult, 1)

	go func() {
		res, err := r.vectorSearch(ctx, q, n*2)
		vectorCh <- sideResult{res, err}
	}()
	go func() {
		res, err := r.keywordSearch(ctx, q, n*2)
		textCh <- sideResult{res, err}
	}()

	var vectorRes, textRes sideResult
	for got := 0; got < 2; got++ {
		select {
		case vectorRes = <-vectorCh:
		case textRes = <-textCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if vectorRes.err != nil && textRes.err != nil {
		return nil, fmt.Errorf("both searches failed: vector=%w, text=%v", vectorRes.err, textRes.err)
	}
	if vectorRes.err != nil {
		r.logger.Warn("vector side of hybrid search failed", slog.String("error", vectorRes.err.Error()))
	}
	if textRes.err != nil {
		r.logger.Warn("text side of hybrid search failed", slog.String("error", textRes.err.Error()))
	}

	fused := applyRRF(vectorRes.results, textRes.results)
	if len(fused) > n {
		fused = fused[:n]
	}
	out := make([]types.SearchResult, len(fused))
	for i, rr := range fused {
		out[i] = rr.result
	}
	return out, nil
}

// applyRRF fuses ranked lists: RRF(d) = sum 1/(k + rank(d)). Vector hits
// win the tie for which copy of a result is kept since they carry distances.
func applyRRF(vectorResults, textResults []types.SearchResult) []rankedResult {
	byID := make(map[string]*rankedResult)
	order := make([]string, 0, len(vectorResults)+len(textResults))

	add := func(list []types.SearchResult) {
		for rank, res := range list {
			rr, ok := byID[res.ID]
			if !ok {
				rr = &rankedResult{result: res}
				byID[res.ID] = rr
				order = append(order, res.ID)
			}
			rr.score += 1.0 / (rrfK + float64(rank+1))
		}
	}
	add(vectorResults)
	add(textResults)

	out := make([]rankedResult, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].score > out[j].score
	})
	return out
}

// sortByDistance orders results nearest first; results without a distance
// keep their relative order after those with one.
func sortByDistance(results []types.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		di, dj := results[i].Distance, results[j].Distance
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return *di < *dj
		}
	})
}
