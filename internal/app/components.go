package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/ragsync/internal/config"
	"github.com/dshills/ragsync/internal/embedder"
	"github.com/dshills/ragsync/internal/extract"
	"github.com/dshills/ragsync/internal/gate"
	"github.com/dshills/ragsync/internal/httpclient"
	"github.com/dshills/ragsync/internal/indexer"
	"github.com/dshills/ragsync/internal/packer"
	"github.com/dshills/ragsync/internal/proxy"
	"github.com/dshills/ragsync/internal/retriever"
	"github.com/dshills/ragsync/internal/storage"
	"github.com/dshills/ragsync/internal/tokenizer"
	"github.com/dshills/ragsync/internal/vectorstore"
)

// vectorStoreTimeout bounds each call to a remote vector store
const vectorStoreTimeout = 30 * time.Second

// Stores holds the shared collaborators of the indexer and the retriever.
// One embedder instance serves both so its cache is shared.
type Stores struct {
	Vectors  vectorstore.Store
	FullText storage.FullTextStore
	Embedder embedder.Embedder
}

// OpenStores connects the vector store, opens the full-text store and
// creates the embedder. On error everything opened so far is closed.
func OpenStores(s *config.Settings) (*Stores, error) {
	vectors, err := vectorstore.New(vectorstore.Config{
		Backend:    s.VectorStore.Backend,
		URL:        s.VectorStore.URL,
		Collection: s.VectorStore.Collection,
		Dimension:  s.VectorStore.Dimension,
		Client:     httpclient.New(s.Embedding.ConnectTimeout, vectorStoreTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	fulltext, err := storage.Open(storage.Config{
		Backend: s.FullText.Backend,
		Path:    s.FullText.Path,
	})
	if err != nil {
		_ = vectors.Close()
		return nil, fmt.Errorf("failed to open full-text store: %w", err)
	}

	emb, err := embedder.New(embedder.Config{
		Provider:          s.Embedding.Provider,
		URL:               s.Embedding.URL,
		Model:             s.Embedding.Model,
		APIKey:            s.Embedding.APIKey,
		BatchSize:         s.Embedding.BatchSize,
		CacheSize:         s.Embedding.CacheSize,
		RequestsPerSecond: s.Embedding.RequestsPerSecond,
		Dimension:         s.Embedding.Dimension,
		ConnectTimeout:    s.Embedding.ConnectTimeout,
		Timeout:           s.Embedding.Timeout,
		MaxRetries:        s.Embedding.MaxRetries,
	})
	if err != nil {
		_ = fulltext.Close()
		_ = vectors.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &Stores{Vectors: vectors, FullText: fulltext, Embedder: emb}, nil
}

// Close releases all stores
func (st *Stores) Close() error {
	return errors.Join(st.Embedder.Close(), st.FullText.Close(), st.Vectors.Close())
}

// NewIndexService wires the sync engine: gate, indexer, worker pool, change
// source (fsnotify or polling) and the reconciler.
func NewIndexService(s *config.Settings, st *Stores, logger *slog.Logger) (*indexer.Service, error) {
	cfg := s.Indexer
	g, err := gate.New(gate.Config{
		IncludeExt:   cfg.IncludeExt,
		ExcludeGlobs: cfg.ExcludeGlobs,
		QuietPeriod:  cfg.QuietPeriod(),
	})
	if err != nil {
		return nil, fmt.Errorf("invalid gate configuration: %w", err)
	}

	idx, err := indexer.New(indexer.Deps{
		Gate:      g,
		Extractor: extract.NewRegistry(),
		Embedder:  st.Embedder,
		Vectors:   st.Vectors,
		FullText:  st.FullText,
		Logger:    logger,
	}, indexer.Config{
		ChunkSize:        cfg.ChunkChars,
		ChunkOverlap:     cfg.ChunkOverlap,
		HashContent:      cfg.HashContent,
		Verify:           cfg.Verify,
		EmbedBatch:       cfg.EmbedBatch,
		EmbedConcurrency: int64(cfg.EmbedConcurrency),
		Upsert: indexer.UpsertConfig{
			BatchSize:   cfg.BatchSize,
			MinBatch:    cfg.MinBatch,
			MaxRetries:  cfg.MaxRetries,
			BackoffBase: cfg.BackoffBase,
			BackoffCap:  cfg.BackoffCap,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create indexer: %w", err)
	}

	pool := indexer.NewPool(cfg.Workers, cfg.QueueSize, logger)

	var source indexer.EventSource
	if cfg.Poll {
		source, err = indexer.NewPoller(cfg.WatchPaths, cfg.PollInterval, logger)
	} else {
		source, err = indexer.NewWatcher(cfg.WatchPaths, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create change source: %w", err)
	}

	reconciler, err := indexer.NewReconciler(idx, pool, cfg.WatchPaths, cfg.RescanInterval, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconciler: %w", err)
	}

	return indexer.NewService(idx, pool, source, reconciler, logger), nil
}

// NewSearcher returns the local retriever, or a client for the remote search
// service when search.mode is remote. st may be nil in remote mode.
func NewSearcher(s *config.Settings, st *Stores, logger *slog.Logger) (retriever.Searcher, error) {
	if s.Search.Mode == config.SearchModeRemote {
		client := httpclient.New(s.Proxy.ConnectTimeout, s.Proxy.HTTPTimeout)
		return retriever.NewClient(s.Search.URL, client), nil
	}
	if st == nil {
		return nil, errors.New("local search requires open stores")
	}
	return retriever.New(st.Vectors, st.FullText, st.Embedder, logger), nil
}

// NewPacker picks the backend tokenizer when tokenizer.url is set. Without
// one the packer estimates from characters and reports it.
func NewPacker(s *config.Settings, logger *slog.Logger) *packer.Packer {
	var counter tokenizer.Counter
	if s.Tokenizer.URL != "" {
		model := s.Tokenizer.Model
		if model == "" {
			model = s.Proxy.Model
		}
		counter = tokenizer.NewHTTP(s.Tokenizer.URL, model, httpclient.New(s.Proxy.ConnectTimeout, s.Proxy.HTTPTimeout))
	}
	return packer.New(counter, packer.Config{
		Reserve:         s.Proxy.Reserve,
		MaxContextChars: s.Proxy.MaxContextChars,
	}, logger)
}

// NewProxy builds the RAG proxy around searcher
func NewProxy(s *config.Settings, searcher retriever.Searcher, version string, logger *slog.Logger) *proxy.Proxy {
	p := s.Proxy
	backend := proxy.NewBackend(proxy.BackendConfig{
		BaseURL:        p.BackendURL,
		APIKey:         p.APIKey,
		Timeout:        p.HTTPTimeout,
		ConnectTimeout: p.ConnectTimeout,
	})
	searchURL := "local"
	if s.Search.Mode == config.SearchModeRemote {
		searchURL = s.Search.URL
	}
	return proxy.New(proxy.Config{
		Model:        p.Model,
		MaxContext:   p.MaxContext,
		MaxTokens:    p.MaxTokens,
		Temperature:  p.Temperature,
		TopK:         p.TopK,
		SystemPrompt: p.SystemPrompt,
		FailOpen:     p.FailOpen,
		SearchURL:    searchURL,
		Version:      version,
	}, backend, searcher, NewPacker(s, logger), logger)
}
