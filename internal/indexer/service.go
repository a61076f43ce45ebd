package indexer

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
)

// eventBuffer is the capacity of the channel between source and dispatcher
const eventBuffer = 256

// Service runs the sync engine: an event source and the reconciler both
// feed re-index tasks into one worker pool.
type Service struct {
	idx        *Indexer
	pool       *Pool
	source     EventSource
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewService wires the engine. source may be nil to rely on rescans alone.
func NewService(idx *Indexer, pool *Pool, source EventSource, reconciler *Reconciler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		idx:        idx,
		pool:       pool,
		source:     source,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled or a component fails
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	events := make(chan Event, eventBuffer)

	g.Go(func() error {
		return s.pool.Run(gctx)
	})
	if s.source != nil {
		g.Go(func() error {
			return s.source.Run(gctx, events)
		})
	}
	g.Go(func() error {
		s.dispatchLoop(gctx, events)
		return nil
	})
	if s.reconciler != nil {
		g.Go(func() error {
			return s.reconciler.Run(gctx)
		})
	}

	return g.Wait()
}

func (s *Service) dispatchLoop(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			s.dispatch(ctx, ev)
		}
	}
}

// dispatch applies one event. Deletes run inline so they are ordered with
// respect to later events for the same path.
func (s *Service) dispatch(ctx context.Context, ev Event) {
	s.logger.Debug("event", slog.String("op", ev.Op.String()), slog.String("path", ev.Path))

	switch ev.Op {
	case OpCreate, OpModify:
		s.submitReindex(ctx, ev.Path)
	case OpDelete:
		s.deletePath(ctx, ev.Path)
	case OpMove:
		s.deletePath(ctx, ev.OldPath)
		s.submitReindex(ctx, ev.Path)
	}
}

func (s *Service) submitReindex(ctx context.Context, path string) {
	g := s.idx.Gate()
	if !g.IsIndexable(path) {
		return
	}
	if !g.IsStable(path) {
		s.logger.Debug("file not yet stable, deferring to rescan", slog.String("path", path))
		return
	}
	if err := s.pool.Submit(ctx, reindexTask(s.idx, path)); err != nil && ctx.Err() == nil {
		s.logger.Warn("failed to queue re-index", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// deletePath removes path, or every seen path below it when path was a
// directory.
func (s *Service) deletePath(ctx context.Context, path string) {
	if path == "" {
		return
	}
	seen := s.idx.Seen()
	if _, ok := seen.Get(path); ok {
		s.idx.Delete(ctx, path)
		return
	}
	prefix := strings.TrimSuffix(path, string(os.PathSeparator)) + string(os.PathSeparator)
	for _, p := range seen.Paths() {
		if strings.HasPrefix(p, prefix) {
			s.idx.Delete(ctx, p)
		}
	}
}

// Indexer returns the underlying indexer
func (s *Service) Indexer() *Indexer {
	return s.idx
}

// Pool returns the worker pool
func (s *Service) Pool() *Pool {
	return s.pool
}

// Reconciler returns the reconciler, or nil
func (s *Service) Reconciler() *Reconciler {
	return s.reconciler
}
