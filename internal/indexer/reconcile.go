package indexer

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// DefaultRescanInterval is the period between full reconciliation passes
const DefaultRescanInterval = 20 * time.Second

// ErrScanInProgress is returned by Rescan when another pass holds the lock
var ErrScanInProgress = errors.New("rescan already in progress")

// RescanResult summarizes one reconciliation pass
type RescanResult struct {
	Submitted int           `json:"submitted"`
	Deferred  int           `json:"deferred"`
	Pruned    int           `json:"pruned"`
	Duration  time.Duration `json:"duration"`
}

// Reconciler periodically walks the watch roots so that missed or dropped
// events are eventually applied, and prunes paths that no longer exist.
type Reconciler struct {
	idx      *Indexer
	pool     *Pool // nil runs re-indexes inline
	roots    []string
	interval time.Duration
	lock     IndexLock
	logger   *slog.Logger

	passes   atomic.Int64
	lastScan atomic.Int64 // Unix nanos
}

// NewReconciler creates a reconciler. A nil pool makes Rescan index files
// on the calling goroutine.
func NewReconciler(idx *Indexer, pool *Pool, roots []string, interval time.Duration, logger *slog.Logger) (*Reconciler, error) {
	abs, err := absRoots(roots)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		idx:      idx,
		pool:     pool,
		roots:    abs,
		interval: interval,
		logger:   logger,
	}, nil
}

// Run performs an initial pass and then one every interval. A non-positive
// interval disables the periodic passes.
func (r *Reconciler) Run(ctx context.Context) error {
	r.tick(ctx)
	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	res, err := r.Rescan(ctx)
	switch {
	case errors.Is(err, ErrScanInProgress):
		r.logger.Debug("previous rescan still running, skipping tick")
	case err != nil:
		if ctx.Err() == nil {
			r.logger.Warn("rescan failed", slog.String("error", err.Error()))
		}
	default:
		r.logger.Debug("rescan complete",
			slog.Int("submitted", res.Submitted),
			slog.Int("deferred", res.Deferred),
			slog.Int("pruned", res.Pruned),
			slog.Duration("duration", res.Duration))
	}
}

// Rescan walks every root, re-indexes each stable, indexable file and then
// removes seen paths whose file is gone.
func (r *Reconciler) Rescan(ctx context.Context) (RescanResult, error) {
	if !r.lock.TryAcquire() {
		return RescanResult{}, ErrScanInProgress
	}
	defer r.lock.Release()

	start := time.Now()
	var res RescanResult
	g := r.idx.Gate()

	for _, root := range r.roots {
		var submitErr error
		walkErr := walkFiles(root, func(path string, _ fs.FileInfo) {
			if submitErr != nil || !g.IsIndexable(path) {
				return
			}
			if !g.IsStable(path) {
				res.Deferred++
				return
			}
			if err := r.submit(ctx, path); err != nil {
				submitErr = err
				return
			}
			res.Submitted++
		})
		if submitErr != nil {
			return res, submitErr
		}
		if walkErr != nil {
			r.logger.Warn("failed to walk root", slog.String("root", root), slog.String("error", walkErr.Error()))
		}
	}

	res.Pruned = r.prune(ctx)
	res.Duration = time.Since(start)
	r.passes.Add(1)
	r.lastScan.Store(time.Now().UnixNano())
	return res, nil
}

func (r *Reconciler) submit(ctx context.Context, path string) error {
	if r.pool == nil {
		if _, err := r.idx.Reindex(ctx, path); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	return r.pool.Submit(ctx, reindexTask(r.idx, path))
}

// prune deletes seen paths that vanished or stopped being indexable
func (r *Reconciler) prune(ctx context.Context) int {
	pruned := 0
	for _, path := range r.idx.Seen().Paths() {
		if ctx.Err() != nil {
			break
		}
		_, err := os.Stat(path)
		if err == nil && r.idx.Gate().IsIndexable(path) {
			continue
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		r.idx.Delete(ctx, path)
		pruned++
	}
	return pruned
}

// Passes returns the number of completed passes and when the last finished
func (r *Reconciler) Passes() (int64, time.Time) {
	var last time.Time
	if ns := r.lastScan.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return r.passes.Load(), last
}

func reindexTask(idx *Indexer, path string) Task {
	return Task{
		Name: "reindex " + path,
		Run: func(ctx context.Context) error {
			_, err := idx.Reindex(ctx, path)
			return err
		},
	}
}
