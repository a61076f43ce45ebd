package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/ragsync/internal/vectorstore"
)

// Upsert defaults
const (
	DefaultBatchSize   = 64
	DefaultMinBatch    = 4
	DefaultMaxRetries  = 5
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 30 * time.Second
)

// ErrRetriesExhausted is returned once a slice has failed max_retries times
var ErrRetriesExhausted = errors.New("vector upsert retries exhausted")

// UpsertConfig tunes BatchUpserter
type UpsertConfig struct {
	BatchSize   int
	MinBatch    int
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (c UpsertConfig) withDefaults() UpsertConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MinBatch <= 0 {
		c.MinBatch = DefaultMinBatch
	}
	if c.MinBatch > c.BatchSize {
		c.MinBatch = c.BatchSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	return c
}

// BatchUpserter writes entries to a vector store in slices, shrinking the
// slice and backing off when the store rejects a write.
type BatchUpserter struct {
	cfg    UpsertConfig
	logger *slog.Logger

	// sleep waits for d or until ctx is done; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBatchUpserter creates an upserter. Zero config fields take the defaults.
func NewBatchUpserter(cfg UpsertConfig, logger *slog.Logger) *BatchUpserter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchUpserter{
		cfg:    cfg.withDefaults(),
		logger: logger,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff returns min(base * 2^attempt, cap)
func (u *BatchUpserter) backoff(attempt int) time.Duration {
	d := u.cfg.BackoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= u.cfg.BackoffCap {
			return u.cfg.BackoffCap
		}
	}
	if d > u.cfg.BackoffCap {
		return u.cfg.BackoffCap
	}
	return d
}

// Add writes entries to store and returns how many were committed. Slices
// committed before a failure stay in the store.
func (u *BatchUpserter) Add(ctx context.Context, store vectorstore.Store, entries []vectorstore.Entry) (int, error) {
	committed := 0
	for start := 0; start < len(entries); start += u.cfg.BatchSize {
		end := min(start+u.cfg.BatchSize, len(entries))
		n, err := u.addSlice(ctx, store, entries[start:end])
		committed += n
		if err != nil {
			return committed, err
		}
	}
	return committed, nil
}

// addSlice commits one slice. After a failure the remaining entries are
// retried in pieces half as large as before.
func (u *BatchUpserter) addSlice(ctx context.Context, store vectorstore.Store, slice []vectorstore.Entry) (int, error) {
	size := len(slice)
	committed := 0
	attempt := 0

	for committed < len(slice) {
		if err := ctx.Err(); err != nil {
			return committed, err
		}

		end := min(committed+size, len(slice))
		err := store.Add(ctx, slice[committed:end])
		if err == nil {
			committed = end
			continue
		}

		if attempt >= u.cfg.MaxRetries {
			return committed, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt+1, err)
		}

		wait := u.backoff(attempt)
		size = max(size/2, u.cfg.MinBatch)
		attempt++
		u.logger.Warn("vector upsert failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("next_batch", size),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()))

		if err := u.sleep(ctx, wait); err != nil {
			return committed, err
		}
	}
	return committed, nil
}
