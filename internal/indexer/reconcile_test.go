package indexer

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciler_RescanIndexesAndPrunes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.writeDoc(t, "a.txt", strings.Repeat("first document ", 6), baseTime)
	b := f.writeDoc(t, "nested/b.md", "# B\n\n"+strings.Repeat("second ", 10), baseTime)
	f.writeDoc(t, ".hidden.txt", "ignored", baseTime)
	f.writeDoc(t, "image.png", "not text", baseTime)

	rec, err := NewReconciler(f.idx, nil, []string{f.dir}, 0, nil)
	require.NoError(t, err)

	res, err := rec.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Submitted)
	assert.Zero(t, res.Pruned)
	assert.Equal(t, []string{a, b}, f.idx.Seen().Paths())

	require.NoError(t, os.Remove(a))
	res, err = rec.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pruned)
	assert.Equal(t, []string{b}, f.idx.Seen().Paths())
	assert.Empty(t, f.vectorIDs(t, a))
	assert.Empty(t, f.fullTextIDs(t, a))

	passes, last := rec.Passes()
	assert.Equal(t, int64(2), passes)
	assert.False(t, last.IsZero())
}

func TestReconciler_SkipsWhileScanRunning(t *testing.T) {
	f := newFixture(t)
	rec, err := NewReconciler(f.idx, nil, []string{t.TempDir()}, 0, nil)
	require.NoError(t, err)

	require.True(t, rec.lock.TryAcquire())
	_, err = rec.Rescan(context.Background())
	assert.ErrorIs(t, err, ErrScanInProgress)

	rec.lock.Release()
	_, err = rec.Rescan(context.Background())
	assert.NoError(t, err)
}

func TestReconciler_SubmitsToPool(t *testing.T) {
	f := newFixture(t)
	path := f.writeDoc(t, "pooled.txt", strings.Repeat("through the pool ", 5), baseTime)

	pool := NewPool(2, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Run(ctx) }()

	rec, err := NewReconciler(f.idx, pool, []string{f.dir}, time.Hour, nil)
	require.NoError(t, err)
	go func() { _ = rec.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := f.idx.Seen().Get(path)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestIndexLock(t *testing.T) {
	var l IndexLock
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}
