package indexer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsTasksAndSurvivesFailures(t *testing.T) {
	pool := NewPool(2, 16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	var ran atomic.Int32
	ok := Task{Name: "ok", Run: func(context.Context) error { ran.Add(1); return nil }}
	bad := Task{Name: "bad", Run: func(context.Context) error { return errors.New("boom") }}
	panicky := Task{Name: "panic", Run: func(context.Context) error { panic("unexpected") }}

	for _, task := range []Task{ok, bad, panicky, ok, ok} {
		require.NoError(t, pool.Submit(ctx, task))
	}

	require.Eventually(t, func() bool {
		s := pool.Stats()
		return s.Completed+s.Failed == 5
	}, 2*time.Second, 5*time.Millisecond)

	stats := pool.Stats()
	assert.Equal(t, int64(5), stats.Submitted)
	assert.Equal(t, int64(3), stats.Completed)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Panicked)
	assert.Equal(t, int32(3), ran.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPool_DrainsWithCancelledContext(t *testing.T) {
	pool := NewPool(1, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var sawCancelled atomic.Int32
	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Submit(context.Background(), Task{
			Name: "queued",
			Run: func(ctx context.Context) error {
				if ctx.Err() != nil {
					sawCancelled.Add(1)
				}
				return nil
			},
		}))
	}

	cancel()
	require.NoError(t, pool.Run(ctx))
	assert.Zero(t, pool.Stats().Queued)
	assert.Equal(t, int64(3), pool.Stats().Completed)
	assert.Equal(t, int32(3), sawCancelled.Load())
}

func TestPool_SubmitRespectsContext(t *testing.T) {
	pool := NewPool(1, 1, nil)
	require.NoError(t, pool.Submit(context.Background(), Task{Name: "fill", Run: func(context.Context) error { return nil }}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, Task{Name: "blocked", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaultWorkers(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultWorkers(), 4)
	assert.Equal(t, DefaultWorkers(), NewPool(0, 0, nil).Stats().Workers)
}
