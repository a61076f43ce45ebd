package indexer

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_DispatchDeleteDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inside := f.writeDoc(t, "team/plan.txt", strings.Repeat("plan ", 10), baseTime)
	outside := f.writeDoc(t, "teammate.txt", strings.Repeat("mate ", 10), baseTime)
	for _, p := range []string{inside, outside} {
		_, err := f.idx.Reindex(ctx, p)
		require.NoError(t, err)
	}

	svc := NewService(f.idx, NewPool(1, 4, nil), nil, nil, nil)
	svc.dispatch(ctx, Event{Op: OpDelete, Path: filepath.Join(f.dir, "team")})

	assert.Equal(t, []string{outside}, f.idx.Seen().Paths())
	assert.Empty(t, f.vectorIDs(t, inside))
}

func TestService_RunHandlesEvents(t *testing.T) {
	f := newFixture(t)
	oldPath := f.writeDoc(t, "draft.txt", strings.Repeat("draft text ", 8), baseTime)
	_, err := f.idx.Reindex(context.Background(), oldPath)
	require.NoError(t, err)

	newPath := f.writeDoc(t, "final.txt", strings.Repeat("final text ", 8), baseTime)
	src := &sliceSource{events: []Event{{Op: OpMove, Path: newPath, OldPath: oldPath}}}

	svc := NewService(f.idx, NewPool(2, 8, nil), src, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		paths := f.idx.Seen().Paths()
		return len(paths) == 1 && paths[0] == newPath
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, f.vectorIDs(t, oldPath))
	assert.Equal(t, f.vectorIDs(t, newPath), f.fullTextIDs(t, newPath))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

// sliceSource replays a fixed list of events
type sliceSource struct {
	events []Event
}

func (s *sliceSource) Run(ctx context.Context, out chan<- Event) error {
	for _, ev := range s.events {
		if !emit(ctx, out, ev) {
			return nil
		}
	}
	<-ctx.Done()
	return nil
}
