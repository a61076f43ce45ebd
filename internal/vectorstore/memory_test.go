package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragsync/pkg/types"
)

func entry(path string, i int, vec ...float32) Entry {
	return Entry{
		ID:        types.ChunkID(path, i),
		Embedding: vec,
		Document:  path,
		Metadata:  types.Metadata{FilePath: path, ChunkIndex: i},
	}
}

func TestMemory_QueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Add(ctx, []Entry{
		entry("/a", 0, 1, 0),
		entry("/b", 0, 0, 1),
		entry("/c", 0, 1, 1),
	}))

	res, err := m.Query(ctx, [][]float32{{1, 0}}, 2, Filter{})
	require.NoError(t, err)
	require.Len(t, res.IDs, 1)
	assert.Equal(t, []string{"/a::0", "/c::0"}, res.IDs[0])
	assert.InDelta(t, 0.0, res.Distances[0][0], 1e-9)

	results := res.Results(0)
	require.Len(t, results, 2)
	require.NotNil(t, results[0].Similarity)
	assert.InDelta(t, 1.0, *results[0].Similarity, 1e-9)
}

func TestMemory_FilteredOperations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Add(ctx, []Entry{
		entry("/a", 0, 1, 0),
		entry("/a", 1, 1, 0),
		entry("/b", 0, 1, 0),
	}))

	n, err := m.Count(ctx, Eq("file_path", "/a"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := m.Get(ctx, Filter{}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a::0", "/a::1"}, got.IDs)

	require.NoError(t, m.Delete(ctx, Eq("file_path", "/a")))
	n, err = m.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemory_AddReplacesByID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Add(ctx, []Entry{entry("/a", 0, 1, 0)}))

	e := entry("/a", 0, 0, 1)
	e.Document = "updated"
	require.NoError(t, m.Add(ctx, []Entry{e}))

	got, err := m.Get(ctx, Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, got.IDs, 1)
	assert.Equal(t, "updated", got.Documents[0])
}

func TestMemory_RejectsUnfilteredDelete(t *testing.T) {
	m := NewMemory()
	assert.ErrorIs(t, m.Delete(context.Background(), Filter{}), ErrInvalidFilter)
}

func TestMemory_InvalidFilter(t *testing.T) {
	m := NewMemory()
	_, err := m.Query(context.Background(), [][]float32{{1}}, 1, Eq("bogus", 1))
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestNew_Backends(t *testing.T) {
	s, err := New(Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = New(Config{Backend: "milvus"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
