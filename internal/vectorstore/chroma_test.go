package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragsync/pkg/types"
)

type fakeChroma struct {
	mu       sync.Mutex
	creates  int
	requests map[string]map[string]any
}

func (f *fakeChroma) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var body map[string]any
		if r.Body != nil && r.Method == http.MethodPost {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		}
		f.requests[r.URL.Path] = body

		switch {
		case r.URL.Path == "/api/v1/collections":
			f.creates++
			_, _ = w.Write([]byte(`{"id":"col-1","name":"activate_rag"}`))
		case strings.HasSuffix(r.URL.Path, "/upsert"), strings.HasSuffix(r.URL.Path, "/delete"):
			_, _ = w.Write([]byte(`[]`))
		case strings.HasSuffix(r.URL.Path, "/query"):
			_, _ = w.Write([]byte(`{"ids":[["/a::0","/b::1"]],"documents":[["alpha",null]],
				"metadatas":[[{"file_path":"/a","chunk_index":0},{"file_path":"/b","chunk_index":1,"title":"B"}]],
				"distances":[[0.1,0.4]]}`))
		case strings.HasSuffix(r.URL.Path, "/get"):
			_, _ = w.Write([]byte(`{"ids":["/a::0","/a::1","/a::2"],"documents":null,"metadatas":null}`))
		case strings.HasSuffix(r.URL.Path, "/count"):
			_, _ = w.Write([]byte(`42`))
		default:
			http.NotFound(w, r)
		}
	})
}

func newFakeChroma(t *testing.T) (*Chroma, *fakeChroma) {
	fake := &fakeChroma{requests: make(map[string]map[string]any)}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	c, err := NewChroma(srv.URL, "activate_rag", srv.Client())
	require.NoError(t, err)
	return c, fake
}

func TestChroma_AddCreatesCollectionOnce(t *testing.T) {
	ctx := context.Background()
	c, fake := newFakeChroma(t)

	e := Entry{ID: "/a::0", Embedding: []float32{1, 2}, Document: "alpha", Metadata: types.Metadata{FilePath: "/a"}}
	require.NoError(t, c.Add(ctx, []Entry{e}))
	require.NoError(t, c.Add(ctx, []Entry{e}))

	assert.Equal(t, 1, fake.creates)
	body := fake.requests["/api/v1/collections/col-1/upsert"]
	require.NotNil(t, body)
	assert.Equal(t, []any{"/a::0"}, body["ids"])

	create := fake.requests["/api/v1/collections"]
	assert.Equal(t, true, create["get_or_create"])
}

func TestChroma_Query(t *testing.T) {
	c, fake := newFakeChroma(t)

	res, err := c.Query(context.Background(), [][]float32{{1, 0}}, 2, Eq("file_path", "/a"))
	require.NoError(t, err)

	results := res.Results(0)
	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Text)
	assert.Equal(t, "", results[1].Text)
	assert.Equal(t, "B", results[1].Metadata.Title)
	assert.InDelta(t, 0.6, *results[1].Similarity, 1e-9)

	body := fake.requests["/api/v1/collections/col-1/query"]
	assert.Equal(t, map[string]any{"file_path": map[string]any{"$eq": "/a"}}, body["where"])
}

func TestChroma_Count(t *testing.T) {
	ctx := context.Background()
	c, _ := newFakeChroma(t)

	n, err := c.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = c.Count(ctx, Eq("file_path", "/a"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestChroma_DeleteSendsWhere(t *testing.T) {
	c, fake := newFakeChroma(t)

	require.NoError(t, c.Delete(context.Background(), Eq("file_path", "/a")))
	body := fake.requests["/api/v1/collections/col-1/delete"]
	assert.NotNil(t, body["where"])

	assert.ErrorIs(t, c.Delete(context.Background(), Filter{}), ErrInvalidFilter)
}

func TestChroma_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewChroma(srv.URL, "x", srv.Client())
	require.NoError(t, err)

	_, err = c.Count(context.Background(), Filter{})
	assert.ErrorIs(t, err, ErrBackend)
}
