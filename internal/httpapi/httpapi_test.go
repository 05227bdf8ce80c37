package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kryonlabs/vectordb/internal/embedding"
	"github.com/kryonlabs/vectordb/internal/indexsvc"
	"github.com/kryonlabs/vectordb/internal/liblock"
	"github.com/kryonlabs/vectordb/internal/querysvc"
	"github.com/kryonlabs/vectordb/internal/recordstore"
	"github.com/kryonlabs/vectordb/internal/vectorstore"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	records, err := recordstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	vectors, err := vectorstore.New(t.TempDir())
	require.NoError(t, err)

	locks := liblock.New()
	indexSvc := indexsvc.New(records, vectors, locks, t.TempDir())
	querySvc := querysvc.New(indexSvc, records)

	return New(records, vectors, locks, indexSvc, querySvc, embedding.NewHash(4), nil)
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndGetLibrary(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": "docs"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created recordstore.Library
	decodeBody(t, rec, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "docs", created.Name)
	assert.Equal(t, "l2", created.DistanceMetric)
	assert.Equal(t, "HNSW", created.IndexKind)

	rec = doRequest(t, s, http.MethodGet, "/libraries/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateLibraryRejectsEmptyName(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMissingLibraryIsNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/libraries/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListLibraries(t *testing.T) {
	s := newTestServer(t)
	doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": "a"})
	doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": "b"})

	rec := doRequest(t, s, http.MethodGet, "/libraries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var libs []recordstore.Library
	decodeBody(t, rec, &libs)
	assert.Len(t, libs, 2)
}

func TestDeleteLibrary(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": "docs"})
	var lib recordstore.Library
	decodeBody(t, rec, &lib)

	rec = doRequest(t, s, http.MethodDelete, "/libraries/"+lib.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/libraries/"+lib.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateChunkAutoEmbedsWhenVectorOmitted(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": "docs"})
	var lib recordstore.Library
	decodeBody(t, rec, &lib)

	rec = doRequest(t, s, http.MethodPost, "/libraries/"+lib.ID+"/chunks", map[string]any{
		"text":     "hello world",
		"metadata": map[string]any{"source": "a"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var chunk recordstore.Chunk
	decodeBody(t, rec, &chunk)
	assert.Equal(t, "hello world", chunk.Text)
	assert.Equal(t, 0, chunk.VectorIndex)
}

func TestCreateChunkRejectsEmptyText(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": "docs"})
	var lib recordstore.Library
	decodeBody(t, rec, &lib)

	rec = doRequest(t, s, http.MethodPost, "/libraries/"+lib.ID+"/chunks", map[string]any{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuildIndexAndSearch(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": "docs"})
	var lib recordstore.Library
	decodeBody(t, rec, &lib)

	chunks := []map[string]any{
		{"text": "apple pie", "vector": []float32{1, 0, 0, 0}, "metadata": map[string]any{"source": "a"}},
		{"text": "banana split", "vector": []float32{0, 1, 0, 0}, "metadata": map[string]any{"source": "b"}},
	}
	for _, c := range chunks {
		rec = doRequest(t, s, http.MethodPost, "/libraries/"+lib.ID+"/chunks", c)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/libraries/"+lib.ID+"/index", map[string]any{"kind": "FLAT"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/libraries/"+lib.ID+"/index?index_type=FLAT", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/libraries/"+lib.ID+"/search", map[string]any{
		"vector": []float32{1, 0, 0, 0},
		"k":      5,
		"kind":   "FLAT",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var results []searchResponseItem
	decodeBody(t, rec, &results)
	require.Len(t, results, 2)
	assert.Equal(t, "apple pie", results[0].Chunk.Text)
}

func TestSearchWithFilter(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": "docs"})
	var lib recordstore.Library
	decodeBody(t, rec, &lib)

	chunks := []map[string]any{
		{"text": "c0", "vector": []float32{1, 0, 0, 0}, "metadata": map[string]any{"source": "a", "page": 1}},
		{"text": "c1", "vector": []float32{0, 1, 0, 0}, "metadata": map[string]any{"source": "a", "page": 3}},
		{"text": "c2", "vector": []float32{0, 0, 1, 0}, "metadata": map[string]any{"source": "b", "page": 2}},
	}
	for _, c := range chunks {
		rec = doRequest(t, s, http.MethodPost, "/libraries/"+lib.ID+"/chunks", c)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec = doRequest(t, s, http.MethodPost, "/libraries/"+lib.ID+"/index", map[string]any{"kind": "FLAT"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/libraries/"+lib.ID+"/search", map[string]any{
		"vector": []float32{1, 0, 0, 0},
		"k":      10,
		"kind":   "FLAT",
		"filter": map[string]any{"source": "a", "page": map[string]any{"$gt": 1}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var results []searchResponseItem
	decodeBody(t, rec, &results)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].Chunk.Text)
}

// A search against a library with no built index is a 400, not a 404:
// spec.md §6 calls this out explicitly, and the original's
// query_service.search() raises the same ValueError for a missing
// library, a missing index, and an invalid k — there is no 404 branch
// in its search router.
func TestSearchMissingLibraryIsValidationError(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/libraries/nope/search", map[string]any{
		"vector": []float32{1, 0}, "k": 5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchRejectsNonPositiveK(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": "docs"})
	var lib recordstore.Library
	decodeBody(t, rec, &lib)

	rec = doRequest(t, s, http.MethodPost, "/libraries/"+lib.ID+"/search", map[string]any{
		"vector": []float32{1, 0}, "k": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchRejectsUnknownKind(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": "docs"})
	var lib recordstore.Library
	decodeBody(t, rec, &lib)

	rec = doRequest(t, s, http.MethodPost, "/libraries/"+lib.ID+"/search", map[string]any{
		"vector": []float32{1, 0}, "k": 5, "kind": "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndexInfoRejectsUnknownKind(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": "docs"})
	var lib recordstore.Library
	decodeBody(t, rec, &lib)

	rec = doRequest(t, s, http.MethodGet, "/libraries/"+lib.ID+"/index?index_type=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteChunkTombstonesVector(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": "docs"})
	var lib recordstore.Library
	decodeBody(t, rec, &lib)

	rec = doRequest(t, s, http.MethodPost, "/libraries/"+lib.ID+"/chunks", map[string]any{
		"text": "c0", "vector": []float32{1, 0, 0, 0},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var chunk recordstore.Chunk
	decodeBody(t, rec, &chunk)

	rec = doRequest(t, s, http.MethodDelete, "/libraries/"+lib.ID+"/chunks/"+chunk.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/libraries/"+lib.ID+"/chunks/"+chunk.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The slot stays in place, zeroed.
	rows, err := s.vectors.LoadAll(lib.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []float32{0, 0, 0, 0}, rows[chunk.VectorIndex])
}

func TestUpdateLibrary(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": "docs"})
	var lib recordstore.Library
	decodeBody(t, rec, &lib)

	rec = doRequest(t, s, http.MethodPut, "/libraries/"+lib.ID, map[string]any{"name": "renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated recordstore.Library
	decodeBody(t, rec, &updated)
	assert.Equal(t, "renamed", updated.Name)
}

func TestListDocumentsAndChunks(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": "docs"})
	var lib recordstore.Library
	decodeBody(t, rec, &lib)

	doRequest(t, s, http.MethodPost, "/libraries/"+lib.ID+"/documents", map[string]any{"source": "f.txt"})
	doRequest(t, s, http.MethodPost, "/libraries/"+lib.ID+"/chunks", map[string]any{"text": "c0", "vector": []float32{1, 0}})

	rec = doRequest(t, s, http.MethodGet, "/libraries/"+lib.ID+"/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []recordstore.Document
	decodeBody(t, rec, &docs)
	assert.Len(t, docs, 1)

	rec = doRequest(t, s, http.MethodGet, "/libraries/"+lib.ID+"/chunks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chunks []recordstore.Chunk
	decodeBody(t, rec, &chunks)
	assert.Len(t, chunks, 1)
}

func TestUpdateChunk(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/libraries", map[string]any{"name": "docs"})
	var lib recordstore.Library
	decodeBody(t, rec, &lib)

	rec = doRequest(t, s, http.MethodPost, "/libraries/"+lib.ID+"/chunks", map[string]any{"text": "old", "vector": []float32{1, 0}})
	var chunk recordstore.Chunk
	decodeBody(t, rec, &chunk)

	rec = doRequest(t, s, http.MethodPut, "/libraries/"+lib.ID+"/chunks/"+chunk.ID, map[string]any{"text": "new"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated recordstore.Chunk
	decodeBody(t, rec, &updated)
	assert.Equal(t, "new", updated.Text)
	assert.Equal(t, chunk.VectorIndex, updated.VectorIndex)
}
