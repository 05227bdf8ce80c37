package indexsvc

import (
	"context"
	"testing"

	"github.com/kryonlabs/vectordb/internal/annindex"
	"github.com/kryonlabs/vectordb/internal/apierr"
	"github.com/kryonlabs/vectordb/internal/liblock"
	"github.com/kryonlabs/vectordb/internal/recordstore"
	"github.com/kryonlabs/vectordb/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	records, err := recordstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	vectors, err := vectorstore.New(t.TempDir())
	require.NoError(t, err)

	return New(records, vectors, liblock.New(), t.TempDir())
}

func seedLibraryWithVectors(t *testing.T, svc *Service, libraryID string, n, d int) {
	t.Helper()
	require.NoError(t, svc.records.CreateLibrary(&recordstore.Library{ID: libraryID, Name: libraryID}))
	for i := 0; i < n; i++ {
		vec := make([]float32, d)
		for j := range vec {
			vec[j] = float32(i + j)
		}
		idx, err := svc.vectors.Append(libraryID, vec)
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}
}

func TestBuildAndInfo(t *testing.T) {
	svc := newTestService(t)
	seedLibraryWithVectors(t, svc, "lib-1", 10, 4)

	seed := int64(1)
	info, err := svc.Build(context.Background(), "lib-1", annindex.KindHNSW, annindex.BuildParams{Seed: &seed})
	require.NoError(t, err)
	assert.True(t, info.Built)
	assert.Equal(t, 10, info.VectorCount)

	reloaded, err := svc.Info(context.Background(), "lib-1", annindex.KindHNSW)
	require.NoError(t, err)
	assert.Equal(t, info.VectorCount, reloaded.VectorCount)
}

func TestBuildUnknownLibrary(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Build(context.Background(), "missing", annindex.KindFlat, annindex.BuildParams{})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindNotFound, apiErr.Kind)
}

func TestBuildEmptyLibraryIsValidationError(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.records.CreateLibrary(&recordstore.Library{ID: "lib-empty", Name: "empty"}))

	_, err := svc.Build(context.Background(), "lib-empty", annindex.KindFlat, annindex.BuildParams{})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindValidation, apiErr.Kind)
}

func TestInfoWithoutBuildIsNotFound(t *testing.T) {
	svc := newTestService(t)
	seedLibraryWithVectors(t, svc, "lib-1", 3, 2)

	_, err := svc.Info(context.Background(), "lib-1", annindex.KindFlat)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindNotFound, apiErr.Kind)
}

func TestLoadReturnsUsableIndex(t *testing.T) {
	svc := newTestService(t)
	seedLibraryWithVectors(t, svc, "lib-1", 5, 3)

	_, err := svc.Build(context.Background(), "lib-1", annindex.KindFlat, annindex.BuildParams{})
	require.NoError(t, err)

	idx, err := svc.Load(context.Background(), "lib-1", annindex.KindFlat)
	require.NoError(t, err)

	results, err := idx.Search([]float32{0, 1, 2}, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
