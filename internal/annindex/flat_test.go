package annindex

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFlatTrivial is scenario S1 from spec.md §8.
func TestFlatTrivial(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	f := NewFlat()
	require.NoError(t, f.Build(vectors, BuildParams{DistanceMetric: "l2"}))

	results, err := f.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, 0, results[0].Index)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-9)
	assert.Equal(t, 1, results[1].Index) // tie between id 1 and 2 broken by smaller id
	assert.InDelta(t, math.Sqrt2, results[1].Distance, 1e-9)
}

func TestFlatEmptyBuild(t *testing.T) {
	f := NewFlat()
	require.NoError(t, f.Build(nil, BuildParams{}))

	results, err := f.Search([]float32{1, 2, 3}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFlatNotBuilt(t *testing.T) {
	f := NewFlat()
	_, err := f.Search([]float32{1, 2}, 1)
	assert.ErrorIs(t, err, ErrNotBuilt)
}

func TestFlatDimensionMismatch(t *testing.T) {
	f := NewFlat()
	require.NoError(t, f.Build([][]float32{{1, 2, 3}}, BuildParams{}))
	_, err := f.Search([]float32{1, 2}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFlatKGreaterThanN(t *testing.T) {
	f := NewFlat()
	require.NoError(t, f.Build([][]float32{{1}, {2}}, BuildParams{}))
	results, err := f.Search([]float32{1}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestFlatCosineMetric(t *testing.T) {
	f := NewFlat()
	vectors := [][]float32{{1, 0}, {0, 1}, {1, 1}}
	require.NoError(t, f.Build(vectors, BuildParams{DistanceMetric: "cosine"}))

	results, err := f.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 0, results[0].Index)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-9)
}

func TestFlatInfo(t *testing.T) {
	f := NewFlat()
	require.NoError(t, f.Build([][]float32{{1, 2, 3}}, BuildParams{DistanceMetric: "euclidean"}))
	info := f.Info()
	assert.Equal(t, KindFlat, info.Kind)
	assert.True(t, info.Built)
	assert.Equal(t, 1, info.VectorCount)
	assert.Equal(t, 3, info.Dimensions)
	assert.Equal(t, "euclidean", info.Extra["distance_metric"])
}
