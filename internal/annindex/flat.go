package annindex

import (
	"sort"

	"github.com/kryonlabs/vectordb/internal/vectormath"
)

// Flat is the brute-force reference index: exhaustive distance
// computation against every stored vector. It is the correctness
// oracle for HNSW and a reasonable choice on its own for small
// libraries.
type Flat struct {
	vectors  [][]float32
	metric   string
	built    bool
	dims     int
}

// NewFlat returns an empty, unbuilt Flat index.
func NewFlat() *Flat {
	return &Flat{metric: vectormath.MetricL2}
}

// Build stores the vector snapshot as the reference set. Constant time:
// no preprocessing beyond picking the distance metric.
func (f *Flat) Build(vectors [][]float32, params BuildParams) error {
	metric := params.DistanceMetric
	if metric == "" {
		metric = vectormath.MetricL2
	}
	f.vectors = vectors
	f.metric = metric
	f.dims = 0
	if len(vectors) > 0 {
		f.dims = len(vectors[0])
	}
	f.built = true
	return nil
}

// Search computes the distance from query to every stored row and
// returns the k smallest, ties broken by smaller vector_index.
func (f *Flat) Search(query []float32, k int) ([]SearchResult, error) {
	if !f.built {
		return nil, ErrNotBuilt
	}
	if len(f.vectors) == 0 {
		return []SearchResult{}, nil
	}
	if len(query) != f.dims {
		return nil, ErrDimensionMismatch
	}

	results := make([]SearchResult, 0, len(f.vectors))
	for i, v := range f.vectors {
		d, err := vectormath.ByName(f.metric, query, v)
		if err != nil {
			// A zero-norm row under cosine distance can't be scored;
			// skip it rather than aborting the whole search.
			continue
		}
		results = append(results, SearchResult{Index: i, Distance: d})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Index < results[j].Index
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Info reports the Flat index's introspection fields.
func (f *Flat) Info() Info {
	return Info{
		Kind:        KindFlat,
		Built:       f.built,
		VectorCount: len(f.vectors),
		Dimensions:  f.dims,
		Extra: map[string]any{
			"distance_metric": f.metric,
		},
	}
}
