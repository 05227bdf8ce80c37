// Package querysvc implements the query service (C8): given a query
// vector, search a library's persisted index for nearest neighbors,
// resolve each match back to its chunk, and apply the optional
// metadata filter as a post-filter over the ANN results.
package querysvc

import (
	"context"

	"github.com/kryonlabs/vectordb/internal/annindex"
	"github.com/kryonlabs/vectordb/internal/apierr"
	"github.com/kryonlabs/vectordb/internal/indexsvc"
	"github.com/kryonlabs/vectordb/internal/metafilter"
	"github.com/kryonlabs/vectordb/internal/recordstore"
)

// Result pairs a matched chunk with its distance from the query
// vector. Smaller Score is a closer match (this is a distance, not a
// similarity — see the score decision in DESIGN.md's Open Question
// decisions).
type Result struct {
	Chunk *recordstore.Chunk
	Score float64
}

// Service answers nearest-neighbor queries against a library's
// persisted index.
type Service struct {
	index   *indexsvc.Service
	records *recordstore.Store
}

// New constructs a query service over an already-built indexing
// service and the shared record store.
func New(index *indexsvc.Service, records *recordstore.Store) *Service {
	return &Service{index: index, records: records}
}

// Search returns up to k nearest neighbors of query in libraryID's
// index of kind, each satisfying filter (filter may be nil to match
// everything). Order is preserved from the index's own result
// ordering — nearest first — and the metadata filter only ever
// removes results, it never reorders or adds to them.
func (s *Service) Search(ctx context.Context, libraryID string, query []float32, k int, filter metafilter.Filter, kind annindex.Kind) ([]Result, error) {
	if k <= 0 {
		return nil, apierr.Validation("k must be positive, got %d", k)
	}
	if len(query) == 0 {
		return nil, apierr.Validation("query vector must not be empty")
	}

	idx, err := s.index.Load(ctx, libraryID, kind)
	if err != nil {
		return nil, err
	}

	candidates, err := idx.Search(query, k)
	if err != nil {
		switch err {
		case annindex.ErrDimensionMismatch:
			return nil, apierr.Validation("query vector dimension does not match library %q", libraryID)
		case annindex.ErrNotBuilt:
			// Matches indexsvc.Load's ErrBlobNotFound mapping: a missing
			// index is a 400 (spec.md §6), not a 404.
			return nil, apierr.Validation("no %s index built for library %q", kind, libraryID)
		default:
			return nil, apierr.Wrap(apierr.KindDependencyFailure, "search index", err)
		}
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		chunk, err := s.records.GetChunkByVectorIndex(libraryID, c.Index)
		if err != nil {
			if err == recordstore.ErrNotFound {
				// A vector_index present in the index but absent from
				// the record store: the chunk was deleted after the
				// index was built. Skip rather than fail the query.
				continue
			}
			return nil, apierr.Wrap(apierr.KindDependencyFailure, "resolve chunk", err)
		}

		if filter != nil && !metafilter.Matches(filter, chunk.Metadata) {
			continue
		}

		results = append(results, Result{Chunk: chunk, Score: c.Distance})
	}

	return results, nil
}
