// Package indexsvc implements the indexing service (C7): building and
// introspecting a library's ANN index under the library's lock, and
// persisting the built index to its blob path.
package indexsvc

import (
	"context"
	"path/filepath"

	"github.com/kryonlabs/vectordb/internal/annindex"
	"github.com/kryonlabs/vectordb/internal/apierr"
	"github.com/kryonlabs/vectordb/internal/liblock"
	"github.com/kryonlabs/vectordb/internal/recordstore"
	"github.com/kryonlabs/vectordb/internal/vectorstore"
)

// Service builds and introspects per-library indexes.
type Service struct {
	records *recordstore.Store
	vectors *vectorstore.Store
	locks   *liblock.Manager
	dataDir string
}

// New constructs an indexing service. dataDir is the root under which
// index blobs are written, one file per (library, kind).
func New(records *recordstore.Store, vectors *vectorstore.Store, locks *liblock.Manager, dataDir string) *Service {
	return &Service{records: records, vectors: vectors, locks: locks, dataDir: dataDir}
}

func (s *Service) blobPath(libraryID string, kind annindex.Kind) string {
	return filepath.Join(s.dataDir, "indexes", libraryID, string(kind)+".idx")
}

// Build snapshots libraryID's vectors in vector_index order, builds a
// fresh index of kind over that snapshot, and persists it — all under
// libraryID's lock so a concurrent chunk mutation can't observe a
// half-built index.
func (s *Service) Build(ctx context.Context, libraryID string, kind annindex.Kind, params annindex.BuildParams) (annindex.Info, error) {
	var info annindex.Info
	err := s.locks.With(ctx, libraryID, func(ctx context.Context) error {
		if _, err := s.records.GetLibrary(libraryID); err != nil {
			if err == recordstore.ErrNotFound {
				return apierr.NotFound("library %q not found", libraryID)
			}
			return apierr.Wrap(apierr.KindDependencyFailure, "load library", err)
		}

		vectors, err := s.vectors.LoadAll(libraryID)
		if err != nil {
			return apierr.Wrap(apierr.KindDependencyFailure, "load vectors", err)
		}
		if len(vectors) == 0 {
			return apierr.Validation("library %q has no vectors to index", libraryID)
		}

		idx, err := annindex.New(kind)
		if err != nil {
			return apierr.Validation("%v", err)
		}
		if err := idx.Build(vectors, params); err != nil {
			return apierr.Wrap(apierr.KindInvariantViolation, "build index", err)
		}

		if err := idx.Save(s.blobPath(libraryID, kind)); err != nil {
			return apierr.Wrap(apierr.KindDependencyFailure, "persist index", err)
		}

		info = idx.Info()
		return nil
	})
	return info, err
}

// Info reports the persisted index's introspection fields without
// rebuilding it. Returns a NotFound apierr.Error if no index of this
// kind has ever been built for libraryID.
func (s *Service) Info(ctx context.Context, libraryID string, kind annindex.Kind) (annindex.Info, error) {
	var info annindex.Info
	err := s.locks.With(ctx, libraryID, func(ctx context.Context) error {
		idx, err := annindex.New(kind)
		if err != nil {
			return apierr.Validation("%v", err)
		}
		if err := idx.Load(s.blobPath(libraryID, kind)); err != nil {
			if err == annindex.ErrBlobNotFound {
				return apierr.NotFound("no %s index built for library %q", kind, libraryID)
			}
			return apierr.Wrap(apierr.KindDependencyFailure, "load index", err)
		}
		info = idx.Info()
		return nil
	})
	return info, err
}

// Load loads libraryID's persisted index of kind for querying. It is
// exported for querysvc, which needs the built index itself rather
// than just its Info summary.
//
// A missing index maps to a Validation (400) error, not NotFound: per
// spec.md §6, a search against a library with no built index is a
// caller-correctable bad request, not a missing resource — matching
// the original implementation's query_service.search(), which raises
// the same ValueError for a missing library, a missing index, and an
// invalid k.
func (s *Service) Load(ctx context.Context, libraryID string, kind annindex.Kind) (annindex.Index, error) {
	var idx annindex.Index
	err := s.locks.With(ctx, libraryID, func(ctx context.Context) error {
		built, err := annindex.New(kind)
		if err != nil {
			return apierr.Validation("%v", err)
		}
		if err := built.Load(s.blobPath(libraryID, kind)); err != nil {
			if err == annindex.ErrBlobNotFound {
				return apierr.Validation("no %s index built for library %q", kind, libraryID)
			}
			return apierr.Wrap(apierr.KindDependencyFailure, "load index", err)
		}
		idx = built
		return nil
	})
	return idx, err
}
