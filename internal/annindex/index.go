// Package annindex implements the two per-library vector indexes: the
// approximate HNSW graph and the exact brute-force Flat index. Both
// satisfy the Index interface so the indexing and query services can
// treat them polymorphically; persistence uses one tagged shape per
// kind rather than reflective attribute probing.
package annindex

import (
	"errors"
	"fmt"
)

// Kind names the two supported index implementations.
type Kind string

const (
	KindHNSW Kind = "HNSW"
	KindFlat Kind = "FLAT"
)

// ParseKind validates a kind string from a request or CLI flag.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindHNSW:
		return KindHNSW, nil
	case KindFlat:
		return KindFlat, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
	}
}

// ErrUnsupportedKind is returned for any kind other than HNSW or FLAT.
var ErrUnsupportedKind = errors.New("annindex: unsupported index kind")

// ErrNotBuilt is returned by Search when the index has never been built.
var ErrNotBuilt = errors.New("annindex: index not built")

// ErrDimensionMismatch is returned when a query or build vector's
// length does not match the index's fixed dimension.
var ErrDimensionMismatch = errors.New("annindex: dimension mismatch")

// ErrEmptyVectors names the empty-snapshot condition. Nothing in this
// module returns it: Build tolerates an empty set and yields an empty
// index, and the indexing service reports an empty library as its own
// validation error.
var ErrEmptyVectors = errors.New("annindex: no vectors to index")

// SearchResult pairs a vector_index with its distance from the query.
// Smaller Distance is a closer match.
type SearchResult struct {
	Index    int
	Distance float64
}

// BuildParams carries the tunables for both index kinds; fields unused
// by a given kind are ignored.
type BuildParams struct {
	// Flat
	DistanceMetric string

	// HNSW
	M              int
	EfConstruction int
	EfSearch       int
	MLevel         float64

	// Seed fixes the level-assignment RNG for reproducible builds
	// (required by the idempotence property in the test suite). A nil
	// Seed uses the fixed seed 1, so unseeded builds are reproducible too.
	Seed *int64
}

// Info is the introspection payload returned by an index's Info method
// and surfaced by the indexing service's "get index info" operation.
type Info struct {
	Kind        Kind
	Built       bool
	VectorCount int
	Dimensions  int
	Extra       map[string]any
}

// Index is the capability set every index kind implements: build from
// a vector snapshot, search for nearest neighbors, report status, and
// save/load its persisted blob. Each kind implements Save/Load with its
// own serialized shape (see persist.go).
type Index interface {
	Build(vectors [][]float32, params BuildParams) error
	Search(query []float32, k int) ([]SearchResult, error)
	Info() Info
	Save(path string) error
	Load(path string) error
}

// New constructs an empty, unbuilt index of the given kind.
func New(kind Kind) (Index, error) {
	switch kind {
	case KindHNSW:
		return NewHNSW(), nil
	case KindFlat:
		return NewFlat(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
}
