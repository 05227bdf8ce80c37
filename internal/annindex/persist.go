package annindex

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrBlobNotFound is returned by Load when no blob exists at the given
// path — "no such index" per spec.md §6, tolerated by callers that
// treat a missing index as an empty/absent result rather than a fault.
var ErrBlobNotFound = errors.New("annindex: index blob not found")

// ErrCorruptBlob is returned when a blob exists but fails to decode or
// carries a header that doesn't match the expected kind.
var ErrCorruptBlob = errors.New("annindex: corrupt index blob")

const blobMagic uint32 = 0x494e4458 // "INDX"
const blobVersion uint16 = 1

// hnswBlob is the tagged, gob-encodable shape of a built HNSW index.
// One shape per kind (§9 design note) instead of reflective attribute
// probing on a shared base type.
type hnswBlob struct {
	M              int
	EfConstruction int
	EfSearch       int
	MLevel         float64
	Vectors        [][]float32
	HasEntry       bool
	EntryID        int
	EntryLevel     int
	NodeLevels     []int
	NodeNeighbors  [][][]int
}

// flatBlob is the tagged shape of a built Flat index.
type flatBlob struct {
	Vectors        [][]float32
	DistanceMetric string
	Built          bool
}

// Save writes h's state to path (write-to-temp, rename) so concurrent
// readers never observe a partial index.
func (h *HNSW) Save(path string) error {
	blob := hnswBlob{
		M:              h.m,
		EfConstruction: h.efConstruction,
		EfSearch:       h.efSearch,
		MLevel:         h.mLevel,
		Vectors:        h.vectors,
		HasEntry:       h.hasEntry,
		EntryID:        h.entryID,
		EntryLevel:     h.entryLevel,
		NodeLevels:     make([]int, len(h.arena)),
		NodeNeighbors:  make([][][]int, len(h.arena)),
	}
	for i, n := range h.arena {
		blob.NodeLevels[i] = n.level
		blob.NodeNeighbors[i] = n.neighbors
	}
	return writeBlob(path, KindHNSW, &blob)
}

// Load replaces h's state with the blob at path.
func (h *HNSW) Load(path string) error {
	var blob hnswBlob
	if err := readBlob(path, KindHNSW, &blob); err != nil {
		return err
	}

	h.m = blob.M
	h.efConstruction = blob.EfConstruction
	h.efSearch = blob.EfSearch
	h.mLevel = blob.MLevel
	h.vectors = blob.Vectors
	h.dims = 0
	if len(blob.Vectors) > 0 {
		h.dims = len(blob.Vectors[0])
	}
	h.hasEntry = blob.HasEntry
	h.entryID = blob.EntryID
	h.entryLevel = blob.EntryLevel

	h.arena = make([]*hnswNode, len(blob.NodeLevels))
	for i := range h.arena {
		h.arena[i] = &hnswNode{
			id:        i,
			level:     blob.NodeLevels[i],
			neighbors: blob.NodeNeighbors[i],
		}
	}
	h.built = true
	return nil
}

// Save writes f's state to path (write-to-temp, rename).
func (f *Flat) Save(path string) error {
	blob := flatBlob{
		Vectors:        f.vectors,
		DistanceMetric: f.metric,
		Built:          f.built,
	}
	return writeBlob(path, KindFlat, &blob)
}

// Load replaces f's state with the blob at path.
func (f *Flat) Load(path string) error {
	var blob flatBlob
	if err := readBlob(path, KindFlat, &blob); err != nil {
		return err
	}
	f.vectors = blob.Vectors
	f.metric = blob.DistanceMetric
	f.built = blob.Built
	f.dims = 0
	if len(blob.Vectors) > 0 {
		f.dims = len(blob.Vectors[0])
	}
	return nil
}

// writeBlob encodes payload with gob behind a small versioned, kind-
// tagged header, and writes it atomically via temp-file-then-rename.
func writeBlob(path string, kind Kind, payload any) error {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(payload); err != nil {
		return fmt.Errorf("annindex: encode blob: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("annindex: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "index-*.tmp")
	if err != nil {
		return fmt.Errorf("annindex: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := binary.Write(tmp, binary.LittleEndian, blobMagic); err != nil {
		tmp.Close()
		return fmt.Errorf("annindex: write header: %w", err)
	}
	if err := binary.Write(tmp, binary.LittleEndian, blobVersion); err != nil {
		tmp.Close()
		return fmt.Errorf("annindex: write header: %w", err)
	}
	kindBytes := []byte(kind)
	if err := binary.Write(tmp, binary.LittleEndian, uint16(len(kindBytes))); err != nil {
		tmp.Close()
		return fmt.Errorf("annindex: write header: %w", err)
	}
	if _, err := tmp.Write(kindBytes); err != nil {
		tmp.Close()
		return fmt.Errorf("annindex: write header: %w", err)
	}
	if _, err := tmp.Write(body.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("annindex: write body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("annindex: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("annindex: rename into place: %w", err)
	}
	return nil
}

// readBlob decodes a blob written by writeBlob, verifying its header
// matches the expected kind.
func readBlob(path string, kind Kind, payload any) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("annindex: open blob: %w", err)
	}
	defer f.Close()

	var magic uint32
	var version uint16
	var kindLen uint16
	if err := binary.Read(f, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	if magic != blobMagic {
		return fmt.Errorf("%w: bad magic", ErrCorruptBlob)
	}
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	if err := binary.Read(f, binary.LittleEndian, &kindLen); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	kindBytes := make([]byte, kindLen)
	if _, err := io.ReadFull(f, kindBytes); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	if Kind(kindBytes) != kind {
		return fmt.Errorf("%w: kind mismatch (got %s, want %s)", ErrCorruptBlob, kindBytes, kind)
	}

	if err := gob.NewDecoder(f).Decode(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	return nil
}
