// Package recordstore is the BadgerDB-backed repository for
// libraries, documents, and chunks (C10). It follows the single-byte
// key-prefix convention used elsewhere in this codebase for embedded
// key-value storage: one prefix per entity, plus a secondary index so
// a library's chunks can be listed in vector_index order without a
// full table scan.
package recordstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes, one byte each, mirroring the node/edge prefix scheme
// this repository's embedded storage layer has always used.
const (
	prefixLibrary  = byte(0x01) // library:libraryID -> Library
	prefixDocument = byte(0x02) // document:documentID -> Document
	prefixChunk    = byte(0x03) // chunk:chunkID -> Chunk
	prefixChunkIdx = byte(0x04) // chunkidx:libraryID:0x00:vectorIndex(8be) -> chunkID
)

// ErrNotFound is returned when a lookup by ID finds nothing.
var ErrNotFound = errors.New("recordstore: not found")

// ErrAlreadyExists is returned by Create when the ID is already in use.
var ErrAlreadyExists = errors.New("recordstore: already exists")

// ErrStorageClosed is returned once Close has been called.
var ErrStorageClosed = errors.New("recordstore: storage is closed")

// Library is a named collection of documents sharing one vector space
// and one ANN index.
type Library struct {
	ID           string
	Name         string
	DistanceMetric string
	IndexKind    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Document groups chunks extracted from one source text.
type Document struct {
	ID        string
	LibraryID string
	Source    string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Chunk is one embedded unit of text within a document.
type Chunk struct {
	ID          string
	LibraryID   string
	DocumentID  *string
	Text        string
	Metadata    map[string]any
	VectorIndex int
	CreatedAt   time.Time
}

// Store is the BadgerDB-backed repository. Safe for concurrent use;
// entity-level consistency beyond Badger's own transaction isolation
// is provided by the caller taking the corresponding library lock
// (see internal/liblock) before mutating operations.
type Store struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// Options configures the store's underlying BadgerDB instance.
type Options struct {
	// DataDir is the directory for storing data files. Required unless
	// InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode, for tests.
	InMemory bool
}

// Open creates or opens the record store at opts.DataDir.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("recordstore: open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a non-persistent store, for tests.
func OpenInMemory() (*Store, error) {
	return Open(Options{InMemory: true})
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) assertOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStorageClosed
	}
	return nil
}

// --- key encoding ---

func libraryKey(id string) []byte {
	return append([]byte{prefixLibrary}, []byte(id)...)
}

func documentKey(id string) []byte {
	return append([]byte{prefixDocument}, []byte(id)...)
}

func chunkKey(id string) []byte {
	return append([]byte{prefixChunk}, []byte(id)...)
}

func chunkIndexKey(libraryID string, vectorIndex int) []byte {
	key := make([]byte, 0, 1+len(libraryID)+1+8)
	key = append(key, prefixChunkIdx)
	key = append(key, []byte(libraryID)...)
	key = append(key, 0x00)
	key = append(key, encodeUint64(uint64(vectorIndex))...)
	return key
}

func chunkIndexPrefix(libraryID string) []byte {
	key := make([]byte, 0, 1+len(libraryID)+1)
	key = append(key, prefixChunkIdx)
	key = append(key, []byte(libraryID)...)
	key = append(key, 0x00)
	return key
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// --- libraries ---

// CreateLibrary inserts a new library record.
func (s *Store) CreateLibrary(lib *Library) error {
	if err := s.assertOpen(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := libraryKey(lib.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		data, err := json.Marshal(lib)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

// GetLibrary fetches a library by ID.
func (s *Store) GetLibrary(id string) (*Library, error) {
	if err := s.assertOpen(); err != nil {
		return nil, err
	}
	var lib Library
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(libraryKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &lib)
		})
	})
	if err != nil {
		return nil, err
	}
	return &lib, nil
}

// UpdateLibrary overwrites an existing library record.
func (s *Store) UpdateLibrary(lib *Library) error {
	if err := s.assertOpen(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := libraryKey(lib.ID)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		data, err := json.Marshal(lib)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

// DeleteLibrary removes a library record. It does not cascade to
// documents, chunks, or vector storage, and the HTTP delete handler
// does not either: those records and the vector file remain stored.
func (s *Store) DeleteLibrary(id string) error {
	if err := s.assertOpen(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := libraryKey(id)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// ListLibraries returns every library, ordered by ID.
func (s *Store) ListLibraries() ([]*Library, error) {
	if err := s.assertOpen(); err != nil {
		return nil, err
	}
	var libs []*Library
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixLibrary}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte{prefixLibrary}); it.ValidForPrefix([]byte{prefixLibrary}); it.Next() {
			var lib Library
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &lib)
			}); err != nil {
				return err
			}
			libCopy := lib
			libs = append(libs, &libCopy)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(libs, func(i, j int) bool { return libs[i].ID < libs[j].ID })
	return libs, nil
}

// --- documents ---

// CreateDocument inserts a new document record.
func (s *Store) CreateDocument(doc *Document) error {
	if err := s.assertOpen(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := documentKey(doc.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

// GetDocument fetches a document by ID.
func (s *Store) GetDocument(id string) (*Document, error) {
	if err := s.assertOpen(); err != nil {
		return nil, err
	}
	var doc Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document record only (chunks are deleted
// independently by the caller).
func (s *Store) DeleteDocument(id string) error {
	if err := s.assertOpen(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := documentKey(id)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// ListDocumentsByLibrary returns every document belonging to
// libraryID. Documents have no secondary index (unlike chunks, they
// are never resolved from an ANN result), so this is a full scan over
// the document prefix with an in-application filter.
func (s *Store) ListDocumentsByLibrary(libraryID string) ([]*Document, error) {
	if err := s.assertOpen(); err != nil {
		return nil, err
	}
	var docs []*Document
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixDocument}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte{prefixDocument}); it.ValidForPrefix([]byte{prefixDocument}); it.Next() {
			var doc Document
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			}); err != nil {
				return err
			}
			if doc.LibraryID == libraryID {
				docCopy := doc
				docs = append(docs, &docCopy)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// --- chunks ---

// CreateChunk inserts a new chunk record and its vector_index lookup
// entry, used by GetChunkByVectorIndex and ListChunksByLibrary to map
// vector_index slots back to chunks without scanning every chunk.
func (s *Store) CreateChunk(chunk *Chunk) error {
	if err := s.assertOpen(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := chunkKey(chunk.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(chunkIndexKey(chunk.LibraryID, chunk.VectorIndex), []byte(chunk.ID))
	})
}

// GetChunk fetches a chunk by ID.
func (s *Store) GetChunk(id string) (*Chunk, error) {
	if err := s.assertOpen(); err != nil {
		return nil, err
	}
	var chunk Chunk
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &chunk)
		})
	})
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// GetChunkByVectorIndex resolves a library's vector_index slot to its
// chunk — the "select vector_index where id = ?" operation from the
// query service's result-mapping step, inverted.
func (s *Store) GetChunkByVectorIndex(libraryID string, vectorIndex int) (*Chunk, error) {
	if err := s.assertOpen(); err != nil {
		return nil, err
	}
	var chunkID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkIndexKey(libraryID, vectorIndex))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			chunkID = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return s.GetChunk(chunkID)
}

// UpdateChunk overwrites a chunk record in place with the caller's
// Text, Metadata and DocumentID. It keeps the stored LibraryID,
// VectorIndex and CreatedAt — moving a chunk's vector slot is not
// supported; delete and recreate the chunk instead.
func (s *Store) UpdateChunk(chunk *Chunk) error {
	if err := s.assertOpen(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := chunkKey(chunk.ID)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var existing Chunk
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &existing)
		}); err != nil {
			return err
		}
		chunk.LibraryID = existing.LibraryID
		chunk.VectorIndex = existing.VectorIndex
		chunk.CreatedAt = existing.CreatedAt
		data, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

// DeleteChunk tombstones a chunk: it removes the chunk record and its
// index entry but, per §4.2's tombstoning design, does not renumber
// any other chunk's vector_index. The caller is responsible for
// zeroing the corresponding vectorstore slot.
func (s *Store) DeleteChunk(id string) error {
	if err := s.assertOpen(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := chunkKey(id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var chunk Chunk
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &chunk)
		}); err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(chunkIndexKey(chunk.LibraryID, chunk.VectorIndex))
	})
}

// ListChunksByLibrary returns every chunk in libraryID ordered by
// vector_index. Deleted chunks are absent, so positions in the returned
// slice need not equal vector_index values.
func (s *Store) ListChunksByLibrary(libraryID string) ([]*Chunk, error) {
	if err := s.assertOpen(); err != nil {
		return nil, err
	}
	var chunks []*Chunk
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := chunkIndexPrefix(libraryID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var chunkID string
			if err := it.Item().Value(func(val []byte) error {
				chunkID = string(val)
				return nil
			}); err != nil {
				return err
			}
			item, err := txn.Get(chunkKey(chunkID))
			if err != nil {
				return fmt.Errorf("recordstore: dangling chunk index entry %q: %w", chunkID, err)
			}
			var chunk Chunk
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &chunk)
			}); err != nil {
				return err
			}
			chunks = append(chunks, &chunk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Index key ordering (big-endian vector_index suffix) already
	// yields ascending order; this sort is a defensive backstop.
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].VectorIndex < chunks[j].VectorIndex })
	return chunks, nil
}
