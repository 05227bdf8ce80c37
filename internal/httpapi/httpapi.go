// Package httpapi exposes the service over HTTP (C12): library,
// document, and chunk CRUD, index build/info, and search — using
// net/http's ServeMux the same way this codebase's existing HTTP
// server is built, rather than pulling in a web framework.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kryonlabs/vectordb/internal/annindex"
	"github.com/kryonlabs/vectordb/internal/apierr"
	"github.com/kryonlabs/vectordb/internal/embedding"
	"github.com/kryonlabs/vectordb/internal/indexsvc"
	"github.com/kryonlabs/vectordb/internal/liblock"
	"github.com/kryonlabs/vectordb/internal/logging"
	"github.com/kryonlabs/vectordb/internal/metafilter"
	"github.com/kryonlabs/vectordb/internal/querysvc"
	"github.com/kryonlabs/vectordb/internal/recordstore"
	"github.com/kryonlabs/vectordb/internal/vectorstore"
)

// Server bundles the services the HTTP layer dispatches to.
type Server struct {
	records  *recordstore.Store
	vectors  *vectorstore.Store
	locks    *liblock.Manager
	indexSvc *indexsvc.Service
	querySvc *querysvc.Service
	embedder embedding.Embedder
	log      *logrus.Entry

	mux        *http.ServeMux
	httpServer *http.Server
	addr       string
}

// New builds the HTTP handler for the service. logger may be nil in
// tests that don't care about log output. The returned Server is not
// yet listening — call Start to begin accepting connections.
func New(records *recordstore.Store, vectors *vectorstore.Store, locks *liblock.Manager, indexSvc *indexsvc.Service, querySvc *querysvc.Service, embedder embedding.Embedder, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logging.New("info", "text")
	}
	s := &Server{
		records:  records,
		vectors:  vectors,
		locks:    locks,
		indexSvc: indexSvc,
		querySvc: querySvc,
		embedder: embedder,
		log:      logging.WithComponent(logger, "httpapi"),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// Start binds addr and begins serving in the background. It returns
// once the listener is established; serving errors after that point
// are logged rather than returned, matching this codebase's existing
// Start()/Stop(ctx) server lifecycle.
func (s *Server) Start(addr string, readTimeout, writeTimeout time.Duration) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.addr = listener.Addr().String()
	s.httpServer = &http.Server{
		Handler:      s,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http server error")
		}
	}()
	return nil
}

// Addr returns the address Start bound to.
func (s *Server) Addr() string { return s.addr }

// Stop gracefully shuts down the server, waiting for in-flight
// requests to finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP makes *Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rw, r)
	s.log.WithFields(logging.RequestFields(r.Method, r.URL.Path, rw.status)).
		WithField("duration_ms", time.Since(start).Milliseconds()).
		Info("request handled")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /libraries", s.handleCreateLibrary)
	s.mux.HandleFunc("GET /libraries", s.handleListLibraries)
	s.mux.HandleFunc("GET /libraries/{id}", s.handleGetLibrary)
	s.mux.HandleFunc("PUT /libraries/{id}", s.handleUpdateLibrary)
	s.mux.HandleFunc("DELETE /libraries/{id}", s.handleDeleteLibrary)

	s.mux.HandleFunc("POST /libraries/{id}/documents", s.handleCreateDocument)
	s.mux.HandleFunc("GET /libraries/{id}/documents", s.handleListDocuments)
	s.mux.HandleFunc("GET /libraries/{id}/documents/{did}", s.handleGetDocument)
	s.mux.HandleFunc("DELETE /libraries/{id}/documents/{did}", s.handleDeleteDocument)

	s.mux.HandleFunc("POST /libraries/{id}/chunks", s.handleCreateChunk)
	s.mux.HandleFunc("GET /libraries/{id}/chunks", s.handleListChunks)
	s.mux.HandleFunc("GET /libraries/{id}/chunks/{cid}", s.handleGetChunk)
	s.mux.HandleFunc("PUT /libraries/{id}/chunks/{cid}", s.handleUpdateChunk)
	s.mux.HandleFunc("DELETE /libraries/{id}/chunks/{cid}", s.handleDeleteChunk)

	s.mux.HandleFunc("POST /libraries/{id}/index", s.handleBuildIndex)
	s.mux.HandleFunc("GET /libraries/{id}/index", s.handleIndexInfo)

	s.mux.HandleFunc("POST /libraries/{id}/search", s.handleSearch)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusCode(err)
	message := err.Error()
	if apiErr, ok := apierr.As(err); ok {
		message = apiErr.Message
	}
	s.writeJSON(w, status, map[string]any{
		"error":   true,
		"message": message,
		"code":    status,
	})
}

func (s *Server) decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.Validation("invalid request body: %v", err)
	}
	return nil
}

// newID generates a unique record identifier, mirroring this
// codebase's existing generateID(prefix) convention.
func newID(prefix string) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- libraries ---

type createLibraryRequest struct {
	Name           string `json:"name"`
	DistanceMetric string `json:"distance_metric"`
	IndexKind      string `json:"index_kind"`
}

func (s *Server) handleCreateLibrary(w http.ResponseWriter, r *http.Request) {
	var req createLibraryRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Name == "" {
		s.writeError(w, apierr.Validation("name is required"))
		return
	}
	if req.DistanceMetric == "" {
		req.DistanceMetric = "l2"
	}
	if req.IndexKind == "" {
		req.IndexKind = string(annindex.KindHNSW)
	}
	if _, err := annindex.ParseKind(req.IndexKind); err != nil {
		s.writeError(w, apierr.Validation("%v", err))
		return
	}

	lib := &recordstore.Library{
		ID:             newID("lib"),
		Name:           req.Name,
		DistanceMetric: req.DistanceMetric,
		IndexKind:      req.IndexKind,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := s.records.CreateLibrary(lib); err != nil {
		s.writeError(w, apierr.Wrap(apierr.KindDependencyFailure, "create library", err))
		return
	}
	s.writeJSON(w, http.StatusCreated, lib)
}

func (s *Server) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	libs, err := s.records.ListLibraries()
	if err != nil {
		s.writeError(w, apierr.Wrap(apierr.KindDependencyFailure, "list libraries", err))
		return
	}
	s.writeJSON(w, http.StatusOK, libs)
}

func (s *Server) handleGetLibrary(w http.ResponseWriter, r *http.Request) {
	lib, err := s.records.GetLibrary(r.PathValue("id"))
	if err != nil {
		s.writeError(w, mapRecordstoreErr(err, "library"))
		return
	}
	s.writeJSON(w, http.StatusOK, lib)
}

func (s *Server) handleUpdateLibrary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req createLibraryRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	existing, err := s.records.GetLibrary(id)
	if err != nil {
		s.writeError(w, mapRecordstoreErr(err, "library"))
		return
	}
	if req.Name != "" {
		existing.Name = req.Name
	}
	if req.DistanceMetric != "" {
		existing.DistanceMetric = req.DistanceMetric
	}
	if req.IndexKind != "" {
		if _, err := annindex.ParseKind(req.IndexKind); err != nil {
			s.writeError(w, apierr.Validation("%v", err))
			return
		}
		existing.IndexKind = req.IndexKind
	}
	existing.UpdatedAt = time.Now()

	if err := s.records.UpdateLibrary(existing); err != nil {
		s.writeError(w, mapRecordstoreErr(err, "library"))
		return
	}
	s.writeJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteLibrary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.locks.With(r.Context(), id, func(ctx context.Context) error {
		return s.records.DeleteLibrary(id)
	})
	if err != nil {
		s.writeError(w, mapRecordstoreErr(err, "library"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- documents ---

type createDocumentRequest struct {
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	libraryID := r.PathValue("id")
	var req createDocumentRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.records.GetLibrary(libraryID); err != nil {
		s.writeError(w, mapRecordstoreErr(err, "library"))
		return
	}

	doc := &recordstore.Document{
		ID: newID("doc"), LibraryID: libraryID, Source: req.Source,
		Metadata: req.Metadata, CreatedAt: time.Now(),
	}
	if err := s.records.CreateDocument(doc); err != nil {
		s.writeError(w, apierr.Wrap(apierr.KindDependencyFailure, "create document", err))
		return
	}
	s.writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	libraryID := r.PathValue("id")
	docs, err := s.records.ListDocumentsByLibrary(libraryID)
	if err != nil {
		s.writeError(w, apierr.Wrap(apierr.KindDependencyFailure, "list documents", err))
		return
	}
	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.records.GetDocument(r.PathValue("did"))
	if err != nil {
		s.writeError(w, mapRecordstoreErr(err, "document"))
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.records.DeleteDocument(r.PathValue("did")); err != nil {
		s.writeError(w, mapRecordstoreErr(err, "document"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- chunks ---

type createChunkRequest struct {
	DocumentID *string        `json:"document_id"`
	Text       string         `json:"text"`
	Vector     []float32      `json:"vector"`
	Metadata   map[string]any `json:"metadata"`
}

func (s *Server) handleCreateChunk(w http.ResponseWriter, r *http.Request) {
	libraryID := r.PathValue("id")
	var req createChunkRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Text == "" {
		s.writeError(w, apierr.Validation("text is required"))
		return
	}

	var chunk *recordstore.Chunk
	err := s.locks.With(r.Context(), libraryID, func(ctx context.Context) error {
		if _, err := s.records.GetLibrary(libraryID); err != nil {
			return mapRecordstoreErr(err, "library")
		}

		vector := req.Vector
		if len(vector) == 0 {
			if s.embedder == nil {
				return apierr.Validation("vector is required (no embedding provider configured)")
			}
			v, err := s.embedder.Embed(ctx, req.Text)
			if err != nil {
				return apierr.Wrap(apierr.KindDependencyFailure, "embed chunk text", err)
			}
			vector = v
		}

		vectorIndex, err := s.vectors.Append(libraryID, vector)
		if err != nil {
			return apierr.Wrap(apierr.KindDependencyFailure, "store vector", err)
		}

		chunk = &recordstore.Chunk{
			ID: newID("chunk"), LibraryID: libraryID, DocumentID: req.DocumentID,
			Text: req.Text, Metadata: req.Metadata, VectorIndex: vectorIndex,
			CreatedAt: time.Now(),
		}
		if err := s.records.CreateChunk(chunk); err != nil {
			return apierr.Wrap(apierr.KindDependencyFailure, "create chunk", err)
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, chunk)
}

func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	libraryID := r.PathValue("id")
	chunks, err := s.records.ListChunksByLibrary(libraryID)
	if err != nil {
		s.writeError(w, apierr.Wrap(apierr.KindDependencyFailure, "list chunks", err))
		return
	}
	s.writeJSON(w, http.StatusOK, chunks)
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	chunk, err := s.records.GetChunk(r.PathValue("cid"))
	if err != nil {
		s.writeError(w, mapRecordstoreErr(err, "chunk"))
		return
	}
	s.writeJSON(w, http.StatusOK, chunk)
}

type updateChunkRequest struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleUpdateChunk(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("cid")
	var req updateChunkRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Text == "" {
		s.writeError(w, apierr.Validation("text is required"))
		return
	}

	updated, err := s.records.GetChunk(id)
	if err != nil {
		s.writeError(w, mapRecordstoreErr(err, "chunk"))
		return
	}
	updated.Text = req.Text
	updated.Metadata = req.Metadata

	if err := s.records.UpdateChunk(updated); err != nil {
		s.writeError(w, mapRecordstoreErr(err, "chunk"))
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

// handleDeleteChunk tombstones the chunk's vector slot (zeroing it,
// never renumbering other slots) and removes its record.
func (s *Server) handleDeleteChunk(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("cid")
	chunk, err := s.records.GetChunk(id)
	if err != nil {
		s.writeError(w, mapRecordstoreErr(err, "chunk"))
		return
	}

	err = s.locks.With(r.Context(), chunk.LibraryID, func(ctx context.Context) error {
		dim, ok := s.vectors.Dimension(chunk.LibraryID)
		if ok {
			if err := s.vectors.Overwrite(chunk.LibraryID, chunk.VectorIndex, make([]float32, dim)); err != nil {
				return apierr.Wrap(apierr.KindDependencyFailure, "tombstone vector", err)
			}
		}
		return s.records.DeleteChunk(id)
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- index ---

type buildIndexRequest struct {
	Kind           string  `json:"kind"`
	EfConstruction int     `json:"ef_construction"`
	EfSearch       int     `json:"ef_search"`
	M              int     `json:"m"`
	MLevel         float64 `json:"m_level"`
	Seed           *int64  `json:"seed"`
}

func (s *Server) handleBuildIndex(w http.ResponseWriter, r *http.Request) {
	libraryID := r.PathValue("id")
	var req buildIndexRequest
	if r.ContentLength != 0 {
		if err := s.decodeJSON(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if req.Kind == "" {
		req.Kind = string(annindex.KindHNSW)
	}
	kind, err := annindex.ParseKind(req.Kind)
	if err != nil {
		s.writeError(w, apierr.Validation("%v", err))
		return
	}

	info, err := s.indexSvc.Build(r.Context(), libraryID, kind, annindex.BuildParams{
		M: req.M, EfConstruction: req.EfConstruction, EfSearch: req.EfSearch,
		MLevel: req.MLevel, Seed: req.Seed,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, info)
}

func (s *Server) handleIndexInfo(w http.ResponseWriter, r *http.Request) {
	libraryID := r.PathValue("id")
	kindParam := r.URL.Query().Get("index_type")
	if kindParam == "" {
		kindParam = string(annindex.KindHNSW)
	}
	kind, err := annindex.ParseKind(kindParam)
	if err != nil {
		s.writeError(w, apierr.Validation("%v", err))
		return
	}
	info, err := s.indexSvc.Info(r.Context(), libraryID, kind)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// --- search ---

type searchRequest struct {
	Vector []float32         `json:"vector"`
	Text   string            `json:"text"`
	K      int               `json:"k"`
	Filter metafilter.Filter `json:"filter"`
	Kind   string            `json:"kind"`
}

type searchResponseItem struct {
	Chunk *recordstore.Chunk `json:"chunk"`
	Score float64            `json:"score"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	libraryID := r.PathValue("id")
	var req searchRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.K <= 0 {
		s.writeError(w, apierr.Validation("k must be positive, got %d", req.K))
		return
	}
	if req.Kind == "" {
		req.Kind = string(annindex.KindHNSW)
	}
	kind, err := annindex.ParseKind(req.Kind)
	if err != nil {
		s.writeError(w, apierr.Validation("%v", err))
		return
	}

	vector := req.Vector
	if len(vector) == 0 {
		if req.Text == "" {
			s.writeError(w, apierr.Validation("either vector or text is required"))
			return
		}
		if s.embedder == nil {
			s.writeError(w, apierr.Validation("text search requires an embedding provider"))
			return
		}
		v, err := s.embedder.Embed(r.Context(), req.Text)
		if err != nil {
			s.writeError(w, apierr.Wrap(apierr.KindDependencyFailure, "embed query text", err))
			return
		}
		vector = v
	}

	results, err := s.querySvc.Search(r.Context(), libraryID, vector, req.K, req.Filter, kind)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]searchResponseItem, len(results))
	for i, res := range results {
		out[i] = searchResponseItem{Chunk: res.Chunk, Score: res.Score}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func mapRecordstoreErr(err error, what string) error {
	if err == recordstore.ErrNotFound {
		return apierr.NotFound("%s not found", what)
	}
	if err == recordstore.ErrAlreadyExists {
		return apierr.Validation("%s already exists", what)
	}
	return apierr.Wrap(apierr.KindDependencyFailure, "record store", err)
}
