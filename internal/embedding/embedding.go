// Package embedding provides the text-to-vector conversion used when
// documents are ingested without pre-computed vectors (C11). It
// mirrors the request/response plumbing this codebase already uses
// for calling out to an embeddings API, generalized to Cohere's
// /v1/embed endpoint, plus a deterministic offline embedder for tests
// and environments without network access.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call
	// where the provider supports batching.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector length this embedder
	// produces.
	Dimensions() int
}

// CohereConfig configures a CohereEmbedder.
type CohereConfig struct {
	APIURL    string // default https://api.cohere.com
	APIKey    string
	Model     string // e.g. embed-english-v3.0
	InputType string // e.g. search_document, search_query
	Dimensions int
	Timeout   time.Duration
}

// DefaultCohereConfig returns sane defaults for embed-english-v3.0.
func DefaultCohereConfig(apiKey string) *CohereConfig {
	return &CohereConfig{
		APIURL:     "https://api.cohere.com",
		APIKey:     apiKey,
		Model:      "embed-english-v3.0",
		InputType:  "search_document",
		Dimensions: 1024,
		Timeout:    30 * time.Second,
	}
}

// CohereEmbedder calls Cohere's embeddings API over HTTP.
type CohereEmbedder struct {
	config *CohereConfig
	client *http.Client
}

// NewCohere constructs a CohereEmbedder. A nil config uses defaults
// with an empty API key, which will fail authentication on first use.
func NewCohere(config *CohereConfig) *CohereEmbedder {
	if config == nil {
		config = DefaultCohereConfig("")
	}
	return &CohereEmbedder{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

func (e *CohereEmbedder) Dimensions() int { return e.config.Dimensions }

type cohereRequest struct {
	Model          string   `json:"model"`
	Texts          []string `json:"texts"`
	InputType      string   `json:"input_type"`
	EmbeddingTypes []string `json:"embedding_types"`
}

type cohereResponse struct {
	Embeddings struct {
		Float [][]float32 `json:"float"`
	} `json:"embeddings"`
}

// Embed generates an embedding for a single text by delegating to
// EmbedBatch, matching this codebase's existing embedder pattern.
func (e *CohereEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding: no embedding returned")
	}
	return vecs[0], nil
}

// EmbedBatch sends all texts to Cohere in a single request.
func (e *CohereEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := cohereRequest{
		Model:          e.config.Model,
		Texts:          texts,
		InputType:      e.config.InputType,
		EmbeddingTypes: []string{"float"},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	url := e.config.APIURL + "/v1/embed"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: cohere returned %d: %s", resp.StatusCode, string(errBody))
	}

	var cohereResp cohereResponse
	if err := json.NewDecoder(resp.Body).Decode(&cohereResp); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	return cohereResp.Embeddings.Float, nil
}

// HashEmbedder is a deterministic, offline stand-in for CohereEmbedder:
// it derives a unit vector from a blake2b hash of the input text so
// tests and local development don't depend on network access or an
// API key, while still exercising the same Embedder contract.
type HashEmbedder struct {
	dims int
}

// NewHash constructs a HashEmbedder producing vectors of length dims.
func NewHash(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 32
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Dimensions() int { return e.dims }

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.hashVector(text), nil
}

func (e *HashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = e.hashVector(t)
	}
	return vecs, nil
}

// hashVector fills the output with successive blake2b-512 digests of
// text followed by a block counter byte, then L2-normalizes it so every embedding lies on the unit
// sphere, matching what a real sentence-embedding model would produce.
func (e *HashEmbedder) hashVector(text string) []float32 {
	vec := make([]float32, e.dims)
	block := []byte(text)
	counter := 0
	written := 0
	for written < e.dims {
		sum := blake2b.Sum512(append(block, byte(counter)))
		for _, b := range sum {
			if written >= e.dims {
				break
			}
			// Map a byte to a small signed float so successive blocks
			// still vary rather than saturating near one value.
			vec[written] = float32(int(b)-128) / 128.0
			written++
		}
		counter++
	}

	var normSq float64
	for _, v := range vec {
		normSq += float64(v) * float64(v)
	}
	if normSq == 0 {
		return vec
	}
	norm := float32(1.0 / math.Sqrt(normSq))
	for i := range vec {
		vec[i] *= norm
	}
	return vec
}
