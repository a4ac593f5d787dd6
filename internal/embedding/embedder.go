// Package embedding provides the Embedder abstraction shared by every
// agent and the orchestrator's query-time vectorization, plus the
// process-wide pool that keeps one instance alive per model name.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"os"
	"time"
)

// Embedder turns text into a fixed-dimension vector. Implementations must
// be safe for concurrent use: the pool hands the same instance to every
// agent that requests its model.
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// LocalHashEmbedder is a deterministic, dependency-free embedder used in
// tests and for silos with no external embedding service configured. It
// hashes tokens into a fixed-width vector rather than calling out to a
// model, so results are stable and reproducible.
type LocalHashEmbedder struct {
	model string
	dims  int
}

// NewLocalHashEmbedder returns a hash-based embedder with the given
// dimensionality (default 256 when dims <= 0).
func NewLocalHashEmbedder(model string, dims int) *LocalHashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &LocalHashEmbedder{model: model, dims: dims}
}

func (e *LocalHashEmbedder) Dimensions() int { return e.dims }
func (e *LocalHashEmbedder) ModelName() string { return e.model }

func (e *LocalHashEmbedder) Encode(_ context.Context, text string) ([]float32, error) {
	return e.vectorize(text), nil
}

func (e *LocalHashEmbedder) EncodeBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	return encodeBatchSequential(ctx, e, texts, batchSize)
}

func (e *LocalHashEmbedder) vectorize(text string) []float32 {
	vec := make([]float32, e.dims)
	var total float32
	for _, tok := range tokenizeForHash(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		idx := int(h.Sum32()) % e.dims
		if idx < 0 {
			idx += e.dims
		}
		vec[idx]++
		total++
	}
	if total == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= total
	}
	return vec
}

func tokenizeForHash(s string) []string {
	var tokens []string
	var cur []byte
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			cur = append(cur, byte(r))
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// encodeBatchSequential is the shared EncodeBatch implementation: it chunks
// texts into groups of batchSize and calls Encode for each, matching the
// teacher embedding agent's batch-processing loop (see embedding_agent's
// ProcessMessage) without requiring the batching logic to live in every
// Embedder implementation.
func encodeBatchSequential(ctx context.Context, e Embedder, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
		if batchSize == 0 {
			batchSize = 1
		}
	}
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		for i := start; i < end; i++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			vec, err := e.Encode(ctx, texts[i])
			if err != nil {
				return nil, fmt.Errorf("embedding: encode batch item %d: %w", i, err)
			}
			out[i] = vec
		}
	}
	return out, nil
}

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint over HTTP.
// Grounded on the teacher's OpenAIProvider: same request/response shape,
// generalized to a configurable base URL so any OpenAI-protocol-compatible
// service (including self-hosted ones) can stand in.
type HTTPEmbedder struct {
	apiKey     string
	model      string
	baseURL    string
	dimensions int
	httpClient *http.Client
}

// HTTPEmbedderOption configures an HTTPEmbedder at construction time.
type HTTPEmbedderOption func(*HTTPEmbedder)

// WithBaseURL overrides the default OpenAI endpoint.
func WithBaseURL(url string) HTTPEmbedderOption {
	return func(e *HTTPEmbedder) { e.baseURL = url }
}

// NewHTTPEmbedder builds an HTTP-backed embedder. apiKey defaults to
// OPENAI_API_KEY when empty.
func NewHTTPEmbedder(apiKey, model string, dimensions int, timeout time.Duration, opts ...HTTPEmbedderOption) *HTTPEmbedder {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	e := &HTTPEmbedder{
		apiKey:     apiKey,
		model:      model,
		baseURL:    "https://api.openai.com/v1/embeddings",
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *HTTPEmbedder) Dimensions() int   { return e.dimensions }
func (e *HTTPEmbedder) ModelName() string { return e.model }

type httpEmbeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

type httpEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (e *HTTPEmbedder) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedAll(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *HTTPEmbedder) EncodeBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
		if batchSize == 0 {
			batchSize = 1
		}
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedAll(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *HTTPEmbedder) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := httpEmbeddingRequest{Input: texts, Model: e.model, EncodingFormat: "float"}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: upstream status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp httpEmbeddingResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("embedding: parse response: %w", err)
	}

	out := make([][]float32, len(texts))
	for _, item := range apiResp.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, fmt.Errorf("embedding: index %d out of range", item.Index)
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}
