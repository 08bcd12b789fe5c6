// Package embedder implements the Embedder component: a fixed-dimension,
// unit-norm text embedding with WordPiece-style truncation, bound to one
// of the HTTP-based providers the teacher's internal/ai package used for
// embeddings (separated out here since the spec treats embedding and
// generation as distinct components).
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// MaxSubwordTokens is the runtime cap on a 512-capable model (spec.md §4.1).
const MaxSubwordTokens = 384

// OpenAIEmbeddingsURL is the default HTTPEmbedder endpoint, matching the
// teacher's ai.OpenAIClient embeddings call.
const OpenAIEmbeddingsURL = "https://api.openai.com/v1/embeddings"

// Embedder produces a fixed-dimension unit-norm vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// StubEmbedder is a deterministic, dependency-free embedder used when no
// provider is configured (tests, local dev), mirroring the teacher's
// ai.StubClient fallback role.
type StubEmbedder struct {
	dim int
}

func NewStubEmbedder(dim int) *StubEmbedder {
	if dim <= 0 {
		dim = 768
	}
	return &StubEmbedder{dim: dim}
}

// Embed hashes truncated tokens into a deterministic bag-of-hashes vector
// and L2-normalizes it, satisfying the unit-norm contract without a real
// model.
func (s *StubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	toks := truncateTokens(text, MaxSubwordTokens)
	v := make([]float32, s.dim)
	for _, t := range toks {
		h := fnv32(t)
		v[int(h)%s.dim] += 1
	}
	return normalize(v), nil
}

func (s *StubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *StubEmbedder) Dim() int { return s.dim }

// HTTPEmbedder calls an OpenAI-embeddings-shaped endpoint, the same wire
// contract the teacher's internal/ai/openai.go uses for Embed.
type HTTPEmbedder struct {
	endpoint string
	apiKey   string
	model    string
	dim      int
	http     *http.Client
}

func NewHTTPEmbedder(endpoint, apiKey, model string, dim int) *HTTPEmbedder {
	if endpoint == "" {
		endpoint = OpenAIEmbeddingsURL
	}
	return &HTTPEmbedder{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		dim:      dim,
		http:     &http.Client{Timeout: 20 * time.Second},
	}
}

func (h *HTTPEmbedder) Dim() int { return h.dim }

func (h *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := h.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (h *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if h.apiKey == "" {
		return nil, errors.New("embedder: PROVIDER_API_KEY unset")
	}
	truncated := make([]string, len(texts))
	for i, t := range texts {
		truncated[i] = strings.Join(truncateTokens(t, MaxSubwordTokens), " ")
	}

	payload := map[string]any{"input": truncated, "model": h.model}
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder: retryable request failure: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder: non-200 response: %d", resp.StatusCode)
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedder: decode response: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embedder: expected %d embeddings, got %d", len(texts), len(out.Data))
	}

	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vecs[i] = normalize(d.Embedding)
	}
	return vecs, nil
}

// normalize returns an L2-normalized copy of v; a zero vector is
// returned unchanged (a zero-length input has no well-defined direction).
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// truncateTokens performs a whitespace-approximate WordPiece-style
// tokenization and truncates to maxTokens subword tokens.
func truncateTokens(text string, maxTokens int) []string {
	fields := strings.Fields(text)
	toks := make([]string, 0, len(fields))
	for _, f := range fields {
		toks = append(toks, strings.ToLower(f))
	}
	if len(toks) > maxTokens {
		toks = toks[:maxTokens]
	}
	return toks
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// VertexAIEmbedder wraps google.golang.org/genai's EmbedContent, the same
// call the teacher's internal/ai/vertexai.go Embed makes, with
// TaskType "RETRIEVAL_DOCUMENT" as the teacher configures it.
type VertexAIEmbedder struct {
	client *genai.Client
	model  string
	dim    int
}

func NewVertexAIEmbedder(ctx context.Context, projectID, location, model string, dim int) (*VertexAIEmbedder, error) {
	cc := genai.ClientConfig{Backend: genai.BackendVertexAI}
	if projectID != "" {
		cc.Project = projectID
	}
	if location != "" {
		cc.Location = location
	}
	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("embedder vertexai: client init: %w", err)
	}
	if model == "" {
		model = "text-embedding-005"
	}
	if dim == 0 {
		dim = 768
	}
	return &VertexAIEmbedder{client: client, model: model, dim: dim}, nil
}

func (v *VertexAIEmbedder) Dim() int { return v.dim }

func (v *VertexAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	cfg := genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	truncated := strings.Join(truncateTokens(text, MaxSubwordTokens), " ")
	res, err := v.client.Models.EmbedContent(ctx, v.model, genai.Text(truncated), &cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder vertexai: retryable request failure: %w", err)
	}
	if res == nil || len(res.Embeddings) == 0 {
		return nil, errors.New("embedder vertexai: no embedding returned")
	}
	return normalize(res.Embeddings[0].Values), nil
}

func (v *VertexAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := v.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

var (
	_ Embedder = (*StubEmbedder)(nil)
	_ Embedder = (*HTTPEmbedder)(nil)
	_ Embedder = (*VertexAIEmbedder)(nil)
)
