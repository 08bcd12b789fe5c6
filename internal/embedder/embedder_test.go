package embedder

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func vecNorm(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return math.Sqrt(sumSq)
}

func TestStubEmbedderUnitNorm(t *testing.T) {
	s := NewStubEmbedder(32)
	v, err := s.Embed(context.Background(), "topic one covers loops and conditionals")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v) != 32 {
		t.Fatalf("expected dim 32, got %d", len(v))
	}
	if n := vecNorm(v); math.Abs(n-1) > 1e-4 {
		t.Fatalf("expected unit norm, got %f", n)
	}
}

func TestStubEmbedderDeterministic(t *testing.T) {
	s := NewStubEmbedder(16)
	a, _ := s.Embed(context.Background(), "same text")
	b, _ := s.Embed(context.Background(), "same text")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected deterministic output, differed at index %d: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestTruncateTokensCapsAtMax(t *testing.T) {
	text := strings.Repeat("word ", 500)
	toks := truncateTokens(text, MaxSubwordTokens)
	if len(toks) != MaxSubwordTokens {
		t.Fatalf("expected %d tokens, got %d", MaxSubwordTokens, len(toks))
	}
}

func TestHTTPEmbedderDefaultsEndpoint(t *testing.T) {
	h := NewHTTPEmbedder("", "key", "text-embedding-3-small", 3)
	if h.endpoint != OpenAIEmbeddingsURL {
		t.Fatalf("expected default endpoint %s, got %s", OpenAIEmbeddingsURL, h.endpoint)
	}
}

func TestHTTPEmbedderEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		resp := struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}{}
		for range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: []float32{3, 4}})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	h := NewHTTPEmbedder(srv.URL, "test-key", "model", 2)
	vecs, err := h.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if n := vecNorm(vecs[0]); math.Abs(n-1) > 1e-4 {
		t.Fatalf("expected unit-norm response vector, got %f", n)
	}
}

func TestHTTPEmbedderMissingAPIKey(t *testing.T) {
	h := NewHTTPEmbedder("http://example.invalid", "", "model", 2)
	if _, err := h.Embed(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
