package crossencoder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seanblong/curricache/internal/embedder"
	"github.com/seanblong/curricache/pkg/models"
)

func TestBiEncoderFallbackNoEndpoint(t *testing.T) {
	ce := NewHTTPCrossEncoder("", embedder.NewStubEmbedder(32))
	chunks := []models.Chunk{
		{ChunkID: "a", Title: "loops", Text: "for and while loops"},
		{ChunkID: "b", Title: "databases", Text: "relational schema design"},
	}
	scores, err := ce.Score(context.Background(), "loops", chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(scores))
	}
	if scores["a"] <= scores["b"] {
		t.Fatalf("expected chunk a to score higher for a matching query, got a=%f b=%f", scores["a"], scores["b"])
	}
}

func TestBiEncoderFallbackNoEmbedder(t *testing.T) {
	ce := NewHTTPCrossEncoder("", nil)
	if _, err := ce.Score(context.Background(), "q", []models.Chunk{{ChunkID: "a"}}); err == nil {
		t.Fatal("expected error when no fallback embedder is configured")
	}
}

func TestHTTPCrossEncoderUsesRerankService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(rerankResponse{Results: []struct {
			Index int     `json:"index"`
			Score float64 `json:"score"`
		}{{Index: 1, Score: 0.9}, {Index: 0, Score: 0.1}}})
	}))
	defer srv.Close()

	ce := NewHTTPCrossEncoder(srv.URL, nil)
	chunks := []models.Chunk{{ChunkID: "first"}, {ChunkID: "second"}}
	scores, err := ce.Score(context.Background(), "q", chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scores["second"] != 0.9 || scores["first"] != 0.1 {
		t.Fatalf("unexpected scores: %+v", scores)
	}
}

func TestHTTPCrossEncoderFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ce := NewHTTPCrossEncoder(srv.URL, embedder.NewStubEmbedder(16))
	chunks := []models.Chunk{{ChunkID: "a", Title: "t", Text: "x"}}
	scores, err := ce.Score(context.Background(), "q", chunks)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got error: %v", err)
	}
	if _, ok := scores["a"]; !ok {
		t.Fatal("expected fallback score for chunk a")
	}
}
