// Package crossencoder implements CrossEncoder: a pairwise query-document
// scorer used only to sort candidates, with an HTTP-backed pair model when
// configured and a bi-encoder cosine fallback otherwise.
package crossencoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/seanblong/curricache/internal/embedder"
	"github.com/seanblong/curricache/pkg/models"
)

// Scorer is the CrossEncoder operation: score(query, chunks) -> chunk_id->score.
type Scorer interface {
	Score(ctx context.Context, query string, chunks []models.Chunk) (map[string]float64, error)
}

// HTTPCrossEncoder calls an external pair-encoder service shaped like a
// rerank endpoint (query + documents in, scored+ordered results out). When
// the service is unreachable it falls back to bi-encoder cosine similarity
// via the shared Embedder, so scoring never hard-fails.
type HTTPCrossEncoder struct {
	endpoint string
	client   *http.Client
	embed    embedder.Embedder
}

func NewHTTPCrossEncoder(endpoint string, embed embedder.Embedder) *HTTPCrossEncoder {
	return &HTTPCrossEncoder{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		embed:    embed,
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

func (h *HTTPCrossEncoder) Score(ctx context.Context, query string, chunks []models.Chunk) (map[string]float64, error) {
	if h.endpoint == "" {
		return h.biEncoderFallback(ctx, query, chunks)
	}

	docs := make([]string, len(chunks))
	for i, c := range chunks {
		docs[i] = c.Title + "\n" + c.Text
	}
	body, _ := json.Marshal(rerankRequest{Query: query, Documents: docs})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return h.biEncoderFallback(ctx, query, chunks)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return h.biEncoderFallback(ctx, query, chunks)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return h.biEncoderFallback(ctx, query, chunks)
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return h.biEncoderFallback(ctx, query, chunks)
	}

	scores := map[string]float64{}
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(chunks) {
			continue
		}
		scores[chunks[r.Index].ChunkID] = r.Score
	}
	return scores, nil
}

func (h *HTTPCrossEncoder) biEncoderFallback(ctx context.Context, query string, chunks []models.Chunk) (map[string]float64, error) {
	if h.embed == nil {
		return nil, fmt.Errorf("crossencoder: no rerank service and no bi-encoder fallback configured")
	}
	qvec, err := h.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("crossencoder fallback embed query: %w", err)
	}
	scores := map[string]float64{}
	for _, c := range chunks {
		dvec, err := h.embed.Embed(ctx, c.Title+"\n"+c.Text)
		if err != nil {
			continue
		}
		scores[c.ChunkID] = cosine(qvec, dvec)
	}
	return scores, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ Scorer = (*HTTPCrossEncoder)(nil)
