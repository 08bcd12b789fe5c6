package store

import (
	"context"
	"encoding/json"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/curricache/internal/idutil"
	"github.com/seanblong/curricache/pkg/models"
)

// DenseIndex is the cosine top-K / point-fetch surface over the chunks
// table's vector column (spec.md §4.2).
type DenseIndex interface {
	Search(ctx context.Context, vec []float32, topK, ef int) ([]models.Candidate, error)
	GetPointsByChunkIDs(ctx context.Context, chunkIDs []string) (map[string]models.Candidate, error)
	GetPointByID(ctx context.Context, pointID string) (models.Candidate, bool, error)
}

// Search returns the topK nearest neighbors by cosine similarity, tuning
// HNSW recall with a session-local ef_search for the duration of the query.
func (s *Store) Search(ctx context.Context, vec []float32, topK, ef int) ([]models.Candidate, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if ef <= 0 {
		ef = 200
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", ef)); err != nil {
		return nil, fmt.Errorf("set hnsw.ef_search: %w", err)
	}

	const q = `
SELECT chunk_id, chunk_type, title, metadata, vec,
       1.0 - (vec <=> $1) AS score
FROM chunks
WHERE vec IS NOT NULL
ORDER BY vec <=> $1
LIMIT $2`
	rows, err := tx.Query(ctx, q, vecToPG(vec), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Candidate
	for rows.Next() {
		cand, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

// GetPointsByChunkIDs hydrates payload and vector for identifiers not
// already returned by Search, filtering on the payload's chunk_id field.
func (s *Store) GetPointsByChunkIDs(ctx context.Context, chunkIDs []string) (map[string]models.Candidate, error) {
	out := map[string]models.Candidate{}
	if len(chunkIDs) == 0 {
		return out, nil
	}
	const q = `
SELECT chunk_id, chunk_type, title, metadata, vec, 0 AS score
FROM chunks WHERE chunk_id = ANY($1)`
	rows, err := s.pool.Query(ctx, q, chunkIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		cand, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out[cand.ChunkID] = cand
	}
	return out, rows.Err()
}

// GetPointByID fetches a point by its deterministic point id (the
// gateway's fast path), rather than by chunk_id.
func (s *Store) GetPointByID(ctx context.Context, pointID string) (models.Candidate, bool, error) {
	// Postgres has no UUIDv3 builtin matching our rule, so the lookup
	// walks chunk_ids and compares to the computed point id rather than
	// filtering server-side; the gateway's payload cache keeps this off
	// the hot path in practice.
	rows, err := s.pool.Query(ctx, `SELECT chunk_id, chunk_type, title, metadata, vec FROM chunks`)
	if err != nil {
		return models.Candidate{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var chunkID, chunkType, title, metaRaw string
		var vec *pgvector.Vector
		if err := rows.Scan(&chunkID, &chunkType, &title, &metaRaw, &vec); err != nil {
			return models.Candidate{}, false, err
		}
		if idutil.PointID(chunkID) != pointID {
			continue
		}
		meta := parseMeta(metaRaw)
		meta["chunk_id"] = chunkID
		meta["title"] = title
		meta["chunk_type"] = chunkType
		cand := models.Candidate{ChunkID: chunkID, Payload: meta}
		if vec != nil {
			cand.Vector = vec.Slice()
		}
		return cand, true, nil
	}
	return models.Candidate{}, false, rows.Err()
}

func scanCandidate(r rowScanner) (models.Candidate, error) {
	var chunkID, chunkType, title, metaRaw string
	var vec *pgvector.Vector
	var score float64
	if err := r.Scan(&chunkID, &chunkType, &title, &metaRaw, &vec, &score); err != nil {
		return models.Candidate{}, err
	}
	meta := parseMeta(metaRaw)
	meta["chunk_id"] = chunkID
	meta["title"] = title
	meta["chunk_type"] = chunkType
	cand := models.Candidate{ChunkID: chunkID, Score: score, Payload: meta}
	if vec != nil {
		cand.Vector = vec.Slice()
	}
	return cand, nil
}

func vecToPG(v []float32) pgvector.Vector {
	return pgvector.NewVector(v)
}

func metaJSON(m map[string]any) []byte {
	if m == nil {
		m = map[string]any{}
	}
	b, _ := json.Marshal(m)
	return b
}

func parseMeta(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

var _ DenseIndex = (*Store)(nil)
