package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/curricache/internal/idutil"
	"github.com/seanblong/curricache/internal/store"
	"github.com/seanblong/curricache/pkg/models"
)

const (
	sessionCookieName = "curricache_session"
	sessionHeaderName = "X-Session-Id"
	apiKeyHeaderName  = "X-Api-Key"
	defaultTimeout    = 120 * time.Second
	maxRememberedSrc  = 5
)

// Gateway is the SessionGateway: it owns no retrieval logic of its own, only
// session bookkeeping, follow-up rewriting and the course-schedule
// shortcut, and forwards everything else to the Query API.
type Gateway struct {
	BackendURL string
	Dense      store.DenseIndex
	Rel        store.RelationalStore
	Sessions   SessionStore
	SessionTTL time.Duration
	Payloads   *lru.LRU[string, map[string]any]
	HTTP       *http.Client
	Metrics    *Metrics
}

// New constructs a Gateway with its payload cache sized/TTL'd per cfg.
func New(backendURL string, dense store.DenseIndex, rel store.RelationalStore, sessions SessionStore, sessionTTL time.Duration, payloadCacheMax int, payloadCacheTTL time.Duration, metrics *Metrics) *Gateway {
	if payloadCacheMax <= 0 {
		payloadCacheMax = 1000
	}
	if payloadCacheTTL <= 0 {
		payloadCacheTTL = 5 * time.Minute
	}
	return &Gateway{
		BackendURL: backendURL,
		Dense:      dense,
		Rel:        rel,
		Sessions:   sessions,
		SessionTTL: sessionTTL,
		Payloads:   lru.NewLRU[string, map[string]any](payloadCacheMax, nil, payloadCacheTTL),
		HTTP:       &http.Client{Timeout: defaultTimeout},
		Metrics:    metrics,
	}
}

type queryRequest struct {
	Query string `json:"query"`
}

// ServeHTTP implements the gateway's single POST /ask surface.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		http.Error(w, "missing query", http.StatusBadRequest)
		return
	}

	sessionID := g.identifySession(w, r)
	state, _ := g.Sessions.Get(sessionID)

	query := req.Query
	isFollowUp := IsFollowUp(query) && state.ActiveEntityName != ""
	if isFollowUp {
		query = RewriteQuery(query, state.ActiveEntityName)
		g.Metrics.FollowUps.Inc()
	}

	ctx := r.Context()

	if sched, ok := g.tryCourseScheduleShortcut(ctx, query, state); ok {
		g.Metrics.CourseShortcuts.Inc()
		g.Metrics.Requests.WithLabelValues("course-schedule-shortcut").Inc()
		writeJSON(w, http.StatusOK, sched)
		return
	}

	result, err := g.forward(ctx, r, query)
	if err != nil {
		g.Metrics.BackendErrors.Inc()
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	g.Metrics.Requests.WithLabelValues(string(result.Intent)).Inc()

	newState := g.refreshState(ctx, sessionID, state, result)
	g.Sessions.Put(sessionID, newState, g.SessionTTL)

	writeJSON(w, http.StatusOK, result)
}

func (g *Gateway) identifySession(w http.ResponseWriter, r *http.Request) string {
	if v := r.Header.Get(sessionHeaderName); v != "" {
		return v
	}
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(g.SessionTTL.Seconds()),
		HttpOnly: true,
	})
	w.Header().Set(sessionHeaderName, id)
	return id
}

// tryCourseScheduleShortcut answers "when" / "schedule" questions about the
// session's active course directly from the relational store, without a
// round trip through the retrieval pipeline. A miss returns false and the
// caller forwards the query unchanged; it is not rewritten to the course
// title.
func (g *Gateway) tryCourseScheduleShortcut(ctx context.Context, query string, state models.ConversationState) (models.QueryResult, bool) {
	if state.ActiveCourse == nil {
		return models.QueryResult{}, false
	}
	ql := strings.ToLower(query)
	if !strings.Contains(ql, "schedule") && !strings.Contains(ql, "when") {
		return models.QueryResult{}, false
	}

	sched, found, err := g.Rel.CourseScheduleByTitle(ctx, state.ActiveCourse.Title)
	if err != nil || !found {
		return models.QueryResult{}, false
	}

	answer := fmt.Sprintf("%s ran from %s to %s. [source: %s]",
		state.ActiveCourse.Title, sched.Earliest.Format("2006-01-02"), sched.Latest.Format("2006-01-02"), state.ActiveCourse.ChunkID)
	return models.QueryResult{
		Answer:     answer,
		Sources:    []string{state.ActiveCourse.ChunkID},
		Intent:     models.IntentFactual,
		Confidence: models.ConfidenceHigh,
	}, true
}

func (g *Gateway) forward(ctx context.Context, orig *http.Request, query string) (models.QueryResult, error) {
	body, _ := json.Marshal(map[string]string{"query": query})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.BackendURL, "/")+"/query", bytes.NewReader(body))
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("gateway: build backend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := orig.Header.Get(apiKeyHeaderName); key != "" {
		req.Header.Set(apiKeyHeaderName, key)
	}

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("gateway: backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.QueryResult{}, fmt.Errorf("gateway: backend returned %d", resp.StatusCode)
	}

	var out models.QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.QueryResult{}, fmt.Errorf("gateway: decode backend response: %w", err)
	}
	return out, nil
}

// refreshState resolves the top sources in the result, picking the first
// course-type chunk as the active entity when one is present (otherwise the
// first resolvable source), and carries the owning course forward when the
// active entity is a class chunk that references one.
func (g *Gateway) refreshState(ctx context.Context, sessionID string, prev models.ConversationState, result models.QueryResult) models.ConversationState {
	sources := result.Sources
	if len(sources) > maxRememberedSrc {
		sources = sources[:maxRememberedSrc]
	}

	next := models.ConversationState{
		SessionID:   sessionID,
		LastSources: sources,
		UpdatedAt:   time.Now(),
	}

	var payloads []map[string]any
	var activeChunk models.Chunk
	var activeFound bool

	for _, id := range sources {
		payload, chunk, ok := g.resolvePayload(ctx, id)
		if !ok {
			continue
		}
		payloads = append(payloads, payload)
		if !activeFound || chunk.ChunkType == models.ChunkCourse {
			activeChunk = chunk
			activeFound = true
			if chunk.ChunkType == models.ChunkCourse {
				break
			}
		}
	}
	next.LastPayloads = payloads

	if !activeFound {
		next.ActiveEntityID = prev.ActiveEntityID
		next.ActiveEntityName = prev.ActiveEntityName
		next.ActiveEntityType = prev.ActiveEntityType
		next.ActiveCourse = prev.ActiveCourse
		return next
	}

	next.ActiveEntityID = activeChunk.ChunkID
	next.ActiveEntityName = activeChunk.Title
	next.ActiveEntityType = activeChunk.ChunkType

	switch activeChunk.ChunkType {
	case models.ChunkCourse:
		next.ActiveCourse = &models.ActiveCourse{ChunkID: activeChunk.ChunkID, Title: activeChunk.Title}
	case models.ChunkClass:
		if course, ok, err := g.Rel.ResolveCourseForClass(ctx, activeChunk.ChunkID); err == nil && ok {
			next.ActiveCourse = &models.ActiveCourse{ChunkID: course.ChunkID, Title: course.Title}
		} else {
			next.ActiveCourse = prev.ActiveCourse
		}
	default:
		next.ActiveCourse = prev.ActiveCourse
	}

	return next
}

// resolvePayload resolves a chunk id's payload via the deterministic point
// id fast path (dense index + LRU/TTL cache), falling back to a relational
// chunk-id lookup when the point isn't in the dense index (e.g. a
// synthesized SQL-result chunk).
func (g *Gateway) resolvePayload(ctx context.Context, chunkID string) (map[string]any, models.Chunk, bool) {
	pointID := idutil.PointID(chunkID)
	if cached, ok := g.Payloads.Get(pointID); ok {
		return cached, chunkFromPayload(chunkID, cached), true
	}

	if cand, ok, err := g.Dense.GetPointByID(ctx, pointID); err == nil && ok {
		g.Payloads.Add(pointID, cand.Payload)
		return cand.Payload, chunkFromPayload(chunkID, cand.Payload), true
	}

	chunk, ok, err := g.Rel.GetChunk(ctx, chunkID)
	if err != nil || !ok {
		return nil, models.Chunk{}, false
	}
	payload := map[string]any{"chunk_id": chunk.ChunkID, "title": chunk.Title, "chunk_type": string(chunk.ChunkType)}
	g.Payloads.Add(pointID, payload)
	return payload, chunk, true
}

func chunkFromPayload(chunkID string, payload map[string]any) models.Chunk {
	c := models.Chunk{ChunkID: chunkID}
	if t, ok := payload["title"].(string); ok {
		c.Title = t
	}
	if ct, ok := payload["chunk_type"].(string); ok {
		c.ChunkType = models.ChunkType(ct)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("gateway: failed to encode response")
	}
}
