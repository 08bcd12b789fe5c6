// Package orchestrator implements the RetrievalOrchestrator: the pipeline
// that composes Embedder, DenseIndex, LexicalIndex, RelationalStore,
// CrossEncoder, MMR, PromptAssembler and GenerativeProvider into intent
// routing, caching, retry and telemetry (spec.md §4.9).
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/curricache/internal/config"
	"github.com/seanblong/curricache/internal/crossencoder"
	"github.com/seanblong/curricache/internal/embedder"
	"github.com/seanblong/curricache/internal/intent"
	"github.com/seanblong/curricache/internal/lexical"
	"github.com/seanblong/curricache/internal/llm"
	"github.com/seanblong/curricache/internal/mmr"
	"github.com/seanblong/curricache/internal/prompt"
	"github.com/seanblong/curricache/internal/store"
	"github.com/seanblong/curricache/internal/verify"
	"github.com/seanblong/curricache/pkg/models"
)

// GreetingAnswer is the canned scenario-1 response.
const GreetingAnswer = "Hello! How can I help you with your learning topics today?"

const lowConfidenceDisclaimer = "I couldn't find a matching authoritative record in your database. Based on semantic evidence (low confidence), "

// Orchestrator wires every retrieval component together behind Ask.
type Orchestrator struct {
	Dense   store.DenseIndex
	Lexical *lexical.Index
	Rel     store.RelationalStore
	Cross   crossencoder.Scorer
	Embed   embedder.Embedder
	Gen     llm.Provider
	Cfg     config.RetrievalSpecification
	PromptCfg config.PromptSpecification

	embedCache *lru.Cache[string, []float32]
	retrCache  *lru.Cache[string, []models.Chunk]
}

// New constructs an Orchestrator with its bounded LRU caches.
func New(dense store.DenseIndex, lex *lexical.Index, rel store.RelationalStore, cross crossencoder.Scorer, embed embedder.Embedder, gen llm.Provider, cfg config.RetrievalSpecification, promptCfg config.PromptSpecification) *Orchestrator {
	embedSize := cfg.EmbedCacheSize
	if embedSize <= 0 {
		embedSize = 1000
	}
	retrSize := cfg.RetrCacheSize
	if retrSize <= 0 {
		retrSize = 500
	}
	ec, _ := lru.New[string, []float32](embedSize)
	rc, _ := lru.New[string, []models.Chunk](retrSize)
	return &Orchestrator{
		Dense: dense, Lexical: lex, Rel: rel, Cross: cross, Embed: embed, Gen: gen,
		Cfg: cfg, PromptCfg: promptCfg,
		embedCache: ec, retrCache: rc,
	}
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// retrieve runs the semantic pipeline (spec.md §4.9 Pipeline, steps 1-9)
// and returns the RERANK_FINAL_N reranked chunks plus the candidate chain
// used for diagnostics and the dense top-1 score.
func (o *Orchestrator) retrieve(ctx context.Context, q string) ([]models.Chunk, []models.RetrievalStep, float64, error) {
	key := normalizeQuery(q)
	if cached, ok := o.retrCache.Get(key); ok {
		return cached, nil, 0, nil
	}

	vec, err := o.embedWithCache(ctx, key, q)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("retrieve: embed: %w", err)
	}

	denseResults, err := withRetry(ctx, 3, 200*time.Millisecond, func() ([]models.Candidate, error) {
		return o.Dense.Search(ctx, vec, o.Cfg.TopKDense, o.Cfg.HNSWEf)
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("retrieve: dense search: %w", err)
	}

	var denseTop1 float64
	if len(denseResults) > 0 {
		denseTop1 = denseResults[0].Score
	}

	var lexIDs []string
	if o.Lexical != nil {
		lexIDs, err = o.Lexical.Search(q, o.Cfg.TopKLex)
		if err != nil {
			lexIDs = nil
		}
	}

	merged := mergeDedupe(denseResults, lexIDs)

	var missing []string
	for _, c := range merged {
		if c.Vector == nil {
			missing = append(missing, c.ChunkID)
		}
	}
	if len(missing) > 0 {
		hydrated, err := o.Dense.GetPointsByChunkIDs(ctx, missing)
		if err == nil {
			for i, c := range merged {
				if h, ok := hydrated[c.ChunkID]; ok {
					if merged[i].Vector == nil {
						merged[i].Vector = h.Vector
					}
					if merged[i].Payload == nil {
						merged[i].Payload = h.Payload
					}
				}
			}
		}
	}

	selected := mmr.Rerank(merged, vec, o.Cfg.MMRFinalSize, o.Cfg.MMRLambda)

	ids := make([]string, len(selected))
	for i, c := range selected {
		ids[i] = c.ChunkID
	}
	chunkRows, err := withRetry(ctx, 3, 200*time.Millisecond, func() (map[string]models.Chunk, error) {
		return o.Rel.GetChunksByIDs(ctx, ids)
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("retrieve: hydrate chunks: %w", err)
	}

	var ordered []models.Chunk
	for _, c := range selected {
		if row, ok := chunkRows[c.ChunkID]; ok {
			ordered = append(ordered, row)
		}
	}

	rerankTopN := ordered
	if len(rerankTopN) > o.Cfg.RerankTopN {
		rerankTopN = rerankTopN[:o.Cfg.RerankTopN]
	}
	scores, err := o.Cross.Score(ctx, q, rerankTopN)
	if err != nil {
		scores = map[string]float64{}
	}
	reranked := sortByScoreDesc(rerankTopN, scores)

	chain := make([]models.RetrievalStep, 0, len(reranked))
	for _, c := range reranked {
		chain = append(chain, models.RetrievalStep{ID: c.ChunkID, Score: scores[c.ChunkID]})
	}

	final := reranked
	if len(final) > o.Cfg.RerankFinalN {
		final = final[:o.Cfg.RerankFinalN]
	}

	o.retrCache.Add(key, final)
	return final, chain, denseTop1, nil
}

func (o *Orchestrator) embedWithCache(ctx context.Context, key, q string) ([]float32, error) {
	if v, ok := o.embedCache.Get(key); ok {
		return v, nil
	}
	v, err := o.Embed.Embed(ctx, q)
	if err != nil {
		return nil, err
	}
	o.embedCache.Add(key, v)
	return v, nil
}

// mergeDedupe merges dense candidates and lexical chunk ids by chunk_id,
// preserving insertion order (dense first, then lexical ids not already
// seen), satisfying the union/order testable property in spec.md §8.
func mergeDedupe(dense []models.Candidate, lexIDs []string) []models.Candidate {
	seen := make(map[string]bool, len(dense)+len(lexIDs))
	out := make([]models.Candidate, 0, len(dense)+len(lexIDs))
	for _, c := range dense {
		if !seen[c.ChunkID] {
			seen[c.ChunkID] = true
			out = append(out, c)
		}
	}
	for _, id := range lexIDs {
		if !seen[id] {
			seen[id] = true
			out = append(out, models.Candidate{ChunkID: id})
		}
	}
	return out
}

func sortByScoreDesc(chunks []models.Chunk, scores map[string]float64) []models.Chunk {
	out := make([]models.Chunk, len(chunks))
	copy(out, chunks)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && scores[out[j].ChunkID] > scores[out[j-1].ChunkID]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func withRetry[T any](ctx context.Context, attempts int, base time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var err error
	for i := 0; i < attempts; i++ {
		var v T
		v, err = fn()
		if err == nil {
			return v, nil
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("retryable call failed")
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(base * time.Duration(1<<i)):
		}
	}
	return zero, err
}

// Ask is the top-level routing entry point (spec.md §4.9 Routing).
func (o *Orchestrator) Ask(ctx context.Context, q string, history []prompt.Turn) (models.QueryResult, error) {
	lbl := intent.Classify(q)

	switch lbl {
	case models.IntentGreeting:
		return models.QueryResult{Answer: GreetingAnswer, Intent: lbl, Confidence: models.ConfidenceHigh}, nil
	case models.IntentFactual:
		return o.askFactual(ctx, q, history)
	case models.IntentMixed:
		return o.askMixed(ctx, q, history)
	default:
		return o.askSemantic(ctx, q, history, false)
	}
}

func (o *Orchestrator) askSemantic(ctx context.Context, q string, history []prompt.Turn, disclaim bool) (models.QueryResult, error) {
	chunks, chain, denseTop1, err := o.retrieve(ctx, q)
	if err != nil {
		return models.QueryResult{}, err
	}

	variant := prompt.VariantStrict
	conf := models.ConfidenceHigh
	if denseTop1 < o.Cfg.ScoreFallbackMin || disclaim {
		variant = prompt.VariantLenient
		conf = models.ConfidenceLow
	}

	p := prompt.Build(chunks, q, o.Cfg.ContextK, history, prompt.Budget{
		MaxTokens: o.PromptCfg.MaxTokens, ReservedAnswer: o.PromptCfg.ReservedAnswer, Overhead: o.PromptCfg.Overhead,
	}, variant)

	answer, err := o.Gen.Generate(ctx, p, o.PromptCfg.ReservedAnswer)
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("ask: generate: %w", err)
	}
	if conf == models.ConfidenceLow {
		answer = lowConfidenceDisclaimer + answer
	}

	sources := make([]string, 0, len(chunks))
	for _, c := range chunks {
		sources = append(sources, c.ChunkID)
	}

	return models.QueryResult{
		Answer: answer, Sources: sources, Intent: models.IntentSemantic,
		Confidence: conf, RetrievalChain: chain,
	}, nil
}

func (o *Orchestrator) askMixed(ctx context.Context, q string, history []prompt.Turn) (models.QueryResult, error) {
	sqlChunk, sqlText, _, ok := o.tryRelational(ctx, q)
	chunks, chain, denseTop1, err := o.retrieve(ctx, q)
	if err != nil {
		return models.QueryResult{}, err
	}

	if ok {
		chunks = append([]models.Chunk{sqlChunk}, chunks...)
		chunks = o.crossEncoderReorder(ctx, q, chunks)
	}

	variant := prompt.VariantStrict
	conf := models.ConfidenceHigh
	if denseTop1 < o.Cfg.ScoreFallbackMin {
		variant = prompt.VariantLenient
		conf = models.ConfidenceMedium
	}

	p := prompt.Build(chunks, q, o.Cfg.ContextK, history, prompt.Budget{
		MaxTokens: o.PromptCfg.MaxTokens, ReservedAnswer: o.PromptCfg.ReservedAnswer, Overhead: o.PromptCfg.Overhead,
	}, variant)
	answer, err := o.Gen.Generate(ctx, p, o.PromptCfg.ReservedAnswer)
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("ask: generate: %w", err)
	}

	sources := make([]string, 0, len(chunks))
	for _, c := range chunks {
		sources = append(sources, c.ChunkID)
	}
	return models.QueryResult{
		Answer: answer, Sources: sources, Intent: models.IntentMixed,
		Confidence: conf, SQLText: sqlText, RetrievalChain: chain,
	}, nil
}

func (o *Orchestrator) askFactual(ctx context.Context, q string, history []prompt.Turn) (models.QueryResult, error) {
	sqlChunk, sqlText, detAnswer, ok := o.tryRelational(ctx, q)
	if !ok {
		return o.askSemantic(ctx, q, history, true)
	}

	chunks, chain, _, err := o.retrieve(ctx, q)
	if err != nil {
		chunks = nil
	}
	merged := append([]models.Chunk{sqlChunk}, chunks...)
	merged = o.crossEncoderReorder(ctx, q, merged)

	sources := make([]string, 0, len(merged))
	for _, c := range merged {
		sources = append(sources, c.ChunkID)
	}

	// Closed-set relational hits that carry an exact wording (class counts,
	// learned-at dates) are answered with that wording directly rather than
	// risking generator paraphrase; inject-and-rerank still runs so Sources
	// and RetrievalChain stay consistent with the MIXED path, and remains
	// the only path for relational hits with no fixed phrasing (course/topic
	// listings).
	if detAnswer != "" {
		return models.QueryResult{
			Answer: detAnswer, Sources: sources, Intent: models.IntentFactual,
			Confidence: models.ConfidenceHigh, SQLText: sqlText, RetrievalChain: chain,
		}, nil
	}

	p := prompt.Build(merged, q, o.Cfg.ContextK, history, prompt.Budget{
		MaxTokens: o.PromptCfg.MaxTokens, ReservedAnswer: o.PromptCfg.ReservedAnswer, Overhead: o.PromptCfg.Overhead,
	}, prompt.VariantStrict)

	answer, err := o.Gen.Generate(ctx, p, o.PromptCfg.ReservedAnswer)
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("ask: generate: %w", err)
	}

	return models.QueryResult{
		Answer: answer, Sources: sources, Intent: models.IntentFactual,
		Confidence: models.ConfidenceHigh, SQLText: sqlText, RetrievalChain: chain,
	}, nil
}

// tryRelational attempts the closed set of deterministic relational
// queries (list-courses, list-topics, learned-at-range, count-classes) and,
// on a hit, synthesizes a SQL-prefixed result chunk plus the SQL-ish text
// surfaced to the caller for diagnostics (spec.md §4.9 "Relational path").
// The fourth return value is the fixed-wording sentence askFactual should
// answer with verbatim when one exists for this hit's kind (count,
// learned-at); it is "" for kinds with no fixed wording (course/topic
// listings), which askFactual instead routes through generation.
func (o *Orchestrator) tryRelational(ctx context.Context, q string) (models.Chunk, string, string, bool) {
	ql := strings.ToLower(q)
	topicID := intent.ExtractTopicID(q)

	switch {
	case topicID != "" && strings.Contains(ql, "how many"):
		n, err := o.Rel.CountClassesForTopic(ctx, topicID)
		if err != nil {
			return models.Chunk{}, "", "", false
		}
		text := fmt.Sprintf("%s has %d classes.", topicID, n)
		sql := fmt.Sprintf("SELECT count(*) FROM classes JOIN topics ON topics.id = classes.topic_id WHERE topics.code = '%s';", topicID)
		answer := fmt.Sprintf("You have %d classes for %s.", n, topicID)
		return o.sqlChunk(topicID+"-count", text), sql, answer, true

	case topicID != "" && strings.Contains(ql, "when"):
		earliest, latest, found, err := o.Rel.LearnedAtRangeForTopic(ctx, topicID)
		if err != nil || !found {
			return models.Chunk{}, "", "", false
		}
		text := fmt.Sprintf("%s was learned_at between %s and %s.", topicID,
			earliest.Format("2006-01-02"), latest.Format("2006-01-02"))
		sql := fmt.Sprintf("SELECT min(learned_at), max(learned_at) FROM classes JOIN topics ON topics.id = classes.topic_id WHERE topics.code = '%s';", topicID)
		var answer string
		if earliest.Format("2006-01-02") == latest.Format("2006-01-02") {
			answer = fmt.Sprintf("You learned %s on %s.", topicID, earliest.Format("January 2, 2006"))
		} else {
			answer = fmt.Sprintf("You learned %s between %s and %s.", topicID,
				earliest.Format("January 2, 2006"), latest.Format("January 2, 2006"))
		}
		return o.sqlChunk(topicID+"-learned-at", text), sql, answer, true

	case strings.Contains(ql, "list") && strings.Contains(ql, "course"):
		courses, err := o.Rel.ListCourses(ctx)
		if err != nil || len(courses) == 0 {
			return models.Chunk{}, "", "", false
		}
		var b strings.Builder
		for _, c := range courses {
			fmt.Fprintf(&b, "%s: %s\n", c.Code, c.Title)
		}
		return o.sqlChunk("courses", b.String()), "SELECT code, title FROM courses ORDER BY code;", "", true

	case strings.Contains(ql, "list") && strings.Contains(ql, "topic"):
		topics, err := o.Rel.ListTopics(ctx, "")
		if err != nil || len(topics) == 0 {
			return models.Chunk{}, "", "", false
		}
		var b strings.Builder
		for _, t := range topics {
			fmt.Fprintf(&b, "%s: %s\n", t.Code, t.Title)
		}
		return o.sqlChunk("topics", b.String()), "SELECT code, title FROM topics ORDER BY position;", "", true

	default:
		return models.Chunk{}, "", "", false
	}
}

func (o *Orchestrator) sqlChunk(suffix, text string) models.Chunk {
	return models.Chunk{
		ChunkID:   models.SQLResultPrefix + suffix,
		ChunkType: models.ChunkSQLResult,
		Title:     "relational result",
		Text:      text,
		Metadata:  map[string]any{},
		CreatedAt: time.Now(),
	}
}

func (o *Orchestrator) crossEncoderReorder(ctx context.Context, q string, chunks []models.Chunk) []models.Chunk {
	scores, err := o.Cross.Score(ctx, q, chunks)
	if err != nil {
		return chunks
	}
	return sortByScoreDesc(chunks, scores)
}

// Verify runs the Verifier against a generated answer and the evidence
// that produced it, keyed by the chunk ids cited in the result.
func Verify(result models.QueryResult, evidence map[string]string) verify.Result {
	return verify.Verify(result.Answer, evidence)
}
