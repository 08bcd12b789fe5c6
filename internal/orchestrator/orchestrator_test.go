package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/seanblong/curricache/internal/config"
	"github.com/seanblong/curricache/internal/store"
	"github.com/seanblong/curricache/pkg/models"
)

type fakeDense struct {
	candidates []models.Candidate
	points     map[string]models.Candidate
}

func (f *fakeDense) Search(_ context.Context, _ []float32, topK, _ int) ([]models.Candidate, error) {
	out := f.candidates
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (f *fakeDense) GetPointsByChunkIDs(_ context.Context, ids []string) (map[string]models.Candidate, error) {
	out := map[string]models.Candidate{}
	for _, id := range ids {
		if p, ok := f.points[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeDense) GetPointByID(_ context.Context, id string) (models.Candidate, bool, error) {
	return models.Candidate{}, false, nil
}

type fakeRel struct {
	chunks map[string]models.Chunk
}

func (f *fakeRel) UpsertChunk(context.Context, models.Chunk, []float32) error { return nil }
func (f *fakeRel) GetChunk(_ context.Context, id string) (models.Chunk, bool, error) {
	c, ok := f.chunks[id]
	return c, ok, nil
}
func (f *fakeRel) GetChunksByIDs(_ context.Context, ids []string) (map[string]models.Chunk, error) {
	out := map[string]models.Chunk{}
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}
func (f *fakeRel) ListAllChunks(context.Context) ([]models.Chunk, error) { return nil, nil }
func (f *fakeRel) ListCourses(context.Context) ([]store.Course, error)  { return nil, nil }
func (f *fakeRel) ListTopics(context.Context, string) ([]store.Topic, error) {
	return nil, nil
}
func (f *fakeRel) CountClassesForTopic(_ context.Context, code string) (int, error) {
	if code == "C1-T1" {
		return 5, nil
	}
	return 0, nil
}
func (f *fakeRel) LearnedAtRangeForTopic(_ context.Context, code string) (time.Time, time.Time, bool, error) {
	if code == "C2-T3" {
		t := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)
		return t, t, true, nil
	}
	return time.Time{}, time.Time{}, false, nil
}
func (f *fakeRel) CourseScheduleByTitle(context.Context, string) (store.CourseSchedule, bool, error) {
	return store.CourseSchedule{}, false, nil
}
func (f *fakeRel) CourseScheduleByCode(context.Context, string) (store.CourseSchedule, bool, error) {
	return store.CourseSchedule{}, false, nil
}
func (f *fakeRel) ResolveCourseForClass(context.Context, string) (models.Chunk, bool, error) {
	return models.Chunk{}, false, nil
}

type fakeEmbed struct{}

func (fakeEmbed) Embed(context.Context, string) ([]float32, error)             { return []float32{1, 0}, nil }
func (fakeEmbed) EmbedBatch(context.Context, []string) ([][]float32, error)    { return nil, nil }
func (fakeEmbed) Dim() int                                                     { return 2 }

type fakeCross struct{}

func (fakeCross) Score(_ context.Context, _ string, chunks []models.Chunk) (map[string]float64, error) {
	out := map[string]float64{}
	for _, c := range chunks {
		out[c.ChunkID] = 1
	}
	return out, nil
}

type fakeGen struct{}

func (fakeGen) Generate(context.Context, string, int) (string, error) {
	return "5 classes for C1-T1. [source: SQL-C1-T1-count]", nil
}
func (fakeGen) Name() string { return "fake" }

func newTestOrchestrator() *Orchestrator {
	dense := &fakeDense{
		candidates: []models.Candidate{{ChunkID: "C1-T1", Score: 0.9, Vector: []float32{1, 0}}},
	}
	rel := &fakeRel{chunks: map[string]models.Chunk{
		"C1-T1": {ChunkID: "C1-T1", ChunkType: models.ChunkTopic, Title: "Topic 1", Text: "about topic 1"},
	}}
	cfg := config.RetrievalSpecification{
		TopKDense: 10, TopKLex: 10, MMRFinalSize: 5, MMRLambda: 0.7,
		RerankTopN: 5, RerankFinalN: 3, ContextK: 3, HNSWEf: 100, ScoreFallbackMin: 0.3,
		EmbedCacheSize: 10, RetrCacheSize: 10,
	}
	promptCfg := config.PromptSpecification{MaxTokens: 2048, ReservedAnswer: 256, Overhead: 128}
	return New(dense, nil, rel, fakeCross{}, fakeEmbed{}, fakeGen{}, cfg, promptCfg)
}

func TestAskGreetingSkipsRetrieval(t *testing.T) {
	o := newTestOrchestrator()
	res, err := o.Ask(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != models.IntentGreeting || res.Answer != GreetingAnswer {
		t.Fatalf("got %+v", res)
	}
	if len(res.Sources) != 0 {
		t.Fatalf("greeting should not carry sources, got %v", res.Sources)
	}
}

func TestAskFactualCountUsesRelationalPath(t *testing.T) {
	o := newTestOrchestrator()
	res, err := o.Ask(context.Background(), "How many classes for C1-T1?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != models.IntentFactual {
		t.Fatalf("expected FACTUAL, got %s", res.Intent)
	}
	if res.SQLText == "" {
		t.Fatal("expected a synthesized SQL text for a relational hit")
	}
	if len(res.Sources) == 0 || res.Sources[0] != models.SQLResultPrefix+"C1-T1-count" {
		t.Fatalf("expected the SQL result chunk to lead sources, got %v", res.Sources)
	}
	if want := "You have 5 classes for C1-T1."; res.Answer != want {
		t.Fatalf("expected the deterministic count sentence %q, got %q", want, res.Answer)
	}
}

func TestAskFactualLearnedAtUsesDeterministicSentence(t *testing.T) {
	o := newTestOrchestrator()
	res, err := o.Ask(context.Background(), "When did I learn C2-T3?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != models.IntentFactual {
		t.Fatalf("expected FACTUAL, got %s", res.Intent)
	}
	if want := "You learned C2-T3 on June 21, 2025."; res.Answer != want {
		t.Fatalf("expected the deterministic learned-at sentence %q, got %q", want, res.Answer)
	}
}

func TestMergeDedupePreservesOrder(t *testing.T) {
	dense := []models.Candidate{{ChunkID: "a"}, {ChunkID: "b"}}
	lex := []string{"b", "c"}
	merged := mergeDedupe(dense, lex)
	want := []string{"a", "b", "c"}
	if len(merged) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(merged), len(want))
	}
	for i, id := range want {
		if merged[i].ChunkID != id {
			t.Errorf("merged[%d] = %s, want %s", i, merged[i].ChunkID, id)
		}
	}
}
