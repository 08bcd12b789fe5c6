package prompt

import (
	"strings"
	"testing"

	"github.com/seanblong/curricache/pkg/models"
)

func TestBuildRespectsTokenBudget(t *testing.T) {
	budget := Budget{MaxTokens: 200, ReservedAnswer: 50, Overhead: 20}
	chunks := []models.Chunk{
		{ChunkID: "C1-T1", Title: "Databases and SQL", Text: strings.Repeat("This is evidence text. ", 500)},
	}
	out := Build(chunks, "What is this topic about?", 4, nil, budget, VariantStrict)

	maxEvidenceChars := budget.evidenceTokens() * charsPerToken
	// The assembled evidence body (excluding the fixed instruction/question
	// scaffolding) must stay within the evidence character budget derived
	// from PROMPT_MAX_TOKENS - PROMPT_RESERVED_ANSWER - PROMPT_OVERHEAD,
	// allowing 200 characters of slack.
	evidenceStart := strings.Index(out, "Evidence:\n") + len("Evidence:\n")
	questionStart := strings.Index(out, "Question:")
	evidence := out[evidenceStart:questionStart]
	if len(evidence) > maxEvidenceChars+200 {
		t.Fatalf("evidence body length %d exceeds budget %d", len(evidence), maxEvidenceChars)
	}
}

func TestBuildPreservesFactLines(t *testing.T) {
	budget := Budget{MaxTokens: 60, ReservedAnswer: 10, Overhead: 5}
	longBody := strings.Repeat("filler filler filler filler filler.\n", 40) + "Total classes: 5\n" + strings.Repeat("more filler.\n", 40)
	chunks := []models.Chunk{{ChunkID: "C1-T1", Title: "Topic", Text: longBody}}
	out := Build(chunks, "How many classes?", 1, nil, budget, VariantStrict)
	if !strings.Contains(out, "Total classes: 5") {
		t.Fatalf("expected fact line to survive truncation, got: %s", out)
	}
}

func TestBuildFallsBackToTopChunkWhenNothingFits(t *testing.T) {
	budget := Budget{MaxTokens: 1, ReservedAnswer: 0, Overhead: 0}
	chunks := []models.Chunk{{ChunkID: "C1-T1", Title: "Topic", Text: strings.Repeat("x", 2000)}}
	out := Build(chunks, "q", 1, nil, budget, VariantStrict)
	if !strings.Contains(out, "C1-T1") {
		t.Fatalf("expected fallback chunk to be present even under a zero budget")
	}
}

func TestBuildChargesHistoryAgainstBudget(t *testing.T) {
	budget := Budget{MaxTokens: 4096, ReservedAnswer: 512, Overhead: 256}
	chunks := []models.Chunk{
		{ChunkID: "C1-T1", Title: "Databases and SQL", Text: strings.Repeat("This is evidence text. ", 500)},
	}
	history := make([]Turn, 0, defaultHistoryTurns)
	for i := 0; i < defaultHistoryTurns; i++ {
		history = append(history, Turn{Role: "user", Content: strings.Repeat("h", perTurnCharCap)})
	}
	out := Build(chunks, "What is this topic about?", 4, history, budget, VariantStrict)

	maxChars := budget.evidenceTokens() * charsPerToken
	sys := strictInstruction
	overhead := len(sys) + len("\n\n") + len("Evidence:\n") + len("Question: ") + len("What is this topic about?") + len("\n")
	evidenceStart := strings.Index(out, "Evidence:\n") + len("Evidence:\n")
	questionStart := strings.Index(out, "Question:")
	evidence := out[evidenceStart:questionStart]
	histStart := strings.Index(out, "Conversation so far:\n")
	histLen := evidenceStart - histStart

	if len(evidence)+histLen+overhead > maxChars+200 {
		t.Fatalf("history (%d chars) was not charged against the evidence budget: evidence=%d, total scaffolding=%d, budget=%d",
			histLen, len(evidence), histLen+overhead, maxChars)
	}
}
