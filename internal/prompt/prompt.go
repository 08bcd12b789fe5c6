// Package prompt implements PromptAssembler: tokenizer-aware budgeted
// prompt construction that preserves fact lines under truncation (spec.md
// §4.6).
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/seanblong/curricache/pkg/models"
)

// Variant selects between the strict and lenient answer templates.
type Variant string

const (
	VariantStrict  Variant = "strict"
	VariantLenient Variant = "lenient"
)

// Turn is one entry of conversation history passed to Build.
type Turn struct {
	Role    string
	Content string
}

const (
	defaultHistoryTurns = 6
	perTurnCharCap      = 800
	fallbackCharBudget  = 400
	// charsPerToken approximates the tokenizer for budget bookkeeping,
	// the same coarse-count idiom the teacher uses for maxInput in
	// internal/ai/openai.go.
	charsPerToken = 4
)

var factLinePattern = regexp.MustCompile(`(?i)\b(total|count|learned[\s_-]?at|due|created|enrolled)\b.*`)

// Budget holds the global token budget and its reservations.
type Budget struct {
	MaxTokens      int
	ReservedAnswer int
	Overhead       int
}

func (b Budget) evidenceTokens() int {
	avail := b.MaxTokens - b.ReservedAnswer - b.Overhead
	if avail < 0 {
		return 0
	}
	return avail
}

// Build assembles a prompt from contextChunks (already in rerank order),
// the user's question, and optional history. variant selects the
// strict/lenient system instruction. History, the system instruction and
// the Evidence/Question labels are all charged against the evidence budget
// before the chunk body is assembled, so the total output still respects
// budget.evidenceTokens() (spec.md §8 "PromptAssembler output token count").
func Build(contextChunks []models.Chunk, userQuestion string, contextK int, history []Turn, budget Budget, variant Variant) string {
	if contextK < len(contextChunks) {
		contextChunks = contextChunks[:contextK]
	}

	var sys string
	switch variant {
	case VariantLenient:
		sys = lenientInstruction
	default:
		sys = strictInstruction
	}

	histBlock := buildHistoryBlock(history)

	overheadChars := len(sys) + len("\n\n") + len(histBlock) +
		len("Evidence:\n") + len("Question: ") + len(userQuestion) + len("\n")

	evidenceCharBudget := budget.evidenceTokens()*charsPerToken - overheadChars
	if evidenceCharBudget < 0 {
		evidenceCharBudget = 0
	}

	var body strings.Builder
	used := 0
	included := 0
	for _, c := range contextChunks {
		block := formatChunk(c)
		if used+len(block) <= evidenceCharBudget {
			body.WriteString(block)
			body.WriteString("\n\n")
			used += len(block) + 2
			included++
			continue
		}
		remaining := evidenceCharBudget - used
		if remaining <= 0 {
			break
		}
		truncated := truncatePreservingFacts(c, remaining)
		if truncated == "" {
			continue
		}
		body.WriteString(truncated)
		body.WriteString("\n\n")
		used += len(truncated) + 2
		included++
		break
	}

	if included == 0 && len(contextChunks) > 0 {
		top := contextChunks[0]
		block := formatChunk(top)
		if len(block) > fallbackCharBudget {
			if t := truncatePreservingFacts(top, fallbackCharBudget); t != "" {
				block = t
			} else {
				block = block[:fallbackCharBudget] + "..."
			}
		}
		body.WriteString(block)
		body.WriteString("\n\n")
	}

	var sb strings.Builder
	sb.WriteString(sys)
	sb.WriteString("\n\n")
	sb.WriteString(histBlock)
	sb.WriteString("Evidence:\n")
	sb.WriteString(body.String())
	sb.WriteString("Question: ")
	sb.WriteString(userQuestion)
	sb.WriteString("\n")
	return sb.String()
}

// buildHistoryBlock renders the last defaultHistoryTurns turns (each capped
// to perTurnCharCap chars) as the "Conversation so far:" block, or "" when
// there is no history to include.
func buildHistoryBlock(history []Turn) string {
	if len(history) == 0 {
		return ""
	}
	h := history
	if len(h) > defaultHistoryTurns {
		h = h[len(h)-defaultHistoryTurns:]
	}
	var hist strings.Builder
	for _, t := range h {
		content := t.Content
		if len(content) > perTurnCharCap {
			content = "..." + content[len(content)-perTurnCharCap:]
		}
		hist.WriteString(fmt.Sprintf("%s: %s\n", t.Role, content))
	}
	if hist.Len() == 0 {
		return ""
	}
	return "Conversation so far:\n" + hist.String() + "\n"
}

const strictInstruction = `You answer questions about curriculum content using only the evidence below.
Cite every factual sentence with [source: CHUNK_ID]. If the evidence does not support an
answer, refuse exactly with: "I don't have enough information to answer that."`

const lenientInstruction = `You answer questions about curriculum content. The evidence below is limited;
answer best-effort and still cite sources with [source: CHUNK_ID] where possible.`

// RefusalString is the exact canonical refusal sentence the Verifier checks for.
const RefusalString = "I don't have enough information to answer that."

func formatChunk(c models.Chunk) string {
	return fmt.Sprintf("[%s] %s\n%s", c.ChunkID, c.Title, c.Text)
}

// truncatePreservingFacts extracts fact lines verbatim, then fills the
// remaining budget with a head prefix and a tail suffix of the body
// joined by an ellipsis.
func truncatePreservingFacts(c models.Chunk, budget int) string {
	header := fmt.Sprintf("[%s] %s\n", c.ChunkID, c.Title)
	if len(header) >= budget {
		// Not even the citation header fits: this chunk doesn't "fit" at
		// all, so the caller falls back to the minimal fallback budget
		// instead of emitting a truncated, uncitable fragment.
		return ""
	}
	remaining := budget - len(header)

	lines := strings.Split(c.Text, "\n")
	var facts []string
	var rest []string
	for _, l := range lines {
		if factLinePattern.MatchString(l) {
			facts = append(facts, l)
		} else {
			rest = append(rest, l)
		}
	}
	factBlock := strings.Join(facts, "\n")
	if len(factBlock) > 0 {
		factBlock += "\n"
	}
	if len(factBlock) >= remaining {
		return header + factBlock[:remaining]
	}
	remaining -= len(factBlock)

	body := strings.Join(rest, "\n")
	if len(body) <= remaining {
		return header + factBlock + body
	}

	headLen := remaining / 2
	tailLen := remaining - headLen - 3 // room for "..."
	if tailLen < 0 {
		tailLen = 0
	}
	if headLen > len(body) {
		headLen = len(body)
	}
	if tailLen > len(body) {
		tailLen = len(body)
	}
	head := body[:headLen]
	tail := ""
	if tailLen > 0 {
		tail = body[len(body)-tailLen:]
	}
	return header + factBlock + head + "..." + tail
}
