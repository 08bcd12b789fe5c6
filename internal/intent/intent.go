// Package intent implements IntentClassifier: a pure, pattern-based
// classifier into {greeting, factual, semantic, mixed} (spec.md §4.8).
package intent

import (
	"regexp"
	"strings"

	"github.com/seanblong/curricache/pkg/models"
)

var (
	greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good morning|good afternoon|good evening|yo|howdy)(\s+there)?\b\s*[!.?]*\s*$`)

	factualCuePattern = regexp.MustCompile(`(?i)\b(list|count|how many|what are the|which)\b`)
	temporalCuePattern = regexp.MustCompile(`(?i)\bwhen\b`)
	// specificEntityPattern matches a concrete, resolvable topic
	// identifier (C1-T1 style) -- a "when" question against one of
	// these has everything it needs for a deterministic relational
	// lookup, so it counts as FACTUAL.
	specificEntityPattern = regexp.MustCompile(`(?i)\bC\d+-T\d+\b`)
	// genericEntityPattern matches a bare entity noun with no concrete
	// identifier -- a "when" question against one of these needs
	// conversational metadata (an active entity) to resolve, so it
	// counts as MIXED rather than FACTUAL.
	genericEntityPattern = regexp.MustCompile(`(?i)\b(topic|course|class|classes|assignment)\b`)

	semanticCuePattern = regexp.MustCompile(`(?i)\b(describe|explain|summarize|tell me about)\b`)
)

// Classify assigns an Intent label to a free-text query using ordered
// pattern tests; the fallback is always MIXED.
func Classify(q string) models.Intent {
	q = strings.TrimSpace(q)
	if q == "" {
		return models.IntentMixed
	}

	if greetingPattern.MatchString(q) {
		return models.IntentGreeting
	}

	hasTemporal := temporalCuePattern.MatchString(q)
	hasSpecificEntity := specificEntityPattern.MatchString(q)
	hasGenericEntity := genericEntityPattern.MatchString(q)

	isFactual := factualCuePattern.MatchString(q) || (hasTemporal && hasSpecificEntity)
	isSemantic := semanticCuePattern.MatchString(q)
	needsMetadata := hasTemporal && hasGenericEntity && !hasSpecificEntity

	switch {
	case isFactual && isSemantic:
		return models.IntentMixed
	case needsMetadata:
		return models.IntentMixed
	case isFactual:
		return models.IntentFactual
	case isSemantic:
		return models.IntentSemantic
	default:
		return models.IntentMixed
	}
}

// topicIDPattern matches a topic identifier of form C<digits>-T<digits>,
// case-insensitively (spec.md §4.9 "Topic identifier extraction").
var topicIDPattern = regexp.MustCompile(`(?i)C\d+-T\d+`)

// ExtractTopicID returns the first C<digits>-T<digits> match, normalized
// to upper case, or "" if none is present.
func ExtractTopicID(q string) string {
	m := topicIDPattern.FindString(q)
	return strings.ToUpper(m)
}
