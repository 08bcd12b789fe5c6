package gateway

import (
	"regexp"
	"strings"
)

// singularRefPattern matches the singular third-person references a
// follow-up question may substitute for the active entity. "they"/"them"/
// "those" are deliberately excluded: they read as plural and are too
// ambiguous to safely rewrite against a single active entity.
var singularRefPattern = regexp.MustCompile(`(?i)\b(it|this|that|its)\b`)

const shortQuestionTokenLimit = 7

// IsFollowUp reports whether q reads as a follow-up to an already-active
// entity: it contains a singular third-person reference, or it is short
// enough (<= 7 whitespace tokens) that it likely omits the subject
// entirely (spec.md §4.11 "Follow-up detection").
func IsFollowUp(q string) bool {
	q = strings.TrimSpace(q)
	if q == "" {
		return false
	}
	if singularRefPattern.MatchString(q) {
		return true
	}
	return len(strings.Fields(q)) <= shortQuestionTokenLimit
}

// RewriteQuery substitutes every singular third-person reference in q with
// activeEntityName. It is the identity function when q contains no such
// reference, even in the short-question follow-up case: IsFollowUp's
// caller is responsible for supplying context another way (e.g. the
// gateway's active-entity field), RewriteQuery never fabricates wording.
func RewriteQuery(q, activeEntityName string) string {
	if activeEntityName == "" {
		return q
	}
	if !singularRefPattern.MatchString(q) {
		return q
	}
	return singularRefPattern.ReplaceAllString(q, activeEntityName)
}
