// Package verify implements the Verifier: structural and factual checks on
// generated answers against the evidence set that produced them (spec.md
// §4.10).
package verify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/seanblong/curricache/internal/prompt"
)

// Result is the structured outcome of verification.
type Result struct {
	IsRefusal bool
	Errors    []string
}

// OK reports whether the answer passed every applicable check.
func (r Result) OK() bool {
	return r.IsRefusal || len(r.Errors) == 0
}

var (
	citationPattern = regexp.MustCompile(`\[source:\s*([^\]]+)\]`)
	calcPattern     = regexp.MustCompile(`\[calc:\s*([^=]+)=\s*([^\]]+)\]`)
	intPattern      = regexp.MustCompile(`\b\d+\b`)
	isoDatePattern  = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
)

// Verify runs the refusal, citation, numeric/date and calc checks.
// evidence maps chunk_id (any case) to its text, used for the citation and
// numeric/date checks.
func Verify(answer string, evidence map[string]string) Result {
	if strings.TrimSpace(answer) == prompt.RefusalString {
		return Result{IsRefusal: true}
	}

	var errs []string

	citedIDs := extractCitations(answer)
	if len(citedIDs) == 0 {
		errs = append(errs, "no citation tokens found")
	} else {
		lowerEvidence := make(map[string]bool, len(evidence))
		for id := range evidence {
			lowerEvidence[strings.ToLower(id)] = true
		}
		for _, id := range citedIDs {
			if !lowerEvidence[strings.ToLower(id)] {
				errs = append(errs, fmt.Sprintf("citation %q not in evidence set", id))
			}
		}
	}

	combinedText := strings.ToLower(strings.Join(citedTexts(citedIDs, evidence), "\n"))

	// Strip calc/citation tokens before scanning for asserted numbers and
	// dates: the numbers inside [calc: expr = value] are an intermediate
	// expression checked separately below, not a claim about the world.
	scanText := citationPattern.ReplaceAllString(answer, "")
	scanText = calcPattern.ReplaceAllString(scanText, "")
	intScanText := isoDatePattern.ReplaceAllString(scanText, "")

	for _, n := range intPattern.FindAllString(intScanText, -1) {
		if !strings.Contains(combinedText, strings.ToLower(n)) {
			errs = append(errs, fmt.Sprintf("number %q not found in cited evidence", n))
		}
	}
	for _, d := range isoDatePattern.FindAllString(scanText, -1) {
		if !strings.Contains(combinedText, strings.ToLower(d)) {
			errs = append(errs, fmt.Sprintf("date %q not found in cited evidence", d))
		}
	}

	for _, m := range calcPattern.FindAllStringSubmatch(answer, -1) {
		expr := strings.TrimSpace(m[1])
		declared, err := strconv.ParseFloat(strings.TrimSpace(m[2]), 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("calc %q: malformed declared value", m[0]))
			continue
		}
		got, err := evalArith(expr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("calc %q: %v", m[0], err))
			continue
		}
		if abs(got-declared) > 1e-6 {
			errs = append(errs, fmt.Sprintf("calc %q: expected %v, evaluated %v", m[0], declared, got))
		}
	}

	return Result{Errors: errs}
}

func extractCitations(answer string) []string {
	var ids []string
	for _, m := range citationPattern.FindAllStringSubmatch(answer, -1) {
		for _, part := range strings.Split(m[1], ",") {
			id := strings.TrimSpace(part)
			if id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func citedTexts(citedIDs []string, evidence map[string]string) []string {
	lowerEvidence := make(map[string]string, len(evidence))
	for id, text := range evidence {
		lowerEvidence[strings.ToLower(id)] = text
	}
	var out []string
	for _, id := range citedIDs {
		if t, ok := lowerEvidence[strings.ToLower(id)]; ok {
			out = append(out, t)
		}
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
