// Package mmr implements Maximal Marginal Relevance diversification over
// ranked dense candidates (spec.md §4.5).
package mmr

import (
	"math"

	"github.com/seanblong/curricache/pkg/models"
)

// Rerank seeds the selected set with the candidate of highest cosine
// similarity to queryVec, then greedily adds the candidate maximizing
// lambda*sim(c,q) - (1-lambda)*max_{s in selected} sim(c,s) until k are
// selected or candidates are exhausted. Ties are broken by first
// occurrence; candidates with a missing vector are treated as having zero
// similarity to everything.
func Rerank(candidates []models.Candidate, queryVec []float32, k int, lambda float64) []models.Candidate {
	n := len(candidates)
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil
	}

	sims := make([]float64, n)
	for i, c := range candidates {
		sims[i] = cosine(c.Vector, queryVec)
	}

	selected := make([]int, 0, k)
	chosen := make([]bool, n)

	first := -1
	for i := 0; i < n; i++ {
		if first == -1 || sims[i] > sims[first] {
			first = i
		}
	}
	selected = append(selected, first)
	chosen[first] = true

	for len(selected) < k {
		best := -1
		var bestScore float64
		for i := 0; i < n; i++ {
			if chosen[i] {
				continue
			}
			maxSimToSelected := 0.0
			for _, s := range selected {
				sim := cosine(candidates[i].Vector, candidates[s].Vector)
				if sim > maxSimToSelected {
					maxSimToSelected = sim
				}
			}
			score := lambda*sims[i] - (1-lambda)*maxSimToSelected
			if best == -1 || score > bestScore {
				best = i
				bestScore = score
			}
		}
		if best == -1 {
			break
		}
		selected = append(selected, best)
		chosen[best] = true
	}

	out := make([]models.Candidate, len(selected))
	for i, idx := range selected {
		out[i] = candidates[idx]
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
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
