package retrieval

import "math"

// cosineEpsilon guards the cosine denominator against degenerate zero vectors.
const cosineEpsilon = 1e-12

// SelectDiverse runs Maximal Marginal Relevance over the candidate vectors
// and returns the indices of min(k, len(candidates)) picks, in selection
// order. The first pick is the candidate most similar to the query; each
// subsequent pick maximizes
//
//	lambda*sim(query, c) - (1-lambda)*max(sim(c, s) for selected s)
//
// Ties go to the lowest candidate index, so the output is deterministic for
// a given input order. lambda=1 is pure relevance, lambda=0 pure diversity.
func SelectDiverse(query []float32, candidates [][]float32, lambda float64, k int) []int {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	simToQuery := make([]float64, len(candidates))
	for j, vec := range candidates {
		simToQuery[j] = Cosine(query, vec)
	}

	selected := make([]int, 0, k)
	picked := make([]bool, len(candidates))
	for len(selected) < k {
		bestScore := math.Inf(-1)
		bestIdx := -1
		for j := range candidates {
			if picked[j] {
				continue
			}
			var score float64
			if len(selected) == 0 {
				score = simToQuery[j]
			} else {
				maxToSelected := math.Inf(-1)
				for _, s := range selected {
					if sim := Cosine(candidates[j], candidates[s]); sim > maxToSelected {
						maxToSelected = sim
					}
				}
				score = lambda*simToQuery[j] - (1-lambda)*maxToSelected
			}
			if score > bestScore {
				bestScore = score
				bestIdx = j
			}
		}
		picked[bestIdx] = true
		selected = append(selected, bestIdx)
	}
	return selected
}

// Cosine returns the cosine similarity of two vectors, accumulating in
// float64. Mismatched lengths are compared over the shorter prefix.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(normA)*math.Sqrt(normB) + cosineEpsilon)
}
