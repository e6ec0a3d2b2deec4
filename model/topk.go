package model

import "sort"

// Score pairs a class index with its probability.
type Score struct {
	Index       int     `json:"index"`
	Probability float32 `json:"probability"`
}

// TopK returns the k highest probabilities. Equal probabilities keep their
// index order, matching Argmax.
func TopK(probabilities []float32, k int) []Score {
	if k > len(probabilities) {
		k = len(probabilities)
	}
	if k < 1 {
		return nil
	}

	scores := make([]Score, len(probabilities))
	for i, p := range probabilities {
		scores[i] = Score{Index: i, Probability: p}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Probability > scores[j].Probability
	})
	return scores[:k]
}
