package model

import (
	"errors"
	"sort"
)

var ErrEmptyScores = errors.New("score vector is empty")

type Ranked struct {
	Index int
	Score float32
}

// Top1 returns the index and value of the highest score. Ties go to the
// lowest index.
func Top1(scores []float32) (int, float32, error) {
	if len(scores) == 0 {
		return 0, 0, ErrEmptyScores
	}

	maxIdx := 0
	maxVal := scores[0]
	for i, val := range scores {
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}
	return maxIdx, maxVal, nil
}

// TopK returns up to k scores, highest first, ties broken by index.
func TopK(scores []float32, k int) []Ranked {
	if k > len(scores) {
		k = len(scores)
	}
	if k <= 0 {
		return nil
	}

	ranked := make([]Ranked, len(scores))
	for i, s := range scores {
		ranked[i] = Ranked{Index: i, Score: s}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Score > ranked[b].Score
	})
	return ranked[:k]
}
