package feed

import (
	"math"
	"sort"

	"github.com/fpang/photo-intelligence/internal/photo"
)

// DefaultLambda balances relevance against diversity in MMR selection.
const DefaultLambda = 0.7

// mmrPoolCap bounds how much of the ranked pool MMR considers.
const mmrPoolCap = 500

// Candidate is a scored photo awaiting selection.
type Candidate struct {
	Photo     *photo.Photo
	Breakdown ScoreBreakdown
}

// RankCandidates sorts by total score, highest first. Ties keep photo ID
// order so selection is reproducible.
func RankCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Breakdown.Total != cands[j].Breakdown.Total {
			return cands[i].Breakdown.Total > cands[j].Breakdown.Total
		}
		return cands[i].Photo.ID < cands[j].Photo.ID
	})
}

// SelectMMR greedily picks up to limit candidates from a ranked slice,
// maximizing lambda*total - (1-lambda)*maxSimilarity to what is already
// picked. Similarity is the embedding dot product. Lambda is clamped to
// [0, 1]; at 1 the result is the top limit by score.
func SelectMMR(ranked []Candidate, limit int, lambda float64) []Candidate {
	if limit <= 0 || len(ranked) == 0 {
		return nil
	}
	lambda = math.Max(0, math.Min(1, lambda))

	pool := ranked
	if len(pool) > mmrPoolCap {
		pool = pool[:mmrPoolCap]
	}
	if limit > len(pool) {
		limit = len(pool)
	}
	if lambda >= 1 {
		return append([]Candidate(nil), pool[:limit]...)
	}

	selected := make([]Candidate, 0, limit)
	taken := make([]bool, len(pool))
	for len(selected) < limit {
		best := -1
		bestScore := math.Inf(-1)
		for i, c := range pool {
			if taken[i] {
				continue
			}
			score := lambda*c.Breakdown.Total - (1-lambda)*maxSimilarity(c, selected)
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		taken[best] = true
		selected = append(selected, pool[best])
	}
	return selected
}

func maxSimilarity(c Candidate, selected []Candidate) float64 {
	if len(selected) == 0 {
		return 0
	}
	best := math.Inf(-1)
	for _, s := range selected {
		if sim := dot(c.Photo.Embedding, s.Photo.Embedding); sim > best {
			best = sim
		}
	}
	return best
}
