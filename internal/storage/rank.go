package storage

import (
	"math"
	"sort"

	"github.com/mnemo-ai/mnemo/pkg/types"
)

// CosineSimilarity computes the cosine of the angle between a and b.
// Mismatched or zero-norm vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Score maps cosine similarity into the [0,1] relevance range by clamping
// negatives to 0. Raw cosine (not rescaled) keeps configured thresholds in
// their historically observed range.
func Score(queryVec, entryVec []float32) float64 {
	sim := CosineSimilarity(queryVec, entryVec)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// Rank scores candidates against queryVec and applies the query contract:
// scores >= threshold, descending score order, CreatedAt-descending
// tie-break, truncated to limit. It is the shared ranking path for
// backends that score in Go (memstore, sqlite).
func Rank(candidates []types.MemoryEntry, queryVec []float32, threshold float64, limit int) types.QueryResult {
	scored := make([]types.ScoredEntry, 0, len(candidates))
	for i := range candidates {
		s := Score(queryVec, candidates[i].Embedding)
		if s >= threshold {
			scored = append(scored, types.ScoredEntry{Entry: candidates[i], Score: s})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entry.CreatedAt.After(scored[j].Entry.CreatedAt)
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return types.QueryResult{Entries: scored}
}
