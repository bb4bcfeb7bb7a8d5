package database

import (
	"cmp"
	"math"
	"slices"
	"strings"
)

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
// Cosine distance = 1 - cosine similarity
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0 // Maximum distance for zero vectors
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	return 1 - max(-1, min(1, similarity))
}

// RankByCosine orders templates by cosine distance to the vector and returns
// up to k IDs. Ties keep template ID order.
func RankByCosine(templates []EnrolledTemplate, vector []float32, k int) []string {
	type ranked struct {
		id   string
		dist float64
	}
	rs := make([]ranked, 0, len(templates))
	for i := range templates {
		if len(templates[i].Vector) != len(vector) {
			continue
		}
		rs = append(rs, ranked{templates[i].ID, CosineDistance(vector, templates[i].Vector)})
	}
	slices.SortStableFunc(rs, func(a, b ranked) int {
		if c := cmp.Compare(a.dist, b.dist); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	if k > 0 && len(rs) > k {
		rs = rs[:k]
	}
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.id
	}
	return ids
}
