package services

import "math"

// CosineSimilarity computes the cosine similarity of two vectors.
// Returns 0 for mismatched lengths or zero-magnitude inputs. Retrieval
// normally delegates similarity to the store's ANN index; this in-process
// version serves summary re-ranking and conflict checks over small N.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
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
