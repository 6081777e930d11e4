package memory

import "math"

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector is empty, zero-length or mismatched. Embeddings come
// from the external collaborator, so a missing vector simply contributes
// nothing to relevance.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
