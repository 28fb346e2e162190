package memory

import (
	"math"
	"time"
)

// Cosine computes cosine similarity between two vectors. Mismatched or
// zero-norm vectors score 0.
func Cosine(a, b []float32) float64 {
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

// RecencyFactor discounts a record by its age: 1/(1 + days*ratePerDay).
// A brand-new record scores 1.0.
func RecencyFactor(createdAt, now time.Time, ratePerDay float64) float64 {
	days := now.Sub(createdAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return 1 / (1 + days*ratePerDay)
}
