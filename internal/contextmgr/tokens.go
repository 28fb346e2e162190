package contextmgr

import "github.com/halcyonbot/halcyon/internal/schema"

// Estimator approximates the token cost of a summary plus a turn window.
// It only needs to be consistent, not exact; the budget check compares
// successive estimates of the same window.
type Estimator func(summary string, turns []schema.Turn) int

const (
	// Rough chars-per-token ratio for English text.
	charsPerToken = 4
	// Fixed serialization overhead per turn (role tag, separators).
	turnOverheadTokens = 4
	// Flat charge per attached image reference.
	imageTokens = 512
)

// DefaultEstimator charges ~1 token per 4 characters plus fixed per-turn
// and per-image overheads.
func DefaultEstimator(summary string, turns []schema.Turn) int {
	total := len(summary) / charsPerToken
	for _, t := range turns {
		total += turnOverheadTokens
		total += (len(t.Content) + len(t.AuthorName)) / charsPerToken
		total += len(t.Images) * imageTokens
	}
	return total
}
