package schema

import "context"

// ChatOptions tune a single completion call. Zero values fall back to the
// provider's defaults.
type ChatOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// CompletionProvider is the LLM backend used for chat replies and rolling
// summaries.
type CompletionProvider interface {
	Chat(ctx context.Context, msgs Messages, opts ChatOptions) (string, error)
	DefaultModel() string
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
