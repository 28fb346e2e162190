// Package providers implements the completion and embedding backends.
package providers

import (
	"fmt"
	"time"

	"github.com/halcyonbot/halcyon/internal/schema"
)

// NewCompletion picks a completion backend by provider name. "anthropic"
// uses the official SDK; everything else goes through the
// OpenAI-compatible HTTP path.
func NewCompletion(provider, apiKey, apiBase, model string, timeout time.Duration) schema.CompletionProvider {
	if provider == "anthropic" {
		return NewAnthropicProvider(apiKey, model)
	}
	return NewOpenAIProvider(apiKey, apiBase, model, timeout)
}

// NewEmbedder picks an embedding backend by provider name.
func NewEmbedder(provider, apiKey, apiBase, model string, dims int) (schema.Embedder, error) {
	switch provider {
	case "ollama":
		return NewOllamaEmbedder(apiBase, model, dims), nil
	case "openai", "":
		return NewOpenAIEmbedder(apiBase, apiKey, model, dims), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}
