package llm

import (
	"fmt"

	"github.com/memento-core/daemon/internal/config"
)

// NewTextGenerator builds the TextGenerator the daemon's pipeline workers
// call for generate() (spec.md §1: "the pipeline depends only on two
// function contracts"). Concrete provider wiring is ambient
// infrastructure, not semantics this daemon redesigns — it's adapted
// near-verbatim from the teacher's factory, switched from
// internal/connections.LLMConfig onto internal/config.LLMConfig so it
// reads the daemon's own config surface instead of a per-connection one.
func NewTextGenerator(cfg config.LLMConfig) (TextGenerator, error) {
	switch cfg.LLMProvider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{APIKey: cfg.AnthropicAPIKey, Model: cfg.AnthropicModel}), nil
	case "ollama", "":
		baseURL := cfg.OllamaURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := cfg.OllamaModel
		if model == "" {
			model = "qwen2.5:7b"
		}
		return NewOllamaClient(OllamaConfig{BaseURL: baseURL, Model: model}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.LLMProvider)
	}
}

// NewEmbeddingGenerator builds the daemon's embed() contract. Returns
// (nil, nil) for providers that don't support embeddings (Anthropic) —
// callers must treat a nil embedder as "embedding jobs stay queued/failed
// permanently", not as an error.
func NewEmbeddingGenerator(cfg config.LLMConfig) (EmbeddingGenerator, error) {
	switch cfg.LLMProvider {
	case "openai":
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{APIKey: cfg.OpenAIAPIKey, Model: "text-embedding-3-small"}), nil
	case "ollama", "":
		baseURL := cfg.OllamaURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := cfg.OllamaEmbeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaClient(OllamaConfig{BaseURL: baseURL, Model: model}), nil
	default:
		return nil, nil
	}
}
