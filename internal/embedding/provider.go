// Package embedding provides vector embedding generation for semantic
// retrieval. Queries and stored content share one embedding space, so a
// process must use a single provider for both.
package embedding

import (
	"context"
	"math"

	appErrors "mnemo-backend/pkg/errors"
)

// Provider generates vector embeddings for text.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the provider name.
	Name() string
}

// Config selects and configures the embedding backend.
type Config struct {
	// Provider: "genai" or "ollama".
	Provider string

	// GenAI configuration.
	GenAIAPIKey string
	GenAIModel  string

	// Ollama configuration.
	OllamaEndpoint string
	OllamaModel    string
}

// NewProvider creates an embedding provider based on configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "genai":
		return NewGenAIProvider(cfg.GenAIAPIKey, cfg.GenAIModel)
	case "ollama":
		return NewOllamaProvider(cfg.OllamaEndpoint, cfg.OllamaModel), nil
	default:
		return nil, appErrors.NewConfiguration("unsupported embedding provider: " + cfg.Provider)
	}
}

// Cosine calculates the cosine similarity between two vectors. Returns 0 for
// mismatched dimensions or zero-magnitude vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
