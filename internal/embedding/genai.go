package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	appErrors "mnemo-backend/pkg/errors"
)

// GenAIProvider generates embeddings using Google's Gemini API.
type GenAIProvider struct {
	client *genai.Client
	model  string
}

// NewGenAIProvider creates a GenAI embedding provider. The API key is
// required; a missing key is a configuration error, fatal at startup.
func NewGenAIProvider(apiKey, model string) (*GenAIProvider, error) {
	if apiKey == "" {
		return nil, appErrors.NewConfiguration("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, appErrors.NewConfiguration("failed to create GenAI client: " + err.Error())
	}

	return &GenAIProvider{client: client, model: model}, nil
}

// Embed generates an embedding for a single text.
func (p *GenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := p.client.Models.EmbedContent(ctx,
		p.model,
		contents,
		&genai.EmbedContentConfig{
			TaskType: "SEMANTIC_SIMILARITY",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("genai embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("genai returned no embeddings")
	}
	return result.Embeddings[0].Values, nil
}

// Dimensions returns the dimensionality of embeddings.
// gemini-embedding-001 produces 768-dimensional vectors.
func (p *GenAIProvider) Dimensions() int {
	return 768
}

// Name returns the provider name.
func (p *GenAIProvider) Name() string {
	return "genai:" + p.model
}
