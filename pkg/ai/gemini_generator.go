package ai

import "context"

// GeminiGenerator wraps GeminiClient with a fixed model.
// It implements both TextGenerator and MediaGenerator.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

// NewGeminiGenerator builds a Gemini-based generator bound to one model.
func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model}
}

// GenerateText implements TextGenerator using Gemini.
func (g *GeminiGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	return g.client.GenerateText(ctx, g.model, prompt)
}

// GenerateFromMedia implements MediaGenerator using Gemini.
func (g *GeminiGenerator) GenerateFromMedia(ctx context.Context, prompt string, media MediaPart) (string, error) {
	return g.client.GenerateFromMedia(ctx, g.model, prompt, media)
}
