package ai

import "context"

// TextGenerator generates text from a single prompt. Classification,
// summarization, and chat all go through this interface so tests can
// substitute a deterministic fake.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// MediaPart is an inline media payload sent alongside a prompt.
type MediaPart struct {
	MIMEType string
	Data     []byte
}

// MediaGenerator generates text from a prompt plus an inline media part.
// Speech-to-text is a MediaGenerator call with an audio payload.
type MediaGenerator interface {
	GenerateFromMedia(ctx context.Context, prompt string, media MediaPart) (string, error)
}
