package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"

	"meetscribe/pkg/ai"
	"meetscribe/pkg/domain"
)

const transcribePrompt = "Please transcribe this audio file accurately. " +
	"Provide only the transcript text, no markdown or additional commentary."

const classifyPromptFormat = "Classify this meeting transcript into one of these categories: " +
	"Marketing, Engineering, Sales, HR, Management. Output only the category name.\n\nTranscript: %s"

const summarizePromptFormat = `Adaptively summarize the following meeting transcript based on its content type.
- Identify key decisions, action items, and main topics.
- Format the output with clear headings (e.g., ## Key Takeaways, ## Action Items).
- Be concise but comprehensive.

Transcript:
%s`

// Transcriber converts a normalized audio artifact into plain text through
// the speech-understanding capability. The whole payload goes out in one
// request; there is no chunking.
type Transcriber struct {
	gen ai.MediaGenerator
}

// NewTranscriber builds a Transcriber over the media-capable generator.
func NewTranscriber(gen ai.MediaGenerator) *Transcriber {
	return &Transcriber{gen: gen}
}

// Transcribe reads the normalized audio file and returns its transcript.
// A blank model response is an error, never a successful empty transcript.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	out, err := t.gen.GenerateFromMedia(ctx, transcribePrompt, ai.MediaPart{
		MIMEType: "audio/mp3",
		Data:     data,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("transcription returned no text")
	}
	return out, nil
}

// classify asks the generator for exactly one taxonomy label. Output that
// falls outside the taxonomy decodes to the fallback label with an error so
// the run can record the degradation.
func classify(ctx context.Context, gen ai.TextGenerator, transcript string) (domain.Category, error) {
	raw, err := gen.GenerateText(ctx, fmt.Sprintf(classifyPromptFormat, transcript))
	if err != nil {
		return domain.CategoryGeneral, fmt.Errorf("classify transcript: %w", err)
	}
	category, ok := domain.ParseCategory(raw)
	if !ok {
		return domain.CategoryGeneral, fmt.Errorf("classification %q outside taxonomy", strings.TrimSpace(raw))
	}
	return category, nil
}

// summarize asks the generator for a heading-delimited summary. Transcripts
// beyond the provider's input limit surface the provider's own error.
func summarize(ctx context.Context, gen ai.TextGenerator, transcript string) (string, error) {
	out, err := gen.GenerateText(ctx, fmt.Sprintf(summarizePromptFormat, transcript))
	if err != nil {
		return "", fmt.Errorf("summarize transcript: %w", err)
	}
	return out, nil
}
