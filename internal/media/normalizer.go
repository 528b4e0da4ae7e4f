package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Normalizer transcodes arbitrary input media into the canonical audio
// format for analysis: single channel, 16kHz, mp3.
type Normalizer struct {
	exec       Executor
	ffmpegPath string
	outDir     string
}

// NewNormalizer builds a Normalizer writing into outDir.
func NewNormalizer(exec Executor, ffmpegPath, outDir string) *Normalizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Normalizer{exec: exec, ffmpegPath: ffmpegPath, outDir: outDir}
}

// Normalize transcodes inputPath and returns the normalized audio path.
// Concurrent calls for different inputs are independent; each run gets a
// unique output file. A run that fails leaves no output behind.
func (n *Normalizer) Normalize(ctx context.Context, inputPath string) (string, error) {
	if err := os.MkdirAll(n.outDir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	outputPath := filepath.Join(n.outDir, "normalized_"+uuid.NewString()+".mp3")

	args := []string{
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-codec:a", "libmp3lame",
		"-y",
		outputPath,
	}
	if _, err := n.exec.Execute(ctx, n.ffmpegPath, args...); err != nil {
		_ = os.Remove(outputPath)
		return "", fmt.Errorf("normalize audio: %w", err)
	}

	// ffmpeg can exit zero without producing usable output on malformed
	// input; an empty file must never be reported as success.
	info, err := os.Stat(outputPath)
	if err != nil {
		return "", fmt.Errorf("normalize audio: no output produced: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(outputPath)
		return "", fmt.Errorf("normalize audio: empty output for %s", filepath.Base(inputPath))
	}
	return outputPath, nil
}
