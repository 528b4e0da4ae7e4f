package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const framePrefix = "frame_"

// VisualExtractor samples one keyframe per fixed interval of source video.
type VisualExtractor struct {
	exec            Executor
	ffmpegPath      string
	outDir          string
	intervalSeconds int
}

// NewVisualExtractor builds an extractor sampling every intervalSeconds.
func NewVisualExtractor(exec Executor, ffmpegPath, outDir string, intervalSeconds int) *VisualExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	return &VisualExtractor{
		exec:            exec,
		ffmpegPath:      ffmpegPath,
		outDir:          outDir,
		intervalSeconds: intervalSeconds,
	}
}

// Extract samples keyframes from videoPath and returns their paths ordered
// by the zero-padded sequence number ffmpeg assigned. A video shorter than
// the sampling interval yields an empty, non-error slice.
func (v *VisualExtractor) Extract(ctx context.Context, videoPath string) ([]string, error) {
	frameDir := filepath.Join(v.outDir, "frames", uuid.NewString())
	if err := os.MkdirAll(frameDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}
	pattern := filepath.Join(frameDir, framePrefix+"%04d.png")

	args := []string{
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=1/%d", v.intervalSeconds),
		"-y",
		pattern,
	}
	if _, err := v.exec.Execute(ctx, v.ffmpegPath, args...); err != nil {
		return nil, fmt.Errorf("extract visuals: %w", err)
	}

	entries, err := os.ReadDir(frameDir)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, framePrefix) || !strings.HasSuffix(name, ".png") {
			continue
		}
		names = append(names, name)
	}
	// The zero-padded counter makes lexical order the extraction order.
	sort.Strings(names)

	frames := make([]string, 0, len(names))
	for _, name := range names {
		frames = append(frames, filepath.Join(frameDir, name))
	}
	return frames, nil
}
