package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Prober measures media duration with ffprobe.
type Prober struct {
	exec        Executor
	ffprobePath string
}

// NewProber builds a Prober.
func NewProber(exec Executor, ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{exec: exec, ffprobePath: ffprobePath}
}

// Duration returns the media duration in whole seconds.
func (p *Prober) Duration(ctx context.Context, path string) (int, error) {
	out, err := p.exec.Execute(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(out), err)
	}
	return int(seconds), nil
}
