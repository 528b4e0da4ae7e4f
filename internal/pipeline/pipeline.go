package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"meetscribe/pkg/ai"
	"meetscribe/pkg/domain"
	"meetscribe/pkg/storage"
	"meetscribe/pkg/store"
)

const defaultTitle = "Live Recording"

// AudioNormalizer converts input media to the canonical analysis format.
type AudioNormalizer interface {
	Normalize(ctx context.Context, inputPath string) (string, error)
}

// SpeechToText produces a transcript from normalized audio.
type SpeechToText interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// FrameExtractor samples keyframes from the source media.
type FrameExtractor interface {
	Extract(ctx context.Context, videoPath string) ([]string, error)
}

// DurationProber measures source duration in seconds.
type DurationProber interface {
	Duration(ctx context.Context, path string) (int, error)
}

// Config wires the pipeline's collaborators. Normalizer, Transcriber,
// Generator, and Store are required; Visuals, Prober, and Objects are
// optional enrichments.
type Config struct {
	Normalizer  AudioNormalizer
	Transcriber SpeechToText
	Generator   ai.TextGenerator
	Store       store.Store
	Visuals     FrameExtractor
	Prober      DurationProber
	Objects     storage.ObjectStore
}

// Pipeline turns raw meeting media into a persisted Session.
type Pipeline struct {
	normalizer  AudioNormalizer
	transcriber SpeechToText
	generator   ai.TextGenerator
	store       store.Store
	visuals     FrameExtractor
	prober      DurationProber
	objects     storage.ObjectStore
	now         func() time.Time
}

// New validates required collaborators and builds the pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Normalizer == nil {
		return nil, fmt.Errorf("normalizer required")
	}
	if cfg.Transcriber == nil {
		return nil, fmt.Errorf("transcriber required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	return &Pipeline{
		normalizer:  cfg.Normalizer,
		transcriber: cfg.Transcriber,
		generator:   cfg.Generator,
		store:       cfg.Store,
		visuals:     cfg.Visuals,
		prober:      cfg.Prober,
		objects:     cfg.Objects,
		now:         time.Now,
	}, nil
}

// Input identifies one recording to process.
type Input struct {
	MediaPath   string
	DisplayName string
	OwnerID     string
}

// Run executes normalize → transcribe → {classify, summarize,
// extract-visuals} → persist for one recording.
//
// Normalize and transcribe failures are fatal and return a *StageError with
// nothing persisted. Classification, summarization, and visual extraction
// degrade to fallback values; their failures come back as StageFailures
// alongside a successful run. A persist failure returns the assembled
// session together with a persist *StageError so the caller can still show
// the result and surface the discrepancy.
func (p *Pipeline) Run(ctx context.Context, in Input) (domain.Session, []domain.StageFailure, error) {
	normalized, err := p.normalizer.Normalize(ctx, in.MediaPath)
	if err != nil {
		return domain.Session{}, nil, &StageError{Stage: domain.StageNormalize, Err: err}
	}

	transcript, err := p.transcriber.Transcribe(ctx, normalized)
	if err != nil {
		return domain.Session{}, nil, &StageError{Stage: domain.StageTranscribe, Err: err}
	}

	var (
		mu       sync.Mutex
		failures []domain.StageFailure

		category = domain.CategoryGeneral
		summary  string
		visuals  []string
	)
	degrade := func(stage domain.Stage, err error) {
		mu.Lock()
		failures = append(failures, domain.StageFailure{Stage: stage, Message: err.Error()})
		mu.Unlock()
		slog.Warn("pipeline stage degraded", "stage", string(stage), "err", err)
	}

	// The three enrichment stages depend only on the transcript and the
	// source media, so they fan out. Each records its own failure and
	// returns nil; the group never cancels siblings.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := classify(gctx, p.generator, transcript)
		if err != nil {
			degrade(domain.StageClassify, err)
			return nil
		}
		mu.Lock()
		category = c
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		s, err := summarize(gctx, p.generator, transcript)
		if err != nil {
			degrade(domain.StageSummarize, err)
			return nil
		}
		mu.Lock()
		summary = s
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		refs := p.extractVisuals(gctx, in, degrade)
		mu.Lock()
		visuals = refs
		mu.Unlock()
		return nil
	})
	_ = g.Wait()

	duration := 0
	if p.prober != nil {
		if d, err := p.prober.Duration(ctx, in.MediaPath); err == nil {
			duration = d
		}
	}

	session := domain.Session{
		OwnerID:         in.OwnerID,
		Title:           deriveTitle(in.DisplayName),
		RecordedAt:      p.now().UTC(),
		DurationSeconds: duration,
		Transcript:      transcript,
		Summary:         summary,
		Classification:  category,
		VisualRefs:      visuals,
		CreatedAt:       p.now().UTC(),
		UpdatedAt:       p.now().UTC(),
	}

	id, err := p.store.SaveSession(session)
	if err != nil {
		// The assembled session still goes back to the caller for display.
		return session, failures, &StageError{Stage: domain.StagePersist, Err: err}
	}
	session.ID = id
	return session, failures, nil
}

func (p *Pipeline) extractVisuals(ctx context.Context, in Input, degrade func(domain.Stage, error)) []string {
	if p.visuals == nil {
		return []string{}
	}
	frames, err := p.visuals.Extract(ctx, in.MediaPath)
	if err != nil {
		degrade(domain.StageVisuals, err)
		return []string{}
	}
	if p.objects == nil || len(frames) == 0 {
		return frames
	}
	// Uploaded frames are referenced by object key; an upload failure
	// degrades back to the local paths rather than losing the frames, and
	// any objects from the partial upload are removed so the bucket holds
	// no orphans.
	keys := make([]string, 0, len(frames))
	for i, frame := range frames {
		key := fmt.Sprintf("visuals/%s/%s", in.OwnerID, filepath.Base(frame))
		if in.OwnerID == "" {
			key = fmt.Sprintf("visuals/anonymous/%s", filepath.Base(frame))
		}
		if err := p.objects.PutFile(ctx, key, frame); err != nil {
			degrade(domain.StageVisuals, fmt.Errorf("upload frame %d: %w", i+1, err))
			for _, uploaded := range keys {
				_ = p.objects.Delete(ctx, uploaded)
			}
			return frames
		}
		keys = append(keys, key)
	}
	return keys
}

// deriveTitle strips the extension from the uploaded filename; a live
// capture with no name falls back to a fixed label.
func deriveTitle(displayName string) string {
	name := strings.TrimSpace(filepath.Base(displayName))
	if name == "" || name == "." {
		return defaultTitle
	}
	title := strings.TrimSuffix(name, filepath.Ext(name))
	if title == "" {
		return defaultTitle
	}
	return title
}
