package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"meetscribe/pkg/domain"
	"meetscribe/pkg/store"
)

type fakeNormalizer struct {
	out string
	err error
}

func (f *fakeNormalizer) Normalize(ctx context.Context, inputPath string) (string, error) {
	return f.out, f.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	return f.text, f.err
}

// fakeGenerator routes prompts to scripted responses: classification
// prompts get classifyOut, everything else gets summaryOut.
type fakeGenerator struct {
	classifyOut string
	classifyErr error
	summaryOut  string
	summaryErr  error
	calls       int
}

func (f *fakeGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if strings.HasPrefix(prompt, "Classify") {
		return f.classifyOut, f.classifyErr
	}
	return f.summaryOut, f.summaryErr
}

type fakeVisuals struct {
	frames []string
	err    error
}

func (f *fakeVisuals) Extract(ctx context.Context, videoPath string) ([]string, error) {
	return f.frames, f.err
}

// fakeObjectStore uploads until failAfter puts have happened, then errors.
type fakeObjectStore struct {
	failAfter int
	puts      []string
	deletes   []string
}

func (f *fakeObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return nil
}

func (f *fakeObjectStore) PutFile(ctx context.Context, key, path string) error {
	if len(f.puts) >= f.failAfter {
		return errors.New("bucket unavailable")
	}
	f.puts = append(f.puts, key)
	return nil
}

func (f *fakeObjectStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://objects.local/" + key, nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error {
	f.deletes = append(f.deletes, key)
	return nil
}

type failingStore struct {
	*store.MemoryStore
	err error
}

func (f *failingStore) SaveSession(s domain.Session) (string, error) {
	return "", f.err
}

func newTestPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	if cfg.Normalizer == nil {
		cfg.Normalizer = &fakeNormalizer{out: "/tmp/normalized.mp3"}
	}
	if cfg.Transcriber == nil {
		cfg.Transcriber = &fakeTranscriber{text: "we shipped the new API"}
	}
	if cfg.Generator == nil {
		cfg.Generator = &fakeGenerator{classifyOut: "Engineering", summaryOut: "## Key Takeaways\n- shipped"}
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestRunSuccessPersistsAssembledSession(t *testing.T) {
	mem := store.NewMemoryStore()
	p := newTestPipeline(t, Config{
		Store:   mem,
		Visuals: &fakeVisuals{frames: []string{"/tmp/frames/frame_0001.png", "/tmp/frames/frame_0002.png"}},
	})

	session, failures, err := p.Run(context.Background(), Input{
		MediaPath:   "/tmp/upload/standup.mp4",
		DisplayName: "standup.mp4",
		OwnerID:     "u1",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("expected no degraded stages, got %+v", failures)
	}
	if session.Title != "standup" {
		t.Fatalf("title = %q, want %q", session.Title, "standup")
	}
	if session.Classification != domain.CategoryEngineering {
		t.Fatalf("classification = %q", session.Classification)
	}
	if len(session.VisualRefs) != 2 {
		t.Fatalf("visual refs = %+v", session.VisualRefs)
	}
	stored, ok, _ := mem.GetSession(session.ID)
	if !ok {
		t.Fatalf("session not persisted")
	}
	if stored.Transcript != "we shipped the new API" || stored.Summary == "" {
		t.Fatalf("persisted session incomplete: %+v", stored)
	}
}

func TestRunNormalizeFailureIsFatal(t *testing.T) {
	mem := store.NewMemoryStore()
	p := newTestPipeline(t, Config{
		Normalizer: &fakeNormalizer{err: errors.New("unsupported codec")},
		Store:      mem,
	})

	_, _, err := p.Run(context.Background(), Input{MediaPath: "/tmp/x.webm", DisplayName: "x.webm"})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != domain.StageNormalize {
		t.Fatalf("expected normalize stage error, got %v", err)
	}
	if mem.SessionCount() != 0 {
		t.Fatalf("expected zero store writes, got %d", mem.SessionCount())
	}
}

func TestRunTranscribeFailureIsFatalAndWritesNothing(t *testing.T) {
	mem := store.NewMemoryStore()
	p := newTestPipeline(t, Config{
		Transcriber: &fakeTranscriber{err: errors.New("speech service unavailable")},
		Store:       mem,
	})

	_, _, err := p.Run(context.Background(), Input{MediaPath: "/tmp/x.mp4", DisplayName: "x.mp4"})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != domain.StageTranscribe {
		t.Fatalf("expected transcribe stage error, got %v", err)
	}
	if mem.SessionCount() != 0 {
		t.Fatalf("expected zero store writes, got %d", mem.SessionCount())
	}
}

func TestRunClassifyFailureFallsBackToGeneral(t *testing.T) {
	mem := store.NewMemoryStore()
	p := newTestPipeline(t, Config{
		Generator: &fakeGenerator{classifyErr: errors.New("rate limited"), summaryOut: "## Topics"},
		Store:     mem,
	})

	session, failures, err := p.Run(context.Background(), Input{MediaPath: "/tmp/x.mp4", DisplayName: "x.mp4"})
	if err != nil {
		t.Fatalf("run should succeed despite classify failure: %v", err)
	}
	if session.Classification != domain.CategoryGeneral {
		t.Fatalf("classification = %q, want fallback General", session.Classification)
	}
	if !hasFailure(failures, domain.StageClassify) {
		t.Fatalf("expected classify failure recorded, got %+v", failures)
	}
	if mem.SessionCount() != 1 {
		t.Fatalf("expected one persisted session")
	}
}

func TestRunClassifyOutsideTaxonomyFallsBackToGeneral(t *testing.T) {
	p := newTestPipeline(t, Config{
		Generator: &fakeGenerator{classifyOut: "Quarterly Vibes", summaryOut: "## Topics"},
	})

	session, failures, err := p.Run(context.Background(), Input{MediaPath: "/tmp/x.mp4", DisplayName: "x.mp4"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if session.Classification != domain.CategoryGeneral {
		t.Fatalf("classification = %q, want General", session.Classification)
	}
	if !hasFailure(failures, domain.StageClassify) {
		t.Fatalf("expected degraded classify stage, got %+v", failures)
	}
}

func TestRunSummarizeFailureDegradesToEmptySummary(t *testing.T) {
	p := newTestPipeline(t, Config{
		Generator: &fakeGenerator{classifyOut: "Sales", summaryErr: errors.New("input too long")},
	})

	session, failures, err := p.Run(context.Background(), Input{MediaPath: "/tmp/x.mp4", DisplayName: "x.mp4"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if session.Summary != "" {
		t.Fatalf("summary = %q, want empty", session.Summary)
	}
	if session.Classification != domain.CategorySales {
		t.Fatalf("classification = %q, want Sales", session.Classification)
	}
	if !hasFailure(failures, domain.StageSummarize) {
		t.Fatalf("expected summarize failure recorded, got %+v", failures)
	}
}

func TestRunVisualFailureDegradesToEmptyRefs(t *testing.T) {
	p := newTestPipeline(t, Config{
		Visuals: &fakeVisuals{err: errors.New("no video stream")},
	})

	session, failures, err := p.Run(context.Background(), Input{MediaPath: "/tmp/x.mp4", DisplayName: "x.mp4"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if session.VisualRefs == nil || len(session.VisualRefs) != 0 {
		t.Fatalf("visual refs = %#v, want empty", session.VisualRefs)
	}
	if !hasFailure(failures, domain.StageVisuals) {
		t.Fatalf("expected visuals failure recorded, got %+v", failures)
	}
}

func TestRunUploadsFramesAsObjectKeys(t *testing.T) {
	objects := &fakeObjectStore{failAfter: 10}
	p := newTestPipeline(t, Config{
		Visuals: &fakeVisuals{frames: []string{"/tmp/f/frame_0001.png", "/tmp/f/frame_0002.png"}},
		Objects: objects,
	})

	session, failures, err := p.Run(context.Background(), Input{MediaPath: "/tmp/x.mp4", DisplayName: "x.mp4", OwnerID: "u1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("expected no degraded stages, got %+v", failures)
	}
	want := []string{"visuals/u1/frame_0001.png", "visuals/u1/frame_0002.png"}
	if len(session.VisualRefs) != 2 || session.VisualRefs[0] != want[0] || session.VisualRefs[1] != want[1] {
		t.Fatalf("visual refs = %+v, want %+v", session.VisualRefs, want)
	}
}

func TestRunPartialUploadFailureCleansUpAndKeepsLocalPaths(t *testing.T) {
	objects := &fakeObjectStore{failAfter: 1}
	p := newTestPipeline(t, Config{
		Visuals: &fakeVisuals{frames: []string{"/tmp/f/frame_0001.png", "/tmp/f/frame_0002.png"}},
		Objects: objects,
	})

	session, failures, err := p.Run(context.Background(), Input{MediaPath: "/tmp/x.mp4", DisplayName: "x.mp4", OwnerID: "u1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !hasFailure(failures, domain.StageVisuals) {
		t.Fatalf("expected degraded visuals stage, got %+v", failures)
	}
	// Local paths survive so the frames are not lost.
	if len(session.VisualRefs) != 2 || session.VisualRefs[0] != "/tmp/f/frame_0001.png" {
		t.Fatalf("visual refs = %+v, want local paths", session.VisualRefs)
	}
	// The object from the partial upload is removed.
	if len(objects.deletes) != 1 || objects.deletes[0] != "visuals/u1/frame_0001.png" {
		t.Fatalf("deletes = %+v, want the uploaded key cleaned up", objects.deletes)
	}
}

func TestRunPersistFailureReturnsAssembledSession(t *testing.T) {
	p := newTestPipeline(t, Config{
		Store: &failingStore{MemoryStore: store.NewMemoryStore(), err: errors.New("connection lost")},
	})

	session, _, err := p.Run(context.Background(), Input{MediaPath: "/tmp/x.mp4", DisplayName: "retro.mov"})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != domain.StagePersist {
		t.Fatalf("expected persist stage error, got %v", err)
	}
	// The caller still gets the assembled result for immediate display.
	if session.Title != "retro" || session.Transcript == "" {
		t.Fatalf("expected assembled session back, got %+v", session)
	}
	if session.ID != "" {
		t.Fatalf("unsaved session must not carry a store id")
	}
}

func TestClassifyIsDeterministicForIdenticalTranscript(t *testing.T) {
	gen := &fakeGenerator{classifyOut: "  Marketing \n"}
	ctx := context.Background()

	first, err := classify(ctx, gen, "the campaign numbers")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	second, err := classify(ctx, gen, "the campaign numbers")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if first != second || first != domain.CategoryMarketing {
		t.Fatalf("classify not deterministic: %q vs %q", first, second)
	}
}

func hasFailure(failures []domain.StageFailure, stage domain.Stage) bool {
	for _, f := range failures {
		if f.Stage == stage {
			return true
		}
	}
	return false
}
