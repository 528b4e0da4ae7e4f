package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meetscribe/internal/chat"
	"meetscribe/internal/config"
	"meetscribe/internal/media"
	"meetscribe/internal/pipeline"
	"meetscribe/internal/server"
	"meetscribe/internal/util"
	"meetscribe/pkg/ai"
	"meetscribe/pkg/queue"
	"meetscribe/pkg/storage"
	"meetscribe/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, "meetscribe")

	var st store.Store
	if cfg.DatabaseDSN != "" {
		gs, err := store.NewGormStore(cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("failed to init database: %v", err)
		}
		st = gs
	} else {
		slog.Warn("no database configured, using in-memory store")
		st = store.NewMemoryStore()
	}

	client := ai.NewGeminiClient(cfg.GeminiAPIKey)
	textGen := ai.NewGeminiGenerator(client, cfg.TextModel)
	mediaGen := ai.NewGeminiGenerator(client, cfg.MediaModel)

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		log.Fatalf("failed to create work dir: %v", err)
	}
	executor := media.NewExecutor()
	normalizer := media.NewNormalizer(executor, cfg.FFmpegPath, cfg.WorkDir)
	extractor := media.NewVisualExtractor(executor, cfg.FFmpegPath, cfg.WorkDir, cfg.FrameIntervalSeconds)
	prober := media.NewProber(executor, cfg.FFprobePath)

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		objects = minioStore
	}

	pipe, err := pipeline.New(pipeline.Config{
		Normalizer:  normalizer,
		Transcriber: pipeline.NewTranscriber(mediaGen),
		Generator:   textGen,
		Store:       st,
		Visuals:     extractor,
		Prober:      prober,
		Objects:     objects,
	})
	if err != nil {
		log.Fatalf("failed to init pipeline: %v", err)
	}

	jobQueue, err := queue.NewRedisJobQueue(queue.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.QueueStream,
		Group:    cfg.QueueGroup,
	})
	if err != nil {
		log.Fatalf("failed to init job queue: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobQueue.Start(ctx, cfg.QueueConcurrency, func(ctx context.Context, job queue.ProcessJob) (string, error) {
		session, failures, err := pipe.Run(ctx, pipeline.Input{
			MediaPath:   job.MediaPath,
			DisplayName: job.DisplayName,
			OwnerID:     job.OwnerID,
		})
		if err != nil {
			return "", err
		}
		for _, f := range failures {
			slog.Warn("job completed with degraded stage", "job_id", job.ID, "stage", string(f.Stage), "message", f.Message)
		}
		return session.ID, nil
	})

	tokens, err := server.NewTokenIssuer(cfg.JWTSecret, "meetscribe", 24*time.Hour)
	if err != nil {
		log.Fatalf("failed to init token issuer: %v", err)
	}
	uploads, err := server.NewUploadStore(cfg.UploadDir)
	if err != nil {
		log.Fatalf("failed to init upload store: %v", err)
	}
	engine := chat.NewEngine(textGen, st,
		chat.WithContextLimit(cfg.ChatContextLimit),
		chat.WithHistoryLimit(cfg.ChatHistoryLimit),
	)

	api := server.New(st, jobQueue, engine, tokens, uploads, objects)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("meetscribe server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
