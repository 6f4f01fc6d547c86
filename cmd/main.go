package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/fedutinova/timegrid/internal/complexity"
	appconfig "github.com/fedutinova/timegrid/internal/config"
	"github.com/fedutinova/timegrid/internal/database"
	"github.com/fedutinova/timegrid/internal/extract"
	"github.com/fedutinova/timegrid/internal/orchestrator"
	"github.com/fedutinova/timegrid/internal/preprocess"
	"github.com/fedutinova/timegrid/internal/queue"
	"github.com/fedutinova/timegrid/internal/repository"
	"github.com/fedutinova/timegrid/internal/server"
	"github.com/fedutinova/timegrid/internal/storage"
	httpapi "github.com/fedutinova/timegrid/internal/transport/http"
	"github.com/fedutinova/timegrid/internal/webhook"
	"github.com/fedutinova/timegrid/internal/workers"
)

func main() {
	cfg := appconfig.Load()
	slog.Info("starting timegrid", "addr", cfg.HTTPAddr, "workers", cfg.WorkerConcurrency)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	storageService, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	slog.Info("storage initialized", "type", storage.GetStorageType(cfg))

	q, err := queue.NewRedisQueue(cfg.RedisURL, queue.RedisQueueConfig{
		Stream:     cfg.QueueStream,
		Group:      cfg.QueueGroup,
		Consumer:   hostnameOr("worker"),
		Visibility: cfg.VisibilityTimeout,
	})
	if err != nil {
		slog.Error("failed to connect to Redis queue", "err", err)
		os.Exit(1)
	}
	defer q.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AWSAccessKey, cfg.AWSSecretKey, "",
		)),
	)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	repo := repository.New(db)

	structured := extract.NewTextractExtractor(awsCfg)
	vision := extract.NewOpenAIVisionExtractor(cfg.OpenAIAPIKey, cfg.VisionModel)

	orch := orchestrator.New(
		complexity.NewAnalyzer(),
		structured,
		vision,
		orchestrator.Options{
			StructuredEnabled:     cfg.StructuredOn && cfg.TextractEnabled,
			HybridEnabled:         cfg.HybridOn,
			VisionFallbackEnabled: cfg.VisionFallbackOn,
			ValidateOutput:        true,
			BackendTimeout:        cfg.BackendTimeout,
		},
	)

	notifier := webhook.NewNotifier(repo, cfg.WebhookTimeout)
	pre := preprocess.New(preprocess.TesseractOCR{})

	pool := workers.NewPool(q, repo, storageService, pre, orch, notifier, workers.Config{
		Concurrency:  cfg.WorkerConcurrency,
		LongPollWait: cfg.LongPollWait,
	})
	pool.Start(ctx)

	handlers := &httpapi.Handlers{
		Store:   repo,
		Storage: storageService,
		Queue:   q,
		Config:  cfg,
	}
	health := &httpapi.Health{DB: db.Pool(), Queue: q}
	r := server.NewRouter(handlers, health)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)

	pool.Stop(30 * time.Second)
	cancel()
}

func hostnameOr(def string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return def
}
