package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/iago/fleet-reports/internal/blob"
	"github.com/iago/fleet-reports/internal/config"
	httpserver "github.com/iago/fleet-reports/internal/http"
	"github.com/iago/fleet-reports/internal/http/handlers"
	"github.com/iago/fleet-reports/internal/linksign"
	"github.com/iago/fleet-reports/internal/queue"
	"github.com/iago/fleet-reports/internal/render"
	"github.com/iago/fleet-reports/internal/repository"
	"github.com/iago/fleet-reports/internal/service"
	"github.com/iago/fleet-reports/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "fleet-reports")
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Warn("failed loading .env files", "error", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	blobs, blobMode, err := blob.NewStore(ctx, cfg.BlobMode, blob.S3Config{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		Bucket:          cfg.S3Bucket,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		UsePathStyle:    cfg.S3UsePathStyle,
	}, logger)
	if err != nil {
		logger.Error("blob store unavailable", "mode", cfg.BlobMode, "error", err)
		os.Exit(1)
	}

	links := setupLinks(cfg, logger)
	catalog := render.NewCatalog(nil)
	events := service.NewJobEvents()

	jobsService := service.NewJobsService(service.Dependencies{
		Repo:     repo,
		Producer: producer,
		Catalog:  catalog,
		Blobs:    blobs,
		Links:    links,
		Logger:   logger,
	})
	api := handlers.NewAPI(handlers.Options{
		Jobs:           jobsService,
		Events:         events,
		PublicBaseURL:  cfg.PublicBaseURL,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         logger,
	})

	handler := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	var workers sync.WaitGroup
	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(consumer, repo, catalog, blobs, events, worker.Config{
			Concurrency: cfg.WorkerConcurrency,
			MaxAttempts: cfg.QueueMaxAttempts,
			StepDelay:   cfg.WorkerStepDelay(),
			Logger:      logger,
		})
		workers.Add(1)
		go func() {
			defer workers.Done()
			processor.Start(ctx)
		}()
		logger.Info("worker started", "concurrency", cfg.WorkerConcurrency, "blob_mode", blobMode)
	} else {
		logger.Info("worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Artifact bodies can be large; the events socket manages its own deadlines.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("api listening", "port", cfg.Port, "kinds", catalog.Kinds())
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	workers.Wait()
}

func setupRepository(
	ctx context.Context,
	cfg config.Config,
	logger *slog.Logger,
) (repository.JobsRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryJobsRepository(), func() {}
	}

	pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Warn("failed to initialize postgres repository, fallback to memory", "error", err)
		return repository.NewMemoryJobsRepository(), func() {}
	}
	logger.Info("postgres repository initialized")
	return pgRepo, func() {
		pgRepo.Close()
	}
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *slog.Logger,
) (queue.Producer, queue.Consumer, func()) {
	var (
		baseProducer queue.Producer
		consumer     queue.Consumer
		baseCloser   = func() {}
	)

	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not configured, using local queue fallback")
		local := queue.NewLocalQueue(512, cfg.QueueMaxAttempts, logger)
		baseProducer = local
		consumer = local
	} else {
		streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			Stream:      cfg.RedisStream,
			DLQStream:   cfg.RedisDLQ,
			Group:       cfg.RedisGroup,
			Consumer:    cfg.RedisConsumer,
			MaxAttempts: cfg.QueueMaxAttempts,
			Logger:      logger,
		})
		if err != nil {
			logger.Warn("failed to initialize redis streams queue, fallback to local", "error", err)
			local := queue.NewLocalQueue(512, cfg.QueueMaxAttempts, logger)
			baseProducer = local
			consumer = local
		} else {
			logger.Info("redis streams queue initialized", "stream", cfg.RedisStream, "group", cfg.RedisGroup)
			baseProducer = streams
			consumer = streams
			baseCloser = func() {
				_ = streams.Close()
			}
		}
	}

	producer := baseProducer
	batchingCloser := func() {}
	if cfg.QueueBatchingEnabled {
		batching := queue.NewBatchingProducer(ctx, baseProducer, queue.BatchingConfig{
			MaxBatchSize:       cfg.QueueBatchSize,
			FlushInterval:      time.Duration(cfg.QueueBatchFlushMS) * time.Millisecond,
			FlushTimeout:       time.Duration(cfg.QueueBatchFlushTimeoutMS) * time.Millisecond,
			QueueCapacity:      cfg.QueueBatchQueueCapacity,
			MaxInFlightBatches: cfg.QueueBatchMaxInFlight,
		})
		producer = batching
		batchingCloser = batching.Close
		logger.Info("queue batching enabled",
			"size", cfg.QueueBatchSize,
			"flush_ms", cfg.QueueBatchFlushMS,
			"queue_capacity", cfg.QueueBatchQueueCapacity,
			"max_in_flight", cfg.QueueBatchMaxInFlight,
		)
	}

	return producer, consumer, func() {
		batchingCloser()
		baseCloser()
	}
}

// setupLinks returns nil when no secret is configured; artifact-url then
// works only with a presigning store.
func setupLinks(cfg config.Config, logger *slog.Logger) *linksign.Signer {
	signer, err := linksign.NewSigner(cfg.LinkSecret, linksign.WithTTL(cfg.LinkTTL()))
	if err != nil {
		logger.Warn("signed download links disabled", "error", err)
		return nil
	}
	return signer
}
