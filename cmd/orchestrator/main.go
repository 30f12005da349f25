package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caio/repoinsight-back/internal/ai"
	"github.com/caio/repoinsight-back/internal/cache"
	"github.com/caio/repoinsight-back/internal/config"
	"github.com/caio/repoinsight-back/internal/embed"
	"github.com/caio/repoinsight-back/internal/githost"
	"github.com/caio/repoinsight-back/internal/ingest"
	"github.com/caio/repoinsight-back/internal/quality"
	"github.com/caio/repoinsight-back/internal/queue"
	"github.com/caio/repoinsight-back/internal/rag"
	"github.com/caio/repoinsight-back/internal/report"
	"github.com/caio/repoinsight-back/internal/repository"
	"github.com/caio/repoinsight-back/internal/schedule"
	"github.com/caio/repoinsight-back/internal/service"
	"github.com/caio/repoinsight-back/internal/store"
	"github.com/caio/repoinsight-back/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[repoinsight] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vectorStore, storeCloser := setupVectorStore(ctx, cfg, logger)
	defer storeCloser()

	jobsRepo, jobsCloser := setupJobsRepository(ctx, cfg, logger)
	defer jobsCloser()

	schedulesRepo, schedulesCloser := setupSchedulesRepository(ctx, cfg, logger)
	defer schedulesCloser()

	producer, consumer, locker, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	modelRouter := ai.NewModelRouter(ai.ModelRouterConfig{
		IntentModel:    cfg.ModelIntent,
		AnswerPrimary:  cfg.ModelAnswerPrimary,
		AnswerFallback: cfg.ModelAnswerFallback,
		ReportPrimary:  cfg.ModelReportPrimary,
		ReportFallback: cfg.ModelReportFallback,
	})
	oracle := ai.NewOpenAIClient(ai.OpenAIClientConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Timeout:    time.Duration(cfg.OpenAITimeoutMS) * time.Millisecond,
		MaxRetries: cfg.OpenAIMaxRetries,
	})
	embedder := embed.NewOpenAIEmbedder(embed.OpenAIConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.EmbeddingModel,
		Dimension:  cfg.EmbeddingDimension,
		MaxRetries: cfg.EmbeddingRetries,
	})
	codeHost := githost.NewClient(githost.ClientConfig{
		Token:      cfg.GithubToken,
		BaseURL:    cfg.GithubBaseURL,
		RPS:        cfg.GithubRPS,
		Burst:      cfg.GithubBurst,
		MaxRetries: cfg.GithubMaxRetries,
		PageSize:   cfg.GithubPageSize,
	})

	answers := cache.NewAnswerCache(cache.Config{
		TTL:        time.Duration(cfg.AnswerCacheTTLSeconds) * time.Second,
		MaxEntries: cfg.AnswerCacheMaxEntries,
	})
	ragEngine := rag.NewEngine(
		embedder,
		vectorStore,
		oracle,
		modelRouter,
		answers,
		rag.NewTokenCounter(cfg.ModelAnswerPrimary),
		rag.EngineConfig{
			SearchK:             cfg.SearchK,
			ContextBudgetTokens: cfg.ContextBudgetTokens,
		},
		logger,
	)

	ingestEngine := ingest.NewEngine(codeHost, vectorStore, embedder, locker, ingest.EngineConfig{
		ChunkConfig: ingest.ChunkConfig{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		MaxWorkers:  cfg.IngestMaxWorkers,
		LockTTL:     time.Duration(cfg.IngestLockTTLSecs) * time.Second,
	}, logger)

	assembler := report.NewAssembler(
		ragEngine,
		oracle,
		modelRouter,
		quality.NewDocumentValidator(),
		report.NewLogRenderer(logger),
		logger,
	)

	jobsService := service.NewJobsService(jobsRepo, producer)

	scheduler := schedule.NewEngine(schedulesRepo, jobsService, schedule.EngineConfig{
		TickInterval: time.Duration(cfg.SchedulerTickSeconds) * time.Second,
		CatchUp:      catchUpPolicy(cfg.SchedulerCatchUpLimit),
		PreSync:      cfg.SchedulerPreSync,
	}, logger)

	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(
			consumer,
			jobsRepo,
			&invalidatingIngester{engine: ingestEngine, rag: ragEngine},
			assembler,
			cfg.QueueMaxAttempts,
			logger,
		)
		go processor.Start(ctx)
		logger.Printf("worker enabled and started")
	} else {
		logger.Printf("worker disabled by configuration")
	}

	if cfg.SchedulerEnabled {
		go scheduler.Run(ctx)
		logger.Printf("scheduler enabled tick=%ds", cfg.SchedulerTickSeconds)
	} else {
		logger.Printf("scheduler disabled by configuration")
	}

	<-ctx.Done()
	logger.Printf("shutdown signal received")
}

// invalidatingIngester drops cached answers for a repository after its
// index changes.
type invalidatingIngester struct {
	engine *ingest.Engine
	rag    *rag.Engine
}

func (i *invalidatingIngester) Sync(ctx context.Context, tenantID, repo string, fullResync bool) (ingest.SyncResult, error) {
	result, err := i.engine.Sync(ctx, tenantID, repo, fullResync)
	if err == nil && result.ChunksWritten+result.FilesDeleted > 0 {
		i.rag.InvalidateRepo(tenantID, result.Repo)
	}
	return result, err
}

func catchUpPolicy(limit int) schedule.CatchUpPolicy {
	if limit <= 0 {
		return schedule.CatchUpNone
	}
	return schedule.CatchUpOne
}

func setupVectorStore(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (store.VectorStore, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory vector store")
		return store.NewMemoryStore(), func() {}
	}
	pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize pgvector store, fallback to memory: %v", err)
		return store.NewMemoryStore(), func() {}
	}
	logger.Printf("pgvector store initialized")
	return pgStore, pgStore.Close
}

func setupJobsRepository(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.JobsRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory jobs repository")
		return repository.NewMemoryJobsRepository(), func() {}
	}
	pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres jobs repository, fallback to memory: %v", err)
		return repository.NewMemoryJobsRepository(), func() {}
	}
	logger.Printf("postgres jobs repository initialized")
	return pgRepo, pgRepo.Close
}

func setupSchedulesRepository(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.SchedulesRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory schedules repository")
		return repository.NewMemorySchedulesRepository(), func() {}
	}
	pgRepo, err := repository.NewPostgresSchedulesRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres schedules repository, fallback to memory: %v", err)
		return repository.NewMemorySchedulesRepository(), func() {}
	}
	logger.Printf("postgres schedules repository initialized")
	return pgRepo, pgRepo.Close
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Producer, queue.Consumer, ingest.Locker, func()) {
	var (
		baseProducer queue.Producer
		consumer     queue.Consumer
		locker       ingest.Locker
		baseCloser   = func() {}
	)

	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local queue and lock fallback")
		local := queue.NewLocalQueue(512, cfg.QueueMaxAttempts, logger)
		baseProducer = local
		consumer = local
		locker = ingest.NewMemoryLocker()
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
		})
		if err != nil {
			logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
			local := queue.NewLocalQueue(512, cfg.QueueMaxAttempts, logger)
			baseProducer = local
			consumer = local
			locker = ingest.NewMemoryLocker()
		} else {
			logger.Printf("redis streams queue initialized")
			baseProducer = streams
			consumer = streams
			locker = ingest.NewRedisLocker(redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}))
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
		logger.Printf("queue batching enabled size=%d flush_ms=%d", cfg.QueueBatchSize, cfg.QueueBatchFlushMS)
	}

	return producer, consumer, locker, func() {
		batchingCloser()
		baseCloser()
	}
}
