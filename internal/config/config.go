package config

import (
	"os"
	"strconv"
)

// Config centralizes runtime settings for the orchestrator and workers.
type Config struct {
	DatabaseURL string

	OpenAIAPIKey        string
	OpenAIBaseURL       string
	OpenAITimeoutMS     int
	OpenAIMaxRetries    int
	ModelIntent         string
	ModelAnswerPrimary  string
	ModelAnswerFallback string
	ModelReportPrimary  string
	ModelReportFallback string

	EmbeddingModel     string
	EmbeddingDimension int
	EmbeddingRetries   int

	GithubToken      string
	GithubBaseURL    string
	GithubRPS        float64
	GithubBurst      int
	GithubMaxRetries int
	GithubPageSize   int

	ChunkSize         int
	ChunkOverlap      int
	IngestLockTTLSecs int
	IngestMaxWorkers  int

	ContextBudgetTokens   int
	SearchK               int
	AnswerCacheTTLSeconds int
	AnswerCacheMaxEntries int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	QueueMaxAttempts         int
	QueueBatchingEnabled     bool
	QueueBatchSize           int
	QueueBatchFlushMS        int
	QueueBatchFlushTimeoutMS int
	QueueBatchQueueCapacity  int
	QueueBatchMaxInFlight    int

	WorkerEnabled bool

	SchedulerEnabled      bool
	SchedulerTickSeconds  int
	SchedulerCatchUpLimit int
	SchedulerPreSync      bool
}

func Load() Config {
	return Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),

		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAITimeoutMS:     getEnvInt("OPENAI_TIMEOUT_MS", 30000),
		OpenAIMaxRetries:    getEnvInt("OPENAI_MAX_RETRIES", 2),
		ModelIntent:         getEnv("OPENAI_MODEL_INTENT", "gpt-4o-mini"),
		ModelAnswerPrimary:  getEnv("OPENAI_MODEL_ANSWER_PRIMARY", "gpt-4o-mini"),
		ModelAnswerFallback: getEnv("OPENAI_MODEL_ANSWER_FALLBACK", "gpt-4o-mini"),
		ModelReportPrimary:  getEnv("OPENAI_MODEL_REPORT_PRIMARY", "gpt-4o"),
		ModelReportFallback: getEnv("OPENAI_MODEL_REPORT_FALLBACK", "gpt-4o-mini"),

		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimension: getEnvInt("EMBEDDING_DIMENSION", 1536),
		EmbeddingRetries:   getEnvInt("EMBEDDING_MAX_RETRIES", 5),

		GithubToken:      getEnv("GITHUB_TOKEN", ""),
		GithubBaseURL:    getEnv("GITHUB_BASE_URL", "https://api.github.com"),
		GithubRPS:        getEnvFloat("GITHUB_RPS", 8),
		GithubBurst:      getEnvInt("GITHUB_BURST", 16),
		GithubMaxRetries: getEnvInt("GITHUB_MAX_RETRIES", 4),
		GithubPageSize:   getEnvInt("GITHUB_PAGE_SIZE", 100),

		ChunkSize:         getEnvInt("INGEST_CHUNK_SIZE", 3000),
		ChunkOverlap:      getEnvInt("INGEST_CHUNK_OVERLAP", 200),
		IngestLockTTLSecs: getEnvInt("INGEST_LOCK_TTL_SECONDS", 1800),
		IngestMaxWorkers:  getEnvInt("INGEST_MAX_WORKERS", 10),

		ContextBudgetTokens:   getEnvInt("RAG_CONTEXT_BUDGET_TOKENS", 4000),
		SearchK:               getEnvInt("RAG_SEARCH_K", 12),
		AnswerCacheTTLSeconds: getEnvInt("ANSWER_CACHE_TTL_SECONDS", 900),
		AnswerCacheMaxEntries: getEnvInt("ANSWER_CACHE_MAX_ENTRIES", 2000),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "ri_jobs"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "ri_jobs_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "ri_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "worker-1"),

		QueueMaxAttempts:         getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueBatchingEnabled:     getEnvBool("QUEUE_BATCHING_ENABLED", false),
		QueueBatchSize:           getEnvInt("QUEUE_BATCH_SIZE", 32),
		QueueBatchFlushMS:        getEnvInt("QUEUE_BATCH_FLUSH_MS", 25),
		QueueBatchFlushTimeoutMS: getEnvInt("QUEUE_BATCH_FLUSH_TIMEOUT_MS", 3000),
		QueueBatchQueueCapacity:  getEnvInt("QUEUE_BATCH_QUEUE_CAPACITY", 2048),
		QueueBatchMaxInFlight:    getEnvInt("QUEUE_BATCH_MAX_IN_FLIGHT", 4),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),

		SchedulerEnabled:      getEnvBool("SCHEDULER_ENABLED", true),
		SchedulerTickSeconds:  getEnvInt("SCHEDULER_TICK_SECONDS", 30),
		SchedulerCatchUpLimit: getEnvInt("SCHEDULER_CATCHUP_LIMIT", 1),
		SchedulerPreSync:      getEnvBool("SCHEDULER_PRE_SYNC", true),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
