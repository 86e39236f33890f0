package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	QueueBackendLocal = "local"
	QueueBackendRedis = "redis"
	QueueBackendNATS  = "nats"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	Port string

	LogLevel  string
	LogFormat string

	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int
	DBMigrate   bool
	CatalogURL  string
	CatalogSeed string

	QueueBackend       string
	QueueName          string
	QueuePrefetch      int
	QueueMaxDeliveries int
	QueueClaimIdle     time.Duration

	RedisURL      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisGroup    string
	RedisConsumer string

	NATSURL     string
	NATSStream  string
	NATSDurable string

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	QueueBatchingEnabled     bool
	QueueBatchSize           int
	QueueBatchFlushMS        int
	QueueBatchFlushTimeoutMS int
	QueueBatchQueueCapacity  int
	QueueBatchMaxInFlight    int

	WorkerEnabled  bool
	WorkerID       string
	ProcessTimeout time.Duration
}

func Load() Config {
	workerID := getEnv("WORKER_ID", "")
	if workerID == "" {
		workerID = defaultWorkerID()
	}

	return Config{
		Port: getEnv("PORT", "8000"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:  getEnvInt("DB_MIN_CONNS", 1),
		DBMigrate:   getEnvBool("DB_AUTO_MIGRATE", true),
		CatalogURL:  getEnv("CATALOG_DATABASE_URL", ""),
		CatalogSeed: getEnv("CATALOG_SEED_FILE", ""),

		QueueBackend:       strings.ToLower(getEnv("QUEUE_BACKEND", "")),
		QueueName:          getEnv("QUEUE_NAME", "consulta_queue"),
		QueuePrefetch:      getEnvInt("QUEUE_PREFETCH", 1),
		QueueMaxDeliveries: getEnvInt("QUEUE_MAX_DELIVERIES", 5),
		QueueClaimIdle:     getEnvDuration("QUEUE_CLAIM_IDLE", 30*time.Second),

		RedisURL:      getEnv("REDIS_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisGroup:    getEnv("REDIS_GROUP", "consulta_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", workerID),

		NATSURL:     getEnv("NATS_URL", ""),
		NATSStream:  getEnv("NATS_STREAM", "CONSULTAS"),
		NATSDurable: getEnv("NATS_DURABLE", "consulta_workers"),

		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		QueueBatchingEnabled:     getEnvBool("QUEUE_BATCHING_ENABLED", false),
		QueueBatchSize:           getEnvInt("QUEUE_BATCH_SIZE", 32),
		QueueBatchFlushMS:        getEnvInt("QUEUE_BATCH_FLUSH_MS", 25),
		QueueBatchFlushTimeoutMS: getEnvInt("QUEUE_BATCH_FLUSH_TIMEOUT_MS", 3000),
		QueueBatchQueueCapacity:  getEnvInt("QUEUE_BATCH_QUEUE_CAPACITY", 2048),
		QueueBatchMaxInFlight:    getEnvInt("QUEUE_BATCH_MAX_IN_FLIGHT", 4),

		WorkerEnabled:  getEnvBool("WORKER_ENABLED", true),
		WorkerID:       workerID,
		ProcessTimeout: getEnvDuration("PROCESS_TIMEOUT", 20*time.Second),
	}
}

// ResolvedQueueBackend picks the broker: an explicit QUEUE_BACKEND wins,
// otherwise the first configured broker, otherwise the in-process queue.
func (c Config) ResolvedQueueBackend() string {
	switch c.QueueBackend {
	case QueueBackendRedis, QueueBackendNATS, QueueBackendLocal:
		return c.QueueBackend
	}
	if c.RedisURL != "" || c.RedisAddr != "" {
		return QueueBackendRedis
	}
	if c.NATSURL != "" {
		return QueueBackendNATS
	}
	return QueueBackendLocal
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker-1"
	}
	return host
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
