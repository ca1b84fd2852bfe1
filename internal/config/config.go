package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Pipeline  PipelineConfig
	Tracing   TracingConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

type APIConfig struct {
	Addr            string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

// RedisOptions is the go-redis view of the same connection, shared by the
// result cache and the rate limiter.
func (q QueueConfig) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency int
	MetricsAddr string
}

const (
	StorageBackendMinio = "minio"
	StorageBackendLocal = "local"
)

type StorageConfig struct {
	Backend       string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
	LocalDir      string
}

type DatabaseConfig struct {
	// DSN selects the Postgres catalog. Empty keeps the catalog in memory.
	DSN string
}

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// CacheConfig selects the fingerprint store. The memory backend is private
// to one process, so the API and worker only share results through redis.
type CacheConfig struct {
	Backend   string
	KeyPrefix string
}

type PipelineConfig struct {
	FontPath       string
	FontSize       float64
	MaxConcurrency int
	MaxSourceBytes int64
	MaxPixels      int64
	FetchTimeout   time.Duration
	// AllowPrivateHosts lets source URLs resolve to loopback, private and
	// link-local addresses.
	AllowPrivateHosts bool
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type RateLimitConfig struct {
	Enabled       bool
	Capacity      int
	Window        time.Duration
	SubjectHeader string
}

type WebhookConfig struct {
	SigningSecret string
	Timeout       time.Duration
	MaxAttempts   int
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment. Values from a .env file in
// the working directory, or the files named by PIXELFORGE_ENV_FILE, fill in
// variables that are not already set.
func Load() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		API: APIConfig{
			Addr:            env("PIXELFORGE_API_ADDR", ":8080"),
			MaxUploadBytes:  envInt64("PIXELFORGE_MAX_UPLOAD_BYTES", 20<<20),
			ShutdownTimeout: envDuration("PIXELFORGE_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "derivatives"),
		},
		Worker: WorkerConfig{
			Concurrency: envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MetricsAddr: env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(env("STORAGE_BACKEND", StorageBackendMinio)),
			Endpoint:      env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:     env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:     env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:        env("MINIO_BUCKET", "pixelforge"),
			UseSSL:        envBool("MINIO_USE_SSL", false),
			PublicBaseURL: env("STORAGE_PUBLIC_BASE_URL", ""),
			LocalDir:      env("STORAGE_LOCAL_DIR", "./.pixelforge-data"),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Cache: CacheConfig{
			Backend:   strings.ToLower(env("CACHE_BACKEND", CacheBackendRedis)),
			KeyPrefix: env("CACHE_KEY_PREFIX", "pixelforge:derivative"),
		},
		Pipeline: PipelineConfig{
			FontPath:          env("PIPELINE_FONT_PATH", ""),
			FontSize:          envFloat("PIPELINE_FONT_SIZE", 24),
			MaxConcurrency:    envInt("PIPELINE_MAX_CONCURRENCY", runtime.NumCPU()),
			MaxSourceBytes:    envInt64("PIPELINE_MAX_SOURCE_BYTES", 50<<20),
			MaxPixels:         envInt64("PIPELINE_MAX_PIXELS", 40_000_000),
			FetchTimeout:      envDuration("PIPELINE_FETCH_TIMEOUT", 30*time.Second),
			AllowPrivateHosts: envBool("PIPELINE_ALLOW_PRIVATE_HOSTS", false),
		},
		Tracing: TracingConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
		RateLimit: RateLimitConfig{
			Enabled:       envBool("RATE_LIMIT_ENABLED", false),
			Capacity:      envInt("RATE_LIMIT_CAPACITY", 60),
			Window:        envDuration("RATE_LIMIT_WINDOW", time.Minute),
			SubjectHeader: env("RATE_LIMIT_SUBJECT_HEADER", "X-Client-ID"),
		},
		Webhook: WebhookConfig{
			SigningSecret: env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:       envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:   envInt("WEBHOOK_MAX_ATTEMPTS", 4),
		},
		Log: LogConfig{
			Level:  env("LOG_LEVEL", "info"),
			Format: env("LOG_FORMAT", "json"),
		},
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Storage.Backend {
	case StorageBackendMinio, StorageBackendLocal:
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend)
	}
	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("unsupported CACHE_BACKEND %q", c.Cache.Backend)
	}
	if c.Pipeline.MaxSourceBytes <= 0 {
		return fmt.Errorf("PIPELINE_MAX_SOURCE_BYTES must be positive")
	}
	if c.Pipeline.MaxPixels <= 0 {
		return fmt.Errorf("PIPELINE_MAX_PIXELS must be positive")
	}
	return nil
}

func loadDotEnv() error {
	files := strings.FieldsFunc(env("PIXELFORGE_ENV_FILE", ".env"), func(r rune) bool { return r == ',' })
	for _, file := range files {
		file = strings.TrimSpace(file)
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", file, err)
		}
	}
	return nil
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
