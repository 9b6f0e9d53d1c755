package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/observability"
)

// Index store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Search        SearchConfig
	Reindex       ReindexConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig selects and configures the index store and the counts cache.
type StorageConfig struct {
	IndexStore string

	DatabaseURL         string
	DatabaseReplicaURLs string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseTimeout     time.Duration

	// RedisURL enables the category counts cache when set.
	RedisURL       string
	RedisPassword  string
	RedisDB        int
	RedisPoolSize  int
	CountsCacheTTL time.Duration
}

// SearchConfig tunes the query API.
type SearchConfig struct {
	MaxCandidates       int
	SuggestionCacheSize int
	SuggestionCacheTTL  time.Duration
	// RankingConfigPath points at a YAML file of ranking constants. Empty
	// uses the built-in defaults.
	RankingConfigPath string
	// WatchRankingConfig reloads the ranking file when it changes.
	WatchRankingConfig bool
	// RateLimitPerMinute throttles read paths per caller. Zero disables it.
	RateLimitPerMinute int
	RateLimitBurst     int
}

// ReindexConfig configures the backfill job.
type ReindexConfig struct {
	// Schedule is a standard five-field cron expression. Empty disables the
	// scheduled run.
	Schedule    string
	Prune       bool
	Workers     int
	Concurrency int
	BatchSize   int
	Timeout     time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelEnvironment    string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// OTel converts the settings for observability.InitOTel.
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Environment:    c.OTelEnvironment,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Search:        loadSearchConfig(),
		Reindex:       loadReindexConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PPDO_HOST", "0.0.0.0"),
		Port:            getEnv("PPDO_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PPDO_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PPDO_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("PPDO_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PPDO_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("PPDO_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() StorageConfig {
	cfg := StorageConfig{
		IndexStore:          strings.ToLower(getEnv("PPDO_INDEX_STORE", "")),
		DatabaseURL:         getEnv("PPDO_DATABASE_URL", ""),
		DatabaseReplicaURLs: getEnv("PPDO_DATABASE_REPLICA_URLS", ""),
		DatabaseMaxConns:    getEnvInt("PPDO_DATABASE_MAX_CONNS", 20),
		DatabaseMinConns:    getEnvInt("PPDO_DATABASE_MIN_CONNS", 2),
		DatabaseTimeout:     getEnvDuration("PPDO_DATABASE_TIMEOUT", 5*time.Second),
		RedisURL:            getEnv("PPDO_REDIS_URL", ""),
		RedisPassword:       getEnv("PPDO_REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("PPDO_REDIS_DB", 0),
		RedisPoolSize:       getEnvInt("PPDO_REDIS_POOL_SIZE", 10),
		CountsCacheTTL:      getEnvDuration("PPDO_COUNTS_CACHE_TTL", 5*time.Minute),
	}
	if cfg.IndexStore == "" {
		// A database URL alone selects the postgres store.
		cfg.IndexStore = StoreMemory
		if cfg.DatabaseURL != "" {
			cfg.IndexStore = StorePostgres
		}
	}
	return cfg
}

func loadSearchConfig() SearchConfig {
	return SearchConfig{
		MaxCandidates:       getEnvInt("PPDO_MAX_CANDIDATES", 2000),
		SuggestionCacheSize: getEnvInt("PPDO_SUGGESTION_CACHE_SIZE", 1024),
		SuggestionCacheTTL:  getEnvDuration("PPDO_SUGGESTION_CACHE_TTL", 30*time.Second),
		RankingConfigPath:   getEnv("PPDO_RANKING_CONFIG", ""),
		WatchRankingConfig:  getEnvBool("PPDO_RANKING_CONFIG_WATCH", true),
		RateLimitPerMinute:  getEnvInt("PPDO_RATE_LIMIT_PER_MINUTE", 600),
		RateLimitBurst:      getEnvInt("PPDO_RATE_LIMIT_BURST", 30),
	}
}

func loadReindexConfig() ReindexConfig {
	return ReindexConfig{
		Schedule:    strings.TrimSpace(getEnv("PPDO_REINDEX_SCHEDULE", "")),
		Prune:       getEnvBool("PPDO_REINDEX_PRUNE", true),
		Workers:     getEnvInt("PPDO_REINDEX_WORKERS", 4),
		Concurrency: getEnvInt("PPDO_REINDEX_CONCURRENCY", 2),
		BatchSize:   getEnvInt("PPDO_REINDEX_BATCH_SIZE", 200),
		Timeout:     getEnvDuration("PPDO_REINDEX_TIMEOUT", 30*time.Minute),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("PPDO_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PPDO_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PPDO_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PPDO_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PPDO_OTEL_SERVICE_NAME", "ppdo-search"),
		OTelServiceVersion: getEnv("PPDO_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelEnvironment:    getEnv("PPDO_ENV", ""),
		OTelInsecure:       getEnvBool("PPDO_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("PPDO_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.IndexStore {
	case StoreMemory:
	case StorePostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for the postgres index store")
		}
		if c.Storage.DatabaseMaxConns <= 0 || c.Storage.DatabaseMinConns < 0 ||
			c.Storage.DatabaseMinConns > c.Storage.DatabaseMaxConns {
			return fmt.Errorf("invalid database pool bounds: min %d, max %d",
				c.Storage.DatabaseMinConns, c.Storage.DatabaseMaxConns)
		}
	default:
		return fmt.Errorf("invalid index store: %s (must be memory or postgres)", c.Storage.IndexStore)
	}

	if c.Search.MaxCandidates <= 0 {
		return fmt.Errorf("max candidates must be positive")
	}
	if c.Search.RateLimitPerMinute < 0 || c.Search.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}

	if c.Reindex.Schedule != "" {
		if _, err := cron.ParseStandard(c.Reindex.Schedule); err != nil {
			return fmt.Errorf("invalid reindex schedule %q: %w", c.Reindex.Schedule, err)
		}
	}
	if c.Reindex.Workers <= 0 || c.Reindex.Concurrency <= 0 || c.Reindex.BatchSize <= 0 {
		return fmt.Errorf("reindex workers, concurrency and batch size must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
