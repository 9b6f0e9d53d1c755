package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/observability"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("PPDO_TEST_STR", "custom")
	t.Setenv("PPDO_TEST_BOOL", "1")
	t.Setenv("PPDO_TEST_INT", "42")
	t.Setenv("PPDO_TEST_BAD_INT", "forty")
	t.Setenv("PPDO_TEST_FLOAT", "0.25")
	t.Setenv("PPDO_TEST_DURATION", "90s")
	t.Setenv("PPDO_TEST_BAD_DURATION", "soon")

	assert.Equal(t, "custom", getEnv("PPDO_TEST_STR", "default"))
	assert.Equal(t, "default", getEnv("PPDO_TEST_UNSET", "default"))
	assert.True(t, getEnvBool("PPDO_TEST_BOOL", false))
	assert.True(t, getEnvBool("PPDO_TEST_UNSET", true))
	assert.Equal(t, 42, getEnvInt("PPDO_TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("PPDO_TEST_BAD_INT", 7))
	assert.Equal(t, 0.25, getEnvFloat("PPDO_TEST_FLOAT", 1))
	assert.Equal(t, 90*time.Second, getEnvDuration("PPDO_TEST_DURATION", 0))
	assert.Equal(t, time.Minute, getEnvDuration("PPDO_TEST_BAD_DURATION", time.Minute))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"INFO", observability.InfoLevel},
		{"warning", observability.WarnLevel},
		{"error", observability.ErrorLevel},
		{"verbose", observability.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, StoreMemory, cfg.Storage.IndexStore)
	assert.Equal(t, 2000, cfg.Search.MaxCandidates)
	assert.Equal(t, 30*time.Second, cfg.Search.SuggestionCacheTTL)
	assert.Equal(t, 600, cfg.Search.RateLimitPerMinute)
	assert.Empty(t, cfg.Reindex.Schedule)
	assert.True(t, cfg.Reindex.Prune)
	assert.Equal(t, "ppdo-search", cfg.Observability.OTelServiceName)
	assert.False(t, cfg.Observability.OTel().Enabled)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PPDO_PORT", "3000")
	t.Setenv("PPDO_DATABASE_URL", "postgres://ppdo@localhost/ppdo")
	t.Setenv("PPDO_REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("PPDO_REINDEX_SCHEDULE", "0 2 * * *")
	t.Setenv("PPDO_REINDEX_WORKERS", "8")
	t.Setenv("PPDO_RANKING_CONFIG", "/etc/ppdo/ranking.yaml")
	t.Setenv("PPDO_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, StorePostgres, cfg.Storage.IndexStore, "a database URL selects the postgres store")
	assert.Equal(t, "redis://localhost:6379/1", cfg.Storage.RedisURL)
	assert.Equal(t, "0 2 * * *", cfg.Reindex.Schedule)
	assert.Equal(t, 8, cfg.Reindex.Workers)
	assert.Equal(t, "/etc/ppdo/ranking.yaml", cfg.Search.RankingConfigPath)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
}

func TestLoadConfigExplicitMemoryStore(t *testing.T) {
	t.Setenv("PPDO_INDEX_STORE", "MEMORY")
	t.Setenv("PPDO_DATABASE_URL", "postgres://ppdo@localhost/ppdo")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Storage.IndexStore)
}

func validConfig() Config {
	return Config{
		Server:  ServerConfig{Port: "8080", HealthPort: "9090"},
		Storage: StorageConfig{IndexStore: StoreMemory},
		Search:  SearchConfig{MaxCandidates: 2000},
		Reindex: ReindexConfig{Workers: 4, Concurrency: 2, BatchSize: 100},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing server port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: "server port is required"},
		{name: "missing health port", mutate: func(c *Config) { c.Server.HealthPort = "" }, wantErr: "health port is required"},
		{
			name:    "same server and health port",
			mutate:  func(c *Config) { c.Server.HealthPort = "8080" },
			wantErr: "server port and health port must be different",
		},
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.Storage.IndexStore = "sqlite" },
			wantErr: "invalid index store: sqlite (must be memory or postgres)",
		},
		{
			name:    "postgres without URL",
			mutate:  func(c *Config) { c.Storage.IndexStore = StorePostgres },
			wantErr: "database URL is required for the postgres index store",
		},
		{
			name: "postgres pool bounds",
			mutate: func(c *Config) {
				c.Storage.IndexStore = StorePostgres
				c.Storage.DatabaseURL = "postgres://localhost/ppdo"
				c.Storage.DatabaseMaxConns = 2
				c.Storage.DatabaseMinConns = 5
			},
			wantErr: "invalid database pool bounds: min 5, max 2",
		},
		{
			name:    "non-positive candidate cap",
			mutate:  func(c *Config) { c.Search.MaxCandidates = 0 },
			wantErr: "max candidates must be positive",
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *Config) { c.Search.RateLimitPerMinute = -1 },
			wantErr: "rate limit settings must not be negative",
		},
		{
			name:    "bad cron schedule",
			mutate:  func(c *Config) { c.Reindex.Schedule = "every night" },
			wantErr: `invalid reindex schedule "every night"`,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Reindex.Workers = 0 },
			wantErr: "reindex workers, concurrency and batch size must be positive",
		},
		{
			name: "otel enabled without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "ppdo-search"
			},
			wantErr: "OpenTelemetry endpoint is required when OTel is enabled",
		},
		{
			name: "otel enabled without service name",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = "collector:4317"
			},
			wantErr: "OpenTelemetry service name is required when OTel is enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfigRejectsInvalidEnv(t *testing.T) {
	t.Setenv("PPDO_REINDEX_SCHEDULE", "61 * * * *")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}
