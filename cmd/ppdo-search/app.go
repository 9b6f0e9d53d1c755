package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/async"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/config"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/httputil"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/middleware"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/observability"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/search"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/storage/postgres"
)

// maxBodyBytes bounds index write payloads.
const maxBodyBytes = 1 << 20

// app holds every long-lived component of the search server.
type app struct {
	cfg    *config.Config
	logger *observability.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics

	store  search.Store
	conns  *postgres.ConnectionManager
	counts *postgres.RedisClient

	ranker    *search.Ranker
	indexer   *search.Indexer
	service   *search.Service
	reindexer *search.Reindexer
	limiter   *middleware.RateLimiter
}

// newApp builds the component graph for cfg. The caller owns the returned
// app and must call close.
func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Observability.MetricsEnabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = observability.NewMetrics(a.registry)
	}

	rankingCfg := search.DefaultRankingConfig()
	if path := cfg.Search.RankingConfigPath; path != "" {
		loaded, err := config.LoadRankingConfig(path)
		if err != nil {
			return nil, err
		}
		rankingCfg = loaded
	}
	ranker, err := search.NewRanker(rankingCfg)
	if err != nil {
		return nil, err
	}
	a.ranker = ranker

	var source search.SourceReader
	switch cfg.Storage.IndexStore {
	case config.StorePostgres:
		conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
			PrimaryURL:  cfg.Storage.DatabaseURL,
			ReplicaURLs: postgres.ParseReplicaURLs(cfg.Storage.DatabaseReplicaURLs),
			MaxConns:    cfg.Storage.DatabaseMaxConns,
			MinConns:    cfg.Storage.DatabaseMinConns,
			Timeout:     cfg.Storage.DatabaseTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.conns = conns
		if err := postgres.Migrate(ctx, conns.Primary()); err != nil {
			a.close(ctx)
			return nil, err
		}
		a.store = postgres.NewIndexStore(conns)
		source = postgres.NewSourceReader(conns)
	default:
		a.store = search.NewMemoryStore()
	}

	if cfg.Storage.RedisURL != "" {
		counts, err := postgres.NewRedisClient(postgres.RedisConfig{
			URL:      cfg.Storage.RedisURL,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			PoolSize: cfg.Storage.RedisPoolSize,
			TTL:      cfg.Storage.CountsCacheTTL,
		})
		if err != nil {
			logger.WithError(err).Warn("Counts cache disabled")
		} else {
			a.counts = counts
		}
	}

	a.indexer = search.NewIndexer(a.store,
		search.WithIndexerLogger(logger),
		search.WithIndexerMetrics(a.metrics),
	)

	serviceOpts := []search.ServiceOption{
		search.WithServiceLogger(logger),
		search.WithServiceMetrics(a.metrics),
		search.WithMaxCandidates(cfg.Search.MaxCandidates),
		search.WithSuggestionCache(cfg.Search.SuggestionCacheSize, cfg.Search.SuggestionCacheTTL),
	}
	if a.counts != nil {
		serviceOpts = append(serviceOpts, search.WithCountsCache(a.counts))
	}
	a.service = search.NewService(a.store, a.ranker, serviceOpts...)
	a.service.Subscribe(a.indexer)

	// The in-memory store has no source of record to rebuild from.
	if source != nil {
		a.reindexer = search.NewReindexer(a.indexer, source,
			search.WithReindexLogger(logger),
			search.WithReindexMetrics(a.metrics),
			search.WithReindexWorkers(cfg.Reindex.Workers, cfg.Reindex.Concurrency),
			search.WithReindexBatchSize(cfg.Reindex.BatchSize),
		)
	}

	if cfg.Search.RateLimitPerMinute > 0 {
		a.limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Search.RateLimitPerMinute,
			WindowDuration:    time.Minute,
			BurstSize:         cfg.Search.RateLimitBurst,
		})
	}

	return a, nil
}

// apiHandler returns the public API handler.
func (a *app) apiHandler() http.Handler {
	router := mux.NewRouter()
	if a.metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(a.metrics))
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	if a.limiter != nil {
		api.Use(a.limiter.Handler)
	}
	search.NewHandlers(a.service, a.indexer, a.reindexer, a.logger).RegisterRoutes(api)

	handler := httputil.Chain(
		httputil.RecoveryMiddleware(a.logger),
		middleware.RequestID(a.logger),
		middleware.Scope,
		httputil.LoggingMiddleware(a.logger),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)(router)

	return otelhttp.NewHandler(handler, "ppdo-search")
}

// healthHandler returns the probe and metrics handler for the health port.
func (a *app) healthHandler(version string) http.Handler {
	probes := http.NewServeMux()

	var db *sql.DB
	if a.conns != nil {
		db = a.conns.Primary()
	}
	var rdb *redis.Client
	if a.counts != nil {
		rdb = a.counts.GetClient()
	}
	observability.RegisterHealthRoutes(probes, observability.NewHealthChecker(db, rdb, a.store, version))

	if a.registry != nil {
		observability.RegisterMetricsEndpoint(probes, a.registry)
	}
	return probes
}

// startBackground launches the ranking config watcher, replica health
// checks, rate limiter cleanup and the reindex schedule. Everything stops
// when ctx is cancelled except the scheduler, which the caller stops.
func (a *app) startBackground(ctx context.Context) (*cron.Cron, error) {
	if path := a.cfg.Search.RankingConfigPath; path != "" && a.cfg.Search.WatchRankingConfig {
		async.SafeGo(ctx, a.logger, 0, "ranking config watcher", func(ctx context.Context) error {
			return config.WatchRankingConfig(ctx, path, a.ranker, a.logger)
		})
	}
	if a.conns != nil {
		a.conns.StartHealthCheckRoutine(ctx, 30*time.Second, a.metrics)
	}
	if a.limiter != nil {
		async.SafeGo(ctx, a.logger, 0, "rate limiter cleanup", a.limiter.RunCleanup)
	}

	schedule := a.cfg.Reindex.Schedule
	if schedule == "" {
		return nil, nil
	}
	if a.reindexer == nil {
		a.logger.WithField("schedule", schedule).Warn("Reindex schedule ignored: the memory index store has no source tables")
		return nil, nil
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { a.scheduledReindex(ctx) }); err != nil {
		return nil, fmt.Errorf("failed to schedule reindex: %w", err)
	}
	c.Start()
	a.logger.WithField("schedule", schedule).Info("Reindex scheduled")
	return c, nil
}

// scheduledReindex runs one consistency repair in the background. A run
// that finds another one active is skipped.
func (a *app) scheduledReindex(ctx context.Context) {
	async.SafeGo(ctx, a.logger, a.cfg.Reindex.Timeout, "scheduled reindex", func(ctx context.Context) error {
		summary, err := a.reindexer.Run(ctx, search.ReindexOptions{
			Prune:   a.cfg.Reindex.Prune,
			Trigger: "scheduled",
		})
		if errors.Is(err, search.ErrReindexInProgress) {
			a.logger.Warn("Skipping scheduled reindex: another run is active")
			return nil
		}
		if err != nil {
			return err
		}
		entry := a.logger.WithFields(map[string]interface{}{
			"indexed":     summary.Indexed,
			"skipped":     summary.Skipped,
			"failed":      summary.Failed,
			"pruned":      summary.Pruned,
			"duration_ms": summary.Duration.Milliseconds(),
		})
		if !summary.OK() {
			entry.Warn("Scheduled reindex finished with failures")
			return nil
		}
		entry.Info("Scheduled reindex finished")
		return nil
	})
}

// close releases the storage connections.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.counts != nil {
		if err := a.counts.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.conns != nil {
		if err := a.conns.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	return errors.Join(errs...)
}
