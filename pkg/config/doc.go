// Package config loads the search service configuration from PPDO_*
// environment variables and the ranking constants from YAML.
//
// # Environment
//
//	PPDO_PORT="8080"
//	PPDO_HEALTH_PORT="9090"
//	PPDO_INDEX_STORE="postgres"          # memory or postgres
//	PPDO_DATABASE_URL="postgres://ppdo@db/ppdo?sslmode=disable"
//	PPDO_DATABASE_REPLICA_URLS="postgres://ppdo@replica1/ppdo,postgres://ppdo@replica2/ppdo"
//	PPDO_REDIS_URL="redis://cache:6379/0"  # enables the counts cache
//	PPDO_MAX_CANDIDATES="2000"
//	PPDO_SUGGESTION_CACHE_TTL="30s"
//	PPDO_RANKING_CONFIG="/etc/ppdo/ranking.yaml"
//	PPDO_REINDEX_SCHEDULE="0 2 * * *"    # standard cron, empty disables
//	PPDO_LOG_LEVEL="info"
//	PPDO_OTEL_ENABLED="true"
//	PPDO_OTEL_ENDPOINT="otel-collector:4317"
//
// LoadConfig validates the result; an invalid cron schedule or pool bound
// fails startup.
//
// # Ranking constants
//
// LoadRankingConfig overlays a YAML file on search.DefaultRankingConfig and
// validates it. WatchRankingConfig reloads the file into a running
// search.Ranker whenever it is written or replaced:
//
//	async.SafeGo(ctx, logger, 0, "ranking config watcher", func(ctx context.Context) error {
//		return config.WatchRankingConfig(ctx, cfg.Search.RankingConfigPath, ranker, logger)
//	})
package config
