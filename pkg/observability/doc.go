// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown for the search
// service.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("entity_type", "project").Info("Record indexed")
//
// Request-scoped logging picks up request ID, user ID, department scope and
// trace IDs from the context:
//
//	observability.FromContext(ctx, logger).Warn("Invalid filter")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveSearch("search", "ok", time.Since(start))
//
// Every Observe method is safe on a nil *Metrics, so components can run
// without a registry in tests.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, indexStore, version)
//	observability.RegisterHealthRoutes(healthMux, checker)
//
// Database and index failures make the service unready; a Redis failure
// only degrades it.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
//	ctx, span := observability.Tracer("search.service").Start(ctx, "Search")
//	defer span.End()
package observability
