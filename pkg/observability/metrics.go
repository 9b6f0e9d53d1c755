package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Query metrics
	SearchRequestsTotal *prometheus.CounterVec
	SearchDuration      *prometheus.HistogramVec
	SearchCandidates    prometheus.Histogram

	// Index write metrics
	IndexWritesTotal   *prometheus.CounterVec
	IndexWriteDuration *prometheus.HistogramVec
	// IndexSyncFailuresTotal counts source writes whose index call failed.
	IndexSyncFailuresTotal *prometheus.CounterVec

	// Reindex metrics
	ReindexRunsTotal    *prometheus.CounterVec
	ReindexRecordsTotal *prometheus.CounterVec
	ReindexDuration     prometheus.Histogram

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ppdo_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ppdo_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ppdo_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		SearchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ppdo_search_requests_total",
				Help: "Total number of search read-path requests",
			},
			[]string{"operation", "outcome"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ppdo_search_duration_seconds",
				Help:    "Search read-path duration in seconds",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		SearchCandidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ppdo_search_candidates",
				Help:    "Number of candidate records scored per search",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),

		IndexWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ppdo_index_writes_total",
				Help: "Total number of index upserts and removals",
			},
			[]string{"operation", "entity_type", "status"},
		),
		IndexWriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ppdo_index_write_duration_seconds",
				Help:    "Index write duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
			},
			[]string{"operation"},
		),
		IndexSyncFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ppdo_index_sync_failures_total",
				Help: "Source mutations that committed but could not be indexed",
			},
			[]string{"entity_type", "operation"},
		),

		ReindexRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ppdo_reindex_runs_total",
				Help: "Total number of reindex runs",
			},
			[]string{"trigger", "outcome"},
		),
		ReindexRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ppdo_reindex_records_total",
				Help: "Records processed by reindex runs",
			},
			[]string{"entity_type", "result"},
		),
		ReindexDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ppdo_reindex_duration_seconds",
				Help:    "Reindex run duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ppdo_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ppdo_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ppdo_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ppdo_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.SearchRequestsTotal,
		m.SearchDuration,
		m.SearchCandidates,
		m.IndexWritesTotal,
		m.IndexWriteDuration,
		m.IndexSyncFailuresTotal,
		m.ReindexRunsTotal,
		m.ReindexRecordsTotal,
		m.ReindexDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveSearch records one read-path call. Safe on a nil receiver.
func (m *Metrics) ObserveSearch(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SearchRequestsTotal.WithLabelValues(operation, outcome).Inc()
	m.SearchDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveCandidates records the candidate set size of one search. Safe on a nil receiver.
func (m *Metrics) ObserveCandidates(n int) {
	if m == nil {
		return
	}
	m.SearchCandidates.Observe(float64(n))
}

// ObserveIndexWrite records one indexing protocol call. Safe on a nil receiver.
func (m *Metrics) ObserveIndexWrite(operation, entityType string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.IndexWritesTotal.WithLabelValues(operation, entityType, status).Inc()
	m.IndexWriteDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveIndexSyncFailure counts a source write left out of sync with the
// index. Safe on a nil receiver.
func (m *Metrics) ObserveIndexSyncFailure(entityType, operation string) {
	if m == nil {
		return
	}
	m.IndexSyncFailuresTotal.WithLabelValues(entityType, operation).Inc()
}

// ObserveReindexRecord counts one reindexed record. Safe on a nil receiver.
func (m *Metrics) ObserveReindexRecord(entityType, result string) {
	if m == nil {
		return
	}
	m.ReindexRecordsTotal.WithLabelValues(entityType, result).Inc()
}

// ObserveReindexRun records a completed reindex run. Safe on a nil receiver.
func (m *Metrics) ObserveReindexRun(trigger string, failed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "partial"
	}
	m.ReindexRunsTotal.WithLabelValues(trigger, outcome).Inc()
	m.ReindexDuration.Observe(elapsed.Seconds())
}

// ObserveCache records a cache lookup. Safe on a nil receiver.
func (m *Metrics) ObserveCache(cacheType string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cacheType).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cacheType).Inc()
}

// ObserveDBPool publishes database pool usage. Safe on a nil receiver.
func (m *Metrics) ObserveDBPool(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the mux path template so ids do not explode label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// It is meant to be installed with (*mux.Router).Use so the route is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
