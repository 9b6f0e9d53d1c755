package observability

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	assert.Panics(t, func() { NewMetrics(registry) }, "double registration")
}

func TestMetricsObservers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveSearch("search", "ok", 3*time.Millisecond)
	m.ObserveSearch("search", "ok", 5*time.Millisecond)
	m.ObserveSearch("counts", "error", time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SearchRequestsTotal.WithLabelValues("search", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchRequestsTotal.WithLabelValues("counts", "error")))

	m.ObserveIndexWrite("upsert", "project", nil, time.Millisecond)
	m.ObserveIndexWrite("upsert", "project", errors.New("boom"), time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexWritesTotal.WithLabelValues("upsert", "project", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexWritesTotal.WithLabelValues("upsert", "project", "error")))

	m.ObserveIndexSyncFailure("budgetItem", "update")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexSyncFailuresTotal.WithLabelValues("budgetItem", "update")))

	m.ObserveReindexRecord("agency", "indexed")
	m.ObserveReindexRun("cron", true, time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReindexRecordsTotal.WithLabelValues("agency", "indexed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReindexRunsTotal.WithLabelValues("cron", "partial")))

	m.ObserveCache("suggestions", true)
	m.ObserveCache("suggestions", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("suggestions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("suggestions")))

	m.ObserveCandidates(120)
	assert.Equal(t, 1, testutil.CollectAndCount(m.SearchCandidates))

	m.ObserveDBPool(sql.DBStats{InUse: 3, Idle: 2})
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DBConnectionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DBConnectionsIdle))
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSearch("search", "ok", time.Millisecond)
		m.ObserveCandidates(1)
		m.ObserveIndexWrite("remove", "user", nil, time.Millisecond)
		m.ObserveIndexSyncFailure("user", "delete")
		m.ObserveReindexRecord("user", "skipped")
		m.ObserveReindexRun("manual", false, time.Second)
		m.ObserveCache("counts", true)
		m.ObserveDBPool(sql.DBStats{})
	})
}

func TestHTTPMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/api/v1/index/{entityId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}).Methods("DELETE")

	for _, id := range []string{"p1", "p2"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("DELETE", "/api/v1/index/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("DELETE", "/api/v1/index/{entityId}", "404")))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.ObserveSearch("suggestions", "ok", time.Millisecond)

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `ppdo_search_requests_total{operation="suggestions",outcome="ok"} 1`)
}
