package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRegeneration("request", "success", 200*time.Millisecond)
	m.ObserveRegeneration("request", "success", 100*time.Millisecond)
	m.ObserveRegeneration("schedule", "failure", time.Second)
	m.ObserveRead("corrupt")
	m.SetSnapshotSize(512)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.regenerations.WithLabelValues("request", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.regenerations.WithLabelValues("schedule", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reads.WithLabelValues("corrupt")))
	assert.Equal(t, 512.0, testutil.ToFloat64(m.snapshotBytes))
	assert.Equal(t, 2, testutil.CollectAndCount(m.regenDuration))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRegeneration("refresh", "success", time.Second)
	m.ObserveRead("ok")
	m.SetSnapshotSize(1)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	require.NotNil(t, m.Middleware(next))
}

func TestMiddlewareLabelsRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {})

	for _, path := range []string{"/api/health", "/nope"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/api/health", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("unmatched", "404")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "bwdash_http_requests_total"))
}
