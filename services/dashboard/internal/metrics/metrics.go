package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors exported by the dashboard. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	regenerations *prometheus.CounterVec
	regenDuration *prometheus.HistogramVec
	reads         *prometheus.CounterVec
	snapshotBytes prometheus.Gauge
	requests      *prometheus.CounterVec
}

// New registers the dashboard collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		regenerations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bwdash_regenerations_total",
			Help: "Generator runs by trigger and result.",
		}, []string{"trigger", "result"}),
		regenDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bwdash_regeneration_duration_seconds",
			Help:    "Wall time of generator runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"trigger"}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bwdash_snapshot_reads_total",
			Help: "Snapshot reads by result.",
		}, []string{"result"}),
		snapshotBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bwdash_snapshot_size_bytes",
			Help: "Size of the snapshot file after the last successful regeneration.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bwdash_http_requests_total",
			Help: "Dashboard HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}

	reg.MustRegister(m.regenerations, m.regenDuration, m.reads, m.snapshotBytes, m.requests)
	return m
}

// Handler serves the collectors of g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveRegeneration counts a generator run and records its duration.
func (m *Metrics) ObserveRegeneration(trigger, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.regenerations.WithLabelValues(trigger, result).Inc()
	m.regenDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// ObserveRead counts a snapshot read by result label.
func (m *Metrics) ObserveRead(result string) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(result).Inc()
}

// SetSnapshotSize records the size of the last generated snapshot.
func (m *Metrics) SetSnapshotSize(n int64) {
	if m == nil {
		return
	}
	m.snapshotBytes.Set(float64(n))
}

// Middleware counts requests per matched chi route pattern. Unmatched paths
// are grouped under "unmatched" to keep label cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.requests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}
