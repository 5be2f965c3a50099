// Package metrics registers the Prometheus collectors shared by the HTTP
// layer, the share service and the sweeper.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codedrop_http_requests_total",
			Help: "Total HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codedrop_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Business metrics, updated from the service layer.
var (
	SharesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codedrop_shares_created_total",
			Help: "Shares created, by kind.",
		},
		[]string{"kind"},
	)

	RetrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codedrop_retrievals_total",
			Help: "Token lookups, by result.",
		},
		[]string{"result"},
	)

	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codedrop_sweep_runs_total",
			Help: "Cleanup sweeps, by result.",
		},
		[]string{"result"},
	)

	SweepBlobsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codedrop_sweep_blobs_deleted_total",
		Help: "Blobs deleted by the cleanup sweeper.",
	})

	SweepMalformedEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codedrop_sweep_malformed_entries_total",
		Help: "Schedule entries dropped because they could not be decoded.",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codedrop_sweep_duration_seconds",
		Help:    "Cleanup sweep duration in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	ReconcileBlobsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codedrop_reconcile_blobs_deleted_total",
		Help: "Orphaned blobs deleted by reconciliation.",
	})
)

// Middleware records request count and latency. The chi route pattern is
// used as label so tokens in paths do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := NewStatusRecorder(w)
		next.ServeHTTP(wrapped, r)

		route := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.Status())).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// StatusRecorder captures the status code written by a handler.
type StatusRecorder struct {
	http.ResponseWriter
	status int
}

// NewStatusRecorder wraps w; the status defaults to 200.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader records code before delegating.
func (rw *StatusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Status returns the recorded status code.
func (rw *StatusRecorder) Status() int { return rw.status }

// Unwrap lets http.ResponseController reach the original writer.
func (rw *StatusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
