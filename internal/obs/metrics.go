package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	claimDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_decisions_total",
			Help: "Total number of claim decisions by outcome.",
		},
		[]string{"outcome"},
	)

	entriesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_entries_created_total",
			Help: "Total number of ledger entries created, by source.",
		},
		[]string{"source"},
	)
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		claimDecisionsTotal,
		entriesCreatedTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveClaimDecision counts a committed claim decision.
func ObserveClaimDecision(outcome string) {
	claimDecisionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveEntryCreated counts a created ledger entry. Source is either
// "manual" or "claim".
func ObserveEntryCreated(source string) {
	entriesCreatedTotal.WithLabelValues(source).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// CanonicalPath collapses per-resource path segments so metric labels stay
// low-cardinality.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	for _, prefix := range []string{"/v1/claims/", "/v1/entries/", "/v1/users/", "/v1/roles/"} {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		parts := strings.SplitN(rest, "/", 2)
		if parts[0] == "" {
			return strings.TrimSuffix(prefix, "/")
		}
		canonical := prefix + ":id"
		if len(parts) == 2 && parts[1] != "" {
			canonical += "/" + parts[1]
		}
		return canonical
	}
	return path
}
