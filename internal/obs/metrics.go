package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by every handler.
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
)

// Writer-lock and event-bus metrics.
var (
	LockAcquisitions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "writer_lock_acquisitions_total",
		Help: "Successful writer lock acquisitions.",
	})

	LockContention = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "writer_lock_contention_total",
		Help: "Acquisition attempts rejected because the lock was held.",
	})

	LockForcedReleases = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "writer_lock_forced_releases_total",
		Help: "Forced releases: admin disable or vanished client.",
	})

	Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "event_bus_subscribers",
		Help: "Live event bus subscriptions.",
	})

	DroppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "event_bus_dropped_events_total",
		Help: "Events dropped from full subscription queues.",
	})

	AuditDegraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audit_degraded_mode",
		Help: "1 when audit entries are falling back to the in-memory ring buffer.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		LockAcquisitions, LockContention, LockForcedReleases,
		Subscribers, DroppedEvents, AuditDegraded,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps a handler with RPS, latency and in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
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

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
