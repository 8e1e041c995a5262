package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
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

// Доменные метрики: обнаружение схемы, логин, резолвинг артикулов.
var (
	schemaDiscoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mv_schema_discoveries_total",
			Help: "Catalog schema discoveries by path (fast, heuristic, dump, failed).",
		},
		[]string{"path"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mv_login_attempts_total",
			Help: "Operator login attempts by mechanism and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	resolutionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mv_resolution_outcomes_total",
			Help: "Invoice line resolution outcomes by status and strategy.",
		},
		[]string{"status", "via"},
	)

	initOnce sync.Once
)

// Регистрация метрик в default-регистре.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			schemaDiscoveries, loginAttempts, resolutionOutcomes)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSchemaDiscovery counts one schema discovery run.
func ObserveSchemaDiscovery(path string) {
	schemaDiscoveries.WithLabelValues(path).Inc()
}

// ObserveLogin counts one authentication attempt.
func ObserveLogin(mode, outcome string) {
	loginAttempts.WithLabelValues(mode, outcome).Inc()
}

// ObserveResolution counts one resolved, ambiguous or unresolved line.
func ObserveResolution(status, via string) {
	resolutionOutcomes.WithLabelValues(status, via).Inc()
}

// Обёртка для измерения RPS/latency/в полёте.
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

// statusWriter remembers the response code.
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

// CanonicalPath сворачивает идентификаторы проходов, чтобы метки не разрастались.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	const prefix = "/v1/passes/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	rest := strings.Split(strings.TrimPrefix(path, prefix), "/")
	switch {
	case len(rest) == 1 && rest[0] != "":
		return prefix + ":id"
	case len(rest) == 2 && rest[0] != "":
		switch rest[1] {
		case "run", "decision", "manual", "delivery", "export", "events":
			return prefix + ":id/" + rest[1]
		}
	}
	return path
}
