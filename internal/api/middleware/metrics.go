// metrics.go — Prometheus HTTP метрики AnonShare.
// Регистрирует метрики: ansh_http_requests_total, ansh_http_request_duration_seconds.
// Бизнес-метрики (ansh_sessions_created_total, ansh_local_servers_active и др.)
// регистрируются в соответствующих пакетах и обновляются из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ansh_http_requests_total",
			Help: "Общее количество HTTP-запросов к AnonShare",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ansh_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к AnonShare в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик: коды доступа,
			// токены и номера портов не должны раздувать кардинальность
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет переменные сегменты пути на плейсхолдеры:
// /download/aB3xY9kQ → /download/{accessCode},
// /locshare/stats/9001 → /locshare/stats/{port}.
func normalizePath(path string) string {
	switch {
	case path == "/upload",
		path == "/endsession",
		path == "/metrics",
		path == "/health/live",
		path == "/health/ready",
		path == "/locshare/start",
		path == "/locshare/stop",
		path == "/locshare/local-ip":
		return path
	case strings.HasPrefix(path, "/session-info/"):
		return "/session-info/{accessCode}"
	case strings.HasPrefix(path, "/download/"):
		return "/download/{accessCode}"
	case strings.HasPrefix(path, "/check-session/"):
		return "/check-session/{accessCode}"
	case strings.HasPrefix(path, "/session-data/"):
		return "/session-data/{ownerToken}"
	case strings.HasPrefix(path, "/locshare/stats/"):
		return "/locshare/stats/{port}"
	case strings.HasPrefix(path, "/locshare/check-port/"):
		return "/locshare/check-port/{port}"
	}
	return path
}
