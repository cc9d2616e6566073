// metrics.go — Prometheus-метрики HTTP-запросов.
// Пути нормализуются: идентификаторы файлов заменяются на {id}.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_migrator_http_requests_total",
			Help: "Общее количество HTTP-запросов к мигратору",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_migrator_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к мигратору в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает middleware сбора метрик запросов.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет идентификатор файла в пути на {id}.
// /api/v1/migration/files/F0123/retry → /api/v1/migration/files/{id}/retry
func normalizePath(path string) string {
	const filesPrefix = "/api/v1/migration/files/"
	rest, ok := strings.CutPrefix(path, filesPrefix)
	if !ok || rest == "" {
		return path
	}
	if _, suffix, found := strings.Cut(rest, "/"); found {
		return filesPrefix + "{id}/" + suffix
	}
	return filesPrefix + "{id}"
}
