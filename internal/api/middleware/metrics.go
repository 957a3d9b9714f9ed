// metrics.go — Prometheus метрики операций rcd:
// rcd_operations_total, rcd_operation_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rcd_operations_total",
			Help: "Количество вызовов операций rcd по группам и статусам ответа",
		},
		[]string{"group", "operation", "status"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rcd_operation_duration_seconds",
			Help:    "Длительность операций rcd в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group", "operation"},
	)
)

// MetricsMiddleware считает вызовы и длительность операций.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := record(w)

			next.ServeHTTP(rec, r)

			// Шаблон маршрута известен только после маршрутизации
			group, op := splitOperation(routeLabel(r))

			operationsTotal.WithLabelValues(group, op, strconv.Itoa(rec.status)).Inc()
			operationDuration.WithLabelValues(group, op).Observe(time.Since(start).Seconds())
		})
	}
}

// routeLabel возвращает шаблон маршрута chi, совпавшего с запросом.
// Каждая операция — отдельный маршрут, поэтому шаблон равен пути операции.
// Запросы мимо маршрутов сводятся к /other.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "/other"
}
