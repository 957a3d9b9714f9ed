// logging.go — журнал входящих HTTP-запросов через slog.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestLogger пишет по записи на запрос с группой и именем операции.
// 4xx пишутся с WARN, 5xx с ERROR; 401 помечается отдельным сообщением,
// чтобы отказы в аутентификации узлов искались по журналу.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := record(w)

			next.ServeHTTP(rec, r)

			level, msg := slog.LevelInfo, "HTTP запрос"
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status == http.StatusUnauthorized:
				level, msg = slog.LevelWarn, "Отказ в аутентификации"
			case rec.status >= 400:
				level = slog.LevelWarn
			}

			group, op := splitOperation(r.URL.Path)
			logger.LogAttrs(r.Context(), level, msg,
				slog.String("group", group),
				slog.String("operation", op),
				slog.String("method", r.Method),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", rec.written),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
