package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	apierrors "github.com/dynamoRando/rcd-sub000/internal/api/errors"
)

// Recoverer перехватывает панику обработчика, пишет её в журнал со стеком
// и отвечает 500 INTERNAL_ERROR. http.ErrAbortHandler пробрасывается дальше.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rv := recover()
				if rv == nil {
					return
				}
				if rv == http.ErrAbortHandler {
					panic(rv)
				}
				group, op := splitOperation(r.URL.Path)
				logger.Error("Паника при обработке запроса",
					slog.String("group", group),
					slog.String("operation", op),
					slog.String("panic", fmt.Sprint(rv)),
					slog.String("stack", string(debug.Stack())),
				)
				apierrors.InternalError(w, "внутренняя ошибка при выполнении "+op)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
