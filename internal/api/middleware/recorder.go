package middleware

import (
	"net/http"
	"strings"

	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// statusRecorder запоминает статус-код и размер ответа.
// Общий для журнала запросов и метрик.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

// record оборачивает w, если он ещё не обёрнут внешним middleware.
func record(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController получить доступ к исходному ResponseWriter.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Группы операций в журнале и метриках.
const (
	groupClient = "client"
	groupData   = "data"
	groupSystem = "system"
)

// splitOperation разбирает путь на группу и имя операции.
// Пути вне групп (health, metrics) относятся к группе system.
func splitOperation(path string) (group, op string) {
	switch {
	case strings.HasPrefix(path, wire.ClientPrefix):
		return groupClient, strings.TrimPrefix(path, wire.ClientPrefix)
	case strings.HasPrefix(path, wire.DataPrefix):
		return groupData, strings.TrimPrefix(path, wire.DataPrefix)
	}
	return groupSystem, path
}
