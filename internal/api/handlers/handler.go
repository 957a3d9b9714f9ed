// handler.go — корневой обработчик API: health, клиентская и межузловая
// группы операций.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/dynamoRando/rcd-sub000/internal/api/errors"
	"github.com/dynamoRando/rcd-sub000/internal/wire"
)

// maxBodySize — предельный размер тела запроса.
const maxBodySize = 16 << 20

// APIHandler объединяет обработчики всех групп.
type APIHandler struct {
	health *HealthHandler
	client *ClientHandler
	data   *DataHandler
}

// NewAPIHandler создаёт корневой обработчик API.
func NewAPIHandler(health *HealthHandler, client *ClientHandler, data *DataHandler) *APIHandler {
	return &APIHandler{health: health, client: client, data: data}
}

// Register регистрирует маршруты на роутере. Каждая операция —
// отдельный маршрут POST <префикс группы><Операция>.
func (h *APIHandler) Register(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	for op, fn := range h.client.operations() {
		r.Post(wire.ClientPrefix+op, fn)
	}
	for op, fn := range h.data.operations() {
		r.Post(wire.DataPrefix+op, fn)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierrors.NotFound(w, "неизвестная операция "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apierrors.MethodNotAllowed(w, "операции вызываются методом POST")
	})
}

// decode читает JSON-тело запроса. При ошибке отвечает 400 и возвращает false.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, "тело запроса больше допустимого размера")
			return false
		}
		apierrors.ValidationError(w, "некорректное тело запроса: "+err.Error())
		return false
	}
	return true
}

// writeReply отвечает 200, если вызывающий аутентифицирован, иначе 401
// с тем же телом ответа.
func writeReply(w http.ResponseWriter, reply wire.Reply) {
	status := http.StatusOK
	if !reply.Base().AuthenticationResult.IsAuthenticated {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, reply)
}
