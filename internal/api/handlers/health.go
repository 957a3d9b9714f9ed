// health.go — health endpoints rcd.
// /health/live — процесс жив
// /health/ready — системное хранилище доступно; недоступные удалённые rcd
// из мониторинга дают degraded
// /metrics — Prometheus метрики
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dynamoRando/rcd-sub000/internal/config"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — проверка готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// DependencyHealth — состояние зависимостей из topologymetrics.
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	storeChecker ReadinessChecker
	deps         DependencyHealth
	promHandler  http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// storeChecker — проверка системного хранилища; deps может быть nil
// (мониторинг зависимостей не запущен).
func NewHealthHandler(storeChecker ReadinessChecker, deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		storeChecker: storeChecker,
		deps:         deps,
		promHandler:  promhttp.Handler(),
	}
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

type healthReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    struct {
		SystemStore  healthCheckResult `json:"system_store"`
		Dependencies healthCheckResult `json:"dependencies"`
	} `json:"checks"`
}

// HealthLive — liveness probe.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "rcd",
	})
}

// HealthReady — readiness probe. 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "rcd",
	}

	if h.storeChecker != nil {
		st, msg := h.storeChecker.CheckReady()
		resp.Checks.SystemStore = healthCheckResult{Status: st, Message: msg}
	} else {
		resp.Checks.SystemStore = healthCheckResult{Status: statusFail, Message: "не инициализировано"}
	}
	resp.Checks.Dependencies = h.dependencies()
	resp.Status = overallStatus(resp.Checks.SystemStore.Status, resp.Checks.Dependencies.Status)

	status := http.StatusOK
	if resp.Status == statusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// dependencies сводит состояние удалённых rcd: недоступный узел не делает
// процесс неготовым, но переводит его в degraded.
func (h *HealthHandler) dependencies() healthCheckResult {
	if h.deps == nil {
		return healthCheckResult{Status: statusOK, Message: "мониторинг не запущен"}
	}
	var down []string
	for name, ok := range h.deps.Health() {
		if !ok {
			down = append(down, name)
		}
	}
	if len(down) == 0 {
		return healthCheckResult{Status: statusOK}
	}
	sort.Strings(down)
	return healthCheckResult{
		Status:  statusDegraded,
		Message: fmt.Sprintf("недоступны: %s", strings.Join(down, ", ")),
	}
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus: fail, если хотя бы одна проверка fail; degraded, если
// хотя бы одна degraded; иначе ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
