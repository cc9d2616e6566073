// health.go — health endpoints мигратора.
// /health/live — процесс жив
// /health/ready — леджер доступен
// /health — совместимый с прежним инструментом ответ {"status":"healthy"}
// /metrics — Prometheus
package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/archive-migrator/internal/config"
)

const serviceName = "archive-migrator"

// ReadinessChecker — проверка готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status, message string)
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	ledger      ReadinessChecker
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик. ledger может быть nil — readiness
// вернёт "fail".
func NewHealthHandler(ledger ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		ledger:      ledger,
		promHandler: promhttp.Handler(),
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
		Ledger healthCheckResult `json:"ledger"`
	} `json:"checks"`
}

// HealthLive — liveness probe.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe. 503 при недоступном леджере.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}
	if h.ledger != nil {
		st, msg := h.ledger.CheckReady()
		resp.Checks.Ledger = healthCheckResult{Status: st, Message: msg}
	} else {
		resp.Checks.Ledger = healthCheckResult{Status: statusFail, Message: "не инициализирован"}
	}
	resp.Status = resp.Checks.Ledger.Status

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// Health — упрощённая проверка для внешних мониторов.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

const statusFail = "fail"
