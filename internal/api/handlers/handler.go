// handler.go — общие функции обработчиков.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var webhookRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "archive_migrator_webhook_requests_total",
		Help: "Количество запросов к webhook по результату обработки",
	},
	[]string{"result"},
)

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// queryInt читает целочисленный параметр запроса.
// Отсутствующий параметр — def; некорректный — ошибка.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// paginationDefaults нормализует limit и offset.
func paginationDefaults(limit, offset int) (int, int) {
	switch {
	case limit < 1:
		limit = 1
	case limit > 1000:
		limit = 1000
	}
	return limit, max(offset, 0)
}
