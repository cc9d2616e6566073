package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubChecker struct {
	status, message string
}

func (c stubChecker) CheckReady() (string, string) {
	return c.status, c.message
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		checker    ReadinessChecker
		wantCode   int
		wantStatus string
	}{
		{"ok", stubChecker{"ok", "PostgreSQL доступен"}, http.StatusOK, "ok"},
		{"fail", stubChecker{"fail", "connection refused"}, http.StatusServiceUnavailable, "fail"},
		{"не инициализирован", nil, http.StatusServiceUnavailable, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checker)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("статус: хотели %d, получили %d", tt.wantCode, rec.Code)
			}
			var resp healthReadyResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("декодирование: %v", err)
			}
			if resp.Status != tt.wantStatus || resp.Service != serviceName {
				t.Errorf("ответ: %+v", resp)
			}
		})
	}
}

func TestHealthLiveAndLegacy(t *testing.T) {
	h := NewHealthHandler(nil)

	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("live: хотели 200, получили %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "healthy" {
		t.Errorf("/health: хотели healthy, получили %v", body)
	}
}
