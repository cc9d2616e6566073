package service

import "testing"

// TestHealthPath проверяет построение пути проверки зависимости.
func TestHealthPath(t *testing.T) {
	tests := []struct {
		name     string
		rawURL   string
		suffix   string
		expected string
	}{
		{name: "Slack API", rawURL: "https://slack.com/api", suffix: "/api.test", expected: "/api/api.test"},
		{name: "Slack API со слешем", rawURL: "https://slack.com/api/", suffix: "/api.test", expected: "/api/api.test"},
		{name: "мок без пути", rawURL: "http://127.0.0.1:9000", suffix: "/api.test", expected: "/api.test"},
		{name: "JWKS", rawURL: "https://idp.local/realms/ops/protocol/openid-connect/certs", suffix: "", expected: "/realms/ops/protocol/openid-connect/certs"},
		{name: "URL без пути и суффикса", rawURL: "https://idp.local", suffix: "", expected: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := healthPath(tt.rawURL, tt.suffix); got != tt.expected {
				t.Errorf("healthPath(%q, %q) = %q, ожидалось %q", tt.rawURL, tt.suffix, got, tt.expected)
			}
		})
	}
}
