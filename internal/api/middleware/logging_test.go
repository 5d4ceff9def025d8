package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

// TestRequestLogger проверяет уровни логирования и шаблон маршрута.
func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := chi.NewRouter()
	r.Use(RequestLogger(logger), MetricsMiddleware())
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/api/v1/items/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) })

	tests := []struct {
		path  string
		level string
		route string
	}{
		{"/health/live", "DEBUG", "/health/live"},
		{"/api/v1/items/42", "WARN", "/api/v1/items/{id}"},
		{"/boom", "ERROR", "/boom"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			buf.Reset()
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			var entry map[string]any
			if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
				t.Fatalf("невалидная запись лога %q: %v", buf.String(), err)
			}
			if entry["level"] != tt.level {
				t.Errorf("ожидался уровень %s, получен %v", tt.level, entry["level"])
			}
			if entry["route"] != tt.route {
				t.Errorf("ожидался route %s, получен %v", tt.route, entry["route"])
			}
			if entry["component"] != "http" {
				t.Errorf("ожидался component=http, получен %v", entry["component"])
			}
		})
	}
}
