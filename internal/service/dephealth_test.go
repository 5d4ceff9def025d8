package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// jwksStatus возвращает состояние зависимости jwks или false, если
// проверка ещё не выполнялась.
func jwksStatus(ds *DephealthService) (healthy, checked bool) {
	for key, ok := range ds.Health() {
		if strings.HasPrefix(key, "jwks:") {
			return ok, true
		}
	}
	return false, false
}

// TestDephealthService_JWKS проверяет мониторинг доступного и сбойного
// JWKS endpoint провайдера токенов.
func TestDephealthService_JWKS(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		healthy bool
	}{
		{"JWKS доступен", http.StatusOK, true},
		{"JWKS отвечает 500", http.StatusInternalServerError, false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"keys":[]}`))
			}))
			defer jwks.Close()

			ds, err := NewDephealthServiceWithRegisterer(DephealthConfig{
				ServiceID:     "ledger-test-" + string(rune('a'+i)),
				Group:         "feedback-ledger",
				JWKSUrl:       jwks.URL,
				CheckInterval: time.Second,
			}, testLogger(), prometheus.NewRegistry())
			if err != nil {
				t.Fatalf("ошибка создания DephealthService: %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := ds.Start(ctx); err != nil {
				t.Fatalf("ошибка запуска: %v", err)
			}
			defer ds.Stop()

			deadline := time.Now().Add(5 * time.Second)
			for {
				healthy, checked := jwksStatus(ds)
				if checked && healthy == tt.healthy {
					return
				}
				if time.Now().After(deadline) {
					t.Fatalf("состояние jwks не стало %v за 5s: %v", tt.healthy, ds.Health())
				}
				time.Sleep(100 * time.Millisecond)
			}
		})
	}
}

func TestNewDephealthService_NoDependencies(t *testing.T) {
	_, err := NewDephealthServiceWithRegisterer(DephealthConfig{
		ServiceID:     "ledger-test-empty",
		Group:         "feedback-ledger",
		CheckInterval: time.Second,
	}, testLogger(), prometheus.NewRegistry())
	if !errors.Is(err, ErrNoDependencies) {
		t.Errorf("без JWKS и PostgreSQL ожидалась ErrNoDependencies, получено %v", err)
	}
}
