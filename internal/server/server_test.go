package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/feedback-ledger/internal/api/handlers"
	"github.com/bigkaa/feedback-ledger/internal/api/middleware"
	"github.com/bigkaa/feedback-ledger/internal/config"
	"github.com/bigkaa/feedback-ledger/internal/domain/policy"
	"github.com/bigkaa/feedback-ledger/internal/ratelimit"
	"github.com/bigkaa/feedback-ledger/internal/scheduler"
	"github.com/bigkaa/feedback-ledger/internal/service"
	"github.com/bigkaa/feedback-ledger/internal/storage/docstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestAPI собирает APIHandler на FileStore во временной директории.
func newTestAPI(t *testing.T) *handlers.APIHandler {
	t.Helper()
	logger := testLogger()

	store, err := docstore.NewFileStore(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	limiter, err := ratelimit.New(16)
	if err != nil {
		t.Fatal(err)
	}
	usage := service.NewUsageLedger(store, logger)
	registry := service.NewClientRegistry(store, 10, 10, logger)
	quota := service.NewQuotaLedger(store, time.Hour, logger)
	catalog := service.NewBatchCatalog(store)

	return handlers.NewAPIHandler(
		handlers.NewFeedbackHandler(service.NewFeedbackLedger(store, policy.SecondaryWins, time.Hour, usage, logger), registry, logger),
		handlers.NewClientsHandler(registry, quota),
		handlers.NewAdmissionHandler(service.NewAdmission(registry, quota, limiter, usage, 10, time.Minute, logger), limiter, usage),
		handlers.NewBatchesHandler(catalog, service.NewTrainingService(store, catalog, t.TempDir(), nil, logger)),
		handlers.NewMaintenanceHandler(scheduler.New(logger)),
		handlers.NewHealthHandler(store, "", nil),
	)
}

// newTestAuth создаёт JWTAuth с локальным JWKS и возвращает подписанный токен.
func newTestAuth(t *testing.T, scopes ...string) (*middleware.JWTAuth, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	jwks, _ := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": "k1",
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	})
	kf, err := keyfunc.NewJWKSetJSON(jwks)
	if err != nil {
		t.Fatal(err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ScopeString: strings.Join(scopes, " "),
	})
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return middleware.NewJWTAuthWithKeyfunc(kf, testLogger()), signed
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// TestRouter_NoAuth проверяет публичные endpoints и API без аутентификации.
func TestRouter_NoAuth(t *testing.T) {
	router := NewRouter(testLogger(), newTestAPI(t), nil)

	for _, path := range []string{"/health/live", "/health/ready", "/metrics", "/api/v1/feedback/stats"} {
		if rec := serve(router, http.MethodGet, path, ""); rec.Code != http.StatusOK {
			t.Errorf("%s: ожидался 200, получен %d", path, rec.Code)
		}
	}
	if rec := serve(router, http.MethodGet, "/api/v1/unknown", ""); rec.Code != http.StatusNotFound {
		t.Errorf("неизвестный маршрут: ожидался 404, получен %d", rec.Code)
	}
}

// TestRouter_JWT проверяет аутентификацию и scopes через настоящий JWT.
func TestRouter_JWT(t *testing.T) {
	auth, readToken := newTestAuth(t, middleware.ScopeRead)
	router := NewRouter(testLogger(), newTestAPI(t), auth)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"health без токена", http.MethodGet, "/health/live", "", http.StatusOK},
		{"metrics без токена", http.MethodGet, "/metrics", "", http.StatusOK},
		{"API без токена", http.MethodGet, "/api/v1/feedback/stats", "", http.StatusUnauthorized},
		{"чтение с read", http.MethodGet, "/api/v1/feedback/stats", readToken, http.StatusOK},
		{"maintenance с read", http.MethodGet, "/api/v1/maintenance", readToken, http.StatusForbidden},
		{"испорченный токен", http.MethodGet, "/api/v1/batches", readToken + "x", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := serve(router, tt.method, tt.path, tt.token); rec.Code != tt.status {
				t.Errorf("ожидался статус %d, получен %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

// TestRun_Shutdown проверяет остановку сервера по отмене контекста.
func TestRun_Shutdown(t *testing.T) {
	cfg := &config.Config{Port: 0, ShutdownTimeout: time.Second}
	srv := New(cfg, testLogger(), newTestAPI(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ожидалось штатное завершение, получено %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("сервер не остановился")
	}
}
