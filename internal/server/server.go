// Пакет server — HTTP-сервер feedback-ledger с graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/feedback-ledger/internal/api/handlers"
	"github.com/bigkaa/feedback-ledger/internal/api/middleware"
	"github.com/bigkaa/feedback-ledger/internal/config"
)

// Server — HTTP-сервер feedback-ledger.
type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// auth == nil отключает аутентификацию: все маршруты /api/v1 доступны без токена.
func New(cfg *config.Config, logger *slog.Logger, api *handlers.APIHandler, auth *middleware.JWTAuth) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewRouter(logger, api, auth),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger:          logger.With(slog.String("component", "server")),
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// NewRouter собирает роутер: логирование, метрики, /metrics и маршруты API.
func NewRouter(logger *slog.Logger, api *handlers.APIHandler, auth *middleware.JWTAuth) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	router.Handle("/metrics", promhttp.Handler())

	if auth != nil {
		api.Mount(router, auth.Middleware(), middleware.RequireScope)
	} else {
		api.Mount(router, nil, handlers.NoAuth)
	}
	return router
}

// Run запускает сервер и блокируется до отмены ctx или ошибки listener.
// После отмены ctx выполняется graceful shutdown с таймаутом из конфигурации.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Получен сигнал завершения")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	}

	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...", slog.Duration("timeout", timeout))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
