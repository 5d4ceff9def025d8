// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// feedback-ledger мониторит:
//   - JWKS endpoint провайдера токенов (HTTP GET, critical), если задан LEDGER_JWKS_URL
//   - PostgreSQL (connection pool mode, critical), если LEDGER_STORE=postgres
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoDependencies — нечего мониторить (нет JWKS и PostgreSQL).
var ErrNoDependencies = errors.New("нет зависимостей для мониторинга")

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа текущего приложения
	ServiceID string
	// Group — имя группы в метриках (LEDGER_DEPHEALTH_GROUP)
	Group string
	// JWKSUrl — URL JWKS endpoint (пусто — не мониторится)
	JWKSUrl string
	// DB — *sql.DB поверх pgxpool (nil — PostgreSQL не мониторится)
	DB *sql.DB
	// DatabaseURL — DSN PostgreSQL (для меток, не для подключения)
	DatabaseURL string
	// CheckInterval — интервал проверки (LEDGER_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(cfg, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	cfg DephealthConfig,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(cfg, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(cfg DephealthConfig, logger *slog.Logger, extraOpts ...dephealth.Option) (*DephealthService, error) {
	var deps []dephealth.Option
	if cfg.JWKSUrl != "" {
		deps = append(deps, jwksDependency(cfg))
	}
	if cfg.DB != nil {
		deps = append(deps, postgresDependency(cfg))
	}
	if len(deps) == 0 {
		return nil, ErrNoDependencies
	}

	opts := append([]dephealth.Option{dephealth.WithLogger(logger)}, deps...)
	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, append(opts, extraOpts...)...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// jwksDependency — HTTP-проверка JWKS провайдера токенов операторов (critical).
func jwksDependency(cfg DephealthConfig) dephealth.Option {
	opts := []dephealth.DependencyOption{
		dephealth.FromURL(cfg.JWKSUrl),
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(true),
	}
	if parsed, err := url.Parse(cfg.JWKSUrl); err == nil && parsed.Scheme == "https" {
		opts = append(opts, dephealth.WithHTTPTLSSkipVerify(false))
	}
	return dephealth.HTTP("jwks", opts...)
}

// postgresDependency — проверка хранилища документов через общий пул.
func postgresDependency(cfg DephealthConfig) dephealth.Option {
	return dephealth.AddDependency("postgresql", dephealth.TypePostgres,
		pgcheck.New(pgcheck.WithDB(cfg.DB)),
		dephealth.FromURL(cfg.DatabaseURL),
		dephealth.CheckInterval(cfg.CheckInterval),
		dephealth.Critical(true),
	)
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
