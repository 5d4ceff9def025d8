// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/bigkaa/feedback-ledger/internal/config"
	"github.com/bigkaa/feedback-ledger/internal/storage/uploads"
)

const (
	statusOK       = "ok"
	statusFail     = "fail"
	statusDegraded = "degraded"
)

// diskWarnPercent — заполненность диска, при которой готовность degraded.
const diskWarnPercent = 95.0

// pingTimeout — таймаут проверки хранилища.
const pingTimeout = 3 * time.Second

// Pinger — проверка доступности хранилища документов.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LeaderStatus — состояние блокировки лидера планировщика.
type LeaderStatus interface {
	IsLeader() bool
	Holder() string
}

// DependencyHealth — состояние внешних зависимостей из topologymetrics.
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	store   Pinger
	// diskPath — директория, ёмкость которой проверяется (данные или загрузки)
	diskPath string
	// leader — nil, если блокировка лидера не используется
	leader LeaderStatus
	// deps — nil, если мониторинг зависимостей не запущен
	deps DependencyHealth
}

// NewHealthHandler создаёт обработчик health endpoints.
// diskPath может быть пустым, leader — nil.
func NewHealthHandler(store Pinger, diskPath string, leader LeaderStatus) *HealthHandler {
	return &HealthHandler{
		version:  config.Version,
		store:    store,
		diskPath: diskPath,
		leader:   leader,
	}
}

// WithDependencies добавляет в /health/ready состояние зависимостей.
func (h *HealthHandler) WithDependencies(deps DependencyHealth) *HealthHandler {
	h.deps = deps
	return h
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "feedback-ledger",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Недоступное хранилище — 503; переполненный диск — degraded с кодом 200.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	overallStatus := statusOK
	httpStatus := http.StatusOK

	storeCheck := h.checkStore(r.Context())
	if storeCheck["status"] != statusOK {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	diskCheck := h.checkDisk(r.Context())
	if diskCheck["status"] != statusOK && overallStatus != statusFail {
		overallStatus = statusDegraded
	}

	checks := map[string]any{
		"store": storeCheck,
		"disk":  diskCheck,
	}
	if h.deps != nil {
		depsCheck := h.checkDependencies()
		if depsCheck["status"] != statusOK && overallStatus == statusOK {
			overallStatus = statusDegraded
		}
		checks["dependencies"] = depsCheck
	}
	if h.leader != nil {
		checks["scheduler"] = map[string]any{
			"status": statusOK,
			"leader": h.leader.IsLeader(),
			"holder": h.leader.Holder(),
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "feedback-ledger",
		"checks":    checks,
	})
}

// checkStore проверяет доступность хранилища документов.
func (h *HealthHandler) checkStore(ctx context.Context) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Хранилище недоступно: " + err.Error(),
		}
	}
	return map[string]any{"status": statusOK}
}

// checkDependencies сводит состояние зависимостей. Сбой любой из них —
// degraded, код ответа остаётся 200.
func (h *HealthHandler) checkDependencies() map[string]any {
	items := h.deps.Health()
	status := statusOK
	for _, ok := range items {
		if !ok {
			status = statusDegraded
			break
		}
	}
	return map[string]any{
		"status": status,
		"items":  items,
	}
}

// checkDisk проверяет заполненность файловой системы.
func (h *HealthHandler) checkDisk(ctx context.Context) map[string]any {
	if h.diskPath == "" {
		return map[string]any{
			"status":  statusOK,
			"message": "Проверка не настроена",
		}
	}

	usage, err := uploads.DiskUsage(ctx, h.diskPath)
	if err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": err.Error(),
		}
	}

	status := statusOK
	if usage.UsedPercent >= diskWarnPercent {
		status = statusDegraded
	}
	return map[string]any{
		"status":       status,
		"path":         h.diskPath,
		"used_percent": usage.UsedPercent,
		"free":         usage.Free,
	}
}
