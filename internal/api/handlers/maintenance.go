// maintenance.go — ручной запуск задач планировщика.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/feedback-ledger/internal/api/errors"
	"github.com/bigkaa/feedback-ledger/internal/scheduler"
)

// JobRunner — интерфейс запуска задач.
// Позволяет тестировать handler без полного Scheduler.
type JobRunner interface {
	// RunNow выполняет задачу синхронно. Если задача уже выполняется,
	// возвращает skipped=true и service.ErrJobRunning.
	RunNow(ctx context.Context, name string) (skipped bool, err error)
	// Jobs возвращает состояние зарегистрированных задач.
	Jobs() []scheduler.JobInfo
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	runner JobRunner
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(runner JobRunner) *MaintenanceHandler {
	return &MaintenanceHandler{runner: runner}
}

// runResponse — результат ручного запуска.
type runResponse struct {
	Job         string    `json:"job"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// List обрабатывает GET /api/v1/maintenance.
func (h *MaintenanceHandler) List(w http.ResponseWriter, _ *http.Request) {
	jobs := h.runner.Jobs()
	writeJSON(w, http.StatusOK, map[string]any{"items": jobs, "total": len(jobs)})
}

// Run обрабатывает POST /api/v1/maintenance/{job}.
// Задача выполняется синхронно. Если она уже выполняется — 409 JOB_RUNNING,
// неизвестная задача — 404.
func (h *MaintenanceHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")
	started := time.Now().UTC()

	if _, err := h.runner.RunNow(r.Context(), name); err != nil {
		apierrors.FromError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		Job:         name,
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
	})
}
