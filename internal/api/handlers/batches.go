// batches.go — каталог пакетов переобучения и ручной запуск тренера.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/feedback-ledger/internal/api/errors"
	"github.com/bigkaa/feedback-ledger/internal/domain/model"
	"github.com/bigkaa/feedback-ledger/internal/service"
)

// BatchesHandler — обработчики /batches и /admin/batches.
type BatchesHandler struct {
	catalog  *service.BatchCatalog
	training *service.TrainingService
}

// NewBatchesHandler создаёт обработчик каталога пакетов.
func NewBatchesHandler(catalog *service.BatchCatalog, training *service.TrainingService) *BatchesHandler {
	return &BatchesHandler{catalog: catalog, training: training}
}

// List обрабатывает GET /api/v1/batches.
func (h *BatchesHandler) List(w http.ResponseWriter, r *http.Request) {
	batches, err := h.catalog.List(r.Context())
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	if batches == nil {
		batches = []model.RetrainBatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": batches, "total": len(batches)})
}

// Get обрабатывает GET /api/v1/batches/{id}; id — идентификатор или имя пакета.
func (h *BatchesHandler) Get(w http.ResponseWriter, r *http.Request) {
	batch, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// Train обрабатывает POST /api/v1/admin/batches/{id}/train.
// Запуск синхронный: ответ приходит после завершения тренера.
func (h *BatchesHandler) Train(w http.ResponseWriter, r *http.Request) {
	run, err := h.training.Train(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Runs обрабатывает GET /api/v1/admin/training-runs.
func (h *BatchesHandler) Runs(w http.ResponseWriter, r *http.Request) {
	runs, err := h.training.Runs(r.Context())
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	if runs == nil {
		runs = []model.TrainingRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": runs, "total": len(runs)})
}
