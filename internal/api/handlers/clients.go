// clients.go — обработчики реестра API-клиентов и квот.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/feedback-ledger/internal/api/errors"
	"github.com/bigkaa/feedback-ledger/internal/domain/model"
	"github.com/bigkaa/feedback-ledger/internal/service"
)

// apiKeyHeader — заголовок с API-ключом клиента.
const apiKeyHeader = "X-API-Key"

// ClientsHandler — обработчики /clients.
type ClientsHandler struct {
	registry *service.ClientRegistry
	quota    *service.QuotaLedger
	now      func() time.Time
}

// NewClientsHandler создаёт обработчик реестра клиентов.
func NewClientsHandler(registry *service.ClientRegistry, quota *service.QuotaLedger) *ClientsHandler {
	return &ClientsHandler{registry: registry, quota: quota, now: time.Now}
}

type emailRequest struct {
	Email string `json:"email"`
}

type limitsRequest struct {
	ImageLimit int `json:"image_limit"`
	VideoLimit int `json:"video_limit"`
}

// Create обрабатывает POST /api/v1/clients. Ответ содержит API-ключ.
func (h *ClientsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	client, err := h.registry.Create(r.Context(), req.Email)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, client)
}

// List обрабатывает GET /api/v1/clients.
func (h *ClientsHandler) List(w http.ResponseWriter, r *http.Request) {
	clients, err := h.registry.List(r.Context())
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	if clients == nil {
		clients = []model.Client{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": clients, "total": len(clients)})
}

// Block обрабатывает POST /api/v1/clients/block.
func (h *ClientsHandler) Block(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.registry.Block)
}

// Unblock обрабатывает POST /api/v1/clients/unblock.
func (h *ClientsHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.registry.Unblock)
}

func (h *ClientsHandler) setStatus(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, email string) (bool, error),
) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	found, err := apply(r.Context(), req.Email)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	if !found {
		apierrors.NotFound(w, "Клиенты с email "+req.Email+" не найдены")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// SetLimits обрабатывает PUT /api/v1/clients/{id}/limits.
func (h *ClientsHandler) SetLimits(w http.ResponseWriter, r *http.Request) {
	var req limitsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	client, err := h.registry.SetLimits(r.Context(), chi.URLParam(r, "id"), req.ImageLimit, req.VideoLimit)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

// Lookup обрабатывает GET /api/v1/clients/lookup с заголовком X-API-Key.
func (h *ClientsHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	client, err := h.registry.FindByAPIKey(r.Context(), r.Header.Get(apiKeyHeader))
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

// Consume обрабатывает POST /api/v1/clients/{id}/quota/{class}.
// Отказ по квоте — 429 с Retry-After до сброса окна.
func (h *ClientsHandler) Consume(w http.ResponseWriter, r *http.Request) {
	class := model.MediaClass(chi.URLParam(r, "class"))
	decision, err := h.quota.Consume(r.Context(), chi.URLParam(r, "id"), class)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	if !decision.Admitted {
		apierrors.QuotaExceeded(w, decision.ResetAt.Sub(h.now()), quotaMessage(decision))
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func quotaMessage(d service.Decision) string {
	return "Квота " + string(d.Class) + " исчерпана: " + strconv.Itoa(d.Used) + "/" + strconv.Itoa(d.Limit)
}
