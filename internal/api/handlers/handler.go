// handler.go — APIHandler собирает доменные обработчики и монтирует
// маршруты /api/v1 на роутер chi.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/feedback-ledger/internal/api/errors"
	"github.com/bigkaa/feedback-ledger/internal/api/middleware"
)

// maxBodyBytes — предельный размер JSON-тела запроса.
const maxBodyBytes = 1 << 20

// ScopeGuard возвращает middleware проверки scope. Если аутентификация
// отключена, сервер передаёт guard без проверок.
type ScopeGuard func(scope string) func(http.Handler) http.Handler

// NoAuth — ScopeGuard, пропускающий все запросы.
func NoAuth(string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}

// APIHandler — единая точка монтирования всех endpoints.
type APIHandler struct {
	feedback    *FeedbackHandler
	clients     *ClientsHandler
	admission   *AdmissionHandler
	batches     *BatchesHandler
	maintenance *MaintenanceHandler
	health      *HealthHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	feedback *FeedbackHandler,
	clients *ClientsHandler,
	admission *AdmissionHandler,
	batches *BatchesHandler,
	maintenance *MaintenanceHandler,
	health *HealthHandler,
) *APIHandler {
	return &APIHandler{
		feedback:    feedback,
		clients:     clients,
		admission:   admission,
		batches:     batches,
		maintenance: maintenance,
		health:      health,
	}
}

// Mount регистрирует маршруты на роутере. authenticate — middleware
// аутентификации (nil — без аутентификации), guard — проверка scope.
func (h *APIHandler) Mount(r chi.Router, authenticate func(http.Handler) http.Handler, guard ScopeGuard) {
	if guard == nil {
		guard = NoAuth
	}

	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)

	r.Route("/api/v1", func(r chi.Router) {
		// Допуск по API-ключу: ключ сам является учётными данными
		r.Post("/admission/{class}", h.admission.Admit)

		r.Group(func(r chi.Router) {
			if authenticate != nil {
				r.Use(authenticate)
			}

			r.With(guard(middleware.ScopeWrite)).Post("/predictions", h.feedback.RecordPrediction)
			r.With(guard(middleware.ScopeWrite)).Post("/feedback", h.feedback.SubmitFeedback)
			r.With(guard(middleware.ScopeWrite)).Post("/feedback/bulk", h.feedback.SubmitBulkFeedback)
			r.With(guard(middleware.ScopeRead)).Get("/feedback/recent", h.feedback.Recent)
			r.With(guard(middleware.ScopeRead)).Get("/feedback/pending", h.feedback.Pending)
			r.With(guard(middleware.ScopeRead)).Get("/feedback/stats", h.feedback.Stats)
			r.With(guard(middleware.ScopeRead)).Get("/feedback/{id}", h.feedback.Get)

			r.With(guard(middleware.ScopeAdmin)).Post("/clients", h.clients.Create)
			r.With(guard(middleware.ScopeAdmin)).Get("/clients", h.clients.List)
			r.With(guard(middleware.ScopeAdmin)).Post("/clients/block", h.clients.Block)
			r.With(guard(middleware.ScopeAdmin)).Post("/clients/unblock", h.clients.Unblock)
			r.With(guard(middleware.ScopeAdmin)).Put("/clients/{id}/limits", h.clients.SetLimits)
			r.With(guard(middleware.ScopeRead)).Get("/clients/lookup", h.clients.Lookup)
			r.With(guard(middleware.ScopeWrite)).Post("/clients/{id}/quota/{class}", h.clients.Consume)

			r.With(guard(middleware.ScopeWrite)).Post("/ratelimit/allow", h.admission.Allow)

			r.With(guard(middleware.ScopeRead)).Get("/batches", h.batches.List)
			r.With(guard(middleware.ScopeRead)).Get("/batches/{id}", h.batches.Get)

			r.Route("/admin", func(r chi.Router) {
				r.Use(guard(middleware.ScopeAdmin))
				r.Post("/feedback/{id}/approve", h.feedback.AdminApprove)
				r.Post("/feedback/{id}/label", h.feedback.AdminLabel)
				r.Get("/audit", h.feedback.AuditLog)
				r.Get("/usage", h.admission.Usage)
				r.Post("/batches/{id}/train", h.batches.Train)
				r.Get("/training-runs", h.batches.Runs)
			})

			r.With(guard(middleware.ScopeAdmin)).Get("/maintenance", h.maintenance.List)
			r.With(guard(middleware.ScopeAdmin)).Post("/maintenance/{job}", h.maintenance.Run)
		})
	})
}

// writeJSON сериализует v в тело ответа с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON читает JSON-тело запроса в dst. Неизвестные поля отклоняются.
// При ошибке ответ 400 уже записан и возвращается false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %v", err))
		return false
	}
	return true
}

// userOrSubject возвращает пользователя из запроса или, если он не указан,
// subject токена.
func userOrSubject(r *http.Request, user string) string {
	if user != "" {
		return user
	}
	return middleware.UserFromContext(r.Context())
}
