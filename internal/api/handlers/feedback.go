// feedback.go — обработчики архива предсказаний и пользовательских оценок.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/feedback-ledger/internal/api/errors"
	"github.com/bigkaa/feedback-ledger/internal/api/middleware"
	"github.com/bigkaa/feedback-ledger/internal/service"
)

// defaultAdminUser — имя администратора, если аутентификация отключена.
const defaultAdminUser = "admin"

// FeedbackHandler — обработчики /predictions, /feedback и /admin/feedback.
type FeedbackHandler struct {
	ledger  *service.FeedbackLedger
	clients *service.ClientRegistry
	logger  *slog.Logger
}

// NewFeedbackHandler создаёт обработчик архива. clients проверяет
// X-API-Key перед учётом в журнале использования.
func NewFeedbackHandler(ledger *service.FeedbackLedger, clients *service.ClientRegistry, logger *slog.Logger) *FeedbackHandler {
	return &FeedbackHandler{
		ledger:  ledger,
		clients: clients,
		logger:  logger.With(slog.String("component", "feedback_handler")),
	}
}

// submitRequest — тело POST /feedback.
type submitRequest struct {
	User string `json:"user"`
	service.FeedbackEntry
}

// bulkRequest — тело POST /feedback/bulk.
type bulkRequest struct {
	User    string                  `json:"user"`
	Entries []service.FeedbackEntry `json:"entries"`
}

// approveRequest — тело POST /admin/feedback/{id}/approve (может быть пустым).
type approveRequest struct {
	OverrideLabel string `json:"override_label"`
	Reason        string `json:"reason"`
}

// labelRequest — тело POST /admin/feedback/{id}/label.
type labelRequest struct {
	Label string `json:"label"`
}

// RecordPrediction обрабатывает POST /api/v1/predictions.
// Заголовок X-API-Key учитывается в журнале использования, только если
// ключ принадлежит зарегистрированному клиенту.
func (h *FeedbackHandler) RecordPrediction(w http.ResponseWriter, r *http.Request) {
	var in service.PredictionInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.User = userOrSubject(r, in.User)
	in.APIKey = h.verifiedAPIKey(r)

	rec, err := h.ledger.RecordPrediction(r.Context(), in)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// verifiedAPIKey возвращает X-API-Key зарегистрированного клиента или
// пустую строку.
func (h *FeedbackHandler) verifiedAPIKey(r *http.Request) string {
	key := r.Header.Get(apiKeyHeader)
	if key == "" || h.clients == nil {
		return ""
	}
	if _, err := h.clients.FindByAPIKey(r.Context(), key); err != nil {
		h.logger.Warn("X-API-Key не учтён в журнале использования",
			slog.String("error", err.Error()),
		)
		return ""
	}
	return key
}

// SubmitFeedback обрабатывает POST /api/v1/feedback.
// Отклонённая оценка — 200 с accepted=false: причина пишется в лог сервиса.
func (h *FeedbackHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	accepted, err := h.ledger.SubmitFeedback(r.Context(), userOrSubject(r, req.User), req.FeedbackEntry)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

// SubmitBulkFeedback обрабатывает POST /api/v1/feedback/bulk.
func (h *FeedbackHandler) SubmitBulkFeedback(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.ledger.SubmitBulkFeedback(r.Context(), userOrSubject(r, req.User), req.Entries)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": updated})
}

// Recent обрабатывает GET /api/v1/feedback/recent?limit=N.
// Без limit возвращается service.DefaultRecentLimit записей.
func (h *FeedbackHandler) Recent(w http.ResponseWriter, r *http.Request) {
	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр limit: "+err.Error())
		return
	}
	n := service.DefaultRecentLimit
	if limit != nil {
		n = *limit
	}

	records, err := h.ledger.RecentFeedback(r.Context(), n)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records, "total": len(records)})
}

// Pending обрабатывает GET /api/v1/feedback/pending?user=U.
func (h *FeedbackHandler) Pending(w http.ResponseWriter, r *http.Request) {
	user := userOrSubject(r, r.URL.Query().Get("user"))
	records, err := h.ledger.PendingFeedback(r.Context(), user)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records, "total": len(records)})
}

// Stats обрабатывает GET /api/v1/feedback/stats?user=U.
// Без user — статистика по всем пользователям.
func (h *FeedbackHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.ledger.FeedbackStats(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// Get обрабатывает GET /api/v1/feedback/{id}.
func (h *FeedbackHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// AdminApprove обрабатывает POST /api/v1/admin/feedback/{id}/approve.
// Администратор — subject токена.
func (h *FeedbackHandler) AdminApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")

	approved, err := h.ledger.AdminApprove(r.Context(), id, adminUser(r), req.OverrideLabel, req.Reason)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	if !approved {
		apierrors.NotFound(w, "Запись "+id+" не найдена")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"approved": true})
}

// AdminLabel обрабатывает POST /api/v1/admin/feedback/{id}/label.
// Недопустимая метка, неизвестная или уже рассмотренная запись — applied=false.
func (h *FeedbackHandler) AdminLabel(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	applied, err := h.ledger.AdminLabel(r.Context(), chi.URLParam(r, "id"), req.Label, adminUser(r))
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

// AuditLog обрабатывает GET /api/v1/admin/audit.
func (h *FeedbackHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.AuditLog(r.Context())
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries, "total": len(entries)})
}

func adminUser(r *http.Request) string {
	if sub := middleware.UserFromContext(r.Context()); sub != "" {
		return sub
	}
	return defaultAdminUser
}
