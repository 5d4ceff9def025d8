// admission.go — допуск запросов по API-ключу, ограничитель частоты
// и журнал использования.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/feedback-ledger/internal/api/errors"
	"github.com/bigkaa/feedback-ledger/internal/domain/model"
	"github.com/bigkaa/feedback-ledger/internal/ratelimit"
	"github.com/bigkaa/feedback-ledger/internal/service"
)

// maxUsageRange — предельная длина периода GET /admin/usage.
const maxUsageRange = 366 * 24 * time.Hour

// AdmissionHandler — обработчики /admission, /ratelimit и /admin/usage.
type AdmissionHandler struct {
	admission *service.Admission
	limiter   *ratelimit.Limiter
	usage     *service.UsageLedger
	now       func() time.Time
}

// NewAdmissionHandler создаёт обработчик допуска.
func NewAdmissionHandler(
	admission *service.Admission,
	limiter *ratelimit.Limiter,
	usage *service.UsageLedger,
) *AdmissionHandler {
	return &AdmissionHandler{
		admission: admission,
		limiter:   limiter,
		usage:     usage,
		now:       time.Now,
	}
}

// admitResponse — ответ POST /admission/{class}.
type admitResponse struct {
	ClientID      string           `json:"client_id"`
	Decision      service.Decision `json:"decision"`
	RateRemaining int              `json:"rate_remaining"`
}

// allowRequest — тело POST /ratelimit/allow.
type allowRequest struct {
	Key    string `json:"key"`
	Limit  int    `json:"limit"`
	Window string `json:"window"`
}

// allowResponse — ответ POST /ratelimit/allow.
type allowResponse struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Admit обрабатывает POST /api/v1/admission/{class} с заголовком X-API-Key.
func (h *AdmissionHandler) Admit(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get(apiKeyHeader)
	if apiKey == "" {
		apierrors.Unauthorized(w, "Отсутствует заголовок "+apiKeyHeader)
		return
	}
	class, err := model.ParseMediaClass(chi.URLParam(r, "class"))
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	client, decision, err := h.admission.Admit(r.Context(), apiKey, class)
	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.Unauthorized(w, "Неизвестный API-ключ")
		return
	case errors.Is(err, service.ErrRateLimited):
		apierrors.RateLimited(w, h.admission.RetryAfter(apiKey), err.Error())
		return
	case errors.Is(err, service.ErrQuotaExceeded):
		apierrors.QuotaExceeded(w, decision.ResetAt.Sub(h.now()), err.Error())
		return
	case err != nil:
		apierrors.FromError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, admitResponse{
		ClientID:      client.ClientID,
		Decision:      decision,
		RateRemaining: h.admission.Remaining(apiKey),
	})
}

// Allow обрабатывает POST /api/v1/ratelimit/allow.
// Отказ — 429 с Retry-After до конца окна ключа.
func (h *AdmissionHandler) Allow(w http.ResponseWriter, r *http.Request) {
	var req allowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	window, err := time.ParseDuration(req.Window)
	if err != nil || window <= 0 {
		apierrors.ValidationError(w, "Некорректное окно: ожидается положительная длительность, например 1m")
		return
	}
	if req.Key == "" || req.Limit <= 0 {
		apierrors.ValidationError(w, "Ключ не должен быть пустым, лимит должен быть положительным")
		return
	}

	allowed := h.limiter.Allow(req.Key, req.Limit, window)
	resp := allowResponse{
		Allowed:   allowed,
		Remaining: h.limiter.Remaining(req.Key, req.Limit, window),
		ResetAt:   h.limiter.ResetAt(req.Key, window),
	}
	if !allowed {
		apierrors.RateLimited(w, resp.ResetAt.Sub(h.now()), "Превышена частота запросов ключа "+req.Key)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Usage обрабатывает GET /api/v1/admin/usage?from=&to= (RFC 3339).
// По умолчанию — последние 7 суток.
func (h *AdmissionHandler) Usage(w http.ResponseWriter, r *http.Request) {
	var from, to *time.Time
	if err := runtime.BindQueryParameter("form", true, false, "from", r.URL.Query(), &from); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр from: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "to", r.URL.Query(), &to); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр to: "+err.Error())
		return
	}

	end := h.now().UTC()
	if to != nil {
		end = *to
	}
	start := end.Add(-7 * 24 * time.Hour)
	if from != nil {
		start = *from
	}
	if !start.Before(end) || end.Sub(start) > maxUsageRange {
		apierrors.ValidationError(w, "Некорректный период: from должен быть раньше to, не более 366 суток")
		return
	}

	day, err := h.usage.Range(r.Context(), start, end)
	if err != nil {
		apierrors.FromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}
