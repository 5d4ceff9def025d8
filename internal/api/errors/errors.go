// Пакет errors — ответы с ошибками в едином формате feedback-ledger.
// Формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromError.
package errors //nolint:revive // конфликт имени со stdlib, импортируется как apierrors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bigkaa/feedback-ledger/internal/service"
	"github.com/bigkaa/feedback-ledger/internal/storage/docstore"
	"github.com/bigkaa/feedback-ledger/internal/trainer"
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeJobRunning      = "JOB_RUNNING"
	CodeRateLimited     = "RATE_LIMITED"
	CodeQuotaExceeded   = "QUOTA_EXCEEDED"
	CodeClientBlocked   = "CLIENT_BLOCKED"
	CodeNotConfigured   = "NOT_CONFIGURED"
	CodeTrainerFailed   = "TRAINER_FAILED"
	CodeStorageError    = "STORAGE_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// JobRunning — 409 задача уже выполняется.
func JobRunning(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeJobRunning, message)
}

// RateLimited — 429 превышена частота запросов, с заголовком Retry-After.
func RateLimited(w http.ResponseWriter, retryAfter time.Duration, message string) {
	setRetryAfter(w, retryAfter)
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// QuotaExceeded — 429 квота исчерпана; Retry-After — до сброса окна квоты.
func QuotaExceeded(w http.ResponseWriter, retryAfter time.Duration, message string) {
	if retryAfter > 0 {
		setRetryAfter(w, retryAfter)
	}
	WriteError(w, http.StatusTooManyRequests, CodeQuotaExceeded, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// setRetryAfter округляет задержку вверх до целых секунд, минимум 1.
func setRetryAfter(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int((retryAfter + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
}

// FromError сопоставляет ошибку сервисного слоя с HTTP-ответом.
// Для ErrRateLimited заголовок Retry-After выставляет вызывающий код
// через RateLimited: FromError не знает момента сброса окна.
func FromError(w http.ResponseWriter, err error) {
	var procErr *trainer.ExternalProcessError

	switch {
	case stderrors.Is(err, service.ErrInvalidInput), stderrors.Is(err, docstore.ErrInvalidName):
		ValidationError(w, err.Error())
	case stderrors.Is(err, service.ErrNotFound), stderrors.Is(err, docstore.ErrNotFound):
		NotFound(w, err.Error())
	case stderrors.Is(err, service.ErrJobRunning):
		JobRunning(w, err.Error())
	case stderrors.Is(err, service.ErrConflict):
		WriteError(w, http.StatusConflict, CodeConflict, err.Error())
	case stderrors.Is(err, service.ErrRateLimited):
		RateLimited(w, 0, err.Error())
	case stderrors.Is(err, service.ErrQuotaExceeded):
		QuotaExceeded(w, 0, err.Error())
	case stderrors.Is(err, service.ErrClientBlocked):
		WriteError(w, http.StatusForbidden, CodeClientBlocked, err.Error())
	case stderrors.Is(err, trainer.ErrNotConfigured):
		WriteError(w, http.StatusServiceUnavailable, CodeNotConfigured, err.Error())
	case stderrors.As(err, &procErr):
		WriteError(w, http.StatusBadGateway, CodeTrainerFailed, err.Error())
	case stderrors.Is(err, docstore.ErrIO), stderrors.Is(err, docstore.ErrCorrupt):
		WriteError(w, http.StatusInternalServerError, CodeStorageError, err.Error())
	default:
		InternalError(w, err.Error())
	}
}
