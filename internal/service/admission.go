package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/feedback-ledger/internal/domain/model"
	"github.com/bigkaa/feedback-ledger/internal/ratelimit"
)

// Admission — допуск запроса по API-ключу: поиск клиента, блокировка,
// ограничение частоты, расход квоты. Каждая причина отказа — отдельная
// ошибка, оборачивающая ErrDenied.
type Admission struct {
	clients    *ClientRegistry
	quota      *QuotaLedger
	limiter    *ratelimit.Limiter
	usage      *UsageLedger
	rateLimit  int
	rateWindow time.Duration
	logger     *slog.Logger
}

// NewAdmission создаёт сервис допуска. usage может быть nil.
func NewAdmission(
	clients *ClientRegistry,
	quota *QuotaLedger,
	limiter *ratelimit.Limiter,
	usage *UsageLedger,
	rateLimit int,
	rateWindow time.Duration,
	logger *slog.Logger,
) *Admission {
	return &Admission{
		clients:    clients,
		quota:      quota,
		limiter:    limiter,
		usage:      usage,
		rateLimit:  rateLimit,
		rateWindow: rateWindow,
		logger:     logger.With(slog.String("component", "admission")),
	}
}

// Admit допускает один запрос класса class по API-ключу.
//
// Ошибки:
//   - ErrNotFound — ключ неизвестен
//   - ErrClientBlocked — клиент заблокирован
//   - ErrRateLimited — превышена частота запросов ключа
//   - ErrQuotaExceeded — квота исчерпана
func (a *Admission) Admit(ctx context.Context, apiKey string, class model.MediaClass) (*model.Client, Decision, error) {
	client, err := a.clients.FindByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, Decision{}, err
	}
	if client.Status == model.ClientBlocked {
		admissionDenialsTotal.WithLabelValues("blocked").Inc()
		return client, Decision{Class: class}, ErrClientBlocked
	}

	if !a.limiter.Allow(apiKey, a.rateLimit, a.rateWindow) {
		admissionDenialsTotal.WithLabelValues("rate_limited").Inc()
		a.logger.Debug("Превышена частота запросов",
			slog.String("client_id", client.ClientID),
		)
		return client, Decision{Class: class}, ErrRateLimited
	}

	decision, err := a.quota.Consume(ctx, client.ClientID, class)
	if err != nil {
		if errors.Is(err, ErrClientBlocked) {
			admissionDenialsTotal.WithLabelValues("blocked").Inc()
		}
		return client, decision, err
	}
	if !decision.Admitted {
		admissionDenialsTotal.WithLabelValues("quota").Inc()
		return client, decision, fmt.Errorf("%w: %s %d/%d", ErrQuotaExceeded, class, decision.Used, decision.Limit)
	}

	if a.usage != nil {
		a.usage.RecordCall(ctx, apiKey)
	}
	return client, decision, nil
}

// RetryAfter возвращает время до сброса окна частоты ключа.
func (a *Admission) RetryAfter(apiKey string) time.Duration {
	resetAt := a.limiter.ResetAt(apiKey, a.rateWindow)
	if resetAt.IsZero() {
		return 0
	}
	return max(time.Until(resetAt), 0)
}

// Remaining возвращает остаток запросов ключа в текущем окне.
func (a *Admission) Remaining(apiKey string) int {
	return a.limiter.Remaining(apiKey, a.rateLimit, a.rateWindow)
}
