package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/bigkaa/feedback-ledger/internal/domain/model"
	"github.com/bigkaa/feedback-ledger/internal/storage/docstore"
)

// UsageLedger — дневной журнал использования API ("usage/<дата>").
// Записывается после основной операции отдельным ресурсом; ошибки
// журнала логируются и не влияют на результат основной операции.
type UsageLedger struct {
	store  docstore.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewUsageLedger создаёт журнал использования.
func NewUsageLedger(store docstore.Store, logger *slog.Logger) *UsageLedger {
	return &UsageLedger{
		store:  store,
		logger: logger.With(slog.String("component", "usage")),
		now:    time.Now,
	}
}

// WithClock подменяет источник времени (для тестов).
func (u *UsageLedger) WithClock(now func() time.Time) *UsageLedger {
	u.now = now
	return u
}

// RecordCall учитывает один допущенный вызов API-ключа.
func (u *UsageLedger) RecordCall(ctx context.Context, apiKey string) {
	u.record(ctx, apiKey, 1, 0)
}

// RecordDisagreement учитывает одно расхождение классификаторов.
// apiKey может быть пустым (запрос без API-ключа).
func (u *UsageLedger) RecordDisagreement(ctx context.Context, apiKey string) {
	u.record(ctx, apiKey, 0, 1)
}

// Day возвращает журнал за день.
func (u *UsageLedger) Day(ctx context.Context, day time.Time) (model.UsageDay, error) {
	return docstore.Load(ctx, u.store, usageResource(day), model.UsageDay{})
}

// Range суммирует журналы за дни [from, to).
func (u *UsageLedger) Range(ctx context.Context, from, to time.Time) (model.UsageDay, error) {
	total := model.UsageDay{Keys: map[string]model.KeyUsage{}}
	for day := from.UTC().Truncate(24 * time.Hour); day.Before(to); day = day.Add(24 * time.Hour) {
		d, err := u.Day(ctx, day)
		if err != nil {
			return total, err
		}
		total.APICalls += d.APICalls
		total.Disagreements += d.Disagreements
		for key, ku := range d.Keys {
			acc := total.Keys[key]
			acc.APICalls += ku.APICalls
			acc.Disagreements += ku.Disagreements
			total.Keys[key] = acc
		}
	}
	return total, nil
}

func (u *UsageLedger) record(ctx context.Context, apiKey string, calls, disagreements int) {
	resource := usageResource(u.now())
	err := docstore.Mutate(ctx, u.store, resource, model.UsageDay{}, func(_ context.Context, d *model.UsageDay) error {
		d.APICalls += calls
		d.Disagreements += disagreements
		if apiKey != "" {
			if d.Keys == nil {
				d.Keys = map[string]model.KeyUsage{}
			}
			ku := d.Keys[apiKey]
			ku.APICalls += calls
			ku.Disagreements += disagreements
			d.Keys[apiKey] = ku
		}
		return nil
	})
	if err != nil {
		u.logger.Warn("Ошибка записи журнала использования",
			slog.String("resource", resource),
			slog.String("error", err.Error()),
		)
	}
}
