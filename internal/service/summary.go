package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/bigkaa/feedback-ledger/internal/domain/model"
	"github.com/bigkaa/feedback-ledger/internal/storage/docstore"
)

// summaryPeriod — период еженедельного отчёта.
const summaryPeriod = 7 * 24 * time.Hour

// SummaryService — еженедельный отчёт по использованию и отзывам.
// Отчёт сохраняется документом reports/weekly-<дата>.
type SummaryService struct {
	store  docstore.Store
	usage  *UsageLedger
	logger *slog.Logger
	now    func() time.Time
}

// NewSummaryService создаёт сервис отчётов.
func NewSummaryService(store docstore.Store, usage *UsageLedger, logger *slog.Logger) *SummaryService {
	return &SummaryService{
		store:  store,
		usage:  usage,
		logger: logger.With(slog.String("component", "summary")),
		now:    time.Now,
	}
}

// WithClock подменяет источник времени (для тестов).
func (s *SummaryService) WithClock(now func() time.Time) *SummaryService {
	s.now = now
	return s
}

// Generate собирает отчёт за последние 7 дней и сохраняет его.
// Оценки считаются по записям, созданным в периоде; одобрения — по
// времени одобрения; размеры корзин — на момент построения.
func (s *SummaryService) Generate(ctx context.Context) (*model.WeeklySummary, error) {
	end := s.now().UTC()
	start := end.Add(-summaryPeriod)

	summary := &model.WeeklySummary{
		GeneratedAt: end,
		PeriodStart: start,
		PeriodEnd:   end,
	}

	usage, err := s.usage.Range(ctx, start, end)
	if err != nil {
		return nil, err
	}
	summary.APICalls = usage.APICalls
	summary.Disagreements = usage.Disagreements

	feedback, err := docstore.Load(ctx, s.store, resourceFeedback, model.FeedbackDocument{})
	if err != nil {
		return nil, err
	}
	for _, rec := range feedback.Records {
		if within(rec.CreatedAt, start, end) {
			countChoice(&summary.Feedback, rec.Chosen)
		}
		if rec.AdminApprovedAt != nil && within(*rec.AdminApprovedAt, start, end) {
			summary.Approved++
		}
		if rec.AutoApprovedAt != nil && within(*rec.AutoApprovedAt, start, end) {
			summary.AutoApproved++
		}
	}

	batches, err := docstore.Load(ctx, s.store, resourceBatches, model.BatchesDocument{})
	if err != nil {
		return nil, err
	}
	for _, b := range batches.Batches {
		if within(b.CreatedAt, start, end) {
			summary.BatchesEmitted++
		}
	}

	sectors, err := docstore.Load(ctx, s.store, resourceSectors, emptyBuckets())
	if err != nil {
		return nil, err
	}
	summary.SectorSizes = sectors.Sizes()

	resource := reportResource(end)
	if err := docstore.Save(ctx, s.store, resource, summary); err != nil {
		return nil, err
	}

	s.logger.Info("Еженедельный отчёт сформирован",
		slog.String("resource", resource),
		slog.Int("api_calls", summary.APICalls),
		slog.Int("disagreements", summary.Disagreements),
		slog.Int("approved", summary.Approved),
		slog.Int("auto_approved", summary.AutoApproved),
		slog.Int("batches_emitted", summary.BatchesEmitted),
	)
	return summary, nil
}

// within проверяет t ∈ [start, end).
func within(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}
