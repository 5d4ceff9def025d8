package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bigkaa/feedback-ledger/internal/config"
	"github.com/bigkaa/feedback-ledger/internal/service"
	"github.com/bigkaa/feedback-ledger/internal/storage/wal"
)

// Имена задач. Используются в настройках (schedules) и в API ручного запуска.
const (
	JobRetention     = "retention"
	JobDeadlines     = "deadlines"
	JobWeeklySummary = "weekly_summary"
	JobApprovedBatch = "approved_batch"
	JobWALCleanup    = "wal_cleanup"
)

// Расписания по умолчанию.
const (
	DefaultRetentionSpec     = "@every 1h"
	DefaultDeadlinesSpec     = "0 5 * * *"
	DefaultApprovedBatchSpec = "0 4 * * 2"
	DefaultWALCleanupSpec    = "@every 6h"
)

// Jobs — сервисы, которые выполняют задачи. Retention может быть nil
// (директория загрузок не настроена) — задача тогда не регистрируется.
type Jobs struct {
	Retention *service.RetentionService
	Feedback  *service.FeedbackLedger
	Trigger   *service.BatchTrigger
	Approved  *service.ApprovedBatcher
	Training  *service.TrainingService
	Summary   *service.SummaryService
	WAL       *wal.WAL
}

// RegisterDefaults регистрирует стандартный набор задач с расписаниями
// из настроек (или значениями по умолчанию).
func (s *Scheduler) RegisterDefaults(j Jobs, settings *config.Settings) error {
	weekday, err := settings.ReportWeekday()
	if err != nil {
		return err
	}

	type entry struct {
		name string
		spec string
		fn   JobFunc
	}
	entries := []entry{
		{JobDeadlines, DefaultDeadlinesSpec, j.deadlines},
		{JobWeeklySummary, fmt.Sprintf("0 9 * * %d", int(weekday)), j.weeklySummary},
		{JobApprovedBatch, DefaultApprovedBatchSpec, j.approvedBatch},
		{JobWALCleanup, DefaultWALCleanupSpec, j.walCleanup(s.logger)},
	}
	if j.Retention != nil {
		entries = append(entries, entry{JobRetention, DefaultRetentionSpec, j.retention})
	} else {
		s.logger.Info("Директория загрузок не задана, задача retention отключена")
	}

	for _, e := range entries {
		if err := s.Register(e.name, settings.Schedule(e.name, e.spec), e.fn); err != nil {
			return err
		}
	}
	return nil
}

func (j Jobs) retention(ctx context.Context) error {
	_, err := j.Retention.RunOnce(ctx)
	return err
}

// deadlines — авто-одобрение просроченных записей, затем проверка
// готовности батча из секторов и передача его тренеру.
func (j Jobs) deadlines(ctx context.Context) error {
	if _, err := j.Feedback.SweepDeadlines(ctx); err != nil {
		return fmt.Errorf("авто-одобрение: %w", err)
	}
	batch, err := j.Trigger.CheckAndTrigger(ctx)
	if err != nil {
		return fmt.Errorf("выпуск батча: %w", err)
	}
	j.Training.TrainIfEnabled(ctx, batch)
	return nil
}

func (j Jobs) weeklySummary(ctx context.Context) error {
	_, err := j.Summary.Generate(ctx)
	return err
}

func (j Jobs) approvedBatch(ctx context.Context) error {
	batch, err := j.Approved.Run(ctx)
	if err != nil {
		return err
	}
	j.Training.TrainIfEnabled(ctx, batch)
	return nil
}

func (j Jobs) walCleanup(logger *slog.Logger) JobFunc {
	return func(context.Context) error {
		cleaned, err := j.WAL.CleanFinished()
		if err != nil {
			return err
		}
		if cleaned > 0 {
			logger.Info("Завершённые WAL-записи удалены", slog.Int("cleaned", cleaned))
		}
		return nil
	}
}
