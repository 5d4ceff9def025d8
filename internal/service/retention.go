// retention.go — очистка директории загрузок.
//
// Удаляет загруженные медиафайлы старше срока хранения (по времени
// изменения). Запускается планировщиком (задача retention) и вручную
// через API и ledgerctl.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/bigkaa/feedback-ledger/internal/storage/uploads"
)

// RetentionResult — результат одного прохода очистки.
type RetentionResult struct {
	// Removed — количество удалённых файлов
	Removed int `json:"removed"`
	// FreedBytes — освобождённый объём
	FreedBytes int64 `json:"freed_bytes"`
	// Errors — количество файлов, которые не удалось удалить
	Errors int `json:"errors"`
	// Duration — длительность прохода
	Duration time.Duration `json:"duration"`
}

// RetentionService — очистка устаревших загрузок.
type RetentionService struct {
	dir    *uploads.Dir
	maxAge time.Duration
	logger *slog.Logger
}

// NewRetentionService создаёт сервис очистки.
func NewRetentionService(dir *uploads.Dir, maxAge time.Duration, logger *slog.Logger) *RetentionService {
	return &RetentionService{
		dir:    dir,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "retention")),
	}
}

// RunOnce выполняет один проход очистки.
func (r *RetentionService) RunOnce(ctx context.Context) (*RetentionResult, error) {
	start := time.Now()
	r.logger.Debug("Очистка загрузок начата", slog.String("path", r.dir.Path()))

	sweep, err := r.dir.SweepOlderThan(ctx, r.maxAge)
	result := &RetentionResult{Duration: time.Since(start)}
	if sweep != nil {
		result.Removed = len(sweep.Removed)
		result.FreedBytes = sweep.FreedBytes
		result.Errors = sweep.Errors
	}

	retentionFilesRemovedTotal.Add(float64(result.Removed))
	retentionDurationSeconds.Observe(result.Duration.Seconds())

	if err != nil {
		r.logger.Error("Очистка загрузок прервана",
			slog.Int("removed", result.Removed),
			slog.String("error", err.Error()),
		)
		return result, err
	}

	r.logger.Info("Очистка загрузок завершена",
		slog.Int("removed", result.Removed),
		slog.Int64("freed_bytes", result.FreedBytes),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}
