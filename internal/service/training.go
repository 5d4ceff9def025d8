// training.go — передача батча внешнему тренеру.
//
// Записи батча выгружаются в датасет <dataset_dir>/<имя батча>.json,
// тренер запускается на этом файле, результат запуска добавляется
// в журнал training_runs. Сбой тренера не меняет состояние ledger:
// батч остаётся в batches и может быть передан повторно.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bigkaa/feedback-ledger/internal/domain/model"
	"github.com/bigkaa/feedback-ledger/internal/storage/docstore"
	"github.com/bigkaa/feedback-ledger/internal/trainer"
)

// Trainer — внешний процесс обучения.
type Trainer interface {
	Run(ctx context.Context, datasetPath string) (*trainer.Result, error)
}

// TrainingService — выгрузка датасетов и запуск тренера.
type TrainingService struct {
	store      docstore.Store
	catalog    *BatchCatalog
	datasetDir string
	trainer    Trainer
	logger     *slog.Logger
	now        func() time.Time
}

// NewTrainingService создаёт сервис. trainer может быть nil — тогда
// датасеты выгружаются, но обучение не запускается.
func NewTrainingService(
	store docstore.Store,
	catalog *BatchCatalog,
	datasetDir string,
	tr Trainer,
	logger *slog.Logger,
) *TrainingService {
	return &TrainingService{
		store:      store,
		catalog:    catalog,
		datasetDir: datasetDir,
		trainer:    tr,
		logger:     logger.With(slog.String("component", "training")),
		now:        time.Now,
	}
}

// WithClock подменяет источник времени (для тестов).
func (s *TrainingService) WithClock(now func() time.Time) *TrainingService {
	s.now = now
	return s
}

// Enabled сообщает, настроен ли тренер.
func (s *TrainingService) Enabled() bool {
	return s.trainer != nil
}

// Train выгружает батч и запускает на нём тренер.
// Возвращает запись о запуске; при ненулевом коде завершения — вместе
// с *trainer.ExternalProcessError.
func (s *TrainingService) Train(ctx context.Context, batchIDOrName string) (*model.TrainingRun, error) {
	if s.trainer == nil {
		return nil, trainer.ErrNotConfigured
	}

	batch, err := s.catalog.Get(ctx, batchIDOrName)
	if err != nil {
		return nil, err
	}

	path, err := s.ExportDataset(batch)
	if err != nil {
		return nil, err
	}

	run := model.TrainingRun{
		ID:          newID(12),
		BatchID:     batch.BatchID,
		BatchName:   batch.Name,
		DatasetPath: path,
		StartedAt:   s.now().UTC(),
	}

	result, runErr := s.trainer.Run(ctx, path)
	run.FinishedAt = s.now().UTC()
	if result != nil {
		run.ExitCode = result.ExitCode
		run.Output = result.Output
	}
	run.Succeeded = runErr == nil

	var procErr *trainer.ExternalProcessError
	if runErr != nil && !errors.As(runErr, &procErr) {
		runErr = &trainer.ExternalProcessError{ExitCode: -1, Err: runErr}
	}

	if err := s.appendRun(ctx, run); err != nil {
		s.logger.Error("Ошибка записи журнала обучения",
			slog.String("batch", batch.Name),
			slog.String("error", err.Error()),
		)
	}

	if runErr != nil {
		trainingRunsTotal.WithLabelValues("failed").Inc()
		return &run, runErr
	}
	trainingRunsTotal.WithLabelValues("succeeded").Inc()
	s.logger.Info("Обучение на батче завершено",
		slog.String("batch", batch.Name),
		slog.Int("records", len(batch.Records)),
		slog.Duration("duration", run.FinishedAt.Sub(run.StartedAt)),
	)
	return &run, nil
}

// TrainIfEnabled запускает обучение на только что выпущенном батче,
// если тренер настроен. Ошибка тренера логируется: батч остаётся
// доступным для повторного запуска через ledgerctl train.
func (s *TrainingService) TrainIfEnabled(ctx context.Context, batch *model.RetrainBatch) {
	if batch == nil || !s.Enabled() {
		return
	}
	if _, err := s.Train(ctx, batch.BatchID); err != nil {
		s.logger.Error("Обучение не выполнено, батч сохранён для повторного запуска",
			slog.String("batch", batch.Name),
			slog.String("error", err.Error()),
		)
	}
}

// Runs возвращает журнал запусков тренера.
func (s *TrainingService) Runs(ctx context.Context) ([]model.TrainingRun, error) {
	doc, err := docstore.Load(ctx, s.store, resourceTrainingRuns, model.TrainingRunsDocument{})
	if err != nil {
		return nil, err
	}
	return doc.Runs, nil
}

// ExportDataset записывает записи батча JSON-массивом в директорию
// датасетов. Файл заменяется атомарно.
func (s *TrainingService) ExportDataset(batch *model.RetrainBatch) (string, error) {
	data, err := json.MarshalIndent(batch.Records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: сериализация датасета %s: %w", docstore.ErrIO, batch.Name, err)
	}

	path := filepath.Join(s.datasetDir, batch.Name+".json")
	if err := docstore.WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("%w: запись датасета %s: %w", docstore.ErrIO, batch.Name, err)
	}

	s.logger.Debug("Датасет выгружен",
		slog.String("batch", batch.Name),
		slog.String("path", path),
		slog.Int("records", len(batch.Records)),
	)
	return path, nil
}

func (s *TrainingService) appendRun(ctx context.Context, run model.TrainingRun) error {
	return docstore.Mutate(ctx, s.store, resourceTrainingRuns, model.TrainingRunsDocument{}, func(_ context.Context, doc *model.TrainingRunsDocument) error {
		doc.Runs = append(doc.Runs, run)
		return nil
	})
}
