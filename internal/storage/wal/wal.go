package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/feedback-ledger/internal/storage/docstore"
)

// WAL — журнал транзакций выпуска батчей в директории LEDGER_WAL_DIR.
// Порядок работы: Begin (pending) → изменение документов → Commit.
// Если процесс упал между шагами, запись остаётся pending и при
// старте отдаётся на восстановление через Pending.
type WAL struct {
	dir    string
	mu     sync.Mutex
	now    func() time.Time
	logger *slog.Logger
}

// New открывает журнал. Директория создаётся при необходимости
// и проверяется на запись.
func New(dir string, logger *slog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию WAL %s: %w", dir, err)
	}

	probe := filepath.Join(dir, ".wal_write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория WAL %s недоступна для записи: %w", dir, err)
	}
	os.Remove(probe)

	return &WAL{
		dir:    dir,
		now:    time.Now,
		logger: logger.With(slog.String("component", "wal")),
	}, nil
}

// WithClock подменяет источник времени (для тестов).
func (w *WAL) WithClock(now func() time.Time) *WAL {
	w.now = now
	return w
}

// Dir возвращает путь к директории WAL.
func (w *WAL) Dir() string {
	return w.dir
}

// Begin записывает намерение выпуска со статусом pending.
func (w *WAL) Begin(op OperationType, intent Intent) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.NewString(),
		Operation:     op,
		Status:        StatusPending,
		Intent:        intent,
		StartedAt:     w.now().UTC(),
	}
	if err := w.save(entry); err != nil {
		return nil, fmt.Errorf("не удалось записать намерение выпуска %s: %w", intent.BatchName, err)
	}

	w.logger.Debug("Выпуск батча начат",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(op)),
		slog.String("batch", intent.BatchName),
		slog.Int("records", len(intent.RecordIDs)),
	)
	return entry, nil
}

// Commit отмечает выпуск как состоявшийся.
func (w *WAL) Commit(txID string) error {
	entry, err := w.finish(txID, StatusCommitted, "")
	if err != nil {
		return err
	}
	w.logger.Debug("Выпуск батча завершён",
		slog.String("tx_id", txID),
		slog.String("batch", entry.BatchName),
		slog.Duration("duration", entry.CompletedAt.Sub(entry.StartedAt)),
	)
	return nil
}

// Rollback отмечает выпуск как несостоявшийся с указанием причины.
func (w *WAL) Rollback(txID, reason string) error {
	entry, err := w.finish(txID, StatusRolledBack, reason)
	if err != nil {
		return err
	}
	w.logger.Warn("Выпуск батча отменён",
		slog.String("tx_id", txID),
		slog.String("batch", entry.BatchName),
		slog.String("reason", reason),
	)
	return nil
}

// finish переводит pending-транзакцию в конечный статус.
func (w *WAL) finish(txID string, status TransactionStatus, reason string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, err := w.load(txID)
	if err != nil {
		return nil, err
	}
	if entry.Finished() {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotPending, txID, entry.Status)
	}

	completed := w.now().UTC()
	entry.Status = status
	entry.CompletedAt = &completed
	entry.Reason = reason
	if err := w.save(entry); err != nil {
		return nil, fmt.Errorf("не удалось обновить транзакцию %s: %w", txID, err)
	}
	return entry, nil
}

// Get возвращает транзакцию по идентификатору или ErrNotFound.
func (w *WAL) Get(txID string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.load(txID)
}

// Pending возвращает незавершённые транзакции в порядке начала.
// Нечитаемые файлы пропускаются с предупреждением.
func (w *WAL) Pending() ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var pending []*Entry
	err := w.scan(func(_ string, entry *Entry) {
		if entry.Finished() {
			return
		}
		pending = append(pending, entry)
		w.logger.Warn("Обнаружен незавершённый выпуск батча",
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.String("batch", entry.BatchName),
			slog.Time("started_at", entry.StartedAt),
		)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].StartedAt.Before(pending[j].StartedAt)
	})
	return pending, nil
}

// CleanFinished удаляет файлы завершённых транзакций и возвращает их число.
// Pending-записи не трогаются.
func (w *WAL) CleanFinished() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cleaned := 0
	err := w.scan(func(path string, entry *Entry) {
		if !entry.Finished() {
			return
		}
		if err := os.Remove(path); err != nil {
			w.logger.Warn("Не удалось удалить завершённую транзакцию",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return
		}
		cleaned++
	})
	return cleaned, err
}

// scan вызывает fn для каждой читаемой записи журнала.
func (w *WAL) scan(fn func(path string, entry *Entry)) error {
	paths, err := filepath.Glob(filepath.Join(w.dir, "*"+entrySuffix))
	if err != nil {
		return fmt.Errorf("не удалось сканировать директорию WAL: %w", err)
	}
	for _, path := range paths {
		entry, err := w.load(strings.TrimSuffix(filepath.Base(path), entrySuffix))
		if err != nil {
			w.logger.Warn("Не удалось прочитать запись WAL",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		fn(path, entry)
	}
	return nil
}

// save атомарно записывает транзакцию (temp → fsync → rename).
func (w *WAL) save(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}
	return docstore.WriteFileAtomic(filepath.Join(w.dir, entryFileName(entry.TransactionID)), data)
}

func (w *WAL) load(txID string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, entryFileName(txID)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, txID)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения транзакции %s: %w", txID, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("повреждённая транзакция %s: %w", txID, err)
	}
	return &entry, nil
}
