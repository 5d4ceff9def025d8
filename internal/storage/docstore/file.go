package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	// documentSuffix — расширение файла документа.
	documentSuffix = ".json"
	// lockSuffix — расширение файла блокировки ресурса.
	lockSuffix = ".lock"
)

// FileStore — файловый бэкенд: каждый ресурс хранится как
// {dir}/{resource}.json. Запись: temp файл → fsync → rename → fsync директории.
// Исключительный доступ: мьютекс ресурса внутри процесса и flock на
// {dir}/{resource}.lock между процессами.
type FileStore struct {
	dir    string
	locks  *keyedMutex
	logger *slog.Logger
}

// Проверка реализации интерфейса.
var _ Store = (*FileStore)(nil)

// NewFileStore создаёт файловое хранилище. Создаёт директорию и
// проверяет доступность на запись.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория данных %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &FileStore{
		dir:    dir,
		locks:  newKeyedMutex(),
		logger: logger.With(slog.String("component", "docstore")),
	}, nil
}

// Logger возвращает логгер хранилища.
func (s *FileStore) Logger() *slog.Logger {
	return s.logger
}

// Dir возвращает путь к директории документов.
func (s *FileStore) Dir() string {
	return s.dir
}

// Read читает документ. Блокировка не требуется: rename атомарен,
// читатель всегда видит полную версию.
func (s *FileStore) Read(_ context.Context, resource string) ([]byte, error) {
	if err := ValidateName(resource); err != nil {
		return nil, err
	}
	start := time.Now()
	defer observe("file", "read", start)

	data, err := os.ReadFile(s.path(resource))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		storeErrors.WithLabelValues("file", "read").Inc()
		return nil, ioError("чтение", resource, err)
	}
	return data, nil
}

// Write заменяет документ целиком под блокировкой ресурса.
func (s *FileStore) Write(ctx context.Context, resource string, data []byte) error {
	return s.Update(ctx, resource, func(context.Context, []byte, bool) ([]byte, error) {
		return data, nil
	})
}

// Update выполняет read-modify-write как одну критическую секцию.
func (s *FileStore) Update(ctx context.Context, resource string, fn UpdateFunc) error {
	if err := ValidateName(resource); err != nil {
		return err
	}
	start := time.Now()
	defer observe("file", "update", start)

	unlock, err := s.lock(ctx, resource)
	if err != nil {
		return err
	}
	defer unlock()

	path := s.path(resource)
	current, err := os.ReadFile(path)
	exists := true
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			storeErrors.WithLabelValues("file", "update").Inc()
			return ioError("чтение", resource, err)
		}
		current, exists = nil, false
	}

	next, err := fn(ctx, current, exists)
	if err != nil {
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}

	if err := WriteFileAtomic(path, next); err != nil {
		storeErrors.WithLabelValues("file", "update").Inc()
		s.logger.Error("Ошибка записи документа",
			slog.String("resource", resource),
			slog.String("error", err.Error()),
		)
		return ioError("запись", resource, err)
	}
	return nil
}

// Ping проверяет, что директория документов доступна.
func (s *FileStore) Ping(_ context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return ioError("stat", s.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s не является директорией", ErrIO, s.dir)
	}
	return nil
}

// Close для файлового хранилища ничего не делает.
func (s *FileStore) Close() error {
	return nil
}

// lock захватывает мьютекс процесса, затем flock ресурса.
func (s *FileStore) lock(ctx context.Context, resource string) (func(), error) {
	unlockMu, err := s.locks.lock(ctx, resource)
	if err != nil {
		return nil, fmt.Errorf("ожидание блокировки %s прервано: %w", resource, err)
	}

	unlockFile, err := flockFile(ctx, filepath.Join(s.dir, filepath.FromSlash(resource)+lockSuffix))
	if err != nil {
		unlockMu()
		return nil, ioError("блокировка", resource, err)
	}

	return func() {
		unlockFile()
		unlockMu()
	}, nil
}

func (s *FileStore) path(resource string) string {
	return filepath.Join(s.dir, filepath.FromSlash(resource)+documentSuffix)
}

// WriteFileAtomic атомарно записывает данные в файл.
// Паттерн: temp файл → fsync → atomic rename → fsync директории.
// При любой ошибке прежняя версия файла остаётся нетронутой.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	// fsync директории фиксирует сам rename
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}

	return nil
}
