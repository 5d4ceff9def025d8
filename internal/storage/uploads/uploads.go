// Пакет uploads — директория загруженных медиафайлов:
// очистка файлов старше срока хранения и информация о ёмкости диска.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

// Dir — директория загрузок.
type Dir struct {
	// path — корневая директория загрузок (LEDGER_UPLOAD_DIR)
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// SweepResult — результат одного прохода очистки.
type SweepResult struct {
	// Removed — относительные пути удалённых файлов
	Removed []string
	// FreedBytes — суммарный размер удалённых файлов
	FreedBytes int64
	// Errors — количество файлов, которые не удалось удалить
	Errors int
}

// Usage — ёмкость файловой системы директории.
type Usage struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// New создаёт Dir. Создаёт директорию, если она не существует.
func New(path string, logger *slog.Logger) (*Dir, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию загрузок %s: %w", path, err)
	}
	return &Dir{
		path:   path,
		logger: logger.With(slog.String("component", "uploads")),
		now:    time.Now,
	}, nil
}

// WithClock подменяет источник времени (для тестов).
func (d *Dir) WithClock(now func() time.Time) *Dir {
	d.now = now
	return d
}

// Path возвращает путь к директории загрузок.
func (d *Dir) Path() string {
	return d.path
}

// SweepOlderThan удаляет файлы, время изменения которых старше maxAge.
// Обходит поддиректории; сами директории и временные файлы незавершённой
// записи (*.tmp) не трогает. Ошибка удаления отдельного файла не прерывает
// проход, а учитывается в SweepResult.Errors.
func (d *Dir) SweepOlderThan(ctx context.Context, maxAge time.Duration) (*SweepResult, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("срок хранения должен быть положительным, получено %v", maxAge)
	}

	cutoff := d.now().Add(-maxAge)
	result := &SweepResult{}

	err := filepath.WalkDir(d.path, func(path string, entry fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			d.logger.Warn("Ошибка обхода директории загрузок",
				slog.String("path", path),
				slog.String("error", walkErr.Error()),
			)
			result.Errors++
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			result.Errors++
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			d.logger.Warn("Не удалось удалить устаревший файл",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			result.Errors++
			return nil
		}

		rel, _ := filepath.Rel(d.path, path)
		result.Removed = append(result.Removed, rel)
		result.FreedBytes += info.Size()
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("очистка директории загрузок прервана: %w", err)
	}

	return result, nil
}

// DiskUsage возвращает ёмкость файловой системы, на которой лежит директория.
func (d *Dir) DiskUsage(ctx context.Context) (*Usage, error) {
	return DiskUsage(ctx, d.path)
}

// DiskUsage возвращает ёмкость файловой системы для произвольного пути.
func DiskUsage(ctx context.Context, path string) (*Usage, error) {
	stat, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ёмкости диска %s: %w", path, err)
	}
	return &Usage{
		Total:       stat.Total,
		Used:        stat.Used,
		Free:        stat.Free,
		UsedPercent: stat.UsedPercent,
	}, nil
}
