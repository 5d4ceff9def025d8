package uploads

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeAged создаёт файл с заданным временем изменения.
func writeAged(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("media"), 0o640); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

// TestNew_CreatesDirectory проверяет создание директории загрузок.
func TestNew_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploads")
	d, err := New(path, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания: %v", err)
	}
	if d.Path() != path {
		t.Errorf("ожидался путь %s, получен %s", path, d.Path())
	}
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		t.Fatalf("директория не создана: %v", err)
	}
}

// TestSweepOlderThan проверяет удаление только устаревших файлов.
func TestSweepOlderThan(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	retention := 8 * 24 * time.Hour

	writeAged(t, filepath.Join(root, "old.jpg"), now.Add(-9*24*time.Hour))
	writeAged(t, filepath.Join(root, "nested", "old.mp4"), now.Add(-30*24*time.Hour))
	writeAged(t, filepath.Join(root, "fresh.jpg"), now.Add(-time.Hour))
	writeAged(t, filepath.Join(root, "edge.jpg"), now.Add(-retention))
	writeAged(t, filepath.Join(root, "partial.jpg.tmp"), now.Add(-60*24*time.Hour))

	d, err := New(root, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	d.WithClock(func() time.Time { return now })

	result, err := d.SweepOlderThan(context.Background(), retention)
	if err != nil {
		t.Fatalf("ошибка очистки: %v", err)
	}

	sort.Strings(result.Removed)
	want := []string{filepath.Join("nested", "old.mp4"), "old.jpg"}
	if len(result.Removed) != len(want) {
		t.Fatalf("удалено %v, ожидалось %v", result.Removed, want)
	}
	for i := range want {
		if result.Removed[i] != want[i] {
			t.Errorf("удалено %v, ожидалось %v", result.Removed, want)
		}
	}
	if result.FreedBytes != int64(2*len("media")) {
		t.Errorf("FreedBytes = %d", result.FreedBytes)
	}

	for _, keep := range []string{"fresh.jpg", "edge.jpg", "partial.jpg.tmp"} {
		if _, err := os.Stat(filepath.Join(root, keep)); err != nil {
			t.Errorf("файл %s не должен быть удалён: %v", keep, err)
		}
	}

	// Повторный проход ничего не удаляет
	again, err := d.SweepOlderThan(context.Background(), retention)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Removed) != 0 {
		t.Errorf("повторный проход удалил %v", again.Removed)
	}
}

// TestSweepOlderThan_InvalidAge проверяет валидацию срока хранения.
func TestSweepOlderThan_InvalidAge(t *testing.T) {
	d, _ := New(t.TempDir(), testLogger())
	if _, err := d.SweepOlderThan(context.Background(), 0); err == nil {
		t.Error("ожидалась ошибка для нулевого срока")
	}
}

// TestSweepOlderThan_Cancelled проверяет прерывание по контексту.
func TestSweepOlderThan_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeAged(t, filepath.Join(root, "old.jpg"), time.Now().Add(-100*24*time.Hour))
	d, _ := New(root, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.SweepOlderThan(ctx, time.Hour); err == nil {
		t.Error("ожидалась ошибка отменённого контекста")
	}
	if _, err := os.Stat(filepath.Join(root, "old.jpg")); err != nil {
		t.Error("файл не должен быть удалён после отмены")
	}
}

// TestDiskUsage проверяет получение ёмкости диска.
func TestDiskUsage(t *testing.T) {
	d, _ := New(t.TempDir(), testLogger())
	usage, err := d.DiskUsage(context.Background())
	if err != nil {
		t.Fatalf("ошибка: %v", err)
	}
	if usage.Total == 0 {
		t.Error("Total не должен быть нулевым")
	}
	if usage.Used > usage.Total {
		t.Errorf("Used (%d) > Total (%d)", usage.Used, usage.Total)
	}
}
