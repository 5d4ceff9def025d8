package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/feedback-ledger/internal/storage/uploads"
)

func TestRetentionRunOnce(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	write := func(name string, age time.Duration) {
		path := filepath.Join(root, name)
		if err := os.WriteFile(path, []byte("data"), 0o640); err != nil {
			t.Fatal(err)
		}
		mtime := now.Add(-age)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	write("old.jpg", 10*24*time.Hour)
	write("older.mp4", 40*24*time.Hour)
	write("new.jpg", time.Hour)

	dir, err := uploads.New(root, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	dir.WithClock(func() time.Time { return now })

	svc := NewRetentionService(dir, 8*24*time.Hour, testLogger())
	result, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.Removed != 2 || result.FreedBytes != 8 || result.Errors != 0 {
		t.Errorf("результат: %+v", result)
	}
	if _, err := os.Stat(filepath.Join(root, "new.jpg")); err != nil {
		t.Errorf("свежий файл удалён: %v", err)
	}
}

func TestRetentionRunOnce_Cancelled(t *testing.T) {
	dir, _ := uploads.New(t.TempDir(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewRetentionService(dir, time.Hour, testLogger()).RunOnce(ctx); err == nil {
		t.Error("ожидалась ошибка отменённого контекста")
	}
}
