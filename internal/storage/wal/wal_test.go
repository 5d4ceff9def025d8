package wal

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}
	return w
}

func intent(name string) Intent {
	return Intent{BatchID: "batch-" + name, BatchName: name, RecordIDs: []string{"r1", "r2", "r3"}}
}

func TestNew_CreatesDirectory(t *testing.T) {
	walDir := filepath.Join(t.TempDir(), "nested", "wal")

	w, err := New(walDir, testLogger())
	if err != nil {
		t.Fatalf("ожидалось успешное создание WAL, получена ошибка: %v", err)
	}
	if w.Dir() != walDir {
		t.Errorf("ожидался путь %s, получен %s", walDir, w.Dir())
	}
	if info, err := os.Stat(walDir); err != nil || !info.IsDir() {
		t.Fatalf("директория WAL не создана: %v", err)
	}
}

// TestBegin проверяет, что намерение сохраняется на диск со статусом pending.
func TestBegin(t *testing.T) {
	started := time.Date(2026, 10, 15, 5, 0, 0, 0, time.UTC)
	w := newTestWAL(t).WithClock(func() time.Time { return started })

	entry, err := w.Begin(OpSectorBatchEmit, intent("sector_batch_1"))
	if err != nil {
		t.Fatalf("ошибка Begin: %v", err)
	}
	if entry.Status != StatusPending || entry.Finished() {
		t.Errorf("ожидался pending, получен %s", entry.Status)
	}

	read, err := w.Get(entry.TransactionID)
	if err != nil {
		t.Fatalf("ошибка Get: %v", err)
	}
	if read.BatchName != "sector_batch_1" || len(read.RecordIDs) != 3 {
		t.Errorf("намерение не сохранилось: %+v", read.Intent)
	}
	if !read.StartedAt.Equal(started) {
		t.Errorf("ожидалось время начала %v, получено %v", started, read.StartedAt)
	}
	if read.CompletedAt != nil {
		t.Error("у pending-транзакции не должно быть времени завершения")
	}
}

// TestFinish проверяет коммит, откат с причиной и запрет повторного завершения.
func TestFinish(t *testing.T) {
	w := newTestWAL(t)

	committed, _ := w.Begin(OpSectorBatchEmit, intent("a"))
	if err := w.Commit(committed.TransactionID); err != nil {
		t.Fatalf("ошибка Commit: %v", err)
	}
	got, _ := w.Get(committed.TransactionID)
	if got.Status != StatusCommitted || got.CompletedAt == nil {
		t.Errorf("ожидался committed с временем завершения, получено %+v", got)
	}

	rolled, _ := w.Begin(OpApprovedBatchEmit, intent("b"))
	if err := w.Rollback(rolled.TransactionID, "батч не сохранён"); err != nil {
		t.Fatalf("ошибка Rollback: %v", err)
	}
	got, _ = w.Get(rolled.TransactionID)
	if got.Status != StatusRolledBack || got.Reason != "батч не сохранён" {
		t.Errorf("ожидался rolled_back с причиной, получено %+v", got)
	}

	if err := w.Commit(committed.TransactionID); !errors.Is(err, ErrNotPending) {
		t.Errorf("повторный Commit: ожидалась ErrNotPending, получено %v", err)
	}
	if err := w.Rollback(committed.TransactionID, "x"); !errors.Is(err, ErrNotPending) {
		t.Errorf("Rollback завершённой: ожидалась ErrNotPending, получено %v", err)
	}
	if _, err := w.Get("nonexistent-tx-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
	if err := w.Commit("nonexistent-tx-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Commit неизвестной: ожидалась ErrNotFound, получено %v", err)
	}
}

// TestPending_OrderedByStart проверяет порядок и пропуск завершённых записей.
func TestPending_OrderedByStart(t *testing.T) {
	now := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	w := newTestWAL(t).WithClock(func() time.Time { return now })

	tick := func() { now = now.Add(time.Minute) }
	first, _ := w.Begin(OpSectorBatchEmit, intent("first"))
	tick()
	second, _ := w.Begin(OpApprovedBatchEmit, intent("second"))
	tick()
	done, _ := w.Begin(OpSectorBatchEmit, intent("done"))
	_ = w.Commit(done.TransactionID)

	pending, err := w.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("ожидалось 2 pending, получено %d", len(pending))
	}
	if pending[0].TransactionID != first.TransactionID || pending[1].TransactionID != second.TransactionID {
		t.Error("pending должны быть упорядочены по времени начала")
	}
}

func TestPending_SkipsBrokenFiles(t *testing.T) {
	w := newTestWAL(t)
	if err := os.WriteFile(filepath.Join(w.Dir(), "broken"+entrySuffix), []byte("{"), 0o640); err != nil {
		t.Fatal(err)
	}
	_, _ = w.Begin(OpSectorBatchEmit, intent("ok"))

	pending, err := w.Pending()
	if err != nil {
		t.Fatalf("повреждённый файл не должен прерывать восстановление: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("ожидалась 1 pending-запись, получено %d", len(pending))
	}
}

// TestCleanFinished проверяет, что удаляются только завершённые транзакции.
func TestCleanFinished(t *testing.T) {
	w := newTestWAL(t)

	_, _ = w.Begin(OpSectorBatchEmit, intent("pending"))
	tx2, _ := w.Begin(OpSectorBatchEmit, intent("committed"))
	_ = w.Commit(tx2.TransactionID)
	tx3, _ := w.Begin(OpApprovedBatchEmit, intent("rolled"))
	_ = w.Rollback(tx3.TransactionID, "тест")

	cleaned, err := w.CleanFinished()
	if err != nil {
		t.Fatal(err)
	}
	if cleaned != 2 {
		t.Errorf("ожидалось удаление 2 записей, удалено %d", cleaned)
	}
	pending, _ := w.Pending()
	if len(pending) != 1 || pending[0].BatchName != "pending" {
		t.Errorf("pending-запись должна сохраниться, получено %+v", pending)
	}
	if _, err := w.Get(tx2.TransactionID); !errors.Is(err, ErrNotFound) {
		t.Errorf("файл завершённой транзакции должен быть удалён, получено %v", err)
	}
}

func TestBegin_NoTempLeftovers(t *testing.T) {
	w := newTestWAL(t)
	entry, err := w.Begin(OpSectorBatchEmit, intent("atomic"))
	if err != nil {
		t.Fatal(err)
	}
	tmp := filepath.Join(w.Dir(), entryFileName(entry.TransactionID)+".tmp")
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("временный файл не должен оставаться после записи")
	}
}

func TestConcurrentTransactions(t *testing.T) {
	w := newTestWAL(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := w.Begin(OpSectorBatchEmit, intent("concurrent"))
			if err != nil {
				errs <- err
				return
			}
			if err := w.Commit(entry.TransactionID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("ошибка конкурентной транзакции: %v", err)
	}

	pending, _ := w.Pending()
	if len(pending) != 0 {
		t.Errorf("ожидалось 0 pending, получено %d", len(pending))
	}
}
