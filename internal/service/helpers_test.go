package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/feedback-ledger/internal/storage/docstore"
	"github.com/bigkaa/feedback-ledger/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *docstore.FileStore {
	t.Helper()
	store, err := docstore.NewFileStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания хранилища: %v", err)
	}
	return store
}

func newTestWAL(t *testing.T) *wal.WAL {
	t.Helper()
	w, err := wal.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}
	return w
}

// fakeClock — управляемое время для тестов.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// failingStore — хранилище, у которого запись указанного ресурса
// завершается ошибкой ввода-вывода.
type failingStore struct {
	docstore.Store
	failOn string
}

func (s *failingStore) Update(ctx context.Context, resource string, fn docstore.UpdateFunc) error {
	if resource == s.failOn {
		return s.Store.Update(ctx, resource, func(ctx context.Context, current []byte, exists bool) ([]byte, error) {
			if _, err := fn(ctx, current, exists); err != nil {
				return nil, err
			}
			return nil, docstore.ErrIO
		})
	}
	return s.Store.Update(ctx, resource, fn)
}

func (s *failingStore) Write(ctx context.Context, resource string, data []byte) error {
	if resource == s.failOn {
		return docstore.ErrIO
	}
	return s.Store.Write(ctx, resource, data)
}
