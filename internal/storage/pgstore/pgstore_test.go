package pgstore

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/feedback-ledger/internal/storage/docstore"
)

func TestMigrateURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"postgres://u:p@h:5432/db?sslmode=disable", "pgx5://u:p@h:5432/db?sslmode=disable"},
		{"postgresql://u@h/db", "pgx5://u@h/db"},
		{"pgx5://u@h/db", "pgx5://u@h/db"},
	}
	for _, tt := range tests {
		if got := migrateURL(tt.in); got != tt.want {
			t.Errorf("migrateURL(%q) = %q, ожидалось %q", tt.in, got, tt.want)
		}
	}
}

// setupTestStore запускает PostgreSQL в Docker-контейнере через testcontainers.
// params добавляются к DSN (например, pool_max_conns).
func setupTestStore(t *testing.T, params ...string) *Store {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("ledger_test"),
		postgres.WithUsername("ledger"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, append([]string{"sslmode=disable"}, params...)...)
	if err != nil {
		t.Fatalf("Не удалось получить DSN: %v", err)
	}

	if err := Migrate(dsn, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}
	// Повторное применение не должно быть ошибкой
	if err := Migrate(dsn, logger); err != nil {
		t.Fatalf("Повторное применение миграций: %v", err)
	}

	store, err := Connect(ctx, dsn, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_ReadWriteUpdate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.Read(ctx, "clients"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено %v", err)
	}

	if err := store.Write(ctx, "clients", []byte(`{"clients":[]}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	type doc struct {
		Count int `json:"count"`
	}

	const workers = 8
	const perWorker = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if err := docstore.Mutate(ctx, store, "counter", doc{}, func(_ context.Context, d *doc) error {
					d.Count++
					return nil
				}); err != nil {
					t.Errorf("Mutate: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := docstore.Load(ctx, store, "counter", doc{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Count != workers*perWorker {
		t.Errorf("Count = %d, ожидалось %d", got.Count, workers*perWorker)
	}
}

func TestStore_NoChangeLeavesNoDocument(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.Update(ctx, "empty", func(_ context.Context, _ []byte, exists bool) ([]byte, error) {
		if exists {
			t.Error("документ не должен существовать")
		}
		return nil, docstore.ErrNoChange
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := store.Read(ctx, "empty"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

type counterDoc struct {
	Count int `json:"count"`
}

// TestStore_NestedUpdatesShareTransaction: вложенные Update при пуле из
// двух подключений и большем числе писателей не ждут свободного подключения.
func TestStore_NestedUpdatesShareTransaction(t *testing.T) {
	store := setupTestStore(t, "pool_max_conns=2")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const writers = 6
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := docstore.Mutate(ctx, store, "feedback", counterDoc{}, func(ctx context.Context, d *counterDoc) error {
				if _, err := docstore.Load(ctx, store, "batches", counterDoc{}); err != nil {
					return err
				}
				if err := docstore.Mutate(ctx, store, "sectors", counterDoc{}, func(_ context.Context, s *counterDoc) error {
					s.Count++
					return nil
				}); err != nil {
					return err
				}
				d.Count++
				return nil
			})
			if err != nil {
				t.Errorf("Mutate: %v", err)
			}
		}()
	}
	wg.Wait()

	for _, resource := range []string{"feedback", "sectors"} {
		got, err := docstore.Load(context.Background(), store, resource, counterDoc{})
		if err != nil {
			t.Fatal(err)
		}
		if got.Count != writers {
			t.Errorf("%s: Count = %d, ожидалось %d", resource, got.Count, writers)
		}
	}
}

// TestStore_NestedRolledBackWithOuter: вложенное изменение не фиксируется,
// если внешний Update завершился ошибкой.
func TestStore_NestedRolledBackWithOuter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	errAbort := errors.New("отмена")

	if !docstore.NestedUpdatesAtomic(store) {
		t.Fatal("вложенные Update PostgreSQL должны быть атомарны с внешним")
	}

	err := docstore.Mutate(ctx, store, "feedback", counterDoc{}, func(ctx context.Context, d *counterDoc) error {
		if err := docstore.Mutate(ctx, store, "sectors", counterDoc{}, func(_ context.Context, s *counterDoc) error {
			s.Count = 42
			return nil
		}); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("ожидалась ошибка отмены, получено %v", err)
	}
	if _, err := store.Read(ctx, "sectors"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("вложенная запись не должна сохраниться, получено %v", err)
	}
}
