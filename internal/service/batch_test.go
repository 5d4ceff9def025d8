package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bigkaa/feedback-ledger/internal/domain/model"
	"github.com/bigkaa/feedback-ledger/internal/storage/docstore"
	"github.com/bigkaa/feedback-ledger/internal/storage/wal"
)

// fillSectors сохраняет корзины с указанным числом записей.
func fillSectors(t *testing.T, store docstore.Store, safe, moderate, high int) {
	t.Helper()
	b := emptyBuckets()
	add := func(s model.Sector, n int) {
		for i := 0; i < n; i++ {
			b.Place(s, model.PredictionRecord{ID: fmt.Sprintf("%s-%d", s, i), FinalLabel: string(s)})
		}
	}
	add(model.SectorSafe, safe)
	add(model.SectorModerate, moderate)
	add(model.SectorHigh, high)
	if err := docstore.Save(context.Background(), store, resourceSectors, b); err != nil {
		t.Fatal(err)
	}
}

func loadBuckets(t *testing.T, store docstore.Store) model.SectorBuckets {
	t.Helper()
	b, err := NewBatchCatalog(store).Sectors(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func pendingCount(t *testing.T, w *wal.WAL) int {
	t.Helper()
	pending, err := w.Pending()
	if err != nil {
		t.Fatal(err)
	}
	return len(pending)
}

// TestCheckAndTrigger_Gated проверяет, что батч выпускается только при
// заполненных всех трёх корзинах.
func TestCheckAndTrigger_Gated(t *testing.T) {
	tests := []struct {
		name                 string
		safe, moderate, high int
		wantBatch            bool
	}{
		{"все пустые", 0, 0, 0, false},
		{"нет high", 2, 1, 0, false},
		{"нет safe", 0, 3, 3, false},
		{"все заполнены", 1, 1, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			w := newTestWAL(t)
			fillSectors(t, store, tt.safe, tt.moderate, tt.high)
			trigger := NewBatchTrigger(store, w, 1, testLogger())

			batch, err := trigger.CheckAndTrigger(context.Background())
			if err != nil {
				t.Fatalf("CheckAndTrigger: %v", err)
			}
			if (batch != nil) != tt.wantBatch {
				t.Fatalf("батч = %v, ожидался %v", batch != nil, tt.wantBatch)
			}

			sizes := loadBuckets(t, store).Sizes()
			if tt.wantBatch {
				for s, n := range sizes {
					if n != 0 {
						t.Errorf("корзина %s не очищена: %d", s, n)
					}
				}
				return
			}
			if sizes[model.SectorSafe] != tt.safe || sizes[model.SectorModerate] != tt.moderate || sizes[model.SectorHigh] != tt.high {
				t.Errorf("корзины изменены без выпуска: %v", sizes)
			}
			if pendingCount(t, w) != 0 {
				t.Error("WAL-запись не должна создаваться без выпуска")
			}
		})
	}
}

func TestCheckAndTrigger_BatchContents(t *testing.T) {
	store := newTestStore(t)
	w := newTestWAL(t)
	clock := newFakeClock()
	fillSectors(t, store, 2, 1, 3)
	trigger := NewBatchTrigger(store, w, 1, testLogger()).WithClock(clock.Now)
	ctx := context.Background()

	batch, err := trigger.CheckAndTrigger(ctx)
	if err != nil || batch == nil {
		t.Fatalf("CheckAndTrigger: %v, %v", batch, err)
	}
	if batch.Name != "sector_batch_1" || batch.Source != model.BatchSourceSector {
		t.Errorf("имя %q, источник %q", batch.Name, batch.Source)
	}
	if len(batch.Records) != 6 {
		t.Fatalf("записей %d, ожидалось 6", len(batch.Records))
	}
	// Порядок секторов: safe, moderate, high
	wantOrder := []string{"safe", "safe", "moderate", "high", "high", "high"}
	for i, rec := range batch.Records {
		if rec.FinalLabel != wantOrder[i] {
			t.Errorf("запись %d: сектор %s, ожидался %s", i, rec.FinalLabel, wantOrder[i])
		}
	}
	if !batch.CreatedAt.Equal(clock.Now()) {
		t.Errorf("created_at = %v", batch.CreatedAt)
	}

	stored, err := NewBatchCatalog(store).Get(ctx, "sector_batch_1")
	if err != nil || stored.BatchID != batch.BatchID {
		t.Errorf("батч не сохранён: %v, %v", stored, err)
	}
	if pendingCount(t, w) != 0 {
		t.Error("WAL-запись должна быть закоммичена")
	}

	// Второй батч получает следующий номер
	fillSectors(t, store, 1, 1, 1)
	second, _ := trigger.CheckAndTrigger(ctx)
	if second == nil || second.Name != "sector_batch_2" {
		t.Errorf("второй батч: %+v", second)
	}
	all, _ := NewBatchCatalog(store).List(ctx)
	if len(all) != 2 {
		t.Errorf("батчей %d, ожидалось 2", len(all))
	}
}

func TestCheckAndTrigger_MinPerSector(t *testing.T) {
	store := newTestStore(t)
	fillSectors(t, store, 3, 2, 3)
	trigger := NewBatchTrigger(store, newTestWAL(t), 3, testLogger())

	if batch, _ := trigger.CheckAndTrigger(context.Background()); batch != nil {
		t.Fatal("moderate ниже минимума, батч не должен выпускаться")
	}
	fillSectors(t, store, 3, 3, 3)
	if batch, _ := trigger.CheckAndTrigger(context.Background()); batch == nil || len(batch.Records) != 9 {
		t.Errorf("ожидался батч из 9 записей, получено %+v", batch)
	}
}

// TestCheckAndTrigger_Concurrent проверяет, что одно содержимое корзин
// выпускается ровно одним батчем.
func TestCheckAndTrigger_Concurrent(t *testing.T) {
	store := newTestStore(t)
	fillSectors(t, store, 1, 1, 1)
	trigger := NewBatchTrigger(store, newTestWAL(t), 1, testLogger())

	var mu sync.Mutex
	emitted := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch, err := trigger.CheckAndTrigger(context.Background())
			if err != nil {
				t.Errorf("CheckAndTrigger: %v", err)
				return
			}
			if batch != nil {
				mu.Lock()
				emitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if emitted != 1 {
		t.Errorf("выпущено %d батчей, ожидался 1", emitted)
	}
}

// TestCheckAndTrigger_SectorsWriteFailure: батч сохранён, но очистка
// корзин не записалась — WAL-запись остаётся pending и при
// восстановлении доводится до конца.
func TestCheckAndTrigger_SectorsWriteFailure(t *testing.T) {
	store := newTestStore(t)
	w := newTestWAL(t)
	fillSectors(t, store, 1, 1, 1)
	ctx := context.Background()

	broken := &failingStore{Store: store, failOn: resourceSectors}
	if _, err := NewBatchTrigger(broken, w, 1, testLogger()).CheckAndTrigger(ctx); !errors.Is(err, docstore.ErrIO) {
		t.Fatalf("ожидалась ErrIO, получено %v", err)
	}
	if pendingCount(t, w) != 1 {
		t.Fatal("ожидалась одна pending WAL-запись")
	}

	trigger := NewBatchTrigger(store, w, 1, testLogger())
	approved := NewApprovedBatcher(store, w, testLogger())
	result, err := RecoverBatches(ctx, w, trigger, approved, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if result.RolledForward != 1 || result.RolledBack != 0 || result.Failed != 0 {
		t.Errorf("результат восстановления: %+v", result)
	}
	sizes := loadBuckets(t, store).Sizes()
	if sizes[model.SectorSafe]+sizes[model.SectorModerate]+sizes[model.SectorHigh] != 0 {
		t.Errorf("записи выпущенного батча остались в корзинах: %v", sizes)
	}
	if pendingCount(t, w) != 0 {
		t.Error("после восстановления pending записей быть не должно")
	}
}

// TestCheckAndTrigger_BatchesWriteFailure: батч не сохранён — транзакция
// откатывается сразу, корзины не меняются.
func TestCheckAndTrigger_BatchesWriteFailure(t *testing.T) {
	store := newTestStore(t)
	w := newTestWAL(t)
	fillSectors(t, store, 1, 1, 1)

	broken := &failingStore{Store: store, failOn: resourceBatches}
	if _, err := NewBatchTrigger(broken, w, 1, testLogger()).CheckAndTrigger(context.Background()); err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if pendingCount(t, w) != 0 {
		t.Error("транзакция должна быть откачена")
	}
	sizes := loadBuckets(t, store).Sizes()
	if sizes[model.SectorSafe] != 1 || sizes[model.SectorModerate] != 1 || sizes[model.SectorHigh] != 1 {
		t.Errorf("корзины изменены: %v", sizes)
	}
	if batches, _ := NewBatchCatalog(store).List(context.Background()); len(batches) != 0 {
		t.Errorf("батч не должен сохраниться: %d", len(batches))
	}
}

func TestApprovedBatcher(t *testing.T) {
	f := newFeedbackFixture(t)
	w := newTestWAL(t)
	ctx := context.Background()

	a := f.record(t, "u", "safe", "safe")
	b := f.record(t, "u", "high", "high")
	c := f.record(t, "u", "moderate", "moderate")
	for _, id := range []string{a.ID, b.ID, c.ID} {
		f.submit(t, "u", id, "perfect", "")
	}
	f.ledger.AdminApprove(ctx, a.ID, "admin", "", "")
	f.ledger.AdminApprove(ctx, b.ID, "admin", "", "")

	batcher := NewApprovedBatcher(f.store, w, testLogger()).WithClock(f.clock.Now)
	batch, err := batcher.Run(ctx)
	if err != nil || batch == nil {
		t.Fatalf("Run: %v, %v", batch, err)
	}
	if batch.Name != "approved_batch_1" || batch.Source != model.BatchSourceApproved {
		t.Errorf("имя %q, источник %q", batch.Name, batch.Source)
	}
	ids := batch.RecordIDs()
	if len(ids) != 2 || !ids[a.ID] || !ids[b.ID] {
		t.Errorf("записи батча: %v", ids)
	}

	// Одобренные записи удалены из архива, остальные на месте
	if _, err := f.ledger.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("запись %s должна быть удалена: %v", a.ID, err)
	}
	if _, err := f.ledger.Get(ctx, c.ID); err != nil {
		t.Errorf("неодобренная запись удалена: %v", err)
	}
	// Корзины секторов этим путём не затрагиваются
	if sizes := loadBuckets(t, f.store).Sizes(); sizes[model.SectorSafe] != 1 || sizes[model.SectorHigh] != 1 {
		t.Errorf("корзины изменены: %v", sizes)
	}
	if pendingCount(t, w) != 0 {
		t.Error("WAL-запись должна быть закоммичена")
	}

	// Нет одобренных записей — нет батча
	again, err := batcher.Run(ctx)
	if err != nil || again != nil {
		t.Errorf("повторный запуск: %v, %v", again, err)
	}
}

func TestRecoverBatches_RollsBackMissingBatch(t *testing.T) {
	store := newTestStore(t)
	w := newTestWAL(t)
	fillSectors(t, store, 1, 1, 1)
	ctx := context.Background()

	if _, err := w.Begin(wal.OpSectorBatchEmit, wal.Intent{
		BatchID: "never-written", BatchName: "sector_batch_1", RecordIDs: []string{"safe-0"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Begin(wal.OpApprovedBatchEmit, wal.Intent{
		BatchID: "also-missing", BatchName: "approved_batch_1",
	}); err != nil {
		t.Fatal(err)
	}

	result, err := RecoverBatches(ctx, w,
		NewBatchTrigger(store, w, 1, testLogger()),
		NewApprovedBatcher(store, w, testLogger()),
		testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if result.RolledBack != 2 || result.RolledForward != 0 {
		t.Errorf("результат восстановления: %+v", result)
	}
	if sizes := loadBuckets(t, store).Sizes(); sizes[model.SectorSafe] != 1 {
		t.Errorf("откат не должен менять корзины: %v", sizes)
	}
	if pendingCount(t, w) != 0 {
		t.Error("pending записей быть не должно")
	}
}

func TestRecoverBatches_RollsForwardApproved(t *testing.T) {
	store := newTestStore(t)
	w := newTestWAL(t)
	ctx := context.Background()

	doc := model.FeedbackDocument{Records: []model.PredictionRecord{
		{ID: "r1", AdminApproved: true},
		{ID: "r2"},
	}}
	if err := docstore.Save(ctx, store, resourceFeedback, doc); err != nil {
		t.Fatal(err)
	}
	batch := &model.RetrainBatch{
		BatchID: "b-1", Name: "approved_batch_1", Source: model.BatchSourceApproved,
		Records: []model.PredictionRecord{doc.Records[0]},
	}
	if _, err := w.Begin(wal.OpApprovedBatchEmit, intentOf(batch)); err != nil {
		t.Fatal(err)
	}
	if err := appendBatch(ctx, store, batch); err != nil {
		t.Fatal(err)
	}

	result, err := RecoverBatches(ctx, w,
		NewBatchTrigger(store, w, 1, testLogger()),
		NewApprovedBatcher(store, w, testLogger()),
		testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if result.RolledForward != 1 {
		t.Errorf("результат восстановления: %+v", result)
	}
	left, _ := docstore.Load(ctx, store, resourceFeedback, model.FeedbackDocument{})
	if len(left.Records) != 1 || left.Records[0].ID != "r2" {
		t.Errorf("архив после восстановления: %+v", left.Records)
	}

	// Батч не дублируется при повторном добавлении
	if err := appendBatch(ctx, store, batch); err != nil {
		t.Fatal(err)
	}
	if all, _ := NewBatchCatalog(store).List(ctx); len(all) != 1 {
		t.Errorf("батчей %d, ожидался 1", len(all))
	}
}

func TestBatchCatalog_GetNotFound(t *testing.T) {
	if _, err := NewBatchCatalog(newTestStore(t)).Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}
