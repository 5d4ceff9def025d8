// batch.go — выпуск батчей переобучения.
//
// Два независимых пути:
//   - BatchTrigger — сбалансированный батч из трёх корзин секторов,
//     выпускается только когда каждая корзина заполнена до минимума;
//     корзины очищаются в той же записи документа sectors.
//   - ApprovedBatcher — еженедельный батч всех записей архива,
//     одобренных администратором; эти записи удаляются из архива.
//
// Каждый выпуск затрагивает два ресурса и защищён WAL-записью:
// намерение (id батча и записей) фиксируется до изменений, коммит — после.
// При рестарте незавершённая запись доводится до конца, если батч уже
// сохранён, или откатывается, если нет.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/feedback-ledger/internal/domain/model"
	"github.com/bigkaa/feedback-ledger/internal/storage/docstore"
	"github.com/bigkaa/feedback-ledger/internal/storage/wal"
)

// BatchCatalog — чтение выпущенных батчей.
type BatchCatalog struct {
	store docstore.Store
}

// NewBatchCatalog создаёт каталог батчей.
func NewBatchCatalog(store docstore.Store) *BatchCatalog {
	return &BatchCatalog{store: store}
}

// List возвращает все батчи в порядке выпуска.
func (c *BatchCatalog) List(ctx context.Context) ([]model.RetrainBatch, error) {
	doc, err := docstore.Load(ctx, c.store, resourceBatches, model.BatchesDocument{})
	if err != nil {
		return nil, err
	}
	return doc.Batches, nil
}

// Get возвращает батч по идентификатору или имени, либо ErrNotFound.
func (c *BatchCatalog) Get(ctx context.Context, idOrName string) (*model.RetrainBatch, error) {
	doc, err := docstore.Load(ctx, c.store, resourceBatches, model.BatchesDocument{})
	if err != nil {
		return nil, err
	}
	b := doc.Find(idOrName)
	if b == nil {
		return nil, fmt.Errorf("%w: батч %s", ErrNotFound, idOrName)
	}
	found := *b
	return &found, nil
}

// Sectors возвращает текущее содержимое корзин.
func (c *BatchCatalog) Sectors(ctx context.Context) (model.SectorBuckets, error) {
	return docstore.Load(ctx, c.store, resourceSectors, emptyBuckets())
}

// nextBatchName возвращает имя следующего батча источника: <source>_batch_N.
// Батчи одного источника выпускаются только под блокировкой их исходного
// ресурса, поэтому имя, вычисленное внутри этой блокировки, не меняется
// до записи батча.
func nextBatchName(ctx context.Context, store docstore.Store, source model.BatchSource) (string, error) {
	doc, err := docstore.Load(ctx, store, resourceBatches, model.BatchesDocument{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_batch_%d", source, doc.CountBySource(source)+1), nil
}

// appendBatch добавляет батч в документ batches.
// Вызывается внутри Mutate исходного ресурса.
func appendBatch(ctx context.Context, store docstore.Store, batch *model.RetrainBatch) error {
	return docstore.Mutate(ctx, store, resourceBatches, model.BatchesDocument{}, func(_ context.Context, doc *model.BatchesDocument) error {
		if doc.Find(batch.BatchID) != nil {
			return docstore.ErrNoChange
		}
		doc.Batches = append(doc.Batches, *batch)
		return nil
	})
}

// batchExists проверяет, сохранён ли батч с указанным идентификатором.
func batchExists(ctx context.Context, store docstore.Store, batchID string) (bool, error) {
	doc, err := docstore.Load(ctx, store, resourceBatches, model.BatchesDocument{})
	if err != nil {
		return false, err
	}
	return doc.Find(batchID) != nil, nil
}

// BatchTrigger — выпуск сбалансированного батча из корзин секторов.
type BatchTrigger struct {
	store        docstore.Store
	wal          *wal.WAL
	minPerSector int
	logger       *slog.Logger
	now          func() time.Time
}

// NewBatchTrigger создаёт BatchTrigger. minPerSector < 1 трактуется как 1.
func NewBatchTrigger(store docstore.Store, w *wal.WAL, minPerSector int, logger *slog.Logger) *BatchTrigger {
	return &BatchTrigger{
		store:        store,
		wal:          w,
		minPerSector: max(minPerSector, 1),
		logger:       logger.With(slog.String("component", "batch-trigger")),
		now:          time.Now,
	}
}

// WithClock подменяет источник времени (для тестов).
func (t *BatchTrigger) WithClock(now func() time.Time) *BatchTrigger {
	t.now = now
	return t
}

// CheckAndTrigger выпускает батч, если в каждой корзине не меньше
// minPerSector записей. Записи берутся в порядке safe, moderate, high;
// все три корзины очищаются одной записью документа sectors.
// Если условие не выполнено, возвращает nil без ошибки.
func (t *BatchTrigger) CheckAndTrigger(ctx context.Context) (*model.RetrainBatch, error) {
	var batch *model.RetrainBatch
	var entry *wal.Entry

	err := docstore.Mutate(ctx, t.store, resourceSectors, emptyBuckets(), func(ctx context.Context, b *model.SectorBuckets) error {
		sizes := b.Sizes()
		for _, s := range model.Sectors {
			if sizes[s] < t.minPerSector {
				t.logger.Debug("Не все секторы заполнены",
					slog.Int("safe", sizes[model.SectorSafe]),
					slog.Int("moderate", sizes[model.SectorModerate]),
					slog.Int("high", sizes[model.SectorHigh]),
					slog.Int("min_per_sector", t.minPerSector),
				)
				return docstore.ErrNoChange
			}
		}

		records := make([]model.PredictionRecord, 0, len(b.Safe)+len(b.Moderate)+len(b.High))
		for _, s := range model.Sectors {
			records = append(records, *b.Bucket(s)...)
		}
		name, err := nextBatchName(ctx, t.store, model.BatchSourceSector)
		if err != nil {
			return err
		}
		candidate := &model.RetrainBatch{
			BatchID:   uuid.NewString(),
			Name:      name,
			Source:    model.BatchSourceSector,
			Records:   records,
			CreatedAt: t.now().UTC(),
		}

		entry, err = t.wal.Begin(wal.OpSectorBatchEmit, intentOf(candidate))
		if err != nil {
			return fmt.Errorf("ошибка WAL: %w", err)
		}
		if err := appendBatch(ctx, t.store, candidate); err != nil {
			return err
		}

		b.Clear()
		observeBucketSizes(b)
		batch = candidate
		return nil
	})
	if err != nil {
		if entry != nil {
			t.settle(ctx, entry)
		}
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}

	if err := t.wal.Commit(entry.TransactionID); err != nil {
		t.logger.Error("Ошибка коммита WAL, запись будет обработана при восстановлении",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	batchesEmittedTotal.WithLabelValues(string(model.BatchSourceSector)).Inc()
	t.logger.Info("Батч из секторов выпущен",
		slog.String("batch_id", batch.BatchID),
		slog.String("name", batch.Name),
		slog.Int("records", len(batch.Records)),
	)
	return batch, nil
}

// settle доводит до конца или откатывает транзакцию после сбоя.
// Если и это не удалось, запись остаётся pending до рестарта.
func (t *BatchTrigger) settle(ctx context.Context, entry *wal.Entry) {
	if _, err := t.resolve(ctx, entry); err != nil {
		t.logger.Error("Не удалось завершить транзакцию выпуска батча",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", err.Error()),
		)
	}
}

// resolve завершает незавершённую транзакцию: если батч сохранён,
// удаляет его записи из корзин и коммитит, иначе откатывает.
// Возвращает true при доведении до конца.
func (t *BatchTrigger) resolve(ctx context.Context, entry *wal.Entry) (bool, error) {
	exists, err := batchExists(ctx, t.store, entry.BatchID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, t.wal.Rollback(entry.TransactionID, "батч не сохранён")
	}

	ids := idSet(entry.RecordIDs)
	err = docstore.Mutate(ctx, t.store, resourceSectors, emptyBuckets(), func(_ context.Context, b *model.SectorBuckets) error {
		if b.Remove(ids) == 0 {
			return docstore.ErrNoChange
		}
		observeBucketSizes(b)
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, t.wal.Commit(entry.TransactionID)
}

// ApprovedBatcher — еженедельный батч записей, одобренных администратором.
type ApprovedBatcher struct {
	store  docstore.Store
	wal    *wal.WAL
	logger *slog.Logger
	now    func() time.Time
}

// NewApprovedBatcher создаёт ApprovedBatcher.
func NewApprovedBatcher(store docstore.Store, w *wal.WAL, logger *slog.Logger) *ApprovedBatcher {
	return &ApprovedBatcher{
		store:  store,
		wal:    w,
		logger: logger.With(slog.String("component", "approved-batcher")),
		now:    time.Now,
	}
}

// WithClock подменяет источник времени (для тестов).
func (a *ApprovedBatcher) WithClock(now func() time.Time) *ApprovedBatcher {
	a.now = now
	return a
}

// Run собирает все записи архива с admin_approved = true в батч
// approved_batch_N и удаляет ровно эти записи из архива. Баланс
// секторов не проверяется. Нет одобренных записей — nil без ошибки.
func (a *ApprovedBatcher) Run(ctx context.Context) (*model.RetrainBatch, error) {
	var batch *model.RetrainBatch
	var entry *wal.Entry

	err := docstore.Mutate(ctx, a.store, resourceFeedback, model.FeedbackDocument{}, func(ctx context.Context, doc *model.FeedbackDocument) error {
		approved := make([]model.PredictionRecord, 0)
		kept := make([]model.PredictionRecord, 0, len(doc.Records))
		for _, rec := range doc.Records {
			if rec.AdminApproved {
				approved = append(approved, rec)
			} else {
				kept = append(kept, rec)
			}
		}
		if len(approved) == 0 {
			return docstore.ErrNoChange
		}

		name, err := nextBatchName(ctx, a.store, model.BatchSourceApproved)
		if err != nil {
			return err
		}
		candidate := &model.RetrainBatch{
			BatchID:   uuid.NewString(),
			Name:      name,
			Source:    model.BatchSourceApproved,
			Records:   approved,
			CreatedAt: a.now().UTC(),
		}

		entry, err = a.wal.Begin(wal.OpApprovedBatchEmit, intentOf(candidate))
		if err != nil {
			return fmt.Errorf("ошибка WAL: %w", err)
		}
		if err := appendBatch(ctx, a.store, candidate); err != nil {
			return err
		}

		doc.Records = kept
		batch = candidate
		return nil
	})
	if err != nil {
		if entry != nil {
			if _, rerr := a.resolve(ctx, entry); rerr != nil {
				a.logger.Error("Не удалось завершить транзакцию выпуска батча",
					slog.String("tx_id", entry.TransactionID),
					slog.String("error", rerr.Error()),
				)
			}
		}
		return nil, err
	}
	if batch == nil {
		a.logger.Info("Нет одобренных записей для еженедельного батча")
		return nil, nil
	}

	if err := a.wal.Commit(entry.TransactionID); err != nil {
		a.logger.Error("Ошибка коммита WAL, запись будет обработана при восстановлении",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	batchesEmittedTotal.WithLabelValues(string(model.BatchSourceApproved)).Inc()
	a.logger.Info("Еженедельный батч одобренных записей выпущен",
		slog.String("batch_id", batch.BatchID),
		slog.String("name", batch.Name),
		slog.Int("records", len(batch.Records)),
	)
	return batch, nil
}

// resolve завершает незавершённую транзакцию: если батч сохранён,
// удаляет его записи из архива и коммитит, иначе откатывает.
func (a *ApprovedBatcher) resolve(ctx context.Context, entry *wal.Entry) (bool, error) {
	exists, err := batchExists(ctx, a.store, entry.BatchID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, a.wal.Rollback(entry.TransactionID, "батч не сохранён")
	}

	ids := idSet(entry.RecordIDs)
	err = docstore.Mutate(ctx, a.store, resourceFeedback, model.FeedbackDocument{}, func(_ context.Context, doc *model.FeedbackDocument) error {
		kept := doc.Records[:0]
		for _, rec := range doc.Records {
			if !ids[rec.ID] {
				kept = append(kept, rec)
			}
		}
		if len(kept) == len(doc.Records) {
			return docstore.ErrNoChange
		}
		doc.Records = kept
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, a.wal.Commit(entry.TransactionID)
}

// RecoveryResult — итог восстановления незавершённых выпусков батчей.
type RecoveryResult struct {
	RolledForward int
	RolledBack    int
	Failed        int
}

// RecoverBatches обрабатывает pending WAL-записи выпуска батчей.
// Вызывается при старте до запуска HTTP-сервера и планировщика.
func RecoverBatches(
	ctx context.Context,
	w *wal.WAL,
	trigger *BatchTrigger,
	approved *ApprovedBatcher,
	logger *slog.Logger,
) (*RecoveryResult, error) {
	log := logger.With(slog.String("component", "batch-recovery"))

	pending, err := w.Pending()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения WAL: %w", err)
	}

	result := &RecoveryResult{}
	for _, entry := range pending {
		var forward bool
		var rerr error
		switch entry.Operation {
		case wal.OpSectorBatchEmit:
			forward, rerr = trigger.resolve(ctx, entry)
		case wal.OpApprovedBatchEmit:
			forward, rerr = approved.resolve(ctx, entry)
		default:
			log.Warn("Неизвестная операция WAL, запись пропущена",
				slog.String("tx_id", entry.TransactionID),
				slog.String("operation", string(entry.Operation)),
			)
			result.Failed++
			continue
		}

		if rerr != nil {
			result.Failed++
			log.Error("Ошибка восстановления транзакции",
				slog.String("tx_id", entry.TransactionID),
				slog.String("batch_id", entry.BatchID),
				slog.String("error", rerr.Error()),
			)
			continue
		}
		if forward {
			result.RolledForward++
		} else {
			result.RolledBack++
		}
		log.Info("Транзакция выпуска батча восстановлена",
			slog.String("tx_id", entry.TransactionID),
			slog.String("batch_id", entry.BatchID),
			slog.Bool("rolled_forward", forward),
		)
	}
	return result, nil
}

func intentOf(b *model.RetrainBatch) wal.Intent {
	ids := make([]string, 0, len(b.Records))
	for _, r := range b.Records {
		ids = append(ids, r.ID)
	}
	return wal.Intent{BatchID: b.BatchID, BatchName: b.Name, RecordIDs: ids}
}

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
