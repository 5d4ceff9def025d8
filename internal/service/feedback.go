// feedback.go — архив предсказаний и жизненный цикл отзывов.
//
// Архив хранится в ресурсе "feedback". Одобренные записи копируются
// в корзины секторов ("sectors") во вложенном Update, порядок блокировок
// всегда feedback → sectors. Если после изменения корзин запись архива
// не удалась, изменение корзин отменяется; в PostgreSQL вложенный Update
// откатывается вместе с внешним.
package service

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/bigkaa/feedback-ledger/internal/domain/lifecycle"
	"github.com/bigkaa/feedback-ledger/internal/domain/model"
	"github.com/bigkaa/feedback-ledger/internal/domain/policy"
	"github.com/bigkaa/feedback-ledger/internal/storage/docstore"
)

// Ограничения выборки последних отзывов. DefaultRecentLimit подставляется,
// если limit не задан в запросе.
const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

// PredictionInput — результат классификации одного медиафайла.
type PredictionInput struct {
	User             string       `json:"user"`
	MediaRef         string       `json:"media_ref"`
	Primary          model.Result `json:"primary_result"`
	Secondary        model.Result `json:"secondary_result"`
	SecondaryModelID string       `json:"secondary_model_id"`
	// APIKey — ключ клиента, если запрос пришёл по API-ключу (для журнала использования)
	APIKey string `json:"-"`
}

// FeedbackEntry — оценка пользователем одной записи.
type FeedbackEntry struct {
	RecordID       string `json:"feedback_id"`
	Chosen         string `json:"chosen"`
	SuggestedLabel string `json:"suggested_label,omitempty"`
	CorrectLabel   string `json:"correct_label,omitempty"`
}

// FeedbackLedger — операции над архивом предсказаний.
type FeedbackLedger struct {
	store          docstore.Store
	policy         policy.DisagreementPolicy
	approvalWindow time.Duration
	usage          *UsageLedger
	logger         *slog.Logger
	now            func() time.Time
}

// NewFeedbackLedger создаёт FeedbackLedger. usage может быть nil.
func NewFeedbackLedger(
	store docstore.Store,
	pol policy.DisagreementPolicy,
	approvalWindow time.Duration,
	usage *UsageLedger,
	logger *slog.Logger,
) *FeedbackLedger {
	if pol == nil {
		pol = policy.SecondaryWins
	}
	return &FeedbackLedger{
		store:          store,
		policy:         pol,
		approvalWindow: approvalWindow,
		usage:          usage,
		logger:         logger.With(slog.String("component", "feedback")),
		now:            time.Now,
	}
}

// WithClock подменяет источник времени (для тестов).
func (l *FeedbackLedger) WithClock(now func() time.Time) *FeedbackLedger {
	l.now = now
	return l
}

// RecordPrediction сохраняет результат классификации в архиве.
//
// При расхождении меток запись помечается disagreement, correct_label
// получает значение политики расхождений, а для приоритетной проверки
// создаётся документ priority/<id>. Сравнение классификаторов и артефакт
// проверки пишутся после основной записи; их ошибки только логируются.
func (l *FeedbackLedger) RecordPrediction(ctx context.Context, in PredictionInput) (*model.PredictionRecord, error) {
	if in.User == "" {
		return nil, invalidInput("пустой пользователь")
	}
	if in.MediaRef == "" {
		return nil, invalidInput("пустая ссылка на медиафайл")
	}
	if err := in.Primary.Validate(); err != nil {
		return nil, invalidInput("primary_result: %s", err.Error())
	}
	if err := in.Secondary.Validate(); err != nil {
		return nil, invalidInput("secondary_result: %s", err.Error())
	}

	now := l.now().UTC()
	rec := model.PredictionRecord{
		ID:               newID(12),
		User:             in.User,
		MediaRef:         in.MediaRef,
		PrimaryResult:    in.Primary,
		SecondaryResult:  in.Secondary,
		SecondaryModelID: in.SecondaryModelID,
		Disagreement:     in.Primary.Label != in.Secondary.Label,
		CreatedAt:        now,
	}
	if rec.Disagreement {
		rec.CorrectLabel = l.policy(in.Primary, in.Secondary)
	}

	err := docstore.Mutate(ctx, l.store, resourceFeedback, model.FeedbackDocument{}, func(_ context.Context, doc *model.FeedbackDocument) error {
		doc.Records = append(doc.Records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	predictionsTotal.WithLabelValues(strconv.FormatBool(rec.Disagreement)).Inc()
	lifecycleTransitionsTotal.WithLabelValues(string(lifecycle.StateRecorded)).Inc()
	l.logger.Info("Предсказание записано",
		slog.String("record_id", rec.ID),
		slog.String("user", rec.User),
		slog.String("media_ref", rec.MediaRef),
		slog.String("secondary_model_id", rec.SecondaryModelID),
		slog.Bool("disagreement", rec.Disagreement),
	)

	l.writeComparison(ctx, &rec)
	if rec.Disagreement {
		l.flagForReview(ctx, &rec)
		if l.usage != nil {
			l.usage.RecordDisagreement(ctx, in.APIKey)
		}
	}

	return &rec, nil
}

// SubmitFeedback применяет оценку пользователя к записи.
//
// Возвращает false (с записью в лог) для неизвестной записи, недопустимой
// оценки и correct_label вне списка секторов. Запись, уже рассмотренная
// администратором, открывается заново: одобрение снимается, копия
// удаляется из корзины сектора, срок ожидания отсчитывается заново.
// Если копия уже ушла в батч дообучения, оценка отклоняется. Ошибка
// возвращается только при сбое хранилища.
func (l *FeedbackLedger) SubmitFeedback(ctx context.Context, user string, entry FeedbackEntry) (bool, error) {
	result, err := l.submit(ctx, user, []FeedbackEntry{entry})
	if err != nil {
		return false, err
	}
	if result.applied == 0 {
		return false, nil
	}

	l.observeSubmitted(result)
	l.logger.Info("Отзыв принят",
		slog.String("user", user),
		slog.String("record_id", entry.RecordID),
		slog.String("chosen", entry.Chosen),
		slog.Bool("reopened", result.reopened > 0),
	)
	return true, nil
}

// SubmitBulkFeedback применяет оценки пакетом в одной записи документа.
// Каждый элемент обрабатывается как в SubmitFeedback, некорректные
// пропускаются. Возвращает true, если обновлена хотя бы одна запись.
func (l *FeedbackLedger) SubmitBulkFeedback(ctx context.Context, user string, entries []FeedbackEntry) (bool, error) {
	if user == "" || len(entries) == 0 {
		l.logger.Warn("Пакет отзывов отклонён: пустой пользователь или список",
			slog.String("user", user),
			slog.Int("entries", len(entries)),
		)
		return false, nil
	}

	result, err := l.submit(ctx, user, entries)
	if err != nil {
		return false, err
	}
	if result.applied == 0 {
		return false, nil
	}

	l.observeSubmitted(result)
	l.logger.Info("Пакет отзывов принят",
		slog.String("user", user),
		slog.Int("updated", result.applied),
		slog.Int("reopened", result.reopened),
		slog.Int("total", len(entries)),
	)
	return true, nil
}

// submitResult — итог применения оценок.
type submitResult struct {
	applied  int
	reopened int
}

// acceptedEntry — оценка, прошедшая проверку.
type acceptedEntry struct {
	entry  FeedbackEntry
	chosen model.Choice
}

// submit применяет оценки в одном Mutate архива. Копии открываемых
// заново записей удаляются из корзин во вложенном Update; при сбое
// записи архива удаление отменяется.
func (l *FeedbackLedger) submit(ctx context.Context, user string, entries []FeedbackEntry) (submitResult, error) {
	var result submitResult
	var change *sectorChange
	now := l.now().UTC()

	err := docstore.Mutate(ctx, l.store, resourceFeedback, model.FeedbackDocument{}, func(ctx context.Context, doc *model.FeedbackDocument) error {
		result = submitResult{}
		change = nil

		var valid []acceptedEntry
		var sectored []string
		for _, entry := range entries {
			chosen, reason := l.checkFeedback(doc, user, entry)
			if reason != "" {
				l.rejectFeedback(user, entry, reason)
				continue
			}
			valid = append(valid, acceptedEntry{entry: entry, chosen: chosen})
			if rec := doc.Find(entry.RecordID); rec.SectoredAt != nil {
				sectored = append(sectored, rec.ID)
			}
		}
		if len(valid) == 0 {
			return docstore.ErrNoChange
		}

		inBuckets := map[string]bool{}
		if len(sectored) > 0 {
			removed, err := l.removeFromSectors(ctx, sectored)
			if err != nil {
				return err
			}
			change = removed
			for _, p := range removed.previous {
				inBuckets[p.record.ID] = true
			}
		}

		for _, a := range valid {
			rec := doc.Find(a.entry.RecordID)
			if rec.SectoredAt != nil && !inBuckets[rec.ID] {
				l.rejectFeedback(user, a.entry, "копия записи уже передана в батч дообучения")
				continue
			}
			if rec.AdminReviewed {
				result.reopened++
			}
			l.applyFeedback(rec, a.entry, a.chosen, now)
			result.applied++
		}
		if result.applied == 0 {
			return docstore.ErrNoChange
		}
		return nil
	})
	if err != nil {
		l.revertSectors(ctx, change)
		return submitResult{}, err
	}
	return result, nil
}

// checkFeedback проверяет оценку. Возвращает причину отказа или пустую
// строку, если оценку можно применить.
func (l *FeedbackLedger) checkFeedback(doc *model.FeedbackDocument, user string, entry FeedbackEntry) (model.Choice, string) {
	if user == "" || entry.RecordID == "" {
		return "", "пустой пользователь или идентификатор записи"
	}
	chosen, err := model.ParseChoice(entry.Chosen)
	if err != nil {
		return "", err.Error()
	}
	if entry.CorrectLabel != "" && !model.IsSector(entry.CorrectLabel) {
		return "", "correct_label не является сектором"
	}

	rec := doc.Find(entry.RecordID)
	if rec == nil {
		return "", "запись не найдена"
	}
	if err := lifecycle.Check(rec, lifecycle.StateUserChosen); err != nil {
		return "", err.Error()
	}
	return chosen, ""
}

// applyFeedback записывает оценку. Решение администратора или
// автоодобрение по прежней оценке снимается.
func (l *FeedbackLedger) applyFeedback(rec *model.PredictionRecord, entry FeedbackEntry, chosen model.Choice, now time.Time) {
	rec.Chosen = chosen
	rec.SuggestedLabel = entry.SuggestedLabel
	if chosen == model.ChoiceWrong {
		rec.CorrectLabel = entry.CorrectLabel
	} else {
		rec.CorrectLabel = ""
	}
	deadline := now.Add(l.approvalWindow)
	rec.ApprovalDeadline = &deadline
	rec.UserFeedbackAt = &now

	rec.AdminReviewed = false
	rec.AdminApproved = false
	rec.AdminApprovedAt = nil
	rec.OverrideLabel = ""
	rec.OverrideReason = ""
	rec.AutoApproved = false
	rec.AutoApprovedAt = nil
	rec.FinalLabel = ""
	rec.SectoredAt = nil
}

func (l *FeedbackLedger) observeSubmitted(result submitResult) {
	feedbackSubmissionsTotal.WithLabelValues("accepted").Add(float64(result.applied))
	lifecycleTransitionsTotal.WithLabelValues(string(lifecycle.StateUserChosen)).Add(float64(result.applied))
}

func (l *FeedbackLedger) rejectFeedback(user string, entry FeedbackEntry, reason string) {
	feedbackSubmissionsTotal.WithLabelValues("rejected").Inc()
	l.logger.Warn("Отзыв отклонён",
		slog.String("user", user),
		slog.String("record_id", entry.RecordID),
		slog.String("chosen", entry.Chosen),
		slog.String("reason", reason),
	)
}

// AdminApprove одобряет запись и помещает её копию в корзину сектора.
//
// overrideLabel (если задан) должен быть сектором и заменяет метку,
// по которой выбирается корзина; reason сохраняется вместе с ним.
// Повторное одобрение обновляет отметку времени; копия перемещается
// в другую корзину только при смене итоговой метки. Каждое одобрение
// добавляет запись в журнал аудита. Неизвестная запись — false.
func (l *FeedbackLedger) AdminApprove(ctx context.Context, recordID, adminUser, overrideLabel, reason string) (bool, error) {
	if overrideLabel != "" && !model.IsSector(overrideLabel) {
		return false, invalidInput("override_label %q не является сектором", overrideLabel)
	}

	now := l.now().UTC()
	found := false
	var audit model.AuditEntry
	var target lifecycle.State
	var change *sectorChange

	err := docstore.Mutate(ctx, l.store, resourceFeedback, model.FeedbackDocument{}, func(ctx context.Context, doc *model.FeedbackDocument) error {
		change = nil
		rec := doc.Find(recordID)
		if rec == nil {
			return docstore.ErrNoChange
		}
		found = true
		if err := lifecycle.Check(rec, lifecycle.StateApproved); err != nil {
			return err
		}

		originalLabel := rec.FinalLabel
		if originalLabel == "" {
			originalLabel = string(rec.Chosen)
		}
		sector, ok := policy.ResolveSector(rec, overrideLabel)
		finalLabel := string(sector)
		relabeled := rec.FinalLabel != finalLabel

		rec.AdminApproved = true
		rec.AdminReviewed = true
		rec.AdminApprovedAt = &now
		rec.AdminUser = adminUser
		if overrideLabel != "" {
			rec.OverrideLabel = overrideLabel
			rec.OverrideReason = reason
		}
		rec.FinalLabel = finalLabel
		target = lifecycle.StateApproved

		audit = model.AuditEntry{
			ID:            newID(12),
			FeedbackID:    rec.ID,
			Action:        model.AuditApprove,
			AdminUser:     adminUser,
			OriginalLabel: originalLabel,
			FinalLabel:    finalLabel,
			Override:      overrideLabel != "",
			Reason:        reason,
			Timestamp:     now,
		}

		if !ok {
			l.logger.Warn("Сектор записи не определён, запись одобрена без сектора",
				slog.String("record_id", rec.ID),
				slog.String("chosen", string(rec.Chosen)),
			)
			return nil
		}
		if rec.SectoredAt != nil && !relabeled {
			return nil
		}

		rec.SectoredAt = &now
		target = lifecycle.StateSectored
		placed, err := l.placeInSectors(ctx, []placement{{sector: sector, record: *rec}})
		if err != nil {
			return err
		}
		change = placed
		return nil
	})
	if err != nil {
		l.revertSectors(ctx, change)
		return false, err
	}
	if !found {
		l.logger.Warn("Запись для одобрения не найдена", slog.String("record_id", recordID))
		return false, nil
	}

	lifecycleTransitionsTotal.WithLabelValues(string(target)).Inc()
	l.logger.Info("Запись одобрена администратором",
		slog.String("record_id", recordID),
		slog.String("admin_user", adminUser),
		slog.String("final_label", audit.FinalLabel),
		slog.Bool("override", audit.Override),
	)
	l.appendAudit(ctx, audit)
	return true, nil
}

// AdminLabel выставляет оценку записи от имени администратора, минуя
// пользователя. Допустимо только для записей, ещё не рассмотренных
// администратором. Запускает срок ожидания одобрения, если он не задан.
func (l *FeedbackLedger) AdminLabel(ctx context.Context, recordID, label, adminUser string) (bool, error) {
	chosen, err := model.ParseChoice(label)
	if err != nil {
		l.logger.Warn("Разметка отклонена",
			slog.String("record_id", recordID),
			slog.String("reason", err.Error()),
		)
		return false, nil
	}

	now := l.now().UTC()
	applied := false
	var audit model.AuditEntry

	err = docstore.Mutate(ctx, l.store, resourceFeedback, model.FeedbackDocument{}, func(_ context.Context, doc *model.FeedbackDocument) error {
		rec := doc.Find(recordID)
		if rec == nil {
			l.logger.Warn("Запись для разметки не найдена", slog.String("record_id", recordID))
			return docstore.ErrNoChange
		}
		if rec.AdminReviewed {
			l.logger.Warn("Разметка отклонена: запись уже рассмотрена",
				slog.String("record_id", recordID),
			)
			return docstore.ErrNoChange
		}
		if err := lifecycle.Check(rec, lifecycle.StateUserChosen); err != nil {
			return err
		}

		audit = model.AuditEntry{
			ID:            newID(12),
			FeedbackID:    rec.ID,
			Action:        model.AuditLabel,
			AdminUser:     adminUser,
			OriginalLabel: string(rec.Chosen),
			FinalLabel:    string(chosen),
			Timestamp:     now,
		}

		rec.Chosen = chosen
		if chosen != model.ChoiceWrong {
			rec.CorrectLabel = ""
		}
		rec.AdminLabeled = true
		rec.AdminLabeledAt = &now
		if adminUser != "" {
			rec.AdminUser = adminUser
		}
		if rec.ApprovalDeadline == nil {
			deadline := now.Add(l.approvalWindow)
			rec.ApprovalDeadline = &deadline
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	lifecycleTransitionsTotal.WithLabelValues(string(lifecycle.StateUserChosen)).Inc()
	l.logger.Info("Запись размечена администратором",
		slog.String("record_id", recordID),
		slog.String("admin_user", adminUser),
		slog.String("label", string(chosen)),
	)
	l.appendAudit(ctx, audit)
	return true, nil
}

// SweepDeadlines одобряет автоматически записи, у которых истёк срок
// ожидания решения администратора, и помещает их в корзины секторов.
// Повторный запуск не меняет уже обработанные записи.
func (l *FeedbackLedger) SweepDeadlines(ctx context.Context) (int, error) {
	now := l.now().UTC()
	approved := 0
	sectored := 0
	var change *sectorChange

	err := docstore.Mutate(ctx, l.store, resourceFeedback, model.FeedbackDocument{}, func(ctx context.Context, doc *model.FeedbackDocument) error {
		approved, sectored, change = 0, 0, nil
		var placements []placement
		for i := range doc.Records {
			rec := &doc.Records[i]
			if rec.Chosen == "" || rec.AdminReviewed || rec.ApprovalDeadline == nil {
				continue
			}
			if rec.ApprovalDeadline.After(now) {
				continue
			}
			if lifecycle.Check(rec, lifecycle.StateAutoApproved) != nil {
				continue
			}

			rec.AutoApproved = true
			rec.AutoApprovedAt = &now
			rec.AdminReviewed = true
			approved++

			sector, ok := policy.ResolveSector(rec, "")
			if !ok {
				l.logger.Warn("Сектор записи не определён, запись одобрена без сектора",
					slog.String("record_id", rec.ID),
					slog.String("chosen", string(rec.Chosen)),
				)
				continue
			}
			rec.FinalLabel = string(sector)
			rec.SectoredAt = &now
			placements = append(placements, placement{sector: sector, record: *rec})
		}

		if approved == 0 {
			return docstore.ErrNoChange
		}
		sectored = len(placements)
		if sectored == 0 {
			return nil
		}
		placed, err := l.placeInSectors(ctx, placements)
		if err != nil {
			return err
		}
		change = placed
		return nil
	})
	if err != nil {
		l.revertSectors(ctx, change)
		return 0, err
	}

	if approved > 0 {
		lifecycleTransitionsTotal.WithLabelValues(string(lifecycle.StateAutoApproved)).Add(float64(approved))
		lifecycleTransitionsTotal.WithLabelValues(string(lifecycle.StateSectored)).Add(float64(sectored))
		l.logger.Info("Записи одобрены по истечении срока",
			slog.Int("approved", approved),
			slog.Int("sectored", sectored),
		)
	}
	return approved, nil
}

// Get возвращает запись архива или ErrNotFound.
func (l *FeedbackLedger) Get(ctx context.Context, recordID string) (*model.PredictionRecord, error) {
	doc, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	rec := doc.Find(recordID)
	if rec == nil {
		return nil, ErrNotFound
	}
	found := *rec
	return &found, nil
}

// RecentFeedback возвращает последние записи архива, новые первыми.
// limit больше MaxRecentLimit урезается; при limit <= 0 список пуст.
func (l *FeedbackLedger) RecentFeedback(ctx context.Context, limit int) ([]model.PredictionRecord, error) {
	if limit <= 0 {
		return []model.PredictionRecord{}, nil
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	doc, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	records := newestFirst(doc.Records)
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// PendingFeedback возвращает записи пользователя без оценки, новые первыми.
func (l *FeedbackLedger) PendingFeedback(ctx context.Context, user string) ([]model.PredictionRecord, error) {
	if user == "" {
		return nil, invalidInput("пустой пользователь")
	}
	doc, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	pending := make([]model.PredictionRecord, 0)
	for _, rec := range doc.Records {
		if rec.User == user && rec.Chosen == "" {
			pending = append(pending, rec)
		}
	}
	return newestFirst(pending), nil
}

// FeedbackStats возвращает распределение оценок пользователя.
// Пустой user — по всем пользователям.
func (l *FeedbackLedger) FeedbackStats(ctx context.Context, user string) (model.FeedbackCounts, error) {
	doc, err := l.load(ctx)
	if err != nil {
		return model.FeedbackCounts{}, err
	}
	var counts model.FeedbackCounts
	for _, rec := range doc.Records {
		if user != "" && rec.User != user {
			continue
		}
		countChoice(&counts, rec.Chosen)
	}
	return counts, nil
}

// ApprovedRecords возвращает записи архива, одобренные администратором.
func (l *FeedbackLedger) ApprovedRecords(ctx context.Context) ([]model.PredictionRecord, error) {
	doc, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	approved := make([]model.PredictionRecord, 0)
	for _, rec := range doc.Records {
		if rec.AdminApproved {
			approved = append(approved, rec)
		}
	}
	return approved, nil
}

func (l *FeedbackLedger) load(ctx context.Context) (model.FeedbackDocument, error) {
	return docstore.Load(ctx, l.store, resourceFeedback, model.FeedbackDocument{})
}

// sectorChange — изменение корзин, зафиксированное вложенным Update.
type sectorChange struct {
	// placed — помещённые копии
	placed []placement
	// previous — прежние копии затронутых записей (вытесненные или удалённые)
	previous []placement
}

// placeInSectors помещает копии записей в корзины. Вызывается внутри
// Mutate ресурса feedback с его контекстом.
func (l *FeedbackLedger) placeInSectors(ctx context.Context, placements []placement) (*sectorChange, error) {
	change := &sectorChange{placed: placements}
	err := docstore.Mutate(ctx, l.store, resourceSectors, emptyBuckets(), func(_ context.Context, b *model.SectorBuckets) error {
		change.previous = nil
		for _, p := range placements {
			if sector, prev, ok := b.Lookup(p.record.ID); ok {
				change.previous = append(change.previous, placement{sector: sector, record: prev})
			}
			b.Place(p.sector, p.record)
		}
		observeBucketSizes(b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// removeFromSectors удаляет копии записей из корзин. В previous
// попадают только найденные копии.
func (l *FeedbackLedger) removeFromSectors(ctx context.Context, ids []string) (*sectorChange, error) {
	change := &sectorChange{}
	err := docstore.Mutate(ctx, l.store, resourceSectors, emptyBuckets(), func(_ context.Context, b *model.SectorBuckets) error {
		change.previous = nil
		for _, id := range ids {
			if sector, prev, ok := b.Lookup(id); ok {
				change.previous = append(change.previous, placement{sector: sector, record: prev})
			}
		}
		if len(change.previous) == 0 {
			return docstore.ErrNoChange
		}
		b.Remove(idSet(ids))
		observeBucketSizes(b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// revertSectors возвращает корзины к состоянию до change после сбоя
// записи архива. В хранилищах, где вложенный Update откатывается вместе
// с внешним, отменять нечего.
func (l *FeedbackLedger) revertSectors(ctx context.Context, change *sectorChange) {
	if change == nil || docstore.NestedUpdatesAtomic(l.store) {
		return
	}

	ids := make(map[string]bool, len(change.placed))
	for _, p := range change.placed {
		ids[p.record.ID] = true
	}
	missing := 0
	err := docstore.Mutate(context.WithoutCancel(ctx), l.store, resourceSectors, emptyBuckets(), func(_ context.Context, b *model.SectorBuckets) error {
		missing = len(ids) - b.Remove(ids)
		for _, p := range change.previous {
			b.Place(p.sector, p.record)
		}
		observeBucketSizes(b)
		return nil
	})
	if err != nil {
		l.logger.Error("Не удалось отменить изменение корзин после сбоя записи архива",
			slog.Int("placed", len(change.placed)),
			slog.Int("previous", len(change.previous)),
			slog.String("error", err.Error()),
		)
		return
	}
	if missing > 0 {
		l.logger.Error("Копии записей уже переданы в батч до отмены изменения корзин",
			slog.Int("missing", missing),
		)
	}
}

func (l *FeedbackLedger) writeComparison(ctx context.Context, rec *model.PredictionRecord) {
	cmp := model.ComparisonRecord{
		ID:                  newID(12),
		RecordID:            rec.ID,
		MediaRef:            rec.MediaRef,
		PrimaryLabel:        rec.PrimaryResult.Label,
		PrimaryConfidence:   rec.PrimaryResult.Confidence,
		SecondaryLabel:      rec.SecondaryResult.Label,
		SecondaryConfidence: rec.SecondaryResult.Confidence,
		SecondaryModelID:    rec.SecondaryModelID,
		Disagreement:        rec.Disagreement,
		Timestamp:           rec.CreatedAt,
	}
	err := docstore.Mutate(ctx, l.store, resourceComparisons, model.ComparisonsDocument{}, func(_ context.Context, doc *model.ComparisonsDocument) error {
		doc.Comparisons = append(doc.Comparisons, cmp)
		return nil
	})
	if err != nil {
		l.logger.Warn("Ошибка записи сравнения классификаторов",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (l *FeedbackLedger) flagForReview(ctx context.Context, rec *model.PredictionRecord) {
	review := model.PriorityReview{Record: *rec, FlaggedAt: rec.CreatedAt}
	if err := docstore.Save(ctx, l.store, priorityResource(rec.ID), review); err != nil {
		l.logger.Warn("Ошибка сохранения записи для приоритетной проверки",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	l.logger.Info("Расхождение классификаторов, запись передана на проверку",
		slog.String("record_id", rec.ID),
		slog.String("primary", rec.PrimaryResult.Label),
		slog.String("secondary", rec.SecondaryResult.Label),
		slog.String("correct_label", rec.CorrectLabel),
	)
}

func (l *FeedbackLedger) appendAudit(ctx context.Context, entry model.AuditEntry) {
	err := docstore.Mutate(ctx, l.store, resourceAudit, model.AuditDocument{}, func(_ context.Context, doc *model.AuditDocument) error {
		doc.Entries = append(doc.Entries, entry)
		return nil
	})
	if err != nil {
		l.logger.Error("Ошибка записи журнала аудита",
			slog.String("record_id", entry.FeedbackID),
			slog.String("action", string(entry.Action)),
			slog.String("error", err.Error()),
		)
	}
}

// AuditLog возвращает журнал действий администратора.
func (l *FeedbackLedger) AuditLog(ctx context.Context) ([]model.AuditEntry, error) {
	doc, err := docstore.Load(ctx, l.store, resourceAudit, model.AuditDocument{})
	if err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

// placement — копия записи для корзины сектора.
type placement struct {
	sector model.Sector
	record model.PredictionRecord
}

// emptyBuckets — значение документа sectors по умолчанию.
func emptyBuckets() model.SectorBuckets {
	var b model.SectorBuckets
	b.Clear()
	return b
}

func observeBucketSizes(b *model.SectorBuckets) {
	for sector, n := range b.Sizes() {
		sectorBucketSize.WithLabelValues(string(sector)).Set(float64(n))
	}
}

func countChoice(counts *model.FeedbackCounts, chosen model.Choice) {
	switch chosen {
	case model.ChoicePerfect:
		counts.Perfect++
	case model.ChoiceOkay:
		counts.Okay++
	case model.ChoiceWrong:
		counts.Wrong++
	default:
		counts.Pending++
	}
}

// newestFirst возвращает копию записей, отсортированную по created_at по убыванию.
func newestFirst(records []model.PredictionRecord) []model.PredictionRecord {
	sorted := make([]model.PredictionRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return sorted
}
