package service

import (
	"context"
	"testing"
	"time"

	"github.com/bigkaa/feedback-ledger/internal/domain/model"
	"github.com/bigkaa/feedback-ledger/internal/storage/docstore"
)

func TestSummaryGenerate(t *testing.T) {
	f := newFeedbackFixture(t)
	ctx := context.Background()
	day := 24 * time.Hour

	// Запись вне периода отчёта
	old := f.record(t, "u", "safe", "safe")
	f.submit(t, "u", old.ID, "perfect", "")

	f.clock.Advance(8 * day)
	a := f.record(t, "u", "safe", "high")
	f.submit(t, "u", a.ID, "wrong", "high")
	b := f.record(t, "u", "moderate", "moderate")
	f.submit(t, "u", b.ID, "okay", "")
	f.record(t, "u", "safe", "safe")

	if n, _ := f.ledger.SweepDeadlines(ctx); n != 1 {
		t.Fatalf("авто-одобрено %d, ожидалась 1", n)
	}
	f.ledger.AdminApprove(ctx, a.ID, "admin", "", "")
	f.ledger.AdminApprove(ctx, b.ID, "admin", "", "")
	f.usage.RecordCall(ctx, "k")
	f.usage.RecordCall(ctx, "k")

	trigger := NewBatchTrigger(f.store, newTestWAL(t), 1, testLogger()).WithClock(f.clock.Now)
	if batch, err := trigger.CheckAndTrigger(ctx); err != nil || batch == nil {
		t.Fatalf("CheckAndTrigger: %v, %v", batch, err)
	}

	f.clock.Advance(day)
	summaries := NewSummaryService(f.store, f.usage, testLogger()).WithClock(f.clock.Now)
	summary, err := summaries.Generate(ctx)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !summary.PeriodEnd.Equal(f.clock.Now()) || !summary.PeriodStart.Equal(f.clock.Now().Add(-7*day)) {
		t.Errorf("период: %v — %v", summary.PeriodStart, summary.PeriodEnd)
	}
	if summary.APICalls != 2 || summary.Disagreements != 1 {
		t.Errorf("api_calls=%d disagreements=%d", summary.APICalls, summary.Disagreements)
	}
	wantFeedback := model.FeedbackCounts{Okay: 1, Wrong: 1, Pending: 1}
	if summary.Feedback != wantFeedback {
		t.Errorf("оценки = %+v, ожидалось %+v", summary.Feedback, wantFeedback)
	}
	if summary.Approved != 2 || summary.AutoApproved != 1 || summary.BatchesEmitted != 1 {
		t.Errorf("approved=%d auto=%d batches=%d", summary.Approved, summary.AutoApproved, summary.BatchesEmitted)
	}
	for s, n := range summary.SectorSizes {
		if n != 0 {
			t.Errorf("корзина %s: %d, ожидалась пустая", s, n)
		}
	}

	saved, err := docstore.Load(ctx, f.store, reportResource(f.clock.Now()), model.WeeklySummary{})
	if err != nil {
		t.Fatal(err)
	}
	if saved.APICalls != 2 || !saved.GeneratedAt.Equal(summary.GeneratedAt) {
		t.Errorf("сохранённый отчёт: %+v", saved)
	}
}

func TestSummaryGenerate_Empty(t *testing.T) {
	store := newTestStore(t)
	usage := NewUsageLedger(store, testLogger())
	summary, err := NewSummaryService(store, usage, testLogger()).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if summary.APICalls != 0 || summary.Approved != 0 || len(summary.SectorSizes) != 3 {
		t.Errorf("пустой отчёт: %+v", summary)
	}
}
