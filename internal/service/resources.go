package service

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Имена ресурсов хранилища документов.
const (
	resourceClients      = "clients"
	resourceFeedback     = "feedback"
	resourceSectors      = "sectors"
	resourceBatches      = "batches"
	resourceAudit        = "audit"
	resourceComparisons  = "comparisons"
	resourceTrainingRuns = "training_runs"
)

// dayLayout — формат даты в именах ресурсов.
const dayLayout = "2006-01-02"

// usageResource — журнал использования за день.
func usageResource(day time.Time) string {
	return "usage/" + day.UTC().Format(dayLayout)
}

// priorityResource — артефакт приоритетной проверки записи.
func priorityResource(recordID string) string {
	return "priority/" + recordID
}

// reportResource — еженедельный отчёт.
func reportResource(day time.Time) string {
	return "reports/weekly-" + day.UTC().Format(dayLayout)
}

// newID возвращает n шестнадцатеричных символов UUID v4 (n ≤ 32).
func newID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
