package model

import "time"

// KeyUsage — счётчики одного API-ключа за день.
type KeyUsage struct {
	APICalls      int `json:"api_calls"`
	Disagreements int `json:"disagreements"`
}

// UsageDay — документ ресурса "usage/<YYYY-MM-DD>".
type UsageDay struct {
	APICalls      int                 `json:"api_calls"`
	Disagreements int                 `json:"disagreements"`
	Keys          map[string]KeyUsage `json:"keys"`
}

// FeedbackCounts — распределение пользовательских оценок.
type FeedbackCounts struct {
	Perfect int `json:"perfect"`
	Okay    int `json:"okay"`
	Wrong   int `json:"wrong"`
	Pending int `json:"pending"`
}

// WeeklySummary — еженедельный отчёт, сохраняется в "reports/weekly-<date>".
type WeeklySummary struct {
	GeneratedAt    time.Time      `json:"generated_at"`
	PeriodStart    time.Time      `json:"period_start"`
	PeriodEnd      time.Time      `json:"period_end"`
	APICalls       int            `json:"api_calls"`
	Disagreements  int            `json:"disagreements"`
	Feedback       FeedbackCounts `json:"feedback"`
	Approved       int            `json:"approved"`
	AutoApproved   int            `json:"auto_approved"`
	BatchesEmitted int            `json:"batches_emitted"`
	SectorSizes    map[Sector]int `json:"sector_sizes"`
}
