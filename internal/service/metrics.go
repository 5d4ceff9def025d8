package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики сервисного слоя
var (
	// quotaDecisionsTotal — решения по квотам клиентов.
	quotaDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_quota_decisions_total",
		Help: "Решения по квотам клиентов",
	}, []string{"class", "decision"})

	// admissionDenialsTotal — отказы допуска по причинам.
	admissionDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_admission_denials_total",
		Help: "Отказы допуска запросов по причинам",
	}, []string{"reason"})

	// predictionsTotal — записанные предсказания.
	predictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_predictions_recorded_total",
		Help: "Количество записанных предсказаний",
	}, []string{"disagreement"})

	// feedbackSubmissionsTotal — отзывы пользователей.
	feedbackSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_feedback_submissions_total",
		Help: "Отзывы пользователей по результату обработки",
	}, []string{"result"})

	// lifecycleTransitionsTotal — переходы жизненного цикла записей.
	lifecycleTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_lifecycle_transitions_total",
		Help: "Переходы жизненного цикла записей предсказаний",
	}, []string{"to"})

	// sectorBucketSize — размер корзин секторов после последнего изменения.
	sectorBucketSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_sector_bucket_size",
		Help: "Количество записей в корзине сектора",
	}, []string{"sector"})

	// batchesEmittedTotal — выпущенные батчи переобучения.
	batchesEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_batches_emitted_total",
		Help: "Количество выпущенных батчей переобучения",
	}, []string{"source"})

	// retentionFilesRemovedTotal — файлы, удалённые очисткой загрузок.
	retentionFilesRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_retention_files_removed_total",
		Help: "Количество файлов, удалённых очисткой загрузок",
	})

	// retentionDurationSeconds — длительность очистки загрузок.
	retentionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_retention_duration_seconds",
		Help:    "Длительность очистки загрузок в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	// trainingRunsTotal — запуски внешнего тренера.
	trainingRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_training_runs_total",
		Help: "Запуски внешнего тренера по результату",
	}, []string{"result"})
)
