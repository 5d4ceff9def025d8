package docstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_store_operation_duration_seconds",
		Help:    "Длительность операций хранилища документов",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"backend", "op"})

	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_store_errors_total",
		Help: "Количество ошибок ввода-вывода хранилища документов",
	}, []string{"backend", "op"})
)

// observe фиксирует длительность операции.
func observe(backend, op string, start time.Time) {
	storeDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// Observe фиксирует длительность операции внешнего бэкенда.
func Observe(backend, op string, start time.Time) {
	observe(backend, op, start)
}

// CountError увеличивает счётчик ошибок внешнего бэкенда.
func CountError(backend, op string) {
	storeErrors.WithLabelValues(backend, op).Inc()
}
