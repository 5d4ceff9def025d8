// Пакет ratelimit — ограничение частоты запросов по ключу
// (API-ключ, пользователь или IP) с фиксированным окном.
//
// Окно начинается с первого запроса ключа и сбрасывается при первом
// запросе после его истечения. На границе окон допускается всплеск
// до 2×limit. Состояние хранится только в памяти и обнуляется при
// перезапуске процесса.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_ratelimit_decisions_total",
		Help: "Решения ограничителя частоты запросов",
	}, []string{"decision"})

	trackedKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_ratelimit_tracked_keys",
		Help: "Количество ключей, отслеживаемых ограничителем",
	})
)

// window — счётчик одного ключа.
type window struct {
	mu    sync.Mutex
	count int
	start time.Time
}

// Limiter — ограничитель частоты запросов. Ключи хранятся в LRU
// ограниченного размера: давно неиспользуемые ключи вытесняются,
// что лишь забывает их окно. Каждый ключ защищён собственным мьютексом,
// так что счётчики разных ключей не сериализуются между собой.
type Limiter struct {
	windows *lru.Cache[string, *window]
	now     func() time.Time
}

// New создаёт ограничитель, отслеживающий не более maxKeys ключей.
func New(maxKeys int) (*Limiter, error) {
	cache, err := lru.New[string, *window](maxKeys)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания LRU ограничителя: %w", err)
	}
	return &Limiter{windows: cache, now: time.Now}, nil
}

// WithClock подменяет источник времени (для тестов).
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow засчитывает запрос ключа и возвращает true, если лимит окна
// не исчерпан. При отказе состояние не меняется.
func (l *Limiter) Allow(key string, limit int, windowLen time.Duration) bool {
	if limit <= 0 || windowLen <= 0 {
		decisionsTotal.WithLabelValues("denied").Inc()
		return false
	}

	w := l.window(key)
	now := l.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.start.IsZero() || now.Sub(w.start) >= windowLen {
		w.start = now
		w.count = 0
	}
	if w.count >= limit {
		decisionsTotal.WithLabelValues("denied").Inc()
		return false
	}
	w.count++
	decisionsTotal.WithLabelValues("allowed").Inc()
	return true
}

// Remaining возвращает число запросов, оставшихся в текущем окне ключа.
// Не засчитывает запрос.
func (l *Limiter) Remaining(key string, limit int, windowLen time.Duration) int {
	w, ok := l.windows.Peek(key)
	if !ok {
		return max(limit, 0)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.start.IsZero() || l.now().Sub(w.start) >= windowLen {
		return max(limit, 0)
	}
	return max(limit-w.count, 0)
}

// ResetAt возвращает момент окончания текущего окна ключа.
// Для ключа без окна возвращает нулевое время.
func (l *Limiter) ResetAt(key string, windowLen time.Duration) time.Time {
	w, ok := l.windows.Peek(key)
	if !ok {
		return time.Time{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.start.IsZero() {
		return time.Time{}
	}
	return w.start.Add(windowLen)
}

// Len возвращает количество отслеживаемых ключей.
func (l *Limiter) Len() int {
	return l.windows.Len()
}

// window возвращает окно ключа, создавая его при первом обращении.
func (l *Limiter) window(key string) *window {
	if w, ok := l.windows.Get(key); ok {
		return w
	}
	fresh := &window{}
	if prev, ok, _ := l.windows.PeekOrAdd(key, fresh); ok {
		return prev
	}
	trackedKeys.Set(float64(l.windows.Len()))
	return fresh
}
