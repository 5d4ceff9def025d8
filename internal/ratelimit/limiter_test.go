package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock — управляемое время для тестов.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)}
	l, err := New(1000)
	if err != nil {
		t.Fatal(err)
	}
	l.WithClock(clock.Now)
	return l, clock
}

// TestAllow_ExactlyLimitPerWindow проверяет, что окно допускает ровно limit запросов.
func TestAllow_ExactlyLimitPerWindow(t *testing.T) {
	l, clock := newTestLimiter(t)

	for i := 0; i < 3; i++ {
		if !l.Allow("key", 3, time.Minute) {
			t.Fatalf("запрос %d должен быть допущен", i+1)
		}
	}
	if l.Allow("key", 3, time.Minute) {
		t.Fatal("4-й запрос должен быть отклонён")
	}
	if got := l.Remaining("key", 3, time.Minute); got != 0 {
		t.Errorf("Remaining = %d, ожидалось 0", got)
	}

	// Внутри окна — по-прежнему отказ
	clock.Advance(59 * time.Second)
	if l.Allow("key", 3, time.Minute) {
		t.Fatal("запрос внутри окна должен быть отклонён")
	}

	// Окно истекло — новый отсчёт
	clock.Advance(time.Second)
	if !l.Allow("key", 3, time.Minute) {
		t.Fatal("после истечения окна запрос должен быть допущен")
	}
	if got := l.Remaining("key", 3, time.Minute); got != 2 {
		t.Errorf("Remaining = %d, ожидалось 2", got)
	}
}

// TestAllow_DeniedLeavesStateUnchanged проверяет, что отказы не продлевают окно.
func TestAllow_DeniedLeavesStateUnchanged(t *testing.T) {
	l, clock := newTestLimiter(t)

	l.Allow("k", 1, time.Minute)
	resetAt := l.ResetAt("k", time.Minute)
	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Second)
		if l.Allow("k", 1, time.Minute) {
			t.Fatal("запрос должен быть отклонён")
		}
	}
	if !l.ResetAt("k", time.Minute).Equal(resetAt) {
		t.Error("отказ не должен сдвигать начало окна")
	}
}

// TestAllow_KeysIndependent проверяет изоляцию ключей.
func TestAllow_KeysIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)

	for i := 0; i < 2; i++ {
		l.Allow("a", 2, time.Minute)
	}
	if l.Allow("a", 2, time.Minute) {
		t.Fatal("ключ a должен быть исчерпан")
	}
	if !l.Allow("b", 2, time.Minute) {
		t.Fatal("ключ b не должен зависеть от ключа a")
	}
	if got := l.Remaining("c", 2, time.Minute); got != 2 {
		t.Errorf("Remaining для нового ключа = %d, ожидалось 2", got)
	}
}

// TestAllow_InvalidArguments проверяет отказ при неположительных параметрах.
func TestAllow_InvalidArguments(t *testing.T) {
	l, _ := newTestLimiter(t)
	if l.Allow("k", 0, time.Minute) {
		t.Error("limit=0 должен отклоняться")
	}
	if l.Allow("k", 5, 0) {
		t.Error("window=0 должен отклоняться")
	}
}

// TestAllow_Concurrent проверяет, что при конкурентных вызовах
// допускается ровно limit запросов на ключ.
func TestAllow_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(t)

	const limit = 50
	const keys = 4
	const callsPerKey = 200

	var allowed [keys]atomic.Int64
	var wg sync.WaitGroup
	for k := 0; k < keys; k++ {
		for i := 0; i < callsPerKey; i++ {
			wg.Add(1)
			go func(k int) {
				defer wg.Done()
				if l.Allow(fmt.Sprintf("key-%d", k), limit, time.Hour) {
					allowed[k].Add(1)
				}
			}(k)
		}
	}
	wg.Wait()

	for k := 0; k < keys; k++ {
		if got := allowed[k].Load(); got != limit {
			t.Errorf("key-%d: допущено %d, ожидалось %d", k, got, limit)
		}
	}
}

// TestEvictionForgetsWindow проверяет вытеснение старых ключей.
func TestEvictionForgetsWindow(t *testing.T) {
	l, err := New(2)
	if err != nil {
		t.Fatal(err)
	}

	l.Allow("a", 1, time.Hour)
	l.Allow("b", 1, time.Hour)
	l.Allow("c", 1, time.Hour) // вытесняет a

	if l.Len() != 2 {
		t.Errorf("Len = %d, ожидалось 2", l.Len())
	}
	if !l.Allow("a", 1, time.Hour) {
		t.Error("вытесненный ключ начинает новое окно")
	}
}
