package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

// TestLeader_SingleInstance — единственная реплика захватывает блокировку.
func TestLeader_SingleInstance(t *testing.T) {
	var acquired atomic.Int32
	l := NewLeader(t.TempDir(), 0, func() { acquired.Add(1) }, testLogger())

	if err := l.Start(); err != nil {
		t.Fatalf("Ошибка Start: %v", err)
	}
	defer l.Stop()

	if acquired.Load() != 1 {
		t.Error("onAcquire не был вызван")
	}
	if !l.IsLeader() {
		t.Error("IsLeader() должен вернуть true")
	}
	if l.Holder() == "" {
		t.Error("Holder() не должен быть пустым")
	}
}

// TestLeader_Failover — вторая реплика ждёт и захватывает блокировку
// после остановки первой.
func TestLeader_Failover(t *testing.T) {
	dir := t.TempDir()

	first := NewLeader(dir, 10*time.Millisecond, nil, testLogger())
	if err := first.Start(); err != nil {
		t.Fatalf("Ошибка Start первой реплики: %v", err)
	}

	var acquired atomic.Int32
	second := NewLeader(dir, 10*time.Millisecond, func() { acquired.Add(1) }, testLogger())
	if err := second.Start(); err != nil {
		t.Fatalf("Ошибка Start второй реплики: %v", err)
	}
	defer second.Stop()

	if second.IsLeader() || acquired.Load() != 0 {
		t.Fatal("вторая реплика не должна стать лидером, пока блокировка занята")
	}
	time.Sleep(50 * time.Millisecond)
	if second.Holder() != first.Holder() {
		t.Errorf("holder = %q, ожидалось %q", second.Holder(), first.Holder())
	}

	first.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for !second.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !second.IsLeader() || acquired.Load() != 1 {
		t.Errorf("вторая реплика не стала лидером: leader=%v acquired=%d", second.IsLeader(), acquired.Load())
	}
}
