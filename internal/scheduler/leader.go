// leader.go — блокировка лидера планировщика через flock().
//
// Несколько реплик сервиса на одной директории данных не должны
// выполнять задачи одновременно. Реплика, захватившая эксклюзивный
// flock на {dataDir}/.scheduler.lock, запускает планировщик; остальные
// периодически повторяют попытку захвата.
package scheduler

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// leaderLockFile — имя файла блокировки лидера.
	leaderLockFile = ".scheduler.lock"
	// leaderInfoFile — имя файла с идентификатором лидера (host:pid).
	leaderInfoFile = ".scheduler.info"
	// DefaultLeaderRetry — интервал попыток захвата для ведомой реплики.
	DefaultLeaderRetry = 5 * time.Second
)

// Leader — блокировка лидера планировщика.
type Leader struct {
	dataDir   string
	retry     time.Duration
	onAcquire func()
	logger    *slog.Logger

	mu       sync.RWMutex
	leader   bool
	holder   string
	lockFile *os.File

	stopCh chan struct{}
	done   chan struct{}
}

// NewLeader создаёт блокировку лидера. onAcquire вызывается один раз,
// когда блокировка получена. retry <= 0 — DefaultLeaderRetry.
func NewLeader(dataDir string, retry time.Duration, onAcquire func(), logger *slog.Logger) *Leader {
	if retry <= 0 {
		retry = DefaultLeaderRetry
	}
	return &Leader{
		dataDir:   dataDir,
		retry:     retry,
		onAcquire: onAcquire,
		logger:    logger.With(slog.String("component", "scheduler-leader")),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start пытается захватить блокировку. При неудаче запускает горутину
// повторных попыток и возвращает управление.
func (l *Leader) Start() error {
	acquired, err := l.tryAcquire()
	if err != nil {
		return fmt.Errorf("ошибка при попытке захвата блокировки лидера: %w", err)
	}

	if acquired {
		l.becomeLeader()
		close(l.done)
		return nil
	}

	l.logger.Info("Планировщик выполняется другой репликой",
		slog.String("holder", l.readHolder()),
	)
	go l.retryLoop()
	return nil
}

// Stop останавливает попытки захвата и освобождает блокировку.
func (l *Leader) Stop() {
	close(l.stopCh)
	<-l.done

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lockFile != nil {
		fd := int(l.lockFile.Fd())
		_ = syscall.Flock(fd, syscall.LOCK_UN)
		_ = l.lockFile.Close()
		l.lockFile = nil
		l.leader = false
		l.logger.Info("Блокировка лидера освобождена")
	}
}

// IsLeader возвращает true, если блокировка захвачена этим процессом.
func (l *Leader) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.leader
}

// Holder возвращает идентификатор текущего лидера (host:pid) или пустую строку.
func (l *Leader) Holder() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.holder
}

// tryAcquire — неблокирующий захват flock.
func (l *Leader) tryAcquire() (bool, error) {
	if err := os.MkdirAll(l.dataDir, 0o750); err != nil {
		return false, fmt.Errorf("не удалось создать директорию %s: %w", l.dataDir, err)
	}
	lockPath := filepath.Join(l.dataDir, leaderLockFile)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return false, fmt.Errorf("не удалось открыть lock-файл %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return false, nil
	}

	l.mu.Lock()
	l.lockFile = f
	l.mu.Unlock()
	return true, nil
}

func (l *Leader) becomeLeader() {
	id := holderID()

	l.mu.Lock()
	l.leader = true
	l.holder = id
	l.mu.Unlock()

	if err := l.writeHolder(id); err != nil {
		l.logger.Error("Ошибка записи "+leaderInfoFile,
			slog.String("error", err.Error()),
		)
	}

	l.logger.Info("Блокировка лидера получена, планировщик запускается",
		slog.String("holder", id),
	)
	if l.onAcquire != nil {
		l.onAcquire()
	}
}

func (l *Leader) retryLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			holder := l.readHolder()
			l.mu.Lock()
			l.holder = holder
			l.mu.Unlock()

			acquired, err := l.tryAcquire()
			if err != nil {
				l.logger.Warn("Ошибка повторного захвата блокировки лидера",
					slog.String("error", err.Error()),
				)
				continue
			}
			if acquired {
				l.becomeLeader()
				return
			}
		}
	}
}

// holderID — идентификатор процесса: hostname:pid.
func holderID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return fmt.Sprintf("%s:%d", hostname, os.Getpid())
}

func (l *Leader) writeHolder(id string) error {
	infoPath := filepath.Join(l.dataDir, leaderInfoFile)
	tmpPath := infoPath + ".tmp"

	if err := os.WriteFile(tmpPath, []byte(id), 0o640); err != nil {
		return fmt.Errorf("ошибка записи temp %s: %w", leaderInfoFile, err)
	}
	if err := os.Rename(tmpPath, infoPath); err != nil {
		return fmt.Errorf("ошибка переименования %s: %w", leaderInfoFile, err)
	}
	return nil
}

func (l *Leader) readHolder() string {
	data, err := os.ReadFile(filepath.Join(l.dataDir, leaderInfoFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
