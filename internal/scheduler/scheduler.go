// Пакет scheduler — периодические задачи feedback-ledger.
//
// Задачи регистрируются с cron-выражениями (robfig/cron/v3). У каждой
// задачи есть флаг выполнения: срабатывание во время работы задачи
// пропускается (метрика + лог), а не ставится в очередь. Тот же флаг
// защищает ручной запуск через API (RunNow). Паника задачи
// перехватывается, планировщик продолжает работу.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"github.com/bigkaa/feedback-ledger/internal/service"
)

// Prometheus метрики планировщика
var (
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_job_runs_total",
		Help: "Количество запусков задач планировщика по результату",
	}, []string{"job", "result"})

	jobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_job_duration_seconds",
		Help:    "Длительность выполнения задач планировщика в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"job"})

	jobRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_job_running",
		Help: "1, если задача выполняется в данный момент",
	}, []string{"job"})
)

// JobFunc — тело задачи.
type JobFunc func(ctx context.Context) error

// JobInfo — состояние зарегистрированной задачи.
type JobInfo struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	Running   bool      `json:"running"`
	Next      time.Time `json:"next,omitzero"`
	LastRun   time.Time `json:"last_run,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

type job struct {
	name    string
	spec    string
	fn      JobFunc
	entryID cron.EntryID

	// guard — флаг выполнения; захватывается через TryLock
	guard sync.Mutex

	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastErr string
}

// Scheduler — набор задач с cron-расписанием.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New создаёт планировщик. Расписания интерпретируются в UTC.
func New(logger *slog.Logger) *Scheduler {
	log := logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		logger: log,
		jobs:   make(map[string]*job),
	}
}

// Register добавляет задачу. Имя должно быть уникальным, spec —
// стандартное cron-выражение (5 полей) или дескриптор (@every 1h, @daily).
func (s *Scheduler) Register(name, spec string, fn JobFunc) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("недопустимое расписание задачи %s %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("задача %s уже зарегистрирована", name)
	}

	j := &job{name: name, spec: spec, fn: fn}
	id, err := s.cron.AddFunc(spec, func() { s.trigger(j) })
	if err != nil {
		return fmt.Errorf("ошибка регистрации задачи %s: %w", name, err)
	}
	j.entryID = id
	s.jobs[name] = j

	s.logger.Info("Задача зарегистрирована",
		slog.String("job", name),
		slog.String("spec", spec),
	)
	return nil
}

// Start запускает срабатывания по расписанию. Повторный вызов ничего не делает.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()
	s.logger.Info("Планировщик запущен", slog.Int("jobs", len(s.jobs)))
}

// Stop останавливает срабатывания по расписанию, отменяет контекст
// выполняющихся задач и ждёт их завершения.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Планировщик остановлен")
}

// RunNow выполняет задачу немедленно в контексте вызывающего.
// Если задача уже выполняется, возвращает skipped = true и
// service.ErrJobRunning. Неизвестная задача — service.ErrNotFound.
func (s *Scheduler) RunNow(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: задача %s", service.ErrNotFound, name)
	}
	return s.run(ctx, j)
}

// Jobs возвращает состояние задач, отсортированных по имени.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	infos := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		info := JobInfo{
			Name:      j.name,
			Spec:      j.spec,
			Running:   j.running,
			LastRun:   j.lastRun,
			LastError: j.lastErr,
		}
		j.mu.Unlock()
		info.Next = s.cron.Entry(j.entryID).Next
		infos = append(infos, info)
	}
	sort.Slice(infos, func(a, b int) bool { return infos[a].Name < infos[b].Name })
	return infos
}

// trigger — срабатывание по расписанию.
func (s *Scheduler) trigger(j *job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	// Пропуск и ошибка уже залогированы в run
	_, _ = s.run(ctx, j)
}

// run выполняет задачу под флагом выполнения.
func (s *Scheduler) run(ctx context.Context, j *job) (skipped bool, err error) {
	if !j.guard.TryLock() {
		jobRunsTotal.WithLabelValues(j.name, "skipped").Inc()
		s.logger.Warn("Задача уже выполняется, запуск пропущен", slog.String("job", j.name))
		return true, fmt.Errorf("%w: %s", service.ErrJobRunning, j.name)
	}
	defer j.guard.Unlock()

	start := time.Now()
	j.setRunning(true, start, "")
	jobRunning.WithLabelValues(j.name).Set(1)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника в задаче %s: %v", j.name, r)
			s.logger.Error("Паника в задаче планировщика",
				slog.String("job", j.name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}

		duration := time.Since(start)
		jobDurationSeconds.WithLabelValues(j.name).Observe(duration.Seconds())
		jobRunning.WithLabelValues(j.name).Set(0)

		if err != nil {
			jobRunsTotal.WithLabelValues(j.name, "error").Inc()
			j.setRunning(false, start, err.Error())
			s.logger.Error("Задача завершилась с ошибкой",
				slog.String("job", j.name),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
			)
			return
		}
		jobRunsTotal.WithLabelValues(j.name, "success").Inc()
		j.setRunning(false, start, "")
		s.logger.Debug("Задача выполнена",
			slog.String("job", j.name),
			slog.Duration("duration", duration),
		)
	}()

	return false, j.fn(ctx)
}

func (j *job) setRunning(running bool, at time.Time, lastErr string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.running = running
	j.lastRun = at
	j.lastErr = lastErr
}

// cronLogger передаёт сообщения robfig/cron в slog.
type cronLogger struct {
	logger *slog.Logger
}

// Info — служебные сообщения cron (start, wake, run) слишком частые для info.
func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{slog.String("error", err.Error())}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}

var _ cron.Logger = cronLogger{}
