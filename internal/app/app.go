// Пакет app — сборка компонентов feedback-ledger: хранилище, WAL,
// сервисы, планировщик, мониторинг зависимостей и HTTP-сервер.
// Используется сервером (cmd/feedback-ledger) и CLI (cmd/ledgerctl).
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/feedback-ledger/internal/api/handlers"
	"github.com/bigkaa/feedback-ledger/internal/api/middleware"
	"github.com/bigkaa/feedback-ledger/internal/config"
	"github.com/bigkaa/feedback-ledger/internal/domain/policy"
	"github.com/bigkaa/feedback-ledger/internal/ratelimit"
	"github.com/bigkaa/feedback-ledger/internal/scheduler"
	"github.com/bigkaa/feedback-ledger/internal/server"
	"github.com/bigkaa/feedback-ledger/internal/service"
	"github.com/bigkaa/feedback-ledger/internal/storage/docstore"
	"github.com/bigkaa/feedback-ledger/internal/storage/pgstore"
	"github.com/bigkaa/feedback-ledger/internal/storage/uploads"
	"github.com/bigkaa/feedback-ledger/internal/storage/wal"
	"github.com/bigkaa/feedback-ledger/internal/trainer"
)

// defaultServiceID — имя вершины графа topologymetrics, если hostname недоступен.
const defaultServiceID = "feedback-ledger"

// App — собранное приложение. Поля сервисов экспортированы для CLI.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store docstore.Store
	// db — *sql.DB поверх pgxpool для мониторинга PostgreSQL (nil для file)
	db *sql.DB

	WAL       *wal.WAL
	Clients   *service.ClientRegistry
	Quota     *service.QuotaLedger
	Limiter   *ratelimit.Limiter
	Usage     *service.UsageLedger
	Admission *service.Admission
	Feedback  *service.FeedbackLedger
	Catalog   *service.BatchCatalog
	Trigger   *service.BatchTrigger
	Approved  *service.ApprovedBatcher
	Training  *service.TrainingService
	Summary   *service.SummaryService
	// Retention — nil, если директория загрузок не задана
	Retention *service.RetentionService
	Scheduler *scheduler.Scheduler

	// leader — nil, если блокировка лидера отключена
	leader *scheduler.Leader
	// dephealth — nil, пока мониторинг зависимостей не запущен
	dephealth *service.DephealthService
	runCtx    context.Context
}

// New инициализирует хранилище и все сервисы. Фоновые процессы
// не запускаются: это делает Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger, runCtx: ctx}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initServices(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// openStore открывает хранилище документов выбранного бэкенда.
func (a *App) openStore(ctx context.Context) error {
	switch a.cfg.Store {
	case config.StorePostgres:
		if err := pgstore.Migrate(a.cfg.DatabaseURL, a.logger); err != nil {
			return fmt.Errorf("ошибка миграций PostgreSQL: %w", err)
		}
		pg, err := pgstore.Connect(ctx, a.cfg.DatabaseURL, a.logger)
		if err != nil {
			return fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
		}
		a.store = pg
		a.db = stdlib.OpenDBFromPool(pg.Pool())
	default:
		fs, err := docstore.NewFileStore(a.cfg.DataDir, a.logger)
		if err != nil {
			return fmt.Errorf("ошибка инициализации FileStore: %w", err)
		}
		a.store = fs
	}
	a.logger.Info("Хранилище документов открыто", slog.String("store", a.cfg.Store))
	return nil
}

func (a *App) initServices() error {
	s := &a.cfg.Settings
	logger := a.logger

	w, err := wal.New(a.cfg.WALDir, logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации WAL: %w", err)
	}
	a.WAL = w

	pol, err := policy.ByName(s.DisagreementPolicy)
	if err != nil {
		return err
	}
	a.Limiter, err = ratelimit.New(s.RateMaxKeys)
	if err != nil {
		return fmt.Errorf("ошибка инициализации ограничителя частоты: %w", err)
	}

	a.Usage = service.NewUsageLedger(a.store, logger)
	a.Clients = service.NewClientRegistry(a.store, s.ImageQuota, s.VideoQuota, logger)
	a.Quota = service.NewQuotaLedger(a.store, s.QuotaWindow.Duration, logger)
	a.Admission = service.NewAdmission(a.Clients, a.Quota, a.Limiter, a.Usage,
		s.RateLimit, s.RateWindow.Duration, logger)
	a.Feedback = service.NewFeedbackLedger(a.store, pol, s.ApprovalWindow.Duration, a.Usage, logger)
	a.Catalog = service.NewBatchCatalog(a.store)
	a.Trigger = service.NewBatchTrigger(a.store, w, s.MinPerSector, logger)
	a.Approved = service.NewApprovedBatcher(a.store, w, logger)
	a.Summary = service.NewSummaryService(a.store, a.Usage, logger)

	// tr остаётся nil-интерфейсом, если тренер не настроен
	var tr service.Trainer
	if a.cfg.TrainerCmd != "" {
		runner, err := trainer.New(a.cfg.TrainerCmd, a.cfg.TrainerTimeout, logger)
		if err != nil {
			return fmt.Errorf("ошибка инициализации тренера: %w", err)
		}
		tr = runner
	} else {
		logger.Info("Команда тренера не задана, обучение отключено")
	}
	a.Training = service.NewTrainingService(a.store, a.Catalog, a.cfg.DatasetDir, tr, logger)

	if a.cfg.UploadDir != "" {
		dir, err := uploads.New(a.cfg.UploadDir, logger)
		if err != nil {
			return fmt.Errorf("ошибка инициализации директории загрузок: %w", err)
		}
		a.Retention = service.NewRetentionService(dir, s.UploadRetention.Duration, logger)
	}

	a.Scheduler = scheduler.New(logger)
	err = a.Scheduler.RegisterDefaults(scheduler.Jobs{
		Retention: a.Retention,
		Feedback:  a.Feedback,
		Trigger:   a.Trigger,
		Approved:  a.Approved,
		Training:  a.Training,
		Summary:   a.Summary,
		WAL:       w,
	}, s)
	if err != nil {
		return fmt.Errorf("ошибка регистрации задач: %w", err)
	}

	if a.cfg.SchedulerEnabled && a.cfg.SchedulerLeaderLock {
		a.leader = scheduler.NewLeader(a.cfg.DataDir, a.cfg.LeaderRetryInterval, func() {
			a.Scheduler.Start(a.runCtx)
		}, logger)
	}
	return nil
}

// Recover завершает незавершённые транзакции выпуска батчей.
func (a *App) Recover(ctx context.Context) (*service.RecoveryResult, error) {
	res, err := service.RecoverBatches(ctx, a.WAL, a.Trigger, a.Approved, a.logger)
	if err != nil {
		return nil, err
	}
	if res.RolledForward+res.RolledBack+res.Failed > 0 {
		a.logger.Warn("Обработаны незавершённые WAL-транзакции",
			slog.Int("rolled_forward", res.RolledForward),
			slog.Int("rolled_back", res.RolledBack),
			slog.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// APIHandler собирает обработчики HTTP API.
func (a *App) APIHandler() *handlers.APIHandler {
	var leader handlers.LeaderStatus
	if a.leader != nil {
		leader = a.leader
	}
	diskPath := a.cfg.DataDir
	if diskPath == "" {
		diskPath = a.cfg.UploadDir
	}

	health := handlers.NewHealthHandler(a.store, diskPath, leader)
	if a.dephealth != nil {
		health.WithDependencies(a.dephealth)
	}

	return handlers.NewAPIHandler(
		handlers.NewFeedbackHandler(a.Feedback, a.Clients, a.logger),
		handlers.NewClientsHandler(a.Clients, a.Quota),
		handlers.NewAdmissionHandler(a.Admission, a.Limiter, a.Usage),
		handlers.NewBatchesHandler(a.Catalog, a.Training),
		handlers.NewMaintenanceHandler(a.Scheduler),
		health,
	)
}

// Run восстанавливает WAL, запускает фоновые процессы и HTTP-сервер.
// Блокируется до отмены ctx, затем останавливает фоновые процессы.
func (a *App) Run(ctx context.Context) error {
	a.runCtx = ctx

	if _, err := a.Recover(ctx); err != nil {
		return fmt.Errorf("ошибка восстановления WAL: %w", err)
	}

	a.dephealth = a.startDephealth(ctx)
	stopScheduler, err := a.startScheduler(ctx)
	if err != nil {
		a.stopDephealth()
		return err
	}

	srv := server.New(a.cfg, a.logger, a.APIHandler(), a.jwtAuth())
	runErr := srv.Run(ctx)

	a.logger.Info("Остановка фоновых процессов...")
	stopScheduler()
	a.stopDephealth()
	return runErr
}

func (a *App) stopDephealth() {
	if a.dephealth != nil {
		a.dephealth.Stop()
		a.dephealth = nil
	}
}

// startScheduler запускает планировщик напрямую или через блокировку
// лидера. Возвращает функцию остановки.
func (a *App) startScheduler(ctx context.Context) (func(), error) {
	if !a.cfg.SchedulerEnabled {
		a.logger.Info("Планировщик отключён в этом процессе")
		return func() {}, nil
	}
	if a.leader == nil {
		a.Scheduler.Start(ctx)
		return a.Scheduler.Stop, nil
	}
	if err := a.leader.Start(); err != nil {
		return nil, err
	}
	return func() {
		a.Scheduler.Stop()
		a.leader.Stop()
	}, nil
}

// startDephealth запускает мониторинг зависимостей. Ошибки не фатальны.
func (a *App) startDephealth(ctx context.Context) *service.DephealthService {
	svc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     a.serviceID(),
		Group:         a.cfg.DephealthGroup,
		JWKSUrl:       a.cfg.JWKSUrl,
		DB:            a.db,
		DatabaseURL:   a.cfg.DatabaseURL,
		CheckInterval: a.cfg.DephealthCheckInterval,
	}, a.logger)
	if errors.Is(err, service.ErrNoDependencies) {
		a.logger.Info("Нет зависимостей для topologymetrics, мониторинг не запущен")
		return nil
	}
	if err != nil {
		a.logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := svc.Start(ctx); err != nil {
		a.logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		return nil
	}
	a.logger.Info("topologymetrics запущен",
		slog.String("check_interval", a.cfg.DephealthCheckInterval.String()),
	)
	return svc
}

// jwtAuth создаёт JWT middleware. Пустой JWKS URL или ошибка —
// запуск без аутентификации.
func (a *App) jwtAuth() *middleware.JWTAuth {
	if a.cfg.JWKSUrl == "" {
		a.logger.Warn("LEDGER_JWKS_URL не задан, запуск без аутентификации")
		return nil
	}
	auth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{JWKSURL: a.cfg.JWKSUrl}, a.logger)
	if err != nil {
		a.logger.Warn("JWT JWKS недоступен, запуск без аутентификации",
			slog.String("jwks_url", a.cfg.JWKSUrl),
			slog.String("error", err.Error()),
		)
		return nil
	}
	a.logger.Info("JWT аутентификация настроена", slog.String("jwks_url", a.cfg.JWKSUrl))
	return auth
}

// serviceID — DEPHEALTH_NAME или имя владельца пода из hostname.
func (a *App) serviceID() string {
	if a.cfg.DephealthName != "" {
		return a.cfg.DephealthName
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return defaultServiceID
	}
	return parseOwnerName(host)
}

// Close освобождает хранилище.
func (a *App) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Ошибка закрытия хранилища", slog.String("error", err.Error()))
		}
	}
}

var (
	// deploymentPod — <name>-<хеш ReplicaSet>-<суффикс пода>
	deploymentPod = regexp.MustCompile(`^(.+)-[a-z0-9]{6,10}-[a-z0-9]{5}$`)
	// statefulSetPod — <name>-<ordinal>
	statefulSetPod = regexp.MustCompile(`^(.+)-[0-9]+$`)
)

// parseOwnerName извлекает имя Deployment или StatefulSet из hostname пода.
func parseOwnerName(hostname string) string {
	if m := deploymentPod.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	if m := statefulSetPod.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	return hostname
}
