// Пакет config — загрузка и валидация конфигурации feedback-ledger
// из переменных окружения и необязательного YAML-файла настроек.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые бэкенды хранилища документов.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Бэкенд хранилища документов: file или postgres
	Store string
	// Директория документов (обязательна для file)
	DataDir string
	// DSN PostgreSQL (обязателен для postgres)
	DatabaseURL string
	// Директория WAL
	WALDir string
	// Директория загруженных медиафайлов (пусто — очистка отключена)
	UploadDir string
	// Путь к YAML-файлу настроек (опционально)
	SettingsFile string

	// Бизнес-параметры (значения по умолчанию < файл настроек < env)
	Settings Settings

	// Команда запуска тренера, например "python train_model.py" (пусто — тренер отключён)
	TrainerCmd string
	// Максимальная длительность одного запуска тренера
	TrainerTimeout time.Duration
	// Директория датасетов, передаваемых тренеру
	DatasetDir string

	// Запускать планировщик в этом процессе
	SchedulerEnabled bool
	// Захватывать flock лидера планировщика (несколько реплик на одном томе)
	SchedulerLeaderLock bool
	// Интервал повторного захвата блокировки лидера
	LeaderRetryInterval time.Duration

	// URL JWKS endpoint (пусто — аутентификация отключена)
	JWKSUrl string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Имя владельца пода для метки name в topologymetrics (DEPHEALTH_NAME)
	DephealthName string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{Settings: DefaultSettings()}
	var err error

	// LEDGER_SETTINGS_FILE — читается первым, env перекрывает значения из файла
	cfg.SettingsFile = getEnvDefault("LEDGER_SETTINGS_FILE", "")
	if cfg.SettingsFile != "" {
		if err := cfg.Settings.LoadFile(cfg.SettingsFile); err != nil {
			return nil, fmt.Errorf("LEDGER_SETTINGS_FILE: %w", err)
		}
	}

	cfg.Port, err = getEnvInt("LEDGER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("LEDGER_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.Store = getEnvDefault("LEDGER_STORE", StoreFile)
	switch cfg.Store {
	case StoreFile:
		cfg.DataDir, err = getEnvRequired("LEDGER_DATA_DIR")
		if err != nil {
			return nil, err
		}
		cfg.WALDir = getEnvDefault("LEDGER_WAL_DIR", filepath.Join(cfg.DataDir, "wal"))
		cfg.DatasetDir = getEnvDefault("LEDGER_DATASET_DIR", filepath.Join(cfg.DataDir, "datasets"))
	case StorePostgres:
		cfg.DatabaseURL, err = getEnvRequired("LEDGER_DATABASE_URL")
		if err != nil {
			return nil, err
		}
		cfg.DataDir = getEnvDefault("LEDGER_DATA_DIR", "")
		cfg.WALDir, err = getEnvRequired("LEDGER_WAL_DIR")
		if err != nil {
			return nil, err
		}
		cfg.DatasetDir, err = getEnvRequired("LEDGER_DATASET_DIR")
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("LEDGER_STORE: недопустимое значение %q, допустимые: file, postgres", cfg.Store)
	}

	cfg.UploadDir = getEnvDefault("LEDGER_UPLOAD_DIR", "")

	if err := cfg.loadSettingsEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}

	cfg.TrainerCmd = getEnvDefault("LEDGER_TRAINER_CMD", "")
	cfg.TrainerTimeout, err = getEnvDuration("LEDGER_TRAINER_TIMEOUT", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_TRAINER_TIMEOUT: %w", err)
	}

	cfg.SchedulerEnabled, err = getEnvBool("LEDGER_SCHEDULER_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_SCHEDULER_ENABLED: %w", err)
	}
	cfg.SchedulerLeaderLock, err = getEnvBool("LEDGER_SCHEDULER_LEADER_LOCK", false)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_SCHEDULER_LEADER_LOCK: %w", err)
	}
	if cfg.SchedulerLeaderLock && cfg.DataDir == "" {
		return nil, fmt.Errorf("LEDGER_SCHEDULER_LEADER_LOCK: требуется LEDGER_DATA_DIR для файла блокировки")
	}
	cfg.LeaderRetryInterval, err = getEnvDuration("LEDGER_LEADER_RETRY_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_LEADER_RETRY_INTERVAL: %w", err)
	}

	cfg.JWKSUrl = getEnvDefault("LEDGER_JWKS_URL", "")

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LEDGER_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LEDGER_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("LEDGER_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LEDGER_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("LEDGER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_SHUTDOWN_TIMEOUT: %w", err)
	}

	cfg.DephealthCheckInterval, err = getEnvDuration("LEDGER_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("LEDGER_DEPHEALTH_GROUP", "feedback-ledger")
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	return cfg, nil
}

// loadSettingsEnv перекрывает бизнес-параметры значениями из окружения.
func (cfg *Config) loadSettingsEnv() error {
	s := &cfg.Settings
	var err error

	if s.ImageQuota, err = getEnvInt("LEDGER_IMAGE_QUOTA", s.ImageQuota); err != nil {
		return fmt.Errorf("LEDGER_IMAGE_QUOTA: %w", err)
	}
	if s.VideoQuota, err = getEnvInt("LEDGER_VIDEO_QUOTA", s.VideoQuota); err != nil {
		return fmt.Errorf("LEDGER_VIDEO_QUOTA: %w", err)
	}
	if s.QuotaWindow.Duration, err = getEnvDuration("LEDGER_QUOTA_WINDOW", s.QuotaWindow.Duration); err != nil {
		return fmt.Errorf("LEDGER_QUOTA_WINDOW: %w", err)
	}
	if s.RateLimit, err = getEnvInt("LEDGER_RATE_LIMIT", s.RateLimit); err != nil {
		return fmt.Errorf("LEDGER_RATE_LIMIT: %w", err)
	}
	if s.RateWindow.Duration, err = getEnvDuration("LEDGER_RATE_WINDOW", s.RateWindow.Duration); err != nil {
		return fmt.Errorf("LEDGER_RATE_WINDOW: %w", err)
	}
	if s.RateMaxKeys, err = getEnvInt("LEDGER_RATE_MAX_KEYS", s.RateMaxKeys); err != nil {
		return fmt.Errorf("LEDGER_RATE_MAX_KEYS: %w", err)
	}
	if s.ApprovalWindow.Duration, err = getEnvDuration("LEDGER_APPROVAL_WINDOW", s.ApprovalWindow.Duration); err != nil {
		return fmt.Errorf("LEDGER_APPROVAL_WINDOW: %w", err)
	}
	if s.MinPerSector, err = getEnvInt("LEDGER_MIN_PER_SECTOR", s.MinPerSector); err != nil {
		return fmt.Errorf("LEDGER_MIN_PER_SECTOR: %w", err)
	}
	if s.UploadRetention.Duration, err = getEnvDuration("LEDGER_UPLOAD_RETENTION", s.UploadRetention.Duration); err != nil {
		return fmt.Errorf("LEDGER_UPLOAD_RETENTION: %w", err)
	}
	s.DisagreementPolicy = getEnvDefault("LEDGER_DISAGREEMENT_POLICY", s.DisagreementPolicy)
	s.ReportDay = getEnvDefault("LEDGER_REPORT_DAY", s.ReportDay)

	return nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	logger := NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	return logger
}

// NewLogger создаёт логгер с уровнем и форматом из конфигурации,
// пишущий в w. ledgerctl пишет логи в stderr, результат команд в stdout.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 168h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
