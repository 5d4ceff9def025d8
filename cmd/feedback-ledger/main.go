// Точка входа feedback-ledger — сервиса учёта отзывов на результаты
// классификации, квот клиентов и выпуска батчей дообучения.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bigkaa/feedback-ledger/internal/app"
	"github.com/bigkaa/feedback-ledger/internal/config"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("feedback-ledger запускается",
		slog.String("version", config.Version),
		slog.String("store", cfg.Store),
		slog.Int("port", cfg.Port),
		slog.Bool("scheduler", cfg.SchedulerEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Хранилище, WAL и сервисы
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Восстановление WAL, фоновые процессы, HTTP-сервер
	runErr := application.Run(ctx)
	application.Close()
	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}

	logger.Info("feedback-ledger остановлен")
}
