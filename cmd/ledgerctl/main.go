// ledgerctl — разовые операции обслуживания feedback-ledger над теми же
// данными, что и сервис: задачи планировщика, WAL, клиенты, обучение.
// Конфигурация читается из тех же переменных окружения LEDGER_*.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bigkaa/feedback-ledger/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.Load).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
