// Пакет trainer — запуск внешнего процесса обучения на датасете батча.
//
// Тренер — непрозрачная команда (например, "python train_model.py"),
// которой передаётся путь к датасету: <cmd> --data <path>. Вывод
// процесса (stdout и stderr) сохраняется; хранится только хвост
// ограниченного размера.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// MaxOutputBytes — размер сохраняемого хвоста вывода процесса.
const MaxOutputBytes = 8 * 1024

// ErrNotConfigured — команда тренера не задана.
var ErrNotConfigured = errors.New("команда тренера не задана")

// ExternalProcessError — процесс тренера завершился с ошибкой.
type ExternalProcessError struct {
	// ExitCode — код завершения (-1, если процесс не запустился или прерван)
	ExitCode int
	// Output — хвост вывода процесса
	Output string
	// Err — исходная ошибка
	Err error
}

func (e *ExternalProcessError) Error() string {
	return fmt.Sprintf("тренер завершился с кодом %d: %v", e.ExitCode, e.Err)
}

func (e *ExternalProcessError) Unwrap() error {
	return e.Err
}

// Result — результат запуска тренера.
type Result struct {
	ExitCode  int
	Output    string
	Truncated bool
	Duration  time.Duration
}

// Runner — запуск команды тренера.
type Runner struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// New создаёт Runner. command разбивается на аргументы по пробелам.
// timeout ≤ 0 — без ограничения длительности.
func New(command string, timeout time.Duration, logger *slog.Logger) (*Runner, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, ErrNotConfigured
	}
	return &Runner{
		command: fields,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "trainer")),
	}, nil
}

// Run запускает тренер на датасете. Ненулевой код завершения, таймаут
// и ошибка запуска возвращаются как *ExternalProcessError вместе с Result.
func (r *Runner) Run(ctx context.Context, datasetPath string) (*Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := append(append([]string{}, r.command[1:]...), "--data", datasetPath)
	cmd := exec.CommandContext(ctx, r.command[0], args...)

	out := &tailBuffer{limit: MaxOutputBytes}
	cmd.Stdout = out
	cmd.Stderr = out
	// Дочерние процессы тренера могут удерживать pipe вывода после
	// завершения основного процесса.
	cmd.WaitDelay = 5 * time.Second

	r.logger.Info("Запуск тренера",
		slog.String("command", r.command[0]),
		slog.String("dataset", datasetPath),
		slog.Duration("timeout", r.timeout),
	)

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Output:    out.String(),
		Truncated: out.Truncated(),
		Duration:  time.Since(start),
	}

	if err == nil {
		r.logger.Info("Тренер завершён",
			slog.String("dataset", datasetPath),
			slog.Duration("duration", result.Duration),
		)
		return result, nil
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", ctxErr, err)
		result.ExitCode = -1
	}

	r.logger.Error("Тренер завершился с ошибкой",
		slog.String("dataset", datasetPath),
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", result.Duration),
		slog.String("error", err.Error()),
	)
	return result, &ExternalProcessError{ExitCode: result.ExitCode, Output: result.Output, Err: err}
}

// tailBuffer хранит последние limit байт записанного потока.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.truncated = true
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func (t *tailBuffer) Truncated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.truncated
}
