package trainer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeScript создаёт исполняемый shell-скрипт тренера.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o750); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_EmptyCommand(t *testing.T) {
	if _, err := New("   ", time.Minute, testLogger()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("ожидалась ErrNotConfigured, получено %v", err)
	}
}

// TestRun_PassesDatasetPath проверяет передачу аргументов и захват вывода.
func TestRun_PassesDatasetPath(t *testing.T) {
	script := writeScript(t, `echo "args: $@"`)
	r, err := New("/bin/sh "+script+" --epochs 3", time.Minute, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	result, err := r.Run(context.Background(), "/data/sector_batch_1.json")
	if err != nil {
		t.Fatalf("ошибка запуска: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("ExitCode = %d, ожидался 0", result.ExitCode)
	}
	want := "args: --epochs 3 --data /data/sector_batch_1.json"
	if strings.TrimSpace(result.Output) != want {
		t.Errorf("вывод %q, ожидался %q", result.Output, want)
	}
}

// TestRun_NonZeroExit проверяет ExternalProcessError с кодом и выводом.
func TestRun_NonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "loss diverged" >&2; exit 3`)
	r, _ := New("/bin/sh "+script, time.Minute, testLogger())

	result, err := r.Run(context.Background(), "/tmp/dataset.json")
	var procErr *ExternalProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("ожидалась ExternalProcessError, получено %v", err)
	}
	if procErr.ExitCode != 3 || result.ExitCode != 3 {
		t.Errorf("ExitCode = %d/%d, ожидался 3", procErr.ExitCode, result.ExitCode)
	}
	if !strings.Contains(procErr.Output, "loss diverged") {
		t.Errorf("вывод не сохранён: %q", procErr.Output)
	}
}

// TestRun_Timeout проверяет прерывание по таймауту.
func TestRun_Timeout(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)
	r, _ := New("/bin/sh "+script, 100*time.Millisecond, testLogger())

	_, err := r.Run(context.Background(), "/tmp/dataset.json")
	var procErr *ExternalProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("ожидалась ExternalProcessError, получено %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ожидалась context.DeadlineExceeded в цепочке, получено %v", err)
	}
	if procErr.ExitCode != -1 {
		t.Errorf("ExitCode = %d, ожидался -1", procErr.ExitCode)
	}
}

// TestRun_MissingBinary проверяет ошибку запуска несуществующей команды.
func TestRun_MissingBinary(t *testing.T) {
	r, _ := New(filepath.Join(t.TempDir(), "no-such-trainer"), time.Minute, testLogger())
	_, err := r.Run(context.Background(), "/tmp/dataset.json")
	var procErr *ExternalProcessError
	if !errors.As(err, &procErr) || procErr.ExitCode != -1 {
		t.Errorf("ожидалась ExternalProcessError с кодом -1, получено %v", err)
	}
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{limit: 5}
	b.Write([]byte("abc"))
	if b.Truncated() {
		t.Error("буфер не должен быть усечён")
	}
	b.Write([]byte("defgh"))
	if got := b.String(); got != "defgh" {
		t.Errorf("хвост = %q, ожидался %q", got, "defgh")
	}
	if !b.Truncated() {
		t.Error("буфер должен быть усечён")
	}
}
