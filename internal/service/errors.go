package service

import (
	"errors"
	"fmt"
)

// Ошибки сервисного слоя. Слой API сопоставляет их с HTTP-кодами
// в одном месте (internal/api/errors).
var (
	// ErrInvalidInput — некорректные аргументы, отклонены до любых изменений.
	ErrInvalidInput = errors.New("некорректные входные данные")
	// ErrNotFound — объект не найден.
	ErrNotFound = errors.New("не найдено")
	// ErrDenied — запрос отклонён ограничениями (квота, частота, блокировка).
	ErrDenied = errors.New("запрос отклонён")
	// ErrQuotaExceeded — квота клиента исчерпана в текущем окне.
	ErrQuotaExceeded = fmt.Errorf("%w: квота исчерпана", ErrDenied)
	// ErrRateLimited — превышена частота запросов ключа.
	ErrRateLimited = fmt.Errorf("%w: превышена частота запросов", ErrDenied)
	// ErrClientBlocked — клиент заблокирован администратором.
	ErrClientBlocked = fmt.Errorf("%w: клиент заблокирован", ErrDenied)
	// ErrConflict — объект уже существует.
	ErrConflict = errors.New("конфликт")
	// ErrJobRunning — задача уже выполняется, повторный запуск пропущен.
	ErrJobRunning = errors.New("задача уже выполняется")
)

// invalidInput оборачивает описание ошибки валидации в ErrInvalidInput.
func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
