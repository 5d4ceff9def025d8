// Пакет docstore — надёжное хранилище именованных документов.
//
// Документ (ресурс) читается и записывается целиком. Все изменения
// выполняются через Update: чтение, применение функции и запись
// происходят в одной критической секции под эксклюзивной блокировкой
// ресурса, что исключает потерянные обновления. Запись никогда не
// оставляет частично записанный документ: читатель видит либо прежнюю,
// либо новую полную версию.
//
// Вложенные Update разных ресурсов допустимы только в фиксированном
// порядке (feedback → sectors → batches) и только с контекстом, который
// функция Update получила аргументом. Вложенный Update того же ресурса
// в FileStore приводит к взаимной блокировке.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

var (
	// ErrNotFound — документ отсутствует.
	ErrNotFound = errors.New("документ не найден")
	// ErrIO — хранилище не смогло завершить операцию, прежняя версия сохранена.
	ErrIO = errors.New("ошибка ввода-вывода хранилища")
	// ErrCorrupt — документ не удалось разобрать.
	ErrCorrupt = errors.New("документ повреждён")
	// ErrInvalidName — недопустимое имя ресурса.
	ErrInvalidName = errors.New("недопустимое имя ресурса")
	// ErrNoChange — возвращается из функции Update, чтобы завершить
	// критическую секцию без записи. Update в этом случае возвращает nil.
	ErrNoChange = errors.New("документ не изменён")
)

// UpdateFunc получает текущее содержимое ресурса (exists == false, если
// ресурса нет) и возвращает новое содержимое. Ошибка отменяет запись.
// ctx привязан к критической секции: вложенные чтения и Update
// выполняются с ним.
type UpdateFunc func(ctx context.Context, current []byte, exists bool) ([]byte, error)

// Store — хранилище документов.
type Store interface {
	// Read возвращает содержимое ресурса или ErrNotFound.
	Read(ctx context.Context, resource string) ([]byte, error)
	// Write заменяет содержимое ресурса целиком.
	Write(ctx context.Context, resource string, data []byte) error
	// Update выполняет read-modify-write под эксклюзивной блокировкой ресурса.
	Update(ctx context.Context, resource string, fn UpdateFunc) error
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
	// Close освобождает ресурсы хранилища.
	Close() error
	// Logger возвращает логгер компонента хранилища.
	Logger() *slog.Logger
}

// nestedAtomic реализуют хранилища, в которых вложенный Update
// фиксируется только вместе с внешним.
type nestedAtomic interface {
	NestedUpdatesAtomic() bool
}

// NestedUpdatesAtomic сообщает, откатывается ли вложенный Update вместе
// с внешним. Для FileStore — false: вложенная запись фиксируется сразу.
func NestedUpdatesAtomic(s Store) bool {
	n, ok := s.(nestedAtomic)
	return ok && n.NestedUpdatesAtomic()
}

// segmentPattern — допустимый сегмент имени ресурса.
var segmentPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateName проверяет имя ресурса: сегменты [a-z0-9_-], разделённые "/".
func ValidateName(resource string) error {
	if resource == "" || len(resource) > 200 {
		return fmt.Errorf("%w: %q", ErrInvalidName, resource)
	}
	for _, seg := range strings.Split(resource, "/") {
		if !segmentPattern.MatchString(seg) {
			return fmt.Errorf("%w: %q", ErrInvalidName, resource)
		}
	}
	return nil
}

// ioError оборачивает ошибку в ErrIO, сохраняя исходную цепочку.
func ioError(op, resource string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, resource, err)
}
