package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Load читает документ и декодирует его в T.
// Отсутствующий документ возвращает def. Документ, который не удалось
// разобрать, также возвращает def и логируется логгером хранилища.
// Ошибки ввода-вывода возвращаются вызывающему.
func Load[T any](ctx context.Context, s Store, resource string, def T) (T, error) {
	data, err := s.Read(ctx, resource)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return def, nil
		}
		var zero T
		return zero, err
	}

	v := def
	if err := json.Unmarshal(data, &v); err != nil {
		s.Logger().Warn("Документ не удалось разобрать, используется значение по умолчанию",
			slog.String("resource", resource),
			slog.String("error", err.Error()),
		)
		return def, nil
	}
	return v, nil
}

// Save сериализует v и заменяет документ целиком.
func Save[T any](ctx context.Context, s Store, resource string, v T) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: ошибка сериализации %s: %w", ErrIO, resource, err)
	}
	return s.Write(ctx, resource, data)
}

// Mutate выполняет типизированный read-modify-write над документом.
// fn получает свежепрочитанное значение внутри критической секции и
// контекст этой секции; ошибка fn отменяет запись и возвращается как
// есть. ErrNoChange завершает секцию без записи и без ошибки.
//
// Повреждённый документ не перезаписывается: возвращается ErrCorrupt,
// чтобы изменение не уничтожило данные, которые ещё можно восстановить.
func Mutate[T any](ctx context.Context, s Store, resource string, def T, fn func(context.Context, *T) error) error {
	return s.Update(ctx, resource, func(ctx context.Context, current []byte, exists bool) ([]byte, error) {
		v := def
		if exists {
			if err := json.Unmarshal(current, &v); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, resource, err)
			}
		}

		if err := fn(ctx, &v); err != nil {
			return nil, err
		}

		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("%w: ошибка сериализации %s: %w", ErrIO, resource, err)
		}
		return data, nil
	})
}
