// Package resolver находит или создаёт пользователей, чаты и сообщения через кэш.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/cache"
)

// Invalidator сбрасывает производные ключи цели при её изменении.
type Invalidator interface {
	Invalidate(ctx context.Context, targetID int64) error
}

// getOrCreate реализует общий алгоритм: попадание в кэш — (v, false);
// промах — транзакция «прочитать, вставить, при конфликте перечитать».
// Кэш заполняется после фиксации транзакции.
func getOrCreate[V any](
	ctx context.Context,
	store domain.Store,
	ns *cache.Namespace[V],
	key string,
	read func(ctx context.Context, q domain.Queries) (V, error),
	insert func(ctx context.Context, q domain.Queries) (V, error),
) (V, bool, error) {
	created := false
	v, err := ns.GetOrCreate(ctx, key, func(ctx context.Context) (V, error) {
		var out V
		err := store.WithTx(ctx, func(q domain.Queries) error {
			existing, err := read(ctx, q)
			if err == nil {
				out = existing
				return nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			inserted, err := insert(ctx, q)
			if errors.Is(err, domain.ErrConflict) {
				out, err = read(ctx, q)
				return err
			}
			if err != nil {
				return err
			}
			out = inserted
			created = true
			return nil
		})
		return out, err
	})
	if err != nil {
		var zero V
		return zero, false, fmt.Errorf("get or create %s %s: %w", ns.Name(), key, err)
	}
	return v, created, nil
}

// invalidateAll сбрасывает все ключи и объединяет ошибки.
func invalidateAll(ctx context.Context, fns ...func(context.Context) error) error {
	var errs []error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// invalidateMessages сбрасывает ключи сообщений, изменённых каскадом в БД.
func invalidateMessages(ctx context.Context, ns *cache.Namespace[domain.Message], keys []domain.MessageKey) error {
	if ns == nil {
		return nil
	}
	var errs []error
	for _, key := range keys {
		if err := ns.Invalidate(ctx, messageKey(key)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
