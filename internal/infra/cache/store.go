// Package cache реализует cache-aside поверх TTL-хранилища ключ/значение.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss — ключ отсутствует или истёк.
var ErrMiss = errors.New("cache: miss")

// Store — бэкенд кэша с TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete идемпотентен: удаление отсутствующего ключа не ошибка.
	Delete(ctx context.Context, key string) error
}
