package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/metrics"
)

// DefaultTTL — время жизни записей по умолчанию.
const DefaultTTL = 300 * time.Second

// Имена пространств ключей.
const (
	NamespaceUser            = "telegram_user"
	NamespaceChat            = "telegram_chat"
	NamespaceMessage         = "telegram_message"
	NamespaceRestrictionUser = "restriction_user"
	NamespaceRestrictionChat = "restriction_chat"
)

// Loader загружает значение из источника истины при промахе.
type Loader[V any] func(ctx context.Context) (V, error)

// Namespace — типизированное пространство ключей cache-aside.
// Одновременные промахи по одному ключу объединяются; ошибки загрузчика не кэшируются.
type Namespace[V any] struct {
	name  string
	ttl   time.Duration
	store Store
	group singleflight.Group
	// epoch растёт при каждой инвалидации: загрузка, начатая до неё, не попадает в кэш.
	epoch atomic.Uint64
}

// NewNamespace создаёт пространство ключей.
func NewNamespace[V any](store Store, name string, ttl time.Duration) *Namespace[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Namespace[V]{name: name, ttl: ttl, store: store}
}

// Name возвращает имя пространства.
func (n *Namespace[V]) Name() string { return n.name }

// TTL возвращает время жизни записей.
func (n *Namespace[V]) TTL() time.Duration { return n.ttl }

// Key приводит составной ключ к одной строке.
func Key(parts ...int64) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strconv.FormatInt(p, 10)
	}
	return strings.Join(out, ":")
}

func (n *Namespace[V]) fullKey(key string) string {
	return n.name + ":" + key
}

// createFlight отделяет загрузки с созданием записи от обычных чтений.
const createFlight = "#create"

// GetOrLoad возвращает значение из кэша или вызывает loader и кэширует результат.
func (n *Namespace[V]) GetOrLoad(ctx context.Context, key string, loader Loader[V]) (V, error) {
	return n.getOrLoad(ctx, key, "", loader)
}

// GetOrCreate работает как GetOrLoad, но промахи объединяются отдельно от чтений:
// создающий загрузчик не получает ErrNotFound от одновременного GetOrLoad того же ключа.
func (n *Namespace[V]) GetOrCreate(ctx context.Context, key string, loader Loader[V]) (V, error) {
	return n.getOrLoad(ctx, key, createFlight, loader)
}

func (n *Namespace[V]) getOrLoad(ctx context.Context, key, flight string, loader Loader[V]) (V, error) {
	var zero V
	full := n.fullKey(key)

	data, err := n.store.Get(ctx, full)
	switch {
	case err == nil:
		var v V
		if jsonErr := json.Unmarshal(data, &v); jsonErr == nil {
			metrics.ObserveCache(n.name, "hit")
			return v, nil
		}
		_ = n.store.Delete(ctx, full)
	case errors.Is(err, ErrMiss):
	default:
		return zero, fmt.Errorf("cache get %s: %w: %v", full, domain.ErrCacheUnavailable, err)
	}
	metrics.ObserveCache(n.name, "miss")

	res, err, _ := n.group.Do(full+flight, func() (any, error) {
		epoch := n.epoch.Load()
		v, err := loader(ctx)
		if err != nil {
			return zero, err
		}
		if n.epoch.Load() != epoch {
			return v, nil
		}
		payload, err := json.Marshal(v)
		if err != nil {
			return zero, fmt.Errorf("cache encode %s: %w", full, err)
		}
		if err := n.store.Set(ctx, full, payload, n.ttl); err != nil {
			return v, fmt.Errorf("cache set %s: %w: %v", full, domain.ErrCacheUnavailable, err)
		}
		if n.epoch.Load() != epoch {
			// инвалидация пришлась на запись
			_ = n.store.Delete(ctx, full)
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return res.(V), nil
}

// Invalidate удаляет ключ. Удаление отсутствующего ключа — не ошибка.
func (n *Namespace[V]) Invalidate(ctx context.Context, key string) error {
	full := n.fullKey(key)
	n.epoch.Add(1)
	n.group.Forget(full)
	n.group.Forget(full + createFlight)
	if err := n.store.Delete(ctx, full); err != nil {
		return fmt.Errorf("cache delete %s: %w: %v", full, domain.ErrCacheUnavailable, err)
	}
	return nil
}
