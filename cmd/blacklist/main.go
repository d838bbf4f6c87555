// Команда blacklist управляет чёрным списком пользователей и чатов.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cryptobox-parser/internal/adapters/repo"
	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/cache"
	"cryptobox-parser/internal/infra/config"
	"cryptobox-parser/internal/infra/db"
	applog "cryptobox-parser/internal/infra/log"
	"cryptobox-parser/internal/usecase/resolver"
	"cryptobox-parser/internal/usecase/restriction"
)

func main() {
	if err := newRootCmd(openApp).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openApp подключается к БД и кэшу так же, как потребитель. Инвалидация
// доходит до потребителя только при общем бэкенде CACHE_BACKEND=redis.
func openApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	if cfg.PGDSN == "" {
		return nil, fmt.Errorf("PG_DSN is empty")
	}
	pool, err := db.Connect(ctx, cfg.PGDSN, 2)
	if err != nil {
		return nil, err
	}
	a := &app{closers: []func(){pool.Close}}
	store := repo.NewPostgres(pool)

	var client *redis.Client
	if cfg.RedisAddr != "" {
		client = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, func() { _ = client.Close() })
	}
	backend, err := cache.Open(cfg.Cache.Backend, client, 0)
	if err != nil {
		a.close()
		return nil, err
	}
	if cfg.Cache.Backend != cache.BackendRedis {
		logger.Warn().Msg("кэш не общий с потребителем: изменения станут видны ему по истечении CACHE_TTL")
	}

	a.wire(store, backend, cfg.Cache.TTL, logger)
	return a, nil
}

func (a *app) wire(store domain.Store, backend cache.Store, ttl time.Duration, logger zerolog.Logger) {
	a.users = restriction.NewService(domain.TargetUser, store,
		cache.NewNamespace[[]domain.BlacklistEntry](backend, cache.NamespaceRestrictionUser, ttl), logger)
	a.chats = restriction.NewService(domain.TargetChat, store,
		cache.NewNamespace[[]domain.BlacklistEntry](backend, cache.NamespaceRestrictionChat, ttl), logger)
	messages := cache.NewNamespace[domain.Message](backend, cache.NamespaceMessage, ttl)
	a.userEntities = resolver.NewUsers(store, cache.NewNamespace[domain.User](backend, cache.NamespaceUser, ttl), messages, a.users)
	a.chatEntities = resolver.NewChats(store, cache.NewNamespace[domain.Chat](backend, cache.NamespaceChat, ttl), messages, a.chats)
}
