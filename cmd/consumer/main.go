package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cryptobox-parser/internal/adapters/repo"
	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/cache"
	"cryptobox-parser/internal/infra/config"
	"cryptobox-parser/internal/infra/db"
	apphttp "cryptobox-parser/internal/infra/http"
	applog "cryptobox-parser/internal/infra/log"
	"cryptobox-parser/internal/infra/metrics"
	"cryptobox-parser/internal/infra/queue"
	"cryptobox-parser/internal/usecase/ingest"
	"cryptobox-parser/internal/usecase/resolver"
	"cryptobox-parser/internal/usecase/restriction"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("consumer: завершение с ошибкой")
		stop()
		os.Exit(1)
	}
	logger.Info().Msg("consumer: остановлен")
}

// run собирает зависимости и обрабатывает очереди до отмены ctx.
// Ресурсы закрываются в обратном порядке до возврата.
func run(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) error {
	if cfg.PGDSN == "" {
		return errors.New("не указан адрес БД (PG_DSN)")
	}
	pool, err := db.Connect(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return fmt.Errorf("нет подключения к БД: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(pool, logger); err != nil {
		return fmt.Errorf("не удалось применить миграции: %w", err)
	}
	store := repo.NewPostgres(pool)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	backend, err := cache.Open(cfg.Cache.Backend, redisClient, time.Minute)
	if err != nil {
		return fmt.Errorf("не удалось создать кэш: %w", err)
	}
	httpOpts := apphttp.Options{
		Checks:   map[string]apphttp.Pinger{"postgres": store},
		CacheTTL: cfg.Cache.TTL,
	}
	if mem, ok := backend.(*cache.Memory); ok {
		defer mem.Close()
		httpOpts.Cache = mem
	}
	if redisClient != nil {
		httpOpts.Checks["redis"] = redisPinger{redisClient}
	}

	userRestrictions := restriction.NewService(domain.TargetUser, store,
		cache.NewNamespace[[]domain.BlacklistEntry](backend, cache.NamespaceRestrictionUser, cfg.Cache.TTL), logger)
	chatRestrictions := restriction.NewService(domain.TargetChat, store,
		cache.NewNamespace[[]domain.BlacklistEntry](backend, cache.NamespaceRestrictionChat, cfg.Cache.TTL), logger)

	messageCache := cache.NewNamespace[domain.Message](backend, cache.NamespaceMessage, cfg.Cache.TTL)
	users := resolver.NewUsers(store, cache.NewNamespace[domain.User](backend, cache.NamespaceUser, cfg.Cache.TTL), messageCache, userRestrictions)
	chats := resolver.NewChats(store, cache.NewNamespace[domain.Chat](backend, cache.NamespaceChat, cfg.Cache.TTL), messageCache, chatRestrictions)
	messages := resolver.NewMessages(store, messageCache, users, chats, cfg.MaxReplyDepth)

	conn, err := queue.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return fmt.Errorf("нет подключения к RabbitMQ: %w", err)
	}
	defer conn.Close()

	sink, closeSink, err := newSink(cfg, conn, redisClient, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	service := ingest.NewService(restriction.NewGuard(userRestrictions, chatRestrictions), messages, sink, logger)

	server := apphttp.NewServer(logger, httpOpts)
	go func() {
		if err := server.Start(cfg.HTTPAddr); err != nil {
			logger.Error().Err(err).Msg("consumer: HTTP сервер остановлен с ошибкой")
		}
	}()

	consumer := queue.NewConsumer(conn, cfg.RabbitMQ.TelegramExchange, cfg.Workers, logger)
	logger.Info().
		Str("cache", cfg.Cache.Backend).
		Str("sink", cfg.Sink.Kind).
		Int("workers", cfg.Workers).
		Msg("consumer: запуск обработки очередей")
	runErr := consumer.Run(ctx,
		queue.Subscription{Queue: cfg.RabbitMQ.MessageQueue, Handler: service.ConsumeMessage},
		queue.Subscription{Queue: cfg.RabbitMQ.ReplyToMessageQueue, Handler: service.ConsumeReply},
	)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("consumer: не удалось остановить HTTP сервер")
	}
	if runErr != nil {
		return fmt.Errorf("обработка очередей прервана: %w", runErr)
	}
	return nil
}

// newSink выбирает приёмник принятых сообщений по SINK.
func newSink(cfg config.AppConfig, conn *amqp.Connection, client *redis.Client, logger zerolog.Logger) (domain.Sink, func(), error) {
	switch cfg.Sink.Kind {
	case "amqp":
		if conn == nil {
			return nil, nil, errors.New("для SINK=amqp нужно подключение к RabbitMQ")
		}
		sink, err := queue.NewAMQPSink(conn, cfg.RabbitMQ.CryptoboxExchange, cfg.RabbitMQ.CryptoboxRoutingKey)
		if err != nil {
			return nil, nil, fmt.Errorf("не удалось создать публикацию в RabbitMQ: %w", err)
		}
		return sink, func() {
			if err := sink.Close(); err != nil {
				logger.Warn().Err(err).Msg("consumer: не удалось закрыть канал публикации")
			}
		}, nil
	case "redis":
		if client == nil {
			return nil, nil, errors.New("для SINK=redis нужен REDIS_ADDR")
		}
		return queue.NewRedisSink(client, cfg.Sink.RedisKey), func() {}, nil
	case "log":
		return queue.NewLogSink(logger), func() {}, nil
	}
	return nil, nil, fmt.Errorf("неизвестный приёмник %q", cfg.Sink.Kind)
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
