package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/metrics"
)

// Handler обрабатывает тело сообщения очереди. Ошибка валидации означает,
// что сообщение нужно отбросить, любая другая — вернуть в очередь.
type Handler func(ctx context.Context, body []byte) error

// Subscription связывает очередь с обработчиком.
type Subscription struct {
	Queue   string
	Handler Handler
}

// Dial подключается к RabbitMQ.
func Dial(url string) (*amqp.Connection, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	start := time.Now()
	conn, err := amqp.Dial(url)
	metrics.ObserveNetworkRequest("rabbitmq", "dial", "", start, err)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return conn, nil
}

// Consumer читает очереди direct-обменника пулом обработчиков.
type Consumer struct {
	conn     *amqp.Connection
	exchange string
	workers  int
	log      zerolog.Logger
}

// NewConsumer создаёт потребителя. workers задаёт и prefetch, и число параллельных обработчиков.
func NewConsumer(conn *amqp.Connection, exchange string, workers int, logger zerolog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		conn:     conn,
		exchange: exchange,
		workers:  workers,
		log:      logger.With().Str("component", "consumer").Logger(),
	}
}

// Run объявляет топологию и обрабатывает сообщения до отмены ctx.
// После отмены новые сообщения не принимаются, а начатые дорабатываются.
func (c *Consumer) Run(ctx context.Context, subs ...Subscription) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		g.Go(func() error {
			return c.consume(gCtx, sub)
		})
	}
	return g.Wait()
}

func (c *Consumer) consume(ctx context.Context, sub Subscription) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := c.declare(ch, sub.Queue); err != nil {
		return err
	}
	if err := ch.Qos(c.workers, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	tag := "cryptobox-parser-" + sub.Queue
	deliveries, err := ch.Consume(sub.Queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", sub.Queue, err)
	}

	log := c.log.With().Str("queue", sub.Queue).Logger()
	log.Info().Int("workers", c.workers).Msg("очередь подключена")

	// Обработчики не наследуют отмену ctx, чтобы начатые сообщения были доработаны.
	handlerCtx := context.WithoutCancel(ctx)
	var workers errgroup.Group
	workers.SetLimit(c.workers)
	defer workers.Wait()

	for {
		select {
		case <-ctx.Done():
			if err := ch.Cancel(tag, false); err != nil {
				log.Warn().Err(err).Msg("не удалось отменить подписку")
			}
			log.Info().Msg("ожидаем завершения обработчиков")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("queue %s: delivery channel closed", sub.Queue)
			}
			workers.Go(func() error {
				c.dispatch(handlerCtx, sub.Queue, d, sub.Handler)
				return nil
			})
		}
	}
}

func (c *Consumer) declare(ch *amqp.Channel, queue string) error {
	if err := ch.ExchangeDeclare(c.exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.exchange, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, queue, c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}
	return nil
}

// dispatch вызывает обработчик и подтверждает доставку по результату.
func (c *Consumer) dispatch(ctx context.Context, queue string, d amqp.Delivery, handler Handler) {
	err := handler(ctx, d.Body)
	switch {
	case err == nil:
		c.settle(queue, "ack", d.Ack(false))
	case !domain.Retryable(err):
		c.log.Warn().Err(err).Str("queue", queue).Uint64("tag", d.DeliveryTag).Msg("сообщение отброшено")
		c.settle(queue, "drop", d.Ack(false))
	default:
		c.log.Error().Err(err).Str("queue", queue).Uint64("tag", d.DeliveryTag).Msg("сообщение возвращено в очередь")
		c.settle(queue, "requeue", d.Nack(false, true))
	}
}

func (c *Consumer) settle(queue, result string, err error) {
	metrics.ObserveHandler(queue, result)
	if err != nil {
		c.log.Error().Err(err).Str("queue", queue).Str("result", result).Msg("не удалось подтвердить доставку")
	}
}
