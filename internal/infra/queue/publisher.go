package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/metrics"
)

// AMQPSink публикует принятые сообщения в обменник RabbitMQ.
type AMQPSink struct {
	mu         sync.Mutex
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

var _ domain.Sink = (*AMQPSink)(nil)

// NewAMQPSink открывает канал и объявляет обменник назначения.
func NewAMQPSink(conn *amqp.Connection, exchange, routingKey string) (*AMQPSink, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPSink{ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

// Publish реализует domain.Sink.
func (s *AMQPSink) Publish(ctx context.Context, msg domain.AcceptedMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal accepted message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err = s.ch.PublishWithContext(ctx, s.exchange, s.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.EventID,
		Timestamp:    msg.ProcessedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", s.exchange, start, err)
	if err != nil {
		return fmt.Errorf("publish accepted message: %w", err)
	}
	return nil
}

// Close закрывает канал публикации.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch.Close()
}
