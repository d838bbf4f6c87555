package queue

import (
	"context"

	"github.com/rs/zerolog"

	"cryptobox-parser/internal/domain"
)

// LogSink только пишет принятые сообщения в лог.
type LogSink struct {
	log zerolog.Logger
}

var _ domain.Sink = LogSink{}

// NewLogSink создаёт приёмник-лог.
func NewLogSink(logger zerolog.Logger) LogSink {
	return LogSink{log: logger.With().Str("component", "sink").Logger()}
}

// Publish реализует domain.Sink.
func (s LogSink) Publish(_ context.Context, msg domain.AcceptedMessage) error {
	s.log.Info().
		Str("event_id", msg.EventID).
		Int64("chat_id", msg.ChatID).
		Int64("message_id", msg.MessageID).
		Strs("cryptoboxes", msg.Cryptoboxes).
		Msg("сообщение принято")
	return nil
}
