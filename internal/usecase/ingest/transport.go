package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"cryptobox-parser/internal/domain"
)

// DecodeEnvelope разбирает тело сообщения очереди: конверт {client, message}
// или само сообщение.
func DecodeEnvelope(body []byte) (domain.Envelope, error) {
	var raw struct {
		Client  *domain.ClientInfo     `json:"client"`
		Message *domain.InboundMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.Envelope{}, fmt.Errorf("%w: decode envelope: %v", domain.ErrValidation, err)
	}
	if raw.Message != nil {
		return domain.Envelope{Client: raw.Client, Message: *raw.Message}, nil
	}

	var msg domain.InboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return domain.Envelope{}, fmt.Errorf("%w: decode message: %v", domain.ErrValidation, err)
	}
	return domain.Envelope{Message: msg}, nil
}

// ConsumeMessage — обработчик очереди сообщений.
func (s *Service) ConsumeMessage(ctx context.Context, body []byte) error {
	env, err := DecodeEnvelope(body)
	if err != nil {
		return err
	}
	outcome, err := s.HandleMessage(ctx, env.Message)
	s.logOutcome(env, "message", outcome, err)
	return err
}

// ConsumeReply — обработчик очереди ответов.
func (s *Service) ConsumeReply(ctx context.Context, body []byte) error {
	env, err := DecodeEnvelope(body)
	if err != nil {
		return err
	}
	outcome, err := s.HandleReply(ctx, env.Message)
	s.logOutcome(env, "reply_to_message", outcome, err)
	return err
}

func (s *Service) logOutcome(env domain.Envelope, queue string, outcome Outcome, err error) {
	ev := s.log.Debug()
	if err != nil {
		ev = s.log.Warn().Err(err)
	}
	if env.Client != nil {
		ev = ev.Str("client", env.Client.Name)
	}
	ev.Str("queue", queue).Int64("message_id", env.Message.ID).Str("outcome", string(outcome)).Msg("обработка завершена")
}
