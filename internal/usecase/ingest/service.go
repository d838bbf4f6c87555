// Package ingest обрабатывает входящие сообщения Telegram: проверяет источник,
// извлекает коды и сохраняет сообщение с цепочкой ответов.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/metrics"
	"cryptobox-parser/internal/usecase/pipeline"
	"cryptobox-parser/internal/usecase/resolver"
	"cryptobox-parser/internal/usecase/restriction"
)

// Outcome — штатный результат обработки сообщения.
type Outcome string

const (
	OutcomeRestricted Outcome = "restricted"
	OutcomeRejected   Outcome = "rejected"
	OutcomeNoCodes    Outcome = "no_codes"
	OutcomeAccepted   Outcome = "accepted"
)

// Service связывает проверку ограничений, текстовые цепочки, резолвер и приёмник.
type Service struct {
	guard      *restriction.Guard
	messages   *resolver.Messages
	cryptobox  *pipeline.Pipeline
	replyGuard *pipeline.Pipeline
	sink       domain.Sink
	validate   *validator.Validate
	log        zerolog.Logger
	now        func() time.Time
	newID      func() string
}

// NewService создаёт обработчик сообщений.
func NewService(guard *restriction.Guard, messages *resolver.Messages, sink domain.Sink, logger zerolog.Logger) *Service {
	return &Service{
		guard:      guard,
		messages:   messages,
		cryptobox:  pipeline.NewCryptoboxPipeline(),
		replyGuard: pipeline.NewReplyGuard(),
		sink:       sink,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		log:        logger.With().Str("component", "ingest").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// Validate проверяет схему каждого звена цепочки ответов.
func (s *Service) Validate(msg domain.InboundMessage) ([]resolver.Link, error) {
	chain, err := resolver.Flatten(msg, s.messages.MaxDepth())
	if err != nil {
		return nil, err
	}
	for _, link := range chain {
		if err := s.validate.Struct(link.Message); err != nil {
			return nil, fmt.Errorf("%w: message %d: %v", domain.ErrValidation, link.Message.ID, err)
		}
	}
	return chain, nil
}

// HandleMessage обрабатывает сообщение из очереди сообщений.
// Ошибка возвращается только для невалидной схемы и сбоев хранилища или кэша.
func (s *Service) HandleMessage(ctx context.Context, msg domain.InboundMessage) (Outcome, error) {
	if _, err := s.Validate(msg); err != nil {
		return "", err
	}
	log := s.log.With().Int64("chat_id", msg.Chat.ID).Int64("message_id", msg.ID).Logger()
	title := lo.FromPtr(msg.Chat.Title)
	metrics.IncMessage(msg.Chat.ID, title)

	verdict, err := s.guard.Check(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("check restriction: %w", err)
	}
	if verdict.Restricted {
		switch verdict.Kind {
		case domain.TargetUser:
			metrics.IncRestrictedUser(verdict.TargetID, lo.FromPtr(msg.FromUser.Username))
		case domain.TargetChat:
			metrics.IncRestrictedChat(verdict.TargetID, title)
		}
		log.Debug().Str("kind", string(verdict.Kind)).Int64("target", verdict.TargetID).Msg("источник в чёрном списке")
		return OutcomeRestricted, nil
	}

	res := s.cryptobox.Run(msg.Content())
	if res.Rejected {
		metrics.ObservePipeline(s.cryptobox.Name(), string(OutcomeRejected))
		log.Debug().Str("processor", res.RejectedBy).Msg("сообщение отклонено")
		return OutcomeRejected, nil
	}
	if len(res.Codes) == 0 {
		metrics.ObservePipeline(s.cryptobox.Name(), string(OutcomeNoCodes))
		return OutcomeNoCodes, nil
	}
	metrics.ObservePipeline(s.cryptobox.Name(), string(OutcomeAccepted))

	stored, created, err := s.messages.Resolve(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("resolve message: %w", err)
	}
	metrics.IncMessageWithCryptobox(msg.Chat.ID, title)

	event := domain.AcceptedMessage{
		EventID:         s.newID(),
		ChatID:          stored.ChatID,
		MessageID:       stored.MessageID,
		MessageRowID:    stored.ID,
		FromUserID:      stored.FromUserID,
		Cryptoboxes:     res.Codes,
		TelegramMessage: msg,
		ProcessedAt:     s.now(),
	}
	if err := s.sink.Publish(ctx, event); err != nil {
		return "", fmt.Errorf("publish accepted message: %w", err)
	}

	log.Info().
		Strs("cryptoboxes", res.Codes).
		Bool("created", created).
		Str("text", shorten(msg.Content(), 32)).
		Msg("найдены коды")
	return OutcomeAccepted, nil
}

// HandleReply обрабатывает ответ на сообщение. Если в исходном сообщении есть коды,
// текст ответа проверяется стоп-словами. Отказ проверки пока только логируется.
func (s *Service) HandleReply(ctx context.Context, msg domain.InboundMessage) (Outcome, error) {
	if msg.ReplyToMessage == nil {
		return "", fmt.Errorf("%w: message %d is not a reply", domain.ErrValidation, msg.ID)
	}
	if _, err := s.Validate(msg); err != nil {
		return "", err
	}
	metrics.TelegramRepliesToMessageTotal.Inc()

	res := s.cryptobox.Run(msg.ReplyToMessage.Content())
	if res.Rejected || len(res.Codes) == 0 {
		return OutcomeNoCodes, nil
	}

	guard := s.replyGuard.Run(msg.Content())
	log := s.log.With().Int64("chat_id", msg.Chat.ID).Int64("message_id", msg.ID).Logger()
	if guard.Rejected {
		metrics.ObservePipeline(s.replyGuard.Name(), string(OutcomeRejected))
		log.Info().
			Str("reply", shorten(msg.Content(), 64)).
			Strs("cryptoboxes", res.Codes).
			Msg("подозрительный ответ на сообщение с кодами")
		return OutcomeRejected, nil
	}
	metrics.ObservePipeline(s.replyGuard.Name(), string(OutcomeAccepted))
	log.Debug().
		Str("reply", shorten(msg.Content(), 64)).
		Str("original", shorten(msg.ReplyToMessage.Content(), 64)).
		Msg("ответ на сообщение с кодами")
	return OutcomeAccepted, nil
}

// shorten обрезает строку до limit рун с многоточием.
func shorten(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
