package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptobox-parser/internal/adapters/repo"
	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/cache"
	"cryptobox-parser/internal/usecase/resolver"
	"cryptobox-parser/internal/usecase/restriction"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.AcceptedMessage
	err    error
}

func (s *recordingSink) Publish(_ context.Context, msg domain.AcceptedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, msg)
	return nil
}

type harness struct {
	svc   *Service
	store *repo.Memory
	guard *restriction.Guard
	sink  *recordingSink
}

func newHarness(t *testing.T) harness {
	t.Helper()
	store := repo.NewMemory()
	backend := cache.NewMemory(0)
	t.Cleanup(backend.Close)

	userRestrictions := restriction.NewService(domain.TargetUser, store,
		cache.NewNamespace[[]domain.BlacklistEntry](backend, cache.NamespaceRestrictionUser, time.Minute), zerolog.Nop())
	chatRestrictions := restriction.NewService(domain.TargetChat, store,
		cache.NewNamespace[[]domain.BlacklistEntry](backend, cache.NamespaceRestrictionChat, time.Minute), zerolog.Nop())
	guard := restriction.NewGuard(userRestrictions, chatRestrictions)

	messageCache := cache.NewNamespace[domain.Message](backend, cache.NamespaceMessage, time.Minute)
	users := resolver.NewUsers(store, cache.NewNamespace[domain.User](backend, cache.NamespaceUser, time.Minute), messageCache, userRestrictions)
	chats := resolver.NewChats(store, cache.NewNamespace[domain.Chat](backend, cache.NamespaceChat, time.Minute), messageCache, chatRestrictions)
	messages := resolver.NewMessages(store, messageCache, users, chats, 8)

	sink := &recordingSink{}
	svc := NewService(guard, messages, sink, zerolog.Nop())
	svc.newID = func() string { return "event-1" }
	return harness{svc: svc, store: store, guard: guard, sink: sink}
}

func inbound(text string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:       42,
		Text:     lo.ToPtr(text),
		FromUser: &domain.InboundUser{ID: 7, Username: lo.ToPtr("alice")},
		Chat:     &domain.InboundChat{ID: -100, Type: domain.ChatTypeSupergroup, Title: lo.ToPtr("codes")},
	}
}

func TestHandleMessageOutcomes(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Outcome
	}{
		{name: "accepted", text: "my code AABBCCD1", want: OutcomeAccepted},
		{name: "stop word", text: "AABBCCD1 fake", want: OutcomeRejected},
		{name: "coin ticker", text: "5000BTTC", want: OutcomeRejected},
		{name: "empty", text: "", want: OutcomeRejected},
		{name: "no codes", text: "hello there", want: OutcomeNoCodes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			got, err := h.svc.HandleMessage(context.Background(), inbound(tt.text))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			n, err := h.store.CountMessages(context.Background(), domain.MessageFilter{})
			require.NoError(t, err)
			if tt.want == OutcomeAccepted {
				assert.Equal(t, 1, n)
				assert.Len(t, h.sink.events, 1)
			} else {
				assert.Zero(t, n, "only messages with codes are persisted")
				assert.Empty(t, h.sink.events)
			}
		})
	}
}

func TestHandleMessagePublishesEvent(t *testing.T) {
	h := newHarness(t)
	msg := inbound("codes 00BBCCD1 000011AA")

	_, err := h.svc.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, h.sink.events, 1)

	ev := h.sink.events[0]
	assert.Equal(t, "event-1", ev.EventID)
	assert.Equal(t, int64(-100), ev.ChatID)
	assert.Equal(t, int64(42), ev.MessageID)
	assert.NotZero(t, ev.MessageRowID)
	assert.Equal(t, []string{"00BBCCD1", "000011AA"}, ev.Cryptoboxes)
	require.NotNil(t, ev.FromUserID)
	assert.Equal(t, int64(7), *ev.FromUserID)
	assert.Equal(t, msg.ID, ev.TelegramMessage.ID)
}

func TestHandleMessageCaptionOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := inbound("")
	msg.Text = nil
	msg.Caption = lo.ToPtr("photo with AABBCCD1")

	got, err := h.svc.HandleMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, got)
	require.Len(t, h.sink.events, 1)
	assert.Equal(t, []string{"AABBCCD1"}, h.sink.events[0].Cryptoboxes)

	stored, err := h.store.MessageByKey(ctx, domain.MessageKey{ChatID: -100, MessageID: 42})
	require.NoError(t, err)
	assert.Nil(t, stored.Text)
	require.NotNil(t, stored.Caption)
	assert.Equal(t, "photo with AABBCCD1", *stored.Caption)
}

func TestHandleMessageRedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for range 3 {
		_, err := h.svc.HandleMessage(ctx, inbound("AABBCCD1"))
		require.NoError(t, err)
	}
	n, err := h.store.CountMessages(ctx, domain.MessageFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandleMessageRestricted(t *testing.T) {
	ctx := context.Background()

	t.Run("user", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.store.InsertUser(ctx, domain.User{ID: 7})
		require.NoError(t, err)
		_, err = h.guard.Users().AddToBlacklist(ctx, 7, nil, nil)
		require.NoError(t, err)

		got, err := h.svc.HandleMessage(ctx, inbound("AABBCCD1"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeRestricted, got)
		assert.Empty(t, h.sink.events)
	})

	t.Run("chat", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.store.InsertChat(ctx, domain.Chat{ID: -100, Type: domain.ChatTypeSupergroup})
		require.NoError(t, err)
		_, err = h.guard.Chats().AddToBlacklist(ctx, -100, nil, nil)
		require.NoError(t, err)

		got, err := h.svc.HandleMessage(ctx, inbound("AABBCCD1"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeRestricted, got)
	})
}

func TestHandleMessageValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	noChat := inbound("AABBCCD1")
	noChat.Chat = nil
	_, err := h.svc.HandleMessage(ctx, noChat)
	assert.ErrorIs(t, err, domain.ErrValidation)

	badType := inbound("AABBCCD1")
	badType.Chat.Type = "FORUM"
	_, err = h.svc.HandleMessage(ctx, badType)
	assert.ErrorIs(t, err, domain.ErrValidation)

	badReply := inbound("AABBCCD1")
	badReply.ReplyToMessage = &domain.InboundMessage{ID: 0}
	_, err = h.svc.HandleMessage(ctx, badReply)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.False(t, domain.Retryable(err))
}

func TestHandleMessageSinkFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("broker down")

	_, err := h.svc.HandleMessage(context.Background(), inbound("AABBCCD1"))
	require.Error(t, err)
	assert.True(t, domain.Retryable(err))
}

func TestHandleReply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reply := func(text, original string) domain.InboundMessage {
		msg := inbound(text)
		msg.ID = 43
		msg.ReplyToMessage = &domain.InboundMessage{ID: 42, Text: lo.ToPtr(original)}
		return msg
	}

	got, err := h.svc.HandleReply(ctx, reply("thanks!", "AABBCCD1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, got)

	got, err = h.svc.HandleReply(ctx, reply("this is fake", "AABBCCD1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, got)

	got, err = h.svc.HandleReply(ctx, reply("this is fake", "no codes here"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoCodes, got)

	_, err = h.svc.HandleReply(ctx, inbound("not a reply"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	n, err := h.guard.Users().CountRestricted(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"client":{"name":"collector"},"message":{"id":1,"text":"hi","chat":{"id":-1,"type":"GROUP"}}}`))
	require.NoError(t, err)
	require.NotNil(t, env.Client)
	assert.Equal(t, "collector", env.Client.Name)
	assert.Equal(t, int64(1), env.Message.ID)

	env, err = DecodeEnvelope([]byte(`{"id":2,"caption":"AABBCCD1","chat":{"id":-1,"type":"CHANNEL"}}`))
	require.NoError(t, err)
	assert.Nil(t, env.Client)
	assert.Equal(t, "AABBCCD1", env.Message.Content())

	_, err = DecodeEnvelope([]byte(`{not json`))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestConsumeMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	body := []byte(`{"message":{"id":5,"date":"2024-01-02T03:04:05Z","text":"AABBCCD1","chat":{"id":-1,"type":"GROUP"}}}`)
	require.NoError(t, h.svc.ConsumeMessage(ctx, body))
	require.Len(t, h.sink.events, 1)

	stored, err := h.store.MessageByKey(ctx, domain.MessageKey{ChatID: -1, MessageID: 5})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), stored.Date)

	err = h.svc.ConsumeMessage(ctx, []byte(`{"message":{"id":0}}`))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "abc", shorten("abc", 5))
	assert.Equal(t, "abcd…", shorten("abcdefgh", 5))
}
