package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/cache"
)

// DefaultMaxReplyDepth ограничивает длину цепочки ответов.
const DefaultMaxReplyDepth = 32

// Link — звено цепочки ответов с унаследованным чатом.
type Link struct {
	Message *domain.InboundMessage
	Chat    domain.InboundChat
}

// Key возвращает составной ключ звена.
func (l Link) Key() domain.MessageKey {
	return domain.MessageKey{ChatID: l.Chat.ID, MessageID: l.Message.ID}
}

// Flatten разворачивает цепочку ответов от внешнего сообщения к самому глубокому.
// Звено без чата наследует чат сообщения, которое на него отвечает.
func Flatten(in domain.InboundMessage, maxDepth int) ([]Link, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxReplyDepth
	}
	if in.Chat == nil {
		return nil, fmt.Errorf("%w: message %d has no chat", domain.ErrValidation, in.ID)
	}

	var (
		chain = make([]Link, 0, 2)
		seen  = make(map[domain.MessageKey]struct{})
		chat  = *in.Chat
	)
	for cur := &in; cur != nil; cur = cur.ReplyToMessage {
		if cur.Chat != nil {
			chat = *cur.Chat
		}
		link := Link{Message: cur, Chat: chat}
		if _, dup := seen[link.Key()]; dup {
			return nil, fmt.Errorf("%w: reply chain repeats message %d in chat %d", domain.ErrValidation, cur.ID, chat.ID)
		}
		if len(chain) == maxDepth {
			return nil, fmt.Errorf("%w: reply chain deeper than %d", domain.ErrValidation, maxDepth)
		}
		seen[link.Key()] = struct{}{}
		chain = append(chain, link)
	}
	return chain, nil
}

// Messages разрешает сообщения вместе с чатами, авторами и цепочкой ответов.
type Messages struct {
	store    domain.Store
	cache    *cache.Namespace[domain.Message]
	users    *Users
	chats    *Chats
	maxDepth int
	now      func() time.Time
}

// NewMessages создаёт резолвер сообщений.
func NewMessages(store domain.Store, ns *cache.Namespace[domain.Message], users *Users, chats *Chats, maxDepth int) *Messages {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxReplyDepth
	}
	return &Messages{
		store:    store,
		cache:    ns,
		users:    users,
		chats:    chats,
		maxDepth: maxDepth,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// MaxDepth возвращает предел длины цепочки ответов.
func (m *Messages) MaxDepth() int { return m.maxDepth }

func messageKey(key domain.MessageKey) string {
	return cache.Key(key.ChatID, key.MessageID)
}

// GetByKey возвращает сообщение через кэш.
func (m *Messages) GetByKey(ctx context.Context, key domain.MessageKey) (domain.Message, error) {
	msg, err := m.cache.GetOrLoad(ctx, messageKey(key), func(ctx context.Context) (domain.Message, error) {
		return m.store.MessageByKey(ctx, key)
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("message %d:%d: %w", key.ChatID, key.MessageID, err)
	}
	return msg, nil
}

// GetOrCreate возвращает сообщение (chatID, messageID), создавая его из defaults при отсутствии.
func (m *Messages) GetOrCreate(ctx context.Context, chatID, messageID int64, defaults domain.Message) (domain.Message, bool, error) {
	key := domain.MessageKey{ChatID: chatID, MessageID: messageID}
	defaults.ChatID = chatID
	defaults.MessageID = messageID
	if defaults.Date.IsZero() {
		defaults.Date = m.now()
	}
	return getOrCreate(ctx, m.store, m.cache, messageKey(key),
		func(ctx context.Context, q domain.Queries) (domain.Message, error) { return q.MessageByKey(ctx, key) },
		func(ctx context.Context, q domain.Queries) (domain.Message, error) {
			return q.InsertMessage(ctx, defaults)
		},
	)
}

// Update сохраняет сообщение и сбрасывает его ключ.
func (m *Messages) Update(ctx context.Context, msg domain.Message) (domain.Message, error) {
	updated, err := m.store.UpdateMessage(ctx, msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("update message %d:%d: %w", msg.ChatID, msg.MessageID, err)
	}
	return updated, m.Invalidate(ctx, domain.MessageKey{ChatID: msg.ChatID, MessageID: msg.MessageID})
}

// Delete удаляет сообщение и сбрасывает его ключ и ключи ответов на него.
func (m *Messages) Delete(ctx context.Context, key domain.MessageKey) error {
	replies, err := m.store.DeleteMessage(ctx, key)
	if err != nil {
		return fmt.Errorf("delete message %d:%d: %w", key.ChatID, key.MessageID, err)
	}
	return errors.Join(m.Invalidate(ctx, key), invalidateMessages(ctx, m.cache, replies))
}

// Invalidate сбрасывает ключ сообщения.
func (m *Messages) Invalidate(ctx context.Context, key domain.MessageKey) error {
	return m.cache.Invalidate(ctx, messageKey(key))
}

// List возвращает сообщения по фильтру в обход кэша.
func (m *Messages) List(ctx context.Context, filter domain.MessageFilter) ([]domain.Message, int, error) {
	msgs, err := m.store.ListMessages(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := m.store.CountMessages(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// Resolve сохраняет входящее сообщение со всей цепочкой ответов.
// Звенья разрешаются от самого глубокого: чат, автор, затем сообщение со ссылкой на предыдущее.
// created относится к внешнему сообщению.
func (m *Messages) Resolve(ctx context.Context, in domain.InboundMessage) (domain.Message, bool, error) {
	chain, err := Flatten(in, m.maxDepth)
	if err != nil {
		return domain.Message{}, false, err
	}

	var (
		result  domain.Message
		created bool
		replyTo *int64
	)
	for i := len(chain) - 1; i >= 0; i-- {
		msg, c, err := m.resolveLink(ctx, chain[i], replyTo)
		if err != nil {
			return domain.Message{}, false, err
		}
		id := msg.ID
		replyTo = &id
		result, created = msg, c
	}
	return result, created, nil
}

func (m *Messages) resolveLink(ctx context.Context, link Link, replyTo *int64) (domain.Message, bool, error) {
	chat, _, err := m.chats.GetOrCreate(ctx, link.Chat.ID, link.Chat.Chat())
	if err != nil {
		return domain.Message{}, false, err
	}

	var fromUserID *int64
	if author := link.Message.FromUser; author != nil {
		user, _, err := m.users.GetOrCreate(ctx, author.ID, author.User())
		if err != nil {
			return domain.Message{}, false, err
		}
		fromUserID = &user.ID
	}

	defaults := domain.Message{
		Text:       link.Message.Text,
		Caption:    link.Message.Caption,
		Empty:      link.Message.Empty,
		FromUserID: fromUserID,
		ReplyToID:  replyTo,
	}
	if link.Message.Date != nil {
		defaults.Date = link.Message.Date.UTC()
	}
	return m.GetOrCreate(ctx, chat.ID, link.Message.ID, defaults)
}
