package resolver

import (
	"context"
	"errors"
	"fmt"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/cache"
)

// Chats разрешает чаты.
type Chats struct {
	store       domain.Store
	cache       *cache.Namespace[domain.Chat]
	messages    *cache.Namespace[domain.Message]
	restriction Invalidator
}

// NewChats создаёт резолвер чатов. messages — пространство сообщений,
// ключи которых сбрасываются при каскадном удалении; messages и restriction могут быть nil.
func NewChats(store domain.Store, ns *cache.Namespace[domain.Chat], messages *cache.Namespace[domain.Message], restriction Invalidator) *Chats {
	return &Chats{store: store, cache: ns, messages: messages, restriction: restriction}
}

// GetByID возвращает чат через кэш.
func (c *Chats) GetByID(ctx context.Context, id int64) (domain.Chat, error) {
	chat, err := c.cache.GetOrLoad(ctx, cache.Key(id), func(ctx context.Context) (domain.Chat, error) {
		return c.store.ChatByID(ctx, id)
	})
	if err != nil {
		return domain.Chat{}, fmt.Errorf("chat %d: %w", id, err)
	}
	return chat, nil
}

// GetOrCreate возвращает чат id, создавая его из defaults при отсутствии.
func (c *Chats) GetOrCreate(ctx context.Context, id int64, defaults domain.Chat) (domain.Chat, bool, error) {
	defaults.ID = id
	return getOrCreate(ctx, c.store, c.cache, cache.Key(id),
		func(ctx context.Context, q domain.Queries) (domain.Chat, error) { return q.ChatByID(ctx, id) },
		func(ctx context.Context, q domain.Queries) (domain.Chat, error) { return q.InsertChat(ctx, defaults) },
	)
}

// Update сохраняет чат и сбрасывает его ключи.
func (c *Chats) Update(ctx context.Context, chat domain.Chat) (domain.Chat, error) {
	updated, err := c.store.UpdateChat(ctx, chat)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("update chat %d: %w", chat.ID, err)
	}
	return updated, c.Invalidate(ctx, chat.ID)
}

// Delete удаляет чат и сбрасывает его ключи.
func (c *Chats) Delete(ctx context.Context, id int64) error {
	touched, err := c.store.DeleteChat(ctx, id)
	if err != nil {
		return fmt.Errorf("delete chat %d: %w", id, err)
	}
	return errors.Join(c.Invalidate(ctx, id), invalidateMessages(ctx, c.messages, touched))
}

// Invalidate сбрасывает ключ чата и его ограничений.
func (c *Chats) Invalidate(ctx context.Context, id int64) error {
	fns := []func(context.Context) error{
		func(ctx context.Context) error { return c.cache.Invalidate(ctx, cache.Key(id)) },
	}
	if c.restriction != nil {
		fns = append(fns, func(ctx context.Context) error { return c.restriction.Invalidate(ctx, id) })
	}
	return invalidateAll(ctx, fns...)
}

// List возвращает страницу чатов в обход кэша.
func (c *Chats) List(ctx context.Context, page domain.Page) ([]domain.Chat, int, error) {
	chats, err := c.store.ListChats(ctx, page)
	if err != nil {
		return nil, 0, err
	}
	total, err := c.store.CountChats(ctx)
	if err != nil {
		return nil, 0, err
	}
	return chats, total, nil
}
