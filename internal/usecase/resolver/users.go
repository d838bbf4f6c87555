package resolver

import (
	"context"
	"errors"
	"fmt"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/cache"
)

// Users разрешает пользователей.
type Users struct {
	store       domain.Store
	cache       *cache.Namespace[domain.User]
	messages    *cache.Namespace[domain.Message]
	restriction Invalidator
}

// NewUsers создаёт резолвер пользователей. messages — пространство сообщений,
// ключи которых сбрасываются при каскадном удалении; messages и restriction могут быть nil.
func NewUsers(store domain.Store, ns *cache.Namespace[domain.User], messages *cache.Namespace[domain.Message], restriction Invalidator) *Users {
	return &Users{store: store, cache: ns, messages: messages, restriction: restriction}
}

// GetByID возвращает пользователя через кэш.
func (u *Users) GetByID(ctx context.Context, id int64) (domain.User, error) {
	user, err := u.cache.GetOrLoad(ctx, cache.Key(id), func(ctx context.Context) (domain.User, error) {
		return u.store.UserByID(ctx, id)
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("user %d: %w", id, err)
	}
	return user, nil
}

// GetOrCreate возвращает пользователя id, создавая его из defaults при отсутствии.
func (u *Users) GetOrCreate(ctx context.Context, id int64, defaults domain.User) (domain.User, bool, error) {
	defaults.ID = id
	return getOrCreate(ctx, u.store, u.cache, cache.Key(id),
		func(ctx context.Context, q domain.Queries) (domain.User, error) { return q.UserByID(ctx, id) },
		func(ctx context.Context, q domain.Queries) (domain.User, error) { return q.InsertUser(ctx, defaults) },
	)
}

// Update сохраняет пользователя и сбрасывает его ключи.
func (u *Users) Update(ctx context.Context, user domain.User) (domain.User, error) {
	updated, err := u.store.UpdateUser(ctx, user)
	if err != nil {
		return domain.User{}, fmt.Errorf("update user %d: %w", user.ID, err)
	}
	return updated, u.Invalidate(ctx, user.ID)
}

// Delete удаляет пользователя и сбрасывает его ключи.
func (u *Users) Delete(ctx context.Context, id int64) error {
	touched, err := u.store.DeleteUser(ctx, id)
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	return errors.Join(u.Invalidate(ctx, id), invalidateMessages(ctx, u.messages, touched))
}

// Invalidate сбрасывает ключ пользователя и его ограничений.
func (u *Users) Invalidate(ctx context.Context, id int64) error {
	fns := []func(context.Context) error{
		func(ctx context.Context) error { return u.cache.Invalidate(ctx, cache.Key(id)) },
	}
	if u.restriction != nil {
		fns = append(fns, func(ctx context.Context) error { return u.restriction.Invalidate(ctx, id) })
	}
	return invalidateAll(ctx, fns...)
}

// List возвращает страницу пользователей в обход кэша.
func (u *Users) List(ctx context.Context, page domain.Page) ([]domain.User, int, error) {
	users, err := u.store.ListUsers(ctx, page)
	if err != nil {
		return nil, 0, err
	}
	total, err := u.store.CountUsers(ctx)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}
