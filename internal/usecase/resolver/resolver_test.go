package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptobox-parser/internal/adapters/repo"
	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/cache"
)

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []int64
}

func (r *recordingInvalidator) Invalidate(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

// racingStore имитирует конкурентного писателя: первая вставка пользователя
// проходит в обход и возвращает конфликт.
type racingStore struct {
	*repo.Memory
	raced atomic.Bool
}

func (s *racingStore) WithTx(_ context.Context, fn func(q domain.Queries) error) error {
	return fn(s)
}

func (s *racingStore) InsertUser(ctx context.Context, user domain.User) (domain.User, error) {
	if s.raced.CompareAndSwap(false, true) {
		winner := user
		winner.Username = lo.ToPtr("winner")
		if _, err := s.Memory.InsertUser(ctx, winner); err != nil {
			return domain.User{}, err
		}
		return domain.User{}, domain.ErrConflict
	}
	return s.Memory.InsertUser(ctx, user)
}

// countingStore считает чтения пользователей из хранилища.
type countingStore struct {
	*repo.Memory
	reads atomic.Int32
}

func (s *countingStore) UserByID(ctx context.Context, id int64) (domain.User, error) {
	s.reads.Add(1)
	return s.Memory.UserByID(ctx, id)
}

type resolvers struct {
	users    *Users
	chats    *Chats
	messages *Messages
	hook     *recordingInvalidator
}

func newResolvers(t *testing.T, store domain.Store) resolvers {
	t.Helper()
	backend := cache.NewMemory(0)
	t.Cleanup(backend.Close)

	hook := &recordingInvalidator{}
	messageCache := cache.NewNamespace[domain.Message](backend, cache.NamespaceMessage, time.Minute)
	users := NewUsers(store, cache.NewNamespace[domain.User](backend, cache.NamespaceUser, time.Minute), messageCache, hook)
	chats := NewChats(store, cache.NewNamespace[domain.Chat](backend, cache.NamespaceChat, time.Minute), messageCache, hook)
	messages := NewMessages(store, messageCache, users, chats, 4)
	return resolvers{users: users, chats: chats, messages: messages, hook: hook}
}

func TestGetOrCreateUser(t *testing.T) {
	r := newResolvers(t, repo.NewMemory())
	ctx := context.Background()

	u, created, err := r.users.GetOrCreate(ctx, 5, domain.User{Username: lo.ToPtr("alice")})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(5), u.ID)

	u, created, err = r.users.GetOrCreate(ctx, 5, domain.User{Username: lo.ToPtr("bob")})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "alice", *u.Username, "defaults apply only on creation")
}

func TestGetOrCreateConflictRereads(t *testing.T) {
	store := &racingStore{Memory: repo.NewMemory()}
	r := newResolvers(t, store)

	u, created, err := r.users.GetOrCreate(context.Background(), 5, domain.User{Username: lo.ToPtr("loser")})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner", *u.Username)
}

func TestGetOrCreateConcurrentCreatesOnce(t *testing.T) {
	r := newResolvers(t, repo.NewMemory())
	ctx := context.Background()

	const callers = 32
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		chats   = make([]domain.Chat, callers)
		errs    = make([]error, callers)
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chat, c, err := r.chats.GetOrCreate(ctx, -1, domain.Chat{Type: domain.ChatTypeGroup, Title: lo.ToPtr("codes")})
			chats[i], errs[i] = chat, err
			if c {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, chats[0], chats[i])
	}
	assert.Equal(t, int32(1), created.Load())
}

// Каждый вызывающий со своим пространством ключей проходит путь
// «прочитать, вставить, при конфликте перечитать» без объединения промахов.
func TestGetOrCreateConcurrentInsertRace(t *testing.T) {
	store := repo.NewMemory()
	ctx := context.Background()

	const callers = 16
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		users   = make([]domain.User, callers)
		errs    = make([]error, callers)
		start   = make(chan struct{})
	)
	for i := range callers {
		backend := cache.NewMemory(0)
		t.Cleanup(backend.Close)
		isolated := NewUsers(store, cache.NewNamespace[domain.User](backend, cache.NamespaceUser, time.Minute), nil, nil)

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			user, c, err := isolated.GetOrCreate(ctx, 11, domain.User{Username: lo.ToPtr("carol")})
			users[i], errs[i] = user, err
			if c {
				created.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, users[0], users[i])
	}
	assert.Equal(t, int32(1), created.Load())
	n, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// slowReadStore задерживает первое чтение пользователя вне транзакции до release.
type slowReadStore struct {
	*repo.Memory
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *slowReadStore) UserByID(ctx context.Context, id int64) (domain.User, error) {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	return s.Memory.UserByID(ctx, id)
}

func TestGetOrCreateDuringConcurrentGetByID(t *testing.T) {
	store := &slowReadStore{Memory: repo.NewMemory(), started: make(chan struct{}), release: make(chan struct{})}
	r := newResolvers(t, store)
	ctx := context.Background()

	readDone := make(chan error, 1)
	go func() {
		_, err := r.users.GetByID(ctx, 42)
		readDone <- err
	}()
	<-store.started

	type result struct {
		user    domain.User
		created bool
		err     error
	}
	results := make(chan result, 1)
	go func() {
		u, c, err := r.users.GetOrCreate(ctx, 42, domain.User{Username: lo.ToPtr("dave")})
		results <- result{u, c, err}
	}()

	var res result
	select {
	case res = <-results:
		close(store.release)
	case <-time.After(time.Second):
		close(store.release)
		t.Fatal("GetOrCreate ждал чтения GetByID")
	}
	require.NoError(t, res.err)
	assert.True(t, res.created)
	assert.Equal(t, int64(42), res.user.ID)
	<-readDone
}

func TestGetByIDUsesCache(t *testing.T) {
	store := &countingStore{Memory: repo.NewMemory()}
	r := newResolvers(t, store)
	ctx := context.Background()

	_, err := store.Memory.InsertUser(ctx, domain.User{ID: 1})
	require.NoError(t, err)

	for range 3 {
		_, err := r.users.GetByID(ctx, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), store.reads.Load())

	_, err = r.users.GetByID(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateInvalidatesEntityAndRestriction(t *testing.T) {
	r := newResolvers(t, repo.NewMemory())
	ctx := context.Background()

	u, _, err := r.users.GetOrCreate(ctx, 7, domain.User{FirstName: lo.ToPtr("Old")})
	require.NoError(t, err)

	u.FirstName = lo.ToPtr("New")
	_, err = r.users.Update(ctx, u)
	require.NoError(t, err)

	got, err := r.users.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "New", *got.FirstName)
	assert.Equal(t, []int64{7}, r.hook.ids)

	require.NoError(t, r.users.Delete(ctx, 7))
	_, err = r.users.GetByID(ctx, 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []int64{7, 7}, r.hook.ids)
}

func TestFlatten(t *testing.T) {
	chat := &domain.InboundChat{ID: -1, Type: domain.ChatTypeGroup}
	other := &domain.InboundChat{ID: -2, Type: domain.ChatTypeChannel}

	t.Run("inherits chat", func(t *testing.T) {
		in := domain.InboundMessage{ID: 3, Chat: chat, ReplyToMessage: &domain.InboundMessage{
			ID: 2, ReplyToMessage: &domain.InboundMessage{ID: 1, Chat: other},
		}}
		chain, err := Flatten(in, 0)
		require.NoError(t, err)
		keys := lo.Map(chain, func(l Link, _ int) domain.MessageKey { return l.Key() })
		assert.Equal(t, []domain.MessageKey{{ChatID: -1, MessageID: 3}, {ChatID: -1, MessageID: 2}, {ChatID: -2, MessageID: 1}}, keys)
	})

	t.Run("requires chat", func(t *testing.T) {
		_, err := Flatten(domain.InboundMessage{ID: 1}, 0)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("repeated key", func(t *testing.T) {
		in := domain.InboundMessage{ID: 1, Chat: chat, ReplyToMessage: &domain.InboundMessage{ID: 1}}
		_, err := Flatten(in, 0)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("too deep", func(t *testing.T) {
		in := domain.InboundMessage{ID: 1, Chat: chat}
		cur := &in
		for i := int64(2); i <= 5; i++ {
			cur.ReplyToMessage = &domain.InboundMessage{ID: i}
			cur = cur.ReplyToMessage
		}
		_, err := Flatten(in, 4)
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, err = Flatten(in, 5)
		assert.NoError(t, err)
	})
}

func TestResolveChain(t *testing.T) {
	store := repo.NewMemory()
	r := newResolvers(t, store)
	ctx := context.Background()
	date := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	in := domain.InboundMessage{
		ID:       20,
		Date:     &date,
		Text:     lo.ToPtr("AB12CD34"),
		FromUser: &domain.InboundUser{ID: 100, Username: lo.ToPtr("bob")},
		Chat:     &domain.InboundChat{ID: -5, Type: domain.ChatTypeSupergroup, Title: lo.ToPtr("codes")},
		ReplyToMessage: &domain.InboundMessage{
			ID:       19,
			Text:     lo.ToPtr("hello"),
			FromUser: &domain.InboundUser{ID: 101},
		},
	}

	msg, created, err := r.messages.Resolve(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(-5), msg.ChatID)
	assert.Equal(t, int64(20), msg.MessageID)
	assert.Equal(t, date, msg.Date)
	require.NotNil(t, msg.FromUserID)
	assert.Equal(t, int64(100), *msg.FromUserID)

	parent, err := r.messages.GetByKey(ctx, domain.MessageKey{ChatID: -5, MessageID: 19})
	require.NoError(t, err)
	require.NotNil(t, msg.ReplyToID)
	assert.Equal(t, parent.ID, *msg.ReplyToID)
	assert.False(t, parent.Date.IsZero(), "missing date defaults to now")

	users, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, users)

	again, created, err := r.messages.Resolve(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, msg.ID, again.ID)

	n, err := store.CountMessages(ctx, domain.MessageFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestResolveRejectsDeepChain(t *testing.T) {
	r := newResolvers(t, repo.NewMemory())
	in := domain.InboundMessage{ID: 1, Chat: &domain.InboundChat{ID: -1, Type: domain.ChatTypeGroup}}
	cur := &in
	for i := int64(2); i <= 6; i++ {
		cur.ReplyToMessage = &domain.InboundMessage{ID: i}
		cur = cur.ReplyToMessage
	}
	_, _, err := r.messages.Resolve(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestMessageUpdateAndDelete(t *testing.T) {
	r := newResolvers(t, repo.NewMemory())
	ctx := context.Background()
	_, _, err := r.chats.GetOrCreate(ctx, -1, domain.Chat{Type: domain.ChatTypeGroup})
	require.NoError(t, err)

	msg, created, err := r.messages.GetOrCreate(ctx, -1, 1, domain.Message{Text: lo.ToPtr("a")})
	require.NoError(t, err)
	require.True(t, created)

	msg.Text = lo.ToPtr("b")
	_, err = r.messages.Update(ctx, msg)
	require.NoError(t, err)
	got, err := r.messages.GetByKey(ctx, domain.MessageKey{ChatID: -1, MessageID: 1})
	require.NoError(t, err)
	assert.Equal(t, "b", *got.Text)

	require.NoError(t, r.messages.Delete(ctx, domain.MessageKey{ChatID: -1, MessageID: 1}))
	_, err = r.messages.GetByKey(ctx, domain.MessageKey{ChatID: -1, MessageID: 1})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func resolveInbound(t *testing.T, r resolvers, in domain.InboundMessage) domain.Message {
	t.Helper()
	msg, _, err := r.messages.Resolve(context.Background(), in)
	require.NoError(t, err)
	return msg
}

func TestChatDeleteInvalidatesMessages(t *testing.T) {
	store := repo.NewMemory()
	r := newResolvers(t, store)
	ctx := context.Background()
	in := domain.InboundMessage{
		ID:       1,
		Text:     lo.ToPtr("AB12CD34"),
		FromUser: &domain.InboundUser{ID: 9},
		Chat:     &domain.InboundChat{ID: -1, Type: domain.ChatTypeGroup},
	}
	first := resolveInbound(t, r, in)

	require.NoError(t, r.chats.Delete(ctx, -1))
	_, err := r.messages.GetByKey(ctx, domain.MessageKey{ChatID: -1, MessageID: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	again, created, err := r.messages.Resolve(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, again.ID)
	n, err := store.CountMessages(ctx, domain.MessageFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestChatDeleteDetachesCachedForeignReply(t *testing.T) {
	r := newResolvers(t, repo.NewMemory())
	ctx := context.Background()
	reply := resolveInbound(t, r, domain.InboundMessage{
		ID:   5,
		Chat: &domain.InboundChat{ID: -2, Type: domain.ChatTypeGroup},
		ReplyToMessage: &domain.InboundMessage{
			ID:   1,
			Chat: &domain.InboundChat{ID: -1, Type: domain.ChatTypeChannel},
		},
	})
	require.NotNil(t, reply.ReplyToID)

	require.NoError(t, r.chats.Delete(ctx, -1))
	got, err := r.messages.GetByKey(ctx, domain.MessageKey{ChatID: -2, MessageID: 5})
	require.NoError(t, err)
	assert.Nil(t, got.ReplyToID)
}

func TestUserDeleteInvalidatesMessages(t *testing.T) {
	r := newResolvers(t, repo.NewMemory())
	ctx := context.Background()
	msg := resolveInbound(t, r, domain.InboundMessage{
		ID:       1,
		FromUser: &domain.InboundUser{ID: 9},
		Chat:     &domain.InboundChat{ID: -1, Type: domain.ChatTypeGroup},
	})
	require.NotNil(t, msg.FromUserID)

	require.NoError(t, r.users.Delete(ctx, 9))
	got, err := r.messages.GetByKey(ctx, domain.MessageKey{ChatID: -1, MessageID: 1})
	require.NoError(t, err)
	assert.Nil(t, got.FromUserID)
}

func TestMessageDeleteInvalidatesReplies(t *testing.T) {
	r := newResolvers(t, repo.NewMemory())
	ctx := context.Background()
	reply := resolveInbound(t, r, domain.InboundMessage{
		ID:             2,
		Chat:           &domain.InboundChat{ID: -1, Type: domain.ChatTypeGroup},
		ReplyToMessage: &domain.InboundMessage{ID: 1},
	})
	require.NotNil(t, reply.ReplyToID)

	require.NoError(t, r.messages.Delete(ctx, domain.MessageKey{ChatID: -1, MessageID: 1}))
	got, err := r.messages.GetByKey(ctx, domain.MessageKey{ChatID: -1, MessageID: 2})
	require.NoError(t, err)
	assert.Nil(t, got.ReplyToID)
}
