package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"cryptobox-parser/internal/domain"
)

// Memory — хранилище в памяти процесса для локального запуска и тестов.
// Каждая операция атомарна; WithTx не откатывает изменения.
type Memory struct {
	mu        sync.RWMutex
	users     map[int64]domain.User
	chats     map[int64]domain.Chat
	messages  map[domain.MessageKey]domain.Message
	blacklist map[domain.TargetKind]map[int64]domain.BlacklistEntry
	msgSeq    int64
	entrySeq  int64
	now       func() time.Time
}

var _ domain.Store = (*Memory)(nil)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[int64]domain.User),
		chats:    make(map[int64]domain.Chat),
		messages: make(map[domain.MessageKey]domain.Message),
		blacklist: map[domain.TargetKind]map[int64]domain.BlacklistEntry{
			domain.TargetUser: {},
			domain.TargetChat: {},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithTx вызывает fn с самим хранилищем.
func (m *Memory) WithTx(_ context.Context, fn func(q domain.Queries) error) error {
	return fn(m)
}

func paginate[T any](items []T, page domain.Page) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	items = items[page.Offset:]
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}

func (m *Memory) UserByID(_ context.Context, id int64) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (m *Memory) InsertUser(_ context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return domain.User{}, domain.ErrConflict
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *Memory) UpdateUser(_ context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return domain.User{}, domain.ErrNotFound
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *Memory) DeleteUser(_ context.Context, id int64) ([]domain.MessageKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return nil, domain.ErrNotFound
	}
	delete(m.users, id)
	var touched []domain.MessageKey
	for key, msg := range m.messages {
		if msg.FromUserID != nil && *msg.FromUserID == id {
			msg.FromUserID = nil
			m.messages[key] = msg
			touched = append(touched, key)
		}
	}
	m.dropBlacklist(domain.TargetUser, id)
	return touched, nil
}

func (m *Memory) ListUsers(_ context.Context, page domain.Page) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := lo.Values(m.users)
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return paginate(users, page), nil
}

func (m *Memory) CountUsers(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *Memory) ChatByID(_ context.Context, id int64) (domain.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[id]
	if !ok {
		return domain.Chat{}, domain.ErrNotFound
	}
	return c, nil
}

func (m *Memory) InsertChat(_ context.Context, chat domain.Chat) (domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chat.ID]; ok {
		return domain.Chat{}, domain.ErrConflict
	}
	m.chats[chat.ID] = chat
	return chat, nil
}

func (m *Memory) UpdateChat(_ context.Context, chat domain.Chat) (domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chat.ID]; !ok {
		return domain.Chat{}, domain.ErrNotFound
	}
	m.chats[chat.ID] = chat
	return chat, nil
}

func (m *Memory) DeleteChat(_ context.Context, id int64) ([]domain.MessageKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[id]; !ok {
		return nil, domain.ErrNotFound
	}
	delete(m.chats, id)
	var touched []domain.MessageKey
	for key, msg := range m.messages {
		if key.ChatID == id {
			delete(m.messages, key)
			touched = append(touched, key)
			touched = append(touched, m.detachReplies(msg.ID)...)
		}
	}
	m.dropBlacklist(domain.TargetChat, id)
	return lo.Uniq(touched), nil
}

func (m *Memory) ListChats(_ context.Context, page domain.Page) ([]domain.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chats := lo.Values(m.chats)
	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })
	return paginate(chats, page), nil
}

func (m *Memory) CountChats(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chats), nil
}

func (m *Memory) MessageByKey(_ context.Context, key domain.MessageKey) (domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[key]
	if !ok {
		return domain.Message{}, domain.ErrNotFound
	}
	return msg, nil
}

func (m *Memory) InsertMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := domain.MessageKey{ChatID: msg.ChatID, MessageID: msg.MessageID}
	if _, ok := m.messages[key]; ok {
		return domain.Message{}, domain.ErrConflict
	}
	if _, ok := m.chats[msg.ChatID]; !ok {
		return domain.Message{}, domain.ErrNotFound
	}
	if msg.FromUserID != nil {
		if _, ok := m.users[*msg.FromUserID]; !ok {
			return domain.Message{}, domain.ErrNotFound
		}
	}
	m.msgSeq++
	msg.ID = m.msgSeq
	m.messages[key] = msg
	return msg, nil
}

func (m *Memory) UpdateMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := domain.MessageKey{ChatID: msg.ChatID, MessageID: msg.MessageID}
	cur, ok := m.messages[key]
	if !ok {
		return domain.Message{}, domain.ErrNotFound
	}
	msg.ID = cur.ID
	m.messages[key] = msg
	return msg, nil
}

func (m *Memory) DeleteMessage(_ context.Context, key domain.MessageKey) ([]domain.MessageKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.messages[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(m.messages, key)
	return m.detachReplies(cur.ID), nil
}

// detachReplies обнуляет ссылки на сообщение id и возвращает ключи ответов.
func (m *Memory) detachReplies(id int64) []domain.MessageKey {
	var touched []domain.MessageKey
	for k, msg := range m.messages {
		if msg.ReplyToID != nil && *msg.ReplyToID == id {
			msg.ReplyToID = nil
			m.messages[k] = msg
			touched = append(touched, k)
		}
	}
	return touched
}

func (m *Memory) filterMessages(filter domain.MessageFilter) []domain.Message {
	search := strings.ToLower(filter.Search)
	out := lo.Filter(lo.Values(m.messages), func(msg domain.Message, _ int) bool {
		if filter.ChatID != nil && msg.ChatID != *filter.ChatID {
			return false
		}
		if filter.FromUserID != nil && (msg.FromUserID == nil || *msg.FromUserID != *filter.FromUserID) {
			return false
		}
		if search != "" {
			text := strings.ToLower(lo.FromPtr(msg.Text) + "\n" + lo.FromPtr(msg.Caption))
			return strings.Contains(text, search)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID > out[j].ID
		}
		return out[i].Date.After(out[j].Date)
	})
	return out
}

func (m *Memory) ListMessages(_ context.Context, filter domain.MessageFilter) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return paginate(m.filterMessages(filter), filter.Page), nil
}

func (m *Memory) CountMessages(_ context.Context, filter domain.MessageFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.filterMessages(filter)), nil
}

func (m *Memory) dropBlacklist(kind domain.TargetKind, targetID int64) {
	for id, e := range m.blacklist[kind] {
		if e.TargetID == targetID {
			delete(m.blacklist[kind], id)
		}
	}
}

func (m *Memory) BlacklistEntryByID(_ context.Context, kind domain.TargetKind, id int64) (domain.BlacklistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.blacklist[kind][id]
	if !ok {
		return domain.BlacklistEntry{}, domain.ErrNotFound
	}
	return e, nil
}

func (m *Memory) targetEntries(kind domain.TargetKind, targetID int64) []domain.BlacklistEntry {
	out := lo.Filter(lo.Values(m.blacklist[kind]), func(e domain.BlacklistEntry, _ int) bool {
		return e.TargetID == targetID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) ActiveBlacklist(_ context.Context, kind domain.TargetKind, targetID int64, now time.Time) ([]domain.BlacklistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Filter(m.targetEntries(kind, targetID), func(e domain.BlacklistEntry, _ int) bool {
		return e.Active(now)
	}), nil
}

func (m *Memory) ListBlacklist(_ context.Context, kind domain.TargetKind, targetID int64) ([]domain.BlacklistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.targetEntries(kind, targetID), nil
}

func (m *Memory) InsertBlacklistEntry(_ context.Context, entry domain.BlacklistEntry) (domain.BlacklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch entry.Kind {
	case domain.TargetUser:
		if _, ok := m.users[entry.TargetID]; !ok {
			return domain.BlacklistEntry{}, domain.ErrNotFound
		}
	case domain.TargetChat:
		if _, ok := m.chats[entry.TargetID]; !ok {
			return domain.BlacklistEntry{}, domain.ErrNotFound
		}
	default:
		return domain.BlacklistEntry{}, domain.ErrValidation
	}
	m.entrySeq++
	now := m.now()
	entry.ID = m.entrySeq
	entry.CreatedAt = now
	entry.UpdatedAt = now
	m.blacklist[entry.Kind][entry.ID] = entry
	return entry, nil
}

func (m *Memory) AmnestyBlacklistEntries(_ context.Context, kind domain.TargetKind, ids []int64, at time.Time, reason *string) ([]domain.BlacklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.BlacklistEntry, 0, len(ids))
	for _, id := range ids {
		e, ok := m.blacklist[kind][id]
		if !ok || e.AmnestiedAt != nil {
			continue
		}
		ts := at
		e.AmnestiedAt = &ts
		e.AmnestiedReason = reason
		e.UpdatedAt = m.now()
		m.blacklist[kind][id] = e
		out = append(out, e)
	}
	return out, nil
}

func (m *Memory) UpdateBlacklistEntry(_ context.Context, entry domain.BlacklistEntry) (domain.BlacklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.blacklist[entry.Kind][entry.ID]
	if !ok {
		return domain.BlacklistEntry{}, domain.ErrNotFound
	}
	entry.CreatedAt = cur.CreatedAt
	entry.UpdatedAt = m.now()
	m.blacklist[entry.Kind][entry.ID] = entry
	return entry, nil
}

func (m *Memory) DeleteBlacklistEntry(_ context.Context, kind domain.TargetKind, id int64) (domain.BlacklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.blacklist[kind][id]
	if !ok {
		return domain.BlacklistEntry{}, domain.ErrNotFound
	}
	delete(m.blacklist[kind], id)
	return e, nil
}

func (m *Memory) restrictedTargets(kind domain.TargetKind, now time.Time) []int64 {
	ids := lo.Uniq(lo.FilterMap(lo.Values(m.blacklist[kind]), func(e domain.BlacklistEntry, _ int) (int64, bool) {
		return e.TargetID, e.Active(now)
	}))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Memory) ListRestrictedTargets(_ context.Context, kind domain.TargetKind, now time.Time, page domain.Page) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return paginate(m.restrictedTargets(kind, now), page), nil
}

func (m *Memory) CountRestrictedTargets(_ context.Context, kind domain.TargetKind, now time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.restrictedTargets(kind, now)), nil
}
