package repo

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptobox-parser/internal/domain"
)

func seed(t *testing.T, m *Memory) (domain.User, domain.Chat) {
	t.Helper()
	ctx := context.Background()
	user, err := m.InsertUser(ctx, domain.User{ID: 7, Username: lo.ToPtr("alice")})
	require.NoError(t, err)
	chat, err := m.InsertChat(ctx, domain.Chat{ID: -100, Type: domain.ChatTypeSupergroup})
	require.NoError(t, err)
	return user, chat
}

func TestMemoryInsertConflict(t *testing.T) {
	m := NewMemory()
	user, chat := seed(t, m)
	ctx := context.Background()

	_, err := m.InsertUser(ctx, user)
	assert.ErrorIs(t, err, domain.ErrConflict)

	msg := domain.Message{ChatID: chat.ID, MessageID: 1, Date: time.Now().UTC(), FromUserID: &user.ID}
	first, err := m.InsertMessage(ctx, msg)
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	_, err = m.InsertMessage(ctx, msg)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = m.InsertMessage(ctx, domain.Message{ChatID: 1, MessageID: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound, "сообщение без чата")
}

func TestMemoryDeleteCascades(t *testing.T) {
	m := NewMemory()
	user, chat := seed(t, m)
	ctx := context.Background()

	root, err := m.InsertMessage(ctx, domain.Message{ChatID: chat.ID, MessageID: 1, FromUserID: &user.ID})
	require.NoError(t, err)
	reply, err := m.InsertMessage(ctx, domain.Message{ChatID: chat.ID, MessageID: 2, ReplyToID: &root.ID, FromUserID: &user.ID})
	require.NoError(t, err)
	_, err = m.InsertBlacklistEntry(ctx, domain.BlacklistEntry{Kind: domain.TargetUser, TargetID: user.ID})
	require.NoError(t, err)

	replyKey := domain.MessageKey{ChatID: chat.ID, MessageID: reply.MessageID}
	touched, err := m.DeleteMessage(ctx, domain.MessageKey{ChatID: chat.ID, MessageID: root.MessageID})
	require.NoError(t, err)
	assert.Equal(t, []domain.MessageKey{replyKey}, touched)
	got, err := m.MessageByKey(ctx, domain.MessageKey{ChatID: chat.ID, MessageID: reply.MessageID})
	require.NoError(t, err)
	assert.Nil(t, got.ReplyToID)

	touched, err = m.DeleteUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.MessageKey{replyKey}, touched)
	got, err = m.MessageByKey(ctx, domain.MessageKey{ChatID: chat.ID, MessageID: reply.MessageID})
	require.NoError(t, err)
	assert.Nil(t, got.FromUserID)
	entries, err := m.ListBlacklist(ctx, domain.TargetUser, user.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	touched, err = m.DeleteChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.MessageKey{replyKey}, touched)
	_, err = m.MessageByKey(ctx, replyKey)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = m.DeleteChat(ctx, chat.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryDeleteChatDetachesForeignReplies(t *testing.T) {
	m := NewMemory()
	_, chat := seed(t, m)
	ctx := context.Background()

	other, err := m.InsertChat(ctx, domain.Chat{ID: -200, Type: domain.ChatTypeGroup})
	require.NoError(t, err)
	root, err := m.InsertMessage(ctx, domain.Message{ChatID: chat.ID, MessageID: 1})
	require.NoError(t, err)
	_, err = m.InsertMessage(ctx, domain.Message{ChatID: other.ID, MessageID: 5, ReplyToID: &root.ID})
	require.NoError(t, err)

	touched, err := m.DeleteChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.MessageKey{
		{ChatID: chat.ID, MessageID: 1},
		{ChatID: other.ID, MessageID: 5},
	}, touched)

	got, err := m.MessageByKey(ctx, domain.MessageKey{ChatID: other.ID, MessageID: 5})
	require.NoError(t, err)
	assert.Nil(t, got.ReplyToID)
}

func TestMemoryListMessages(t *testing.T) {
	m := NewMemory()
	user, chat := seed(t, m)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	texts := []string{"first WBOX1234", "второе", "third wbox1234"}
	for i, text := range texts {
		_, err := m.InsertMessage(ctx, domain.Message{
			ChatID:     chat.ID,
			MessageID:  int64(i + 1),
			Date:       base.Add(time.Duration(i) * time.Hour),
			Text:       lo.ToPtr(text),
			FromUserID: &user.ID,
		})
		require.NoError(t, err)
	}

	filter := domain.MessageFilter{ChatID: &chat.ID, Search: "wbox1234"}
	msgs, err := m.ListMessages(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1}, lo.Map(msgs, func(msg domain.Message, _ int) int64 { return msg.MessageID }))

	total, err := m.CountMessages(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	page, err := m.ListMessages(ctx, domain.MessageFilter{Page: domain.Page{Limit: 1, Offset: 1}})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].MessageID)
}

func TestMemoryRestrictedTargets(t *testing.T) {
	m := NewMemory()
	user, _ := seed(t, m)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := m.InsertUser(ctx, domain.User{ID: 8})
	require.NoError(t, err)
	_, err = m.InsertBlacklistEntry(ctx, domain.BlacklistEntry{Kind: domain.TargetUser, TargetID: user.ID})
	require.NoError(t, err)
	_, err = m.InsertBlacklistEntry(ctx, domain.BlacklistEntry{Kind: domain.TargetUser, TargetID: 8, ReleaseAt: lo.ToPtr(now.Add(-time.Minute))})
	require.NoError(t, err)

	ids, err := m.ListRestrictedTargets(ctx, domain.TargetUser, now, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, []int64{user.ID}, ids)

	count, err := m.CountRestrictedTargets(ctx, domain.TargetUser, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = m.InsertBlacklistEntry(ctx, domain.BlacklistEntry{Kind: "group", TargetID: user.ID})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
