package repo

import (
	"context"
	"time"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/metrics"
)

const chatColumns = `id, type, title, username, description, members_count`

func scanChat(row interface{ Scan(dest ...any) error }) (domain.Chat, error) {
	var (
		c        domain.Chat
		chatType string
	)
	err := row.Scan(&c.ID, &chatType, &c.Title, &c.Username, &c.Description, &c.MembersCount)
	c.Type = domain.ChatType(chatType)
	return c, err
}

// ChatByID реализует domain.ChatRepo.
func (q *queries) ChatByID(ctx context.Context, id int64) (domain.Chat, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	c, err := scanChat(q.db.QueryRow(ctx, `SELECT `+chatColumns+` FROM telegram_chat WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "chat_get", "telegram_chat", start, err)
	return c, mapErr(err)
}

// InsertChat вставляет чат; при существующем id возвращает ErrConflict.
func (q *queries) InsertChat(ctx context.Context, chat domain.Chat) (domain.Chat, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	c, err := scanChat(q.db.QueryRow(ctx, `
INSERT INTO telegram_chat (id, type, title, username, description, members_count)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING
RETURNING `+chatColumns,
		chat.ID, string(chat.Type), chat.Title, chat.Username, chat.Description, chat.MembersCount))
	metrics.ObserveNetworkRequest("postgres", "chat_insert", "telegram_chat", start, err)
	if err = mapErr(err); err == domain.ErrNotFound {
		return domain.Chat{}, domain.ErrConflict
	}
	return c, err
}

// UpdateChat реализует domain.ChatRepo.
func (q *queries) UpdateChat(ctx context.Context, chat domain.Chat) (domain.Chat, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	c, err := scanChat(q.db.QueryRow(ctx, `
UPDATE telegram_chat SET type=$2, title=$3, username=$4, description=$5, members_count=$6
WHERE id=$1
RETURNING `+chatColumns,
		chat.ID, string(chat.Type), chat.Title, chat.Username, chat.Description, chat.MembersCount))
	metrics.ObserveNetworkRequest("postgres", "chat_update", "telegram_chat", start, err)
	return c, mapErr(err)
}

// DeleteChat реализует domain.ChatRepo. Сообщения и записи чёрного списка удаляются каскадно,
// ссылки ответов из других чатов обнуляются.
func (q *queries) DeleteChat(ctx context.Context, id int64) ([]domain.MessageKey, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := q.db.Query(ctx, `
WITH target AS (
	DELETE FROM telegram_chat WHERE id=$1 RETURNING id
), gone AS (
	SELECT id, chat_id, message_id FROM telegram_message WHERE chat_id=$1
)
SELECT t.id, k.chat_id, k.message_id
FROM target t
LEFT JOIN (
	SELECT chat_id, message_id FROM gone
	UNION
	SELECT r.chat_id, r.message_id FROM telegram_message r JOIN gone g ON r.reply_to_id = g.id
) k ON true`, id)
	keys, err := collectAffected(rows, err)
	metrics.ObserveNetworkRequest("postgres", "chat_delete", "telegram_chat", start, err)
	return keys, err
}

// ListChats реализует domain.ChatRepo.
func (q *queries) ListChats(ctx context.Context, page domain.Page) ([]domain.Chat, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := q.db.Query(ctx, `SELECT `+chatColumns+` FROM telegram_chat ORDER BY id LIMIT $1 OFFSET $2`, limitArg(page), page.Offset)
	metrics.ObserveNetworkRequest("postgres", "chat_list", "telegram_chat", start, err)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var chats []domain.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		chats = append(chats, c)
	}
	return chats, mapErr(rows.Err())
}

// CountChats реализует domain.ChatRepo.
func (q *queries) CountChats(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var n int
	start := time.Now()
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM telegram_chat`).Scan(&n)
	metrics.ObserveNetworkRequest("postgres", "chat_count", "telegram_chat", start, err)
	return n, mapErr(err)
}
