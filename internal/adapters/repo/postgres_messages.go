package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/metrics"
)

const messageColumns = `id, chat_id, message_id, date, text, caption, empty, from_user_id, reply_to_id`

func scanMessage(row interface{ Scan(dest ...any) error }) (domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.ChatID, &m.MessageID, &m.Date, &m.Text, &m.Caption, &m.Empty, &m.FromUserID, &m.ReplyToID)
	m.Date = m.Date.UTC()
	return m, err
}

// MessageByKey реализует domain.MessageRepo.
func (q *queries) MessageByKey(ctx context.Context, key domain.MessageKey) (domain.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	m, err := scanMessage(q.db.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM telegram_message WHERE chat_id=$1 AND message_id=$2`,
		key.ChatID, key.MessageID))
	metrics.ObserveNetworkRequest("postgres", "message_get", "telegram_message", start, err)
	return m, mapErr(err)
}

// InsertMessage вставляет сообщение; при занятой паре (chat_id, message_id) возвращает ErrConflict.
func (q *queries) InsertMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	m, err := scanMessage(q.db.QueryRow(ctx, `
INSERT INTO telegram_message (chat_id, message_id, date, text, caption, empty, from_user_id, reply_to_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (chat_id, message_id) DO NOTHING
RETURNING `+messageColumns,
		msg.ChatID, msg.MessageID, msg.Date, msg.Text, msg.Caption, msg.Empty, msg.FromUserID, msg.ReplyToID))
	metrics.ObserveNetworkRequest("postgres", "message_insert", "telegram_message", start, err)
	if err = mapErr(err); err == domain.ErrNotFound {
		return domain.Message{}, domain.ErrConflict
	}
	return m, err
}

// UpdateMessage обновляет изменяемые поля сообщения по составному ключу.
func (q *queries) UpdateMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	m, err := scanMessage(q.db.QueryRow(ctx, `
UPDATE telegram_message SET date=$3, text=$4, caption=$5, empty=$6, from_user_id=$7, reply_to_id=$8
WHERE chat_id=$1 AND message_id=$2
RETURNING `+messageColumns,
		msg.ChatID, msg.MessageID, msg.Date, msg.Text, msg.Caption, msg.Empty, msg.FromUserID, msg.ReplyToID))
	metrics.ObserveNetworkRequest("postgres", "message_update", "telegram_message", start, err)
	return m, mapErr(err)
}

// DeleteMessage реализует domain.MessageRepo. Ссылки ответов на сообщение обнуляются.
func (q *queries) DeleteMessage(ctx context.Context, key domain.MessageKey) ([]domain.MessageKey, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := q.db.Query(ctx, `
WITH target AS (
	DELETE FROM telegram_message WHERE chat_id=$1 AND message_id=$2 RETURNING id
)
SELECT t.id, r.chat_id, r.message_id
FROM target t
LEFT JOIN telegram_message r ON r.reply_to_id = t.id`, key.ChatID, key.MessageID)
	keys, err := collectAffected(rows, err)
	metrics.ObserveNetworkRequest("postgres", "message_delete", "telegram_message", start, err)
	return keys, err
}

// collectAffected читает ключи сообщений, затронутых каскадом удаления.
// Каждая строка несёт id удалённой записи; пустой результат означает, что удалять было нечего.
func collectAffected(rows pgx.Rows, err error) ([]domain.MessageKey, error) {
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var (
		found bool
		keys  []domain.MessageKey
	)
	for rows.Next() {
		var (
			targetID          int64
			chatID, messageID *int64
		)
		if err := rows.Scan(&targetID, &chatID, &messageID); err != nil {
			return nil, mapErr(err)
		}
		found = true
		if chatID != nil && messageID != nil {
			keys = append(keys, domain.MessageKey{ChatID: *chatID, MessageID: *messageID})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	if !found {
		return nil, domain.ErrNotFound
	}
	return keys, nil
}

// messageWhere собирает условие выборки по фильтру.
func messageWhere(filter domain.MessageFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.ChatID != nil {
		args = append(args, *filter.ChatID)
		conds = append(conds, fmt.Sprintf("chat_id=$%d", len(args)))
	}
	if filter.FromUserID != nil {
		args = append(args, *filter.FromUserID)
		conds = append(conds, fmt.Sprintf("from_user_id=$%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		conds = append(conds, fmt.Sprintf("(text ILIKE $%[1]d OR caption ILIKE $%[1]d)", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListMessages возвращает сообщения по фильтру, новые первыми.
func (q *queries) ListMessages(ctx context.Context, filter domain.MessageFilter) ([]domain.Message, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	where, args := messageWhere(filter)
	args = append(args, limitArg(filter.Page), filter.Page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM telegram_message%s ORDER BY date DESC, id DESC LIMIT $%d OFFSET $%d`,
		messageColumns, where, len(args)-1, len(args))

	start := time.Now()
	rows, err := q.db.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "message_list", "telegram_message", start, err)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		msgs = append(msgs, m)
	}
	return msgs, mapErr(rows.Err())
}

// CountMessages реализует domain.MessageRepo.
func (q *queries) CountMessages(ctx context.Context, filter domain.MessageFilter) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	where, args := messageWhere(filter)

	var n int
	start := time.Now()
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM telegram_message`+where, args...).Scan(&n)
	metrics.ObserveNetworkRequest("postgres", "message_count", "telegram_message", start, err)
	return n, mapErr(err)
}
