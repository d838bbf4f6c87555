package repo

import (
	"context"
	"time"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/metrics"
)

const userColumns = `id, is_bot, username, first_name, last_name, bio`

func scanUser(row interface{ Scan(dest ...any) error }) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.IsBot, &u.Username, &u.FirstName, &u.LastName, &u.Bio)
	return u, err
}

// UserByID реализует domain.UserRepo.
func (q *queries) UserByID(ctx context.Context, id int64) (domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	u, err := scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM telegram_user WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "user_get", "telegram_user", start, err)
	return u, mapErr(err)
}

// InsertUser вставляет пользователя; при существующем id возвращает ErrConflict.
func (q *queries) InsertUser(ctx context.Context, user domain.User) (domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	u, err := scanUser(q.db.QueryRow(ctx, `
INSERT INTO telegram_user (id, is_bot, username, first_name, last_name, bio)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING
RETURNING `+userColumns,
		user.ID, user.IsBot, user.Username, user.FirstName, user.LastName, user.Bio))
	metrics.ObserveNetworkRequest("postgres", "user_insert", "telegram_user", start, err)
	if err = mapErr(err); err == domain.ErrNotFound {
		return domain.User{}, domain.ErrConflict
	}
	return u, err
}

// UpdateUser реализует domain.UserRepo.
func (q *queries) UpdateUser(ctx context.Context, user domain.User) (domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	u, err := scanUser(q.db.QueryRow(ctx, `
UPDATE telegram_user SET is_bot=$2, username=$3, first_name=$4, last_name=$5, bio=$6
WHERE id=$1
RETURNING `+userColumns,
		user.ID, user.IsBot, user.Username, user.FirstName, user.LastName, user.Bio))
	metrics.ObserveNetworkRequest("postgres", "user_update", "telegram_user", start, err)
	return u, mapErr(err)
}

// DeleteUser реализует domain.UserRepo. Автор сообщений пользователя обнуляется каскадно.
func (q *queries) DeleteUser(ctx context.Context, id int64) ([]domain.MessageKey, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := q.db.Query(ctx, `
WITH target AS (
	DELETE FROM telegram_user WHERE id=$1 RETURNING id
)
SELECT t.id, m.chat_id, m.message_id
FROM target t
LEFT JOIN telegram_message m ON m.from_user_id = t.id`, id)
	keys, err := collectAffected(rows, err)
	metrics.ObserveNetworkRequest("postgres", "user_delete", "telegram_user", start, err)
	return keys, err
}

// ListUsers реализует domain.UserRepo.
func (q *queries) ListUsers(ctx context.Context, page domain.Page) ([]domain.User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM telegram_user ORDER BY id LIMIT $1 OFFSET $2`, limitArg(page), page.Offset)
	metrics.ObserveNetworkRequest("postgres", "user_list", "telegram_user", start, err)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		users = append(users, u)
	}
	return users, mapErr(rows.Err())
}

// CountUsers реализует domain.UserRepo.
func (q *queries) CountUsers(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var n int
	start := time.Now()
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM telegram_user`).Scan(&n)
	metrics.ObserveNetworkRequest("postgres", "user_count", "telegram_user", start, err)
	return n, mapErr(err)
}
