package repo

import (
	"context"
	"fmt"
	"time"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/metrics"
)

// restrictedClause — единственная SQL-форма предиката ограничения; $1 — текущий момент.
const restrictedClause = `amnestied_at IS NULL AND (release_at IS NULL OR release_at > $1)`

type blacklistTable struct {
	name   string
	column string
}

func tableFor(kind domain.TargetKind) (blacklistTable, error) {
	switch kind {
	case domain.TargetUser:
		return blacklistTable{name: "telegram_user_blacklist", column: "user_id"}, nil
	case domain.TargetChat:
		return blacklistTable{name: "telegram_chat_blacklist", column: "chat_id"}, nil
	}
	return blacklistTable{}, fmt.Errorf("%w: unknown target kind %q", domain.ErrValidation, kind)
}

func (t blacklistTable) columns() string {
	return "id, " + t.column + ", reason, release_at, amnestied_at, amnestied_reason, created_at, updated_at"
}

func scanEntry(kind domain.TargetKind, row interface{ Scan(dest ...any) error }) (domain.BlacklistEntry, error) {
	e := domain.BlacklistEntry{Kind: kind}
	err := row.Scan(&e.ID, &e.TargetID, &e.Reason, &e.ReleaseAt, &e.AmnestiedAt, &e.AmnestiedReason, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (q *queries) queryEntries(ctx context.Context, kind domain.TargetKind, op, table, query string, args ...any) ([]domain.BlacklistEntry, error) {
	start := time.Now()
	rows, err := q.db.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, table, start, err)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var entries []domain.BlacklistEntry
	for rows.Next() {
		e, err := scanEntry(kind, rows)
		if err != nil {
			return nil, mapErr(err)
		}
		entries = append(entries, e)
	}
	return entries, mapErr(rows.Err())
}

// BlacklistEntryByID реализует domain.BlacklistRepo.
func (q *queries) BlacklistEntryByID(ctx context.Context, kind domain.TargetKind, id int64) (domain.BlacklistEntry, error) {
	t, err := tableFor(kind)
	if err != nil {
		return domain.BlacklistEntry{}, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	e, err := scanEntry(kind, q.db.QueryRow(ctx, `SELECT `+t.columns()+` FROM `+t.name+` WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "blacklist_get", t.name, start, err)
	return e, mapErr(err)
}

// ActiveBlacklist реализует domain.BlacklistRepo.
func (q *queries) ActiveBlacklist(ctx context.Context, kind domain.TargetKind, targetID int64, now time.Time) ([]domain.BlacklistEntry, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + t.columns() + ` FROM ` + t.name +
		` WHERE ` + restrictedClause + ` AND ` + t.column + `=$2 ORDER BY id`
	return q.queryEntries(ctx, kind, "blacklist_active", t.name, query, now, targetID)
}

// ListBlacklist возвращает всю историю нарушений цели.
func (q *queries) ListBlacklist(ctx context.Context, kind domain.TargetKind, targetID int64) ([]domain.BlacklistEntry, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + t.columns() + ` FROM ` + t.name + ` WHERE ` + t.column + `=$1 ORDER BY id`
	return q.queryEntries(ctx, kind, "blacklist_list", t.name, query, targetID)
}

// InsertBlacklistEntry реализует domain.BlacklistRepo.
func (q *queries) InsertBlacklistEntry(ctx context.Context, entry domain.BlacklistEntry) (domain.BlacklistEntry, error) {
	t, err := tableFor(entry.Kind)
	if err != nil {
		return domain.BlacklistEntry{}, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	e, err := scanEntry(entry.Kind, q.db.QueryRow(ctx, `
INSERT INTO `+t.name+` (`+t.column+`, reason, release_at)
VALUES ($1, $2, $3)
RETURNING `+t.columns(),
		entry.TargetID, entry.Reason, entry.ReleaseAt))
	metrics.ObserveNetworkRequest("postgres", "blacklist_insert", t.name, start, err)
	return e, mapErr(err)
}

// AmnestyBlacklistEntries реализует domain.BlacklistRepo.
func (q *queries) AmnestyBlacklistEntries(ctx context.Context, kind domain.TargetKind, ids []int64, at time.Time, reason *string) ([]domain.BlacklistEntry, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `UPDATE ` + t.name + ` SET amnestied_at=$1, amnestied_reason=$2, updated_at=now()
WHERE id = ANY($3) AND amnestied_at IS NULL
RETURNING ` + t.columns()
	return q.queryEntries(ctx, kind, "blacklist_amnesty", t.name, query, at, reason, ids)
}

// UpdateBlacklistEntry перезаписывает изменяемые поля записи.
func (q *queries) UpdateBlacklistEntry(ctx context.Context, entry domain.BlacklistEntry) (domain.BlacklistEntry, error) {
	t, err := tableFor(entry.Kind)
	if err != nil {
		return domain.BlacklistEntry{}, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	e, err := scanEntry(entry.Kind, q.db.QueryRow(ctx, `
UPDATE `+t.name+`
SET `+t.column+`=$2, reason=$3, release_at=$4, amnestied_at=$5, amnestied_reason=$6, updated_at=now()
WHERE id=$1
RETURNING `+t.columns(),
		entry.ID, entry.TargetID, entry.Reason, entry.ReleaseAt, entry.AmnestiedAt, entry.AmnestiedReason))
	metrics.ObserveNetworkRequest("postgres", "blacklist_update", t.name, start, err)
	return e, mapErr(err)
}

// DeleteBlacklistEntry удаляет запись и возвращает её.
func (q *queries) DeleteBlacklistEntry(ctx context.Context, kind domain.TargetKind, id int64) (domain.BlacklistEntry, error) {
	t, err := tableFor(kind)
	if err != nil {
		return domain.BlacklistEntry{}, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	e, err := scanEntry(kind, q.db.QueryRow(ctx, `DELETE FROM `+t.name+` WHERE id=$1 RETURNING `+t.columns(), id))
	metrics.ObserveNetworkRequest("postgres", "blacklist_delete", t.name, start, err)
	return e, mapErr(err)
}

// ListRestrictedTargets реализует domain.BlacklistRepo.
func (q *queries) ListRestrictedTargets(ctx context.Context, kind domain.TargetKind, now time.Time, page domain.Page) ([]int64, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	start := time.Now()
	rows, err := q.db.Query(ctx, `SELECT DISTINCT `+t.column+` FROM `+t.name+` WHERE `+restrictedClause+
		` ORDER BY `+t.column+` LIMIT $2 OFFSET $3`, now, limitArg(page), page.Offset)
	metrics.ObserveNetworkRequest("postgres", "blacklist_restricted", t.name, start, err)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapErr(err)
		}
		ids = append(ids, id)
	}
	return ids, mapErr(rows.Err())
}

// CountRestrictedTargets реализует domain.BlacklistRepo.
func (q *queries) CountRestrictedTargets(ctx context.Context, kind domain.TargetKind, now time.Time) (int, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var n int
	start := time.Now()
	err = q.db.QueryRow(ctx, `SELECT count(DISTINCT `+t.column+`) FROM `+t.name+` WHERE `+restrictedClause, now).Scan(&n)
	metrics.ObserveNetworkRequest("postgres", "blacklist_restricted_count", t.name, start, err)
	return n, mapErr(err)
}
