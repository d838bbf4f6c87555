package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cryptobox-parser/internal/domain"
	"cryptobox-parser/internal/infra/metrics"
)

const queryTimeout = 5 * time.Second

// dbtx — общее подмножество pgxpool.Pool и pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries реализует domain.Queries поверх пула или транзакции.
type queries struct {
	db dbtx
}

var _ domain.Queries = (*queries)(nil)

// Postgres реализует domain.Store на основе pgxpool.
type Postgres struct {
	*queries
	pool *pgxpool.Pool
}

var _ domain.Store = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{queries: &queries{db: pool}, pool: pool}
}

// WithTx выполняет fn в транзакции read committed.
func (p *Postgres) WithTx(ctx context.Context, fn func(q domain.Queries) error) error {
	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "", start, err)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "", start, err)
	if err != nil {
		return mapErr(err)
	}
	return nil
}

// Ping проверяет доступность БД.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return mapErr(p.pool.Ping(ctx))
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), queryTimeout)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, queryTimeout)
}

// mapErr переводит ошибки pgx в доменные.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.ConstraintName)
		}
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

// limitArg переводит нулевой лимит в NULL, что для Postgres означает LIMIT ALL.
func limitArg(page domain.Page) any {
	if page.Limit <= 0 {
		return nil
	}
	return page.Limit
}
