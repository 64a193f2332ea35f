package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the shared connection pool behind every Postgres-backed store
// and the LISTEN/NOTIFY change feed. The embedded pgxpool.Pool is used
// directly by the stores; the wrapper exists so the daemon wires one
// handle through construction and shutdown.
type Pool struct {
	*pgxpool.Pool
}

// NewPool opens a pool against the given DSN and confirms the database is
// reachable before any store touches it.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close releases every pooled connection, including any held by an active
// change-feed listener.
func (p *Pool) Close() {
	p.Pool.Close()
}

// unique_violation, raised when two workers insert the same candidate or
// monitor row. Callers translate it to storage.ErrDuplicateKey.
const pgErrUniqueViolation = "23505"

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
