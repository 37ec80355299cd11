package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresContentGate takes session advisory locks keyed by content id, so
// counter writers and recounts are ordered across every replica sharing the
// database. Each held gate pins one pooled connection.
type PostgresContentGate struct {
	pool *pgxpool.Pool
}

func NewPostgresContentGate(pool *pgxpool.Pool) *PostgresContentGate {
	return &PostgresContentGate{pool: pool}
}

func (g *PostgresContentGate) Shared(ctx context.Context, contentID string) (func(), error) {
	return g.lock(ctx, contentID,
		`SELECT pg_advisory_lock_shared(hashtextextended($1, 0))`,
		`SELECT pg_advisory_unlock_shared(hashtextextended($1, 0))`)
}

func (g *PostgresContentGate) Exclusive(ctx context.Context, contentID string) (func(), error) {
	return g.lock(ctx, contentID,
		`SELECT pg_advisory_lock(hashtextextended($1, 0))`,
		`SELECT pg_advisory_unlock(hashtextextended($1, 0))`)
}

func (g *PostgresContentGate) lock(ctx context.Context, key, lockQ, unlockQ string) (func(), error) {
	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, lockQ, "content:"+key); err != nil {
		// A cancelled wait may still have been granted; drop the session.
		_ = conn.Conn().Close(context.Background())
		conn.Release()
		return nil, err
	}
	return func() {
		// The caller's ctx may be done by now; the unlock must still run.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, unlockQ, "content:"+key); err != nil {
			// Closing the session drops every advisory lock it holds.
			_ = conn.Conn().Close(unlockCtx)
		}
		conn.Release()
	}, nil
}
