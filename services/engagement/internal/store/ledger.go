package store

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventLedger records processed event ids so redelivered messages are
// applied once. Callers check Processed, apply the event, then call
// MarkProcessed, which reports true the first time it sees an id.
type EventLedger interface {
	Processed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, subject string) (bool, error)
}

type InMemoryEventLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewInMemoryEventLedger() *InMemoryEventLedger {
	return &InMemoryEventLedger{seen: make(map[string]struct{})}
}

func (l *InMemoryEventLedger) Processed(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[eventID]
	return ok, nil
}

func (l *InMemoryEventLedger) MarkProcessed(_ context.Context, eventID, _ string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[eventID]; ok {
		return false, nil
	}
	l.seen[eventID] = struct{}{}
	return true, nil
}

type PostgresEventLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLedger(pool *pgxpool.Pool) *PostgresEventLedger {
	return &PostgresEventLedger{pool: pool}
}

func (l *PostgresEventLedger) Processed(ctx context.Context, eventID string) (bool, error) {
	var ok bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&ok)
	return ok, err
}

func (l *PostgresEventLedger) MarkProcessed(ctx context.Context, eventID, subject string) (bool, error) {
	tag, err := l.pool.Exec(ctx,
		`INSERT INTO processed_events (event_id, subject) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`,
		eventID, subject)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
