package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresNotificationStore persists notifications in Postgres.
type PostgresNotificationStore struct {
	pool *pgxpool.Pool
}

func NewPostgresNotificationStore(pool *pgxpool.Pool) *PostgresNotificationStore {
	return &PostgresNotificationStore{pool: pool}
}

func (s *PostgresNotificationStore) Create(ctx context.Context, n Notification) (Notification, error) {
	if strings.TrimSpace(n.RecipientID) == "" || strings.TrimSpace(n.ContentID) == "" {
		return Notification{}, fmt.Errorf("%w: notification needs recipient and content", ErrInvalidArgument)
	}
	const q = `INSERT INTO notifications (id, type, content_id, recipient_id, actor_id, comment_id, replied_to_id)
	           VALUES ($1, $2, $3, $4, $5, $6, $7)
	           RETURNING seen, created_at`
	n.ID = uuid.New().String()
	err := s.pool.QueryRow(ctx, q, n.ID, string(n.Type), n.ContentID, n.RecipientID, n.ActorID,
		n.CommentID, n.RepliedToID).Scan(&n.Seen, &n.CreatedAt)
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

func (s *PostgresNotificationStore) exec(ctx context.Context, q string, args ...any) (int, error) {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresNotificationStore) DeleteForComment(ctx context.Context, commentID string) (int, error) {
	return s.exec(ctx, `DELETE FROM notifications WHERE comment_id = $1 OR replied_to_id = $1`, commentID)
}

func (s *PostgresNotificationStore) DeleteLike(ctx context.Context, actorID, contentID string) (int, error) {
	const q = `DELETE FROM notifications WHERE id = (
	               SELECT id FROM notifications
	               WHERE type = 'like' AND actor_id = $1 AND content_id = $2
	               ORDER BY created_at, id
	               LIMIT 1
	           )`
	return s.exec(ctx, q, actorID, contentID)
}

func (s *PostgresNotificationStore) DeleteByContent(ctx context.Context, contentID string) (int, error) {
	return s.exec(ctx, `DELETE FROM notifications WHERE content_id = $1`, contentID)
}

func (s *PostgresNotificationStore) HasUnseen(ctx context.Context, userID string) (bool, error) {
	const q = `SELECT EXISTS(
	               SELECT 1 FROM notifications
	               WHERE recipient_id = $1 AND NOT seen AND actor_id <> $1
	           )`
	var exists bool
	err := s.pool.QueryRow(ctx, q, userID).Scan(&exists)
	return exists, err
}

func (s *PostgresNotificationStore) LikeExists(ctx context.Context, actorID, contentID string) (bool, error) {
	const q = `SELECT EXISTS(
	               SELECT 1 FROM notifications
	               WHERE type = 'like' AND actor_id = $1 AND content_id = $2
	           )`
	var exists bool
	err := s.pool.QueryRow(ctx, q, actorID, contentID).Scan(&exists)
	return exists, err
}

func (s *PostgresNotificationStore) ListForRecipient(ctx context.Context, userID string, skip, limit int) ([]Notification, error) {
	skip, limit = NormalizePage(skip, limit)
	const q = `SELECT id, type, content_id, recipient_id, actor_id, comment_id, replied_to_id, seen, created_at
	           FROM notifications
	           WHERE recipient_id = $1 AND actor_id <> $1
	           ORDER BY created_at DESC, id DESC
	           OFFSET $2 LIMIT $3`
	rows, err := s.pool.Query(ctx, q, userID, skip, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var n Notification
		var typ string
		if err := rows.Scan(&n.ID, &typ, &n.ContentID, &n.RecipientID, &n.ActorID,
			&n.CommentID, &n.RepliedToID, &n.Seen, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = NotificationType(typ)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresNotificationStore) MarkAllSeen(ctx context.Context, userID string) (int, error) {
	return s.exec(ctx, `UPDATE notifications SET seen = true WHERE recipient_id = $1 AND NOT seen`, userID)
}
