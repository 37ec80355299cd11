package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresContentRegistry reads and updates the contents table.
type PostgresContentRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresContentRegistry(pool *pgxpool.Pool) *PostgresContentRegistry {
	return &PostgresContentRegistry{pool: pool}
}

func (r *PostgresContentRegistry) GetOwner(ctx context.Context, contentID string) (string, error) {
	var owner string
	err := r.pool.QueryRow(ctx, `SELECT owner_id FROM contents WHERE id = $1`, contentID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: content %s", ErrNotFound, contentID)
	}
	return owner, err
}

func (r *PostgresContentRegistry) GetActivity(ctx context.Context, contentID string) (Activity, error) {
	const q = `SELECT total_comments, total_parent_comments, total_likes, total_reads
	           FROM contents WHERE id = $1`
	var a Activity
	err := r.pool.QueryRow(ctx, q, contentID).Scan(&a.TotalComments, &a.TotalParentComments, &a.TotalLikes, &a.TotalReads)
	if errors.Is(err, pgx.ErrNoRows) {
		return Activity{}, fmt.Errorf("%w: content %s", ErrNotFound, contentID)
	}
	return a, err
}

func (r *PostgresContentRegistry) exec(ctx context.Context, contentID, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: content %s", ErrNotFound, contentID)
	}
	return nil
}

func (r *PostgresContentRegistry) ApplyCounterDelta(ctx context.Context, contentID string, field CounterField, delta int64) error {
	col, err := counterColumn(contentCounterColumns, field)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE contents SET %[1]s = %[1]s + $2, updated_at = now() WHERE id = $1`, col)
	return r.exec(ctx, contentID, q, contentID, delta)
}

func (r *PostgresContentRegistry) SetCommentCounters(ctx context.Context, contentID string, total, topLevel int64) error {
	const q = `UPDATE contents SET total_comments = $2, total_parent_comments = $3, updated_at = now()
	           WHERE id = $1`
	return r.exec(ctx, contentID, q, contentID, total, topLevel)
}

// RecountComments rebuilds both comment counters from the comments table.
// Count and write happen in one statement, so no delta committed before it
// is lost.
func (r *PostgresContentRegistry) RecountComments(ctx context.Context, contentID string) (int64, int64, error) {
	const q = `UPDATE contents
	           SET total_comments = live.total,
	               total_parent_comments = live.top,
	               updated_at = now()
	           FROM (SELECT count(*) AS total,
	                        count(*) FILTER (WHERE parent_id IS NULL) AS top
	                 FROM comments WHERE content_id = $1) AS live
	           WHERE contents.id = $1
	           RETURNING contents.total_comments, contents.total_parent_comments`
	var total, top int64
	err := r.pool.QueryRow(ctx, q, contentID).Scan(&total, &top)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: content %s", ErrNotFound, contentID)
	}
	return total, top, err
}

func (r *PostgresContentRegistry) AppendCommentRef(ctx context.Context, contentID, commentID string) error {
	const q = `UPDATE contents SET comment_ids = array_append(comment_ids, $2) WHERE id = $1`
	return r.exec(ctx, contentID, q, contentID, commentID)
}

func (r *PostgresContentRegistry) RemoveCommentRefs(ctx context.Context, contentID string, commentIDs []string) error {
	const q = `UPDATE contents
	           SET comment_ids = ARRAY(SELECT x FROM unnest(comment_ids) AS x WHERE x <> ALL($2::text[]))
	           WHERE id = $1`
	return r.exec(ctx, contentID, q, contentID, commentIDs)
}

// PostgresUserRegistry reads and updates the users table.
type PostgresUserRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRegistry(pool *pgxpool.Pool) *PostgresUserRegistry {
	return &PostgresUserRegistry{pool: pool}
}

func (r *PostgresUserRegistry) GetProfiles(ctx context.Context, ids []string) (map[string]Profile, error) {
	out := make(map[string]Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, username, avatar_url FROM users WHERE id = ANY($1::text[])`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.AvatarURL); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *PostgresUserRegistry) GetActivity(ctx context.Context, userID string) (Activity, error) {
	var a Activity
	err := r.pool.QueryRow(ctx,
		`SELECT total_comments, total_reads FROM users WHERE id = $1`, userID).Scan(&a.TotalComments, &a.TotalReads)
	if errors.Is(err, pgx.ErrNoRows) {
		return Activity{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return a, err
}

func (r *PostgresUserRegistry) ApplyCounterDelta(ctx context.Context, userID string, field CounterField, delta int64) error {
	col, err := counterColumn(userCounterColumns, field)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE users SET %[1]s = %[1]s + $2 WHERE id = $1`, col)
	tag, err := r.pool.Exec(ctx, q, userID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return nil
}
