package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCommentStore persists comments in Postgres.
type PostgresCommentStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCommentStore creates a store backed by Postgres.
func NewPostgresCommentStore(pool *pgxpool.Pool) *PostgresCommentStore {
	return &PostgresCommentStore{pool: pool}
}

const commentColumns = `id, content_id, content_owner_id, author_id, body, is_reply, parent_id, root_id, children, created_at`

func scanComment(row pgx.Row) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.ContentID, &c.ContentOwnerID, &c.AuthorID, &c.Text,
		&c.IsReply, &c.ParentID, &c.RootID, &c.Children, &c.CreatedAt)
	if c.Children == nil {
		c.Children = []string{}
	}
	return c, err
}

func (s *PostgresCommentStore) Insert(ctx context.Context, c Comment) (Comment, error) {
	if err := validateComment(c); err != nil {
		return Comment{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Comment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := uuid.New().String()
	rootID := id
	if c.ParentID != nil {
		var parentContent, parentRoot string
		err := tx.QueryRow(ctx,
			`SELECT content_id, root_id FROM comments WHERE id = $1 FOR UPDATE`,
			*c.ParentID).Scan(&parentContent, &parentRoot)
		if errors.Is(err, pgx.ErrNoRows) {
			return Comment{}, fmt.Errorf("%w: parent comment %s", ErrNotFound, *c.ParentID)
		}
		if err != nil {
			return Comment{}, err
		}
		if parentContent != c.ContentID {
			return Comment{}, fmt.Errorf("%w: parent comment belongs to another content item", ErrInvalidArgument)
		}
		rootID = parentRoot
	}

	const q = `INSERT INTO comments (id, content_id, content_owner_id, author_id, body, is_reply, parent_id, root_id)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	           RETURNING ` + commentColumns
	out, err := scanComment(tx.QueryRow(ctx, q,
		id, c.ContentID, c.ContentOwnerID, c.AuthorID, c.Text, c.ParentID != nil, c.ParentID, rootID))
	if err != nil {
		return Comment{}, err
	}

	if c.ParentID != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE comments SET children = array_append(children, $2) WHERE id = $1`,
			*c.ParentID, id); err != nil {
			return Comment{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Comment{}, err
	}
	return out, nil
}

func (s *PostgresCommentStore) Get(ctx context.Context, id string) (Comment, error) {
	q := `SELECT ` + commentColumns + ` FROM comments WHERE id = $1`
	c, err := scanComment(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Comment{}, fmt.Errorf("%w: comment %s", ErrNotFound, id)
	}
	return c, err
}

func (s *PostgresCommentStore) ListTopLevel(ctx context.Context, contentID string, skip, limit int) ([]Comment, error) {
	skip, limit = NormalizePage(skip, limit)
	q := `SELECT ` + commentColumns + `
	      FROM comments
	      WHERE content_id = $1 AND parent_id IS NULL
	      ORDER BY created_at DESC, id DESC
	      OFFSET $2 LIMIT $3`
	return s.queryComments(ctx, q, contentID, skip, limit)
}

func (s *PostgresCommentStore) ListChildren(ctx context.Context, parentID string, skip, limit int) ([]Comment, error) {
	skip, limit = NormalizePage(skip, limit)

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM comments WHERE id = $1)`, parentID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: comment %s", ErrNotFound, parentID)
	}

	q := `SELECT ` + commentColumns + `
	      FROM comments
	      WHERE parent_id = $1
	      ORDER BY created_at DESC, id DESC
	      OFFSET $2 LIMIT $3`
	return s.queryComments(ctx, q, parentID, skip, limit)
}

func (s *PostgresCommentStore) queryComments(ctx context.Context, q string, args ...any) ([]Comment, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type subtreeNode struct {
	id             string
	parentID       *string
	authorID       string
	contentID      string
	contentOwnerID string
	children       []string
}

// maxLockRounds bounds how often DeleteSubtree re-locks a thread that keeps
// growing under it.
const maxLockRounds = 5

// PurgesAnchoredNotifications reports that DeleteSubtree deletes the
// notifications of each removed node inside its own transaction.
func (s *PostgresCommentStore) PurgesAnchoredNotifications() bool { return true }

// DeleteSubtree locks every row of the thread before walking it. A reply
// Insert locks its parent FOR UPDATE, so once the whole subtree is locked no
// other process can attach a child to it until this transaction ends.
// Anchored notifications are deleted in the same transaction, so a rollback
// leaves comments and notifications as they were.
func (s *PostgresCommentStore) DeleteSubtree(ctx context.Context, rootID string, beforeRemove func(Removed)) ([]Removed, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var threadID string
	err = tx.QueryRow(ctx, `SELECT root_id FROM comments WHERE id = $1`, rootID).Scan(&threadID)
	if errors.Is(err, pgx.ErrNoRows) {
		return []Removed{}, nil
	}
	if err != nil {
		return nil, err
	}

	var nodes map[string]subtreeNode
	for round := 0; ; round++ {
		locked, err := lockThread(ctx, tx, threadID)
		if err != nil {
			return nil, err
		}
		nodes, err = loadSubtree(ctx, tx, rootID)
		if err != nil {
			return nil, err
		}
		if coversSubtree(locked, nodes) {
			break
		}
		if round+1 >= maxLockRounds {
			return nil, fmt.Errorf("delete subtree %s: thread kept changing while locking", rootID)
		}
	}
	if _, ok := nodes[rootID]; !ok {
		return []Removed{}, nil
	}

	removed := make([]Removed, 0, len(nodes))
	for _, n := range postOrder(nodes, rootID) {
		r := Removed{ID: n.id, AuthorID: n.authorID, TopLevel: n.parentID == nil}
		if beforeRemove != nil {
			beforeRemove(r)
		}
		if err := removeNode(ctx, tx, n); err != nil {
			return nil, err
		}
		removed = append(removed, r)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return removed, nil
}

func lockThread(ctx context.Context, tx pgx.Tx, threadID string) (map[string]bool, error) {
	rows, err := tx.Query(ctx,
		`SELECT id FROM comments WHERE root_id = $1 ORDER BY id FOR UPDATE`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locked := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		locked[id] = true
	}
	return locked, rows.Err()
}

func loadSubtree(ctx context.Context, tx pgx.Tx, rootID string) (map[string]subtreeNode, error) {
	const q = `WITH RECURSIVE subtree AS (
	               SELECT id, parent_id, author_id, content_id, content_owner_id, children
	               FROM comments WHERE id = $1
	               UNION
	               SELECT c.id, c.parent_id, c.author_id, c.content_id, c.content_owner_id, c.children
	               FROM comments c JOIN subtree t ON c.parent_id = t.id
	           )
	           SELECT id, parent_id, author_id, content_id, content_owner_id, children FROM subtree`
	rows, err := tx.Query(ctx, q, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nodes := make(map[string]subtreeNode)
	for rows.Next() {
		var n subtreeNode
		if err := rows.Scan(&n.id, &n.parentID, &n.authorID, &n.contentID, &n.contentOwnerID, &n.children); err != nil {
			return nil, err
		}
		nodes[n.id] = n
	}
	return nodes, rows.Err()
}

// coversSubtree reports whether every node of the subtree is locked.
func coversSubtree(locked map[string]bool, nodes map[string]subtreeNode) bool {
	for id := range nodes {
		if !locked[id] {
			return false
		}
	}
	return true
}

// postOrder lists nodes children first. Children arrays give the stored
// order; parent_id links catch any row the array missed.
func postOrder(nodes map[string]subtreeNode, rootID string) []subtreeNode {
	byParent := make(map[string][]string)
	for _, n := range nodes {
		if n.parentID != nil {
			byParent[*n.parentID] = append(byParent[*n.parentID], n.id)
		}
	}
	for _, ids := range byParent {
		sort.Strings(ids)
	}

	order := make([]subtreeNode, 0, len(nodes))
	visited := make(map[string]bool, len(nodes))
	var walk func(id string)
	walk = func(id string) {
		n, ok := nodes[id]
		if !ok || visited[id] {
			return
		}
		visited[id] = true
		for _, child := range n.children {
			walk(child)
		}
		for _, child := range byParent[id] {
			walk(child)
		}
		order = append(order, n)
	}
	walk(rootID)
	return order
}

func removeNode(ctx context.Context, tx pgx.Tx, n subtreeNode) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM notifications WHERE comment_id = $1 OR replied_to_id = $1`, n.id); err != nil {
		return err
	}
	if n.parentID != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE comments SET children = array_remove(children, $1) WHERE id = $2`,
			n.id, *n.parentID); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM comments WHERE id = $1`, n.id); err != nil {
		return err
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO comment_tombstones (id, content_id, content_owner_id, author_id)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		n.id, n.contentID, n.contentOwnerID, n.authorID)
	return err
}

func (s *PostgresCommentStore) WasDeleted(ctx context.Context, id string) (Tombstone, bool, error) {
	const q = `SELECT id, content_id, content_owner_id, author_id, deleted_at
	           FROM comment_tombstones WHERE id = $1`
	var t Tombstone
	err := s.pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.ContentID, &t.ContentOwnerID, &t.AuthorID, &t.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tombstone{}, false, nil
	}
	if err != nil {
		return Tombstone{}, false, err
	}
	return t, true, nil
}

func (s *PostgresCommentStore) CountByContent(ctx context.Context, contentID string) (int, int, error) {
	const q = `SELECT count(*), count(*) FILTER (WHERE parent_id IS NULL)
	           FROM comments WHERE content_id = $1`
	var total, top int
	err := s.pool.QueryRow(ctx, q, contentID).Scan(&total, &top)
	return total, top, err
}

func (s *PostgresCommentStore) DeleteByContent(ctx context.Context, contentID string) ([]string, error) {
	// A single statement deletes parents and children together, so the
	// parent_id foreign key is satisfied at statement end.
	const q = `WITH gone AS (
	               DELETE FROM comments WHERE content_id = $1
	               RETURNING id, content_id, content_owner_id, author_id
	           )
	           INSERT INTO comment_tombstones (id, content_id, content_owner_id, author_id)
	           SELECT id, content_id, content_owner_id, author_id FROM gone
	           ON CONFLICT (id) DO UPDATE SET deleted_at = now()
	           RETURNING id`
	rows, err := s.pool.Query(ctx, q, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
