package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Comment is a node in a content item's comment forest.
type Comment struct {
	ID             string    `json:"id"`
	ContentID      string    `json:"content_id"`
	ContentOwnerID string    `json:"content_owner_id"`
	AuthorID       string    `json:"author_id"`
	Text           string    `json:"text"`
	IsReply        bool      `json:"is_reply"`
	ParentID       *string   `json:"parent_id,omitempty"`
	Children       []string  `json:"children"`
	RootID         string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Removed describes one node taken out by DeleteSubtree.
type Removed struct {
	ID       string
	AuthorID string
	TopLevel bool
}

// Tombstone remembers who could delete a comment after it is gone.
type Tombstone struct {
	ID             string
	ContentID      string
	ContentOwnerID string
	AuthorID       string
	DeletedAt      time.Time
}

// CommentStore persists the comment forest.
//
// Insert assigns ID, RootID, IsReply and CreatedAt. It appends the new id to
// the parent's Children in the same step, so a node is always reachable from
// its parent once Insert returns.
type CommentStore interface {
	Insert(ctx context.Context, c Comment) (Comment, error)
	Get(ctx context.Context, id string) (Comment, error)
	ListTopLevel(ctx context.Context, contentID string, skip, limit int) ([]Comment, error)
	ListChildren(ctx context.Context, parentID string, skip, limit int) ([]Comment, error)
	// DeleteSubtree removes rootID and all its descendants, children before
	// parents. beforeRemove (may be nil) runs for each node just before the
	// node is removed.
	DeleteSubtree(ctx context.Context, rootID string, beforeRemove func(Removed)) ([]Removed, error)
	WasDeleted(ctx context.Context, id string) (Tombstone, bool, error)
	CountByContent(ctx context.Context, contentID string) (total, topLevel int, err error)
	DeleteByContent(ctx context.Context, contentID string) ([]string, error)
}

// AnchoredPurger is implemented by comment stores whose DeleteSubtree also
// deletes the notifications anchored on each removed node, in the same
// transaction as the node itself. Callers then pass no purge hook.
type AnchoredPurger interface {
	PurgesAnchoredNotifications() bool
}

func validateComment(c Comment) error {
	switch {
	case strings.TrimSpace(c.ContentID) == "":
		return fmt.Errorf("%w: content id is required", ErrInvalidArgument)
	case strings.TrimSpace(c.AuthorID) == "":
		return fmt.Errorf("%w: author id is required", ErrInvalidArgument)
	case strings.TrimSpace(c.Text) == "":
		return fmt.Errorf("%w: comment text must not be empty", ErrInvalidArgument)
	case c.ParentID != nil && strings.TrimSpace(*c.ParentID) == "":
		return fmt.Errorf("%w: parent id must not be blank", ErrInvalidArgument)
	}
	return nil
}

func cloneComment(c Comment) Comment {
	c.Children = append([]string{}, c.Children...)
	if c.ParentID != nil {
		pid := *c.ParentID
		c.ParentID = &pid
	}
	return c
}
