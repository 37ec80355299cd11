package store

import (
	"context"
	"time"
)

type NotificationType string

const (
	NotificationComment NotificationType = "comment"
	NotificationReply   NotificationType = "reply"
	NotificationLike    NotificationType = "like"
)

// Notification tells RecipientID that ActorID did something on ContentID.
// CommentID is set for comment and reply; RepliedToID only for reply.
type Notification struct {
	ID          string           `json:"id"`
	Type        NotificationType `json:"type"`
	ContentID   string           `json:"content_id"`
	RecipientID string           `json:"recipient_id"`
	ActorID     string           `json:"actor_id"`
	CommentID   *string          `json:"comment_id,omitempty"`
	RepliedToID *string          `json:"replied_to_id,omitempty"`
	Seen        bool             `json:"seen"`
	CreatedAt   time.Time        `json:"created_at"`
}

// NotificationStore persists notification records.
type NotificationStore interface {
	Create(ctx context.Context, n Notification) (Notification, error)
	// DeleteForComment removes records whose CommentID or RepliedToID is commentID.
	DeleteForComment(ctx context.Context, commentID string) (int, error)
	// DeleteLike removes one like record for the actor/content pair.
	DeleteLike(ctx context.Context, actorID, contentID string) (int, error)
	DeleteByContent(ctx context.Context, contentID string) (int, error)
	// HasUnseen ignores records the user caused on their own content.
	HasUnseen(ctx context.Context, userID string) (bool, error)
	LikeExists(ctx context.Context, actorID, contentID string) (bool, error)
	ListForRecipient(ctx context.Context, userID string, skip, limit int) ([]Notification, error)
	MarkAllSeen(ctx context.Context, userID string) (int, error)
}
