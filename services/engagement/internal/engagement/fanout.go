package engagement

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/novel-platform/services/engagement/internal/events"
	"github.com/example/novel-platform/services/engagement/internal/store"
)

// Fanout creates and removes notification records and announces new ones.
// Announcements are best-effort; the stored record is the source of truth.
type Fanout struct {
	store store.NotificationStore
	pub   events.Publisher
	log   *zap.Logger
}

func NewFanout(ns store.NotificationStore, pub events.Publisher, log *zap.Logger) *Fanout {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{store: ns, pub: pub, log: log}
}

func (f *Fanout) NotifyComment(ctx context.Context, contentID, recipientID, actorID, commentID string) (store.Notification, error) {
	return f.create(ctx, store.Notification{
		Type:        store.NotificationComment,
		ContentID:   contentID,
		RecipientID: recipientID,
		ActorID:     actorID,
		CommentID:   &commentID,
	})
}

func (f *Fanout) NotifyReply(ctx context.Context, contentID, recipientID, actorID, replyID, repliedToID string) (store.Notification, error) {
	return f.create(ctx, store.Notification{
		Type:        store.NotificationReply,
		ContentID:   contentID,
		RecipientID: recipientID,
		ActorID:     actorID,
		CommentID:   &replyID,
		RepliedToID: &repliedToID,
	})
}

func (f *Fanout) NotifyLike(ctx context.Context, contentID, recipientID, actorID string) (store.Notification, error) {
	return f.create(ctx, store.Notification{
		Type:        store.NotificationLike,
		ContentID:   contentID,
		RecipientID: recipientID,
		ActorID:     actorID,
	})
}

func (f *Fanout) create(ctx context.Context, n store.Notification) (store.Notification, error) {
	created, err := f.store.Create(ctx, n)
	if err != nil {
		return store.Notification{}, err
	}
	f.announce(ctx, created)
	return created, nil
}

// announce publishes n for live delivery. Self-notifications are stored but
// never pushed back to the actor.
func (f *Fanout) announce(ctx context.Context, n store.Notification) {
	if n.ActorID == n.RecipientID {
		return
	}
	evt, err := events.New(string(n.Type), n.RecipientID, n)
	if err != nil {
		f.log.Warn("notification event: marshal failed", zap.String("notification_id", n.ID), zap.Error(err))
		return
	}
	if err := f.pub.Publish(ctx, events.SubjectNotificationCreated, evt); err != nil {
		f.log.Warn("notification event: publish failed",
			zap.String("notification_id", n.ID),
			zap.String("recipient_id", n.RecipientID),
			zap.Error(err),
		)
	}
}

// DeleteForComment removes notifications anchored on commentID, as the new
// comment or as the comment replied to.
func (f *Fanout) DeleteForComment(ctx context.Context, commentID string) (int, error) {
	return f.store.DeleteForComment(ctx, commentID)
}

func (f *Fanout) DeleteLike(ctx context.Context, actorID, contentID string) (int, error) {
	return f.store.DeleteLike(ctx, actorID, contentID)
}

func (f *Fanout) DeleteByContent(ctx context.Context, contentID string) (int, error) {
	return f.store.DeleteByContent(ctx, contentID)
}

func (f *Fanout) HasUnseen(ctx context.Context, userID string) (bool, error) {
	return f.store.HasUnseen(ctx, userID)
}

func (f *Fanout) IsLiked(ctx context.Context, actorID, contentID string) (bool, error) {
	return f.store.LikeExists(ctx, actorID, contentID)
}

func (f *Fanout) List(ctx context.Context, userID string, skip, limit int) ([]store.Notification, error) {
	return f.store.ListForRecipient(ctx, userID, skip, limit)
}

func (f *Fanout) MarkSeen(ctx context.Context, userID string) (int, error) {
	return f.store.MarkAllSeen(ctx, userID)
}
