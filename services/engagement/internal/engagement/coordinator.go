// Package engagement coordinates comments, likes, reads and notifications
// across the comment store and the counters owned by the content and user
// registries.
//
// Each write has one primary effect whose failure fails the call. Counter,
// reference and notification updates that follow it are best-effort: a
// failure is logged, reported in the result's Warnings and, for content
// counters, queued for reconciliation.
package engagement

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/novel-platform/services/engagement/internal/events"
	"github.com/example/novel-platform/services/engagement/internal/store"
)

type Options struct {
	Comments      store.CommentStore
	Notifications store.NotificationStore
	Contents      store.ContentRegistry
	Users         store.UserRegistry
	Publisher     events.Publisher
	Logger        *zap.Logger
	// Gate orders counter writers against recounts. Defaults to a
	// process-local gate; replicas sharing a database need a shared one.
	Gate ContentGate
}

type Coordinator struct {
	comments store.CommentStore
	contents store.ContentRegistry
	users    store.UserRegistry
	fanout   *Fanout
	pub      events.Publisher
	locks    *keyedMutex
	gate     ContentGate
	log      *zap.Logger
}

func New(opts Options) *Coordinator {
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gate == nil {
		opts.Gate = newLocalGate()
	}
	return &Coordinator{
		comments: opts.Comments,
		contents: opts.Contents,
		users:    opts.Users,
		fanout:   NewFanout(opts.Notifications, opts.Publisher, opts.Logger),
		pub:      opts.Publisher,
		locks:    newKeyedMutex(),
		gate:     opts.Gate,
		log:      opts.Logger,
	}
}

// CreatedComment is the result of AddComment.
type CreatedComment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	AuthorID  string    `json:"author_id"`
	Children  []string  `json:"children"`
	Warnings  []string  `json:"warnings,omitempty"`
}

type DeleteResult struct {
	RemovedCount         int      `json:"removed_count"`
	RemovedTopLevelCount int      `json:"removed_top_level_count"`
	Warnings             []string `json:"warnings,omitempty"`
}

type LikeResult struct {
	NowLiked bool     `json:"liked_by_user"`
	Warnings []string `json:"warnings,omitempty"`
}

type ReadResult struct {
	Warnings []string `json:"warnings,omitempty"`
}

type PurgeResult struct {
	RemovedComments      int `json:"removed_comments"`
	RemovedNotifications int `json:"removed_notifications"`
}

// ThreadComment is a comment decorated with its author's public profile.
type ThreadComment struct {
	store.Comment
	Author store.Profile `json:"author"`
}

// InboxItem is a notification decorated with the actor's public profile.
type InboxItem struct {
	store.Notification
	Actor store.Profile `json:"actor"`
}

// ─── Writes ─────────────────────────────────────────────────────────────────

// AddComment stores a new top-level comment, or a reply when replyingTo is set.
func (c *Coordinator) AddComment(ctx context.Context, contentID, authorID, text string, replyingTo *string) (CreatedComment, error) {
	contentID = strings.TrimSpace(contentID)
	authorID = strings.TrimSpace(authorID)
	if strings.TrimSpace(text) == "" {
		return CreatedComment{}, errInvalidArgument(ReasonEmptyText, "comment text must not be empty")
	}
	if contentID == "" || authorID == "" {
		return CreatedComment{}, errInvalidArgument(ReasonInvalidArgument, "content_id and author_id are required")
	}
	if replyingTo != nil {
		if pid := strings.TrimSpace(*replyingTo); pid == "" {
			replyingTo = nil
		} else {
			replyingTo = &pid
		}
	}

	ownerID, err := c.contents.GetOwner(ctx, contentID)
	if err != nil {
		return CreatedComment{}, fromStore(err, ReasonContentNotFound, "content")
	}

	var parent store.Comment
	if replyingTo != nil {
		parent, err = c.comments.Get(ctx, *replyingTo)
		if err != nil {
			return CreatedComment{}, fromStore(err, ReasonCommentNotFound, "parent comment")
		}
		if parent.ContentID != contentID {
			return CreatedComment{}, errInvalidArgument(ReasonInvalidArgument, "parent comment belongs to another content item")
		}
		unlock := c.locks.Lock(parent.RootID)
		defer unlock()
	}

	release, err := c.gate.Shared(ctx, contentID)
	if err != nil {
		c.log.Error("content gate", zap.String("content_id", contentID), zap.Error(err))
		return CreatedComment{}, errInternal("add comment: storage failure")
	}
	defer release()

	created, err := c.comments.Insert(ctx, store.Comment{
		ContentID:      contentID,
		ContentOwnerID: ownerID,
		AuthorID:       authorID,
		Text:           text,
		ParentID:       replyingTo,
	})
	if err != nil {
		return CreatedComment{}, fromStore(err, ReasonCommentNotFound, "parent comment")
	}

	fx := c.newEffects("add_comment", contentID)
	fx.counter("content.total_comments", c.contents.ApplyCounterDelta(ctx, contentID, store.TotalComments, 1))
	if !created.IsReply {
		fx.counter("content.total_parent_comments", c.contents.ApplyCounterDelta(ctx, contentID, store.TotalParentComments, 1))
	}
	fx.note("content.comment_ref", c.contents.AppendCommentRef(ctx, contentID, created.ID))
	fx.note("user.total_comments", c.users.ApplyCounterDelta(ctx, authorID, store.TotalComments, 1))
	if created.IsReply {
		_, err = c.fanout.NotifyReply(ctx, contentID, parent.AuthorID, authorID, created.ID, parent.ID)
		fx.note("notification.reply", err)
	} else {
		_, err = c.fanout.NotifyComment(ctx, contentID, ownerID, authorID, created.ID)
		fx.note("notification.comment", err)
	}
	c.settle(ctx, fx)

	return CreatedComment{
		ID:        created.ID,
		Text:      created.Text,
		CreatedAt: created.CreatedAt,
		AuthorID:  created.AuthorID,
		Children:  []string{},
		Warnings:  fx.warnings,
	}, nil
}

// DeleteComment removes a comment and its whole reply subtree. The requester
// must be the comment's author or the owner of the content it is on.
// Deleting an already deleted comment returns a zero result.
func (c *Coordinator) DeleteComment(ctx context.Context, requesterID, commentID string) (DeleteResult, error) {
	requesterID = strings.TrimSpace(requesterID)
	commentID = strings.TrimSpace(commentID)
	if commentID == "" {
		return DeleteResult{}, errInvalidArgument(ReasonInvalidArgument, "comment_id is required")
	}

	target, err := c.comments.Get(ctx, commentID)
	if errors.Is(err, store.ErrNotFound) {
		return c.deleteGone(ctx, requesterID, commentID)
	}
	if err != nil {
		return DeleteResult{}, fromStore(err, ReasonCommentNotFound, "comment")
	}
	if !mayDelete(requesterID, target.AuthorID, target.ContentOwnerID) {
		return DeleteResult{}, errForbidden("only the author or the content owner may delete this comment")
	}

	unlock := c.locks.Lock(target.RootID)
	defer unlock()

	release, err := c.gate.Shared(ctx, target.ContentID)
	if err != nil {
		c.log.Error("content gate", zap.String("content_id", target.ContentID), zap.Error(err))
		return DeleteResult{}, errInternal("delete comment: storage failure")
	}
	defer release()

	fx := c.newEffects("delete_comment", target.ContentID)
	var purge func(store.Removed)
	if p, ok := c.comments.(store.AnchoredPurger); !ok || !p.PurgesAnchoredNotifications() {
		purge = func(r store.Removed) {
			_, err := c.fanout.DeleteForComment(ctx, r.ID)
			fx.note("notifications.purge", err)
		}
	}
	removed, err := c.comments.DeleteSubtree(ctx, target.ID, purge)
	if err != nil {
		c.log.Error("delete comment subtree", zap.String("comment_id", target.ID), zap.Error(err))
		return DeleteResult{}, errInternal("delete comment: storage failure")
	}

	res := DeleteResult{RemovedCount: len(removed)}
	ids := make([]string, 0, len(removed))
	for _, r := range removed {
		ids = append(ids, r.ID)
		if r.TopLevel {
			res.RemovedTopLevelCount++
		}
	}
	if res.RemovedCount > 0 {
		fx.counter("content.total_comments",
			c.contents.ApplyCounterDelta(ctx, target.ContentID, store.TotalComments, -int64(res.RemovedCount)))
		if res.RemovedTopLevelCount > 0 {
			fx.counter("content.total_parent_comments",
				c.contents.ApplyCounterDelta(ctx, target.ContentID, store.TotalParentComments, -int64(res.RemovedTopLevelCount)))
		}
		fx.note("content.comment_refs", c.contents.RemoveCommentRefs(ctx, target.ContentID, ids))
	}
	c.settle(ctx, fx)

	res.Warnings = fx.warnings
	return res, nil
}

func (c *Coordinator) deleteGone(ctx context.Context, requesterID, commentID string) (DeleteResult, error) {
	tomb, ok, err := c.comments.WasDeleted(ctx, commentID)
	if err != nil {
		return DeleteResult{}, errInternal("delete comment: storage failure")
	}
	if !ok {
		return DeleteResult{}, errNotFound(ReasonCommentNotFound, "comment not found")
	}
	if !mayDelete(requesterID, tomb.AuthorID, tomb.ContentOwnerID) {
		return DeleteResult{}, errForbidden("only the author or the content owner may delete this comment")
	}
	return DeleteResult{}, nil
}

func mayDelete(requesterID, authorID, ownerID string) bool {
	return requesterID != "" && (requesterID == authorID || requesterID == ownerID)
}

// ToggleLike flips the caller's like on contentID. currentlyLiked is the
// state the caller observed before the toggle.
func (c *Coordinator) ToggleLike(ctx context.Context, userID, contentID string, currentlyLiked bool) (LikeResult, error) {
	userID = strings.TrimSpace(userID)
	contentID = strings.TrimSpace(contentID)
	if userID == "" || contentID == "" {
		return LikeResult{}, errInvalidArgument(ReasonInvalidArgument, "user_id and content_id are required")
	}

	ownerID, err := c.contents.GetOwner(ctx, contentID)
	if err != nil {
		return LikeResult{}, fromStore(err, ReasonContentNotFound, "content")
	}

	fx := c.newEffects("toggle_like", contentID)
	if !currentlyLiked {
		if err := c.contents.ApplyCounterDelta(ctx, contentID, store.TotalLikes, 1); err != nil {
			return LikeResult{}, fromStore(err, ReasonContentNotFound, "content")
		}
		_, err := c.fanout.NotifyLike(ctx, contentID, ownerID, userID)
		fx.note("notification.like", err)
		return LikeResult{NowLiked: true, Warnings: fx.warnings}, nil
	}

	if err := c.contents.ApplyCounterDelta(ctx, contentID, store.TotalLikes, -1); err != nil {
		return LikeResult{}, fromStore(err, ReasonContentNotFound, "content")
	}
	_, err = c.fanout.DeleteLike(ctx, userID, contentID)
	fx.note("notification.like", err)
	return LikeResult{NowLiked: false, Warnings: fx.warnings}, nil
}

// RecordRead counts one read of contentID, on the content and on its owner.
func (c *Coordinator) RecordRead(ctx context.Context, contentID string) (ReadResult, error) {
	contentID = strings.TrimSpace(contentID)
	ownerID, err := c.contents.GetOwner(ctx, contentID)
	if err != nil {
		return ReadResult{}, fromStore(err, ReasonContentNotFound, "content")
	}
	if err := c.contents.ApplyCounterDelta(ctx, contentID, store.TotalReads, 1); err != nil {
		return ReadResult{}, fromStore(err, ReasonContentNotFound, "content")
	}
	fx := c.newEffects("record_read", contentID)
	fx.note("user.total_reads", c.users.ApplyCounterDelta(ctx, ownerID, store.TotalReads, 1))
	return ReadResult{Warnings: fx.warnings}, nil
}

// PurgeContent removes every comment and notification of a deleted content
// item. It is safe to repeat.
func (c *Coordinator) PurgeContent(ctx context.Context, contentID string) (PurgeResult, error) {
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return PurgeResult{}, errInvalidArgument(ReasonInvalidArgument, "content_id is required")
	}

	release, err := c.gate.Exclusive(ctx, contentID)
	if err != nil {
		c.log.Error("content gate", zap.String("content_id", contentID), zap.Error(err))
		return PurgeResult{}, errInternal("purge content: storage failure")
	}
	defer release()

	ids, err := c.comments.DeleteByContent(ctx, contentID)
	if err != nil {
		c.log.Error("purge content comments", zap.String("content_id", contentID), zap.Error(err))
		return PurgeResult{}, errInternal("purge content: storage failure")
	}
	n, err := c.fanout.DeleteByContent(ctx, contentID)
	if err != nil {
		c.log.Error("purge content notifications", zap.String("content_id", contentID), zap.Error(err))
		return PurgeResult{}, errInternal("purge content: storage failure")
	}

	// The content record is usually gone already.
	if err := c.contents.SetCommentCounters(ctx, contentID, 0, 0); err != nil && !errors.Is(err, store.ErrNotFound) {
		c.log.Warn("purge content counters", zap.String("content_id", contentID), zap.Error(err))
	}
	if len(ids) > 0 {
		if err := c.contents.RemoveCommentRefs(ctx, contentID, ids); err != nil && !errors.Is(err, store.ErrNotFound) {
			c.log.Warn("purge content refs", zap.String("content_id", contentID), zap.Error(err))
		}
	}
	c.log.Info("content purged",
		zap.String("content_id", contentID),
		zap.Int("comments", len(ids)),
		zap.Int("notifications", n),
	)
	return PurgeResult{RemovedComments: len(ids), RemovedNotifications: n}, nil
}

// ReconcileContent recounts the comment counters of contentID from the
// comment store. It holds the content gate exclusively, so no comment write
// sits between its store change and its counter delta while counting.
func (c *Coordinator) ReconcileContent(ctx context.Context, contentID string) error {
	release, err := c.gate.Exclusive(ctx, contentID)
	if err != nil {
		c.log.Error("content gate", zap.String("content_id", contentID), zap.Error(err))
		return errInternal("reconcile: storage failure")
	}
	defer release()

	total, top, err := c.recount(ctx, contentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		c.log.Error("reconcile content counters", zap.String("content_id", contentID), zap.Error(err))
		return errInternal("reconcile: storage failure")
	}
	c.log.Info("content counters reconciled",
		zap.String("content_id", contentID),
		zap.Int64("total_comments", total),
		zap.Int64("total_parent_comments", top),
	)
	return nil
}

func (c *Coordinator) recount(ctx context.Context, contentID string) (int64, int64, error) {
	if r, ok := c.contents.(store.CommentRecounter); ok {
		return r.RecountComments(ctx, contentID)
	}
	total, top, err := c.comments.CountByContent(ctx, contentID)
	if err != nil {
		return 0, 0, err
	}
	if err := c.contents.SetCommentCounters(ctx, contentID, int64(total), int64(top)); err != nil {
		return 0, 0, err
	}
	return int64(total), int64(top), nil
}

// MarkSeen marks every notification of userID as seen.
func (c *Coordinator) MarkSeen(ctx context.Context, userID string) (int, error) {
	n, err := c.fanout.MarkSeen(ctx, userID)
	if err != nil {
		return 0, errInternal("mark seen: storage failure")
	}
	return n, nil
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// ListTopLevelComments returns one page of top-level comments, newest first.
func (c *Coordinator) ListTopLevelComments(ctx context.Context, contentID string, skip, limit int) ([]ThreadComment, error) {
	page, err := c.comments.ListTopLevel(ctx, strings.TrimSpace(contentID), skip, limit)
	if err != nil {
		return nil, fromStore(err, ReasonContentNotFound, "content")
	}
	return c.decorate(ctx, page), nil
}

// ListReplies returns one page of direct replies to commentID, newest first.
func (c *Coordinator) ListReplies(ctx context.Context, commentID string, skip, limit int) ([]ThreadComment, error) {
	page, err := c.comments.ListChildren(ctx, strings.TrimSpace(commentID), skip, limit)
	if err != nil {
		return nil, fromStore(err, ReasonCommentNotFound, "comment")
	}
	return c.decorate(ctx, page), nil
}

func (c *Coordinator) HasUnseenNotifications(ctx context.Context, userID string) (bool, error) {
	ok, err := c.fanout.HasUnseen(ctx, userID)
	if err != nil {
		return false, errInternal("notifications: storage failure")
	}
	return ok, nil
}

func (c *Coordinator) IsLiked(ctx context.Context, userID, contentID string) (bool, error) {
	ok, err := c.fanout.IsLiked(ctx, userID, contentID)
	if err != nil {
		return false, errInternal("likes: storage failure")
	}
	return ok, nil
}

func (c *Coordinator) ListNotifications(ctx context.Context, userID string, skip, limit int) ([]InboxItem, error) {
	page, err := c.fanout.List(ctx, userID, skip, limit)
	if err != nil {
		return nil, errInternal("notifications: storage failure")
	}
	ids := make([]string, 0, len(page))
	for _, n := range page {
		ids = append(ids, n.ActorID)
	}
	profiles := c.profiles(ctx, ids)
	out := make([]InboxItem, len(page))
	for i, n := range page {
		out[i] = InboxItem{Notification: n, Actor: profiles[n.ActorID]}
	}
	return out, nil
}

func (c *Coordinator) decorate(ctx context.Context, page []store.Comment) []ThreadComment {
	ids := make([]string, 0, len(page))
	for _, cm := range page {
		ids = append(ids, cm.AuthorID)
	}
	profiles := c.profiles(ctx, ids)
	out := make([]ThreadComment, len(page))
	for i, cm := range page {
		out[i] = ThreadComment{Comment: cm, Author: profiles[cm.AuthorID]}
	}
	return out
}

// profiles loads display data for ids. Missing users and lookup failures
// leave the profile empty; the page itself is still served.
func (c *Coordinator) profiles(ctx context.Context, ids []string) map[string]store.Profile {
	seen := make(map[string]bool, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	if len(unique) == 0 {
		return map[string]store.Profile{}
	}
	profiles, err := c.users.GetProfiles(ctx, unique)
	if err != nil {
		c.log.Warn("load author profiles", zap.Int("count", len(unique)), zap.Error(err))
		return map[string]store.Profile{}
	}
	return profiles
}

// ─── Secondary effects ──────────────────────────────────────────────────────

type effects struct {
	log       *zap.Logger
	op        string
	contentID string
	warnings  []string
	drift     bool
}

func (c *Coordinator) newEffects(op, contentID string) *effects {
	return &effects{log: c.log, op: op, contentID: contentID}
}

func (e *effects) note(effect string, err error) {
	if err == nil {
		return
	}
	e.log.Warn("secondary effect failed",
		zap.String("op", e.op),
		zap.String("effect", effect),
		zap.String("content_id", e.contentID),
		zap.Error(err),
	)
	for _, w := range e.warnings {
		if w == effect {
			return
		}
	}
	e.warnings = append(e.warnings, effect)
}

// counter notes a content counter update; a failure marks the counters for
// reconciliation.
func (e *effects) counter(effect string, err error) {
	if err != nil {
		e.drift = true
	}
	e.note(effect, err)
}

func (c *Coordinator) settle(ctx context.Context, fx *effects) {
	if !fx.drift {
		return
	}
	evt, err := events.New("counters.reconcile", "", events.ContentRef{ContentID: fx.contentID, Reason: fx.op})
	if err == nil {
		err = c.pub.Publish(ctx, events.SubjectCountersReconcile, evt)
	}
	if err != nil {
		c.log.Error("request counter reconcile",
			zap.String("content_id", fx.contentID),
			zap.String("op", fx.op),
			zap.Error(err),
		)
	}
}
