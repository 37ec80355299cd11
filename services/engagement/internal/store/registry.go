package store

import (
	"context"
	"fmt"
)

// CounterField names an activity counter.
type CounterField string

const (
	TotalComments       CounterField = "total_comments"
	TotalParentComments CounterField = "total_parent_comments"
	TotalLikes          CounterField = "total_likes"
	TotalReads          CounterField = "total_reads"
)

// Activity holds the denormalized engagement counters of a record.
type Activity struct {
	TotalComments       int64 `json:"total_comments"`
	TotalParentComments int64 `json:"total_parent_comments"`
	TotalLikes          int64 `json:"total_likes"`
	TotalReads          int64 `json:"total_reads"`
}

func (a *Activity) add(field CounterField, delta int64) {
	switch field {
	case TotalComments:
		a.TotalComments += delta
	case TotalParentComments:
		a.TotalParentComments += delta
	case TotalLikes:
		a.TotalLikes += delta
	case TotalReads:
		a.TotalReads += delta
	}
}

type ContentKind string

const (
	KindNovel   ContentKind = "novel"
	KindEpisode ContentKind = "episode"
	KindChapter ContentKind = "chapter"
)

// Content is the slice of a publishable item the engagement core touches.
type Content struct {
	ID         string      `json:"id"`
	Kind       ContentKind `json:"kind"`
	OwnerID    string      `json:"owner_id"`
	Activity   Activity    `json:"activity"`
	CommentIDs []string    `json:"comment_ids"`
}

// ContentRegistry owns content records and their counters.
// Counter changes are relative and applied atomically.
type ContentRegistry interface {
	GetOwner(ctx context.Context, contentID string) (string, error)
	GetActivity(ctx context.Context, contentID string) (Activity, error)
	ApplyCounterDelta(ctx context.Context, contentID string, field CounterField, delta int64) error
	// SetCommentCounters overwrites both comment counters.
	SetCommentCounters(ctx context.Context, contentID string, total, topLevel int64) error
	AppendCommentRef(ctx context.Context, contentID, commentID string) error
	RemoveCommentRefs(ctx context.Context, contentID string, commentIDs []string) error
}

// CommentRecounter is implemented by registries that can rebuild both
// comment counters from the live comment rows in a single statement.
type CommentRecounter interface {
	RecountComments(ctx context.Context, contentID string) (total, topLevel int64, err error)
}

// Profile is the public display data of a user.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

// UserRegistry owns user records and their counters.
type UserRegistry interface {
	GetProfiles(ctx context.Context, ids []string) (map[string]Profile, error)
	GetActivity(ctx context.Context, userID string) (Activity, error)
	ApplyCounterDelta(ctx context.Context, userID string, field CounterField, delta int64) error
}

var contentCounterColumns = map[CounterField]string{
	TotalComments:       "total_comments",
	TotalParentComments: "total_parent_comments",
	TotalLikes:          "total_likes",
	TotalReads:          "total_reads",
}

var userCounterColumns = map[CounterField]string{
	TotalComments: "total_comments",
	TotalReads:    "total_reads",
}

func counterColumn(columns map[CounterField]string, field CounterField) (string, error) {
	col, ok := columns[field]
	if !ok {
		return "", fmt.Errorf("%w: unknown counter %q", ErrInvalidArgument, field)
	}
	return col, nil
}
