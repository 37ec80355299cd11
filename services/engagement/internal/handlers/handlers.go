// Package handlers exposes the engagement coordinator over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/novel-platform/internal/platform/api"
	"github.com/example/novel-platform/internal/platform/auth"
	"github.com/example/novel-platform/internal/platform/httpserver"
	"github.com/example/novel-platform/services/engagement/internal/engagement"
)

// Service is the coordinator surface the HTTP layer needs.
type Service interface {
	AddComment(ctx context.Context, contentID, authorID, text string, replyingTo *string) (engagement.CreatedComment, error)
	DeleteComment(ctx context.Context, requesterID, commentID string) (engagement.DeleteResult, error)
	ToggleLike(ctx context.Context, userID, contentID string, currentlyLiked bool) (engagement.LikeResult, error)
	IsLiked(ctx context.Context, userID, contentID string) (bool, error)
	RecordRead(ctx context.Context, contentID string) (engagement.ReadResult, error)
	ListTopLevelComments(ctx context.Context, contentID string, skip, limit int) ([]engagement.ThreadComment, error)
	ListReplies(ctx context.Context, commentID string, skip, limit int) ([]engagement.ThreadComment, error)
	HasUnseenNotifications(ctx context.Context, userID string) (bool, error)
	ListNotifications(ctx context.Context, userID string, skip, limit int) ([]engagement.InboxItem, error)
	MarkSeen(ctx context.Context, userID string) (int, error)
}

const maxBodyBytes = 1 << 20

// Register mounts every engagement route on r. requireUser guards the
// routes that act on behalf of a user.
func Register(r chi.Router, svc Service, requireUser func(http.Handler) http.Handler, live Live) {
	r.Get("/v1/contents/{content_id}/comments", ListComments(svc))
	r.Get("/v1/comments/{comment_id}/replies", ListReplies(svc))
	r.Post("/v1/contents/{content_id}/reads", RecordRead(svc))

	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/v1/contents/{content_id}/comments", AddComment(svc))
		r.Delete("/v1/comments/{comment_id}", DeleteComment(svc))
		r.Post("/v1/contents/{content_id}/like", ToggleLike(svc))
		r.Get("/v1/contents/{content_id}/like", IsLiked(svc))
		r.Get("/v1/notifications", ListNotifications(svc))
		r.Get("/v1/notifications/unseen", HasUnseen(svc))
		r.Post("/v1/notifications/seen", MarkSeen(svc))
	})

	if live.Feed != nil {
		r.With(auth.QueryToken(accessTokenParam), requireUser).
			Get("/v1/notifications/ws", NotificationStream(live.Feed, live.AllowedOrigins))
	}
}

// accessTokenParam carries the bearer token for browser websocket clients.
const accessTokenParam = "access_token"

// Live configures the notification websocket. A nil Feed leaves the route
// unmounted.
type Live struct {
	Feed           NotificationFeed
	AllowedOrigins []string
}

// writeServiceError maps a coordinator status error to the JSON envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())
	st, ok := status.FromError(err)
	if !ok {
		api.Internal(w, rid)
		return
	}
	reason := engagement.Reason(err)
	switch st.Code() {
	case codes.InvalidArgument:
		api.BadRequest(w, reason, st.Message(), rid, nil)
	case codes.NotFound:
		api.NotFound(w, reason, st.Message(), rid)
	case codes.PermissionDenied:
		api.Forbidden(w, reason, st.Message(), rid)
	case codes.AlreadyExists:
		api.Conflict(w, reason, st.Message(), rid, nil)
	default:
		api.Internal(w, rid)
	}
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		api.Unauthorized(w, "UNAUTHORIZED", "authentication required", httpserver.RequestIDFromContext(r.Context()))
		return "", false
	}
	return userID, true
}

func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(chi.URLParam(r, name))
	if v == "" {
		api.BadRequest(w, "MISSING_ID", name+" is required", httpserver.RequestIDFromContext(r.Context()), nil)
		return "", false
	}
	return v, true
}

// pageParams reads skip and limit; anything unparsable is left to the
// store's defaults.
func pageParams(r *http.Request) (skip, limit int) {
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("skip")); err == nil {
		skip = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		limit = v
	}
	return skip, limit
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", httpserver.RequestIDFromContext(r.Context()), nil)
		return false
	}
	return true
}
