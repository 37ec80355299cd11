package handlers

import (
	"net/http"

	"github.com/example/novel-platform/internal/platform/api"
	"github.com/example/novel-platform/services/engagement/internal/engagement"
)

type addCommentRequest struct {
	Text       string  `json:"text"`
	ReplyingTo *string `json:"replying_to,omitempty"`
}

type commentPage struct {
	Comments []engagement.ThreadComment `json:"comments"`
}

// AddComment handles POST /v1/contents/{content_id}/comments
func AddComment(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		contentID, ok := pathParam(w, r, "content_id")
		if !ok {
			return
		}
		var req addCommentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		created, err := svc.AddComment(r.Context(), contentID, userID, req.Text, req.ReplyingTo)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusCreated, created)
	}
}

// DeleteComment handles DELETE /v1/comments/{comment_id}
func DeleteComment(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		commentID, ok := pathParam(w, r, "comment_id")
		if !ok {
			return
		}

		res, err := svc.DeleteComment(r.Context(), userID, commentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, res)
	}
}

// ListComments handles GET /v1/contents/{content_id}/comments
func ListComments(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contentID, ok := pathParam(w, r, "content_id")
		if !ok {
			return
		}
		skip, limit := pageParams(r)

		page, err := svc.ListTopLevelComments(r.Context(), contentID, skip, limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, commentPage{Comments: page})
	}
}

// ListReplies handles GET /v1/comments/{comment_id}/replies
func ListReplies(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		commentID, ok := pathParam(w, r, "comment_id")
		if !ok {
			return
		}
		skip, limit := pageParams(r)

		page, err := svc.ListReplies(r.Context(), commentID, skip, limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, commentPage{Comments: page})
	}
}
