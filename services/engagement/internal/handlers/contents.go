package handlers

import (
	"net/http"

	"github.com/example/novel-platform/internal/platform/api"
)

type toggleLikeRequest struct {
	IsLikedByUser bool `json:"is_liked_by_user"`
}

type likedResponse struct {
	Liked bool `json:"liked_by_user"`
}

// ToggleLike handles POST /v1/contents/{content_id}/like. The body carries
// the like state the client currently shows.
func ToggleLike(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		contentID, ok := pathParam(w, r, "content_id")
		if !ok {
			return
		}
		var req toggleLikeRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := svc.ToggleLike(r.Context(), userID, contentID, req.IsLikedByUser)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, res)
	}
}

// IsLiked handles GET /v1/contents/{content_id}/like
func IsLiked(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		contentID, ok := pathParam(w, r, "content_id")
		if !ok {
			return
		}

		liked, err := svc.IsLiked(r.Context(), userID, contentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, likedResponse{Liked: liked})
	}
}

// RecordRead handles POST /v1/contents/{content_id}/reads
func RecordRead(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contentID, ok := pathParam(w, r, "content_id")
		if !ok {
			return
		}

		res, err := svc.RecordRead(r.Context(), contentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, res)
	}
}
