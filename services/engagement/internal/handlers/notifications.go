package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/novel-platform/internal/platform/api"
	"github.com/example/novel-platform/internal/platform/httpserver"
	"github.com/example/novel-platform/services/engagement/internal/engagement"
)

type inboxResponse struct {
	Notifications []engagement.InboxItem `json:"notifications"`
}

type unseenResponse struct {
	Unseen bool `json:"unseen"`
}

type markSeenResponse struct {
	Updated int `json:"updated"`
}

// ListNotifications handles GET /v1/notifications
func ListNotifications(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		skip, limit := pageParams(r)

		items, err := svc.ListNotifications(r.Context(), userID, skip, limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, inboxResponse{Notifications: items})
	}
}

// HasUnseen handles GET /v1/notifications/unseen
func HasUnseen(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		unseen, err := svc.HasUnseenNotifications(r.Context(), userID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, unseenResponse{Unseen: unseen})
	}
}

// MarkSeen handles POST /v1/notifications/seen
func MarkSeen(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		n, err := svc.MarkSeen(r.Context(), userID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, markSeenResponse{Updated: n})
	}
}

// NotificationFeed streams raw notification payloads addressed to a user.
type NotificationFeed interface {
	Subscribe(ctx context.Context, userID string) (<-chan []byte, func() error, error)
}

const wsWriteWait = 10 * time.Second

// checkOrigin accepts requests without an Origin header (non-browser
// clients) and browser origins on the allow-list. "*" allows any origin.
// The CORS middleware does not apply to websocket upgrades.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// NotificationStream handles GET /v1/notifications/ws, forwarding live
// notifications until either side goes away.
func NotificationStream(feed NotificationFeed, allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(allowedOrigins),
	}
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		if !upgrader.CheckOrigin(r) {
			api.Forbidden(w, "ORIGIN_NOT_ALLOWED", "origin not allowed", httpserver.RequestIDFromContext(r.Context()))
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		msgs, closeFeed, err := feed.Subscribe(ctx, userID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		defer func() { _ = closeFeed() }()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// The client never sends anything meaningful; reads only detect close.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-msgs:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			}
		}
	}
}
