package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/example/novel-platform/internal/platform/api"
	"github.com/example/novel-platform/internal/platform/auth"
	"github.com/example/novel-platform/services/engagement/internal/engagement"
	"github.com/example/novel-platform/services/engagement/internal/store"
)

var _ Service = (*engagement.Coordinator)(nil)

type fixture struct {
	svc      *engagement.Coordinator
	contents *store.InMemoryContentRegistry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	contents := store.NewInMemoryContentRegistry()
	users := store.NewInMemoryUserRegistry()
	contents.Put(store.Content{ID: "N1", Kind: store.KindNovel, OwnerID: "owner"})
	for _, u := range []string{"owner", "user-a", "user-b"} {
		users.Put(store.Profile{ID: u, Username: u})
	}
	return &fixture{
		svc: engagement.New(engagement.Options{
			Comments:      store.NewInMemoryCommentStore(),
			Notifications: store.NewInMemoryNotificationStore(),
			Contents:      contents,
			Users:         users,
		}),
		contents: contents,
	}
}

// setupReq builds a request with chi URL params and optional user_id in context.
func setupReq(method, url string, body string, params map[string]string, userID string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if userID != "" {
		ctx = auth.WithUserID(ctx, userID)
	}
	return req.WithContext(ctx)
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) api.APIError {
	t.Helper()
	var resp api.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return resp.Error
}

func (f *fixture) addComment(t *testing.T, userID, text string, replyingTo *string) engagement.CreatedComment {
	t.Helper()
	c, err := f.svc.AddComment(context.Background(), "N1", userID, text, replyingTo)
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	return c
}

// ─── Comment tests ──────────────────────────────────────────────────────────

func TestAddComment(t *testing.T) {
	f := newFixture(t)
	req := setupReq(http.MethodPost, "/v1/contents/N1/comments", `{"text":"hello world"}`,
		map[string]string{"content_id": "N1"}, "user-a")

	rr := httptest.NewRecorder()
	AddComment(f.svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var c engagement.CreatedComment
	if err := json.NewDecoder(rr.Body).Decode(&c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Text != "hello world" || c.AuthorID != "user-a" {
		t.Fatalf("unexpected comment %+v", c)
	}
	if c.Children == nil || len(c.Children) != 0 {
		t.Fatalf("expected empty children, got %v", c.Children)
	}
}

func TestAddComment_Unauthorized(t *testing.T) {
	f := newFixture(t)
	req := setupReq(http.MethodPost, "/v1/contents/N1/comments", `{"text":"hello"}`,
		map[string]string{"content_id": "N1"}, "")

	rr := httptest.NewRecorder()
	AddComment(f.svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAddComment_Errors(t *testing.T) {
	tests := []struct {
		name      string
		contentID string
		body      string
		status    int
		code      string
	}{
		{"empty text", "N1", `{"text":"   "}`, http.StatusBadRequest, engagement.ReasonEmptyText},
		{"invalid json", "N1", `{`, http.StatusBadRequest, "INVALID_JSON"},
		{"unknown content", "N404", `{"text":"hi"}`, http.StatusNotFound, engagement.ReasonContentNotFound},
		{"unknown parent", "N1", `{"text":"hi","replying_to":"nope"}`, http.StatusNotFound, engagement.ReasonCommentNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := setupReq(http.MethodPost, "/v1/contents/"+tc.contentID+"/comments", tc.body,
				map[string]string{"content_id": tc.contentID}, "user-a")
			rr := httptest.NewRecorder()
			AddComment(f.svc).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if got := decodeError(t, rr); got.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, got.Code)
			}
		})
	}
}

func TestDeleteComment(t *testing.T) {
	f := newFixture(t)
	root := f.addComment(t, "user-a", "root", nil)
	f.addComment(t, "user-b", "reply", &root.ID)

	// user-b is neither author nor owner of the root.
	req := setupReq(http.MethodDelete, "/v1/comments/"+root.ID, "",
		map[string]string{"comment_id": root.ID}, "user-b")
	rr := httptest.NewRecorder()
	DeleteComment(f.svc).ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	req = setupReq(http.MethodDelete, "/v1/comments/"+root.ID, "",
		map[string]string{"comment_id": root.ID}, "owner")
	rr = httptest.NewRecorder()
	DeleteComment(f.svc).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var res engagement.DeleteResult
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.RemovedCount != 2 || res.RemovedTopLevelCount != 1 {
		t.Fatalf("expected 2/1 removed, got %+v", res)
	}
}

func TestDeleteComment_NotFound(t *testing.T) {
	f := newFixture(t)
	req := setupReq(http.MethodDelete, "/v1/comments/missing", "",
		map[string]string{"comment_id": "missing"}, "user-a")
	rr := httptest.NewRecorder()
	DeleteComment(f.svc).ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestListComments_Pagination(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.addComment(t, "user-a", "c", nil)
	}

	req := setupReq(http.MethodGet, "/v1/contents/N1/comments?skip=1&limit=5", "",
		map[string]string{"content_id": "N1"}, "")
	rr := httptest.NewRecorder()
	ListComments(f.svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var page commentPage
	if err := json.NewDecoder(rr.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(page.Comments))
	}
	if page.Comments[0].Author.Username != "user-a" {
		t.Fatalf("expected author decoration, got %+v", page.Comments[0].Author)
	}
}

func TestListReplies(t *testing.T) {
	f := newFixture(t)
	root := f.addComment(t, "user-a", "root", nil)
	f.addComment(t, "user-b", "reply", &root.ID)

	req := setupReq(http.MethodGet, "/v1/comments/"+root.ID+"/replies", "",
		map[string]string{"comment_id": root.ID}, "")
	rr := httptest.NewRecorder()
	ListReplies(f.svc).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var page commentPage
	if err := json.NewDecoder(rr.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Comments) != 1 || page.Comments[0].Text != "reply" {
		t.Fatalf("unexpected replies %+v", page.Comments)
	}

	req = setupReq(http.MethodGet, "/v1/comments/missing/replies", "",
		map[string]string{"comment_id": "missing"}, "")
	rr = httptest.NewRecorder()
	ListReplies(f.svc).ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

// ─── Like and read tests ────────────────────────────────────────────────────

func TestToggleLike_RoundTrip(t *testing.T) {
	f := newFixture(t)
	params := map[string]string{"content_id": "N1"}

	rr := httptest.NewRecorder()
	ToggleLike(f.svc).ServeHTTP(rr, setupReq(http.MethodPost, "/v1/contents/N1/like",
		`{"is_liked_by_user":false}`, params, "user-a"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	IsLiked(f.svc).ServeHTTP(rr, setupReq(http.MethodGet, "/v1/contents/N1/like", "", params, "user-a"))
	var liked likedResponse
	if err := json.NewDecoder(rr.Body).Decode(&liked); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !liked.Liked {
		t.Fatal("expected liked after first toggle")
	}

	rr = httptest.NewRecorder()
	ToggleLike(f.svc).ServeHTTP(rr, setupReq(http.MethodPost, "/v1/contents/N1/like",
		`{"is_liked_by_user":true}`, params, "user-a"))
	var res engagement.LikeResult
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.NowLiked {
		t.Fatal("expected unliked after second toggle")
	}
	c, _ := f.contents.Get("N1")
	if c.Activity.TotalLikes != 0 {
		t.Fatalf("expected 0 likes, got %d", c.Activity.TotalLikes)
	}
}

func TestRecordRead(t *testing.T) {
	f := newFixture(t)

	rr := httptest.NewRecorder()
	RecordRead(f.svc).ServeHTTP(rr, setupReq(http.MethodPost, "/v1/contents/N1/reads", "",
		map[string]string{"content_id": "N1"}, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	c, _ := f.contents.Get("N1")
	if c.Activity.TotalReads != 1 {
		t.Fatalf("expected 1 read, got %d", c.Activity.TotalReads)
	}

	rr = httptest.NewRecorder()
	RecordRead(f.svc).ServeHTTP(rr, setupReq(http.MethodPost, "/v1/contents/N9/reads", "",
		map[string]string{"content_id": "N9"}, ""))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

// ─── Notification tests ─────────────────────────────────────────────────────

func TestNotificationsInbox(t *testing.T) {
	f := newFixture(t)
	f.addComment(t, "user-a", "nice chapter", nil)

	rr := httptest.NewRecorder()
	HasUnseen(f.svc).ServeHTTP(rr, setupReq(http.MethodGet, "/v1/notifications/unseen", "", nil, "owner"))
	var unseen unseenResponse
	if err := json.NewDecoder(rr.Body).Decode(&unseen); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !unseen.Unseen {
		t.Fatal("expected unseen notification for owner")
	}

	rr = httptest.NewRecorder()
	ListNotifications(f.svc).ServeHTTP(rr, setupReq(http.MethodGet, "/v1/notifications", "", nil, "owner"))
	var inbox inboxResponse
	if err := json.NewDecoder(rr.Body).Decode(&inbox); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(inbox.Notifications) != 1 || inbox.Notifications[0].Actor.Username != "user-a" {
		t.Fatalf("unexpected inbox %+v", inbox.Notifications)
	}

	rr = httptest.NewRecorder()
	MarkSeen(f.svc).ServeHTTP(rr, setupReq(http.MethodPost, "/v1/notifications/seen", "", nil, "owner"))
	var marked markSeenResponse
	if err := json.NewDecoder(rr.Body).Decode(&marked); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if marked.Updated != 1 {
		t.Fatalf("expected 1 updated, got %d", marked.Updated)
	}

	rr = httptest.NewRecorder()
	HasUnseen(f.svc).ServeHTTP(rr, setupReq(http.MethodGet, "/v1/notifications/unseen", "", nil, "owner"))
	unseen = unseenResponse{}
	if err := json.NewDecoder(rr.Body).Decode(&unseen); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if unseen.Unseen {
		t.Fatal("expected nothing unseen after mark seen")
	}
}

func TestWriteServiceError_PlainErrorIsInternal(t *testing.T) {
	rr := httptest.NewRecorder()
	writeServiceError(rr, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("boom"))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

// ─── Routing tests ──────────────────────────────────────────────────────────

func denyAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.Unauthorized(w, "UNAUTHORIZED", "missing bearer token", "")
	})
}

func TestRegister_GuardsWriteRoutes(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	Register(r, f.svc, denyAll, Live{})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/contents/N1/comments", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected public read 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/contents/N1/comments", strings.NewReader(`{"text":"x"}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/notifications/ws", nil))
	if rr.Code != http.StatusNotFound && rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected ws route absent without feed, got %d", rr.Code)
	}
}

// ─── Realtime tests ─────────────────────────────────────────────────────────

type fakeFeed struct {
	users chan string
	ch    chan []byte
}

func (f *fakeFeed) Subscribe(_ context.Context, userID string) (<-chan []byte, func() error, error) {
	f.users <- userID
	return f.ch, func() error { return nil }, nil
}

func TestNotificationStream_ForwardsPayloads(t *testing.T) {
	feed := &fakeFeed{users: make(chan string, 1), ch: make(chan []byte, 1)}
	feed.ch <- []byte(`{"event_type":"reply"}`)

	withUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), "user-a")))
		})
	}
	srv := httptest.NewServer(withUser(NotificationStream(feed, nil)))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != `{"event_type":"reply"}` {
		t.Fatalf("unexpected payload %s", msg)
	}
	if user := <-feed.users; user != "user-a" {
		t.Fatalf("expected subscription for user-a, got %q", user)
	}
}

func TestCheckOrigin(t *testing.T) {
	allowed := []string{"https://novels.example.org"}
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", allowed, "", true},
		{"listed origin", allowed, "https://novels.example.org", true},
		{"case differs", allowed, "https://NOVELS.example.org", true},
		{"foreign origin", allowed, "https://evil.example.com", false},
		{"wildcard", []string{"*"}, "https://evil.example.com", true},
		{"empty list", nil, "https://novels.example.org", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/notifications/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := checkOrigin(tt.allowed)(req); got != tt.want {
				t.Fatalf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestNotificationStream_RejectsForeignOrigin(t *testing.T) {
	feed := &fakeFeed{users: make(chan string, 1), ch: make(chan []byte, 1)}
	withUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), "user-a")))
		})
	}
	srv := httptest.NewServer(withUser(NotificationStream(feed, []string{"https://novels.example.org"})))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatal("expected the upgrade to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
	select {
	case u := <-feed.users:
		t.Fatalf("expected no subscription, got one for %q", u)
	default:
	}
}

func TestRegister_StreamAcceptsQueryToken(t *testing.T) {
	f := newFixture(t)
	feed := &fakeFeed{users: make(chan string, 1), ch: make(chan []byte, 1)}
	feed.ch <- []byte(`{"event_type":"comment"}`)

	secret := []byte("test-secret-key-32-bytes-long!!!")
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-b",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	r := chi.NewRouter()
	Register(r, f.svc, auth.RequireUser(auth.JWTVerifier{Secret: secret}), Live{Feed: feed, AllowedOrigins: []string{"*"}})
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/notifications/ws?access_token=" + signed
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, msg, err := conn.ReadMessage(); err != nil || string(msg) != `{"event_type":"comment"}` {
		t.Fatalf("unexpected read %s %v", msg, err)
	}
	if user := <-feed.users; user != "user-b" {
		t.Fatalf("expected subscription for user-b, got %q", user)
	}
}
