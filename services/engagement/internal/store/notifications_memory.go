package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryNotificationStore is a development-only in-memory implementation.
type InMemoryNotificationStore struct {
	mu    sync.RWMutex
	items map[string]Notification
	seq   map[string]uint64 // id -> insertion order, breaks CreatedAt ties
	next  uint64
}

func NewInMemoryNotificationStore() *InMemoryNotificationStore {
	return &InMemoryNotificationStore{
		items: make(map[string]Notification),
		seq:   make(map[string]uint64),
	}
}

func (s *InMemoryNotificationStore) Create(_ context.Context, n Notification) (Notification, error) {
	if strings.TrimSpace(n.RecipientID) == "" || strings.TrimSpace(n.ContentID) == "" {
		return Notification{}, fmt.Errorf("%w: notification needs recipient and content", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n.ID = uuid.New().String()
	n.Seen = false
	n.CreatedAt = time.Now().UTC()
	s.next++
	s.items[n.ID] = n
	s.seq[n.ID] = s.next
	return n, nil
}

func (s *InMemoryNotificationStore) deleteWhere(match func(Notification) bool) int {
	n := 0
	for id, item := range s.items {
		if match(item) {
			delete(s.items, id)
			delete(s.seq, id)
			n++
		}
	}
	return n
}

func (s *InMemoryNotificationStore) DeleteForComment(_ context.Context, commentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteWhere(func(n Notification) bool {
		return (n.CommentID != nil && *n.CommentID == commentID) ||
			(n.RepliedToID != nil && *n.RepliedToID == commentID)
	}), nil
}

func (s *InMemoryNotificationStore) DeleteLike(_ context.Context, actorID, contentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest string
	for id, n := range s.items {
		if n.Type != NotificationLike || n.ActorID != actorID || n.ContentID != contentID {
			continue
		}
		if oldest == "" || s.seq[id] < s.seq[oldest] {
			oldest = id
		}
	}
	if oldest == "" {
		return 0, nil
	}
	delete(s.items, oldest)
	delete(s.seq, oldest)
	return 1, nil
}

func (s *InMemoryNotificationStore) DeleteByContent(_ context.Context, contentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleteWhere(func(n Notification) bool { return n.ContentID == contentID }), nil
}

func (s *InMemoryNotificationStore) HasUnseen(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.items {
		if n.RecipientID == userID && !n.Seen && n.ActorID != userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryNotificationStore) LikeExists(_ context.Context, actorID, contentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.items {
		if n.Type == NotificationLike && n.ActorID == actorID && n.ContentID == contentID {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryNotificationStore) ListForRecipient(_ context.Context, userID string, skip, limit int) ([]Notification, error) {
	skip, limit = NormalizePage(skip, limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Notification
	for _, n := range s.items {
		if n.RecipientID == userID && n.ActorID != userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.seq[out[i].ID] > s.seq[out[j].ID] })
	return paginate(out, skip, limit), nil
}

func (s *InMemoryNotificationStore) MarkAllSeen(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, item := range s.items {
		if item.RecipientID == userID && !item.Seen {
			item.Seen = true
			s.items[id] = item
			n++
		}
	}
	return n, nil
}

// Count reports how many records match; nil matches all.
func (s *InMemoryNotificationStore) Count(match func(Notification) bool) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, item := range s.items {
		if match == nil || match(item) {
			n++
		}
	}
	return n
}
