package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryCommentStore is a development-only in-memory implementation.
type InMemoryCommentStore struct {
	mu         sync.RWMutex
	comments   map[string]Comment   // id -> comment
	tombstones map[string]Tombstone // id -> tombstone
	last       time.Time
	now        func() time.Time
}

func NewInMemoryCommentStore() *InMemoryCommentStore {
	return &InMemoryCommentStore{
		comments:   make(map[string]Comment),
		tombstones: make(map[string]Tombstone),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// tick returns a strictly increasing timestamp so ordering by CreatedAt is
// total even when the clock does not advance between inserts.
func (s *InMemoryCommentStore) tick() time.Time {
	t := s.now()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func (s *InMemoryCommentStore) Insert(_ context.Context, c Comment) (Comment, error) {
	if err := validateComment(c); err != nil {
		return Comment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c.ID = uuid.New().String()
	c.IsReply = c.ParentID != nil
	c.Children = []string{}
	if c.ParentID != nil {
		parent, ok := s.comments[*c.ParentID]
		if !ok {
			return Comment{}, fmt.Errorf("%w: parent comment %s", ErrNotFound, *c.ParentID)
		}
		if parent.ContentID != c.ContentID {
			return Comment{}, fmt.Errorf("%w: parent comment belongs to another content item", ErrInvalidArgument)
		}
		c.RootID = parent.RootID
		parent.Children = append(append([]string{}, parent.Children...), c.ID)
		s.comments[parent.ID] = parent
	} else {
		c.RootID = c.ID
	}
	c.CreatedAt = s.tick()
	s.comments[c.ID] = cloneComment(c)
	return cloneComment(c), nil
}

func (s *InMemoryCommentStore) Get(_ context.Context, id string) (Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return Comment{}, fmt.Errorf("%w: comment %s", ErrNotFound, id)
	}
	return cloneComment(c), nil
}

func (s *InMemoryCommentStore) ListTopLevel(_ context.Context, contentID string, skip, limit int) ([]Comment, error) {
	skip, limit = NormalizePage(skip, limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var roots []Comment
	for _, c := range s.comments {
		if c.ContentID == contentID && c.ParentID == nil {
			roots = append(roots, cloneComment(c))
		}
	}
	sortNewestFirst(roots)
	return paginate(roots, skip, limit), nil
}

func (s *InMemoryCommentStore) ListChildren(_ context.Context, parentID string, skip, limit int) ([]Comment, error) {
	skip, limit = NormalizePage(skip, limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	parent, ok := s.comments[parentID]
	if !ok {
		return nil, fmt.Errorf("%w: comment %s", ErrNotFound, parentID)
	}
	children := make([]Comment, 0, len(parent.Children))
	for _, id := range parent.Children {
		if c, ok := s.comments[id]; ok {
			children = append(children, cloneComment(c))
		}
	}
	sortNewestFirst(children)
	return paginate(children, skip, limit), nil
}

func (s *InMemoryCommentStore) DeleteSubtree(_ context.Context, rootID string, beforeRemove func(Removed)) ([]Removed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := []Removed{}
	visited := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		c, ok := s.comments[id]
		if !ok || visited[id] {
			return
		}
		visited[id] = true
		for _, child := range append([]string{}, c.Children...) {
			walk(child)
		}
		r := Removed{ID: c.ID, AuthorID: c.AuthorID, TopLevel: c.ParentID == nil}
		if beforeRemove != nil {
			beforeRemove(r)
		}
		s.removeLocked(c)
		removed = append(removed, r)
	}
	walk(rootID)
	return removed, nil
}

// removeLocked unlinks c from its parent, drops it and leaves a tombstone.
func (s *InMemoryCommentStore) removeLocked(c Comment) {
	if c.ParentID != nil {
		if parent, ok := s.comments[*c.ParentID]; ok {
			kept := make([]string, 0, len(parent.Children))
			for _, id := range parent.Children {
				if id != c.ID {
					kept = append(kept, id)
				}
			}
			parent.Children = kept
			s.comments[parent.ID] = parent
		}
	}
	delete(s.comments, c.ID)
	s.tombstones[c.ID] = Tombstone{
		ID:             c.ID,
		ContentID:      c.ContentID,
		ContentOwnerID: c.ContentOwnerID,
		AuthorID:       c.AuthorID,
		DeletedAt:      s.now(),
	}
}

func (s *InMemoryCommentStore) WasDeleted(_ context.Context, id string) (Tombstone, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tombstones[id]
	return t, ok, nil
}

func (s *InMemoryCommentStore) CountByContent(_ context.Context, contentID string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total, top int
	for _, c := range s.comments {
		if c.ContentID != contentID {
			continue
		}
		total++
		if c.ParentID == nil {
			top++
		}
	}
	return total, top, nil
}

func (s *InMemoryCommentStore) DeleteByContent(_ context.Context, contentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := []string{}
	for id, c := range s.comments {
		if c.ContentID != contentID {
			continue
		}
		delete(s.comments, id)
		s.tombstones[id] = Tombstone{
			ID:             c.ID,
			ContentID:      c.ContentID,
			ContentOwnerID: c.ContentOwnerID,
			AuthorID:       c.AuthorID,
			DeletedAt:      s.now(),
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func sortNewestFirst(cs []Comment) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.After(cs[j].CreatedAt)
		}
		return cs[i].ID > cs[j].ID
	})
}
