package store

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryContentRegistry is a development-only ContentRegistry.
type InMemoryContentRegistry struct {
	mu    sync.RWMutex
	items map[string]Content
}

func NewInMemoryContentRegistry() *InMemoryContentRegistry {
	return &InMemoryContentRegistry{items: make(map[string]Content)}
}

// Put registers or replaces a content record.
func (r *InMemoryContentRegistry) Put(c Content) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.CommentIDs = append([]string{}, c.CommentIDs...)
	r.items[c.ID] = c
}

// Get returns a copy of the content record.
func (r *InMemoryContentRegistry) Get(id string) (Content, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	c.CommentIDs = append([]string{}, c.CommentIDs...)
	return c, ok
}

func (r *InMemoryContentRegistry) GetOwner(_ context.Context, contentID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[contentID]
	if !ok {
		return "", fmt.Errorf("%w: content %s", ErrNotFound, contentID)
	}
	return c.OwnerID, nil
}

func (r *InMemoryContentRegistry) GetActivity(_ context.Context, contentID string) (Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[contentID]
	if !ok {
		return Activity{}, fmt.Errorf("%w: content %s", ErrNotFound, contentID)
	}
	return c.Activity, nil
}

func (r *InMemoryContentRegistry) update(contentID string, fn func(*Content)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[contentID]
	if !ok {
		return fmt.Errorf("%w: content %s", ErrNotFound, contentID)
	}
	fn(&c)
	r.items[contentID] = c
	return nil
}

func (r *InMemoryContentRegistry) ApplyCounterDelta(_ context.Context, contentID string, field CounterField, delta int64) error {
	if _, err := counterColumn(contentCounterColumns, field); err != nil {
		return err
	}
	return r.update(contentID, func(c *Content) { c.Activity.add(field, delta) })
}

func (r *InMemoryContentRegistry) SetCommentCounters(_ context.Context, contentID string, total, topLevel int64) error {
	return r.update(contentID, func(c *Content) {
		c.Activity.TotalComments = total
		c.Activity.TotalParentComments = topLevel
	})
}

func (r *InMemoryContentRegistry) AppendCommentRef(_ context.Context, contentID, commentID string) error {
	return r.update(contentID, func(c *Content) {
		c.CommentIDs = append(append([]string{}, c.CommentIDs...), commentID)
	})
}

func (r *InMemoryContentRegistry) RemoveCommentRefs(_ context.Context, contentID string, commentIDs []string) error {
	drop := make(map[string]bool, len(commentIDs))
	for _, id := range commentIDs {
		drop[id] = true
	}
	return r.update(contentID, func(c *Content) {
		kept := make([]string, 0, len(c.CommentIDs))
		for _, id := range c.CommentIDs {
			if !drop[id] {
				kept = append(kept, id)
			}
		}
		c.CommentIDs = kept
	})
}

type userRecord struct {
	profile  Profile
	activity Activity
}

// InMemoryUserRegistry is a development-only UserRegistry.
type InMemoryUserRegistry struct {
	mu    sync.RWMutex
	users map[string]userRecord
}

func NewInMemoryUserRegistry() *InMemoryUserRegistry {
	return &InMemoryUserRegistry{users: make(map[string]userRecord)}
}

// Put registers or replaces a user profile, keeping existing counters.
func (r *InMemoryUserRegistry) Put(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.users[p.ID]
	rec.profile = p
	r.users[p.ID] = rec
}

func (r *InMemoryUserRegistry) GetProfiles(_ context.Context, ids []string) (map[string]Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Profile, len(ids))
	for _, id := range ids {
		if rec, ok := r.users[id]; ok {
			out[id] = rec.profile
		}
	}
	return out, nil
}

func (r *InMemoryUserRegistry) GetActivity(_ context.Context, userID string) (Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.users[userID]
	if !ok {
		return Activity{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return rec.activity, nil
}

func (r *InMemoryUserRegistry) ApplyCounterDelta(_ context.Context, userID string, field CounterField, delta int64) error {
	if _, err := counterColumn(userCounterColumns, field); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.users[userID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	rec.activity.add(field, delta)
	r.users[userID] = rec
	return nil
}
