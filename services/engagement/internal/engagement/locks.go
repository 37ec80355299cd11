package engagement

import (
	"context"
	"sync"
)

// keyedMutex serializes work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.RWMutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key string) (unlock func()) {
	e := k.acquire(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.release(key, e)
	}
}

// RLock blocks while key is held by Lock. Any number of RLock holders may
// share a key.
func (k *keyedMutex) RLock(key string) (unlock func()) {
	e := k.acquire(key)
	e.mu.RLock()
	return func() {
		e.mu.RUnlock()
		k.release(key, e)
	}
}

func (k *keyedMutex) acquire(key string) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *keyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// ContentGate orders comment-counter writers against recounts of the same
// content item. Writers hold it shared from the comment write until their
// counter deltas land; a recount holds it exclusively.
type ContentGate interface {
	Shared(ctx context.Context, contentID string) (release func(), err error)
	Exclusive(ctx context.Context, contentID string) (release func(), err error)
}

// localGate is a ContentGate for a single process.
type localGate struct {
	locks *keyedMutex
}

func newLocalGate() *localGate {
	return &localGate{locks: newKeyedMutex()}
}

func (g *localGate) Shared(_ context.Context, contentID string) (func(), error) {
	return g.locks.RLock(contentID), nil
}

func (g *localGate) Exclusive(_ context.Context, contentID string) (func(), error) {
	return g.locks.Lock(contentID), nil
}
