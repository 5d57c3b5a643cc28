package poll

import (
	"context"
	"sync"
)

// Key identifies the cursor of one trigger node in one workflow.
type Key struct {
	WorkflowID    string
	TriggerNodeID string
}

func (k Key) String() string {
	return k.WorkflowID + "/" + k.TriggerNodeID
}

// Cursor is the highest event timestamp, in epoch milliseconds, already
// delivered for a key. Set is false until the first poll persists it.
type Cursor struct {
	Millis int64
	Set    bool
}

// CursorStore persists cursors. CompareAndSetCursor must be atomic: it
// writes next only if the stored cursor still equals expected (an unset
// expected means "no row yet"), and reports whether it did.
type CursorStore interface {
	GetCursor(ctx context.Context, key Key) (Cursor, error)
	CompareAndSetCursor(ctx context.Context, key Key, expected Cursor, next int64) (bool, error)
}

// keyedMutex serializes polls of the same key inside one process. The
// store's compare-and-set still guards against other processes.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
