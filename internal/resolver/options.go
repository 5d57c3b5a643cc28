package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flowpilot/flowpilot/internal/auth"
	"github.com/flowpilot/flowpilot/internal/schema"
)

// DynamicOptionsFunc fetches the option list of a dynamic-select field. It
// must be free of side effects so it can be called repeatedly and cached.
type DynamicOptionsFunc func(ctx context.Context, conn *auth.Connection, workspaceID string) ([]schema.Option, error)

// ListDynamicOptions fetches the options of one field. It is only called when
// the editor or an agent needs the list, never during Resolve. Failures come
// back as *DynamicOptionsUnavailableError carrying the field's static
// options as a fallback.
func ListDynamicOptions(ctx context.Context, f schema.Field, fn DynamicOptionsFunc, conn *auth.Connection, workspaceID string) ([]schema.Option, error) {
	if f.Dynamic == nil {
		if len(f.SelectOptions) > 0 {
			return f.SelectOptions, nil
		}
		return nil, &DynamicOptionsUnavailableError{FieldID: f.ID, Err: fmt.Errorf("field has no dynamic source")}
	}
	if fn == nil {
		return nil, &DynamicOptionsUnavailableError{
			FieldID:  f.ID,
			Fallback: f.SelectOptions,
			Err:      fmt.Errorf("no provider registered for source %q", f.Dynamic.ID),
		}
	}
	opts, err := fn(ctx, conn, workspaceID)
	if err != nil {
		return nil, &DynamicOptionsUnavailableError{FieldID: f.ID, Fallback: f.SelectOptions, Err: err}
	}
	if opts == nil {
		opts = []schema.Option{}
	}
	return opts, nil
}

// CacheKey scopes cached options to one editing session. Options are never
// shared across sessions because they can change server-side.
type CacheKey struct {
	SessionID    string
	ConnectionID string
	NodeID       string
	FieldID      string
}

func (k CacheKey) String() string {
	return k.SessionID + "/" + k.ConnectionID + "/" + k.NodeID + "/" + k.FieldID
}

type OptionsCache interface {
	Get(ctx context.Context, key CacheKey) ([]schema.Option, bool, error)
	Put(ctx context.Context, key CacheKey, opts []schema.Option) error
	// EndSession drops everything cached for the session.
	EndSession(ctx context.Context, sessionID string) error
}

// SessionCache is an in-process OptionsCache.
type SessionCache struct {
	mu       sync.RWMutex
	sessions map[string]map[CacheKey][]schema.Option
}

func NewSessionCache() *SessionCache {
	return &SessionCache{sessions: make(map[string]map[CacheKey][]schema.Option)}
}

func (c *SessionCache) Get(_ context.Context, key CacheKey) ([]schema.Option, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	opts, ok := c.sessions[key.SessionID][key]
	return opts, ok, nil
}

func (c *SessionCache) Put(_ context.Context, key CacheKey, opts []schema.Option) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[key.SessionID] == nil {
		c.sessions[key.SessionID] = make(map[CacheKey][]schema.Option)
	}
	c.sessions[key.SessionID][key] = opts
	return nil
}

func (c *SessionCache) EndSession(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
	return nil
}

// CachedLister wraps ListDynamicOptions with a session cache. Failed
// fetches are not cached.
type CachedLister struct {
	Cache OptionsCache
}

func (l *CachedLister) List(ctx context.Context, sessionID, nodeID string, f schema.Field, fn DynamicOptionsFunc, conn *auth.Connection, workspaceID string) ([]schema.Option, error) {
	if l.Cache == nil || sessionID == "" {
		return ListDynamicOptions(ctx, f, fn, conn, workspaceID)
	}
	key := CacheKey{SessionID: sessionID, NodeID: nodeID, FieldID: f.ID}
	if conn != nil {
		key.ConnectionID = conn.ID
	}
	opts, ok, err := l.Cache.Get(ctx, key)
	if err != nil {
		slog.Warn("options cache read failed", "key", key.String(), "error", err)
	} else if ok {
		return opts, nil
	}
	opts, err = ListDynamicOptions(ctx, f, fn, conn, workspaceID)
	if err != nil {
		return nil, err
	}
	if err := l.Cache.Put(ctx, key, opts); err != nil {
		slog.Warn("options cache write failed", "key", key.String(), "error", err)
	}
	return opts, nil
}
