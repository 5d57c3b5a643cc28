package auth

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ConnectionStore is the narrow credential lookup the runtime consumes.
type ConnectionStore interface {
	GetConnection(ctx context.Context, id string) (*Connection, error)
}

// ConnectionLister enumerates a workspace's connections to one app, for
// connection pickers in the editor.
type ConnectionLister interface {
	ListConnections(ctx context.Context, workspaceID, appID string) ([]*Connection, error)
}

// Store keeps connections in memory, optionally loaded from a YAML file.
// Useful for local runs and tests; production deployments use the SQL store.
type Store struct {
	mu          sync.RWMutex
	path        string
	connections map[string]*Connection
}

func NewStore(path string) *Store {
	return &Store{
		path:        path,
		connections: make(map[string]*Connection),
	}
}

func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading connections: %w", err)
	}
	var list []*Connection
	if err := yaml.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parsing connections: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range list {
		s.connections[c.ID] = c
	}
	return nil
}

func (s *Store) Save() error {
	s.mu.RLock()
	list := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		list = append(list, c)
	}
	s.mu.RUnlock()

	data, err := yaml.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshaling connections: %w", err)
	}
	return os.WriteFile(s.path, data, 0600)
}

func (s *Store) Add(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[c.ID] = c
}

// GetConnection returns a copy so callers cannot mutate stored credentials.
func (s *Store) GetConnection(_ context.Context, id string) (*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[id]
	if !ok {
		return nil, &Error{ConnectionID: id, Reason: "not found"}
	}
	cp := *c
	return &cp, nil
}

// ListConnections returns copies sorted by id.
func (s *Store) ListConnections(_ context.Context, workspaceID, appID string) ([]*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Connection
	for _, c := range s.connections {
		if c.WorkspaceID == workspaceID && c.AppID == appID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
