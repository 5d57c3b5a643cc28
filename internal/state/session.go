package state

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// EditSession is one configuration-editing session in the workflow editor.
// Dynamic option lists are cached for its lifetime only.
type EditSession struct {
	ID          string
	WorkspaceID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*EditSession
	onEnd    func(id string)
	now      func() time.Time
}

// NewSessionStore returns a store that calls onEnd (if non-nil) whenever a
// session ends or expires.
func NewSessionStore(onEnd func(id string)) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*EditSession),
		onEnd:    onEnd,
		now:      time.Now,
	}
}

// Touch creates the session if needed and marks it active.
func (s *SessionStore) Touch(id, workspaceID string) (*EditSession, error) {
	if id == "" {
		return nil, fmt.Errorf("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &EditSession{ID: id, WorkspaceID: workspaceID, CreatedAt: now}
		s.sessions[id] = sess
	} else if sess.WorkspaceID != workspaceID {
		return nil, fmt.Errorf("session %q belongs to another workspace", id)
	}
	sess.UpdatedAt = now
	cp := *sess
	return &cp, nil
}

func (s *SessionStore) Get(id string) (*EditSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q not found", id)
	}
	cp := *sess
	return &cp, nil
}

func (s *SessionStore) End(id string) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok && s.onEnd != nil {
		s.onEnd(id)
	}
}

// Expire ends every session idle for longer than idle and returns their ids.
func (s *SessionStore) Expire(idle time.Duration) []string {
	cutoff := s.now().Add(-idle)
	s.mu.Lock()
	var ended []string
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			ended = append(ended, id)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	sort.Strings(ended)
	if s.onEnd != nil {
		for _, id := range ended {
			s.onEnd(id)
		}
	}
	return ended
}

func (s *SessionStore) List() []*EditSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*EditSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
