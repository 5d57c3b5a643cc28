package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/flowpilot/flowpilot/internal/poll"
)

// CursorStore keeps poll cursors in memory with an optional YAML snapshot
// under dir. With a dir, every successful compare-and-set is on disk before
// it returns. It is meant for single-process deployments and tests.
type CursorStore struct {
	mu      sync.Mutex
	cursors map[string]map[string]int64 // workflowID -> triggerNodeID -> millis
	dir     string
}

func NewCursorStore(dir string) *CursorStore {
	return &CursorStore{
		cursors: make(map[string]map[string]int64),
		dir:     dir,
	}
}

func (s *CursorStore) GetCursor(_ context.Context, key poll.Key) (poll.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cursors[key.WorkflowID][key.TriggerNodeID]
	return poll.Cursor{Millis: v, Set: ok}, nil
}

func (s *CursorStore) CompareAndSetCursor(_ context.Context, key poll.Key, expected poll.Cursor, next int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cursors[key.WorkflowID][key.TriggerNodeID]
	if ok != expected.Set || v != expected.Millis {
		return false, nil
	}
	if s.cursors[key.WorkflowID] == nil {
		s.cursors[key.WorkflowID] = make(map[string]int64)
	}
	s.cursors[key.WorkflowID][key.TriggerNodeID] = next
	if err := s.saveLocked(); err != nil {
		if ok {
			s.cursors[key.WorkflowID][key.TriggerNodeID] = v
		} else {
			delete(s.cursors[key.WorkflowID], key.TriggerNodeID)
		}
		return false, err
	}
	return true, nil
}

// DeleteWorkflow drops every cursor of a workflow, e.g. when it is deleted.
func (s *CursorStore) DeleteWorkflow(workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, workflowID)
	return s.saveLocked()
}

func (s *CursorStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *CursorStore) saveLocked() error {
	if s.dir == "" {
		return nil
	}
	data, err := yaml.Marshal(s.cursors)
	if err != nil {
		return fmt.Errorf("marshaling cursors: %w", err)
	}
	return writeFileAtomic(s.dir, "cursors.yaml", data)
}

func (s *CursorStore) Load() error {
	if s.dir == "" {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(s.dir, "cursors.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading cursors: %w", err)
	}

	var cursors map[string]map[string]int64
	if err := yaml.Unmarshal(data, &cursors); err != nil {
		return fmt.Errorf("parsing cursors: %w", err)
	}
	if cursors == nil {
		cursors = make(map[string]map[string]int64)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = cursors
	return nil
}
