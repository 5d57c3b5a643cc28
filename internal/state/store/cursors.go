package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flowpilot/flowpilot/internal/poll"
)

// CursorStore keeps poll cursors in the poll_cursors table. The
// compare-and-set is a single conditional statement, so it is safe across
// processes sharing the database.
type CursorStore struct {
	db  *DB
	now func() time.Time
}

func NewCursorStore(db *DB) *CursorStore {
	return &CursorStore{db: db, now: time.Now}
}

func (s *CursorStore) GetCursor(ctx context.Context, key poll.Key) (poll.Cursor, error) {
	var ms int64
	err := s.db.SQLDB().QueryRowContext(ctx,
		s.db.rebind(`SELECT cursor_ms FROM poll_cursors WHERE workflow_id = ? AND trigger_node_id = ?`),
		key.WorkflowID, key.TriggerNodeID,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return poll.Cursor{}, nil
	}
	if err != nil {
		return poll.Cursor{}, fmt.Errorf("get cursor %s: %w", key, err)
	}
	return poll.Cursor{Millis: ms, Set: true}, nil
}

func (s *CursorStore) CompareAndSetCursor(ctx context.Context, key poll.Key, expected poll.Cursor, next int64) (bool, error) {
	now := s.now().UTC().Format(time.RFC3339Nano)
	var (
		res sql.Result
		err error
	)
	if !expected.Set {
		res, err = s.db.SQLDB().ExecContext(ctx, s.db.rebind(
			`INSERT INTO poll_cursors (workflow_id, trigger_node_id, cursor_ms, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (workflow_id, trigger_node_id) DO NOTHING`),
			key.WorkflowID, key.TriggerNodeID, next, now)
	} else {
		res, err = s.db.SQLDB().ExecContext(ctx, s.db.rebind(
			`UPDATE poll_cursors SET cursor_ms = ?, updated_at = ?
			 WHERE workflow_id = ? AND trigger_node_id = ? AND cursor_ms = ?`),
			next, now, key.WorkflowID, key.TriggerNodeID, expected.Millis)
	}
	if err != nil {
		return false, fmt.Errorf("set cursor %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set cursor %s: %w", key, err)
	}
	return n == 1, nil
}

// DeleteWorkflow drops every cursor of a workflow.
func (s *CursorStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	_, err := s.db.SQLDB().ExecContext(ctx, s.db.rebind(`DELETE FROM poll_cursors WHERE workflow_id = ?`), workflowID)
	if err != nil {
		return fmt.Errorf("delete cursors of %s: %w", workflowID, err)
	}
	return nil
}
