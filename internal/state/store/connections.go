package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowpilot/flowpilot/internal/auth"
)

// ConnectionStore reads and writes the connections table.
type ConnectionStore struct {
	db *DB
}

func NewConnectionStore(db *DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

func (s *ConnectionStore) GetConnection(ctx context.Context, id string) (*auth.Connection, error) {
	var (
		c        auth.Connection
		typ      string
		metadata string
	)
	err := s.db.SQLDB().QueryRowContext(ctx, s.db.rebind(
		`SELECT id, workspace_id, app_id, type, access_token, refresh_token, api_key, metadata
		 FROM connections WHERE id = ?`), id,
	).Scan(&c.ID, &c.WorkspaceID, &c.AppID, &typ, &c.AccessToken, &c.RefreshToken, &c.APIKey, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &auth.Error{ConnectionID: id, Reason: "not found"}
	}
	if err != nil {
		return nil, &auth.Error{ConnectionID: id, Reason: "lookup failed", Err: err}
	}
	c.Type = auth.Type(typ)
	if metadata != "" {
		_ = json.Unmarshal([]byte(metadata), &c.Metadata)
	}
	return &c, nil
}

// PutConnection inserts or replaces a connection, e.g. after an OAuth token refresh.
func (s *ConnectionStore) PutConnection(ctx context.Context, c *auth.Connection) error {
	if err := c.Validate(); err != nil {
		return err
	}
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("put connection: marshal metadata: %w", err)
	}
	_, err = s.db.SQLDB().ExecContext(ctx, s.db.rebind(
		`INSERT INTO connections (id, workspace_id, app_id, type, access_token, refresh_token, api_key, metadata, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   workspace_id = excluded.workspace_id, app_id = excluded.app_id, type = excluded.type,
		   access_token = excluded.access_token, refresh_token = excluded.refresh_token,
		   api_key = excluded.api_key, metadata = excluded.metadata, updated_at = excluded.updated_at`),
		c.ID, c.WorkspaceID, c.AppID, string(c.Type), c.AccessToken, c.RefreshToken, c.APIKey,
		string(metadata), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put connection %s: %w", c.ID, err)
	}
	return nil
}

func (s *ConnectionStore) DeleteConnection(ctx context.Context, id string) error {
	_, err := s.db.SQLDB().ExecContext(ctx, s.db.rebind(`DELETE FROM connections WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete connection %s: %w", id, err)
	}
	return nil
}

func (s *ConnectionStore) ListConnections(ctx context.Context, workspaceID, appID string) ([]*auth.Connection, error) {
	rows, err := s.db.SQLDB().QueryContext(ctx, s.db.rebind(
		`SELECT id, workspace_id, app_id, type, access_token, refresh_token, api_key, metadata
		 FROM connections WHERE workspace_id = ? AND app_id = ? ORDER BY id`), workspaceID, appID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []*auth.Connection
	for rows.Next() {
		var (
			c        auth.Connection
			typ      string
			metadata string
		)
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.AppID, &typ, &c.AccessToken, &c.RefreshToken, &c.APIKey, &metadata); err != nil {
			return nil, fmt.Errorf("list connections: %w", err)
		}
		c.Type = auth.Type(typ)
		if metadata != "" {
			_ = json.Unmarshal([]byte(metadata), &c.Metadata)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
