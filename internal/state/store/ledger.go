package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowpilot/flowpilot/internal/credits"
)

// Ledger is the append-only credit_ledger table. Rows are never updated.
type Ledger struct {
	db *DB
}

func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) AppendCharge(ctx context.Context, e credits.LedgerEntry) error {
	ref, err := json.Marshal(e.Ref)
	if err != nil {
		return fmt.Errorf("ledger append: marshal reference: %w", err)
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("ledger append: marshal details: %w", err)
	}
	_, err = l.db.SQLDB().ExecContext(ctx, l.db.rebind(
		`INSERT INTO credit_ledger (id, workspace_id, project_id, credits, reference, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.WorkspaceID, e.ProjectID, e.Credits.String(), string(ref), string(details),
		e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("ledger append: %w", err)
	}
	return nil
}

// Balance sums in Go so SQLite and Postgres agree on decimal precision.
func (l *Ledger) Balance(ctx context.Context, workspaceID string) (decimal.Decimal, error) {
	entries, err := l.Entries(ctx, workspaceID)
	if err != nil {
		return decimal.Zero, err
	}
	return credits.BalanceOf(entries, workspaceID), nil
}

// Entries returns the workspace's entries in append order.
func (l *Ledger) Entries(ctx context.Context, workspaceID string) ([]credits.LedgerEntry, error) {
	rows, err := l.db.SQLDB().QueryContext(ctx, l.db.rebind(
		`SELECT id, workspace_id, project_id, credits, reference, details, created_at
		 FROM credit_ledger WHERE workspace_id = ? ORDER BY seq`), workspaceID)
	if err != nil {
		return nil, fmt.Errorf("ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []credits.LedgerEntry
	for rows.Next() {
		var (
			e                               credits.LedgerEntry
			amount, ref, details, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.ProjectID, &amount, &ref, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("ledger scan: %w", err)
		}
		if e.Credits, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("ledger entry %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(ref), &e.Ref); err != nil {
			return nil, fmt.Errorf("ledger entry %s: reference: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("ledger entry %s: details: %w", e.ID, err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("ledger entry %s: created_at: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
