package credits

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Reference links a ledger entry to what caused it.
type Reference struct {
	AgentID     string `json:"agentId,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
	WorkflowID  string `json:"workflowId,omitempty"`
}

type Details struct {
	ActionID string `json:"actionId,omitempty"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Usage    Usage  `json:"usage"`
}

// LedgerEntry is immutable once appended. Charges carry positive Credits,
// grants negative ones.
type LedgerEntry struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspaceId"`
	ProjectID   string          `json:"projectId,omitempty"`
	Credits     decimal.Decimal `json:"creditsUsed"`
	Ref         Reference       `json:"reference"`
	Details     Details         `json:"details"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Ledger is an append-only credit log. Balance reads are read-committed;
// callers must not treat them as reservations.
type Ledger interface {
	AppendCharge(ctx context.Context, e LedgerEntry) error
	Balance(ctx context.Context, workspaceID string) (decimal.Decimal, error)
}

// BalanceOf folds entries of one workspace into its balance.
func BalanceOf(entries []LedgerEntry, workspaceID string) decimal.Decimal {
	b := decimal.Zero
	for _, e := range entries {
		if e.WorkspaceID == workspaceID {
			b = b.Sub(e.Credits)
		}
	}
	return b
}
