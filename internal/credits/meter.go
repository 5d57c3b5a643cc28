// Package credits meters usage-priced actions against a workspace credit
// ledger: check the balance, run the provider call, price the reported
// usage, and append one charge only when the call succeeded.
package credits

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flowpilot/flowpilot/internal/metrics"
)

// Invocation describes one metered call.
type Invocation struct {
	WorkspaceID string
	ProjectID   string
	ActionID    string
	Provider    string
	Model       string
	Ref         Reference
	// UsingWorkspaceConnection is set when the caller authenticates with its
	// own provider credentials. Such calls are never metered.
	UsingWorkspaceConnection bool
}

type Meter struct {
	rates   RateTable
	ledger  Ledger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

type MeterOption func(*Meter)

func WithMetrics(m *metrics.Metrics) MeterOption {
	return func(mt *Meter) { mt.metrics = m }
}

func WithClock(now func() time.Time) MeterOption {
	return func(mt *Meter) { mt.now = now }
}

func NewMeter(rates RateTable, ledger Ledger, opts ...MeterOption) *Meter {
	m := &Meter{
		rates:  rates,
		ledger: ledger,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Meter) Rates() RateTable { return m.rates }

// CheckBalance fails when the model has no rate or the workspace has no
// credits left. It reserves nothing.
func (m *Meter) CheckBalance(ctx context.Context, workspaceID, provider, model string) error {
	if _, err := m.rates.Lookup(provider, model); err != nil {
		return err
	}
	bal, err := m.ledger.Balance(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("reading balance of %s: %w", workspaceID, err)
	}
	if !bal.IsPositive() {
		m.metrics.CreditRejected(provider)
		return &InsufficientCreditsError{WorkspaceID: workspaceID, Balance: bal}
	}
	return nil
}

// Charge appends one charge entry.
func (m *Meter) Charge(ctx context.Context, workspaceID, projectID string, amount decimal.Decimal, ref Reference, details Details) (LedgerEntry, error) {
	e := LedgerEntry{
		ID:          m.newID(),
		WorkspaceID: workspaceID,
		ProjectID:   projectID,
		Credits:     amount,
		Ref:         ref,
		Details:     details,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.ledger.AppendCharge(ctx, e); err != nil {
		return LedgerEntry{}, fmt.Errorf("appending charge: %w", err)
	}
	f, _ := amount.Float64()
	m.metrics.Charged(details.Provider, details.Model, f)
	return e, nil
}

// Grant adds credits to a workspace.
func (m *Meter) Grant(ctx context.Context, workspaceID string, amount decimal.Decimal) (LedgerEntry, error) {
	if !amount.IsPositive() {
		return LedgerEntry{}, fmt.Errorf("grant amount must be positive, got %s", amount)
	}
	e := LedgerEntry{
		ID:          m.newID(),
		WorkspaceID: workspaceID,
		Credits:     amount.Neg(),
		CreatedAt:   m.now().UTC(),
	}
	if err := m.ledger.AppendCharge(ctx, e); err != nil {
		return LedgerEntry{}, fmt.Errorf("appending grant: %w", err)
	}
	return e, nil
}

// Metered runs call under the metering protocol. Errors from call are
// returned unchanged and nothing is charged for them; a context that ended
// during the call also counts as a failure.
func (m *Meter) Metered(ctx context.Context, inv Invocation, call func(ctx context.Context) (Usage, error)) (Usage, *LedgerEntry, error) {
	if inv.UsingWorkspaceConnection {
		u, err := call(ctx)
		return u, nil, err
	}

	if err := m.CheckBalance(ctx, inv.WorkspaceID, inv.Provider, inv.Model); err != nil {
		return Usage{}, nil, err
	}

	u, err := call(ctx)
	if err != nil {
		return u, nil, err
	}
	if err := ctx.Err(); err != nil {
		return u, nil, err
	}

	cost, err := m.rates.CostOf(inv.Provider, inv.Model, u)
	if err != nil {
		return u, nil, err
	}
	entry, err := m.Charge(ctx, inv.WorkspaceID, inv.ProjectID, cost, inv.Ref, Details{
		ActionID: inv.ActionID,
		Provider: inv.Provider,
		Model:    inv.Model,
		Usage:    u,
	})
	if err != nil {
		slog.Error("credit charge failed after successful call",
			"workspace", inv.WorkspaceID, "action", inv.ActionID, "credits", cost.String(), "error", err)
		return u, nil, err
	}
	return u, &entry, nil
}
