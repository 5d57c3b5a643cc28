package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/flowpilot/flowpilot/internal/credits"
)

// Ledger is an in-memory append-only credit ledger. With a dir, every
// appended entry is on disk before AppendCharge returns.
type Ledger struct {
	mu      sync.RWMutex
	entries []credits.LedgerEntry
	dir     string
}

func NewLedger(dir string) *Ledger {
	return &Ledger{dir: dir}
}

func (l *Ledger) AppendCharge(_ context.Context, e credits.LedgerEntry) error {
	if e.ID == "" || e.WorkspaceID == "" {
		return fmt.Errorf("ledger entry needs id and workspace")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.entries {
		if existing.ID == e.ID {
			return fmt.Errorf("ledger entry %q already exists", e.ID)
		}
	}
	l.entries = append(l.entries, e)
	if err := l.saveLocked(); err != nil {
		l.entries = l.entries[:len(l.entries)-1]
		return err
	}
	return nil
}

func (l *Ledger) Balance(_ context.Context, workspaceID string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return credits.BalanceOf(l.entries, workspaceID), nil
}

// Entries returns the workspace's entries in append order.
func (l *Ledger) Entries(workspaceID string) []credits.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []credits.LedgerEntry
	for _, e := range l.entries {
		if e.WorkspaceID == workspaceID {
			out = append(out, e)
		}
	}
	return out
}

type ledgerRecord struct {
	ID          string            `yaml:"id"`
	WorkspaceID string            `yaml:"workspace_id"`
	ProjectID   string            `yaml:"project_id,omitempty"`
	Credits     string            `yaml:"credits"`
	Ref         credits.Reference `yaml:"reference"`
	ActionID    string            `yaml:"action_id,omitempty"`
	Provider    string            `yaml:"provider,omitempty"`
	Model       string            `yaml:"model,omitempty"`
	Usage       credits.Usage     `yaml:"usage"`
	CreatedAt   time.Time         `yaml:"created_at"`
}

func (l *Ledger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked()
}

func (l *Ledger) saveLocked() error {
	if l.dir == "" {
		return nil
	}
	records := make([]ledgerRecord, len(l.entries))
	for i, e := range l.entries {
		records[i] = ledgerRecord{
			ID: e.ID, WorkspaceID: e.WorkspaceID, ProjectID: e.ProjectID,
			Credits: e.Credits.String(), Ref: e.Ref,
			ActionID: e.Details.ActionID, Provider: e.Details.Provider, Model: e.Details.Model,
			Usage: e.Details.Usage, CreatedAt: e.CreatedAt,
		}
	}

	data, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshaling ledger: %w", err)
	}
	return writeFileAtomic(l.dir, "ledger.yaml", data)
}

func (l *Ledger) Load() error {
	if l.dir == "" {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(l.dir, "ledger.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading ledger: %w", err)
	}

	var records []ledgerRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parsing ledger: %w", err)
	}
	entries := make([]credits.LedgerEntry, len(records))
	for i, r := range records {
		amount, err := decimal.NewFromString(r.Credits)
		if err != nil {
			return fmt.Errorf("ledger entry %s: %w", r.ID, err)
		}
		entries[i] = credits.LedgerEntry{
			ID: r.ID, WorkspaceID: r.WorkspaceID, ProjectID: r.ProjectID,
			Credits: amount, Ref: r.Ref,
			Details:   credits.Details{ActionID: r.ActionID, Provider: r.Provider, Model: r.Model, Usage: r.Usage},
			CreatedAt: r.CreatedAt,
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = entries
	return nil
}
