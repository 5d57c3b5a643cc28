package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowpilot/flowpilot/internal/auth"
	"github.com/flowpilot/flowpilot/internal/credits"
	"github.com/flowpilot/flowpilot/internal/flowerr"
	"github.com/flowpilot/flowpilot/internal/poll"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenAndMigrations(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	var v int
	err = db.SQLDB().QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err != nil {
		t.Fatalf("read schema_version: %v", err)
	}
	if v != 1 {
		t.Errorf("schema_version = %d, want 1", v)
	}

	// Re-open: idempotent, no error
	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("Open again: %v", err)
	}
	defer db2.Close()
	err = db2.SQLDB().QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err != nil {
		t.Fatalf("read schema_version (second open): %v", err)
	}
	if v != 1 {
		t.Errorf("schema_version after re-open = %d, want 1", v)
	}
}

func TestOpenUsesWAL(t *testing.T) {
	db := openTest(t)
	var mode string
	if err := db.SQLDB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	var timeout int
	if err := db.SQLDB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatal(err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
}

func TestOpenWithRejectsBadOptions(t *testing.T) {
	if _, err := OpenWith(Options{Driver: DriverSQLite}); err == nil {
		t.Error("sqlite without data dir accepted")
	}
	if _, err := OpenWith(Options{Driver: DriverPostgres}); err == nil {
		t.Error("postgres without dsn accepted")
	}
	if _, err := OpenWith(Options{Driver: "mysql", DataDir: t.TempDir()}); err == nil {
		t.Error("unknown driver accepted")
	}
}

func TestRebind(t *testing.T) {
	q := "UPDATE t SET a = ? WHERE b = ? AND c = ?"
	pg := &DB{driver: DriverPostgres}
	if got, want := pg.rebind(q), "UPDATE t SET a = $1 WHERE b = $2 AND c = $3"; got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
	lite := &DB{driver: DriverSQLite}
	if got := lite.rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestCursorStoreCompareAndSet(t *testing.T) {
	s := NewCursorStore(openTest(t))
	ctx := context.Background()
	key := poll.Key{WorkflowID: "wf1", TriggerNodeID: "t1"}

	c, err := s.GetCursor(ctx, key)
	if err != nil || c.Set {
		t.Fatalf("GetCursor on empty table = %+v, %v", c, err)
	}

	steps := []struct {
		expected poll.Cursor
		next     int64
		want     bool
	}{
		{poll.Cursor{}, 100, true},
		{poll.Cursor{}, 500, false},
		{poll.Cursor{Millis: 99, Set: true}, 200, false},
		{poll.Cursor{Millis: 100, Set: true}, 200, true},
		{poll.Cursor{Millis: 200, Set: true}, 200, true},
	}
	for i, st := range steps {
		ok, err := s.CompareAndSetCursor(ctx, key, st.expected, st.next)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if ok != st.want {
			t.Errorf("step %d: CAS = %v, want %v", i, ok, st.want)
		}
	}
	c, _ = s.GetCursor(ctx, key)
	if c != (poll.Cursor{Millis: 200, Set: true}) {
		t.Errorf("cursor = %+v, want 200", c)
	}

	if err := s.DeleteWorkflow(ctx, "wf1"); err != nil {
		t.Fatal(err)
	}
	if c, _ := s.GetCursor(ctx, key); c.Set {
		t.Error("cursor survived DeleteWorkflow")
	}
}

func TestCursorStoreConcurrentCASOneWinner(t *testing.T) {
	s := NewCursorStore(openTest(t))
	ctx := context.Background()
	key := poll.Key{WorkflowID: "wf1", TriggerNodeID: "t1"}
	if ok, err := s.CompareAndSetCursor(ctx, key, poll.Cursor{}, 10); !ok || err != nil {
		t.Fatalf("seed: %v %v", ok, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(next int64) {
			defer wg.Done()
			ok, err := s.CompareAndSetCursor(ctx, key, poll.Cursor{Millis: 10, Set: true}, next)
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(int64(20 + i))
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("winners = %d, want 1", wins)
	}
}

func TestLedgerAppendAndBalance(t *testing.T) {
	l := NewLedger(openTest(t))
	ctx := context.Background()
	m := credits.NewMeter(credits.RateTable{}, l)

	if _, err := m.Grant(ctx, "ws1", decimal.NewFromInt(10)); err != nil {
		t.Fatal(err)
	}
	entry, err := m.Charge(ctx, "ws1", "p1", decimal.RequireFromString("0.125"),
		credits.Reference{ExecutionID: "exec1"},
		credits.Details{ActionID: "custom_prompt", Provider: "openai", Model: "gpt-4o-mini", Usage: credits.Usage{InputTokens: 12}})
	if err != nil {
		t.Fatal(err)
	}

	bal, err := l.Balance(ctx, "ws1")
	if err != nil {
		t.Fatal(err)
	}
	if !bal.Equal(decimal.RequireFromString("9.875")) {
		t.Errorf("balance = %s, want 9.875", bal)
	}
	if other, _ := l.Balance(ctx, "ws2"); !other.IsZero() {
		t.Errorf("ws2 balance = %s, want 0", other)
	}

	entries, err := l.Entries(ctx, "ws1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	got := entries[1]
	if got.ID != entry.ID || got.ProjectID != "p1" || got.Ref.ExecutionID != "exec1" ||
		got.Details.Usage.InputTokens != 12 || !got.CreatedAt.Equal(entry.CreatedAt) {
		t.Errorf("round-tripped entry = %+v, want %+v", got, entry)
	}
}

func TestLedgerDuplicateIDRejected(t *testing.T) {
	l := NewLedger(openTest(t))
	e := credits.LedgerEntry{ID: "dup", WorkspaceID: "ws1", Credits: decimal.NewFromInt(1), CreatedAt: time.Now()}
	if err := l.AppendCharge(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if err := l.AppendCharge(context.Background(), e); err == nil {
		t.Error("duplicate ledger id accepted")
	}
}

func TestLedgerCorruptRowIsAnError(t *testing.T) {
	tests := []struct {
		name, ref, details, createdAt, want string
	}{
		{"reference", "{not json", "{}", "2026-01-02T03:04:05Z", "reference"},
		{"details", "{}", "[1,", "2026-01-02T03:04:05Z", "details"},
		{"created_at", "{}", "{}", "yesterday", "created_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTest(t)
			_, err := db.SQLDB().Exec(`INSERT INTO credit_ledger (id, workspace_id, project_id, credits, reference, details, created_at)
				VALUES ('bad', 'ws1', '', '1', ?, ?, ?)`, tt.ref, tt.details, tt.createdAt)
			if err != nil {
				t.Fatal(err)
			}
			l := NewLedger(db)
			if _, err := l.Entries(context.Background(), "ws1"); err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Entries error = %v, want mention of %q", err, tt.want)
			}
			if _, err := l.Balance(context.Background(), "ws1"); err == nil {
				t.Error("Balance ignored a corrupt row")
			}
		})
	}
}

func TestConnectionStore(t *testing.T) {
	s := NewConnectionStore(openTest(t))
	ctx := context.Background()

	_, err := s.GetConnection(ctx, "missing")
	var ae *auth.Error
	if !errors.As(err, &ae) || flowerr.KindOf(err) != flowerr.KindConnection {
		t.Fatalf("missing connection err = %v", err)
	}

	c := &auth.Connection{
		ID: "c1", WorkspaceID: "ws1", AppID: "slack", Type: auth.TypeOAuth2,
		AccessToken: "xoxb-1", RefreshToken: "r1", Metadata: map[string]string{"team": "T1"},
	}
	if err := s.PutConnection(ctx, c); err != nil {
		t.Fatal(err)
	}
	c.AccessToken = "xoxb-2"
	if err := s.PutConnection(ctx, c); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetConnection(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessToken != "xoxb-2" || got.Type != auth.TypeOAuth2 || got.Metadata["team"] != "T1" {
		t.Errorf("connection = %+v", got)
	}

	if err := s.PutConnection(ctx, &auth.Connection{ID: "bad", Type: auth.TypeAPIKey}); err == nil {
		t.Error("connection without credential accepted")
	}

	other := &auth.Connection{ID: "c0", WorkspaceID: "ws1", AppID: "slack", Type: auth.TypeAPIKey, APIKey: "k"}
	if err := s.PutConnection(ctx, other); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListConnections(ctx, "ws1", "slack")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "c0" || list[1].ID != "c1" {
		t.Errorf("ListConnections = %+v", list)
	}
	if list, _ := s.ListConnections(ctx, "ws2", "slack"); len(list) != 0 {
		t.Errorf("other workspace sees %d connections", len(list))
	}

	if err := s.DeleteConnection(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetConnection(ctx, "c1"); err == nil {
		t.Error("deleted connection still readable")
	}
}
