package vapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowpilot/flowpilot/internal/apps/appkit"
	"github.com/flowpilot/flowpilot/internal/auth"
	"github.com/flowpilot/flowpilot/internal/credits"
	"github.com/flowpilot/flowpilot/internal/httpclient"
	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/resolver"
	"github.com/flowpilot/flowpilot/internal/state"
)

const rates = `
providers:
  vapi:
    call:
      per_minute: "0.1"
`

// fakeVapi answers POST /call once and then reports the call in progress
// until reads is exhausted, after which it returns final.
type fakeVapi struct {
	mu      sync.Mutex
	created []map[string]any
	reads   int
	final   string
	auth    string
}

func (f *fakeVapi) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = r.Header.Get("Authorization")
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/call":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.created = append(f.created, body)
		_, _ = w.Write([]byte(`{"id":"call-1","status":"queued"}`))
	case r.Method == http.MethodGet && r.URL.Path == "/call/call-1":
		if f.reads > 0 {
			f.reads--
			_, _ = w.Write([]byte(`{"id":"call-1","status":"in-progress","startedAt":"2024-06-01T10:00:00Z"}`))
			return
		}
		_, _ = w.Write([]byte(f.final))
	default:
		http.NotFound(w, r)
	}
}

type fixture struct {
	api    *fakeVapi
	action *MakeCall
	meter  *credits.Meter
	ledger *state.Ledger
}

func newFixture(t *testing.T, final string) fixture {
	t.Helper()
	api := &fakeVapi{reads: 2, final: final}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	table, err := credits.ParseRateTable([]byte(rates))
	if err != nil {
		t.Fatal(err)
	}
	ledger := state.NewLedger("")
	meter := credits.NewMeter(table, ledger)
	d := Deps{
		Deps:         appkit.NewDeps(httpclient.New(httpclient.Config{}), DefaultBase, appkit.WithBaseURL(srv.URL)),
		Meter:        meter,
		PollInterval: time.Millisecond,
	}
	return fixture{api: api, action: NewMakeCall(d), meter: meter, ledger: ledger}
}

func (f fixture) run(t *testing.T) (any, error) {
	t.Helper()
	cfg, err := resolver.Resolve(f.action.Schema(), map[string]any{
		"assistantId":    "asst-1",
		"phoneNumberId":  "pn-1",
		"customerNumber": "+14155550100",
		"customerName":   "Ada",
	}, resolver.Context{WorkspaceID: "ws-1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return f.action.Run(context.Background(), plugin.RunArgs{
		Config:     cfg,
		Connection: &auth.Connection{ID: "c1", WorkspaceID: "ws-1", Type: auth.TypeAPIKey, APIKey: "vapi-key"},
		Exec:       plugin.ExecutionContext{WorkspaceID: "ws-1", ProjectID: "p-1", WorkflowID: "wf-1", ExecutionID: "ex-1"},
	})
}

func (f fixture) grant(t *testing.T) {
	t.Helper()
	if _, err := f.meter.Grant(context.Background(), "ws-1", decimal.NewFromInt(5)); err != nil {
		t.Fatal(err)
	}
}

func TestCompletedCallChargedOnceByDuration(t *testing.T) {
	f := newFixture(t, `{"id":"call-1","status":"ended","startedAt":"2024-06-01T10:00:00Z",
		"endedAt":"2024-06-01T10:01:30Z","endedReason":"customer-ended-call","summary":"Booked."}`)
	f.grant(t)

	out, err := f.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := out.(CallResult)
	if res.CallID != "call-1" || res.DurationSeconds != 90 || res.Summary != "Booked." {
		t.Errorf("result = %+v", res)
	}
	if len(f.api.created) != 1 {
		t.Fatalf("created %d calls, want 1", len(f.api.created))
	}
	body := f.api.created[0]
	customer, _ := body["customer"].(map[string]any)
	if body["assistantId"] != "asst-1" || body["phoneNumberId"] != "pn-1" || customer["number"] != "+14155550100" || customer["name"] != "Ada" {
		t.Errorf("create body = %v", body)
	}
	if f.api.auth != "Bearer vapi-key" {
		t.Errorf("auth = %q", f.api.auth)
	}

	entries := f.ledger.Entries("ws-1")
	if len(entries) != 2 {
		t.Fatalf("ledger has %d entries, want grant + one charge", len(entries))
	}
	charge := entries[1]
	if !charge.Credits.Equal(decimal.RequireFromString("0.15")) {
		t.Errorf("charged %s, want 0.15", charge.Credits)
	}
	if charge.Details.Usage.DurationSeconds != 90 || charge.Details.ActionID != "vapi_action_make-call" || charge.Ref.ExecutionID != "ex-1" {
		t.Errorf("charge = %+v", charge)
	}
}

func TestFailedCallIsNotCharged(t *testing.T) {
	tests := []struct {
		name  string
		final string
	}{
		{"no answer", `{"id":"call-1","status":"ended","endedReason":"customer-did-not-answer","endedAt":"2024-06-01T10:00:30Z"}`},
		{"busy", `{"id":"call-1","status":"ended","endedReason":"customer-busy"}`},
		{"pipeline error", `{"id":"call-1","status":"ended","startedAt":"2024-06-01T10:00:00Z",
			"endedAt":"2024-06-01T10:00:05Z","endedReason":"pipeline-error-openai-llm-failed"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.final)
			f.grant(t)

			_, err := f.run(t)
			var cf *CallFailedError
			if !errors.As(err, &cf) || cf.CallID != "call-1" {
				t.Fatalf("expected CallFailedError, got %v", err)
			}
			if n := len(f.ledger.Entries("ws-1")); n != 1 {
				t.Errorf("ledger has %d entries, want only the grant", n)
			}
		})
	}
}

func TestCallWithoutCreditsIsNotPlaced(t *testing.T) {
	f := newFixture(t, `{"id":"call-1","status":"ended"}`)
	_, err := f.run(t)
	var ic *credits.InsufficientCreditsError
	if !errors.As(err, &ic) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if len(f.api.created) != 0 {
		t.Error("call placed without credits")
	}
}

func TestConnectedSeconds(t *testing.T) {
	got, err := connectedSeconds(call{ID: "c", StartedAt: "2024-06-01T10:00:00.5Z", EndedAt: "2024-06-01T10:00:10Z", EndedReason: "assistant-ended-call"})
	if err != nil || got != 9.5 {
		t.Errorf("connectedSeconds = %v, %v; want 9.5", got, err)
	}
	if _, err := connectedSeconds(call{ID: "c", StartedAt: "2024-06-01T10:00:10Z", EndedAt: "2024-06-01T10:00:00Z"}); err == nil {
		t.Error("expected error for end before start")
	}
}
