// Package vapi places outbound phone calls through the Vapi voice agent API.
// Calls are metered by their connected duration against workspace credits.
package vapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/flowpilot/flowpilot/internal/apps/appkit"
	"github.com/flowpilot/flowpilot/internal/credits"
	"github.com/flowpilot/flowpilot/internal/httpclient"
	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/resolver"
	"github.com/flowpilot/flowpilot/internal/schema"
)

const (
	AppID       = "vapi"
	DefaultBase = "https://api.vapi.ai"

	// MeterProvider and MeterModel name the rate-table entry calls are
	// priced with. Only its per_minute rate is used.
	MeterProvider = "vapi"
	MeterModel    = "call"

	statusEnded = "ended"
)

var connection = plugin.ConnectionSpec{
	ID:          "vapi_connection_api-key",
	Name:        "API Key",
	Description: "Connect using a Vapi private API key.",
	Kind:        plugin.ConnectionAPIKey,
	KeyFields: schema.Schema{
		{ID: "apiKey", Label: "API Key", InputType: schema.InputText, Required: appkit.Blocking("API key is required")},
	},
}

// Deps wires the phone app to the Vapi API and the credit meter.
type Deps struct {
	appkit.Deps
	Meter *credits.Meter
	// PollInterval is the wait between call status reads.
	PollInterval time.Duration
}

func New(hc *httpclient.Client, meter *credits.Meter, opts ...appkit.Option) *plugin.App {
	d := Deps{Deps: appkit.NewDeps(hc, DefaultBase, opts...), Meter: meter, PollInterval: 5 * time.Second}
	return &plugin.App{
		ID:          AppID,
		Name:        "Vapi",
		Description: "Voice AI agents that place phone calls.",
		Connections: []plugin.ConnectionSpec{connection},
		Actions:     []plugin.Action{NewMakeCall(d)},
	}
}

// MakeCall dials a customer with a Vapi assistant and waits for the call to
// end. The connected duration is charged once the call completes.
type MakeCall struct {
	appkit.Node
	deps Deps
}

func NewMakeCall(d Deps) *MakeCall {
	return &MakeCall{
		Node: appkit.Node{
			Desc: plugin.Descriptor{
				ID:              "vapi_action_make-call",
				Name:            "Make Phone Call",
				Description:     "Calls a phone number with a voice assistant and returns the outcome.",
				NeedsConnection: true,
			},
			Fields: schema.Schema{
				{ID: "assistantId", Label: "Assistant ID", InputType: schema.InputText, Required: appkit.Required("Assistant is required")},
				{ID: "phoneNumberId", Label: "Phone Number ID", Description: "The Vapi number the call is placed from.", InputType: schema.InputText, Required: appkit.Required("Phone number is required")},
				{ID: "customerNumber", Label: "Customer Number", Description: "E.164 number to call.", Placeholder: "+14155550100", InputType: schema.InputText, Required: appkit.Required("Customer number is required")},
				{ID: "customerName", Label: "Customer Name", InputType: schema.InputText},
			},
		},
		deps: d,
	}
}

type callConfig struct {
	AssistantID    string `json:"assistantId"`
	PhoneNumberID  string `json:"phoneNumberId"`
	CustomerNumber string `json:"customerNumber"`
	CustomerName   string `json:"customerName"`
}

type call struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	StartedAt   string `json:"startedAt"`
	EndedAt     string `json:"endedAt"`
	EndedReason string `json:"endedReason"`
	Summary     string `json:"summary"`
	Transcript  string `json:"transcript"`
}

// CallResult is what MakeCall returns.
type CallResult struct {
	CallID          string  `json:"callId"`
	EndedReason     string  `json:"endedReason"`
	DurationSeconds float64 `json:"durationSeconds"`
	Summary         string  `json:"summary,omitempty"`
	Transcript      string  `json:"transcript,omitempty"`
}

// CallFailedError means the call ended without connecting or with an error
// reason. Failed calls are not charged.
type CallFailedError struct {
	CallID string
	Reason string
}

func (e *CallFailedError) Error() string {
	return fmt.Sprintf("call %s failed: %s", e.CallID, e.Reason)
}

func (a *MakeCall) Run(ctx context.Context, args plugin.RunArgs) (any, error) {
	var cfg callConfig
	if err := resolver.Decode(args.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.AssistantID == "" || cfg.PhoneNumberID == "" || cfg.CustomerNumber == "" {
		return nil, fmt.Errorf("assistantId, phoneNumberId and customerNumber are required")
	}
	headers, err := appkit.Bearer(args.Connection)
	if err != nil {
		return nil, err
	}

	exec := args.Exec
	inv := credits.Invocation{
		WorkspaceID: exec.WorkspaceID,
		ProjectID:   exec.ProjectID,
		ActionID:    a.Desc.ID,
		Provider:    MeterProvider,
		Model:       MeterModel,
		Ref: credits.Reference{
			AgentID:     exec.AgentID,
			ExecutionID: exec.ExecutionID,
			WorkflowID:  exec.WorkflowID,
		},
	}
	var res CallResult
	_, _, err = a.deps.Meter.Metered(ctx, inv, func(ctx context.Context) (credits.Usage, error) {
		c, err := a.place(ctx, cfg, headers, exec.WorkspaceID)
		if err != nil {
			return credits.Usage{}, err
		}
		ended, err := a.await(ctx, c.ID, headers, exec.WorkspaceID)
		if err != nil {
			return credits.Usage{}, err
		}
		secs, err := connectedSeconds(ended)
		if err != nil {
			return credits.Usage{}, err
		}
		res = CallResult{
			CallID:          ended.ID,
			EndedReason:     ended.EndedReason,
			DurationSeconds: secs,
			Summary:         ended.Summary,
			Transcript:      ended.Transcript,
		}
		return credits.Usage{DurationSeconds: secs}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (a *MakeCall) place(ctx context.Context, cfg callConfig, headers map[string]string, workspaceID string) (call, error) {
	customer := map[string]string{"number": cfg.CustomerNumber}
	if cfg.CustomerName != "" {
		customer["name"] = cfg.CustomerName
	}
	var c call
	_, err := a.deps.HTTP.Do(ctx, httpclient.Request{
		Method:  http.MethodPost,
		URL:     a.deps.BaseURL + "/call",
		Headers: headers,
		Body: map[string]any{
			"assistantId":   cfg.AssistantID,
			"phoneNumberId": cfg.PhoneNumberID,
			"customer":      customer,
		},
		Result:      &c,
		WorkspaceID: workspaceID,
	})
	if err != nil {
		return call{}, fmt.Errorf("creating call: %w", err)
	}
	if c.ID == "" {
		return call{}, fmt.Errorf("creating call: response has no id")
	}
	return c, nil
}

// await reads the call until it has ended or ctx is done.
func (a *MakeCall) await(ctx context.Context, id string, headers map[string]string, workspaceID string) (call, error) {
	t := time.NewTicker(a.deps.PollInterval)
	defer t.Stop()
	for {
		var c call
		_, err := a.deps.HTTP.Do(ctx, httpclient.Request{
			Method:      http.MethodGet,
			URL:         a.deps.BaseURL + "/call/" + id,
			Headers:     headers,
			Result:      &c,
			WorkspaceID: workspaceID,
		})
		if err != nil {
			return call{}, fmt.Errorf("reading call %s: %w", id, err)
		}
		if c.Status == statusEnded {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return call{}, fmt.Errorf("waiting for call %s: %w", id, ctx.Err())
		case <-t.C:
		}
	}
}

// connectedSeconds is the time between pickup and hangup. A call that never
// started, or ended for an error reason, is a failure.
func connectedSeconds(c call) (float64, error) {
	if failedReason(c.EndedReason) || c.StartedAt == "" || c.EndedAt == "" {
		return 0, &CallFailedError{CallID: c.ID, Reason: orDefault(c.EndedReason, "not connected")}
	}
	start, err := time.Parse(time.RFC3339Nano, c.StartedAt)
	if err != nil {
		return 0, fmt.Errorf("call %s startedAt: %w", c.ID, err)
	}
	end, err := time.Parse(time.RFC3339Nano, c.EndedAt)
	if err != nil {
		return 0, fmt.Errorf("call %s endedAt: %w", c.ID, err)
	}
	if end.Before(start) {
		return 0, fmt.Errorf("call %s ended before it started", c.ID)
	}
	return end.Sub(start).Seconds(), nil
}

func failedReason(reason string) bool {
	switch reason {
	case "customer-did-not-answer", "customer-busy", "customer-did-not-give-microphone-permission":
		return true
	}
	return strings.Contains(reason, "error") || strings.Contains(reason, "failed")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (a *MakeCall) MockRun(plugin.RunArgs) (any, error) {
	return CallResult{
		CallID:          "mock-call",
		EndedReason:     "customer-ended-call",
		DurationSeconds: 90,
		Summary:         "The customer confirmed the appointment.",
	}, nil
}
