// Package salesrabbit integrates with the SalesRabbit field sales API over an
// API key connection. Its trigger polls lead status activity.
package salesrabbit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/flowpilot/flowpilot/internal/apps/appkit"
	"github.com/flowpilot/flowpilot/internal/httpclient"
	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/poll"
	"github.com/flowpilot/flowpilot/internal/schema"
)

const (
	AppID       = "sales-rabbit"
	DefaultBase = "https://api.salesrabbit.com"

	// TimestampField carries the device-side status change time. The API
	// returns it without a zone; it is UTC.
	TimestampField = "currentOnDeviceStatusModified"
)

var connection = plugin.ConnectionSpec{
	ID:          "sales-rabbit_connection_api-key",
	Name:        "API Key",
	Description: "Connect using a SalesRabbit API token.",
	Kind:        plugin.ConnectionAPIKey,
	KeyFields: schema.Schema{
		{ID: "apiKey", Label: "API Key", InputType: schema.InputText, Required: appkit.Blocking("API key is required")},
	},
}

func New(hc *httpclient.Client, opts ...appkit.Option) *plugin.App {
	deps := appkit.NewDeps(hc, DefaultBase, opts...)
	return &plugin.App{
		ID:          AppID,
		Name:        "SalesRabbit",
		Description: "Door-to-door sales lead management.",
		Connections: []plugin.ConnectionSpec{connection},
		Triggers:    []plugin.Trigger{NewLeadStatusUpdated(deps)},
	}
}

// LeadStatusUpdated fires when a rep changes a lead's status on their
// device.
type LeadStatusUpdated struct {
	appkit.Node
	deps      appkit.Deps
	timestamp func(any) (int64, bool)
}

func NewLeadStatusUpdated(deps appkit.Deps) *LeadStatusUpdated {
	return &LeadStatusUpdated{
		Node: appkit.Node{Desc: plugin.Descriptor{
			ID:              "sales-rabbit_trigger_lead-status-updated-on-device",
			Name:            "Lead Status Updated on Device",
			Description:     "Triggers when a lead status is updated on the device of a sales rep.",
			NeedsConnection: true,
		}},
		deps:      deps,
		timestamp: poll.PathTimestamp(TimestampField),
	}
}

func (t *LeadStatusUpdated) Strategy() plugin.Strategy { return plugin.StrategyPoll }

type activitiesResponse struct {
	Data []map[string]any `json:"data"`
}

func (t *LeadStatusUpdated) List(ctx context.Context, args plugin.RunArgs, w plugin.Window) ([]any, error) {
	headers, err := appkit.Bearer(args.Connection)
	if err != nil {
		return nil, err
	}
	headers["If-Status-Modified-Since"] = w.Since.UTC().Format(time.RFC3339)

	req := httpclient.Request{
		Method:      http.MethodGet,
		URL:         t.deps.BaseURL + "/leadStatusActivities",
		Headers:     headers,
		WorkspaceID: args.Exec.WorkspaceID,
	}
	if w.Limit > 0 {
		req.Query = map[string]string{"perPage": strconv.Itoa(w.Limit), "page": "1"}
	}
	var resp activitiesResponse
	req.Result = &resp
	if _, err := t.deps.HTTP.Do(ctx, req); err != nil {
		return nil, fmt.Errorf("listing lead status activities: %w", err)
	}

	items := make([]any, len(resp.Data))
	for i, d := range resp.Data {
		items[i] = d
	}
	return items, nil
}

func (t *LeadStatusUpdated) ExtractTimestamp(item any) (int64, bool) {
	return t.timestamp(item)
}

func (t *LeadStatusUpdated) MockRun(plugin.RunArgs) (any, error) {
	return []any{mockActivity()}, nil
}

func mockActivity() map[string]any {
	return map[string]any{
		"currentLeadCreated":                "2022-10-26T18:00:00+00:00",
		"currentLeadCustomFields":           map[string]any{},
		"currentLeadFirstName":              "",
		"currentLeadIsActive":               false,
		"currentLeadLastName":               "",
		"currentLeadLatitude":               40.4210433,
		"currentLeadLongitude":              -111.8827517,
		"currentLeadModified":               "2024-05-29T20:54:35+00:00",
		"currentLeadOwnerEmail":             "john.doe@email.com",
		"currentLeadOwnerID":                911705181,
		"currentOnDeviceStatusCreated":      "2024-05-29T20:54:35",
		"currentOnDeviceStatusModified":     "2024-05-29T20:55:33",
		"dispositionID":                     74601,
		"dispositionLeadID":                 34570,
		"dispositionLeadStageID":            "1",
		"dispositionLeadStatusAbbreviation": "MOVE",
		"dispositionLeadStatusID":           210,
		"dispositionLeadStatusName":         "New Mover",
		"dispositionTimestamp":              "2024-05-29T20:54:35+00:00",
		"dispositionType":                   "User",
		"dispositionerID":                   "911705181",
		"dispositionerProximityInFeet":      68,
		"dispositionerProximityStatus":      "At location",
	}
}
