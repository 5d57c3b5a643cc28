// Package ai exposes LLM prompting as workflow actions. Calls made with the
// platform's provider keys are metered against the workspace's credits;
// calls made through a workspace's own LLM connection are not.
package ai

import (
	"context"
	"fmt"
	"sort"

	"github.com/flowpilot/flowpilot/internal/apps/appkit"
	"github.com/flowpilot/flowpilot/internal/auth"
	"github.com/flowpilot/flowpilot/internal/credits"
	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/provider"
	"github.com/flowpilot/flowpilot/internal/resolver"
	"github.com/flowpilot/flowpilot/internal/schema"
)

const (
	AppID = "ai"

	// ConnectionField selects a workspace-owned LLM connection. When set,
	// the call uses that key and is exempt from metering.
	ConnectionField = "__internal__llmConnectionId"

	ProvidersSource   = "ai_providers"
	ModelsSource      = "ai_models"
	ConnectionsSource = "ai_llm_connections"

	// MetadataProvider names the provider a workspace LLM connection is for.
	MetadataProvider = "provider"
)

// Deps wires the AI app to the provider endpoints and the credit meter.
// Connections is used to load workspace LLM connections; when it also
// implements auth.ConnectionLister the editor can list them.
type Deps struct {
	Providers   *provider.Registry
	Meter       *credits.Meter
	Connections auth.ConnectionStore
}

func New(d Deps) *plugin.App {
	return &plugin.App{
		ID:          AppID,
		Name:        "AI",
		Description: "Prompt large language models.",
		Actions: []plugin.Action{
			NewCustomPrompt(d),
			NewSummarize(d),
		},
		Dynamic: map[string]resolver.DynamicOptionsFunc{
			ProvidersSource:   d.providerOptions,
			ModelsSource:      d.modelOptions,
			ConnectionsSource: d.connectionOptions,
		},
	}
}

// commonFields come first in every AI action.
func commonFields() schema.Schema {
	return schema.Schema{
		{
			ID:        "provider",
			Label:     "AI Provider",
			InputType: schema.InputDynamicSelect,
			Dynamic:   &schema.DynamicSource{ID: ProvidersSource},
			Required:  appkit.Blocking("AI provider is required"),
		},
		{
			ID:        "model",
			Label:     "Model",
			InputType: schema.InputDynamicSelect,
			Dynamic:   &schema.DynamicSource{ID: ModelsSource},
			Required:  appkit.Blocking("Model is required"),
		},
		{
			ID:          ConnectionField,
			Label:       "LLM Connection",
			Description: "Use your own provider key instead of workspace credits.",
			InputType:   schema.InputDynamicSelect,
			Dynamic:     &schema.DynamicSource{ID: ConnectionsSource},
		},
	}
}

// providerOptions lists providers that are both priced and configured.
func (d Deps) providerOptions(_ context.Context, _ *auth.Connection, _ string) ([]schema.Option, error) {
	rates := d.Meter.Rates()
	var out []schema.Option
	for _, p := range d.Providers.List() {
		if _, ok := rates[p.ID()]; ok {
			out = append(out, schema.Option{Value: p.ID(), Label: p.ID()})
		}
	}
	return out, nil
}

func (d Deps) modelOptions(_ context.Context, _ *auth.Connection, _ string) ([]schema.Option, error) {
	var out []schema.Option
	for _, pm := range d.Meter.Rates().Models() {
		ref, err := provider.ParseModelRef(pm)
		if err != nil || !d.Providers.Serves(ref) {
			continue
		}
		out = append(out, schema.Option{Value: ref.Model(), Label: ref.Label()})
	}
	return out, nil
}

func (d Deps) connectionOptions(ctx context.Context, _ *auth.Connection, workspaceID string) ([]schema.Option, error) {
	lister, ok := d.Connections.(auth.ConnectionLister)
	if !ok {
		return []schema.Option{}, nil
	}
	conns, err := lister.ListConnections(ctx, workspaceID, AppID)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Option, 0, len(conns))
	for _, c := range conns {
		label := c.Metadata["name"]
		if label == "" {
			label = c.Metadata[MetadataProvider] + " " + c.MaskedKey()
		}
		out = append(out, schema.Option{Value: c.ID, Label: label})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// client picks the provider for one call. With a connection id the
// workspace's own key is used and the call is not metered.
func (d Deps) client(ctx context.Context, providerID, connectionID, workspaceID string) (provider.Provider, bool, error) {
	if connectionID == "" {
		p, err := d.Providers.Get(providerID)
		return p, false, err
	}
	if d.Connections == nil {
		return nil, false, &auth.Error{ConnectionID: connectionID, Reason: "no connection store"}
	}
	conn, err := d.Connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, false, err
	}
	if conn.WorkspaceID != workspaceID {
		return nil, false, &auth.Error{ConnectionID: connectionID, Reason: "belongs to another workspace"}
	}
	if conn.Credential() == "" {
		return nil, false, &auth.Error{ConnectionID: connectionID, Reason: "no credential"}
	}
	p, err := d.Providers.WithKey(providerID, conn.Credential())
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// Result is what every AI action returns.
type Result struct {
	Response string      `json:"response"`
	Usage    ResultUsage `json:"usage"`
}

type ResultUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

func mockResult() Result {
	return Result{
		Response: "This is a mock response",
		Usage:    ResultUsage{InputTokens: 100, OutputTokens: 100, TotalTokens: 200},
	}
}

type target struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	ConnectionID string `json:"__internal__llmConnectionId"`
}

// complete runs one metered completion for actionID.
func (d Deps) complete(ctx context.Context, actionID string, t target, messages []provider.Message, args plugin.RunArgs) (Result, error) {
	exec := args.Exec
	p, byo, err := d.client(ctx, t.Provider, t.ConnectionID, exec.WorkspaceID)
	if err != nil {
		return Result{}, err
	}

	var resp *provider.CompletionResponse
	inv := credits.Invocation{
		WorkspaceID: exec.WorkspaceID,
		ProjectID:   exec.ProjectID,
		ActionID:    actionID,
		Provider:    t.Provider,
		Model:       t.Model,
		Ref: credits.Reference{
			AgentID:     exec.AgentID,
			ExecutionID: exec.ExecutionID,
			WorkflowID:  exec.WorkflowID,
		},
		UsingWorkspaceConnection: byo,
	}
	_, _, err = d.Meter.Metered(ctx, inv, func(ctx context.Context) (credits.Usage, error) {
		r, err := p.Complete(ctx, &provider.CompletionRequest{Model: t.Model, Messages: messages})
		if err != nil {
			return credits.Usage{}, err
		}
		resp = r
		return credits.Usage{
			InputTokens:  int64(r.Usage.InputTokens),
			OutputTokens: int64(r.Usage.OutputTokens),
		}, nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Response: resp.Content,
		Usage: ResultUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.Total(),
		},
	}, nil
}

func decodeTarget(cfg resolver.Values) (target, error) {
	var t target
	if err := resolver.Decode(cfg, &t); err != nil {
		return t, err
	}
	if t.Provider == "" || t.Model == "" {
		return t, fmt.Errorf("provider and model are required")
	}
	return t, nil
}
