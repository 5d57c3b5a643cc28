// Package gmail integrates with the Gmail REST API over an OAuth2
// connection.
package gmail

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/flowpilot/flowpilot/internal/apps/appkit"
	"github.com/flowpilot/flowpilot/internal/httpclient"
	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/resolver"
	"github.com/flowpilot/flowpilot/internal/schema"
)

const (
	AppID       = "gmail"
	DefaultBase = "https://gmail.googleapis.com/gmail/v1"
)

var connection = plugin.ConnectionSpec{
	ID:   "gmail_connection_oauth",
	Name: "Gmail",
	Kind: plugin.ConnectionOAuth2,
	OAuth2: &plugin.OAuth2Spec{
		AuthorizeURL:    "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:        "https://oauth2.googleapis.com/token",
		Scopes:          []string{"https://mail.google.com/"},
		ScopeDelimiter:  " ",
		ExtraAuthParams: map[string]string{"access_type": "offline", "prompt": "consent"},
	},
}

func New(hc *httpclient.Client, opts ...appkit.Option) *plugin.App {
	deps := appkit.NewDeps(hc, DefaultBase, opts...)
	return &plugin.App{
		ID:          AppID,
		Name:        "Gmail",
		Description: "Read, send and manage Gmail messages and drafts.",
		Connections: []plugin.ConnectionSpec{connection},
		Actions:     []plugin.Action{&DeleteDraft{deps: deps, Node: deleteDraftNode}},
	}
}

var deleteDraftNode = appkit.Node{
	Desc: plugin.Descriptor{
		ID:              "gmail_action_delete-draft",
		Name:            "Delete Draft",
		Description:     "Permanently deletes a draft.",
		NeedsConnection: true,
	},
	Fields: schema.Schema{
		{
			ID:          "draftId",
			Label:       "Draft ID",
			Description: "The ID of the draft to delete.",
			InputType:   schema.InputText,
			Required:    appkit.Required("Draft ID is required"),
		},
	},
}

type deleteDraftConfig struct {
	DraftID string `json:"draftId"`
}

type DeleteDraft struct {
	appkit.Node
	deps appkit.Deps
}

func (a *DeleteDraft) Run(ctx context.Context, args plugin.RunArgs) (any, error) {
	var cfg deleteDraftConfig
	if err := resolver.Decode(args.Config, &cfg); err != nil {
		return nil, err
	}
	headers, err := appkit.Bearer(args.Connection)
	if err != nil {
		return nil, err
	}
	_, err = a.deps.HTTP.Do(ctx, httpclient.Request{
		Method:      http.MethodDelete,
		URL:         fmt.Sprintf("%s/users/me/drafts/%s", a.deps.BaseURL, url.PathEscape(cfg.DraftID)),
		Headers:     headers,
		WorkspaceID: args.Exec.WorkspaceID,
	})
	if err != nil {
		return nil, fmt.Errorf("deleting draft %s: %w", cfg.DraftID, err)
	}
	return map[string]any{"success": true, "message": "Draft deleted successfully."}, nil
}

func (a *DeleteDraft) MockRun(plugin.RunArgs) (any, error) {
	return map[string]any{"success": true, "message": "Mock draft deletion successful."}, nil
}
