// Package slack integrates with the Slack Web API over an OAuth2 bot
// connection.
package slack

import (
	"context"
	"fmt"
	"net/http"

	"github.com/flowpilot/flowpilot/internal/apps/appkit"
	"github.com/flowpilot/flowpilot/internal/auth"
	"github.com/flowpilot/flowpilot/internal/httpclient"
	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/resolver"
	"github.com/flowpilot/flowpilot/internal/schema"
)

const (
	AppID       = "slack"
	DefaultBase = "https://slack.com/api"

	ChannelsSource = "slack_channels"
)

var connection = plugin.ConnectionSpec{
	ID:   "slack_connection_oauth2",
	Name: "Slack",
	Kind: plugin.ConnectionOAuth2,
	OAuth2: &plugin.OAuth2Spec{
		AuthorizeURL:   "https://slack.com/oauth/v2/authorize",
		TokenURL:       "https://slack.com/api/oauth.v2.access",
		Scopes:         []string{"channels:read", "groups:read", "chat:write"},
		ScopeDelimiter: ",",
	},
}

func New(hc *httpclient.Client, opts ...appkit.Option) *plugin.App {
	deps := appkit.NewDeps(hc, DefaultBase, opts...)
	return &plugin.App{
		ID:          AppID,
		Name:        "Slack",
		Description: "Team messaging.",
		Connections: []plugin.ConnectionSpec{connection},
		Actions:     []plugin.Action{&SendMessage{Node: sendMessageNode, deps: deps}},
		Dynamic: map[string]resolver.DynamicOptionsFunc{
			ChannelsSource: func(ctx context.Context, conn *auth.Connection, workspaceID string) ([]schema.Option, error) {
				return listChannels(ctx, deps, conn, workspaceID)
			},
		},
	}
}

// apiError is the envelope every Web API method returns. HTTP status is 200
// even when ok is false.
type apiError struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type conversationsResponse struct {
	apiError
	Channels []channel `json:"channels"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

func listChannels(ctx context.Context, d appkit.Deps, conn *auth.Connection, workspaceID string) ([]schema.Option, error) {
	headers, err := appkit.Bearer(conn)
	if err != nil {
		return nil, err
	}
	var opts []schema.Option
	cursor := ""
	for {
		query := map[string]string{
			"types":            "public_channel,private_channel",
			"exclude_archived": "true",
			"limit":            "1000",
		}
		if cursor != "" {
			query["cursor"] = cursor
		}
		var resp conversationsResponse
		_, err := d.HTTP.Do(ctx, httpclient.Request{
			Method:      http.MethodGet,
			URL:         d.BaseURL + "/conversations.list",
			Headers:     headers,
			Query:       query,
			Result:      &resp,
			WorkspaceID: workspaceID,
		})
		if err != nil {
			return nil, fmt.Errorf("listing channels: %w", err)
		}
		if !resp.OK {
			return nil, fmt.Errorf("listing channels: %s", resp.Error)
		}
		for _, c := range resp.Channels {
			opts = append(opts, schema.Option{Value: c.ID, Label: "#" + c.Name})
		}
		cursor = resp.Metadata.NextCursor
		if cursor == "" {
			return opts, nil
		}
	}
}

var sendMessageNode = appkit.Node{
	Desc: plugin.Descriptor{
		ID:              "slack_action_send-message-to-channel",
		Name:            "Send Message to Channel",
		Description:     "Sends a message to a Slack channel.",
		NeedsConnection: true,
	},
	Fields: schema.Schema{
		{
			ID:        "markdown",
			InputType: schema.InputMarkdown,
			Markdown:  "Private channels require the app to be invited before it can post.",
		},
		{
			ID:          "channelId",
			Label:       "Channel",
			Description: "The channel to send the message to.",
			InputType:   schema.InputDynamicSelect,
			Dynamic:     &schema.DynamicSource{ID: ChannelsSource},
			Required:    appkit.Required("Channel is required"),
		},
		{
			ID:          "message",
			Label:       "Message",
			Description: "The message to send.",
			InputType:   schema.InputText,
			Required:    appkit.Required("Message is required"),
		},
	},
}

type sendMessageConfig struct {
	ChannelID string `json:"channelId"`
	Message   string `json:"message"`
}

type postMessageResponse struct {
	apiError
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

type SendMessage struct {
	appkit.Node
	deps appkit.Deps
}

func (a *SendMessage) Run(ctx context.Context, args plugin.RunArgs) (any, error) {
	var cfg sendMessageConfig
	if err := resolver.Decode(args.Config, &cfg); err != nil {
		return nil, err
	}
	headers, err := appkit.Bearer(args.Connection)
	if err != nil {
		return nil, err
	}
	var resp postMessageResponse
	_, err = a.deps.HTTP.Do(ctx, httpclient.Request{
		Method:      http.MethodPost,
		URL:         a.deps.BaseURL + "/chat.postMessage",
		Headers:     headers,
		Form:        map[string]string{"channel": cfg.ChannelID, "text": cfg.Message},
		Result:      &resp,
		WorkspaceID: args.Exec.WorkspaceID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("failed to send message: %s", resp.Error)
	}
	return map[string]any{"ok": true, "channel": resp.Channel, "ts": resp.TS}, nil
}

func (a *SendMessage) MockRun(plugin.RunArgs) (any, error) {
	return map[string]any{"ok": true, "channel": "C1234567890", "ts": "1503435956.000247"}, nil
}
