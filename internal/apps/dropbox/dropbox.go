// Package dropbox integrates with the Dropbox v2 API over an OAuth2
// connection.
package dropbox

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
	AppID       = "dropbox"
	DefaultBase = "https://api.dropboxapi.com/2"

	FoldersSource = "dropbox_folders"

	searchMaxResults = 100
)

var connection = plugin.ConnectionSpec{
	ID:   "dropbox_connection_oauth",
	Name: "Dropbox",
	Kind: plugin.ConnectionOAuth2,
	OAuth2: &plugin.OAuth2Spec{
		AuthorizeURL:    "https://www.dropbox.com/oauth2/authorize",
		TokenURL:        "https://api.dropboxapi.com/oauth2/token",
		Scopes:          []string{"files.metadata.read", "files.content.read"},
		ScopeDelimiter:  " ",
		ExtraAuthParams: map[string]string{"token_access_type": "offline"},
	},
}

func New(hc *httpclient.Client, opts ...appkit.Option) *plugin.App {
	deps := appkit.NewDeps(hc, DefaultBase, opts...)
	return &plugin.App{
		ID:          AppID,
		Name:        "Dropbox",
		Description: "Cloud file storage.",
		Connections: []plugin.ConnectionSpec{connection},
		Actions: []plugin.Action{
			&Search{Node: searchNode, deps: deps},
			&TemporaryLink{Node: temporaryLinkNode, deps: deps},
		},
		Dynamic: map[string]resolver.DynamicOptionsFunc{
			FoldersSource: func(ctx context.Context, conn *auth.Connection, workspaceID string) ([]schema.Option, error) {
				return listFolders(ctx, deps, conn, workspaceID)
			},
		},
	}
}

// folderField is shared by every action that scopes to a folder.
var folderField = schema.Field{
	ID:          "path",
	Label:       "Folder",
	Description: "Limit the search to this folder. Leave empty to search everywhere.",
	InputType:   schema.InputDynamicSelect,
	Dynamic:     &schema.DynamicSource{ID: FoldersSource},
}

type folderEntry struct {
	Tag         string `json:".tag"`
	Name        string `json:"name"`
	PathLower   string `json:"path_lower"`
	PathDisplay string `json:"path_display"`
}

type listFolderResponse struct {
	Entries []folderEntry `json:"entries"`
	Cursor  string        `json:"cursor"`
	HasMore bool          `json:"has_more"`
}

func listFolders(ctx context.Context, d appkit.Deps, conn *auth.Connection, workspaceID string) ([]schema.Option, error) {
	headers, err := appkit.Bearer(conn)
	if err != nil {
		return nil, err
	}
	var resp listFolderResponse
	err = d.HTTP.PostJSON(ctx, d.BaseURL+"/files/list_folder", headers,
		map[string]any{"path": "", "recursive": true, "include_deleted": false}, &resp)
	if err != nil {
		return nil, fmt.Errorf("listing folders for workspace %s: %w", workspaceID, err)
	}
	var opts []schema.Option
	for {
		for _, e := range resp.Entries {
			if e.Tag == "folder" {
				opts = append(opts, schema.Option{Value: e.PathLower, Label: e.PathDisplay})
			}
		}
		if !resp.HasMore {
			return opts, nil
		}
		next := resp.Cursor
		resp = listFolderResponse{}
		if err := d.HTTP.PostJSON(ctx, d.BaseURL+"/files/list_folder/continue", headers,
			map[string]any{"cursor": next}, &resp); err != nil {
			return nil, fmt.Errorf("listing folders for workspace %s: %w", workspaceID, err)
		}
	}
}

var searchNode = appkit.Node{
	Desc: plugin.Descriptor{
		ID:              "dropbox_action_search",
		Name:            "Search",
		Description:     "Search for files and folders in Dropbox.",
		NeedsConnection: true,
	},
	Fields: schema.Schema{
		{
			ID:          "query",
			Label:       "Search Query",
			Description: "The search query to find files or folders.",
			Placeholder: "Enter search query",
			InputType:   schema.InputText,
			Required:    appkit.Required("Search query is required"),
		},
		folderField,
	},
}

type searchConfig struct {
	Query string `json:"query"`
	Path  string `json:"path"`
}

type Search struct {
	appkit.Node
	deps appkit.Deps
}

func (a *Search) Run(ctx context.Context, args plugin.RunArgs) (any, error) {
	var cfg searchConfig
	if err := resolver.Decode(args.Config, &cfg); err != nil {
		return nil, err
	}
	headers, err := appkit.Bearer(args.Connection)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"query": cfg.Query,
		"options": map[string]any{
			"path":        cfg.Path,
			"max_results": searchMaxResults,
			"mode":        "filename",
		},
	}
	var out map[string]any
	_, err = a.deps.HTTP.Do(ctx, httpclient.Request{
		Method:      http.MethodPost,
		URL:         a.deps.BaseURL + "/files/search_v2",
		Headers:     headers,
		Body:        body,
		Result:      &out,
		WorkspaceID: args.Exec.WorkspaceID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	return out, nil
}

func (a *Search) MockRun(plugin.RunArgs) (any, error) {
	return map[string]any{
		"matches": []any{
			map[string]any{
				"metadata": map[string]any{
					"name":         "Example File.txt",
					"path_lower":   "/example file.txt",
					"path_display": "/Example File.txt",
				},
				"match_type": "filename",
			},
		},
	}, nil
}

var temporaryLinkNode = appkit.Node{
	Desc: plugin.Descriptor{
		ID:              "dropbox_action_get-temporary-link",
		Name:            "Get Temporary Link",
		Description:     "Retrieves a temporary link to a Dropbox file.",
		NeedsConnection: true,
	},
	Fields: schema.Schema{
		{
			ID:          "path",
			Label:       "File Path",
			Description: "The path to the file in your Dropbox.",
			Placeholder: "/path/to/file",
			InputType:   schema.InputText,
			Required:    appkit.Required("File path is required"),
		},
	},
}

type temporaryLinkResponse struct {
	Link     string         `json:"link"`
	Metadata map[string]any `json:"metadata"`
}

type TemporaryLink struct {
	appkit.Node
	deps appkit.Deps
}

func (a *TemporaryLink) Run(ctx context.Context, args plugin.RunArgs) (any, error) {
	var cfg struct {
		Path string `json:"path"`
	}
	if err := resolver.Decode(args.Config, &cfg); err != nil {
		return nil, err
	}
	headers, err := appkit.Bearer(args.Connection)
	if err != nil {
		return nil, err
	}
	var resp temporaryLinkResponse
	if err := a.deps.HTTP.PostJSON(ctx, a.deps.BaseURL+"/files/get_temporary_link", headers,
		map[string]any{"path": cfg.Path}, &resp); err != nil {
		return nil, fmt.Errorf("failed to get temporary link: %w", err)
	}
	if resp.Link == "" {
		return nil, fmt.Errorf("failed to get temporary link: no link in response")
	}
	return map[string]any{"link": resp.Link, "metadata": resp.Metadata}, nil
}

func (a *TemporaryLink) MockRun(plugin.RunArgs) (any, error) {
	return map[string]any{
		"link": "https://www.dropbox.com/s/abc123/temporary-link?dl=0",
		"metadata": map[string]any{
			"name":         "file_name.txt",
			"path_lower":   "/path/to/file_name.txt",
			"path_display": "/path/to/file_name.txt",
			"id":           "id:abc123",
		},
	}, nil
}
