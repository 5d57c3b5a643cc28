// Package catalog assembles the built-in integrations into the frozen
// registry the runtime serves.
package catalog

import (
	"github.com/flowpilot/flowpilot/internal/apps/ai"
	"github.com/flowpilot/flowpilot/internal/apps/appkit"
	"github.com/flowpilot/flowpilot/internal/apps/code"
	"github.com/flowpilot/flowpilot/internal/apps/csvapp"
	"github.com/flowpilot/flowpilot/internal/apps/dropbox"
	"github.com/flowpilot/flowpilot/internal/apps/flowcontrol"
	"github.com/flowpilot/flowpilot/internal/apps/gmail"
	"github.com/flowpilot/flowpilot/internal/apps/mathapp"
	"github.com/flowpilot/flowpilot/internal/apps/salesrabbit"
	"github.com/flowpilot/flowpilot/internal/apps/slack"
	"github.com/flowpilot/flowpilot/internal/apps/vapi"
	"github.com/flowpilot/flowpilot/internal/auth"
	"github.com/flowpilot/flowpilot/internal/credits"
	"github.com/flowpilot/flowpilot/internal/httpclient"
	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/provider"
)

type Deps struct {
	HTTP        *httpclient.Client
	Providers   *provider.Registry
	Meter       *credits.Meter
	Connections auth.ConnectionStore
	// BaseURLs overrides vendor API roots by app id.
	BaseURLs map[string]string
}

func (d Deps) opts(appID string) []appkit.Option {
	if u, ok := d.BaseURLs[appID]; ok {
		return []appkit.Option{appkit.WithBaseURL(u)}
	}
	return nil
}

// Apps returns every built-in app. Metered apps are only included when a
// meter is available, and the AI app also needs a provider registry.
func Apps(d Deps) []*plugin.App {
	apps := []*plugin.App{
		mathapp.New(),
		flowcontrol.New(),
		csvapp.New(),
		code.New(),
		gmail.New(d.HTTP, d.opts(gmail.AppID)...),
		salesrabbit.New(d.HTTP, d.opts(salesrabbit.AppID)...),
		dropbox.New(d.HTTP, d.opts(dropbox.AppID)...),
		slack.New(d.HTTP, d.opts(slack.AppID)...),
	}
	if d.Meter == nil {
		return apps
	}
	apps = append(apps, vapi.New(d.HTTP, d.Meter, d.opts(vapi.AppID)...))
	if d.Providers != nil {
		apps = append(apps, ai.New(ai.Deps{Providers: d.Providers, Meter: d.Meter, Connections: d.Connections}))
	}
	return apps
}

// Default builds the registry of all built-in apps.
func Default(d Deps) (*plugin.Registry, error) {
	return plugin.NewRegistry(Apps(d)...)
}
