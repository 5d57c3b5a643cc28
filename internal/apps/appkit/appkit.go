// Package appkit holds the small pieces every integration repeats: a node
// base carrying the descriptor and schema, requirement helpers, and the
// option set used to point outbound calls at a test server.
package appkit

import (
	"strings"

	"github.com/flowpilot/flowpilot/internal/auth"
	"github.com/flowpilot/flowpilot/internal/httpclient"
	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/schema"
)

// Node implements the descriptive half of plugin.Node. Integrations embed it
// and add Run and MockRun.
type Node struct {
	Desc   plugin.Descriptor
	Fields schema.Schema
}

func (n Node) Describe() plugin.Descriptor { return n.Desc }

func (n Node) Schema() schema.Schema { return n.Fields }

// Required marks a field whose absence is reported as a warning.
func Required(msg string) *schema.Requirement {
	return &schema.Requirement{MissingMessage: msg, MissingStatus: schema.SeverityWarning}
}

// Blocking marks a field whose absence stops the workflow.
func Blocking(msg string) *schema.Requirement {
	return &schema.Requirement{MissingMessage: msg, MissingStatus: schema.SeverityBlocking}
}

// Deps is what an HTTP-backed integration needs at construction time.
type Deps struct {
	HTTP    *httpclient.Client
	BaseURL string
}

type Option func(*Deps)

// WithBaseURL replaces the vendor API root, used by tests.
func WithBaseURL(u string) Option {
	return func(d *Deps) { d.BaseURL = strings.TrimRight(u, "/") }
}

// NewDeps applies opts over the given default API root.
func NewDeps(hc *httpclient.Client, defaultBase string, opts ...Option) Deps {
	if hc == nil {
		hc = httpclient.New(httpclient.Config{})
	}
	d := Deps{HTTP: hc, BaseURL: defaultBase}
	for _, o := range opts {
		o(&d)
	}
	return d
}

// Bearer returns the Authorization header for conn, or an *auth.Error when
// the connection carries no credential.
func Bearer(conn *auth.Connection) (map[string]string, error) {
	if conn == nil {
		return nil, &auth.Error{Reason: "connection required"}
	}
	if conn.Credential() == "" {
		return nil, &auth.Error{ConnectionID: conn.ID, Reason: "no credential"}
	}
	return map[string]string{"Authorization": conn.Bearer()}, nil
}
