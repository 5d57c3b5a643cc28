// Package plugin defines the fixed capability contracts every integration
// implements: connections yield credentials, actions do something, triggers
// start a run. Integrations are registered values looked up by id; they do
// not share mutable state.
package plugin

import (
	"context"
	"time"

	"github.com/flowpilot/flowpilot/internal/auth"
	"github.com/flowpilot/flowpilot/internal/resolver"
	"github.com/flowpilot/flowpilot/internal/schema"
)

type Descriptor struct {
	ID              string `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	Description     string `json:"description" yaml:"description"`
	NeedsConnection bool   `json:"needsConnection" yaml:"needs_connection"`
}

// ExecutionContext carries the causal references of one invocation. They
// tag ledger entries and outbound call logs.
type ExecutionContext struct {
	WorkspaceID   string `json:"workspaceId"`
	ProjectID     string `json:"projectId,omitempty"`
	WorkflowID    string `json:"workflowId,omitempty"`
	ExecutionID   string `json:"executionId,omitempty"`
	AgentID       string `json:"agentId,omitempty"`
	TriggerNodeID string `json:"triggerNodeId,omitempty"`
}

type RunArgs struct {
	Config     resolver.Values
	Connection *auth.Connection
	Exec       ExecutionContext
	// InputData is the payload handed to a manual trigger by the user, a
	// parent workflow or an agent.
	InputData map[string]any
}

// Node is the part shared by actions and triggers.
type Node interface {
	Describe() Descriptor
	Schema() schema.Schema
	// MockRun returns a deterministic stand-in result for design-time
	// preview. It must not perform network I/O or touch any store.
	MockRun(args RunArgs) (any, error)
}

type Action interface {
	Node
	Run(ctx context.Context, args RunArgs) (any, error)
}

type Strategy string

const (
	StrategyManual Strategy = "manual"
	StrategyPoll   Strategy = "poll"
)

type Trigger interface {
	Node
	Strategy() Strategy
}

// ManualTrigger is invoked synchronously by the orchestrator.
type ManualTrigger interface {
	Trigger
	Run(ctx context.Context, args RunArgs) ([]any, error)
}

// Window bounds one provider list call of a polling trigger.
type Window struct {
	Since   time.Time
	Limit   int // 0 means the provider default
	Testing bool
}

// PollTrigger turns a stateless list/search API into events. Deduplication
// is done by the poll engine using ExtractTimestamp.
type PollTrigger interface {
	Trigger
	List(ctx context.Context, args RunArgs, w Window) ([]any, error)
	// ExtractTimestamp returns the event time of an item in epoch
	// milliseconds, or false when the item carries no usable time.
	ExtractTimestamp(item any) (int64, bool)
}

type ConnectionKind string

const (
	ConnectionOAuth2 ConnectionKind = "oauth2"
	ConnectionAPIKey ConnectionKind = "api_key"
)

// ConnectionSpec describes how an app authenticates. It never runs; it only
// tells the credential flows what to collect.
type ConnectionSpec struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Kind        ConnectionKind `json:"kind" yaml:"kind"`
	OAuth2      *OAuth2Spec    `json:"oauth2,omitempty" yaml:"oauth2,omitempty"`
	KeyFields   schema.Schema  `json:"keyFields,omitempty" yaml:"key_fields,omitempty"`
}

type OAuth2Spec struct {
	AuthorizeURL    string            `json:"authorizeUrl" yaml:"authorize_url"`
	TokenURL        string            `json:"tokenUrl" yaml:"token_url"`
	Scopes          []string          `json:"scopes" yaml:"scopes"`
	ScopeDelimiter  string            `json:"scopeDelimiter" yaml:"scope_delimiter"`
	ExtraAuthParams map[string]string `json:"extraAuthParams,omitempty" yaml:"extra_auth_params,omitempty"`
}

// App is one integration bundle.
type App struct {
	ID          string
	Name        string
	Description string
	Connections []ConnectionSpec
	Actions     []Action
	Triggers    []Trigger
	// Dynamic maps schema.DynamicSource ids to their resolution functions.
	Dynamic map[string]resolver.DynamicOptionsFunc
}
