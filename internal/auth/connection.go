package auth

import (
	"fmt"

	"github.com/flowpilot/flowpilot/internal/flowerr"
)

type Type string

const (
	TypeAPIKey Type = "api_key"
	TypeOAuth2 Type = "oauth2"
)

// Connection is the stored credential material for one (workspace, app)
// pair. The runtime only reads it; creation and token refresh happen in the
// OAuth/API-key flows outside this module.
type Connection struct {
	ID           string            `yaml:"id" json:"id"`
	WorkspaceID  string            `yaml:"workspace_id" json:"workspace_id"`
	AppID        string            `yaml:"app_id" json:"app_id"`
	Type         Type              `yaml:"type" json:"type"`
	AccessToken  string            `yaml:"access_token,omitempty" json:"-"`
	RefreshToken string            `yaml:"refresh_token,omitempty" json:"-"`
	APIKey       string            `yaml:"api_key,omitempty" json:"-"`
	Metadata     map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

const maskSuffix = "***"

// MaskedKey returns the credential with most characters replaced by ***.
// Shows at most the first 6 characters for identification.
func (c *Connection) MaskedKey() string {
	secret := c.Credential()
	if secret == "" {
		return ""
	}
	visible := 6
	if len(secret) <= visible {
		return maskSuffix
	}
	return secret[:visible] + maskSuffix
}

// Credential returns the active credential (API key or OAuth access token).
func (c *Connection) Credential() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return c.AccessToken
}

// Bearer returns the Authorization header value for the connection.
func (c *Connection) Bearer() string {
	return "Bearer " + c.Credential()
}

// Validate reports a ConnectionError when the connection carries no usable
// credential for its type.
func (c *Connection) Validate() error {
	switch c.Type {
	case TypeAPIKey:
		if c.APIKey == "" {
			return &Error{ConnectionID: c.ID, Reason: "api key is empty"}
		}
	case TypeOAuth2:
		if c.AccessToken == "" {
			return &Error{ConnectionID: c.ID, Reason: "access token is empty"}
		}
	default:
		return &Error{ConnectionID: c.ID, Reason: fmt.Sprintf("unknown connection type %q", c.Type)}
	}
	return nil
}

// Error reports invalid or missing credentials. It is fatal for the single
// invocation and not retried by the runtime.
type Error struct {
	ConnectionID string
	Reason       string
	Err          error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("connection %q: %s", e.ConnectionID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Kind() flowerr.Kind { return flowerr.KindConnection }
