// Package provider talks to LLM vendors for the AI integration. Each
// provider reports token usage so calls can be metered.
package provider

import (
	"context"
	"fmt"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Roles is the set of roles a prompt message may carry, in picker order.
var Roles = []Role{RoleSystem, RoleUser, RoleAssistant}

// Valid reports whether r is a role vendors accept in a prompt.
func (r Role) Valid() bool {
	for _, v := range Roles {
		if r == v {
			return true
		}
	}
	return false
}

type Message struct {
	Role    Role   `json:"role" mapstructure:"role"`
	Content string `json:"content" mapstructure:"content"`
}

// ValidateMessages rejects prompts vendors would refuse: no messages, an
// unknown role, or nothing but system instructions.
func ValidateMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return fmt.Errorf("prompt has no messages")
	}
	hasTurn := false
	for i, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
		if m.Role != RoleSystem {
			hasTurn = true
		}
	}
	if !hasTurn {
		return fmt.Errorf("prompt needs at least one user or assistant message")
	}
	return nil
}

type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

type CompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Provider interface {
	ID() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Models() []ModelInfo
}
