package ai

import (
	"context"

	"github.com/flowpilot/flowpilot/internal/apps/appkit"
	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/provider"
	"github.com/flowpilot/flowpilot/internal/resolver"
	"github.com/flowpilot/flowpilot/internal/schema"
)

type CustomPrompt struct {
	appkit.Node
	deps Deps
}

func NewCustomPrompt(d Deps) *CustomPrompt {
	fields := append(commonFields(), schema.Field{
		ID:          "messages",
		Label:       "Messages",
		Description: "The conversation sent to the model, in order.",
		InputType:   schema.InputNestedGroup,
		Occurrence:  schema.OccurrenceMultiple,
		Required:    appkit.Required("At least one message is required"),
		Fields: []schema.Field{
			{
				ID:        "role",
				Label:     "Role",
				InputType: schema.InputSelect,
				SelectOptions: []schema.Option{
					{Value: string(provider.RoleSystem), Label: "System"},
					{Value: string(provider.RoleUser), Label: "User"},
					{Value: string(provider.RoleAssistant), Label: "Assistant"},
				},
				DefaultValue: string(provider.RoleUser),
				Required:     appkit.Required("Role is required"),
			},
			{
				ID:        "content",
				Label:     "Content",
				InputType: schema.InputText,
				Required:  appkit.Required("Content is required"),
			},
		},
	})
	return &CustomPrompt{
		Node: appkit.Node{
			Desc: plugin.Descriptor{
				ID:          "ai_action_custom-prompt",
				Name:        "Custom Prompt",
				Description: "Sends a custom list of messages to a language model.",
			},
			Fields: fields,
		},
		deps: d,
	}
}

func (a *CustomPrompt) Run(ctx context.Context, args plugin.RunArgs) (any, error) {
	t, err := decodeTarget(args.Config)
	if err != nil {
		return nil, err
	}
	var cfg struct {
		Messages []provider.Message `json:"messages"`
	}
	if err := resolver.Decode(args.Config, &cfg); err != nil {
		return nil, err
	}
	if err := provider.ValidateMessages(cfg.Messages); err != nil {
		return nil, err
	}
	return a.deps.complete(ctx, a.Desc.ID, t, cfg.Messages, args)
}

func (a *CustomPrompt) MockRun(plugin.RunArgs) (any, error) {
	return mockResult(), nil
}

type Summarize struct {
	appkit.Node
	deps Deps
}

func NewSummarize(d Deps) *Summarize {
	fields := append(commonFields(),
		schema.Field{
			ID:          "textToSummarize",
			Label:       "Text to summarize",
			Description: "The text to summarize.",
			Placeholder: "Enter text to summarize",
			InputType:   schema.InputText,
			Required:    appkit.Required("Text to summarize is required"),
		},
		schema.Field{
			ID:          "summaryLength",
			Label:       "Summary length",
			Description: "Select the length of the summary.",
			InputType:   schema.InputSelect,
			SelectOptions: []schema.Option{
				{Value: "a short sentence", Label: "A short sentence"},
				{Value: "a few sentences", Label: "A few sentences"},
				{Value: "a single paragraph", Label: "A single paragraph"},
				{Value: "a few paragraphs", Label: "A few paragraphs"},
			},
			DefaultValue: "a single paragraph",
			Required:     appkit.Required("Summary length is required"),
		},
	)
	return &Summarize{
		Node: appkit.Node{
			Desc: plugin.Descriptor{
				ID:          "ai_action_summarize-text",
				Name:        "Summarize Text",
				Description: "Summarizes text.",
			},
			Fields: fields,
		},
		deps: d,
	}
}

func (a *Summarize) Run(ctx context.Context, args plugin.RunArgs) (any, error) {
	t, err := decodeTarget(args.Config)
	if err != nil {
		return nil, err
	}
	var cfg struct {
		Text   string `json:"textToSummarize"`
		Length string `json:"summaryLength"`
	}
	if err := resolver.Decode(args.Config, &cfg); err != nil {
		return nil, err
	}
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: "You summarize the entered text to " + cfg.Length},
		{Role: provider.RoleUser, Content: cfg.Text},
	}
	return a.deps.complete(ctx, a.Desc.ID, t, messages, args)
}

func (a *Summarize) MockRun(plugin.RunArgs) (any, error) {
	return mockResult(), nil
}
