// Package code runs small user-written Lua scripts as a workflow step.
package code

import (
	"context"
	"fmt"

	"github.com/flowpilot/flowpilot/internal/apps/appkit"
	"github.com/flowpilot/flowpilot/internal/lua"
	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/resolver"
	"github.com/flowpilot/flowpilot/internal/schema"
)

const AppID = "code"

const sampleScript = `function main(inputs)
  return { greeting = "Hello, " .. (inputs.name or "world") }
end`

func New() *plugin.App {
	return &plugin.App{
		ID:          AppID,
		Name:        "Code",
		Description: "Run custom logic between steps.",
		Actions:     []plugin.Action{NewRunLua()},
	}
}

type input struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type runConfig struct {
	Script string  `json:"script"`
	Inputs []input `json:"inputs"`
}

type RunLua struct{ appkit.Node }

func NewRunLua() *RunLua {
	return &RunLua{appkit.Node{
		Desc: plugin.Descriptor{
			ID:          "code_action_run-lua",
			Name:        "Run Lua",
			Description: "Runs a Lua script. The script defines main(inputs) and returns the step result.",
		},
		Fields: schema.Schema{
			{
				ID:           "script",
				Label:        "Script",
				InputType:    schema.InputText,
				DefaultValue: sampleScript,
				Required:     appkit.Blocking("Script is required"),
			},
			{
				ID:         "inputs",
				Label:      "Inputs",
				InputType:  schema.InputNestedGroup,
				Occurrence: schema.OccurrenceMultiple,
				Fields: []schema.Field{
					{ID: "key", Label: "Name", InputType: schema.InputText, Required: appkit.Required("Input name is required")},
					{ID: "value", Label: "Value", InputType: schema.InputText},
				},
			},
		},
	}}
}

func (a *RunLua) Run(ctx context.Context, args plugin.RunArgs) (any, error) {
	var cfg runConfig
	if err := resolver.Decode(args.Config, &cfg); err != nil {
		return nil, err
	}
	inputs := make(map[string]any, len(cfg.Inputs))
	for _, in := range cfg.Inputs {
		inputs[in.Key] = in.Value
	}
	out, err := lua.Run(ctx, cfg.Script, inputs)
	if err != nil {
		return nil, fmt.Errorf("script failed: %w", err)
	}
	return out, nil
}

func (a *RunLua) MockRun(plugin.RunArgs) (any, error) {
	return map[string]any{"greeting": "Hello, world"}, nil
}
