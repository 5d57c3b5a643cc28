// Package flowcontrol holds the built-in workflow entry points that need no
// third-party service.
package flowcontrol

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/flowpilot/flowpilot/internal/apps/appkit"
	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/resolver"
	"github.com/flowpilot/flowpilot/internal/schema"
)

const (
	AppID = "flow-control"

	// InputConfigField is the config-builder field holding the input
	// fields the workflow author asks for.
	InputConfigField = "customInputConfig"
)

var ErrNoInputData = errors.New("no input data provided")

func New() *plugin.App {
	return &plugin.App{
		ID:          AppID,
		Name:        "Flow Control",
		Description: "Start and steer workflow runs.",
		Triggers:    []plugin.Trigger{NewManual()},
	}
}

type Manual struct{ appkit.Node }

func NewManual() *Manual {
	return &Manual{appkit.Node{
		Desc: plugin.Descriptor{
			ID:          "flow-control_trigger_manual",
			Name:        "Manually Run",
			Description: "Manually run this workflow as a user, within another workflow, or when requested by an agent.",
		},
		Fields: schema.Schema{
			{
				ID:        "markdown1",
				InputType: schema.InputMarkdown,
				Markdown:  "Run this workflow as a user, within another workflow, or when requested by an agent.",
			},
			{
				ID:        InputConfigField,
				Label:     "Optional Input Data",
				InputType: schema.InputConfigBuilder,
			},
		},
	}}
}

func (t *Manual) Strategy() plugin.Strategy { return plugin.StrategyManual }

// Run resolves the caller's input data against the author-defined fields
// with the same rules as any node configuration.
func (t *Manual) Run(_ context.Context, args plugin.RunArgs) ([]any, error) {
	fields, err := InputFields(args.Config)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return []any{"No input data requested"}, nil
	}
	if args.InputData == nil {
		return nil, ErrNoInputData
	}
	values, err := resolver.Resolve(fields, args.InputData, resolver.Context{
		WorkspaceID: args.Exec.WorkspaceID,
		NodeID:      t.Desc.ID,
	})
	if err != nil {
		return nil, err
	}
	return []any{map[string]any(values)}, nil
}

func (t *Manual) MockRun(args plugin.RunArgs) (any, error) {
	fields, err := InputFields(args.Config)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return []any{"No input data provided"}, nil
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if f.DefaultValue != nil {
			out[f.ID] = f.DefaultValue
		}
	}
	return []any{out}, nil
}

// InputFields decodes the config-builder value into a flat schema. Nested
// groups are not supported in custom inputs.
func InputFields(cfg resolver.Values) (schema.Schema, error) {
	raw := cfg[InputConfigField]
	if raw == nil {
		return nil, nil
	}
	var fields schema.Schema
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &fields,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, &resolver.TypeCoercionError{FieldID: InputConfigField, Path: InputConfigField, Value: raw, Want: "list of fields"}
	}
	for _, f := range fields {
		if f.IsGroup() {
			return nil, fmt.Errorf("custom input %q: nested groups are not supported", f.ID)
		}
	}
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	return fields, nil
}
