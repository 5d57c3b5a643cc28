// Package mathapp is the arithmetic integration. It needs no connection and
// performs no I/O.
package mathapp

import (
	"context"

	"github.com/flowpilot/flowpilot/internal/apps/appkit"
	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/resolver"
	"github.com/flowpilot/flowpilot/internal/schema"
)

const AppID = "math"

func New() *plugin.App {
	return &plugin.App{
		ID:          AppID,
		Name:        "Math",
		Description: "Basic arithmetic on workflow values.",
		Actions:     []plugin.Action{NewMultiply()},
	}
}

type multiplyConfig struct {
	Number1 float64 `json:"number1"`
	Number2 float64 `json:"number2"`
}

type Multiply struct{ appkit.Node }

func NewMultiply() *Multiply {
	return &Multiply{appkit.Node{
		Desc: plugin.Descriptor{
			ID:          "math_action_multiplication",
			Name:        "Multiplication",
			Description: "Multiplies two numbers.",
		},
		Fields: schema.Schema{
			{ID: "number1", Label: "Number 1", InputType: schema.InputNumber, Required: appkit.Required("Number 1 is required")},
			{ID: "number2", Label: "Number 2", InputType: schema.InputNumber, Required: appkit.Required("Number 2 is required")},
		},
	}}
}

func (a *Multiply) Run(_ context.Context, args plugin.RunArgs) (any, error) {
	var cfg multiplyConfig
	if err := resolver.Decode(args.Config, &cfg); err != nil {
		return nil, err
	}
	return map[string]any{"result": cfg.Number1 * cfg.Number2}, nil
}

func (a *Multiply) MockRun(plugin.RunArgs) (any, error) {
	return map[string]any{"result": float64(42)}, nil
}
