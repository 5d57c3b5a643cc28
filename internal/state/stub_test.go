package state

import (
	"context"

	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/schema"
)

type stubTrigger struct {
	ts []int64
}

func (s *stubTrigger) Describe() plugin.Descriptor         { return plugin.Descriptor{ID: "stub"} }
func (s *stubTrigger) Schema() schema.Schema               { return nil }
func (s *stubTrigger) MockRun(plugin.RunArgs) (any, error) { return nil, nil }
func (s *stubTrigger) Strategy() plugin.Strategy           { return plugin.StrategyPoll }

func (s *stubTrigger) List(context.Context, plugin.RunArgs, plugin.Window) ([]any, error) {
	out := make([]any, len(s.ts))
	for i, t := range s.ts {
		out[i] = t
	}
	return out, nil
}

func (s *stubTrigger) ExtractTimestamp(v any) (int64, bool) {
	t, ok := v.(int64)
	return t, ok
}

func pluginArgs() plugin.RunArgs {
	return plugin.RunArgs{Exec: plugin.ExecutionContext{WorkspaceID: "ws1"}}
}
