// Package runtime is the surface the workflow orchestrator calls: resolve a
// node's configuration, list dynamic options, invoke actions, poll and run
// triggers, and preview nodes without side effects.
package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowpilot/flowpilot/internal/actor"
	"github.com/flowpilot/flowpilot/internal/auth"
	"github.com/flowpilot/flowpilot/internal/flowerr"
	"github.com/flowpilot/flowpilot/internal/metrics"
	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/poll"
	"github.com/flowpilot/flowpilot/internal/resolver"
	"github.com/flowpilot/flowpilot/internal/schema"
	"github.com/flowpilot/flowpilot/internal/state"
)

type Runtime struct {
	registry    *plugin.Registry
	engine      *poll.Engine
	connections auth.ConnectionStore
	cache       resolver.OptionsCache
	lister      *resolver.CachedLister
	sessions    *state.SessionStore
	timeout     time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

type Option func(*Runtime)

// WithTimeout bounds every action and trigger run.
func WithTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithOptionsCache replaces the in-process dynamic options cache, e.g. with
// the Redis-backed one when several runtime processes serve one editor.
func WithOptionsCache(c resolver.OptionsCache) Option {
	return func(r *Runtime) { r.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

func New(reg *plugin.Registry, engine *poll.Engine, connections auth.ConnectionStore, opts ...Option) *Runtime {
	r := &Runtime{
		registry:    reg,
		engine:      engine,
		connections: connections,
		cache:       resolver.NewSessionCache(),
		timeout:     DefaultTimeout,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.lister = &resolver.CachedLister{Cache: r.cache}
	r.sessions = state.NewSessionStore(func(id string) {
		if err := r.cache.EndSession(context.Background(), id); err != nil {
			r.logger.Warn("dropping session options failed", "session_id", id, "error", err)
		}
	})
	return r
}

func (r *Runtime) Registry() *plugin.Registry { return r.registry }

func (r *Runtime) ResolveConfig(s schema.Schema, raw map[string]any, rctx resolver.Context) (resolver.Values, error) {
	return resolver.Resolve(s, raw, rctx)
}

// ListDynamicOptions fetches the options of one field of a node. Results are
// cached for the editing session; an empty sessionID disables caching.
func (r *Runtime) ListDynamicOptions(ctx context.Context, sessionID, nodeID, fieldID, connectionID, workspaceID string) ([]schema.Option, error) {
	if sessionID != "" {
		if _, err := r.sessions.Touch(sessionID, workspaceID); err != nil {
			return nil, err
		}
	}
	f, fn, err := r.registry.DynamicField(nodeID, fieldID)
	if err != nil {
		return nil, &NotFoundError{What: "field", ID: nodeID + "." + fieldID}
	}
	var conn *auth.Connection
	if connectionID != "" {
		conn, err = r.connection(ctx, connectionID, workspaceID)
		if err != nil {
			return nil, err
		}
	}
	ctx = actor.WithWorkspace(ctx, workspaceID)
	return r.lister.List(ctx, sessionID, nodeID, f, fn, conn, workspaceID)
}

// EndSession drops the cached options of an editing session.
func (r *Runtime) EndSession(sessionID string) {
	r.sessions.End(sessionID)
}

// ExpireSessions ends sessions idle for longer than idle.
func (r *Runtime) ExpireSessions(idle time.Duration) []string {
	return r.sessions.Expire(idle)
}

// prepare resolves the node's configuration and loads its connection.
// Nothing here performs integration I/O, so a bad configuration fails
// before any vendor call.
func (r *Runtime) prepare(ctx context.Context, n plugin.Node, raw map[string]any, connectionID string, exec plugin.ExecutionContext) (plugin.RunArgs, error) {
	d := n.Describe()
	cfg, err := resolver.Resolve(n.Schema(), raw, resolver.Context{
		WorkspaceID:  exec.WorkspaceID,
		ConnectionID: connectionID,
		NodeID:       d.ID,
	})
	if err != nil {
		return plugin.RunArgs{}, err
	}
	args := plugin.RunArgs{Config: cfg, Exec: exec}
	if d.NeedsConnection {
		if connectionID == "" {
			return plugin.RunArgs{}, &auth.Error{Reason: d.ID + " needs a connection"}
		}
		conn, err := r.connection(ctx, connectionID, exec.WorkspaceID)
		if err != nil {
			return plugin.RunArgs{}, err
		}
		args.Connection = conn
	}
	return args, nil
}

func (r *Runtime) connection(ctx context.Context, id, workspaceID string) (*auth.Connection, error) {
	if r.connections == nil {
		return nil, &auth.Error{ConnectionID: id, Reason: "no connection store configured"}
	}
	conn, err := r.connections.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn.WorkspaceID != workspaceID {
		return nil, &auth.Error{ConnectionID: id, Reason: "belongs to another workspace"}
	}
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	return conn, nil
}

func tagged(ctx context.Context, exec plugin.ExecutionContext) context.Context {
	return actor.WithExecution(actor.WithWorkspace(ctx, exec.WorkspaceID), exec.ExecutionID)
}

// InvokeAction resolves raw against the action's schema and runs it under
// the runtime timeout.
func (r *Runtime) InvokeAction(ctx context.Context, actionID string, raw map[string]any, connectionID string, exec plugin.ExecutionContext) (any, error) {
	a, ok := r.registry.Action(actionID)
	if !ok {
		return nil, &NotFoundError{What: "action", ID: actionID}
	}
	args, err := r.prepare(ctx, a, raw, connectionID, exec)
	if err != nil {
		r.metrics.ObserveInvocation(actionID, "rejected")
		return nil, err
	}

	start := time.Now()
	out, err := runWithTimeout(tagged(ctx, exec), r.timeout, func(ctx context.Context) (any, error) {
		return a.Run(ctx, args)
	})
	if err != nil {
		err = classify(actionID, r.timeout, connectionID, err)
		r.metrics.ObserveInvocation(actionID, "error")
		r.logger.Warn("action failed",
			"action", actionID,
			"workspace_id", exec.WorkspaceID,
			"execution_id", exec.ExecutionID,
			"duration", time.Since(start),
			"error", err)
		return nil, err
	}
	r.metrics.ObserveInvocation(actionID, "ok")
	r.logger.Info("action completed",
		"action", actionID,
		"workspace_id", exec.WorkspaceID,
		"execution_id", exec.ExecutionID,
		"duration", time.Since(start))
	return out, nil
}

// PollTrigger runs one poll of a polling trigger for one workflow and
// returns the new event payloads, oldest first.
func (r *Runtime) PollTrigger(ctx context.Context, triggerID, workflowID, triggerNodeID string, raw map[string]any, connectionID string, exec plugin.ExecutionContext, testing bool) ([]any, error) {
	t, ok := r.registry.Trigger(triggerID)
	if !ok {
		return nil, &NotFoundError{What: "trigger", ID: triggerID}
	}
	pt, ok := t.(plugin.PollTrigger)
	if !ok || t.Strategy() != plugin.StrategyPoll {
		return nil, &NotFoundError{What: "polling trigger", ID: triggerID}
	}
	exec.WorkflowID = workflowID
	exec.TriggerNodeID = triggerNodeID
	args, err := r.prepare(ctx, t, raw, connectionID, exec)
	if err != nil {
		return nil, err
	}

	key := poll.Key{WorkflowID: workflowID, TriggerNodeID: triggerNodeID}
	// Not abandoned on timeout: a poll that commits its cursor must also
	// return its events.
	pollCtx, cancel := context.WithTimeout(tagged(ctx, exec), r.timeout)
	defer cancel()
	events, err := r.engine.Poll(pollCtx, pt, key, args, testing)
	if err != nil {
		if flowerr.KindOf(err) == flowerr.KindUnknown {
			err = &poll.PollError{TriggerID: triggerID, Key: key, Err: err}
		}
		return nil, err
	}
	out := make([]any, len(events))
	for i, e := range events {
		out[i] = e.Payload
	}
	return out, nil
}

// RunManualTrigger runs a manual trigger with the caller's input data.
func (r *Runtime) RunManualTrigger(ctx context.Context, triggerID string, raw, inputData map[string]any, exec plugin.ExecutionContext) ([]any, error) {
	t, ok := r.registry.Trigger(triggerID)
	if !ok {
		return nil, &NotFoundError{What: "trigger", ID: triggerID}
	}
	mt, ok := t.(plugin.ManualTrigger)
	if !ok || t.Strategy() != plugin.StrategyManual {
		return nil, &NotFoundError{What: "manual trigger", ID: triggerID}
	}
	args, err := r.prepare(ctx, t, raw, "", exec)
	if err != nil {
		return nil, err
	}
	args.InputData = inputData
	out, err := runWithTimeout(tagged(ctx, exec), r.timeout, func(ctx context.Context) ([]any, error) {
		return mt.Run(ctx, args)
	})
	if err != nil {
		return nil, classify(triggerID, r.timeout, "", err)
	}
	return out, nil
}

// PreviewAction returns the action's mock result. It never loads a
// connection or calls a vendor.
func (r *Runtime) PreviewAction(actionID string, raw map[string]any, exec plugin.ExecutionContext) (any, error) {
	a, ok := r.registry.Action(actionID)
	if !ok {
		return nil, &NotFoundError{What: "action", ID: actionID}
	}
	return preview(a, raw, exec)
}

func (r *Runtime) PreviewTrigger(triggerID string, raw map[string]any, exec plugin.ExecutionContext) (any, error) {
	t, ok := r.registry.Trigger(triggerID)
	if !ok {
		return nil, &NotFoundError{What: "trigger", ID: triggerID}
	}
	return preview(t, raw, exec)
}

func preview(n plugin.Node, raw map[string]any, exec plugin.ExecutionContext) (any, error) {
	cfg, err := resolver.Resolve(n.Schema(), raw, resolver.Context{WorkspaceID: exec.WorkspaceID, NodeID: n.Describe().ID})
	if err != nil {
		return nil, err
	}
	return n.MockRun(plugin.RunArgs{Config: cfg, Exec: exec})
}
