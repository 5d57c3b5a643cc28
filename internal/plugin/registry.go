package plugin

import (
	"errors"
	"fmt"
	"sort"

	"github.com/flowpilot/flowpilot/internal/resolver"
	"github.com/flowpilot/flowpilot/internal/schema"
)

var ErrNotFound = errors.New("not found")

type actionEntry struct {
	app    *App
	action Action
}

type triggerEntry struct {
	app     *App
	trigger Trigger
}

// Registry is the read-only catalog of apps built once at startup. It has no
// mutating methods; tests build their own isolated registries.
type Registry struct {
	apps     map[string]*App
	actions  map[string]actionEntry
	triggers map[string]triggerEntry
}

// NewRegistry validates every app and freezes the catalog. Action and
// trigger ids are global across apps.
func NewRegistry(apps ...*App) (*Registry, error) {
	r := &Registry{
		apps:     make(map[string]*App, len(apps)),
		actions:  make(map[string]actionEntry),
		triggers: make(map[string]triggerEntry),
	}
	for _, app := range apps {
		if err := r.add(app); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(app *App) error {
	if app.ID == "" {
		return fmt.Errorf("app with empty id")
	}
	if _, exists := r.apps[app.ID]; exists {
		return fmt.Errorf("app %q already registered", app.ID)
	}
	seen := make(map[string]bool)
	for _, c := range app.Connections {
		if seen[c.ID] {
			return fmt.Errorf("app %q: duplicate connection %q", app.ID, c.ID)
		}
		seen[c.ID] = true
		if c.Kind == ConnectionOAuth2 && c.OAuth2 == nil {
			return fmt.Errorf("app %q: oauth2 connection %q has no endpoints", app.ID, c.ID)
		}
	}
	for _, a := range app.Actions {
		d := a.Describe()
		if err := r.checkNode(app, a); err != nil {
			return err
		}
		r.actions[d.ID] = actionEntry{app: app, action: a}
	}
	for _, t := range app.Triggers {
		d := t.Describe()
		if err := r.checkNode(app, t); err != nil {
			return err
		}
		if err := checkStrategy(t); err != nil {
			return fmt.Errorf("app %q: trigger %q: %w", app.ID, d.ID, err)
		}
		r.triggers[d.ID] = triggerEntry{app: app, trigger: t}
	}
	r.apps[app.ID] = app
	return nil
}

func (r *Registry) checkNode(app *App, n Node) error {
	id := n.Describe().ID
	if id == "" {
		return fmt.Errorf("app %q: node with empty id", app.ID)
	}
	if _, ok := r.actions[id]; ok {
		return fmt.Errorf("node %q already registered", id)
	}
	if _, ok := r.triggers[id]; ok {
		return fmt.Errorf("node %q already registered", id)
	}
	s := n.Schema()
	if err := s.Validate(); err != nil {
		return fmt.Errorf("node %q: %w", id, err)
	}
	for _, f := range s.DynamicFields() {
		if _, ok := app.Dynamic[f.Dynamic.ID]; !ok {
			return fmt.Errorf("node %q: field %q uses unknown dynamic source %q", id, f.ID, f.Dynamic.ID)
		}
	}
	return nil
}

func checkStrategy(t Trigger) error {
	switch t.Strategy() {
	case StrategyManual:
		if _, ok := t.(ManualTrigger); !ok {
			return fmt.Errorf("manual strategy but no Run method")
		}
	case StrategyPoll:
		if _, ok := t.(PollTrigger); !ok {
			return fmt.Errorf("poll strategy but no List/ExtractTimestamp methods")
		}
	default:
		return fmt.Errorf("unknown strategy %q", t.Strategy())
	}
	return nil
}

func (r *Registry) App(id string) (*App, bool) {
	app, ok := r.apps[id]
	return app, ok
}

// Apps returns all apps sorted by id.
func (r *Registry) Apps() []*App {
	out := make([]*App, 0, len(r.apps))
	for _, app := range r.apps {
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Action(id string) (Action, bool) {
	e, ok := r.actions[id]
	return e.action, ok
}

func (r *Registry) Trigger(id string) (Trigger, bool) {
	e, ok := r.triggers[id]
	return e.trigger, ok
}

// Node returns the action or trigger with the given id together with the app
// that owns it.
func (r *Registry) Node(id string) (Node, *App, bool) {
	if e, ok := r.actions[id]; ok {
		return e.action, e.app, true
	}
	if e, ok := r.triggers[id]; ok {
		return e.trigger, e.app, true
	}
	return nil, nil, false
}

// DynamicField returns a dynamic-select field of a node and the function
// that resolves its options.
func (r *Registry) DynamicField(nodeID, fieldID string) (schema.Field, resolver.DynamicOptionsFunc, error) {
	n, app, ok := r.Node(nodeID)
	if !ok {
		return schema.Field{}, nil, fmt.Errorf("node %q: %w", nodeID, ErrNotFound)
	}
	f, ok := n.Schema().Field(fieldID)
	if !ok {
		return schema.Field{}, nil, fmt.Errorf("field %q of node %q: %w", fieldID, nodeID, ErrNotFound)
	}
	if f.Dynamic == nil {
		return f, nil, nil
	}
	return f, app.Dynamic[f.Dynamic.ID], nil
}
