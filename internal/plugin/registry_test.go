package plugin

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/flowpilot/flowpilot/internal/auth"
	"github.com/flowpilot/flowpilot/internal/resolver"
	"github.com/flowpilot/flowpilot/internal/schema"
)

type fakeAction struct {
	id     string
	schema schema.Schema
}

func (a *fakeAction) Describe() Descriptor                      { return Descriptor{ID: a.id, Name: a.id} }
func (a *fakeAction) Schema() schema.Schema                     { return a.schema }
func (a *fakeAction) MockRun(RunArgs) (any, error)              { return "mock", nil }
func (a *fakeAction) Run(context.Context, RunArgs) (any, error) { return "real", nil }

type fakeManual struct{ fakeAction }

func (t *fakeManual) Strategy() Strategy                          { return StrategyManual }
func (t *fakeManual) Run(context.Context, RunArgs) ([]any, error) { return nil, nil }

type mislabeled struct{ fakeAction }

func (t *mislabeled) Strategy() Strategy { return StrategyPoll }

func TestRegistryLookup(t *testing.T) {
	app := &App{
		ID:       "demo",
		Actions:  []Action{&fakeAction{id: "demo_action_a"}},
		Triggers: []Trigger{&fakeManual{fakeAction{id: "demo_trigger_t"}}},
	}
	r, err := NewRegistry(app)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, ok := r.Action("demo_action_a"); !ok {
		t.Error("action not found")
	}
	if _, ok := r.Trigger("demo_trigger_t"); !ok {
		t.Error("trigger not found")
	}
	if _, ok := r.Action("demo_trigger_t"); ok {
		t.Error("trigger should not be returned as an action")
	}
	n, owner, ok := r.Node("demo_trigger_t")
	if !ok || owner.ID != "demo" || n.Describe().ID != "demo_trigger_t" {
		t.Errorf("Node lookup = %v %v %v", n, owner, ok)
	}
}

func TestRegistryRejectsInvalidCatalogs(t *testing.T) {
	dyn := schema.Schema{{ID: "ch", InputType: schema.InputDynamicSelect, Dynamic: &schema.DynamicSource{ID: "channels"}}}
	tests := []struct {
		name string
		apps []*App
		want string
	}{
		{"duplicate app", []*App{{ID: "a"}, {ID: "a"}}, "already registered"},
		{"duplicate node across apps", []*App{
			{ID: "a", Actions: []Action{&fakeAction{id: "x"}}},
			{ID: "b", Actions: []Action{&fakeAction{id: "x"}}},
		}, `node "x" already registered`},
		{"invalid schema", []*App{{ID: "a", Actions: []Action{&fakeAction{id: "x", schema: schema.Schema{{ID: "f"}, {ID: "f"}}}}}}, "duplicate field id"},
		{"unknown dynamic source", []*App{{ID: "a", Actions: []Action{&fakeAction{id: "x", schema: dyn}}}}, "unknown dynamic source"},
		{"unknown dynamic source in group", []*App{{ID: "a", Actions: []Action{&fakeAction{id: "x", schema: schema.Schema{
			{ID: "rows", InputType: schema.InputNestedGroup, Occurrence: schema.OccurrenceMultiple, Fields: dyn},
		}}}}}, "unknown dynamic source"},
		{"strategy mismatch", []*App{{ID: "a", Triggers: []Trigger{&mislabeled{fakeAction{id: "t"}}}}}, "poll strategy"},
		{"oauth2 without endpoints", []*App{{ID: "a", Connections: []ConnectionSpec{{ID: "c", Kind: ConnectionOAuth2}}}}, "no endpoints"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.apps...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRegistryDynamicField(t *testing.T) {
	fn := func(context.Context, *auth.Connection, string) ([]schema.Option, error) {
		return []schema.Option{{Value: "1"}}, nil
	}
	app := &App{
		ID: "slackish",
		Actions: []Action{&fakeAction{id: "send", schema: schema.Schema{
			{ID: "channel", InputType: schema.InputDynamicSelect, Dynamic: &schema.DynamicSource{ID: "channels"}},
			{ID: "message", InputType: schema.InputText},
		}}},
		Dynamic: map[string]resolver.DynamicOptionsFunc{"channels": fn},
	}
	r, err := NewRegistry(app)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	f, got, err := r.DynamicField("send", "channel")
	if err != nil || got == nil || f.ID != "channel" {
		t.Fatalf("DynamicField = %v %v %v", f, got, err)
	}
	if _, _, err := r.DynamicField("send", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing field err = %v", err)
	}
	if _, _, err := r.DynamicField("nope", "channel"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing node err = %v", err)
	}
}

func TestRegistryDynamicFieldInGroup(t *testing.T) {
	fn := func(context.Context, *auth.Connection, string) ([]schema.Option, error) {
		return []schema.Option{{Value: "/docs"}}, nil
	}
	app := &App{
		ID: "filesish",
		Actions: []Action{&fakeAction{id: "copy", schema: schema.Schema{
			{ID: "targets", InputType: schema.InputNestedGroup, Occurrence: schema.OccurrenceMultiple, Fields: []schema.Field{
				{ID: "folder", InputType: schema.InputDynamicSelect, Dynamic: &schema.DynamicSource{ID: "folders"}},
			}},
		}}},
		Dynamic: map[string]resolver.DynamicOptionsFunc{"folders": fn},
	}
	r, err := NewRegistry(app)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	f, got, err := r.DynamicField("copy", "targets.folder")
	if err != nil || got == nil || f.ID != "folder" {
		t.Fatalf("DynamicField = %v %v %v", f, got, err)
	}
	opts, err := got(context.Background(), nil, "ws1")
	if err != nil || len(opts) != 1 || opts[0].Value != "/docs" {
		t.Errorf("options = %v, %v", opts, err)
	}
}

func TestAppsSorted(t *testing.T) {
	r, err := NewRegistry(&App{ID: "zeta"}, &App{ID: "alpha"}, &App{ID: "mid"})
	if err != nil {
		t.Fatal(err)
	}
	apps := r.Apps()
	if apps[0].ID != "alpha" || apps[2].ID != "zeta" {
		t.Errorf("order = %s, %s, %s", apps[0].ID, apps[1].ID, apps[2].ID)
	}
}

func TestAuthCodeURL(t *testing.T) {
	spec := OAuth2Spec{
		AuthorizeURL:    "https://accounts.example.com/o/oauth2/v2/auth",
		Scopes:          []string{"a.readonly", "b.readonly"},
		ExtraAuthParams: map[string]string{"access_type": "offline", "prompt": "consent"},
	}
	raw := spec.AuthCodeURL("client", "https://app/cb", "st")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("scope") != "a.readonly b.readonly" {
		t.Errorf("scope = %q", q.Get("scope"))
	}
	if q.Get("access_type") != "offline" || q.Get("client_id") != "client" || q.Get("state") != "st" {
		t.Errorf("query = %v", q)
	}
}
