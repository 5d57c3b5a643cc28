package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/flowpilot/flowpilot/internal/provider"
	"github.com/flowpilot/flowpilot/internal/state/store"
)

const testYAML = `
log:
  format: json
store:
  driver: sqlite
  data_dir: /var/lib/flowpilot
poll:
  interval: 5m
  margin: 30s
  max_cas_retries: 3
  overrides:
    sales-rabbit_trigger_lead-status-updated-on-device:
      interval: 1m
metering:
  rates_file: ./rates.yaml
providers:
  openai:
    api_key: "${OPENAI_API_KEY}"
    models: [gpt-4o-mini, gpt-4o]
  anthropic:
    api_key: "${ANTHROPIC_API_KEY}"
    api: anthropic-messages
  ollama:
    base_url: "http://localhost:11434/v1"
    models: [llama3]
http:
  timeout: 10s
runtime:
  action_timeout: 45s
metrics:
  listen: ":9100"
connections_file: ./connections.yaml
scheduler:
  max_jobs_per_workspace: 20
  jobs:
    - name: leads
      workspace_id: ws-1
      workflow_id: wf-1
      trigger_node_id: node-1
      trigger_id: sales-rabbit_trigger_lead-status-updated-on-device
      connection_id: conn-1
      interval: 1m
      config:
        status: sold
`

func TestParseConfig(t *testing.T) {
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Log.Format != "json" {
		t.Errorf("log format = %q", cfg.Log.Format)
	}
	if cfg.Store.DataDir != "/var/lib/flowpilot" {
		t.Errorf("data_dir = %q", cfg.Store.DataDir)
	}
	if cfg.Poll.Window.Interval != 5*time.Minute || cfg.Poll.Window.Margin != 30*time.Second {
		t.Errorf("poll window = %+v", cfg.Poll.Window)
	}
	if cfg.Poll.MaxCASRetries != 3 {
		t.Errorf("max_cas_retries = %d", cfg.Poll.MaxCASRetries)
	}
	if cfg.HTTP.Timeout != 10*time.Second {
		t.Errorf("http timeout = %s", cfg.HTTP.Timeout)
	}
	if cfg.Runtime.ActionTimeout != 45*time.Second {
		t.Errorf("action timeout = %s", cfg.Runtime.ActionTimeout)
	}
	if cfg.Metrics.Listen != ":9100" || !cfg.Metrics.Enabled {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
	if cfg.ConnectionsFile != "./connections.yaml" {
		t.Errorf("connections_file = %q", cfg.ConnectionsFile)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Store.Driver != StoreSQLite || cfg.Store.DataDir != "./data" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Poll.Window.Interval != 15*time.Minute || cfg.Poll.Window.Margin != time.Minute {
		t.Errorf("poll window = %+v", cfg.Poll.Window)
	}
	if cfg.Poll.Window.TestLookback != 8760*time.Hour || cfg.Poll.Window.TestLimit != 1 {
		t.Errorf("test window = %+v", cfg.Poll.Window)
	}
	if cfg.Poll.MaxCASRetries != 5 {
		t.Errorf("max_cas_retries = %d", cfg.Poll.MaxCASRetries)
	}
	if cfg.Runtime.ActionTimeout != 30*time.Second {
		t.Errorf("action timeout = %s", cfg.Runtime.ActionTimeout)
	}
	if cfg.HTTP.MaxRetries != 2 || cfg.HTTP.UserAgent != "flowpilot" {
		t.Errorf("http = %+v", cfg.HTTP)
	}
	if cfg.Store.Redis.Prefix != "flowpilot:" {
		t.Errorf("redis prefix = %q", cfg.Store.Redis.Prefix)
	}
	if cfg.Log.Format != "text" || cfg.Log.Level != "info" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestPollOverrideDefaults(t *testing.T) {
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	w, ok := cfg.Poll.Overrides["sales-rabbit_trigger_lead-status-updated-on-device"]
	if !ok {
		t.Fatal("override missing")
	}
	if w.Interval != time.Minute {
		t.Errorf("override interval = %s", w.Interval)
	}
	if w.Margin != time.Minute || w.TestLimit != 1 {
		t.Errorf("override should inherit tag defaults, got %+v", w)
	}
	if n := len(cfg.PollOptions()); n != 3 {
		t.Errorf("poll options = %d, want 3", n)
	}
}

func TestEnvSubstitution(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-123")
	t.Setenv("FLOWPILOT_DATA_DIR", "/custom/data")

	yaml := strings.Replace(testYAML, "/var/lib/flowpilot", "${FLOWPILOT_DATA_DIR}", 1)
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers["openai"].APIKey != "sk-test-123" {
		t.Errorf("openai api_key = %q", cfg.Providers["openai"].APIKey)
	}
	if cfg.Store.DataDir != "/custom/data" {
		t.Errorf("data_dir = %q", cfg.Store.DataDir)
	}
}

func TestEnvSubstitutionPreservesUnsetVars(t *testing.T) {
	//nolint:errcheck // test cleanup of env var
	os.Unsetenv("ANTHROPIC_API_KEY")
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers["anthropic"].APIKey != "${ANTHROPIC_API_KEY}" {
		t.Errorf("unset env var should be preserved, got %q", cfg.Providers["anthropic"].APIKey)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "hello")

	tests := []struct {
		input string
		want  string
	}{
		{"${TEST_VAR}", "hello"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
		{"${NONEXISTENT}", "${NONEXISTENT}"},
		{"no vars here", "no vars here"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandEnv(tt.input)
		if got != tt.want {
			t.Errorf("expandEnv(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestProviderConfigs(t *testing.T) {
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	pcs := cfg.ProviderConfigs()
	if len(pcs) != 3 {
		t.Fatalf("providers = %d, want 3", len(pcs))
	}
	if pcs[0].ID != "anthropic" || pcs[1].ID != "ollama" || pcs[2].ID != "openai" {
		t.Errorf("providers not sorted: %s, %s, %s", pcs[0].ID, pcs[1].ID, pcs[2].ID)
	}
	if pcs[0].API != provider.APIAnthropic {
		t.Errorf("anthropic api = %q", pcs[0].API)
	}
	if pcs[2].API != provider.APIOpenAI {
		t.Errorf("default api = %q, want %q", pcs[2].API, provider.APIOpenAI)
	}
	if len(pcs[2].Models) != 2 || pcs[2].Models[0].ProviderID != "openai" {
		t.Errorf("openai models = %+v", pcs[2].Models)
	}
}

func TestParseSchedulerJobs(t *testing.T) {
	cfg, err := Parse([]byte(testYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scheduler.MaxJobsPerWorkspace != 20 {
		t.Errorf("max jobs = %d", cfg.Scheduler.MaxJobsPerWorkspace)
	}
	if len(cfg.Scheduler.Jobs) != 1 {
		t.Fatalf("jobs = %d", len(cfg.Scheduler.Jobs))
	}
	j := cfg.Scheduler.Jobs[0]
	if j.Name != "leads" || j.TriggerNodeID != "node-1" || j.Interval != "1m" {
		t.Errorf("job = %+v", j)
	}
	if j.Config["status"] != "sold" {
		t.Errorf("job config = %+v", j.Config)
	}
}

func TestSQLOptions(t *testing.T) {
	sqlite := StoreConfig{Driver: StoreSQLite, DataDir: "/d"}
	if o := sqlite.SQLOptions(); o.Driver != store.DriverSQLite || o.DataDir != "/d" {
		t.Errorf("sqlite options = %+v", o)
	}
	pg := StoreConfig{Driver: StorePostgres, DSN: "postgres://u@h/db"}
	if o := pg.SQLOptions(); o.Driver != store.DriverPostgres || o.DSN != "postgres://u@h/db" {
		t.Errorf("postgres options = %+v", o)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "{{invalid yaml", "parsing config"},
		{"bad driver", "store:\n  driver: mongo\n", "invalid config"},
		{"postgres without dsn", "store:\n  driver: postgres\n", "invalid config"},
		{"redis without addr", "store:\n  driver: redis\n", "redis.addr"},
		{"bad api", "providers:\n  x:\n    api: grpc\n", "invalid config"},
		{"bad log format", "log:\n  format: xml\n", "invalid config"},
		{"zero margin", "poll:\n  margin: 0s\n", "margin"},
		{"short action timeout", "runtime:\n  action_timeout: 10ms\n", "invalid config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	if err := os.WriteFile(path, []byte(testYAML), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Providers) != 3 {
		t.Errorf("expected 3 providers, got %d", len(cfg.Providers))
	}
}

func TestLoadFileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
