package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/flowpilot/flowpilot/internal/httpclient"
	"github.com/flowpilot/flowpilot/internal/poll"
	"github.com/flowpilot/flowpilot/internal/provider"
	"github.com/flowpilot/flowpilot/internal/scheduler"
	"github.com/flowpilot/flowpilot/internal/state/redisstore"
	"github.com/flowpilot/flowpilot/internal/state/store"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

type Config struct {
	Log             LogConfig                 `yaml:"log"`
	Store           StoreConfig               `yaml:"store"`
	Poll            PollConfig                `yaml:"poll"`
	Metering        MeteringConfig            `yaml:"metering"`
	Providers       map[string]ProviderConfig `yaml:"providers" validate:"dive"`
	HTTP            httpclient.Config         `yaml:"http"`
	Runtime         RuntimeConfig             `yaml:"runtime"`
	Metrics         MetricsConfig             `yaml:"metrics"`
	Scheduler       SchedulerConfig           `yaml:"scheduler"`
	ConnectionsFile string                    `yaml:"connections_file"`
}

type LogConfig struct {
	Format string `yaml:"format" default:"text" validate:"oneof=text json"`
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
}

// StoreConfig selects where cursors, the credit ledger and connections
// live. Redis only holds cursors and the options cache; the ledger and
// connections then fall back to SQLite under DataDir.
type StoreConfig struct {
	Driver  string            `yaml:"driver" default:"sqlite" validate:"oneof=sqlite postgres redis memory"`
	DataDir string            `yaml:"data_dir" default:"./data" validate:"required"`
	DSN     string            `yaml:"dsn" validate:"required_if=Driver postgres"`
	Redis   redisstore.Config `yaml:"redis"`
}

// SQLOptions returns the options for the SQL store backing this config.
func (s StoreConfig) SQLOptions() store.Options {
	if s.Driver == StorePostgres {
		return store.Options{Driver: store.DriverPostgres, DSN: s.DSN, DataDir: s.DataDir}
	}
	return store.Options{Driver: store.DriverSQLite, DataDir: s.DataDir}
}

type PollConfig struct {
	Window        poll.Window            `yaml:",inline"`
	MaxCASRetries int                    `yaml:"max_cas_retries" default:"5" validate:"gte=1"`
	Overrides     map[string]poll.Window `yaml:"overrides"`
}

type MeteringConfig struct {
	RatesFile string `yaml:"rates_file"`
}

type ProviderConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	API     string   `yaml:"api" validate:"oneof=openai-completions anthropic-messages"`
	Models  []string `yaml:"models"`
}

type RuntimeConfig struct {
	ActionTimeout time.Duration `yaml:"action_timeout" default:"30s" validate:"gte=1s"`
	SessionIdle   time.Duration `yaml:"session_idle" default:"30m" validate:"gte=1m"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Listen  string `yaml:"listen" default:":9090"`
}

type SchedulerConfig struct {
	MaxJobsPerWorkspace int                 `yaml:"max_jobs_per_workspace" default:"0" validate:"gte=0"`
	Jobs                []scheduler.PollJob `yaml:"jobs"`
}

var validate = validator.New()

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	for name, p := range cfg.Providers {
		p.BaseURL = expandEnv(p.BaseURL)
		p.APIKey = expandEnv(p.APIKey)
		cfg.Providers[name] = p
	}
	cfg.Store.DataDir = expandEnv(cfg.Store.DataDir)
	cfg.Store.DSN = expandEnv(cfg.Store.DSN)
	cfg.Store.Redis.Addr = expandEnv(cfg.Store.Redis.Addr)
	cfg.Store.Redis.Password = expandEnv(cfg.Store.Redis.Password)
	cfg.Metering.RatesFile = expandEnv(cfg.Metering.RatesFile)
	cfg.ConnectionsFile = expandEnv(cfg.ConnectionsFile)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse applies struct-tag defaults, overlays the YAML document, expands
// ${VAR} references and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	for id, p := range cfg.Providers {
		if p.API == "" {
			p.API = provider.APIOpenAI
		}
		cfg.Providers[id] = p
	}
	for id, w := range cfg.Poll.Overrides {
		if err := defaults.Set(&w); err != nil {
			return nil, fmt.Errorf("applying defaults to poll override %q: %w", id, err)
		}
		cfg.Poll.Overrides[id] = w
	}
	expandEnvInConfig(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Store.Driver == StoreRedis && c.Store.Redis.Addr == "" {
		return fmt.Errorf("invalid config: store.redis.addr is required for the redis driver")
	}
	if err := c.Poll.Window.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for id, w := range c.Poll.Overrides {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("invalid config: override %q: %w", id, err)
		}
	}
	return nil
}

// ProviderConfigs returns the configured LLM providers sorted by id.
func (c *Config) ProviderConfigs() []provider.ProviderConfig {
	ids := make([]string, 0, len(c.Providers))
	for id := range c.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]provider.ProviderConfig, 0, len(ids))
	for _, id := range ids {
		p := c.Providers[id]
		models := make([]provider.ModelInfo, 0, len(p.Models))
		for _, m := range p.Models {
			models = append(models, provider.ModelInfo{ID: m, Name: m, ProviderID: id})
		}
		out = append(out, provider.ProviderConfig{
			ID:      id,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			API:     p.API,
			Models:  models,
		})
	}
	return out
}

// PollOptions returns the poll engine options this config implies.
func (c *Config) PollOptions() []poll.Option {
	opts := []poll.Option{
		poll.WithWindow(c.Poll.Window),
		poll.WithMaxCASRetries(c.Poll.MaxCASRetries),
	}
	for id, w := range c.Poll.Overrides {
		opts = append(opts, poll.WithTriggerWindow(id, w))
	}
	return opts
}
