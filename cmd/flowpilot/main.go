package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/flowpilot/flowpilot/internal/apps/catalog"
	"github.com/flowpilot/flowpilot/internal/auth"
	"github.com/flowpilot/flowpilot/internal/config"
	"github.com/flowpilot/flowpilot/internal/credits"
	"github.com/flowpilot/flowpilot/internal/httpclient"
	"github.com/flowpilot/flowpilot/internal/metrics"
	"github.com/flowpilot/flowpilot/internal/poll"
	"github.com/flowpilot/flowpilot/internal/provider"
	"github.com/flowpilot/flowpilot/internal/runtime"
	"github.com/flowpilot/flowpilot/internal/scheduler"
	"github.com/flowpilot/flowpilot/internal/state"
	"github.com/flowpilot/flowpilot/internal/state/redisstore"
	"github.com/flowpilot/flowpilot/internal/state/store"
	"github.com/flowpilot/flowpilot/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	logFormat := flag.String("log-format", "", "log format: text or json (overrides config)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("starting", "version", version.Get().String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Parse(nil)
	}
	return config.Load(path)
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.Level))
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// backend is the set of stores the runtime runs on.
type backend struct {
	cursors     poll.CursorStore
	ledger      credits.Ledger
	connections auth.ConnectionStore
	options     runtime.Option
	close       func() error
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.Store.Driver == config.StoreMemory {
		cursors := state.NewCursorStore(cfg.Store.DataDir)
		if err := cursors.Load(); err != nil {
			return nil, err
		}
		ledger := state.NewLedger(cfg.Store.DataDir)
		if err := ledger.Load(); err != nil {
			return nil, err
		}
		conns := auth.NewStore(cfg.ConnectionsFile)
		if err := conns.Load(); err != nil {
			return nil, err
		}
		return &backend{
			cursors:     cursors,
			ledger:      ledger,
			connections: conns,
			close: func() error {
				return errors.Join(cursors.Save(), ledger.Save())
			},
		}, nil
	}

	db, err := store.OpenWith(cfg.Store.SQLOptions())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	b := &backend{
		cursors:     store.NewCursorStore(db),
		ledger:      store.NewLedger(db),
		connections: store.NewConnectionStore(db),
		close:       db.Close,
	}
	if cfg.ConnectionsFile != "" {
		conns := auth.NewStore(cfg.ConnectionsFile)
		if err := conns.Load(); err != nil {
			_ = db.Close()
			return nil, err
		}
		b.connections = conns
	}

	if cfg.Store.Driver == config.StoreRedis {
		rdb, err := redisstore.NewClient(ctx, cfg.Store.Redis)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		b.cursors = redisstore.NewCursorStore(rdb, cfg.Store.Redis.Prefix)
		b.options = runtime.WithOptionsCache(redisstore.NewOptionsCache(rdb, cfg.Store.Redis.Prefix, cfg.Store.Redis.OptionsTTL))
		b.close = func() error { return errors.Join(rdb.Close(), db.Close()) }
	}
	return b, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New(prometheus.NewRegistry())

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.close(); err != nil {
			logger.Warn("closing store", "error", err)
		}
	}()

	if cfg.HTTP.UserAgent == "flowpilot" {
		cfg.HTTP.UserAgent = version.Get().UserAgent()
	}
	hc := httpclient.New(cfg.HTTP, httpclient.WithMetrics(m), httpclient.WithLogger(logger))

	deps := catalog.Deps{HTTP: hc, Connections: b.connections}
	if cfg.Metering.RatesFile != "" {
		rates, err := credits.LoadRateTable(cfg.Metering.RatesFile)
		if err != nil {
			return err
		}
		providers := provider.NewRegistry(hc)
		for _, pc := range cfg.ProviderConfigs() {
			if err := providers.RegisterConfig(pc); err != nil {
				return fmt.Errorf("provider %s: %w", pc.ID, err)
			}
		}
		deps.Providers = providers
		deps.Meter = credits.NewMeter(rates, b.ledger, credits.WithMetrics(m))
		logger.Info("metering enabled", "models", len(rates.Models()), "providers", len(providers.List()))
	}

	reg, err := catalog.Default(deps)
	if err != nil {
		return fmt.Errorf("building catalog: %w", err)
	}

	engine := poll.NewEngine(b.cursors, append(cfg.PollOptions(), poll.WithMetrics(m))...)
	opts := []runtime.Option{
		runtime.WithTimeout(cfg.Runtime.ActionTimeout),
		runtime.WithMetrics(m),
		runtime.WithLogger(logger),
	}
	if b.options != nil {
		opts = append(opts, b.options)
	}
	rt := runtime.New(reg, engine, b.connections, opts...)
	logger.Info("catalog ready", "apps", len(reg.Apps()))

	sched := scheduler.New(rt, logSink{logger}, cfg.Store.DataDir,
		scheduler.WithMaxJobsPerWorkspace(cfg.Scheduler.MaxJobsPerWorkspace),
		scheduler.WithLogger(logger))
	if err := sched.Start(cfg.Scheduler.Jobs); err != nil {
		return err
	}
	defer sched.Stop()

	housekeeping := cron.New()
	housekeeping.Schedule(cron.Every(time.Minute), cron.FuncJob(func() {
		if ended := rt.ExpireSessions(cfg.Runtime.SessionIdle); len(ended) > 0 {
			logger.Debug("expired edit sessions", "count", len(ended))
		}
	}))
	housekeeping.Start()
	defer housekeeping.Stop()

	var srv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "error", err)
			}
		}()
		logger.Info("metrics listening", "addr", cfg.Metrics.Listen)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

// logSink writes delivered trigger events to the log. Workflow execution
// lives outside this process; the sink is where it would be handed off.
type logSink struct {
	logger *slog.Logger
}

func (s logSink) Deliver(_ context.Context, job scheduler.PollJob, events []any) error {
	for _, ev := range events {
		s.logger.Info("trigger event",
			"job", job.Name,
			"workflow_id", job.WorkflowID,
			"trigger_node_id", job.TriggerNodeID,
			"event", ev)
	}
	return nil
}
