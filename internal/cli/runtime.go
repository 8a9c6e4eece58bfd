// Package cli holds the bootstrapping shared by the triggers and scheduler
// binaries.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"parceltriggers/internal/config"
	"parceltriggers/internal/connector"
	"parceltriggers/internal/logging"
	"parceltriggers/internal/metrics"
	"parceltriggers/internal/normalize"
	"parceltriggers/internal/storage"
)

// Flags are the persistent flags every command accepts.
type Flags struct {
	ConfigPath string
	DB         string
	LogLevel   string
}

// Apply writes the flag overrides into cfg.
func (f Flags) Apply(cfg *config.Config) {
	if db := strings.TrimSpace(f.DB); db != "" {
		cfg.Storage.DSN = db
		if strings.HasPrefix(db, "postgres://") || strings.HasPrefix(db, "postgresql://") {
			cfg.Storage.Driver = "postgres"
		}
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
}

type Runtime struct {
	Flags    Flags
	Config   *config.Config
	Manager  *config.Manager
	Store    storage.Store
	Logger   *slog.Logger
	Metrics  *metrics.Pipeline
	Registry *connector.Registry
	Gatherer prometheus.Gatherer
}

// Open loads configuration, opens and migrates the store and builds the
// connector registry. Logs go to stderr so stdout stays JSON.
func Open(ctx context.Context, f Flags) (*Runtime, error) {
	mgr, err := config.NewManager(config.ResolvePath(f.ConfigPath))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()
	f.Apply(cfg)
	logger := logging.NewLoggerTo(os.Stderr, cfg.LogLevel)

	registry, err := connector.DefaultRegistry()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Runtime{
		Flags:    f,
		Config:   cfg,
		Manager:  mgr,
		Store:    store,
		Logger:   logger,
		Metrics:  metrics.NewMetrics(reg),
		Registry: registry,
		Gatherer: reg,
	}, nil
}

// Reload re-reads the config file when it changed on disk and re-applies the
// flag overrides to the fresh config.
func (r *Runtime) Reload() (*config.Config, bool, error) {
	cfg, changed, err := r.Manager.ReloadIfChanged()
	if err != nil || !changed {
		return cfg, changed, err
	}
	r.Flags.Apply(cfg)
	r.Config = cfg
	return cfg, true, nil
}

func (r *Runtime) Close() error {
	if r == nil || r.Store == nil {
		return nil
	}
	return r.Store.Close()
}

// ConnectorDeps wires the runtime into connector factories.
func (r *Runtime) ConnectorDeps() connector.Deps {
	return connector.Deps{Store: r.Store, Config: r.Config.Connectors, Logger: r.Logger}
}

// ParseNow parses an optional --now style flag. Empty means the current time.
func ParseNow(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Now().UTC(), nil
	}
	t, err := normalize.ParseTimestamp(value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", value, err)
	}
	return t, nil
}

func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
