package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvDB                    = "TRIGGERS_DB"
	EnvLiveCodeEnforcement   = "TRIGGERS_LIVE_CODE_ENFORCEMENT"
	EnvLivePropertyAppraiser = "TRIGGERS_LIVE_PROPERTY_APPRAISER"
	EnvFakeParcels           = "TRIGGERS_FAKE_PARCELS"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Engine     EngineConfig     `json:"engine" yaml:"engine"`
	Connectors ConnectorsConfig `json:"connectors" yaml:"connectors"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	Delivery   DeliveryConfig   `json:"delivery" yaml:"delivery"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Ops        OpsConfig        `json:"ops" yaml:"ops"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type EngineConfig struct {
	WindowDays int `json:"window_days" yaml:"window_days"`
}

type ConnectorsConfig struct {
	DefaultLookback       time.Duration `json:"default_lookback" yaml:"default_lookback"`
	LookbackSlack         time.Duration `json:"lookback_slack" yaml:"lookback_slack"`
	CodeEnforcementLive   LiveConfig    `json:"code_enforcement_live" yaml:"code_enforcement_live"`
	PropertyAppraiserLive LiveConfig    `json:"property_appraiser_live" yaml:"property_appraiser_live"`
	Fake                  FakeConfig    `json:"fake" yaml:"fake"`
}

type LiveConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	Retries int           `json:"retries" yaml:"retries"`
}

type FakeConfig struct {
	Parcels []string `json:"parcels" yaml:"parcels"`
}

type SchedulerConfig struct {
	LockName         string        `json:"lock_name" yaml:"lock_name"`
	LockTTL          time.Duration `json:"lock_ttl" yaml:"lock_ttl"`
	Interval         time.Duration `json:"interval" yaml:"interval"`
	Counties         []string      `json:"counties" yaml:"counties"`
	Connectors       []string      `json:"connectors" yaml:"connectors"`
	ConnectorLimit   int           `json:"connector_limit" yaml:"connector_limit"`
	MaxSavedSearches int           `json:"max_saved_searches" yaml:"max_saved_searches"`
	MaxParcels       int           `json:"max_parcels" yaml:"max_parcels"`
	Parallelism      int           `json:"parallelism" yaml:"parallelism"`
	HistoryLimit     int           `json:"history_limit" yaml:"history_limit"`
}

type DeliveryConfig struct {
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

type RedisConfig struct {
	Addr string `json:"addr" yaml:"addr"`
	Key  string `json:"key" yaml:"key"`
}

type IngestConfig struct {
	Kafka    KafkaConfig `json:"kafka" yaml:"kafka"`
	Timezone string      `json:"timezone" yaml:"timezone"`
}

type OpsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Storage:  StorageConfig{Driver: "sqlite", DSN: "file:triggers.db?_pragma=busy_timeout(5000)"},
		Engine:   EngineConfig{WindowDays: 30},
		Connectors: ConnectorsConfig{
			DefaultLookback:       45 * 24 * time.Hour,
			LookbackSlack:         3 * 24 * time.Hour,
			CodeEnforcementLive:   LiveConfig{Timeout: 15 * time.Second, Retries: 2},
			PropertyAppraiserLive: LiveConfig{Timeout: 15 * time.Second, Retries: 2},
		},
		Scheduler: SchedulerConfig{
			LockName:         "triggers_scheduler",
			LockTTL:          10 * time.Minute,
			Interval:         15 * time.Minute,
			ConnectorLimit:   500,
			MaxSavedSearches: 200,
			MaxParcels:       5000,
			Parallelism:      4,
			HistoryLimit:     100,
		},
		Delivery: DeliveryConfig{Redis: RedisConfig{Key: "triggers:deliveries"}},
		Ingest:   IngestConfig{Timezone: "UTC"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when set, otherwise returns the defaults. Env
// overrides are applied in both cases.
func LoadOrDefault(path string) (*Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	ApplyEnv(cfg, os.LookupEnv)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = def.Storage.Driver
	}
	if cfg.Engine.WindowDays <= 0 {
		cfg.Engine.WindowDays = def.Engine.WindowDays
	}
	if cfg.Connectors.DefaultLookback <= 0 {
		cfg.Connectors.DefaultLookback = def.Connectors.DefaultLookback
	}
	if cfg.Connectors.LookbackSlack < 0 {
		cfg.Connectors.LookbackSlack = def.Connectors.LookbackSlack
	}
	for _, live := range []*LiveConfig{&cfg.Connectors.CodeEnforcementLive, &cfg.Connectors.PropertyAppraiserLive} {
		if live.Timeout <= 0 {
			live.Timeout = 15 * time.Second
		}
		if live.Retries < 0 {
			live.Retries = 0
		}
	}
	if cfg.Scheduler.LockName == "" {
		cfg.Scheduler.LockName = def.Scheduler.LockName
	}
	if cfg.Scheduler.LockTTL <= 0 {
		cfg.Scheduler.LockTTL = def.Scheduler.LockTTL
	}
	if cfg.Scheduler.Interval <= 0 {
		cfg.Scheduler.Interval = def.Scheduler.Interval
	}
	if cfg.Scheduler.ConnectorLimit <= 0 {
		cfg.Scheduler.ConnectorLimit = def.Scheduler.ConnectorLimit
	}
	if cfg.Scheduler.MaxSavedSearches <= 0 {
		cfg.Scheduler.MaxSavedSearches = def.Scheduler.MaxSavedSearches
	}
	if cfg.Scheduler.MaxParcels <= 0 {
		cfg.Scheduler.MaxParcels = def.Scheduler.MaxParcels
	}
	if cfg.Scheduler.Parallelism <= 0 {
		cfg.Scheduler.Parallelism = def.Scheduler.Parallelism
	}
	if cfg.Scheduler.HistoryLimit <= 0 {
		cfg.Scheduler.HistoryLimit = def.Scheduler.HistoryLimit
	}
	if cfg.Delivery.Redis.Key == "" {
		cfg.Delivery.Redis.Key = def.Delivery.Redis.Key
	}
	if cfg.Ingest.Timezone == "" {
		cfg.Ingest.Timezone = def.Ingest.Timezone
	}
}

// ApplyEnv overlays the TRIGGERS_* environment toggles. lookup is usually
// os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}
	if v, ok := lookup(EnvDB); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.DSN = strings.TrimSpace(v)
		if strings.HasPrefix(cfg.Storage.DSN, "postgres://") || strings.HasPrefix(cfg.Storage.DSN, "postgresql://") {
			cfg.Storage.Driver = "postgres"
		}
	}
	if v, ok := lookup(EnvLiveCodeEnforcement); ok {
		cfg.Connectors.CodeEnforcementLive.Enabled = truthy(v)
	}
	if v, ok := lookup(EnvLivePropertyAppraiser); ok {
		cfg.Connectors.PropertyAppraiserLive.Enabled = truthy(v)
	}
	if v, ok := lookup(EnvFakeParcels); ok {
		cfg.Connectors.Fake.Parcels = SplitList(v)
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "y":
		return true
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func Validate(cfg *Config) error {
	var errs []error
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q unsupported", cfg.Storage.Driver))
	}
	if cfg.Engine.WindowDays <= 0 {
		errs = append(errs, errors.New("engine.window_days must be > 0"))
	}
	if cfg.Connectors.LookbackSlack >= cfg.Connectors.DefaultLookback {
		errs = append(errs, errors.New("connectors.lookback_slack must be shorter than default_lookback"))
	}
	if cfg.Connectors.CodeEnforcementLive.Enabled && cfg.Connectors.CodeEnforcementLive.BaseURL == "" {
		errs = append(errs, errors.New("connectors.code_enforcement_live.base_url required when enabled"))
	}
	if cfg.Connectors.PropertyAppraiserLive.Enabled && cfg.Connectors.PropertyAppraiserLive.BaseURL == "" {
		errs = append(errs, errors.New("connectors.property_appraiser_live.base_url required when enabled"))
	}
	if cfg.Scheduler.LockTTL < time.Second {
		errs = append(errs, errors.New("scheduler.lock_ttl must be at least 1s"))
	}
	if k := cfg.Delivery.Kafka; len(k.Brokers) > 0 && k.Topic == "" {
		errs = append(errs, errors.New("delivery.kafka.topic required when brokers are set"))
	}
	if k := cfg.Ingest.Kafka; len(k.Brokers) > 0 && (k.Topic == "" || k.GroupID == "") {
		errs = append(errs, errors.New("ingest.kafka requires brokers, topic, group_id"))
	}
	if cfg.Ingest.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Ingest.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("ingest.timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := LoadOrDefault(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

// ReloadIfChanged reloads when the file changed since the last load and
// reports whether a new config is now active.
func (m *Manager) ReloadIfChanged() (*Config, bool, error) {
	needs, err := m.NeedsReload()
	if err != nil || !needs {
		return m.Get(), false, err
	}
	cfg, err := m.Reload()
	if err != nil {
		return m.Get(), false, err
	}
	return cfg, true, nil
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
