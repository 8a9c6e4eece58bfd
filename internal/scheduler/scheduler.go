package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"parceltriggers/internal/config"
	"parceltriggers/internal/connector"
	"parceltriggers/internal/delivery"
	"parceltriggers/internal/engine"
	"parceltriggers/internal/logging"
	"parceltriggers/internal/metrics"
	"parceltriggers/internal/model"
	"parceltriggers/internal/rollup"
	"parceltriggers/internal/storage"
	"parceltriggers/internal/watchlist"
)

var ErrLockNotHeld = errors.New("scheduler lock not held")

// TickOptions mirror the scheduler CLI flags. Zero values fall back to the
// scheduler config.
type TickOptions struct {
	Now              time.Time
	Connectors       []string
	NoSavedSearches  bool
	NoConnectors     bool
	NoRollups        bool
	ConnectorLimit   int
	MaxSavedSearches int
	MaxParcels       int
}

type TickResult struct {
	OK            bool                   `json:"ok"`
	TickID        string                 `json:"tick_id"`
	Now           time.Time              `json:"now"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    time.Time              `json:"finished_at"`
	Counties      []string               `json:"counties"`
	Connectors    []string               `json:"connectors"`
	SavedSearches int                    `json:"saved_searches"`
	Runs          []model.RunSummary     `json:"runs"`
	Rollups       []model.RollupSummary  `json:"rollups"`
	Inbox         []watchlist.SyncResult `json:"inbox"`
	Deliveries    []delivery.Result      `json:"deliveries"`
	Errors        []string               `json:"errors,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

type OnceResult struct {
	OK       bool             `json:"ok"`
	Lock     model.LockStatus `json:"lock"`
	Released bool             `json:"released"`
	Tick     *TickResult      `json:"tick,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// ExitCode maps a scheduler result onto the process exit status.
func ExitCode(ok bool) int {
	if ok {
		return 0
	}
	return 2
}

type Options struct {
	Config     *config.Config
	Store      storage.Store
	Registry   *connector.Registry
	Channels   map[string]delivery.Channel
	Logger     *slog.Logger
	Metrics    *metrics.Pipeline
	HTTPClient *http.Client
	PID        int
}

type Scheduler struct {
	store      storage.Store
	registry   *connector.Registry
	engine     *engine.Engine
	dispatcher *delivery.Dispatcher
	cfg        atomic.Value
	logger     *slog.Logger
	metrics    *metrics.Pipeline
	httpClient *http.Client
	history    *History
	pid        int
}

func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, errors.New("store required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	registry := opts.Registry
	if registry == nil {
		var err error
		if registry, err = connector.DefaultRegistry(); err != nil {
			return nil, err
		}
	}
	channels := opts.Channels
	if channels == nil {
		channels = map[string]delivery.Channel{delivery.ChannelLog: delivery.NewLogChannel(opts.Logger)}
	}
	pid := opts.PID
	if pid == 0 {
		pid = os.Getpid()
	}
	s := &Scheduler{
		store:      opts.Store,
		registry:   registry,
		engine:     engine.NewEngine(cfg, opts.Logger, opts.Metrics, opts.Store),
		dispatcher: delivery.NewDispatcher(opts.Store, channels, opts.Logger, opts.Metrics),
		logger:     logging.With(opts.Logger, "scheduler"),
		metrics:    opts.Metrics,
		httpClient: opts.HTTPClient,
		history:    NewHistory(cfg.Scheduler.HistoryLimit),
		pid:        pid,
	}
	s.cfg.Store(cfg)
	return s, nil
}

func (s *Scheduler) UpdateConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
	s.engine.UpdateConfig(cfg)
}

func (s *Scheduler) config() *config.Config {
	if v := s.cfg.Load(); v != nil {
		if cfg, ok := v.(*config.Config); ok && cfg != nil {
			return cfg
		}
	}
	return config.DefaultConfig()
}

func (s *Scheduler) History() *History { return s.history }

func (s *Scheduler) PID() int { return s.pid }

func (s *Scheduler) LockName() string { return s.config().Scheduler.LockName }

// resolve fills option defaults from config and validates the connector
// keys. It performs no writes.
func (s *Scheduler) resolve(opts TickOptions) (TickOptions, error) {
	cfg := s.config().Scheduler
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	if len(opts.Connectors) == 0 {
		opts.Connectors = cfg.Connectors
	}
	if len(opts.Connectors) == 0 {
		opts.Connectors = connector.DefaultKeys()
	}
	if opts.ConnectorLimit <= 0 {
		opts.ConnectorLimit = cfg.ConnectorLimit
	}
	if opts.MaxSavedSearches <= 0 {
		opts.MaxSavedSearches = cfg.MaxSavedSearches
	}
	if opts.MaxParcels <= 0 {
		opts.MaxParcels = cfg.MaxParcels
	}
	if err := s.registry.Validate(opts.Connectors); err != nil {
		return opts, err
	}
	return opts, nil
}

// Tick runs one pass: read active saved searches, poll connectors per
// county, rebuild rollups, sync inboxes and deliver. The caller must hold
// the lock. Connector failures are reported in Runs and do not fail the
// tick; an unknown connector key fails it before any write.
func (s *Scheduler) Tick(ctx context.Context, opts TickOptions) TickResult {
	started := time.Now()
	res := TickResult{TickID: ulid.Make().String(), StartedAt: started.UTC()}
	defer func() {
		res.FinishedAt = time.Now().UTC()
		s.metrics.ObserveTick(res.OK, time.Since(started))
		s.history.Add(res)
	}()

	opts, err := s.resolve(opts)
	res.Now = opts.Now
	res.Connectors = opts.Connectors
	if err != nil {
		res.Error = err.Error()
		if s.logger != nil {
			s.logger.Error("tick rejected", "error", err)
		}
		return res
	}
	conns := make([]connector.Connector, 0, len(opts.Connectors))
	for _, key := range opts.Connectors {
		c, err := s.registry.Build(key, s.connectorDeps())
		if err != nil {
			res.Error = err.Error()
			return res
		}
		conns = append(conns, c)
	}

	var searches []model.SavedSearch
	if !opts.NoSavedSearches {
		searches, err = s.store.ListActiveSavedSearches(ctx, opts.MaxSavedSearches)
		if err != nil {
			res.Error = fmt.Sprintf("list saved searches: %v", err)
			return res
		}
	}
	res.SavedSearches = len(searches)
	res.Counties = countiesFor(searches, s.config().Scheduler.Counties)

	if !opts.NoConnectors {
		runs, err := s.runConnectors(ctx, res.Counties, conns, opts)
		res.Runs = runs
		if err != nil {
			res.Error = err.Error()
			return res
		}
	}

	if !opts.NoRollups {
		for _, county := range res.Counties {
			if err := ctx.Err(); err != nil {
				res.Error = err.Error()
				return res
			}
			summary, err := rollup.Rebuild(ctx, s.store, county, opts.Now, s.config().Engine.WindowDays)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("rollups %s: %v", county, err))
				continue
			}
			s.metrics.ObserveRollups(county, summary.Parcels)
			res.Rollups = append(res.Rollups, summary)
		}
	}

	for _, search := range searches {
		if err := ctx.Err(); err != nil {
			res.Error = err.Error()
			return res
		}
		synced, err := watchlist.Sync(ctx, s.store, search, opts.Now, opts.MaxParcels)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("inbox %s: %v", search.ID, err))
			continue
		}
		res.Inbox = append(res.Inbox, synced)
		delivered, err := s.dispatcher.Dispatch(ctx, search, opts.Now, opts.MaxParcels)
		res.Deliveries = append(res.Deliveries, delivered)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("deliver %s: %v", search.ID, err))
		}
	}

	res.OK = true
	if s.logger != nil {
		failed := 0
		for _, r := range res.Runs {
			if !r.OK {
				failed++
			}
		}
		s.logger.Info("tick complete",
			"tick_id", res.TickID,
			"counties", len(res.Counties),
			"runs", len(res.Runs),
			"failed_runs", failed,
			"saved_searches", res.SavedSearches,
			"errors", len(res.Errors),
		)
	}
	return res
}

func (s *Scheduler) connectorDeps() connector.Deps {
	return connector.Deps{
		Store:      s.store,
		Config:     s.config().Connectors,
		HTTPClient: s.httpClient,
		Logger:     s.logger,
	}
}

// countiesFor returns the distinct counties of searches, or fallback when
// no search names one.
func countiesFor(searches []model.SavedSearch, fallback []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range searches {
		c := strings.TrimSpace(s.County)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		for _, c := range fallback {
			c = strings.TrimSpace(c)
			if _, ok := seen[c]; ok || c == "" {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// runConnectors polls counties in parallel; within a county connectors run
// in order. Shutdown is checked after every connector call.
func (s *Scheduler) runConnectors(ctx context.Context, counties []string, conns []connector.Connector, opts TickOptions) ([]model.RunSummary, error) {
	perCounty := make([][]model.RunSummary, len(counties))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.config().Scheduler.Parallelism))
	for i, county := range counties {
		i, county := i, county
		g.Go(func() error {
			for _, c := range conns {
				summary, err := s.engine.RunConnectorOnce(gctx, c, county, opts.Now, opts.ConnectorLimit)
				perCounty[i] = append(perCounty[i], summary)
				if err != nil && s.logger != nil {
					s.logger.Warn("connector failed", "connector", c.Key(), "county", county, "error", err)
				}
				if err := gctx.Err(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err := g.Wait()
	var out []model.RunSummary
	for _, runs := range perCounty {
		out = append(out, runs...)
	}
	return out, err
}

// Once acquires the lock, runs one tick under a heartbeat and releases the
// lock. A held lock is reported as a non-OK result, never waited on. Losing
// the lock mid-tick cancels the tick.
func (s *Scheduler) Once(ctx context.Context, opts TickOptions) (OnceResult, error) {
	cfg := s.config().Scheduler
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	// unknown connectors fail before the lock row is written
	if _, err := s.resolve(opts); err != nil {
		return OnceResult{Lock: model.LockStatus{LockName: cfg.LockName}, Error: err.Error()}, nil
	}
	status, err := s.store.AcquireSchedulerLock(ctx, cfg.LockName, now, cfg.LockTTL, s.pid)
	if err != nil {
		s.metrics.ObserveLock("acquire", "error")
		return OnceResult{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !status.Acquired {
		s.metrics.ObserveLock("acquire", "contended")
		if s.logger != nil {
			s.logger.Info("scheduler lock held elsewhere", "lock", cfg.LockName, "held_by_pid", status.HeldByPID, "heartbeat_at", status.HeartbeatAt)
		}
		return OnceResult{Lock: status, Error: fmt.Sprintf("lock %s held by pid %d", cfg.LockName, status.HeldByPID)}, nil
	}
	s.metrics.ObserveLock("acquire", "acquired")

	opts.Now = now
	tickCtx, cancel := context.WithCancelCause(ctx)
	beat := make(chan struct{})
	go func() {
		defer close(beat)
		s.heartbeat(tickCtx, cancel, cfg.LockName, cfg.LockTTL)
	}()
	tick := s.Tick(tickCtx, opts)
	lost := context.Cause(tickCtx)
	cancel(nil)
	<-beat
	if errors.Is(lost, ErrLockNotHeld) {
		tick.OK = false
		tick.Error = lost.Error()
		return OnceResult{Lock: status, Tick: &tick, Error: tick.Error}, nil
	}
	released, err := s.store.ReleaseSchedulerLock(context.WithoutCancel(ctx), cfg.LockName, s.pid)
	if err != nil {
		return OnceResult{OK: false, Lock: status, Tick: &tick, Error: err.Error()}, fmt.Errorf("release lock: %w", err)
	}
	return OnceResult{OK: tick.OK, Lock: status, Released: released, Tick: &tick, Error: tick.Error}, nil
}

type LoopOptions struct {
	Tick     TickOptions
	Interval time.Duration
	// Reload is consulted between ticks; a changed config is applied to the
	// next tick.
	Reload func() (*config.Config, bool, error)
}

// Loop acquires the lock once, then ticks every interval while a heartbeat
// keeps the lock fresh. It returns when ctx ends or the lock is lost, and
// releases the lock on the way out.
func (s *Scheduler) Loop(ctx context.Context, opts LoopOptions) error {
	cfg := s.config().Scheduler
	if _, err := s.resolve(opts.Tick); err != nil {
		return err
	}
	status, err := s.store.AcquireSchedulerLock(ctx, cfg.LockName, time.Now().UTC(), cfg.LockTTL, s.pid)
	if err != nil {
		s.metrics.ObserveLock("acquire", "error")
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !status.Acquired {
		s.metrics.ObserveLock("acquire", "contended")
		return fmt.Errorf("%w: held by pid %d since %s", ErrLockNotHeld, status.HeldByPID, status.HeartbeatAt.Format(time.RFC3339))
	}
	s.metrics.ObserveLock("acquire", "acquired")
	defer func() {
		if _, err := s.store.ReleaseSchedulerLock(context.WithoutCancel(ctx), cfg.LockName, s.pid); err != nil && s.logger != nil {
			s.logger.Warn("release lock failed", "error", err)
		}
	}()

	loopCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go s.heartbeat(loopCtx, cancel, cfg.LockName, cfg.LockTTL)

	interval := opts.Interval
	if interval <= 0 {
		interval = cfg.Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		tickOpts := opts.Tick
		tickOpts.Now = time.Time{}
		s.Tick(loopCtx, tickOpts)
		select {
		case <-loopCtx.Done():
			if cause := context.Cause(loopCtx); errors.Is(cause, ErrLockNotHeld) {
				return cause
			}
			return nil
		case <-ticker.C:
		}
		if opts.Reload != nil {
			next, changed, err := opts.Reload()
			switch {
			case err != nil && s.logger != nil:
				s.logger.Warn("config reload failed", "error", err)
			case changed && next != nil:
				s.UpdateConfig(next)
				if s.logger != nil {
					s.logger.Info("config reloaded")
				}
			}
		}
	}
}

// heartbeat refreshes the lock at a third of its ttl and cancels ctx with
// ErrLockNotHeld once the lock is lost.
func (s *Scheduler) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, name string, ttl time.Duration) {
	t := time.NewTicker(max(ttl/3, 10*time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		status, err := s.store.RefreshSchedulerLock(ctx, name, time.Now().UTC(), ttl, s.pid)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.metrics.ObserveLock("refresh", "error")
			if s.logger != nil {
				s.logger.Warn("lock heartbeat failed", "error", err)
			}
			continue
		}
		if !status.Acquired {
			s.metrics.ObserveLock("refresh", "lost")
			cancel(fmt.Errorf("%w: taken by pid %d", ErrLockNotHeld, status.HeldByPID))
			return
		}
		s.metrics.ObserveLock("refresh", "ok")
	}
}
