package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/sitewatch-core/internal/adapter"
	"github.com/nerrad567/sitewatch-core/internal/controller"
	"github.com/nerrad567/sitewatch-core/internal/events"
	"github.com/nerrad567/sitewatch-core/internal/infrastructure/influxdb"
)

// Defaults applied by New when Config leaves a field unset.
const (
	DefaultInterval       = 30 * time.Second
	DefaultProbeTimeout   = 5 * time.Second
	DefaultMaxConcurrency = 16
)

// Logger defines the logging interface used by the Scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ControllerStore is the subset of controller.Repository the cycle needs.
type ControllerStore interface {
	FindAllWithoutPagination(ctx context.Context, filter controller.Filter, sort controller.Sort) ([]controller.Controller, error)
	Update(ctx context.Context, id int64, patch controller.Patch) (*controller.Controller, error)
}

// AdapterResolver builds the adapter for a controller. *adapter.Factory
// satisfies it.
type AdapterResolver interface {
	Create(ctrl *controller.Controller) (adapter.Adapter, error)
}

// SiteRecalculator refreshes a site's derived status. *site.Service
// satisfies it.
type SiteRecalculator interface {
	RecalculateStatus(ctx context.Context, siteID string) error
}

// Recorder stores health observations as time series. *influxdb.Client
// satisfies it.
type Recorder interface {
	WriteControllerHealth(obs influxdb.HealthObservation)
	WriteCycleStats(checked, skipped, changed, sites int, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) WriteControllerHealth(influxdb.HealthObservation)  {}
func (noopRecorder) WriteCycleStats(int, int, int, int, time.Duration) {}

// CycleLock serialises cycles across processes. TryLock returns
// acquired=false when another holder owns the lock. A held lock expires
// after TTL unless refreshed with its token. *redis.Lock satisfies it.
type CycleLock interface {
	TryLock(ctx context.Context) (token string, acquired bool, err error)
	Refresh(ctx context.Context, token string) error
	Unlock(ctx context.Context, token string) error
	TTL() time.Duration
}

// Config holds the scheduler's settings and collaborators.
type Config struct {
	// Interval between cycle starts. Default: 30 seconds.
	Interval time.Duration

	// ProbeTimeout bounds each CheckHealth call. Default: 5 seconds.
	ProbeTimeout time.Duration

	// MaxConcurrency limits simultaneous probes. Default: 16.
	MaxConcurrency int

	Controllers ControllerStore
	Adapters    AdapterResolver
	Sites       SiteRecalculator
}

// CycleResult summarises one cycle.
type CycleResult struct {
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration_ns"`
	Controllers       int           `json:"controllers"`
	Checked           int           `json:"checked"`
	Skipped           int           `json:"skipped"`
	Changed           int           `json:"changed"`
	Failed            int           `json:"failed"`
	SitesRecalculated int           `json:"sites_recalculated"`
}

// Scheduler runs health cycles on a ticker and on demand.
type Scheduler struct {
	interval       time.Duration
	probeTimeout   time.Duration
	maxConcurrency int

	controllers ControllerStore
	adapters    AdapterResolver
	sites       SiteRecalculator

	publisher events.Publisher
	recorder  Recorder
	lock      CycleLock
	logger    Logger
	now       func() time.Time

	// running guards against overlapping cycles in this process.
	running atomic.Bool

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a scheduler. Call Start to begin periodic cycles.
func New(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	return &Scheduler{
		interval:       interval,
		probeTimeout:   probeTimeout,
		maxConcurrency: maxConcurrency,
		controllers:    cfg.Controllers,
		adapters:       cfg.Adapters,
		sites:          cfg.Sites,
		publisher:      events.Discard,
		recorder:       noopRecorder{},
		logger:         noopLogger{},
		now:            time.Now,
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// SetPublisher sets where controller status changes are announced.
func (s *Scheduler) SetPublisher(p events.Publisher) {
	s.publisher = p
}

// SetRecorder enables time-series recording of observations.
func (s *Scheduler) SetRecorder(r Recorder) {
	s.recorder = r
}

// SetLock adds a cross-process cycle lock.
func (s *Scheduler) SetLock(lock CycleLock) {
	s.lock = lock
}

// Running reports whether a cycle is in progress in this process.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start runs one cycle immediately and then one per interval until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
// Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts a cycle in the background so a slow cycle never delays the
// ticker; the overlap guard drops ticks that arrive while it runs.
func (s *Scheduler) tick(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		res, err := s.RunCycle(ctx)
		switch {
		case errors.Is(err, ErrCycleInProgress):
			s.logger.Info("skipping health cycle, previous cycle still running")
		case err != nil:
			s.logger.Error("health cycle failed", "error", err)
		default:
			s.logger.Info("health cycle complete",
				"controllers", res.Controllers,
				"checked", res.Checked,
				"skipped", res.Skipped,
				"changed", res.Changed,
				"failed", res.Failed,
				"sites", res.SitesRecalculated,
				"duration", res.Duration,
			)
		}
	}()
}

// RunCycle performs one full health cycle. It returns ErrCycleInProgress
// without doing anything if another cycle is running, and an error if the
// controller list cannot be loaded or the distributed lock is lost mid-cycle
// (ErrLockLost). Per-controller failures are logged and counted, never
// returned.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return CycleResult{}, ErrCycleInProgress
	}
	defer s.running.Store(false)

	cycleCtx := ctx
	if s.lock != nil {
		token, acquired, err := s.lock.TryLock(ctx)
		if err != nil {
			return CycleResult{}, fmt.Errorf("acquiring cycle lock: %w", err)
		}
		if !acquired {
			return CycleResult{}, ErrCycleInProgress
		}

		var abort context.CancelCauseFunc
		cycleCtx, abort = context.WithCancelCause(ctx)
		stopRefresh := s.keepLock(cycleCtx, token, abort)
		defer func() {
			stopRefresh()
			abort(nil)
			if err := s.lock.Unlock(context.WithoutCancel(ctx), token); err != nil {
				s.logger.Warn("releasing cycle lock failed", "error", err)
			}
		}()
	}

	return s.runCycle(cycleCtx)
}

func (s *Scheduler) runCycle(ctx context.Context) (CycleResult, error) {
	res := CycleResult{StartedAt: s.now()}

	ctrls, err := s.controllers.FindAllWithoutPagination(ctx, controller.Filter{}, controller.Sort{Field: "id"})
	if err != nil {
		return res, fmt.Errorf("loading controllers: %w", err)
	}
	res.Controllers = len(ctrls)

	var (
		tally    cycleTally
		affected = newSiteSet()
		g        errgroup.Group
	)
	g.SetLimit(s.maxConcurrency)
	for i := range ctrls {
		ctrl := &ctrls[i]
		g.Go(func() error {
			s.checkController(ctx, ctrl, affected, &tally)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	res.Checked = int(tally.checked.Load())
	res.Skipped = int(tally.skipped.Load())
	res.Changed = int(tally.changed.Load())
	res.Failed = int(tally.failed.Load())

	// Another replica may own the controllers now.
	if cause := context.Cause(ctx); errors.Is(cause, ErrLockLost) {
		res.Duration = s.now().Sub(res.StartedAt)
		return res, cause
	}

	for _, siteID := range affected.sorted() {
		if err := s.sites.RecalculateStatus(ctx, siteID); err != nil {
			s.logger.Error("site recalculation failed", "site_id", siteID, "error", err)
			continue
		}
		res.SitesRecalculated++
	}
	res.Duration = s.now().Sub(res.StartedAt)

	s.recorder.WriteCycleStats(res.Checked, res.Skipped, res.Changed, res.SitesRecalculated, res.Duration)
	return res, nil
}

// keepLock refreshes the cycle lock every third of its TTL until stop is
// called. If a refresh fails the cycle is cancelled with ErrLockLost.
func (s *Scheduler) keepLock(ctx context.Context, token string, abort context.CancelCauseFunc) (stop func()) {
	every := s.lock.TTL() / 3
	if every <= 0 {
		every = time.Second
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.lock.Refresh(ctx, token); err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.Error("cycle lock lost, aborting cycle", "error", err)
					abort(fmt.Errorf("%w: %w", ErrLockLost, err))
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

type cycleTally struct {
	checked atomic.Int64
	skipped atomic.Int64
	changed atomic.Int64
	failed  atomic.Int64
}

// checkController probes one controller and persists a status change.
func (s *Scheduler) checkController(ctx context.Context, ctrl *controller.Controller, affected *siteSet, tally *cycleTally) {
	a, err := s.adapters.Create(ctrl)
	if err != nil {
		tally.skipped.Add(1)
		s.logger.Warn("skipping controller, no usable adapter",
			"controller_id", ctrl.ID,
			"code", ctrl.Code,
			"error", err,
		)
		return
	}

	started := s.now()
	probeErr := adapter.CheckHealthWithin(ctx, a, s.probeTimeout)
	latency := s.now().Sub(started)

	// A probe cut short by shutdown says nothing about the device.
	if ctx.Err() != nil {
		tally.skipped.Add(1)
		return
	}
	tally.checked.Add(1)

	healthy := probeErr == nil
	obs := influxdb.HealthObservation{
		ControllerID: ctrl.ID,
		Code:         ctrl.ProtocolCode(),
		SiteID:       ctrl.SiteKey(),
		Healthy:      healthy,
		Latency:      latency,
		At:           started,
	}
	if probeErr != nil {
		obs.Err = probeErr.Error()
		s.logger.Debug("probe failed", "controller_id", ctrl.ID, "code", ctrl.Code, "error", probeErr)
	}
	s.recorder.WriteControllerHealth(obs)

	next := controller.StatusFromHealth(healthy)
	if next == ctrl.Status {
		return
	}

	if _, err := s.controllers.Update(ctx, ctrl.ID, controller.Patch{Status: &next}); err != nil {
		tally.failed.Add(1)
		s.logger.Error("persisting controller status failed",
			"controller_id", ctrl.ID,
			"status", string(next),
			"error", err,
		)
		return
	}
	tally.changed.Add(1)

	s.logger.Info("controller status changed",
		"controller_id", ctrl.ID,
		"code", ctrl.Code,
		"from", string(ctrl.Status),
		"to", string(next),
	)
	s.publisher.Publish(ctx, events.ControllerStatusChanged(
		ctrl.ID, ctrl.Code, ctrl.SiteKey(), string(ctrl.Status), string(next)))

	if siteID := ctrl.SiteKey(); siteID != "" {
		affected.add(siteID)
	}
}

// siteSet collects affected site IDs from concurrent workers.
type siteSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newSiteSet() *siteSet {
	return &siteSet{ids: make(map[string]struct{})}
}

func (s *siteSet) add(id string) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *siteSet) sorted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
