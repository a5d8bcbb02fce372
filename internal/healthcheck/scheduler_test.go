package healthcheck

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/sitewatch-core/internal/adapter"
	"github.com/nerrad567/sitewatch-core/internal/controller"
	"github.com/nerrad567/sitewatch-core/internal/events"
	"github.com/nerrad567/sitewatch-core/internal/infrastructure/influxdb"
)

// fakeStore is an in-memory ControllerStore.
type fakeStore struct {
	mu        sync.Mutex
	ctrls     []controller.Controller
	findErr   error
	updateErr map[int64]error
	updates   map[int64]controller.Status
	finds     int
}

func (s *fakeStore) FindAllWithoutPagination(_ context.Context, _ controller.Filter, _ controller.Sort) ([]controller.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.findErr != nil {
		return nil, s.findErr
	}
	return append([]controller.Controller(nil), s.ctrls...), nil
}

func (s *fakeStore) Update(_ context.Context, id int64, patch controller.Patch) (*controller.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateErr[id]; err != nil {
		return nil, err
	}
	if s.updates == nil {
		s.updates = make(map[int64]controller.Status)
	}
	s.updates[id] = *patch.Status
	for i := range s.ctrls {
		if s.ctrls[i].ID == id {
			s.ctrls[i].Status = *patch.Status
			c := s.ctrls[i]
			return &c, nil
		}
	}
	return nil, controller.ErrNotFound
}

func (s *fakeStore) findCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds
}

// probeAdapter answers CheckHealth with a per-controller function.
type probeAdapter struct {
	check func(ctx context.Context) error
}

func (probeAdapter) OpenGate(context.Context, string) error                    { return nil }
func (probeAdapter) CloseGate(context.Context, string) error                   { return nil }
func (probeAdapter) SendDisplay(context.Context, string, string, string) error { return nil }
func (probeAdapter) SendPaymentInfo(context.Context, string, adapter.PaymentInfo) error {
	return nil
}
func (probeAdapter) RequestPayment(context.Context, string, string, int64) error { return nil }
func (probeAdapter) CancelPayment(context.Context, string) error                 { return nil }
func (p probeAdapter) CheckHealth(ctx context.Context) error                     { return p.check(ctx) }
func (probeAdapter) Capabilities() adapter.CapabilitySet {
	return adapter.RequiredCapabilities
}

func healthy(context.Context) error { return nil }

func unreachable(context.Context) error {
	return adapter.NewDeviceError(adapter.CapCheckHealth, 0, "", adapter.ErrDeviceUnreachable, nil)
}

// newFactory registers code FAKE whose adapters use probes[ctrl.ID].
func newFactory(probes map[int64]func(context.Context) error) *adapter.Factory {
	f := adapter.NewFactory(true)
	f.Register("FAKE", func(ctrl *controller.Controller) (adapter.Adapter, error) {
		check, ok := probes[ctrl.ID]
		if !ok {
			check = healthy
		}
		return probeAdapter{check: check}, nil
	})
	return f
}

type fakeSites struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (s *fakeSites) RecalculateStatus(_ context.Context, siteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[siteID]++
	return s.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

type fakeRecorder struct {
	mu     sync.Mutex
	obs    []influxdb.HealthObservation
	cycles int
}

func (r *fakeRecorder) WriteControllerHealth(obs influxdb.HealthObservation) {
	r.mu.Lock()
	r.obs = append(r.obs, obs)
	r.mu.Unlock()
}

func (r *fakeRecorder) WriteCycleStats(int, int, int, int, time.Duration) {
	r.mu.Lock()
	r.cycles++
	r.mu.Unlock()
}

func siteRef(id string) *string { return &id }

func ctrl(id int64, status controller.Status, siteID *string) controller.Controller {
	return controller.Controller{ID: id, Name: "lane", Code: "FAKE", Host: "10.0.0.1", Status: status, SiteID: siteID}
}

type harness struct {
	store     *fakeStore
	sites     *fakeSites
	publisher *recordingPublisher
	recorder  *fakeRecorder
	sched     *Scheduler
}

func newHarness(ctrls []controller.Controller, probes map[int64]func(context.Context) error, probeTimeout time.Duration) *harness {
	h := &harness{
		store:     &fakeStore{ctrls: ctrls},
		sites:     &fakeSites{},
		publisher: &recordingPublisher{},
		recorder:  &fakeRecorder{},
	}
	h.sched = New(Config{
		Interval:     time.Hour,
		ProbeTimeout: probeTimeout,
		Controllers:  h.store,
		Adapters:     newFactory(probes),
		Sites:        h.sites,
	})
	h.sched.SetPublisher(h.publisher)
	h.sched.SetRecorder(h.recorder)
	return h
}

func TestRunCycle_StatusTransitions(t *testing.T) {
	tests := []struct {
		name        string
		from        controller.Status
		probe       func(context.Context) error
		wantUpdate  bool
		wantStatus  controller.Status
		wantSiteRun bool
	}{
		{"unknown to online", controller.StatusUnknown, healthy, true, controller.StatusOnline, true},
		{"online to offline", controller.StatusOnline, unreachable, true, controller.StatusOffline, true},
		{"offline to online", controller.StatusOffline, healthy, true, controller.StatusOnline, true},
		{"online stays online", controller.StatusOnline, healthy, false, controller.StatusOnline, false},
		{"offline stays offline", controller.StatusOffline, unreachable, false, controller.StatusOffline, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(
				[]controller.Controller{ctrl(1, tt.from, siteRef("north"))},
				map[int64]func(context.Context) error{1: tt.probe},
				time.Second,
			)

			res, err := h.sched.RunCycle(context.Background())
			if err != nil {
				t.Fatalf("RunCycle() error = %v", err)
			}

			got, updated := h.store.updates[1]
			if updated != tt.wantUpdate {
				t.Fatalf("updated = %v, want %v", updated, tt.wantUpdate)
			}
			if updated && got != tt.wantStatus {
				t.Errorf("persisted status = %s, want %s", got, tt.wantStatus)
			}
			if (h.sites.calls["north"] == 1) != tt.wantSiteRun {
				t.Errorf("site recalculations = %v, want run=%v", h.sites.calls, tt.wantSiteRun)
			}

			wantEvents := 0
			if tt.wantUpdate {
				wantEvents = 1
			}
			if len(h.publisher.events) != wantEvents {
				t.Fatalf("events = %d, want %d", len(h.publisher.events), wantEvents)
			}
			if wantEvents == 1 {
				ev := h.publisher.events[0]
				if ev.Type != events.TypeControllerStatusChanged || ev.ControllerID != 1 ||
					ev.From != string(tt.from) || ev.To != string(tt.wantStatus) || ev.SiteID != "north" {
					t.Errorf("event = %+v", ev)
				}
			}

			if res.Checked != 1 || res.Changed != wantEvents {
				t.Errorf("result = %+v", res)
			}
			if len(h.recorder.obs) != 1 || h.recorder.cycles != 1 {
				t.Errorf("recorder got %d observations and %d cycles, want 1 and 1", len(h.recorder.obs), h.recorder.cycles)
			}
		})
	}
}

func TestRunCycle_SiteRecalculatedOncePerCycle(t *testing.T) {
	h := newHarness(
		[]controller.Controller{
			ctrl(1, controller.StatusUnknown, siteRef("north")),
			ctrl(2, controller.StatusUnknown, siteRef("north")),
			ctrl(3, controller.StatusOnline, siteRef("north")),
			ctrl(4, controller.StatusUnknown, siteRef("south")),
			ctrl(5, controller.StatusOnline, siteRef("east")),
			ctrl(6, controller.StatusUnknown, nil),
		},
		map[int64]func(context.Context) error{
			2: unreachable,
			3: unreachable,
		},
		time.Second,
	)

	res, err := h.sched.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	want := map[string]int{"north": 1, "south": 1}
	if len(h.sites.calls) != len(want) {
		t.Fatalf("site recalculations = %v, want %v", h.sites.calls, want)
	}
	for id, n := range want {
		if h.sites.calls[id] != n {
			t.Errorf("site %s recalculated %d times, want %d", id, h.sites.calls[id], n)
		}
	}
	if res.Changed != 5 || res.SitesRecalculated != 2 || res.Checked != 6 {
		t.Errorf("result = %+v, want 5 changed, 2 sites, 6 checked", res)
	}
}

func TestRunCycle_UnsupportedProtocolIsIsolated(t *testing.T) {
	unsupported := ctrl(2, controller.StatusOnline, siteRef("north"))
	unsupported.Code = "BACNET"

	h := newHarness(
		[]controller.Controller{
			ctrl(1, controller.StatusUnknown, siteRef("north")),
			unsupported,
			ctrl(3, controller.StatusUnknown, siteRef("south")),
		},
		nil,
		time.Second,
	)

	res, err := h.sched.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if _, ok := h.store.updates[2]; ok {
		t.Error("controller with unsupported protocol was updated")
	}
	if h.store.updates[1] != controller.StatusOnline || h.store.updates[3] != controller.StatusOnline {
		t.Errorf("updates = %v, want controllers 1 and 3 ONLINE", h.store.updates)
	}
	if res.Skipped != 1 || res.Checked != 2 {
		t.Errorf("result = %+v, want 1 skipped, 2 checked", res)
	}
}

func TestRunCycle_ProbeTimeoutMarksOffline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	// The probe ignores its context entirely.
	stuck := func(context.Context) error {
		<-release
		return nil
	}

	h := newHarness(
		[]controller.Controller{ctrl(1, controller.StatusOnline, siteRef("north"))},
		map[int64]func(context.Context) error{1: stuck},
		50*time.Millisecond,
	)

	start := time.Now()
	if _, err := h.sched.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("RunCycle() took %v, want the probe abandoned after the timeout", elapsed)
	}
	if h.store.updates[1] != controller.StatusOffline {
		t.Errorf("status = %q, want OFFLINE", h.store.updates[1])
	}
	if len(h.recorder.obs) != 1 || h.recorder.obs[0].Healthy || h.recorder.obs[0].Err == "" {
		t.Errorf("observation = %+v, want an unhealthy observation with an error", h.recorder.obs)
	}
}

func TestRunCycle_PanickingProbeMarksOffline(t *testing.T) {
	h := newHarness(
		[]controller.Controller{
			ctrl(1, controller.StatusOnline, nil),
			ctrl(2, controller.StatusUnknown, nil),
		},
		map[int64]func(context.Context) error{
			1: func(context.Context) error { panic("driver bug") },
		},
		time.Second,
	)

	if _, err := h.sched.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if h.store.updates[1] != controller.StatusOffline {
		t.Errorf("panicking controller status = %q, want OFFLINE", h.store.updates[1])
	}
	if h.store.updates[2] != controller.StatusOnline {
		t.Errorf("healthy controller status = %q, want ONLINE", h.store.updates[2])
	}
}

func TestRunCycle_LoadFailureAbortsCycle(t *testing.T) {
	h := newHarness(nil, nil, time.Second)
	boom := errors.New("database is locked")
	h.store.findErr = boom

	_, err := h.sched.RunCycle(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("RunCycle() error = %v, want %v", err, boom)
	}
	if len(h.sites.calls) != 0 || len(h.publisher.events) != 0 {
		t.Error("aborted cycle touched sites or published events")
	}
	if h.sched.Running() {
		t.Error("Running() = true after aborted cycle")
	}

	// The next cycle runs normally once the store recovers.
	h.store.findErr = nil
	if _, err := h.sched.RunCycle(context.Background()); err != nil {
		t.Errorf("second RunCycle() error = %v", err)
	}
}

func TestRunCycle_UpdateFailureSkipsSite(t *testing.T) {
	h := newHarness(
		[]controller.Controller{
			ctrl(1, controller.StatusUnknown, siteRef("north")),
			ctrl(2, controller.StatusUnknown, siteRef("south")),
		},
		nil,
		time.Second,
	)
	h.store.updateErr = map[int64]error{1: errors.New("disk full")}

	res, err := h.sched.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if _, ok := h.sites.calls["north"]; ok {
		t.Error("site of a controller whose update failed was recalculated")
	}
	if h.sites.calls["south"] != 1 {
		t.Errorf("south recalculated %d times, want 1", h.sites.calls["south"])
	}
	if res.Failed != 1 || res.Changed != 1 {
		t.Errorf("result = %+v, want 1 failed, 1 changed", res)
	}
	for _, ev := range h.publisher.events {
		if ev.ControllerID == 1 {
			t.Error("event published for a change that was not persisted")
		}
	}
}

func TestRunCycle_SiteFailureDoesNotFailCycle(t *testing.T) {
	h := newHarness([]controller.Controller{ctrl(1, controller.StatusUnknown, siteRef("north"))}, nil, time.Second)
	h.sites.err = errors.New("sites table missing")

	res, err := h.sched.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if res.SitesRecalculated != 0 || res.Changed != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestRunCycle_OverlapGuard(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	h := newHarness(
		[]controller.Controller{ctrl(1, controller.StatusUnknown, nil)},
		map[int64]func(context.Context) error{
			1: func(context.Context) error {
				close(started)
				<-release
				return nil
			},
		},
		5*time.Second,
	)

	firstDone := make(chan error, 1)
	go func() {
		_, err := h.sched.RunCycle(context.Background())
		firstDone <- err
	}()

	<-started
	if !h.sched.Running() {
		t.Error("Running() = false while a cycle is in flight")
	}
	if _, err := h.sched.RunCycle(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Errorf("concurrent RunCycle() error = %v, want ErrCycleInProgress", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first RunCycle() error = %v", err)
	}
	if h.store.findCount() != 1 {
		t.Errorf("controllers loaded %d times, want 1", h.store.findCount())
	}
}

func TestRunCycle_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	probe := func(context.Context) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}

	var ctrls []controller.Controller
	probes := make(map[int64]func(context.Context) error)
	for id := int64(1); id <= 8; id++ {
		ctrls = append(ctrls, ctrl(id, controller.StatusOnline, nil))
		probes[id] = probe
	}

	store := &fakeStore{ctrls: ctrls}
	s := New(Config{
		ProbeTimeout:   time.Second,
		MaxConcurrency: 2,
		Controllers:    store,
		Adapters:       newFactory(probes),
		Sites:          &fakeSites{},
	})

	res, err := s.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if res.Checked != 8 {
		t.Errorf("Checked = %d, want 8", res.Checked)
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrent probes = %d, want <= 2", p)
	}
}

func TestRunCycle_CancelledContextLeavesStatusAlone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	h := newHarness(
		[]controller.Controller{ctrl(1, controller.StatusOnline, siteRef("north"))},
		map[int64]func(context.Context) error{
			1: func(probeCtx context.Context) error {
				cancel()
				<-probeCtx.Done()
				return probeCtx.Err()
			},
		},
		5*time.Second,
	)

	res, err := h.sched.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(h.store.updates) != 0 {
		t.Errorf("updates = %v, want none after shutdown", h.store.updates)
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}
}

type fakeLock struct {
	mu         sync.Mutex
	held       bool
	err        error
	refreshErr error
	ttl        time.Duration
	refreshes  int
	released   int
}

func (l *fakeLock) TryLock(context.Context) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if l.held {
		return "", false, nil
	}
	l.held = true
	return "token", true, nil
}

func (l *fakeLock) Refresh(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshes++
	return l.refreshErr
}

func (l *fakeLock) Unlock(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.released++
	return nil
}

func (l *fakeLock) TTL() time.Duration {
	if l.ttl == 0 {
		return time.Minute
	}
	return l.ttl
}

func TestRunCycle_DistributedLock(t *testing.T) {
	t.Run("held elsewhere", func(t *testing.T) {
		h := newHarness([]controller.Controller{ctrl(1, controller.StatusUnknown, nil)}, nil, time.Second)
		h.sched.SetLock(&fakeLock{held: true})

		if _, err := h.sched.RunCycle(context.Background()); !errors.Is(err, ErrCycleInProgress) {
			t.Errorf("RunCycle() error = %v, want ErrCycleInProgress", err)
		}
		if h.store.findCount() != 0 {
			t.Error("controllers loaded without holding the lock")
		}
	})

	t.Run("acquired and released", func(t *testing.T) {
		lock := &fakeLock{}
		h := newHarness([]controller.Controller{ctrl(1, controller.StatusUnknown, nil)}, nil, time.Second)
		h.sched.SetLock(lock)

		if _, err := h.sched.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}
		if lock.released != 1 || lock.held {
			t.Errorf("lock released %d times, held=%v", lock.released, lock.held)
		}
	})

	t.Run("lock backend down", func(t *testing.T) {
		boom := errors.New("redis: connection refused")
		h := newHarness(nil, nil, time.Second)
		h.sched.SetLock(&fakeLock{err: boom})

		if _, err := h.sched.RunCycle(context.Background()); !errors.Is(err, boom) {
			t.Errorf("RunCycle() error = %v, want %v", err, boom)
		}
	})

	t.Run("refreshed while the cycle runs", func(t *testing.T) {
		lock := &fakeLock{ttl: 30 * time.Millisecond}
		slow := func(context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		}
		h := newHarness(
			[]controller.Controller{ctrl(1, controller.StatusUnknown, nil)},
			map[int64]func(context.Context) error{1: slow},
			time.Second,
		)
		h.sched.SetLock(lock)

		if _, err := h.sched.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle() error = %v", err)
		}
		lock.mu.Lock()
		defer lock.mu.Unlock()
		if lock.refreshes < 2 {
			t.Errorf("lock refreshed %d times during a cycle of 10 refresh periods, want >= 2", lock.refreshes)
		}
		if lock.released != 1 {
			t.Errorf("lock released %d times, want 1", lock.released)
		}
	})

	t.Run("lost lock aborts the cycle", func(t *testing.T) {
		boom := errors.New("lock not held")
		lock := &fakeLock{ttl: 30 * time.Millisecond, refreshErr: boom}
		waitForCancel := func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}
		h := newHarness(
			[]controller.Controller{ctrl(1, controller.StatusOnline, siteRef("north"))},
			map[int64]func(context.Context) error{1: waitForCancel},
			5*time.Second,
		)
		h.sched.SetLock(lock)

		res, err := h.sched.RunCycle(context.Background())
		if !errors.Is(err, ErrLockLost) || !errors.Is(err, boom) {
			t.Fatalf("RunCycle() error = %v, want ErrLockLost wrapping %v", err, boom)
		}
		if len(h.store.updates) != 0 {
			t.Errorf("updates = %v, want none after losing the lock", h.store.updates)
		}
		if len(h.sites.calls) != 0 {
			t.Errorf("site calls = %v, want none after losing the lock", h.sites.calls)
		}
		if res.Skipped != 1 {
			t.Errorf("Skipped = %d, want 1", res.Skipped)
		}
		if h.sched.Running() {
			t.Error("Running() = true after aborted cycle")
		}
	})
}

func TestStart_KeepsTickingWhileLoadFails(t *testing.T) {
	store := &fakeStore{findErr: errors.New("database is locked")}
	s := New(Config{
		Interval:     10 * time.Millisecond,
		ProbeTimeout: 5 * time.Millisecond,
		Controllers:  store,
		Adapters:     newFactory(nil),
		Sites:        &fakeSites{},
	})

	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for store.findCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if n := store.findCount(); n < 3 {
		t.Fatalf("controllers loaded %d times, want scheduled cycles to keep firing after failures", n)
	}
	if s.Running() {
		t.Error("Running() = true after Stop")
	}

	// Stop is idempotent.
	s.Stop()
}

func TestScheduler_StartStop(t *testing.T) {
	store := &fakeStore{ctrls: []controller.Controller{ctrl(1, controller.StatusUnknown, nil)}}
	s := New(Config{
		Interval:     10 * time.Millisecond,
		ProbeTimeout: time.Second,
		Controllers:  store,
		Adapters:     newFactory(nil),
		Sites:        &fakeSites{},
	})

	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for store.findCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	s.Stop()

	if n := store.findCount(); n < 3 {
		t.Errorf("cycles run = %d, want at least 3", n)
	}
	after := store.findCount()
	time.Sleep(50 * time.Millisecond)
	if store.findCount() != after {
		t.Error("cycles kept running after Stop")
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{})
	if s.interval != DefaultInterval || s.probeTimeout != DefaultProbeTimeout || s.maxConcurrency != DefaultMaxConcurrency {
		t.Errorf("defaults = %v/%v/%d", s.interval, s.probeTimeout, s.maxConcurrency)
	}
}
