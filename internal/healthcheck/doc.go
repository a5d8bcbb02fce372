// Package healthcheck runs the periodic controller health cycle.
//
// Each cycle loads every controller, resolves its adapter, probes it under
// a per-probe timeout and persists the resulting ONLINE/OFFLINE status only
// when it differs from the stored value. Probes run concurrently up to a
// configurable limit. After all probes have joined, every site that had a
// member change status is recalculated exactly once.
//
// A single failed probe flips a controller to OFFLINE; there is no
// hysteresis. Cycles never overlap: a tick that arrives while a cycle is
// still running is skipped. When a CycleLock is configured (Redis in
// multi-replica deployments) the same rule holds across processes.
//
// Usage:
//
//	s := healthcheck.New(healthcheck.Config{
//	    Interval:     30 * time.Second,
//	    ProbeTimeout: 5 * time.Second,
//	    Controllers:  controllerRepo,
//	    Adapters:     factory,
//	    Sites:        siteService,
//	})
//	s.SetLogger(logger)
//	s.Start(ctx)
//	defer s.Stop()
package healthcheck
