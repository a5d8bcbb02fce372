// Package adapter defines the uniform contract SiteWatch uses to talk to
// lane controllers, regardless of the wire protocol behind them.
//
// An Adapter exposes the same set of lane operations (gate, display,
// payment) plus a health probe. Protocol packages such as adapter/pls and
// adapter/mqttdev provide implementations and register a Creator with a
// Factory under their protocol code:
//
//	factory := adapter.NewFactory(cfg.Service.IsProduction())
//	factory.Register("PLS", pls.NewCreator(plsOpts))
//
//	a, err := factory.Create(ctrl)
//	if err != nil {
//	    // *ResolveError: log and skip this controller only
//	}
//	err = a.CheckHealth(ctx)
//
// Device failures are reported as *DeviceError values wrapping one of the
// sentinel errors in errors.go, so callers classify them with errors.Is.
package adapter
