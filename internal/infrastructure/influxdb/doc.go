// Package influxdb provides InfluxDB connectivity for SiteWatch Core.
//
// It wraps the official influxdb-client-go v2 library and stores the
// health history the SQLite store deliberately does not keep: every probe
// result, every site status transition and per-cycle statistics. SQLite
// only holds the current status of each controller and site.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteControllerHealth(influxdb.HealthObservation{ControllerID: 7, Healthy: true})
package influxdb
