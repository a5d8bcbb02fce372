package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementControllerHealth = "controller_health"
	MeasurementSiteStatus       = "site_status"
	MeasurementHealthCycle      = "health_cycle"
)

// HealthObservation is one probe result for one controller.
type HealthObservation struct {
	ControllerID int64
	Code         string
	SiteID       string
	Healthy      bool
	Latency      time.Duration
	Err          string
	At           time.Time
}

// WriteControllerHealth records a probe result.
//
//	client.WriteControllerHealth(influxdb.HealthObservation{
//	    ControllerID: 7, Code: "PLS", SiteID: "lot-3", Healthy: true, Latency: 12 * time.Millisecond,
//	})
func (c *Client) WriteControllerHealth(obs HealthObservation) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"controller_id": strconv.FormatInt(obs.ControllerID, 10),
		"code":          obs.Code,
	}
	if obs.SiteID != "" {
		tags["site_id"] = obs.SiteID
	}

	up := 0
	if obs.Healthy {
		up = 1
	}
	fields := map[string]interface{}{
		"up":         up,
		"latency_ms": float64(obs.Latency.Microseconds()) / 1000,
	}
	if obs.Err != "" {
		fields["error"] = obs.Err
	}

	at := obs.At
	if at.IsZero() {
		at = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementControllerHealth, tags, fields, at))
}

// WriteSiteStatus records a site status transition.
func (c *Client) WriteSiteStatus(siteID, status string, at time.Time) {
	c.WritePointWithTime(MeasurementSiteStatus,
		map[string]string{"site_id": siteID},
		map[string]interface{}{"status": status},
		at,
	)
}

// WriteCycleStats records the outcome of one reconciliation cycle.
func (c *Client) WriteCycleStats(checked, skipped, changed, sites int, duration time.Duration) {
	c.WritePoint(MeasurementHealthCycle, nil, map[string]interface{}{
		"checked":     checked,
		"skipped":     skipped,
		"changed":     changed,
		"sites":       sites,
		"duration_ms": duration.Milliseconds(),
	})
}

// WritePoint writes a custom point timestamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
