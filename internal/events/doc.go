// Package events carries controller and site status transitions from the
// health-check scheduler and the site recalculator to their consumers:
// the MQTT broker, WebSocket clients and the InfluxDB history.
package events
