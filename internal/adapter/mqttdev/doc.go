// Package mqttdev implements the adapter contract for lane devices that are
// reached through the MQTT broker instead of a direct connection.
//
// Commands are published as JSON to sitewatch/command/{device}. Devices
// report liveness on sitewatch/heartbeat/{device}; a shared
// HeartbeatTracker subscribes to all heartbeats once and every adapter
// consults it for its own device. A device is healthy while the broker is
// connected and its last heartbeat is fresher than the staleness window.
//
// Payment operations are not available over this transport.
package mqttdev
