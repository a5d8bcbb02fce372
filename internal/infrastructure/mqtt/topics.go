package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the SiteWatch topic tree.
//
//	sitewatch/system/status                 retained service presence (LWT)
//	sitewatch/event/{type}                  status-change events
//	sitewatch/controller/{id}/status        retained controller status
//	sitewatch/site/{id}/status              retained site status
//	sitewatch/command/{device}              commands to MQTT-attached devices
//	sitewatch/heartbeat/{device}            device heartbeats
const (
	TopicPrefix       = "sitewatch"
	TopicPrefixSystem = TopicPrefix + "/system"
)

// Topics provides builders for SiteWatch MQTT topics.
//
//	topic := mqtt.Topics{}.DeviceCommand("pls-entry-1")
//	// Returns: "sitewatch/command/pls-entry-1"
type Topics struct{}

// SystemStatus returns the retained presence topic for this service.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// Event returns the topic an event of the given type is published on.
//
// Example: sitewatch/event/controller.status_changed
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, eventType)
}

// ControllerStatus returns the retained status topic for a controller.
func (Topics) ControllerStatus(controllerID int64) string {
	return fmt.Sprintf("%s/controller/%d/status", TopicPrefix, controllerID)
}

// SiteStatus returns the retained status topic for a site.
func (Topics) SiteStatus(siteID string) string {
	return fmt.Sprintf("%s/site/%s/status", TopicPrefix, siteID)
}

// DeviceCommand returns the topic commands for an MQTT device are sent on.
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// DeviceHeartbeat returns the topic a device publishes heartbeats on.
func (Topics) DeviceHeartbeat(deviceID string) string {
	return fmt.Sprintf("%s/heartbeat/%s", TopicPrefix, deviceID)
}

// AllDeviceHeartbeats returns a wildcard matching every device heartbeat.
func (Topics) AllDeviceHeartbeats() string {
	return TopicPrefix + "/heartbeat/+"
}

// DeviceIDFromHeartbeat extracts the device ID from a heartbeat topic.
func (Topics) DeviceIDFromHeartbeat(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"/heartbeat/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
