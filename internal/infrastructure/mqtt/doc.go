// Package mqtt provides MQTT client connectivity for SiteWatch Core.
//
// The broker carries two kinds of traffic:
//
//   - Outbound status: controller and site status changes are published as
//     events (sitewatch/event/{type}) and as retained status topics so a
//     dashboard that connects late still sees current state.
//   - Device traffic: controllers with protocol code MQTT receive commands on
//     sitewatch/command/{device} and report liveness on
//     sitewatch/heartbeat/{device}.
//
// The client reconnects with backoff and restores its subscriptions. A Last
// Will on sitewatch/system/status marks the service offline if it dies.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(mqtt.Topics{}.SiteStatus("lot-3"), payload, 1, true)
package mqtt
