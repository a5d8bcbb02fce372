package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/sitewatch-core/internal/infrastructure/mqtt"
)

// MQTTPublisher is the subset of *mqtt.Client the MQTT sink needs.
type MQTTPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// statusPayload is the retained body of a status topic.
type statusPayload struct {
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
	EventID   string    `json:"event_id"`
}

// MQTTSink publishes each event on sitewatch/event/{type} and refreshes the
// retained status topic of its subject.
type MQTTSink struct {
	client MQTTPublisher
	qos    byte
}

// NewMQTTSink creates an MQTT sink publishing at qos.
func NewMQTTSink(client MQTTPublisher, qos byte) *MQTTSink {
	return &MQTTSink{client: client, qos: qos}
}

// Deliver implements Sink.
func (s *MQTTSink) Deliver(_ context.Context, ev Event) error {
	topics := mqtt.Topics{}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	if err := s.client.Publish(topics.Event(string(ev.Type)), body, s.qos, false); err != nil {
		return err
	}

	var statusTopic string
	switch ev.Type {
	case TypeControllerStatusChanged:
		statusTopic = topics.ControllerStatus(ev.ControllerID)
	case TypeSiteStatusChanged:
		statusTopic = topics.SiteStatus(ev.SiteID)
	default:
		return nil
	}

	status, err := json.Marshal(statusPayload{Status: ev.To, ChangedAt: ev.Timestamp, EventID: ev.ID})
	if err != nil {
		return fmt.Errorf("marshalling status: %w", err)
	}
	return s.client.Publish(statusTopic, status, s.qos, true)
}

// Broadcaster is the subset of the WebSocket hub the hub sink needs.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// HubSink forwards events to WebSocket clients subscribed to the event type.
type HubSink struct {
	hub Broadcaster
}

// NewHubSink creates a WebSocket sink.
func NewHubSink(hub Broadcaster) *HubSink {
	return &HubSink{hub: hub}
}

// Deliver implements Sink.
func (s *HubSink) Deliver(_ context.Context, ev Event) error {
	s.hub.Broadcast(string(ev.Type), ev)
	return nil
}

// SiteHistoryWriter is the subset of the InfluxDB client the history sink needs.
type SiteHistoryWriter interface {
	WriteSiteStatus(siteID, status string, at time.Time)
}

// HistorySink records site transitions in the time-series store.
// Controller observations are recorded by the scheduler directly.
type HistorySink struct {
	writer SiteHistoryWriter
}

// NewHistorySink creates a history sink.
func NewHistorySink(writer SiteHistoryWriter) *HistorySink {
	return &HistorySink{writer: writer}
}

// Deliver implements Sink.
func (s *HistorySink) Deliver(_ context.Context, ev Event) error {
	if ev.Type == TypeSiteStatusChanged {
		s.writer.WriteSiteStatus(ev.SiteID, ev.To, ev.Timestamp)
	}
	return nil
}
