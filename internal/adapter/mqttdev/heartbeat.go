package mqttdev

import (
	"sync"
	"time"

	"github.com/nerrad567/sitewatch-core/internal/infrastructure/mqtt"
)

// Subscriber is the subset of the MQTT client the tracker needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// HeartbeatTracker records when each device last reported in.
// It is safe for concurrent use.
type HeartbeatTracker struct {
	mu   sync.RWMutex
	last map[string]time.Time
	now  func() time.Time
}

// NewHeartbeatTracker creates an empty tracker.
func NewHeartbeatTracker() *HeartbeatTracker {
	return &HeartbeatTracker{
		last: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Start subscribes to every device heartbeat topic.
func (t *HeartbeatTracker) Start(sub Subscriber, qos byte) error {
	return sub.Subscribe(mqtt.Topics{}.AllDeviceHeartbeats(), qos, t.handleHeartbeat)
}

// Stop drops the heartbeat subscription. Recorded heartbeats are kept.
func (t *HeartbeatTracker) Stop(sub Subscriber) error {
	return sub.Unsubscribe(mqtt.Topics{}.AllDeviceHeartbeats())
}

func (t *HeartbeatTracker) handleHeartbeat(topic string, _ []byte) error {
	deviceID, ok := mqtt.Topics{}.DeviceIDFromHeartbeat(topic)
	if !ok {
		return nil
	}
	t.Observe(deviceID, t.now())
	return nil
}

// Observe records a heartbeat for deviceID at the given time.
func (t *HeartbeatTracker) Observe(deviceID string, at time.Time) {
	t.mu.Lock()
	if prev, ok := t.last[deviceID]; !ok || at.After(prev) {
		t.last[deviceID] = at
	}
	t.mu.Unlock()
}

// LastSeen returns the last heartbeat time for deviceID.
func (t *HeartbeatTracker) LastSeen(deviceID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.last[deviceID]
	return at, ok
}
