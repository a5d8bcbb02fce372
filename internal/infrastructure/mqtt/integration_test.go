//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"
)

// Integration tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_HeartbeatRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "sitewatch-int-heartbeat"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var mu sync.Mutex
	received := make(map[string]string)
	done := make(chan struct{}, 1)

	err = client.Subscribe(Topics{}.AllDeviceHeartbeats(), 1, func(topic string, payload []byte) error {
		id, ok := Topics{}.DeviceIDFromHeartbeat(topic)
		if !ok {
			return nil
		}
		mu.Lock()
		received[id] = string(payload)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.Publish(Topics{}.DeviceHeartbeat("int-device"), []byte(`{"ok":true}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("heartbeat not received")
	}

	mu.Lock()
	defer mu.Unlock()
	if received["int-device"] != `{"ok":true}` {
		t.Errorf("received = %v", received)
	}
}

func TestIntegration_RetainedStatus(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "sitewatch-int-retained"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := Topics{}.SiteStatus("int-site")
	if err := client.Publish(topic, []byte(`{"status":"ONLINE"}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := make(chan string, 1)
	if err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		select {
		case got <- string(payload):
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case p := <-got:
		if p != `{"status":"ONLINE"}` {
			t.Errorf("retained payload = %s", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained status not delivered")
	}
}
