package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Deliver(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

type countingLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *countingLogger) Debug(string, ...any) {}
func (l *countingLogger) Error(string, ...any) {}
func (l *countingLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func TestBus_PublishStampsAndFansOut(t *testing.T) {
	bus := NewBus()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bus.now = func() time.Time { return fixed }

	first, second := &recordingSink{}, &recordingSink{}
	bus.AddSink("first", first)
	bus.AddSink("second", second)

	bus.Publish(context.Background(), ControllerStatusChanged(7, "PLS", "lot-3", "ONLINE", "OFFLINE"))

	for name, s := range map[string]*recordingSink{"first": first, "second": second} {
		if len(s.events) != 1 {
			t.Fatalf("%s sink got %d events, want 1", name, len(s.events))
		}
		ev := s.events[0]
		if ev.ID == "" {
			t.Errorf("%s: event ID not set", name)
		}
		if !ev.Timestamp.Equal(fixed) {
			t.Errorf("%s: Timestamp = %v, want %v", name, ev.Timestamp, fixed)
		}
		if ev.Type != TypeControllerStatusChanged || ev.ControllerID != 7 || ev.To != "OFFLINE" {
			t.Errorf("%s: event = %+v", name, ev)
		}
	}
	if first.events[0].ID != second.events[0].ID {
		t.Error("sinks saw different event IDs")
	}
}

func TestBus_FailingSinksDoNotStopDelivery(t *testing.T) {
	bus := NewBus()
	logger := &countingLogger{}
	bus.SetLogger(logger)

	last := &recordingSink{}
	bus.AddSink("broken", &recordingSink{err: errors.New("broker down")})
	bus.AddSink("panicky", SinkFunc(func(context.Context, Event) error { panic("boom") }))
	bus.AddSink("last", last)

	bus.Publish(context.Background(), SiteStatusChanged("lot-3", "ONLINE", "PARTIAL"))

	if len(last.events) != 1 {
		t.Errorf("last sink got %d events, want 1", len(last.events))
	}
	if logger.warns != 2 {
		t.Errorf("warns = %d, want 2", logger.warns)
	}
	if got := bus.SinkNames(); len(got) != 3 || got[0] != "broken" || got[2] != "last" {
		t.Errorf("SinkNames() = %v", got)
	}
}

func TestBus_KeepsProvidedIDAndTimestamp(t *testing.T) {
	bus := NewBus()
	sink := &recordingSink{}
	bus.AddSink("s", sink)

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := SiteStatusChanged("lot-1", "UNKNOWN", "ONLINE")
	ev.ID = "fixed-id"
	ev.Timestamp = at
	bus.Publish(context.Background(), ev)

	if sink.events[0].ID != "fixed-id" || !sink.events[0].Timestamp.Equal(at) {
		t.Errorf("event = %+v, want caller's ID and timestamp", sink.events[0])
	}
}

type fakeMQTT struct {
	published []publishedMsg
	err       error
}

type publishedMsg struct {
	topic    string
	payload  []byte
	retained bool
}

func (f *fakeMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedMsg{topic: topic, payload: payload, retained: retained})
	return nil
}

func TestMQTTSink(t *testing.T) {
	tests := []struct {
		name        string
		ev          Event
		statusTopic string
	}{
		{
			name:        "controller event",
			ev:          ControllerStatusChanged(42, "PLS", "lot-3", "UNKNOWN", "ONLINE"),
			statusTopic: "sitewatch/controller/42/status",
		},
		{
			name:        "site event",
			ev:          SiteStatusChanged("lot-3", "ONLINE", "PARTIAL"),
			statusTopic: "sitewatch/site/lot-3/status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeMQTT{}
			tt.ev.ID = "ev-1"
			if err := NewMQTTSink(client, 1).Deliver(context.Background(), tt.ev); err != nil {
				t.Fatalf("Deliver() error = %v", err)
			}
			if len(client.published) != 2 {
				t.Fatalf("published %d messages, want 2", len(client.published))
			}

			event := client.published[0]
			if event.topic != "sitewatch/event/"+string(tt.ev.Type) || event.retained {
				t.Errorf("event message = %s retained=%v", event.topic, event.retained)
			}
			var decoded Event
			if err := json.Unmarshal(event.payload, &decoded); err != nil || decoded.ID != "ev-1" {
				t.Errorf("event payload = %s (%v)", event.payload, err)
			}

			status := client.published[1]
			if status.topic != tt.statusTopic || !status.retained {
				t.Errorf("status message = %s retained=%v, want %s retained", status.topic, status.retained, tt.statusTopic)
			}
			var body statusPayload
			if err := json.Unmarshal(status.payload, &body); err != nil || body.Status != tt.ev.To {
				t.Errorf("status payload = %s (%v)", status.payload, err)
			}
		})
	}
}

func TestMQTTSink_PublishError(t *testing.T) {
	client := &fakeMQTT{err: errors.New("not connected")}
	err := NewMQTTSink(client, 1).Deliver(context.Background(), SiteStatusChanged("a", "x", "y"))
	if err == nil {
		t.Error("Deliver() should surface publish errors")
	}
}

type fakeHub struct {
	channel string
	payload any
}

func (h *fakeHub) Broadcast(channel string, payload any) {
	h.channel = channel
	h.payload = payload
}

func TestHubSink(t *testing.T) {
	hub := &fakeHub{}
	ev := SiteStatusChanged("lot-3", "ONLINE", "OFFLINE")
	if err := NewHubSink(hub).Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if hub.channel != "site.status_changed" {
		t.Errorf("channel = %q", hub.channel)
	}
	if got, ok := hub.payload.(Event); !ok || got.SiteID != "lot-3" {
		t.Errorf("payload = %#v", hub.payload)
	}
}

type fakeHistory struct {
	writes []string
}

func (h *fakeHistory) WriteSiteStatus(siteID, status string, _ time.Time) {
	h.writes = append(h.writes, siteID+"="+status)
}

func TestHistorySink(t *testing.T) {
	history := &fakeHistory{}
	sink := NewHistorySink(history)
	ctx := context.Background()

	_ = sink.Deliver(ctx, ControllerStatusChanged(1, "PLS", "lot-3", "ONLINE", "OFFLINE"))
	_ = sink.Deliver(ctx, SiteStatusChanged("lot-3", "ONLINE", "PARTIAL"))

	if len(history.writes) != 1 || history.writes[0] != "lot-3=PARTIAL" {
		t.Errorf("writes = %v, want only the site transition", history.writes)
	}
}
