package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Bus.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sink receives every published event.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type namedSink struct {
	name string
	sink Sink
}

// Bus fans events out to its sinks in registration order.
//
// A failing or panicking sink is logged and does not stop delivery to the
// others. All methods are safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	sinks  []namedSink
	logger Logger
	now    func() time.Time
}

// NewBus creates a bus with no sinks.
func NewBus() *Bus {
	return &Bus{
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// AddSink registers a sink under name.
func (b *Bus) AddSink(name string, sink Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, namedSink{name: name, sink: sink})
	b.mu.Unlock()
}

// SinkNames returns registered sink names in delivery order.
func (b *Bus) SinkNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, len(b.sinks))
	for i, s := range b.sinks {
		names[i] = s.name
	}
	return names
}

// Publish stamps ev with an ID and timestamp when missing and delivers it.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now().UTC()
	}

	b.mu.RLock()
	sinks := make([]namedSink, len(b.sinks))
	copy(sinks, b.sinks)
	logger := b.logger
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := deliver(ctx, s.sink, ev); err != nil {
			logger.Warn("event delivery failed",
				"sink", s.name,
				"type", string(ev.Type),
				"event_id", ev.ID,
				"error", err,
			)
		}
	}
	logger.Debug("event published", "type", string(ev.Type), "event_id", ev.ID, "sinks", len(sinks))
}

func deliver(ctx context.Context, sink Sink, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return sink.Deliver(ctx, ev)
}
