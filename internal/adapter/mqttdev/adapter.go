package mqttdev

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sitewatch-core/internal/adapter"
	"github.com/nerrad567/sitewatch-core/internal/controller"
	"github.com/nerrad567/sitewatch-core/internal/infrastructure/config"
	"github.com/nerrad567/sitewatch-core/internal/infrastructure/mqtt"
)

// Protocol is the controller code MQTT devices are registered under.
const Protocol = "MQTT"

// DefaultStaleAfter is used when the configuration leaves the window unset.
const DefaultStaleAfter = 90 * time.Second

// Broker is the subset of the MQTT client the adapter publishes through.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

var _ adapter.Adapter = (*Adapter)(nil)

// capabilities lists what the transport supports; payment is not among them.
var capabilities = adapter.CapabilitySet{
	adapter.CapOpenGate,
	adapter.CapCloseGate,
	adapter.CapSendDisplay,
	adapter.CapCheckHealth,
}

// command is the JSON body published to a device command topic.
type command struct {
	ID       string    `json:"id"`
	Command  string    `json:"command"`
	Lane     string    `json:"lane"`
	Line1    string    `json:"line1,omitempty"`
	Line2    string    `json:"line2,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// Adapter drives one MQTT-attached device.
type Adapter struct {
	ctrl       controller.Controller
	deviceID   string
	broker     Broker
	tracker    *HeartbeatTracker
	staleAfter time.Duration
	qos        byte
	now        func() time.Time
}

// NewCreator returns a factory creator sharing broker and tracker.
func NewCreator(broker Broker, tracker *HeartbeatTracker, cfg config.MQTTAdapterConfig, qos byte) adapter.Creator {
	return func(ctrl *controller.Controller) (adapter.Adapter, error) {
		return New(ctrl, broker, tracker, cfg, qos)
	}
}

// New builds an adapter for ctrl. The device ID comes from the controller
// config, falling back to the controller host.
func New(ctrl *controller.Controller, broker Broker, tracker *HeartbeatTracker, cfg config.MQTTAdapterConfig, qos byte) (*Adapter, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("%w: nil controller", adapter.ErrConfiguration)
	}
	if broker == nil || tracker == nil {
		return nil, fmt.Errorf("%w: mqtt broker is not available", adapter.ErrConfiguration)
	}

	deviceID := strings.TrimSpace(ctrl.Config.DeviceID)
	if deviceID == "" {
		deviceID = strings.TrimSpace(ctrl.Host)
	}
	if deviceID == "" || strings.ContainsAny(deviceID, "/+#") {
		return nil, fmt.Errorf("%w: controller %d has no usable device id", adapter.ErrConfiguration, ctrl.ID)
	}

	staleAfter := cfg.HeartbeatStaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	return &Adapter{
		ctrl:       *ctrl,
		deviceID:   deviceID,
		broker:     broker,
		tracker:    tracker,
		staleAfter: staleAfter,
		qos:        qos,
		now:        time.Now,
	}, nil
}

// DeviceID returns the MQTT device identifier.
func (a *Adapter) DeviceID() string {
	return a.deviceID
}

// Capabilities reports gate, display and health; payment is unsupported.
func (a *Adapter) Capabilities() adapter.CapabilitySet {
	return capabilities
}

// OpenGate publishes an open_gate command.
func (a *Adapter) OpenGate(ctx context.Context, lane string) error {
	return a.send(ctx, adapter.CapOpenGate, command{Command: string(adapter.CapOpenGate), Lane: lane})
}

// CloseGate publishes a close_gate command.
func (a *Adapter) CloseGate(ctx context.Context, lane string) error {
	return a.send(ctx, adapter.CapCloseGate, command{Command: string(adapter.CapCloseGate), Lane: lane})
}

// SendDisplay publishes a display command.
func (a *Adapter) SendDisplay(ctx context.Context, lane, line1, line2 string) error {
	return a.send(ctx, adapter.CapSendDisplay, command{
		Command: string(adapter.CapSendDisplay),
		Lane:    lane,
		Line1:   line1,
		Line2:   line2,
	})
}

// SendPaymentInfo is not supported over MQTT.
func (a *Adapter) SendPaymentInfo(_ context.Context, lane string, _ adapter.PaymentInfo) error {
	return a.unsupported(adapter.CapSendPaymentInfo, lane)
}

// RequestPayment is not supported over MQTT.
func (a *Adapter) RequestPayment(_ context.Context, lane, _ string, _ int64) error {
	return a.unsupported(adapter.CapRequestPayment, lane)
}

// CancelPayment is not supported over MQTT.
func (a *Adapter) CancelPayment(_ context.Context, lane string) error {
	return a.unsupported(adapter.CapCancelPayment, lane)
}

// CheckHealth passes when the broker is connected and the device's last
// heartbeat is within the staleness window.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	op := adapter.CapCheckHealth
	if err := ctx.Err(); err != nil {
		return a.fail(op, "", contextKind(err), err)
	}
	if !a.broker.IsConnected() {
		return a.fail(op, "", adapter.ErrDeviceUnreachable, mqtt.ErrNotConnected)
	}

	last, ok := a.tracker.LastSeen(a.deviceID)
	if !ok {
		return a.fail(op, "", adapter.ErrDeviceUnreachable,
			fmt.Errorf("no heartbeat from device %q", a.deviceID))
	}
	if age := a.now().Sub(last); age > a.staleAfter {
		return a.fail(op, "", adapter.ErrDeviceUnreachable,
			fmt.Errorf("last heartbeat from device %q was %s ago", a.deviceID, age.Round(time.Second)))
	}
	return nil
}

func (a *Adapter) send(ctx context.Context, op adapter.Capability, cmd command) error {
	if !a.ctrl.HasLane(cmd.Lane) {
		return a.fail(op, cmd.Lane, adapter.ErrUnknownLane, fmt.Errorf("lane %q is not configured", cmd.Lane))
	}
	if err := ctx.Err(); err != nil {
		return a.fail(op, cmd.Lane, contextKind(err), err)
	}

	cmd.ID = uuid.NewString()
	cmd.IssuedAt = a.now().UTC()
	payload, err := json.Marshal(cmd)
	if err != nil {
		return a.fail(op, cmd.Lane, adapter.ErrProtocol, err)
	}

	topic := mqtt.Topics{}.DeviceCommand(a.deviceID)
	if err := a.broker.Publish(topic, payload, a.qos, false); err != nil {
		kind := adapter.ErrDeviceUnreachable
		if !errors.Is(err, mqtt.ErrNotConnected) && !errors.Is(err, mqtt.ErrPublishFailed) {
			kind = adapter.ErrProtocol
		}
		return a.fail(op, cmd.Lane, kind, err)
	}
	return nil
}

func (a *Adapter) unsupported(op adapter.Capability, lane string) error {
	return a.fail(op, lane, adapter.ErrCapabilityUnsupported,
		errors.New("payment is not available over mqtt"))
}

// contextKind maps a done context to a failure kind. Only an expired
// deadline is a timeout; a caller that cancelled is not.
func contextKind(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return adapter.ErrTimeout
	}
	return adapter.ErrDeviceUnreachable
}

func (a *Adapter) fail(op adapter.Capability, lane string, kind, cause error) error {
	return adapter.NewDeviceError(op, a.ctrl.ID, lane, kind, cause)
}
