package pls

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/sitewatch-core/internal/adapter"
	"github.com/nerrad567/sitewatch-core/internal/controller"
	"github.com/nerrad567/sitewatch-core/internal/infrastructure/config"
)

// Protocol is the controller code PLS adapters are registered under.
const Protocol = "PLS"

// Default timeouts, used when the configuration leaves them unset.
const (
	DefaultDialTimeout = 3 * time.Second
	DefaultIOTimeout   = 5 * time.Second
	DefaultPort        = 5000
)

var _ adapter.Adapter = (*Adapter)(nil)

// Adapter talks to one PLS controller.
type Adapter struct {
	ctrl        controller.Controller
	address     string
	dialTimeout time.Duration
	ioTimeout   time.Duration
	encode      textEncoder
}

// NewCreator returns a factory creator bound to cfg.
func NewCreator(cfg config.PLSAdapterConfig) adapter.Creator {
	return func(ctrl *controller.Controller) (adapter.Adapter, error) {
		return New(ctrl, cfg)
	}
}

// New builds an adapter for ctrl.
func New(ctrl *controller.Controller, cfg config.PLSAdapterConfig) (*Adapter, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("%w: nil controller", adapter.ErrConfiguration)
	}
	if strings.TrimSpace(ctrl.Host) == "" {
		return nil, fmt.Errorf("%w: controller %d has no host", adapter.ErrConfiguration, ctrl.ID)
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	ioTimeout := cfg.IOTimeout
	if ioTimeout <= 0 {
		ioTimeout = DefaultIOTimeout
	}
	port := cfg.DefaultPort
	if port <= 0 {
		port = DefaultPort
	}

	return &Adapter{
		ctrl:        *ctrl,
		address:     ctrl.Address(port),
		dialTimeout: dialTimeout,
		ioTimeout:   ctrl.IOTimeout(ioTimeout),
		encode:      encoderFor(ctrl.Config.DisplayCharset),
	}, nil
}

// Address returns the host:port the adapter dials.
func (a *Adapter) Address() string {
	return a.address
}

// Capabilities reports the full contract; PLS supports every operation.
func (a *Adapter) Capabilities() adapter.CapabilitySet {
	return adapter.RequiredCapabilities
}

// OpenGate raises the barrier on lane.
func (a *Adapter) OpenGate(ctx context.Context, lane string) error {
	return a.laneCommand(ctx, adapter.CapOpenGate, lane, CmdOpenGate, nil)
}

// CloseGate lowers the barrier on lane.
func (a *Adapter) CloseGate(ctx context.Context, lane string) error {
	return a.laneCommand(ctx, adapter.CapCloseGate, lane, CmdCloseGate, nil)
}

// SendDisplay writes two text lines to the lane display.
func (a *Adapter) SendDisplay(ctx context.Context, lane, line1, line2 string) error {
	payload, err := displayPayload(a.encode, line1, line2)
	if err != nil {
		return a.fail(adapter.CapSendDisplay, lane, adapter.ErrProtocol, err)
	}
	return a.laneCommand(ctx, adapter.CapSendDisplay, lane, CmdDisplay, payload)
}

// SendPaymentInfo pushes the fare summary to the lane terminal.
func (a *Adapter) SendPaymentInfo(ctx context.Context, lane string, info adapter.PaymentInfo) error {
	payload, err := paymentInfoPayload(a.encode, info)
	if err != nil {
		return a.fail(adapter.CapSendPaymentInfo, lane, adapter.ErrProtocol, err)
	}
	return a.laneCommand(ctx, adapter.CapSendPaymentInfo, lane, CmdPaymentInfo, payload)
}

// RequestPayment asks the lane terminal to collect amount.
func (a *Adapter) RequestPayment(ctx context.Context, lane, carNum string, amount int64) error {
	payload, err := paymentRequestPayload(a.encode, carNum, amount)
	if err != nil {
		return a.fail(adapter.CapRequestPayment, lane, adapter.ErrProtocol, err)
	}
	return a.laneCommand(ctx, adapter.CapRequestPayment, lane, CmdPaymentRequest, payload)
}

// CancelPayment aborts a pending payment on lane.
func (a *Adapter) CancelPayment(ctx context.Context, lane string) error {
	return a.laneCommand(ctx, adapter.CapCancelPayment, lane, CmdPaymentCancel, nil)
}

// CheckHealth sends a PING on lane 0 and expects an OK result.
func (a *Adapter) CheckHealth(ctx context.Context) error {
	return a.exchange(ctx, adapter.CapCheckHealth, "", Frame{Cmd: CmdPing})
}

func (a *Adapter) laneCommand(ctx context.Context, op adapter.Capability, lane string, cmd Command, payload []byte) error {
	laneNum, err := a.resolveLane(lane)
	if err != nil {
		return a.fail(op, lane, adapter.ErrUnknownLane, err)
	}
	return a.exchange(ctx, op, lane, Frame{Cmd: cmd, Lane: laneNum, Payload: payload})
}

// resolveLane maps a configured lane ID to its wire number.
func (a *Adapter) resolveLane(lane string) (byte, error) {
	if !a.ctrl.HasLane(lane) {
		return 0, fmt.Errorf("lane %q is not configured", lane)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(lane), 10, 8)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLane, lane)
	}
	return byte(n), nil
}

// exchange performs one request/response round trip on a fresh connection.
func (a *Adapter) exchange(ctx context.Context, op adapter.Capability, lane string, req Frame) error {
	raw, err := req.Encode()
	if err != nil {
		return a.fail(op, lane, adapter.ErrProtocol, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, a.dialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", a.address)
	if err != nil {
		return a.ioFail(ctx, op, lane, err, adapter.ErrDeviceUnreachable)
	}
	defer conn.Close() //nolint:errcheck // one-shot connection

	deadline := time.Now().Add(a.ioTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return a.fail(op, lane, adapter.ErrDeviceUnreachable, err)
	}

	// Unblock pending I/O as soon as the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now()) //nolint:errcheck // best effort
	})
	defer stop()

	if _, err := conn.Write(raw); err != nil {
		return a.ioFail(ctx, op, lane, err, adapter.ErrDeviceUnreachable)
	}

	resp, err := ReadFrame(bufio.NewReader(conn))
	if err != nil {
		return a.ioFail(ctx, op, lane, err, adapter.ErrProtocol)
	}

	return a.checkResponse(op, lane, req, resp)
}

func (a *Adapter) checkResponse(op adapter.Capability, lane string, req, resp Frame) error {
	if resp.Cmd != req.Cmd.Response() || resp.Lane != req.Lane {
		return a.fail(op, lane, adapter.ErrProtocol, fmt.Errorf(
			"%w: sent cmd 0x%02X lane %d, got cmd 0x%02X lane %d",
			ErrUnexpectedResponse, byte(req.Cmd), req.Lane, byte(resp.Cmd), resp.Lane))
	}

	result, err := resp.Result()
	if err != nil {
		return a.fail(op, lane, adapter.ErrProtocol, err)
	}

	switch result {
	case ResultOK:
		return nil
	case ResultUnknownLane:
		return a.fail(op, lane, adapter.ErrUnknownLane, fmt.Errorf("device answered %s", result))
	case ResultUnsupported:
		return a.fail(op, lane, adapter.ErrCapabilityUnsupported, fmt.Errorf("device answered %s", result))
	default:
		return a.fail(op, lane, adapter.ErrProtocol, fmt.Errorf("device answered %s", result))
	}
}

func (a *Adapter) fail(op adapter.Capability, lane string, kind, cause error) error {
	return adapter.NewDeviceError(op, a.ctrl.ID, lane, kind, cause)
}

// ioFail wraps an I/O error. When the caller cancelled, the device is
// reported unreachable with context.Canceled in the cause rather than as a
// device timeout.
func (a *Adapter) ioFail(ctx context.Context, op adapter.Capability, lane string, err, fallback error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return a.fail(op, lane, adapter.ErrDeviceUnreachable, errors.Join(ctx.Err(), err))
	}
	return a.fail(op, lane, classify(ctx, err, fallback), err)
}

// classify maps an I/O error to an adapter sentinel.
func classify(ctx context.Context, err, fallback error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return adapter.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return adapter.ErrTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return adapter.ErrProtocol
	}
	return fallback
}
