package pls

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sitewatch-core/internal/adapter"
	"github.com/nerrad567/sitewatch-core/internal/controller"
	"github.com/nerrad567/sitewatch-core/internal/infrastructure/config"
)

// fakeDevice is a TCP listener that answers one frame per connection.
type fakeDevice struct {
	ln      net.Listener
	respond func(req Frame) []byte

	mu       sync.Mutex
	received []Frame
}

func startFakeDevice(t *testing.T, respond func(req Frame) []byte) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d := &fakeDevice{ln: ln, respond: respond}
	go d.serve()
	t.Cleanup(func() { ln.Close() }) //nolint:errcheck // Test cleanup
	return d
}

func (d *fakeDevice) serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		go d.handle(conn)
	}
}

func (d *fakeDevice) handle(conn net.Conn) {
	defer conn.Close() //nolint:errcheck // Test cleanup

	req, err := ReadFrame(conn)
	if err != nil {
		return
	}
	d.mu.Lock()
	d.received = append(d.received, req)
	d.mu.Unlock()

	reply := d.respond(req)
	if reply == nil {
		// Stay silent until the client hangs up.
		io.Copy(io.Discard, conn) //nolint:errcheck // Test helper
		return
	}
	conn.Write(reply) //nolint:errcheck // Test helper
}

func (d *fakeDevice) port() int {
	return d.ln.Addr().(*net.TCPAddr).Port
}

func (d *fakeDevice) frames() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Frame(nil), d.received...)
}

func answer(code ResultCode) func(Frame) []byte {
	return func(req Frame) []byte {
		raw, _ := Frame{Cmd: req.Cmd.Response(), Lane: req.Lane, Payload: []byte{byte(code)}}.Encode() //nolint:errcheck // fixed size
		return raw
	}
}

func silent(Frame) []byte { return nil }

func newTestAdapter(t *testing.T, port int, cfg controller.Config) *Adapter {
	t.Helper()
	ctrl := &controller.Controller{
		ID:     42,
		Code:   "PLS",
		Host:   "127.0.0.1",
		Port:   port,
		Config: cfg,
	}
	a, err := New(ctrl, config.PLSAdapterConfig{
		DialTimeout: time.Second,
		IOTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func wantDeviceError(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("error = %v, want %v", err, kind)
	}
	var devErr *adapter.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("error type = %T, want *adapter.DeviceError", err)
	}
	if devErr.ControllerID != 42 {
		t.Errorf("DeviceError.ControllerID = %d, want 42", devErr.ControllerID)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, config.PLSAdapterConfig{}); !errors.Is(err, adapter.ErrConfiguration) {
		t.Errorf("New(nil) error = %v, want ErrConfiguration", err)
	}
	if _, err := New(&controller.Controller{ID: 1, Code: "PLS"}, config.PLSAdapterConfig{}); !errors.Is(err, adapter.ErrConfiguration) {
		t.Errorf("New(no host) error = %v, want ErrConfiguration", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	a, err := New(&controller.Controller{ID: 1, Code: "PLS", Host: "10.0.0.5"}, config.PLSAdapterConfig{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.Address() != "10.0.0.5:5000" {
		t.Errorf("Address() = %q, want 10.0.0.5:5000", a.Address())
	}
	if a.ioTimeout != DefaultIOTimeout || a.dialTimeout != DefaultDialTimeout {
		t.Errorf("timeouts = %v/%v, want defaults", a.dialTimeout, a.ioTimeout)
	}

	slow, err := New(&controller.Controller{
		ID: 2, Code: "PLS", Host: "10.0.0.6", Port: 7001,
		Config: controller.Config{TimeoutMS: 12000},
	}, config.PLSAdapterConfig{IOTimeout: time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if slow.ioTimeout != 12*time.Second {
		t.Errorf("ioTimeout = %v, want per-controller override 12s", slow.ioTimeout)
	}
	if slow.Address() != "10.0.0.6:7001" {
		t.Errorf("Address() = %q", slow.Address())
	}
}

func TestNewCreator_RegistersWithFactory(t *testing.T) {
	f := adapter.NewFactory(true)
	f.Register(Protocol, NewCreator(config.PLSAdapterConfig{}))

	a, err := f.Create(&controller.Controller{ID: 1, Code: "pls", Host: "127.0.0.1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, ok := a.(*Adapter); !ok {
		t.Errorf("Create() = %T, want *pls.Adapter", a)
	}
	if missing := a.Capabilities().Missing(adapter.RequiredCapabilities); len(missing) != 0 {
		t.Errorf("missing capabilities = %v", missing)
	}
}

func TestAdapter_CheckHealth(t *testing.T) {
	dev := startFakeDevice(t, answer(ResultOK))
	a := newTestAdapter(t, dev.port(), controller.Config{})

	if err := a.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth() error = %v", err)
	}

	got := dev.frames()
	if len(got) != 1 || got[0].Cmd != CmdPing || got[0].Lane != 0 {
		t.Errorf("device received %+v, want one PING on lane 0", got)
	}
}

func TestAdapter_LaneCommands(t *testing.T) {
	entry := time.Unix(1700000000, 0)

	tests := []struct {
		name        string
		call        func(a *Adapter) error
		wantCmd     Command
		wantPayload []byte
	}{
		{
			name:    "open gate",
			call:    func(a *Adapter) error { return a.OpenGate(context.Background(), "2") },
			wantCmd: CmdOpenGate,
		},
		{
			name:    "close gate",
			call:    func(a *Adapter) error { return a.CloseGate(context.Background(), "2") },
			wantCmd: CmdCloseGate,
		},
		{
			name:        "display",
			call:        func(a *Adapter) error { return a.SendDisplay(context.Background(), "2", "hello", "hi") },
			wantCmd:     CmdDisplay,
			wantPayload: []byte{5, 'h', 'e', 'l', 'l', 'o', 2, 'h', 'i'},
		},
		{
			name: "payment info",
			call: func(a *Adapter) error {
				return a.SendPaymentInfo(context.Background(), "2", adapter.PaymentInfo{
					CarNumber: "12AB",
					Amount:    3000,
					EntryAt:   entry,
				})
			},
			wantCmd: CmdPaymentInfo,
			wantPayload: []byte{
				4, '1', '2', 'A', 'B',
				0x00, 0x00, 0x0B, 0xB8,
				0x65, 0x53, 0xF1, 0x00,
				0x00, 0x00, 0x00, 0x00,
			},
		},
		{
			name:        "payment request",
			call:        func(a *Adapter) error { return a.RequestPayment(context.Background(), "2", "12AB", 256) },
			wantCmd:     CmdPaymentRequest,
			wantPayload: []byte{4, '1', '2', 'A', 'B', 0x00, 0x00, 0x01, 0x00},
		},
		{
			name:    "cancel payment",
			call:    func(a *Adapter) error { return a.CancelPayment(context.Background(), "2") },
			wantCmd: CmdPaymentCancel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := startFakeDevice(t, answer(ResultOK))
			a := newTestAdapter(t, dev.port(), controller.Config{Lanes: []string{"1", "2"}})

			if err := tt.call(a); err != nil {
				t.Fatalf("call error = %v", err)
			}

			got := dev.frames()
			if len(got) != 1 {
				t.Fatalf("device received %d frames, want 1", len(got))
			}
			if got[0].Cmd != tt.wantCmd || got[0].Lane != 2 {
				t.Errorf("frame cmd=0x%02X lane=%d, want cmd=0x%02X lane=2", byte(got[0].Cmd), got[0].Lane, byte(tt.wantCmd))
			}
			if !bytes.Equal(got[0].Payload, tt.wantPayload) {
				t.Errorf("payload = % X, want % X", got[0].Payload, tt.wantPayload)
			}
		})
	}
}

func TestAdapter_DisplayEUCKR(t *testing.T) {
	dev := startFakeDevice(t, answer(ResultOK))
	a := newTestAdapter(t, dev.port(), controller.Config{DisplayCharset: "euc-kr"})

	if err := a.SendDisplay(context.Background(), "1", "주차", ""); err != nil {
		t.Fatalf("SendDisplay() error = %v", err)
	}

	want := []byte{4, 0xC1, 0xD6, 0xC2, 0xF7, 0}
	got := dev.frames()
	if len(got) != 1 || !bytes.Equal(got[0].Payload, want) {
		t.Errorf("payload = %v, want % X", got, want)
	}
}

func TestAdapter_RejectsBeforeContactingDevice(t *testing.T) {
	tests := []struct {
		name string
		cfg  controller.Config
		call func(a *Adapter) error
		kind error
	}{
		{
			name: "lane not configured",
			cfg:  controller.Config{Lanes: []string{"1"}},
			call: func(a *Adapter) error { return a.OpenGate(context.Background(), "3") },
			kind: adapter.ErrUnknownLane,
		},
		{
			name: "non numeric lane",
			call: func(a *Adapter) error { return a.OpenGate(context.Background(), "north") },
			kind: adapter.ErrUnknownLane,
		},
		{
			name: "lane zero",
			call: func(a *Adapter) error { return a.CloseGate(context.Background(), "0") },
			kind: adapter.ErrUnknownLane,
		},
		{
			name: "display line too long",
			call: func(a *Adapter) error {
				return a.SendDisplay(context.Background(), "1", strings.Repeat("x", maxTextField+1), "")
			},
			kind: adapter.ErrProtocol,
		},
		{
			name: "text not representable in euc-kr",
			cfg:  controller.Config{DisplayCharset: "euc-kr"},
			call: func(a *Adapter) error { return a.SendDisplay(context.Background(), "1", "\U0001F697", "") },
			kind: adapter.ErrProtocol,
		},
		{
			name: "negative amount",
			call: func(a *Adapter) error { return a.RequestPayment(context.Background(), "1", "12AB", -1) },
			kind: adapter.ErrProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := startFakeDevice(t, answer(ResultOK))
			a := newTestAdapter(t, dev.port(), tt.cfg)

			wantDeviceError(t, tt.call(a), tt.kind)
			if n := len(dev.frames()); n != 0 {
				t.Errorf("device received %d frames, want 0", n)
			}
		})
	}
}

func TestAdapter_ResultCodes(t *testing.T) {
	tests := []struct {
		code ResultCode
		kind error
	}{
		{ResultUnknownLane, adapter.ErrUnknownLane},
		{ResultUnsupported, adapter.ErrCapabilityUnsupported},
		{ResultBusy, adapter.ErrProtocol},
		{ResultRejected, adapter.ErrProtocol},
		{ResultCode(0x99), adapter.ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			dev := startFakeDevice(t, answer(tt.code))
			a := newTestAdapter(t, dev.port(), controller.Config{})

			wantDeviceError(t, a.OpenGate(context.Background(), "1"), tt.kind)
		})
	}
}

func TestAdapter_MalformedResponses(t *testing.T) {
	tests := []struct {
		name    string
		respond func(Frame) []byte
	}{
		{
			name: "wrong command echo",
			respond: func(req Frame) []byte {
				raw, _ := Frame{Cmd: CmdCloseGate.Response(), Lane: req.Lane, Payload: []byte{0}}.Encode() //nolint:errcheck // fixed size
				return raw
			},
		},
		{
			name: "wrong lane echo",
			respond: func(req Frame) []byte {
				raw, _ := Frame{Cmd: req.Cmd.Response(), Lane: req.Lane + 1, Payload: []byte{0}}.Encode() //nolint:errcheck // fixed size
				return raw
			},
		},
		{
			name: "empty result",
			respond: func(req Frame) []byte {
				raw, _ := Frame{Cmd: req.Cmd.Response(), Lane: req.Lane}.Encode() //nolint:errcheck // fixed size
				return raw
			},
		},
		{
			name: "bad checksum",
			respond: func(req Frame) []byte {
				raw := answer(ResultOK)(req)
				raw[len(raw)-2] ^= 0xFF
				return raw
			},
		},
		{
			name:    "garbage",
			respond: func(Frame) []byte { return []byte("HTTP/1.1 400 Bad Request\r\n\r\n") },
		},
		{
			name:    "hang up after partial frame",
			respond: func(Frame) []byte { return []byte{0x02, 0x81} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := startFakeDevice(t, tt.respond)
			a := newTestAdapter(t, dev.port(), controller.Config{})

			wantDeviceError(t, a.OpenGate(context.Background(), "1"), adapter.ErrProtocol)
		})
	}
}

func TestAdapter_SilentDeviceTimesOut(t *testing.T) {
	dev := startFakeDevice(t, silent)
	ctrl := &controller.Controller{
		ID: 42, Code: "PLS", Host: "127.0.0.1", Port: dev.port(),
		Config: controller.Config{TimeoutMS: 100},
	}
	a, err := New(ctrl, config.PLSAdapterConfig{DialTimeout: time.Second, IOTimeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	start := time.Now()
	wantDeviceError(t, a.CheckHealth(context.Background()), adapter.ErrTimeout)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("CheckHealth() took %v, want about 100ms", elapsed)
	}
}

func TestAdapter_HonoursContextDeadline(t *testing.T) {
	dev := startFakeDevice(t, silent)
	a := newTestAdapter(t, dev.port(), controller.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	wantDeviceError(t, a.CheckHealth(ctx), adapter.ErrTimeout)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("CheckHealth() took %v, want the 50ms context deadline", elapsed)
	}
}

func TestAdapter_CancelledContext(t *testing.T) {
	dev := startFakeDevice(t, silent)
	a := newTestAdapter(t, dev.port(), controller.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	err := a.OpenGate(ctx, "1")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("OpenGate() took %v after cancel", elapsed)
	}
	wantDeviceError(t, err, adapter.ErrDeviceUnreachable)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled in the cause", err)
	}
	if errors.Is(err, adapter.ErrTimeout) {
		t.Errorf("cancelled call reported as a device timeout: %v", err)
	}
}

func TestAdapter_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close() //nolint:errcheck // free the port so dialing is refused

	a := newTestAdapter(t, port, controller.Config{})
	wantDeviceError(t, a.CheckHealth(context.Background()), adapter.ErrDeviceUnreachable)
}
