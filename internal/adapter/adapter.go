package adapter

import (
	"context"
	"time"
)

// PaymentInfo is the fare summary shown on a lane's payment terminal.
type PaymentInfo struct {
	CarNumber string    `json:"car_number"`
	Amount    int64     `json:"amount"`
	EntryAt   time.Time `json:"entry_at"`
	ExitAt    time.Time `json:"exit_at"`
}

// Adapter is the capability contract every protocol implementation satisfies.
//
// A nil error means the device acknowledged the operation. Expected device
// failures are returned as *DeviceError; implementations never panic for them.
// All methods honour the context deadline.
type Adapter interface {
	// OpenGate raises the barrier on the given lane.
	OpenGate(ctx context.Context, lane string) error

	// CloseGate lowers the barrier on the given lane.
	CloseGate(ctx context.Context, lane string) error

	// SendDisplay writes two lines of text to the lane display.
	SendDisplay(ctx context.Context, lane, line1, line2 string) error

	// SendPaymentInfo pushes a fare summary to the lane payment terminal.
	SendPaymentInfo(ctx context.Context, lane string, info PaymentInfo) error

	// RequestPayment asks the lane terminal to collect amount for carNum.
	RequestPayment(ctx context.Context, lane, carNum string, amount int64) error

	// CancelPayment aborts a pending payment request.
	CancelPayment(ctx context.Context, lane string) error

	// CheckHealth probes the device. It has no side effects beyond the probe.
	CheckHealth(ctx context.Context) error

	// Capabilities reports the operations this implementation supports.
	Capabilities() CapabilitySet
}
