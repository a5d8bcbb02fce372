package adapter

import (
	"context"
	"errors"
	"testing"
	"time"
)

// healthFunc is an Adapter whose only working capability is CheckHealth.
type healthFunc func(ctx context.Context) error

func (healthFunc) OpenGate(context.Context, string) error                     { return nil }
func (healthFunc) CloseGate(context.Context, string) error                    { return nil }
func (healthFunc) SendDisplay(context.Context, string, string, string) error  { return nil }
func (healthFunc) SendPaymentInfo(context.Context, string, PaymentInfo) error { return nil }
func (healthFunc) RequestPayment(context.Context, string, string, int64) error {
	return nil
}
func (healthFunc) CancelPayment(context.Context, string) error { return nil }
func (f healthFunc) CheckHealth(ctx context.Context) error     { return f(ctx) }
func (healthFunc) Capabilities() CapabilitySet                 { return RequiredCapabilities }

func TestCheckHealthWithin(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	unreachable := NewDeviceError(CapCheckHealth, 1, "", ErrDeviceUnreachable, nil)

	tests := []struct {
		name     string
		check    healthFunc
		wantNil  bool
		wantKind []error
	}{
		{
			name:    "healthy",
			check:   func(context.Context) error { return nil },
			wantNil: true,
		},
		{
			name:     "device error passes through",
			check:    func(context.Context) error { return unreachable },
			wantKind: []error{ErrDeviceUnreachable},
		},
		{
			name: "context ignored",
			check: func(context.Context) error {
				<-release
				return nil
			},
			wantKind: []error{ErrCheckAbandoned, ErrTimeout},
		},
		{
			name:     "panic recovered",
			check:    func(context.Context) error { panic("driver bug") },
			wantKind: []error{ErrPanicked},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			err := CheckHealthWithin(context.Background(), tt.check, 50*time.Millisecond)
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Fatalf("CheckHealthWithin() took %v", elapsed)
			}
			if tt.wantNil {
				if err != nil {
					t.Fatalf("CheckHealthWithin() error = %v, want nil", err)
				}
				return
			}
			for _, kind := range tt.wantKind {
				if !errors.Is(err, kind) {
					t.Errorf("CheckHealthWithin() error = %v, want %v", err, kind)
				}
			}
		})
	}
}

func TestCheckHealthWithin_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release := make(chan struct{})
	defer close(release)
	stuck := healthFunc(func(context.Context) error {
		<-release
		return nil
	})

	err := CheckHealthWithin(ctx, stuck, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("CheckHealthWithin() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("cancelled check reported as a timeout")
	}
}
