package ble

import (
	"context"
	"time"
)

// BluetoothBackend is the capability interface the Facade drives (spec
// §1: "the Bluetooth Central library ... core defines the state they
// must deliver, not how"), mirroring the split radio.RadioBackend makes
// between a real, subprocess/syscall-backed implementation and a
// deterministic SimBackend for tests.
type BluetoothBackend interface {
	Scan(ctx context.Context, timeout time.Duration) ([]ScanResult, error)
	Connect(ctx context.Context, address string) (services []Service, name string, err error)
	Write(ctx context.Context, characteristic string, payload []byte, withResponse bool) error
	Disconnect(ctx context.Context) error
	// OnDisconnect registers the callback the backend invokes when the
	// remote peer drops the connection without a local Disconnect call.
	OnDisconnect(fn func())
}
