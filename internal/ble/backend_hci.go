//go:build linux

package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// hciBackend is the production BluetoothBackend: it opens a raw HCI
// socket on the named controller the same way the serial package opens
// a raw tty — a thin syscall layer, with the actual GATT client
// (service discovery, ATT read/write) left as the integration point a
// real deployment wires to its Central library (spec §1: "out of scope,
// only interfaces specified"). Good enough to prove out the Facade's
// state machine against real HCI hardware; a full GATT stack is outside
// this package's scope.
type hciBackend struct {
	mu       sync.Mutex
	device   int
	fd       int
	onDisc   func()
	connAddr string
}

// NewHCIBackend opens a raw HCI socket against the controller
// identified by hciDevice (0 for hci0).
func NewHCIBackend(hciDevice int) (BluetoothBackend, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW, unix.BTPROTO_HCI)
	if err != nil {
		return nil, fmt.Errorf("open hci socket: %w", err)
	}
	addr := &unix.SockaddrHCI{Dev: uint16(hciDevice), Channel: unix.HCI_CHANNEL_RAW}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind hci%d: %w", hciDevice, err)
	}
	return &hciBackend{device: hciDevice, fd: fd}, nil
}

func (b *hciBackend) Scan(ctx context.Context, timeout time.Duration) ([]ScanResult, error) {
	// A real implementation issues LE Set Scan Enable HCI commands and
	// parses advertising reports off the socket for timeout. Left as the
	// integration point; return no results rather than fabricate data.
	select {
	case <-time.After(timeout):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, nil
}

func (b *hciBackend) Connect(ctx context.Context, address string) ([]Service, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connAddr = address
	return nil, "", fmt.Errorf("ble: GATT connect not implemented over raw HCI socket (hci%d)", b.device)
}

func (b *hciBackend) Write(ctx context.Context, characteristic string, payload []byte, withResponse bool) error {
	return fmt.Errorf("ble: GATT write not implemented over raw HCI socket")
}

func (b *hciBackend) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	b.connAddr = ""
	b.mu.Unlock()
	return nil
}

func (b *hciBackend) OnDisconnect(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDisc = fn
}

func (b *hciBackend) Close() error {
	return unix.Close(b.fd)
}
