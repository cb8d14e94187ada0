package ble

import (
	"context"
	"sync"
	"time"
)

// SimBackend is a deterministic, in-memory BluetoothBackend for tests
// and hardware-less dev runs, mirroring radio.SimBackend.
type SimBackend struct {
	mu       sync.Mutex
	onDisc   func()
	scan     []ScanResult
	services []Service
	connName string
}

// NewSimBackend returns a SimBackend that reports scanResults from Scan
// and services/name from Connect.
func NewSimBackend(scanResults []ScanResult, services []Service, connName string) *SimBackend {
	return &SimBackend{scan: scanResults, services: services, connName: connName}
}

// TriggerDisconnect simulates an unsolicited remote disconnect, for
// tests of the Facade's onRemoteDisconnect path.
func (b *SimBackend) TriggerDisconnect() {
	b.mu.Lock()
	fn := b.onDisc
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (b *SimBackend) Scan(ctx context.Context, timeout time.Duration) ([]ScanResult, error) {
	out := make([]ScanResult, len(b.scan))
	copy(out, b.scan)
	return out, nil
}

func (b *SimBackend) Connect(ctx context.Context, address string) ([]Service, string, error) {
	out := make([]Service, len(b.services))
	copy(out, b.services)
	return out, b.connName, nil
}

func (b *SimBackend) Write(ctx context.Context, characteristic string, payload []byte, withResponse bool) error {
	return nil
}

func (b *SimBackend) Disconnect(ctx context.Context) error {
	return nil
}

func (b *SimBackend) OnDisconnect(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDisc = fn
}
