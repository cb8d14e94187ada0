// Package ble implements the Bluetooth Central facade (spec §4.10): a
// single-connection wrapper around whatever Bluetooth Central library
// the host OS provides (spec §1: "out of scope, only interfaces
// specified"). The facade owns the Idle/Scanning/Connected state
// machine and one ble.lock; BluetoothBackend does the actual radio
// work.
package ble

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benchlab/fleetbench/internal/activitylog"
	"github.com/benchlab/fleetbench/internal/benchapi"
)

// State is one of the three mutually exclusive Central states (spec §3:
// "Bluetooth State").
type State int

const (
	Idle State = iota
	Scanning
	Connected
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Connected:
		return "connected"
	default:
		return "idle"
	}
}

// ScanResult is one advertisement seen during a scan.
type ScanResult struct {
	Address string
	Name    string
	RSSI    int
}

// Service describes one discovered GATT service and its characteristics,
// returned by a successful Connect.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// Characteristic describes one discovered characteristic's properties.
type Characteristic struct {
	UUID       string
	Properties []string // e.g. "read", "write", "write-without-response", "notify"
}

// Snapshot is the read-only view handlers serialize.
type Snapshot struct {
	State    string    `json:"state"`
	Address  string    `json:"address,omitempty"`
	Name     string    `json:"name,omitempty"`
	Services []Service `json:"services,omitempty"`
}

// Facade owns ble.lock and the Idle/Scanning/Connected state machine.
type Facade struct {
	log      zerolog.Logger
	backend  BluetoothBackend
	activity *activitylog.Log

	mu       sync.Mutex
	state    State
	address  string
	name     string
	services []Service
}

// NewFacade builds a Facade around backend, starting Idle.
func NewFacade(backend BluetoothBackend, activity *activitylog.Log, log zerolog.Logger) *Facade {
	f := &Facade{
		log:      log.With().Str("component", "ble_facade").Logger(),
		backend:  backend,
		activity: activity,
		state:    Idle,
	}
	backend.OnDisconnect(f.onRemoteDisconnect)
	return f
}

// Snapshot returns the current Central state for HTTP handlers.
func (f *Facade) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{State: f.state.String(), Address: f.address, Name: f.name, Services: f.services}
}

// Scan implements scan(timeout, name_filter?) (spec §4.10).
func (f *Facade) Scan(ctx context.Context, timeout time.Duration, nameFilter string) ([]ScanResult, error) {
	f.mu.Lock()
	if f.state == Connected {
		f.mu.Unlock()
		return nil, benchapi.Errorf(benchapi.Conflict, "already_connected")
	}
	f.state = Scanning
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		if f.state == Scanning {
			f.state = Idle
		}
		f.mu.Unlock()
	}()

	results, err := f.backend.Scan(ctx, timeout)
	if err != nil {
		return nil, benchapi.Wrap(benchapi.Unavailable, err, "ble scan")
	}
	if nameFilter == "" {
		return results, nil
	}
	filtered := results[:0]
	for _, r := range results {
		if r.Name == nameFilter {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// Connect implements connect(address) (spec §4.10).
func (f *Facade) Connect(ctx context.Context, address string) ([]Service, error) {
	f.mu.Lock()
	if f.state == Connected {
		f.mu.Unlock()
		return nil, benchapi.Errorf(benchapi.Conflict, "already_connected")
	}
	f.mu.Unlock()

	services, name, err := f.backend.Connect(ctx, address)
	if err != nil {
		return nil, benchapi.Wrap(benchapi.Unavailable, err, "ble connect")
	}

	f.mu.Lock()
	f.state = Connected
	f.address = address
	f.name = name
	f.services = services
	f.mu.Unlock()

	f.activity.Append(activitylog.Ok, "ble", "connected to "+address)
	return services, nil
}

// Write implements write(characteristic, hex, response?) (spec §4.10):
// decodes hex, validates, writes with or without response.
func (f *Facade) Write(ctx context.Context, characteristic, hexPayload string, withResponse bool) error {
	f.mu.Lock()
	connected := f.state == Connected
	f.mu.Unlock()
	if !connected {
		return benchapi.Errorf(benchapi.Conflict, "not_connected")
	}

	payload, err := hex.DecodeString(hexPayload)
	if err != nil {
		return benchapi.Wrap(benchapi.BadRequest, err, "invalid hex payload")
	}

	if err := f.backend.Write(ctx, characteristic, payload, withResponse); err != nil {
		return benchapi.Wrap(benchapi.Internal, err, "ble write")
	}
	return nil
}

// Disconnect implements disconnect: returns to Idle (spec §4.10).
func (f *Facade) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	if f.state != Connected {
		f.mu.Unlock()
		return nil
	}
	addr := f.address
	f.mu.Unlock()

	if err := f.backend.Disconnect(ctx); err != nil {
		return benchapi.Wrap(benchapi.Internal, err, "ble disconnect")
	}

	f.mu.Lock()
	f.state = Idle
	f.address = ""
	f.name = ""
	f.services = nil
	f.mu.Unlock()

	f.activity.Append(activitylog.Info, "ble", "disconnected from "+addr)
	return nil
}

// onRemoteDisconnect is the backend callback for an unsolicited
// disconnect (spec §4.10: "Remote disconnection ... transitions to Idle
// and is visible in subsequent status reads").
func (f *Facade) onRemoteDisconnect() {
	f.mu.Lock()
	addr := f.address
	f.state = Idle
	f.address = ""
	f.name = ""
	f.services = nil
	f.mu.Unlock()
	f.activity.Append(activitylog.Error, "ble", "remote disconnected: "+addr)
}
