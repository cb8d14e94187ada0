// Package coordinator wires every per-component package (slot, serial,
// radio, ble, gpio, firmware, activitylog, eventqueue, udplog, human)
// into the single orchestration core spec §1 describes, and drives the
// hotplug reconciler and per-slot serial operations.
//
// Coordinator itself is the re-architecture point spec §9's Design Notes
// call for explicitly: "global mutable state ... becomes a single
// Coordinator value constructed once at startup and passed to every
// handler; no package-level mutables." Its only lock of its own,
// workersMu, guards the per-slot worker map; every other mutable
// subsystem (Registry, Arbiter, Facade, Rendezvous, Sink, Queue, Log)
// already serializes itself.
package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/benchlab/fleetbench/internal/activitylog"
	"github.com/benchlab/fleetbench/internal/benchapi"
	"github.com/benchlab/fleetbench/internal/ble"
	"github.com/benchlab/fleetbench/internal/clockid"
	"github.com/benchlab/fleetbench/internal/eventqueue"
	"github.com/benchlab/fleetbench/internal/firmware"
	"github.com/benchlab/fleetbench/internal/gpio"
	"github.com/benchlab/fleetbench/internal/human"
	"github.com/benchlab/fleetbench/internal/radio"
	"github.com/benchlab/fleetbench/internal/serial"
	"github.com/benchlab/fleetbench/internal/slot"
	"github.com/benchlab/fleetbench/internal/slotmap"
	"github.com/benchlab/fleetbench/internal/testprogress"
	"github.com/benchlab/fleetbench/internal/udplog"
)

// Coordinator is the single value every HTTP handler and background
// worker holds a reference to.
type Coordinator struct {
	log      zerolog.Logger
	clock    *clockid.Clock
	registry *slot.Registry
	activity *activitylog.Log

	bindHost string
	open     serial.OpenFunc

	radioArbiter *radio.Arbiter
	bleFacade    *ble.Facade
	gpioCtl      *gpio.Controller
	gpio         *SlotGPIO // nil disables GPIO-assisted flap recovery
	firmwareSt   *firmware.Store
	humanRV      *human.Rendezvous
	udpSink      *udplog.Sink
	events       *eventqueue.Queue
	testProgress *testprogress.Tracker

	ctx       context.Context
	cancel    context.CancelFunc
	workersMu sync.Mutex
	workers   map[string]*slotWorker
}

// Deps is everything New needs from the outside: backends, which differ
// between production (real subprocess/syscall/hardware) and tests/dev
// (Sim*), plus the slot map and config knobs already resolved.
type Deps struct {
	Entries      []slotmap.Entry
	BindHost     string
	Open         serial.OpenFunc
	RadioBackend radio.RadioBackend
	BLEBackend   ble.BluetoothBackend
	GPIOLine     gpio.Line // nil disables the GPIO HTTP surface and flap recovery
	GPIOAllowed  []int
	RecoveryPins map[string]RecoveryPins // slot_key -> boot_select/reset pins; needs GPIOLine
	FirmwareRoot string
	ActivityCap  int
	Log          zerolog.Logger
}

// New builds a fully wired Coordinator. It does not start the hotplug
// workers, the UDP sink, or any slot proxy — call BootScan and
// StartUDPLog once the HTTP surface is ready to serve.
func New(ctx context.Context, deps Deps) (*Coordinator, error) {
	ctx, cancel := context.WithCancel(ctx)

	clock := clockid.New()
	activity := activitylog.New(deps.ActivityCap)
	registry := slot.NewRegistry(deps.Entries, clock)
	events := eventqueue.New()

	fw, err := firmware.NewStore(deps.FirmwareRoot)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("firmware store: %w", err)
	}

	open := deps.Open
	if open == nil {
		open = serial.OpenReal
	}

	c := &Coordinator{
		log:          deps.Log,
		clock:        clock,
		registry:     registry,
		activity:     activity,
		bindHost:     deps.BindHost,
		open:         open,
		firmwareSt:   fw,
		humanRV:      human.New(),
		udpSink:      udplog.New(0, deps.Log),
		events:       events,
		testProgress: testprogress.New(),
		ctx:          ctx,
		cancel:       cancel,
		workers:      make(map[string]*slotWorker),
	}

	if deps.RadioBackend != nil {
		c.radioArbiter = radio.NewArbiter(deps.RadioBackend, activity, events, deps.Log)
	}
	if deps.BLEBackend != nil {
		c.bleFacade = ble.NewFacade(deps.BLEBackend, activity, deps.Log)
	}
	if deps.GPIOLine != nil {
		c.gpioCtl = gpio.NewController(deps.GPIOAllowed, deps.GPIOLine)
		if deps.RecoveryPins != nil {
			c.gpio = &SlotGPIO{Controller: c.gpioCtl, Pins: deps.RecoveryPins}
		}
	}

	return c, nil
}

// Shutdown stops every background worker and releases every held
// resource (slot proxies, radio, UDP socket) so the process can exit
// cleanly. Stopping each slot's proxy takes that slot's lock without
// regard to ctx; only the final wait for the slot workers to exit is
// bounded by ctx's deadline.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.cancel()
	c.udpSink.Stop()

	for _, s := range c.registry.All() {
		s.Lock.Lock()
		c.stopProxyLocked(s)
		s.Lock.Unlock()
	}

	c.workersMu.Lock()
	workers := make([]*slotWorker, 0, len(c.workers))
	for _, w := range c.workers {
		workers = append(workers, w)
	}
	c.workersMu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, w := range workers {
			w.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// StartUDPLog binds the UDP log sink on port (spec §4.8).
func (c *Coordinator) StartUDPLog(port int) error {
	return c.udpSink.Start(c.ctx, port)
}

// Registry exposes the slot registry read-only to HTTP handlers that
// need to enumerate/look up slots.
func (c *Coordinator) Registry() *slot.Registry { return c.registry }

// Activity exposes the activity log to HTTP handlers (GET /api/log) and
// other components that append entries outside the coordinator package
// (e.g. the GPIO HTTP handler logging a toggle, per SPEC_FULL §3
// EXPANSION).
func (c *Coordinator) Activity() *activitylog.Log { return c.activity }

// Events exposes the wireless event queue (GET /api/wifi/events).
func (c *Coordinator) Events() *eventqueue.Queue { return c.events }

// Radio exposes the radio arbiter, or nil if no RadioBackend was wired.
func (c *Coordinator) Radio() *radio.Arbiter { return c.radioArbiter }

// BLE exposes the Bluetooth Central facade, or nil if no BluetoothBackend
// was wired.
func (c *Coordinator) BLE() *ble.Facade { return c.bleFacade }

// GPIOController exposes the general allowlisted GPIO surface (POST
// /api/gpio/set, GET /api/gpio/status), or nil if no GPIOLine was wired.
func (c *Coordinator) GPIOController() *gpio.Controller { return c.gpioCtl }

// Firmware exposes the firmware blob store.
func (c *Coordinator) Firmware() *firmware.Store { return c.firmwareSt }

// Human exposes the human-confirmation rendezvous.
func (c *Coordinator) Human() *human.Rendezvous { return c.humanRV }

// UDPLog exposes the UDP log ring.
func (c *Coordinator) UDPLog() *udplog.Sink { return c.udpSink }

// TestProgress exposes the test-progress tracker (POST /api/test/update,
// GET /api/test/progress).
func (c *Coordinator) TestProgress() *testprogress.Tracker { return c.testProgress }

// DeviceView is a slot snapshot enriched with the URL clients dial to
// reach its serial proxy (spec §6: GET /api/devices' "url" field) —
// kept out of slot.Snapshot since the slot package has no notion of the
// bind host.
type DeviceView struct {
	slot.Snapshot
	URL string `json:"url,omitempty"`
}

// Devices returns every configured slot's snapshot, passively clearing
// any slot whose flap window has aged out first (spec §4.1: "any poll
// ... clears flapping passively").
func (c *Coordinator) Devices() []DeviceView {
	slots := c.registry.All()
	out := make([]DeviceView, 0, len(slots))
	for _, s := range slots {
		c.PollFlapClear(s)
		s.Lock.Lock()
		snap := s.Snapshot()
		s.Lock.Unlock()
		url := ""
		if snap.Running {
			url = c.DeviceURL(snap.TCPPort)
		}
		out = append(out, DeviceView{Snapshot: snap, URL: url})
	}
	return out
}

// Lookup resolves a slot_key to its Slot, or benchapi.NotFound.
func (c *Coordinator) Lookup(slotKey string) (*slot.Slot, error) {
	s := c.registry.Lookup(slotKey)
	if s == nil {
		return nil, benchapi.Errorf(benchapi.NotFound, "slot %q not found", slotKey)
	}
	return s, nil
}

// StartSlot implements POST /api/start: an idempotent manual override
// that behaves exactly like a synthesized hotplug add (spec §6, §8:
// "POST /api/start on a slot already Idle with the same devnode is a
// no-op"). If devnode is empty, the slot's currently-recorded devnode is
// reused (a no-op re-assert of Idle).
func (c *Coordinator) StartSlot(slotKey, devnode string) error {
	s, err := c.Lookup(slotKey)
	if err != nil {
		return err
	}
	if devnode == "" {
		s.Lock.Lock()
		devnode = s.Devnode
		s.Lock.Unlock()
	}
	c.OnHotplug(ActionAdd, devnode, slotKey)
	return nil
}

// StopSlot implements POST /api/stop: idempotent manual override; a
// no-op on an already-Absent slot (spec §8).
func (c *Coordinator) StopSlot(slotKey string) error {
	if _, err := c.Lookup(slotKey); err != nil {
		return err
	}
	c.OnHotplug(ActionRemove, "", slotKey)
	return nil
}

// BootScanDefaultPaths enumerates /dev/ttyACM* and /dev/ttyUSB* (spec
// §4.3's boot scan, naming the concrete globs per SPEC_FULL §4
// EXPANSION) and synthesizes add events for each. The hw_path passed for
// each devnode is the devnode itself — a real udev integration would
// supply the actual hardware path, but at boot time before any hotplug
// callback has fired, the devnode is the only stable handle available.
func (c *Coordinator) BootScanDefaultPaths() {
	var found []string
	for _, pattern := range []string{"/dev/ttyACM*", "/dev/ttyUSB*"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		found = append(found, matches...)
	}
	hwPaths := make(map[string]string, len(found))
	for _, dn := range found {
		hwPaths[dn] = dn
	}
	c.BootScan(found, hwPaths)
}

// Logger returns the coordinator's scoped logger for components (like
// the HTTP surface) that want to derive a sub-logger from it.
func (c *Coordinator) Logger() zerolog.Logger { return c.log }

// DeviceURL renders the host:port clients dial to reach a slot's serial
// proxy (spec §6: GET /api/devices' "url" field).
func (c *Coordinator) DeviceURL(tcpPort int) string {
	host := c.bindHost
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, tcpPort)
}
