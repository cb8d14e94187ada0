package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/benchlab/fleetbench/internal/activitylog"
	"github.com/benchlab/fleetbench/internal/benchapi"
	"github.com/benchlab/fleetbench/internal/serial"
	"github.com/benchlab/fleetbench/internal/slot"
)

// classify derives the devnode's settle/control family from its path
// prefix alone (spec §4.1); the USB descriptor probe
// (serial.ProbeUSBFamily) is not consulted.
func (c *Coordinator) classify(devnode string) serial.Family {
	return serial.ClassifyDevnode(devnode)
}

// waitForDevice implements the settle policy (spec §4.1): native-USB
// devices are checked for existence only (never opened) and given a
// fixed post-add delay; UART-bridge devices settle by non-blocking
// open-close probe, retried until deviceSettleTimeout elapses.
const deviceSettleTimeout = 5 * time.Second

func (c *Coordinator) waitForDevice(devnode string, family serial.Family) bool {
	deadline := time.Now().Add(deviceSettleTimeout)
	switch family {
	case serial.NativeUSB:
		for time.Now().Before(deadline) {
			if serial.ProbeExists(devnode) {
				time.Sleep(time.Duration(serial.PostAddSettleDelay) * time.Millisecond)
				return true
			}
			time.Sleep(100 * time.Millisecond)
		}
		return false
	default: // UARTBridge and Unknown
		for time.Now().Before(deadline) {
			if serial.ProbeOpenClose(devnode) {
				return true
			}
			time.Sleep(100 * time.Millisecond)
		}
		return false
	}
}

func (c *Coordinator) proxyAddr(s *slot.Slot) string {
	return fmt.Sprintf("%s:%d", c.bindHost, s.TCPPort)
}

// startProxyLocked starts the slot's serial proxy. Caller must hold
// s.Lock.
func (c *Coordinator) startProxyLocked(s *slot.Slot) error {
	p := serial.NewProxy(c.proxyAddr(s), s.Devnode, s.Family, c.open, c.log)
	if err := p.Start(context.Background()); err != nil {
		return err
	}
	s.Proxy = p
	return nil
}

// stopProxyLocked stops and clears the slot's proxy, if any. Caller must
// hold s.Lock.
func (c *Coordinator) stopProxyLocked(s *slot.Slot) {
	if s.Proxy == nil {
		return
	}
	if err := s.Proxy.Stop(); err != nil {
		c.activity.Append(activitylog.Error, s.SlotKey, "proxy stop: "+err.Error())
	}
	s.Proxy = nil
}

// Reset implements the "reset" serial operation (spec §4.4): stop the
// proxy, pulse DTR+RTS, read whatever arrives within 5s, restart the
// proxy.
func (c *Coordinator) Reset(s *slot.Slot) ([]string, error) {
	s.Lock.Lock()
	defer s.Lock.Unlock()

	if !s.Present {
		return nil, benchapi.Errorf(benchapi.NotFound, "device not present")
	}

	prevState := s.State
	s.State = slot.Resetting
	c.stopProxyLocked(s)

	dev, err := c.open(s.Devnode, s.Family)
	if err != nil {
		s.State = prevState
		return nil, benchapi.Wrap(benchapi.Unavailable, err, "open device for reset")
	}

	if err := dev.SetModem(serial.ModemBits{DTR: false, RTS: false}); err != nil {
		dev.Close()
		s.State = prevState
		return nil, benchapi.Wrap(benchapi.Internal, err, "release modem control")
	}
	if err := dev.SetModem(serial.ModemBits{DTR: true, RTS: true}); err != nil {
		dev.Close()
		s.State = prevState
		return nil, benchapi.Wrap(benchapi.Internal, err, "assert reset pulse")
	}
	time.Sleep(50 * time.Millisecond)
	if err := dev.SetModem(serial.ModemBits{DTR: false, RTS: false}); err != nil {
		dev.Close()
		s.State = prevState
		return nil, benchapi.Wrap(benchapi.Internal, err, "release reset pulse")
	}

	lines := readLinesWithDeadline(dev, 5*time.Second)
	dev.Close()

	time.Sleep(settleDelayFor(s.Family))

	if err := c.startProxyLocked(s); err != nil {
		s.LastError = err.Error()
		return lines, benchapi.Wrap(benchapi.Unavailable, err, "restart proxy after reset")
	}
	s.State = slot.Idle
	s.LastAction = "reset"
	c.activity.Append(activitylog.Ok, s.SlotKey, "reset complete")
	return lines, nil
}

func settleDelayFor(family serial.Family) time.Duration {
	if family == serial.NativeUSB {
		return time.Duration(serial.PostAddSettleDelay) * time.Millisecond
	}
	return 0
}

// readLinesWithDeadline reads newline-split lines from r until deadline
// elapses or the device stops producing data, returning whatever
// arrived (spec §4.4: "reads lines with a 5s deadline, returning
// whatever arrives").
func readLinesWithDeadline(r interface{ Read([]byte) (int, error) }, timeout time.Duration) []string {
	type readResult struct {
		buf []byte
		err error
	}
	resultCh := make(chan readResult, 1)
	deadline := time.Now().Add(timeout)

	var lines []string
	var partial strings.Builder

	for time.Now().Before(deadline) {
		go func() {
			buf := make([]byte, 4096)
			n, err := r.Read(buf)
			resultCh <- readResult{buf: buf[:n], err: err}
		}()

		select {
		case res := <-resultCh:
			if res.err != nil {
				return lines
			}
			partial.Write(res.buf)
			for {
				s := partial.String()
				idx := strings.IndexByte(s, '\n')
				if idx < 0 {
					break
				}
				lines = append(lines, strings.TrimRight(s[:idx], "\r"))
				partial.Reset()
				partial.WriteString(s[idx+1:])
			}
		case <-time.After(time.Until(deadline)):
			return lines
		}
	}
	return lines
}

// Monitor implements the "monitor" serial operation (spec §4.4):
// connect to the running proxy as a secondary reader, accumulate lines
// up to timeout, returning early on the first line matching pattern.
func (c *Coordinator) Monitor(s *slot.Slot, pattern string, timeout time.Duration) (matched bool, matchLine string, output []string, err error) {
	s.Lock.Lock()
	if s.Proxy == nil {
		s.Lock.Unlock()
		return false, "", nil, benchapi.Errorf(benchapi.Conflict, "proxy_not_running")
	}
	if s.State == slot.Monitoring {
		s.Lock.Unlock()
		return false, "", nil, benchapi.Errorf(benchapi.Conflict, "slot already monitoring")
	}
	s.State = slot.Monitoring
	proxy := s.Proxy
	s.Lock.Unlock()

	defer func() {
		s.Lock.Lock()
		if s.State == slot.Monitoring {
			s.State = slot.Idle
		}
		s.Lock.Unlock()
	}()

	var re *regexp.Regexp
	if pattern != "" {
		re, err = regexp.Compile(pattern)
		if err != nil {
			return false, "", nil, benchapi.Wrap(benchapi.BadRequest, err, "invalid pattern")
		}
	}

	ch, unregister := proxy.AddMonitor()
	defer unregister()

	deadline := time.Now().Add(timeout)
	var partial strings.Builder
	for time.Now().Before(deadline) {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return matched, matchLine, output, nil
			}
			partial.Write(chunk)
			for {
				buf := partial.String()
				idx := strings.IndexByte(buf, '\n')
				if idx < 0 {
					break
				}
				line := strings.TrimRight(buf[:idx], "\r")
				partial.Reset()
				partial.WriteString(buf[idx+1:])
				output = append(output, line)
				if re != nil && re.MatchString(line) {
					return true, line, output, nil
				}
			}
		case <-time.After(time.Until(deadline)):
			return false, "", output, nil
		}
	}
	return false, "", output, nil
}

// Release implements POST /api/serial/release (SPEC_FULL §4 EXPANSION):
// releases the slot's GPIO boot-select line to high impedance when
// recovery pins are configured for it, then restarts the proxy (which
// force-closes any primary client), returning the slot to Idle.
func (c *Coordinator) Release(s *slot.Slot) error {
	s.Lock.Lock()
	defer s.Lock.Unlock()

	if c.gpio != nil {
		if _, ok := c.gpio.Pins[s.SlotKey]; ok {
			if err := c.gpio.Set(s.SlotKey, "boot_select", "z"); err != nil {
				c.activity.Append(activitylog.Error, s.SlotKey, "boot_select release failed: "+err.Error())
			}
		}
	}
	if !s.Present {
		return benchapi.Errorf(benchapi.NotFound, "device not present")
	}
	c.stopProxyLocked(s)
	if err := c.startProxyLocked(s); err != nil {
		s.LastError = err.Error()
		return benchapi.Wrap(benchapi.Unavailable, err, "restart proxy on release")
	}
	s.State = slot.Idle
	s.LastAction = "release"
	c.activity.Append(activitylog.Ok, s.SlotKey, "released and idle")
	return nil
}

// unbindUSB/rebindUSB drive the kernel-level USB unbind/bind sysfs
// knobs the no-hotplug recovery path uses (spec §4.1). slot_key is
// expected to be the USB sysfs device id (e.g. "1-1.2") when derived
// from hw_path, which is the common case on Linux.
const usbDriverPath = "/sys/bus/usb/drivers/usb"

func (c *Coordinator) unbindUSB(s *slot.Slot) error {
	return writeSysfsID(filepath.Join(usbDriverPath, "unbind"), s.SlotKey)
}

func (c *Coordinator) rebindUSB(s *slot.Slot) error {
	return writeSysfsID(filepath.Join(usbDriverPath, "bind"), s.SlotKey)
}

func writeSysfsID(path, id string) error {
	if id == "" {
		return fmt.Errorf("empty usb sysfs id")
	}
	return os.WriteFile(path, []byte(id), 0)
}

// workerFor returns the per-slot worker, creating it on first use.
func (c *Coordinator) workerFor(s *slot.Slot) *slotWorker {
	c.workersMu.Lock()
	defer c.workersMu.Unlock()
	w, ok := c.workers[s.SlotKey]
	if !ok {
		w = newSlotWorker(c.ctx)
		c.workers[s.SlotKey] = w
	}
	return w
}
