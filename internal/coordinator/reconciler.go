package coordinator

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/benchlab/fleetbench/internal/activitylog"
	"github.com/benchlab/fleetbench/internal/slot"
)

// HotplugAction is the action an OS hotplug callback reports.
type HotplugAction string

const (
	ActionAdd    HotplugAction = "add"
	ActionRemove HotplugAction = "remove"
)

// OnHotplug is the sole entry point for OS-delivered hotplug callbacks
// (spec §4.3). It derives the slot_key, stamps the event under a short
// critical section, and hands the slow work off to that slot's worker so
// the ingest path returns immediately.
func (c *Coordinator) OnHotplug(action HotplugAction, devnode, hwPath string) {
	slotKey := deriveSlotKey(hwPath, devnode)
	now := c.clock.Now()

	s := c.registry.Lookup(slotKey)
	if s == nil {
		seq := c.registry.ObserveUnknown(slotKey, devnode, action == ActionAdd, now)
		c.activity.Append(activitylog.Info, "hotplug", fmt.Sprintf(
			"unrecognized slot_key %q (devnode %s, action %s, seq %d)", slotKey, devnode, action, seq))
		return
	}

	s.Lock.Lock()
	seq := c.registry.NextSeq()
	s.Seq = seq
	s.LastEventTs = now
	s.RecordEvent(now)
	s.Lock.Unlock()

	c.activity.Append(activitylog.Step, "hotplug", fmt.Sprintf(
		"%s seq=%d action=%s devnode=%s", slotKey, seq, action, devnode))

	c.workerFor(s).Submit(func() {
		c.reconcileSlot(s, action, devnode, now)
	})
}

// reconcileSlot runs the slow part of hotplug reconciliation under
// slot.Lock (spec §4.3 step 4): settle-wait and proxy start for add,
// proxy stop for remove. It also feeds the flap detector.
func (c *Coordinator) reconcileSlot(s *slot.Slot, action HotplugAction, devnode string, now time.Time) {
	s.Lock.Lock()
	defer s.Lock.Unlock()

	if s.ShouldFlap(now) && !s.Flapping {
		c.enterFlapping(s)
		return
	}
	if s.Flapping {
		// A slot in Flapping suppresses new proxy starts until recovery
		// clears the flag (spec §3 invariant); still record the event,
		// already done above, then bail.
		return
	}

	switch action {
	case ActionAdd:
		c.handleAdd(s, devnode)
	case ActionRemove:
		c.handleRemove(s)
	}
}

func (c *Coordinator) handleAdd(s *slot.Slot, devnode string) {
	if s.Present && s.Devnode == devnode && s.State != slot.Absent {
		return // duplicate add, idempotent (spec §4.1 edge cases)
	}
	if s.Present && s.Devnode != devnode {
		c.stopProxyLocked(s)
	}

	family := c.classify(devnode)
	if !c.waitForDevice(devnode, family) {
		s.LastError = "device did not settle"
		c.activity.Append(activitylog.Error, s.SlotKey, "device did not settle in time: "+devnode)
		return
	}

	s.Present = true
	s.Devnode = devnode
	s.Family = family
	s.LastAction = "add"

	if err := c.startProxyLocked(s); err != nil {
		s.LastError = err.Error()
		c.activity.Append(activitylog.Error, s.SlotKey, "proxy start failed: "+err.Error())
		return
	}
	s.State = slot.Idle
	c.activity.Append(activitylog.Ok, s.SlotKey, "idle, proxy listening on :"+fmtPort(s.TCPPort))
}

func (c *Coordinator) handleRemove(s *slot.Slot) {
	c.stopProxyLocked(s)
	s.Present = false
	s.Devnode = ""
	s.State = slot.Absent
	s.LastAction = "remove"
	c.activity.Append(activitylog.Info, s.SlotKey, "absent")
}

// deriveSlotKey falls back to the device path when hw_path is empty
// (spec §4.3 step 1).
func deriveSlotKey(hwPath, devnode string) string {
	if strings.TrimSpace(hwPath) != "" {
		return hwPath
	}
	return devnode
}

func fmtPort(port int) string {
	return fmt.Sprintf("%d", port)
}

// BootScan enumerates already-plugged serial devices at startup and
// synthesizes add events for each (spec §4.3: "boot scan").
func (c *Coordinator) BootScan(devnodes []string, hwPaths map[string]string) {
	for _, dn := range devnodes {
		c.OnHotplug(ActionAdd, dn, hwPaths[dn])
	}
}

func (c *Coordinator) logger() zerolog.Logger {
	return c.log
}
