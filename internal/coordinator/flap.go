package coordinator

import (
	"fmt"
	"time"

	"github.com/benchlab/fleetbench/internal/activitylog"
	"github.com/benchlab/fleetbench/internal/slot"
)

// RecoveryCooldown is the pause between unbind and rebind in the
// GPIO-assisted recovery sequence (spec §4.1: "≈10s"). A var, not a
// const, so tests can shrink it.
var RecoveryCooldown = 10 * time.Second

// enterFlapping stops the proxy, marks the slot Flapping, and kicks off
// recovery. Caller must hold s.Lock.
func (c *Coordinator) enterFlapping(s *slot.Slot) {
	c.stopProxyLocked(s)
	s.Flapping = true
	s.State = slot.Flapping
	s.LastError = "flapping: oscillation detected"
	s.RecoveryAttempts = 0
	c.activity.Append(activitylog.Error, s.SlotKey, "flapping detected, suppressing proxy starts")

	c.workerFor(s).Submit(func() {
		c.runRecovery(s, false)
	})
}

// Recover is the manual entry point to the recovery sequence (spec
// §4.4: "recover"). It resets the retry counter and re-runs recovery
// even if the slot is already Flapping.
func (c *Coordinator) Recover(s *slot.Slot) {
	s.Lock.Lock()
	if s.State != slot.Flapping {
		s.Flapping = true
		s.State = slot.Flapping
	}
	s.RecoveryAttempts = 0
	s.Lock.Unlock()

	c.workerFor(s).Submit(func() {
		c.runRecovery(s, true)
	})
}

// runRecovery drives one pass of the flap-recovery sequence (spec
// §4.1). With GPIO available: unbind, cooldown, assert boot-select LOW,
// pulse reset, rebind — landing the device in download mode, a stable
// terminal state. Without GPIO: just re-bind after cooldown, up to
// RecoveryRetries times, then quiesce in Flapping with "needs manual
// intervention".
func (c *Coordinator) runRecovery(s *slot.Slot, manual bool) {
	s.Lock.Lock()
	s.RecoveryPhase = slot.Recovering
	s.Lock.Unlock()

	if c.gpio == nil {
		c.runRecoveryNoGPIO(s)
		return
	}
	c.runRecoveryWithGPIO(s)
}

func (c *Coordinator) runRecoveryWithGPIO(s *slot.Slot) {
	c.activity.Append(activitylog.Step, s.SlotKey, "recovery: unbinding device")
	if err := c.unbindUSB(s); err != nil {
		c.activity.Append(activitylog.Error, s.SlotKey, "unbind failed: "+err.Error())
	}

	time.Sleep(RecoveryCooldown)

	if err := c.gpio.Set(s.SlotKey, "boot_select", "0"); err != nil {
		c.activity.Append(activitylog.Error, s.SlotKey, "boot_select assert failed: "+err.Error())
	}
	if err := c.gpio.Set(s.SlotKey, "reset", "0"); err != nil {
		c.activity.Append(activitylog.Error, s.SlotKey, "reset assert failed: "+err.Error())
	}
	time.Sleep(50 * time.Millisecond)
	if err := c.gpio.Set(s.SlotKey, "reset", "1"); err != nil {
		c.activity.Append(activitylog.Error, s.SlotKey, "reset release failed: "+err.Error())
	}

	if err := c.rebindUSB(s); err != nil {
		c.activity.Append(activitylog.Error, s.SlotKey, "rebind failed: "+err.Error())
	}

	s.Lock.Lock()
	s.RecoveryPhase = slot.NotRecovering
	s.LastAction = "recover"
	s.Lock.Unlock()
	c.activity.Append(activitylog.Ok, s.SlotKey, "recovery complete: device in download mode")
}

func (c *Coordinator) runRecoveryNoGPIO(s *slot.Slot) {
	for attempt := 1; attempt <= slot.RecoveryRetries; attempt++ {
		c.activity.Append(activitylog.Step, s.SlotKey, fmt.Sprintf("recovery attempt %d/%d (no GPIO): rebinding USB", attempt, slot.RecoveryRetries))
		time.Sleep(RecoveryCooldown)
		if err := c.rebindUSB(s); err == nil {
			s.Lock.Lock()
			s.Flapping = false
			s.State = slot.Absent
			s.RecoveryPhase = slot.NotRecovering
			s.RecoveryAttempts = attempt
			s.Lock.Unlock()
			c.activity.Append(activitylog.Ok, s.SlotKey, "recovery succeeded, awaiting re-add")
			return
		}
		s.Lock.Lock()
		s.RecoveryAttempts = attempt
		s.Lock.Unlock()
	}

	s.Lock.Lock()
	s.RecoveryPhase = slot.NeedsManualIntervention
	s.LastError = "flap recovery exhausted retries, needs manual intervention"
	s.Lock.Unlock()
	c.activity.Append(activitylog.Error, s.SlotKey, "recovery retries exhausted, needs manual intervention")
}

// PollFlapClear is called periodically (or opportunistically, from any
// poll of the slot) to implement the passive clear: "any poll that finds
// event_times emptied by aging clears flapping passively" (spec §4.1).
func (c *Coordinator) PollFlapClear(s *slot.Slot) {
	s.Lock.Lock()
	defer s.Lock.Unlock()
	if !s.Flapping {
		return
	}
	if s.EventsAgedOut(c.clock.Now()) {
		s.Flapping = false
		s.RecoveryPhase = slot.NotRecovering
		s.State = slot.Absent
		c.activity.Append(activitylog.Ok, s.SlotKey, "flapping cleared passively (event window aged out)")
	}
}
