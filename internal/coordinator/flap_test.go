package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/benchlab/fleetbench/internal/gpio"
	"github.com/benchlab/fleetbench/internal/serial"
	"github.com/benchlab/fleetbench/internal/slot"
	"github.com/benchlab/fleetbench/internal/slotmap"
)

func withShortRecoveryCooldown(t *testing.T) {
	t.Helper()
	orig := RecoveryCooldown
	RecoveryCooldown = 150 * time.Millisecond
	t.Cleanup(func() { RecoveryCooldown = orig })
}

func waitForFlapState(t *testing.T, s *slot.Slot, want func(snap slot.Snapshot) bool) slot.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.Lock.Lock()
		snap := s.Snapshot()
		s.Lock.Unlock()
		if want(snap) {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("slot %s never reached expected flap state", s.SlotKey)
	return slot.Snapshot{}
}

// triggerFlap feeds FlapThreshold synthetic add events for slotKey into
// OnHotplug, all well inside slot.FlapWindow, to cross slot.FlapThreshold
// (spec §8: "six hotplug events within 30s flip flapping true").
func triggerFlap(c *Coordinator, slotKey string) {
	for i := 0; i < slot.FlapThreshold; i++ {
		c.OnHotplug(ActionAdd, "/dev/ttyACM0", slotKey)
	}
}

func TestSixRapidHotplugEventsTriggerFlappingNoGPIO(t *testing.T) {
	withShortRecoveryCooldown(t)
	c, err := New(context.Background(), Deps{
		Entries:  []slotmap.Entry{{Label: "slot-a", SlotKey: "slot-a", TCPPort: freePort(t)}},
		BindHost: "127.0.0.1",
		Open:     serial.OpenSim,
		Log:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})

	s := c.Registry().Lookup("slot-a")
	if s == nil {
		t.Fatal("expected slot-a to be registered")
	}

	triggerFlap(c, "slot-a")

	waitForFlapState(t, s, func(snap slot.Snapshot) bool { return snap.Flapping })
	waitForFlapState(t, s, func(snap slot.Snapshot) bool { return snap.RecoveryPhase == "recovering" })

	// No GPIO line is wired, so rebindUSB writes to a sysfs path that
	// doesn't exist and every retry fails: recovery exhausts
	// slot.RecoveryRetries and quiesces needing manual intervention,
	// with Flapping still true (spec §8: "flapping=true implies no
	// running proxy").
	snap := waitForFlapState(t, s, func(snap slot.Snapshot) bool {
		return snap.RecoveryPhase == "needs_manual_intervention"
	})
	if !snap.Flapping {
		t.Fatalf("expected slot to remain flapping after exhausting no-gpio retries, got %+v", snap)
	}
	if snap.Running {
		t.Fatalf("flapping must imply no running proxy, got %+v", snap)
	}
}

func TestSixRapidHotplugEventsTriggerFlappingWithGPIO(t *testing.T) {
	withShortRecoveryCooldown(t)
	c, err := New(context.Background(), Deps{
		Entries:      []slotmap.Entry{{Label: "slot-a", SlotKey: "slot-a", TCPPort: freePort(t)}},
		BindHost:     "127.0.0.1",
		Open:         serial.OpenSim,
		GPIOLine:     gpio.NewSim(),
		GPIOAllowed:  []int{5, 6},
		RecoveryPins: map[string]RecoveryPins{"slot-a": {BootSelect: 5, Reset: 6}},
		Log:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})

	s := c.Registry().Lookup("slot-a")
	if s == nil {
		t.Fatal("expected slot-a to be registered")
	}

	triggerFlap(c, "slot-a")

	waitForFlapState(t, s, func(snap slot.Snapshot) bool { return snap.Flapping })
	waitForFlapState(t, s, func(snap slot.Snapshot) bool { return snap.RecoveryPhase == "recovering" })

	// The GPIO-assisted path lands in a stable terminal state: still
	// Flapping (download mode, awaiting POST /api/serial/release), but
	// RecoveryPhase quiesced back to NotRecovering.
	snap := waitForFlapState(t, s, func(snap slot.Snapshot) bool { return snap.RecoveryPhase == "" })
	if !snap.Flapping {
		t.Fatalf("expected slot to remain flapping (in download mode) after gpio recovery, got %+v", snap)
	}
}

func TestRecoverResetsAttemptsAndReRunsRecovery(t *testing.T) {
	withShortRecoveryCooldown(t)
	c, err := New(context.Background(), Deps{
		Entries:  []slotmap.Entry{{Label: "slot-a", SlotKey: "slot-a", TCPPort: freePort(t)}},
		BindHost: "127.0.0.1",
		Open:     serial.OpenSim,
		Log:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})

	s := c.Registry().Lookup("slot-a")
	triggerFlap(c, "slot-a")
	waitForFlapState(t, s, func(snap slot.Snapshot) bool {
		return snap.RecoveryPhase == "needs_manual_intervention"
	})

	c.Recover(s)

	s.Lock.Lock()
	attempts := s.RecoveryAttempts
	s.Lock.Unlock()
	if attempts != 0 {
		t.Fatalf("expected Recover to reset RecoveryAttempts immediately, got %d", attempts)
	}

	waitForFlapState(t, s, func(snap slot.Snapshot) bool { return snap.RecoveryPhase == "recovering" })
	snap := waitForFlapState(t, s, func(snap slot.Snapshot) bool {
		return snap.RecoveryPhase == "needs_manual_intervention"
	})
	if !snap.Flapping {
		t.Fatalf("expected slot to remain flapping after manual recover exhausts retries again, got %+v", snap)
	}
}

func TestPollFlapClearClearsAgedOutFlap(t *testing.T) {
	c, err := New(context.Background(), Deps{
		Entries:  []slotmap.Entry{{Label: "slot-a", SlotKey: "slot-a", TCPPort: freePort(t)}},
		BindHost: "127.0.0.1",
		Open:     serial.OpenSim,
		Log:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})

	s := slot.New("slot-b", "slot-b", freePort(t))
	s.Lock.Lock()
	s.RecordEvent(time.Now().Add(-2 * slot.FlapWindow))
	s.Flapping = true
	s.State = slot.Flapping
	s.RecoveryPhase = slot.NeedsManualIntervention
	s.Lock.Unlock()

	c.PollFlapClear(s)

	s.Lock.Lock()
	defer s.Lock.Unlock()
	if s.Flapping {
		t.Fatal("expected PollFlapClear to clear Flapping once the event window aged out")
	}
	if s.State != slot.Absent {
		t.Fatalf("expected state to revert to Absent, got %v", s.State)
	}
	if s.RecoveryPhase != slot.NotRecovering {
		t.Fatalf("expected RecoveryPhase to reset to NotRecovering, got %v", s.RecoveryPhase)
	}
}

func TestPollFlapClearLeavesActiveFlapUntouched(t *testing.T) {
	c, err := New(context.Background(), Deps{
		Entries:  []slotmap.Entry{{Label: "slot-a", SlotKey: "slot-a", TCPPort: freePort(t)}},
		BindHost: "127.0.0.1",
		Open:     serial.OpenSim,
		Log:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})

	s := slot.New("slot-b", "slot-b", freePort(t))
	s.Lock.Lock()
	s.RecordEvent(time.Now())
	s.Flapping = true
	s.Lock.Unlock()

	c.PollFlapClear(s)

	s.Lock.Lock()
	defer s.Lock.Unlock()
	if !s.Flapping {
		t.Fatal("expected a flap with a fresh event to remain flapping")
	}
}
