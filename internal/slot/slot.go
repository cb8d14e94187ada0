package slot

import (
	"sync"
	"time"

	"github.com/benchlab/fleetbench/internal/serial"
)

// FlapWindow and FlapThreshold parameterize the flap detector (spec
// §4.1): 6 add/remove events inside a 30s rolling window marks a slot
// flapping.
const (
	FlapWindow    = 30 * time.Second
	FlapThreshold = 6
	RecoveryRetries = 2
)

// Slot is one physical connector position on the hub. Every field below
// is mutated only while holding Lock — callers outside this package must
// never read or write them without it (the coordinator enforces this by
// routing everything through the methods in ops.go).
type Slot struct {
	Lock sync.Mutex

	Label   string
	SlotKey string
	TCPPort int

	Present     bool
	Devnode     string
	Family      serial.Family
	State       State
	RecoveryPhase RecoveryPhase
	Seq         uint64
	LastAction  string
	LastEventTs time.Time
	LastError   string
	Flapping    bool
	RecoveryAttempts int

	eventTimes []time.Time

	Proxy *serial.Proxy
}

// New builds a Slot in its startup state: present=false, state=Absent,
// per spec §3 ("created at config load (all slots exist from startup);
// never destroyed").
func New(label, slotKey string, tcpPort int) *Slot {
	return &Slot{
		Label:   label,
		SlotKey: slotKey,
		TCPPort: tcpPort,
		State:   Absent,
	}
}

// RecordEvent appends now to the flap detector's event_times and prunes
// anything older than FlapWindow. Caller must hold Lock.
func (s *Slot) RecordEvent(now time.Time) {
	s.eventTimes = append(s.eventTimes, now)
	s.pruneEvents(now)
}

// pruneEvents drops timestamps outside the rolling window. Caller must
// hold Lock.
func (s *Slot) pruneEvents(now time.Time) {
	cutoff := now.Add(-FlapWindow)
	i := 0
	for i < len(s.eventTimes) && s.eventTimes[i].Before(cutoff) {
		i++
	}
	s.eventTimes = s.eventTimes[i:]
}

// ShouldFlap reports whether the pruned event_times has crossed
// FlapThreshold. Caller must hold Lock.
func (s *Slot) ShouldFlap(now time.Time) bool {
	s.pruneEvents(now)
	return len(s.eventTimes) >= FlapThreshold
}

// EventsAgedOut reports the "passive clear" condition: event_times has
// been pruned to empty, so a Flapping slot may fall back to Idle without
// an explicit recovery signal. Caller must hold Lock.
func (s *Slot) EventsAgedOut(now time.Time) bool {
	s.pruneEvents(now)
	return len(s.eventTimes) == 0
}

// Snapshot is the read-only, lock-free view returned to HTTP handlers.
type Snapshot struct {
	Label            string    `json:"label"`
	SlotKey          string    `json:"slot_key"`
	TCPPort          int       `json:"tcp_port"`
	Present          bool      `json:"present"`
	Devnode          string    `json:"devnode,omitempty"`
	State            string    `json:"state"`
	RecoveryPhase    string    `json:"recovery_phase,omitempty"`
	Seq              uint64    `json:"seq"`
	LastAction       string    `json:"last_action,omitempty"`
	LastEventTs      time.Time `json:"last_event_ts,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	Flapping         bool      `json:"flapping"`
	RecoveryAttempts int       `json:"recovery_attempts,omitempty"`
	Running          bool      `json:"running"`
}

// Snapshot copies out the fields HTTP handlers serialize. Caller must
// hold Lock (ops.go's callers always do; direct callers should take it).
func (s *Slot) Snapshot() Snapshot {
	phase := ""
	if s.Flapping {
		phase = s.RecoveryPhase.String()
	}
	return Snapshot{
		Label:            s.Label,
		SlotKey:          s.SlotKey,
		TCPPort:          s.TCPPort,
		Present:          s.Present,
		Devnode:          s.Devnode,
		State:            s.State.String(),
		RecoveryPhase:    phase,
		Seq:              s.Seq,
		LastAction:       s.LastAction,
		LastEventTs:      s.LastEventTs,
		LastError:        s.LastError,
		Flapping:         s.Flapping,
		RecoveryAttempts: s.RecoveryAttempts,
		Running:          s.Proxy != nil,
	}
}
