package slot

import (
	"sync"
	"time"

	"github.com/benchlab/fleetbench/internal/clockid"
	"github.com/benchlab/fleetbench/internal/slotmap"
)

// Registry holds every configured Slot plus any unknown slot_key
// observations the hotplug reconciler has seen (spec §3: "Unknown
// slot_key values are tracked in-memory as observations without a
// proxy").
type Registry struct {
	clock *clockid.Clock

	mu      sync.RWMutex
	byKey   map[string]*Slot
	unknown map[string]*UnknownObservation
}

// UnknownObservation records a hotplug event for a slot_key the static
// map doesn't recognize.
type UnknownObservation struct {
	SlotKey   string
	Devnode   string
	Seq       uint64
	LastSeen  time.Time
	Present   bool
}

// NewRegistry builds a Registry with one Slot per configured entry, all
// starting Absent (spec §3: "created at config load ... never
// destroyed").
func NewRegistry(entries []slotmap.Entry, clock *clockid.Clock) *Registry {
	r := &Registry{
		clock:   clock,
		byKey:   make(map[string]*Slot, len(entries)),
		unknown: make(map[string]*UnknownObservation),
	}
	for _, e := range entries {
		r.byKey[e.SlotKey] = New(e.Label, e.SlotKey, e.TCPPort)
	}
	return r
}

// NextSeq increments and returns the process-wide monotonic sequence
// counter (spec §4.3 step 2).
func (r *Registry) NextSeq() uint64 {
	return r.clock.NextSeq()
}

// Lookup returns the Slot for slotKey, or nil if it's not in the static
// map.
func (r *Registry) Lookup(slotKey string) *Slot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey[slotKey]
}

// All returns every configured Slot, in no particular order.
func (r *Registry) All() []*Slot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Slot, 0, len(r.byKey))
	for _, s := range r.byKey {
		out = append(out, s)
	}
	return out
}

// ObserveUnknown records a hotplug event against an unrecognized
// slot_key: "record present=true, increment seq, log, do nothing else"
// (spec §4.1 edge cases).
func (r *Registry) ObserveUnknown(slotKey, devnode string, present bool, now time.Time) uint64 {
	seq := r.NextSeq()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unknown[slotKey] = &UnknownObservation{
		SlotKey:  slotKey,
		Devnode:  devnode,
		Seq:      seq,
		LastSeen: now,
		Present:  present,
	}
	return seq
}

// UnknownObservations returns every unrecognized slot_key seen so far.
func (r *Registry) UnknownObservations() []UnknownObservation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]UnknownObservation, 0, len(r.unknown))
	for _, o := range r.unknown {
		out = append(out, *o)
	}
	return out
}
