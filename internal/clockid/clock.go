// Package clockid provides the bench's single source of monotonic
// timestamps and the global event sequence counter.
//
// Every hotplug event and every slot mutation is stamped from here so
// that ordering across slots can be compared even though each slot has
// its own lock (spec §5: "the global sequence stamped on the affected
// slot is strictly greater than any previous seq on any slot").
package clockid

import (
	"sync/atomic"
	"time"
)

// Clock hands out monotonically increasing timestamps and sequence
// numbers. Safe for concurrent use.
type Clock struct {
	seq atomic.Uint64
}

// New returns a ready-to-use Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current wall-clock time, always via time.Now; Clock
// offers no way to substitute a fake time source.
func (c *Clock) Now() time.Time {
	return time.Now()
}

// NextSeq returns the next value of the global sequence counter,
// starting at 1. Every hotplug event consumes exactly one value.
func (c *Clock) NextSeq() uint64 {
	return c.seq.Add(1)
}

// LastSeq returns the most recently issued sequence value without
// consuming a new one. Zero means none have been issued yet.
func (c *Clock) LastSeq() uint64 {
	return c.seq.Load()
}
