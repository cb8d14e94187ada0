// Package activitylog implements the bounded, append-only ring buffer
// described in spec §4.7: every significant core action appends an entry
// here, and clients read it via a since-timestamp query (GET /api/log).
//
// The ring-buffer-behind-a-mutex shape is grounded on the teacher's
// pty.Hub scrollback ring (sandbox/internal/pty/hub.go's appendScrollback
// / Scrollback pair) — same fixed-capacity, drop-oldest, copy-out-under-
// lock structure, applied here to structured entries instead of raw
// bytes.
package activitylog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of an activity entry.
type Level string

const (
	Info  Level = "info"
	Ok    Level = "ok"
	Error Level = "error"
	Step  Level = "step"
)

// Entry is one immutable record in the log.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Tag       string    `json:"tag"`
	Message   string    `json:"message"`
}

// DefaultCapacity matches spec §3's "~1000" sizing.
const DefaultCapacity = 1000

// Log is a bounded, thread-safe ring of Entry values ordered by
// insertion (which is also timestamp order, since Append always uses the
// current time).
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	cap      int
	writePos int
	size     int
	lastTS   time.Time
}

// New creates a Log with the given capacity. capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{entries: make([]Entry, capacity), cap: capacity}
}

// Append records a new entry. Non-blocking: callers never wait on
// readers. If two entries land in the same nanosecond tick, the clock is
// nudged forward by 1ns so that "ordering of entries with identical ts is
// insertion order" (spec §4.7) is never violated when later filtered by
// `ts > since`.
func (l *Log) Append(level Level, tag, message string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now()
	if !ts.After(l.lastTS) {
		ts = l.lastTS.Add(time.Nanosecond)
	}
	l.lastTS = ts

	e := Entry{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Level:     level,
		Tag:       tag,
		Message:   message,
	}

	l.entries[l.writePos] = e
	l.writePos = (l.writePos + 1) % l.cap
	if l.size < l.cap {
		l.size++
	}
	return e
}

// Since returns all entries with Timestamp strictly after since, ordered
// oldest-first. Passing the zero time returns everything retained.
func (l *Log) Since(since time.Time) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, l.size)
	start := (l.writePos - l.size + l.cap) % l.cap
	for i := 0; i < l.size; i++ {
		e := l.entries[(start+i)%l.cap]
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}
