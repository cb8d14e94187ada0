// Package udplog implements the bounded UDP log ring described in
// spec §4.8: a background listener on a fixed UDP port, newline-split
// text lines pushed into a drop-oldest ring, queryable by since/source/
// limit and clearable.
package udplog

import (
	"bytes"
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Line is one ingested UDP log line.
type Line struct {
	Ts     time.Time `json:"ts"`
	Source string    `json:"source_addr"`
	Text   string    `json:"line"`
}

// DefaultCapacity matches spec §4.8's "~2000-10000" sizing.
const DefaultCapacity = 4000

// Sink owns the UDP socket and the in-memory ring.
type Sink struct {
	log zerolog.Logger

	mu       sync.Mutex
	lines    []Line
	cap      int
	writePos int
	size     int

	conn   *net.UDPConn
	cancel context.CancelFunc
}

// New creates a Sink with the given ring capacity (<=0 uses
// DefaultCapacity). It does not start listening until Start is called.
func New(capacity int, log zerolog.Logger) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{lines: make([]Line, capacity), cap: capacity, log: log.With().Str("component", "udplog").Logger()}
}

// Start binds the UDP port and begins ingesting datagrams in the
// background. The returned error is only about the bind; ingestion runs
// until ctx is cancelled or Stop is called.
func (s *Sink) Start(ctx context.Context, port int) error {
	addr := &net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	s.conn = conn

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.readLoop(runCtx)
	return nil
}

// Stop closes the UDP socket and stops ingestion. Safe to call more than
// once.
func (s *Sink) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Sink) readLoop(ctx context.Context) {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
				s.log.Warn().Err(err).Msg("udp read failed")
				continue
			}
		}

		s.ingest(addr.String(), buf[:n])
	}
}

func (s *Sink) ingest(source string, data []byte) {
	ts := time.Now()
	for _, raw := range bytes.Split(data, []byte("\n")) {
		if len(raw) == 0 {
			continue
		}
		s.push(Line{Ts: ts, Source: source, Text: string(raw)})
	}
}

func (s *Sink) push(l Line) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines[s.writePos] = l
	s.writePos = (s.writePos + 1) % s.cap
	if s.size < s.cap {
		s.size++
	}
}

// Query returns lines matching the filters, oldest-first, capped at
// limit (0 means no cap).
func (s *Sink) Query(since time.Time, source string, limit int) []Line {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := (s.writePos - s.size + s.cap) % s.cap
	out := make([]Line, 0, s.size)
	for i := 0; i < s.size; i++ {
		l := s.lines[(start+i)%s.cap]
		if !l.Ts.After(since) {
			continue
		}
		if source != "" && l.Source != source {
			continue
		}
		out = append(out, l)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Clear empties the buffer.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writePos = 0
	s.size = 0
}
