package udplog

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestIngestAndQuery(t *testing.T) {
	s := New(10, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx, 0); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	port := s.conn.LocalAddr().(*net.UDPAddr).Port
	conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("line one\nline two\n"))
	deadline := time.Now().Add(2 * time.Second)
	for {
		if len(s.Query(time.Time{}, "", 0)) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for ingested lines")
		}
		time.Sleep(10 * time.Millisecond)
	}

	lines := s.Query(time.Time{}, "", 0)
	if lines[0].Text != "line one" || lines[1].Text != "line two" {
		t.Fatalf("unexpected lines: %+v", lines)
	}
}

func TestRingDropsOldestAndClear(t *testing.T) {
	s := New(2, zerolog.Nop())
	s.push(Line{Ts: time.Now(), Text: "a"})
	s.push(Line{Ts: time.Now(), Text: "b"})
	s.push(Line{Ts: time.Now(), Text: "c"})

	lines := s.Query(time.Time{}, "", 0)
	if len(lines) != 2 || lines[0].Text != "b" || lines[1].Text != "c" {
		t.Fatalf("expected ring to drop oldest, got %+v", lines)
	}

	s.Clear()
	if len(s.Query(time.Time{}, "", 0)) != 0 {
		t.Fatal("expected empty after Clear")
	}
}
