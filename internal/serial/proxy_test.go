package serial

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func startTestProxy(t *testing.T) (*Proxy, *SimDevice, string) {
	t.Helper()
	sim, err := NewSimDevice()
	if err != nil {
		t.Fatalf("NewSimDevice: %v", err)
	}
	t.Cleanup(func() { sim.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	p := NewProxy(addr, sim.SlavePath(), NativeUSB, OpenSim, zerolog.Nop())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { p.Stop() })
	return p, sim, addr
}

func TestProxyRelaysDeviceToClient(t *testing.T) {
	_, sim, addr := startTestProxy(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := sim.Master().Write([]byte("boot banner\n")); err != nil {
		t.Fatalf("write to master: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read from proxy: %v", err)
	}
	if line != "boot banner\n" {
		t.Fatalf("got %q", line)
	}
}

func TestProxyRelaysClientToDevice(t *testing.T) {
	_, sim, addr := startTestProxy(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("ping\n")); err != nil {
		t.Fatalf("write to proxy: %v", err)
	}

	sim.Master().SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(sim.Master())
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read from master: %v", err)
	}
	if line != "ping\n" {
		t.Fatalf("got %q", line)
	}
}

func TestProxyRejectsSecondPrimary(t *testing.T) {
	_, _, addr := startTestProxy(t)

	conn1, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial 1: %v", err)
	}
	defer conn1.Close()
	time.Sleep(50 * time.Millisecond) // let accept loop claim primary

	conn2, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial 2: %v", err)
	}
	defer conn2.Close()

	conn2.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = conn2.Read(buf)
	if err == nil {
		t.Fatalf("expected second client to be closed by proxy")
	}
}

func TestProxyMonitorReceivesDeviceTraffic(t *testing.T) {
	p, sim, _ := startTestProxy(t)

	ch, unregister := p.AddMonitor()
	defer unregister()

	if _, err := sim.Master().Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case chunk := <-ch:
		if string(chunk) != "hello" {
			t.Fatalf("got %q", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not receive device traffic")
	}
}

func TestProxySetModemFraming(t *testing.T) {
	p, _, addr := startTestProxy(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	if _, err := conn.Write(EncodeSetModem(ModemBits{DTR: true, RTS: false})); err != nil {
		t.Fatalf("write control frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		dev := p.Device()
		sd, ok := dev.(*simOpenDevice)
		if !ok {
			t.Fatalf("device is not a simOpenDevice")
		}
		if got := sd.LastModem(); got.DTR && !got.RTS {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("modem state was never applied")
}
