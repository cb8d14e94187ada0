package ble

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/benchlab/fleetbench/internal/activitylog"
)

func testFacade(scan []ScanResult, services []Service, connName string) (*Facade, *SimBackend) {
	backend := NewSimBackend(scan, services, connName)
	f := NewFacade(backend, activitylog.New(activitylog.DefaultCapacity), zerolog.Nop())
	return f, backend
}

func TestScanReturnsBackendResults(t *testing.T) {
	f, _ := testFacade([]ScanResult{{Address: "aa:bb", Name: "dut1", RSSI: -50}}, nil, "")
	results, err := f.Scan(context.Background(), 0, "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 1 || results[0].Address != "aa:bb" {
		t.Fatalf("got %+v", results)
	}
	if f.Snapshot().State != "idle" {
		t.Fatalf("expected idle after scan completes, got %s", f.Snapshot().State)
	}
}

func TestScanFiltersByName(t *testing.T) {
	f, _ := testFacade([]ScanResult{
		{Address: "aa", Name: "dut1"},
		{Address: "bb", Name: "dut2"},
	}, nil, "")
	results, err := f.Scan(context.Background(), 0, "dut2")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 1 || results[0].Address != "bb" {
		t.Fatalf("expected only dut2, got %+v", results)
	}
}

func TestConnectTransitionsToConnected(t *testing.T) {
	services := []Service{{UUID: "180f", Characteristics: []Characteristic{{UUID: "2a19", Properties: []string{"read"}}}}}
	f, _ := testFacade(nil, services, "dut1")

	got, err := f.Connect(context.Background(), "aa:bb")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(got) != 1 || got[0].UUID != "180f" {
		t.Fatalf("got %+v", got)
	}
	snap := f.Snapshot()
	if snap.State != "connected" || snap.Address != "aa:bb" || snap.Name != "dut1" {
		t.Fatalf("got %+v", snap)
	}
}

func TestConnectRefusedWhileAlreadyConnected(t *testing.T) {
	f, _ := testFacade(nil, nil, "")
	if _, err := f.Connect(context.Background(), "aa:bb"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := f.Connect(context.Background(), "cc:dd"); err == nil {
		t.Fatal("expected second connect to be refused")
	}
}

func TestWriteRequiresConnection(t *testing.T) {
	f, _ := testFacade(nil, nil, "")
	if err := f.Write(context.Background(), "2a19", "deadbeef", false); err == nil {
		t.Fatal("expected write to fail while not connected")
	}
}

func TestWriteRejectsInvalidHex(t *testing.T) {
	f, _ := testFacade(nil, nil, "")
	if _, err := f.Connect(context.Background(), "aa:bb"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := f.Write(context.Background(), "2a19", "not-hex", false); err == nil {
		t.Fatal("expected invalid hex payload to be rejected")
	}
}

func TestDisconnectReturnsToIdle(t *testing.T) {
	f, _ := testFacade(nil, nil, "")
	if _, err := f.Connect(context.Background(), "aa:bb"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := f.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	snap := f.Snapshot()
	if snap.State != "idle" || snap.Address != "" {
		t.Fatalf("got %+v", snap)
	}
}

func TestRemoteDisconnectClearsState(t *testing.T) {
	f, backend := testFacade(nil, nil, "")
	if _, err := f.Connect(context.Background(), "aa:bb"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	backend.TriggerDisconnect()

	snap := f.Snapshot()
	if snap.State != "idle" || snap.Address != "" {
		t.Fatalf("expected remote disconnect to clear state, got %+v", snap)
	}
}
