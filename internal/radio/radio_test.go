package radio

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/benchlab/fleetbench/internal/activitylog"
	"github.com/benchlab/fleetbench/internal/eventqueue"
)

func testArbiter(networks []ScanResult) (*Arbiter, *SimBackend, *eventqueue.Queue) {
	backend := NewSimBackend(networks)
	events := eventqueue.New()
	a := NewArbiter(backend, activitylog.New(activitylog.DefaultCapacity), events, zerolog.Nop())
	return a, backend, events
}

func TestStartStopAP(t *testing.T) {
	a, _, _ := testArbiter(nil)
	ctx := context.Background()
	if err := a.StartAP(ctx, "bench-ap", "password123", 6); err != nil {
		t.Fatalf("StartAP: %v", err)
	}
	snap := a.Snapshot()
	if snap.Mode != "ap" || snap.AP == nil || snap.AP.SSID != "bench-ap" {
		t.Fatalf("got %+v", snap)
	}
	if err := a.StopAP(ctx); err != nil {
		t.Fatalf("StopAP: %v", err)
	}
	if a.Snapshot().Mode != "idle" {
		t.Fatalf("expected idle after stop, got %s", a.Snapshot().Mode)
	}
}

func TestJoinSTAStopsAPFirst(t *testing.T) {
	a, _, _ := testArbiter(nil)
	ctx := context.Background()
	a.StartAP(ctx, "bench-ap", "pw", 1)
	ip, gw, err := a.JoinSTA(ctx, "home-wifi", "pw", time.Second)
	if err != nil {
		t.Fatalf("JoinSTA: %v", err)
	}
	if ip == "" || gw == "" {
		t.Fatalf("expected ip/gateway, got %q/%q", ip, gw)
	}
	if a.Snapshot().Mode != "sta" {
		t.Fatalf("expected sta mode, got %s", a.Snapshot().Mode)
	}
}

func TestUplinkBlocksOtherOps(t *testing.T) {
	a, _, _ := testArbiter(nil)
	ctx := context.Background()
	if _, _, err := a.EnterUplink(ctx, "home-wifi", "pw", time.Second); err != nil {
		t.Fatalf("EnterUplink: %v", err)
	}
	if err := a.StartAP(ctx, "x", "y", 1); err == nil {
		t.Fatal("expected ap_start to be refused in uplink mode")
	}
	if _, _, err := a.JoinSTA(ctx, "x", "y", time.Second); err == nil {
		t.Fatal("expected sta_join to be refused in uplink mode")
	}
}

func TestEnterUplinkRevertsOnFailure(t *testing.T) {
	a, backend, _ := testArbiter(nil)
	ctx := context.Background()
	a.StartAP(ctx, "bench-ap", "pw", 6)

	backend.SetFailJoin(true)
	_, _, err := a.EnterUplink(ctx, "bad-ssid", "pw", time.Second)
	if err == nil {
		t.Fatal("expected EnterUplink to fail")
	}
	snap := a.Snapshot()
	if snap.Mode != "ap" {
		t.Fatalf("expected revert to ap mode, got %s", snap.Mode)
	}
}

func TestScanOmitsOwnSSIDAndSortsBySignal(t *testing.T) {
	a, _, _ := testArbiter([]ScanResult{
		{SSID: "weak", Signal: -80},
		{SSID: "bench-ap", Signal: -40},
		{SSID: "strong", Signal: -30},
	})
	ctx := context.Background()
	a.StartAP(ctx, "bench-ap", "pw", 6)

	results, err := a.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected own ssid omitted, got %+v", results)
	}
	if results[0].SSID != "strong" || results[1].SSID != "weak" {
		t.Fatalf("expected sorted by signal desc, got %+v", results)
	}
}

func TestStopAPEmitsDisconnectForEveryStation(t *testing.T) {
	a, _, events := testArbiter(nil)
	ctx := context.Background()
	a.StartAP(ctx, "bench-ap", "pw", 6)
	a.OnLeaseEvent("add", "aa:bb", "192.168.4.2", "dut1")
	a.OnLeaseEvent("add", "cc:dd", "192.168.4.3", "dut2")

	a.StopAP(ctx)

	evs := events.Get(time.Second)
	count := 0
	for _, e := range evs {
		if e.Kind == eventqueue.StationDisconnect {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 disconnect events, got %d (%+v)", count, evs)
	}
}

func TestEnterPortalComposite(t *testing.T) {
	a, backend, _ := testArbiter(nil)
	ctx := context.Background()

	var posted HTTPRequest
	backend.SetRelayFunc(func(req HTTPRequest) (HTTPResponse, error) {
		posted = req
		return HTTPResponse{StatusCode: 200}, nil
	})

	if err := a.EnterPortal(ctx, "dut-portal", "home-wifi", "secret"); err != nil {
		t.Fatalf("EnterPortal: %v", err)
	}
	if posted.Method != "POST" {
		t.Fatalf("expected POST to captive portal, got %+v", posted)
	}
	if a.Snapshot().Mode != "ap" {
		t.Fatalf("expected ap mode after portal handoff, got %s", a.Snapshot().Mode)
	}
}
