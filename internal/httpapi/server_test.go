package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/benchlab/fleetbench/internal/coordinator"
	"github.com/benchlab/fleetbench/internal/gpio"
	"github.com/benchlab/fleetbench/internal/radio"
	"github.com/benchlab/fleetbench/internal/serial"
	"github.com/benchlab/fleetbench/internal/slotmap"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testServer(t *testing.T) *Server {
	t.Helper()
	coord, err := coordinator.New(context.Background(), coordinator.Deps{
		Entries:      []slotmap.Entry{{Label: "slot-a", SlotKey: "slot-a", TCPPort: freePort(t)}},
		BindHost:     "127.0.0.1",
		Open:         serial.OpenSim,
		RadioBackend: radio.NewSimBackend(nil),
		GPIOLine:     gpio.NewSim(),
		GPIOAllowed:  []int{0, 17, 27},
		FirmwareRoot: t.TempDir(),
		Log:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("coordinator.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		coord.Shutdown(ctx)
	})
	return New(coord)
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzOK(t *testing.T) {
	s := testServer(t)
	rec := doRequest(s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("got %+v", body)
	}
}

func TestDevicesListsConfiguredSlots(t *testing.T) {
	s := testServer(t)
	rec := doRequest(s, http.MethodGet, "/api/devices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("got %+v", body)
	}
	slots, ok := body["slots"].([]any)
	if !ok || len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %+v", body["slots"])
	}
}

func TestStartUnknownSlotReturnsNotFound(t *testing.T) {
	s := testServer(t)
	rec := doRequest(s, http.MethodPost, "/api/start", `{"slot_key":"nope"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStartMissingSlotKeyIsBadRequest(t *testing.T) {
	s := testServer(t)
	rec := doRequest(s, http.MethodPost, "/api/start", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGPIOSetUnconfiguredPinIsRejected(t *testing.T) {
	s := testServer(t)
	rec := doRequest(s, http.MethodPost, "/api/gpio/set", `{"pin":99,"value":"1"}`)
	if rec.Code == http.StatusOK {
		t.Fatalf("expected pin 99 (not in allowlist) to be rejected, got %d", rec.Code)
	}
}

func TestGPIOSetAllowedPinZeroIsAccepted(t *testing.T) {
	s := testServer(t)
	rec := doRequest(s, http.MethodPost, "/api/gpio/set", `{"pin":0,"value":"0"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pin 0 to be a legitimate request, got %d: %s", rec.Code, rec.Body.String())
	}
}
