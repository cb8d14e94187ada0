package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAMLMissingFileReturnsDefaults(t *testing.T) {
	c, err := LoadYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	want := Default()
	if c.HTTPAddr != want.HTTPAddr || c.Wireless.Interface != want.Wireless.Interface {
		t.Fatalf("expected defaults, got %+v", c)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	data := []byte(`
http_addr: ":9090"
wireless:
  interface: wlan1
gpio:
  allowed_pins: [17, 27]
  recovery_pins:
    slot-a:
      boot_select: 5
      reset: 6
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write bench.yaml: %v", err)
	}

	c, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if c.HTTPAddr != ":9090" {
		t.Fatalf("expected http_addr override, got %q", c.HTTPAddr)
	}
	if c.Wireless.Interface != "wlan1" {
		t.Fatalf("expected wireless.interface override, got %q", c.Wireless.Interface)
	}
	if len(c.GPIO.AllowedPins) != 2 || c.GPIO.AllowedPins[0] != 17 {
		t.Fatalf("expected allowed_pins override, got %+v", c.GPIO.AllowedPins)
	}
	pins, ok := c.GPIO.RecoveryPins["slot-a"]
	if !ok || pins.BootSelect != 5 || pins.Reset != 6 {
		t.Fatalf("expected recovery_pins for slot-a, got %+v", c.GPIO.RecoveryPins)
	}
	// Untouched knobs keep their defaults.
	if c.Firmware.Root != Default().Firmware.Root {
		t.Fatalf("expected firmware.root to stay default, got %q", c.Firmware.Root)
	}
}

func TestApplyEnvFileMissingFileIsNotAnError(t *testing.T) {
	c, err := ApplyEnvFile(Default(), filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("ApplyEnvFile: %v", err)
	}
	if c.HTTPAddr != Default().HTTPAddr {
		t.Fatalf("expected unchanged config, got %+v", c)
	}
}

func TestApplyEnvFileOverridesKnobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	data := []byte("BENCH_HTTP_ADDR=:7070\nBENCH_UDP_LOG_PORT=6000\nBENCH_BLE_SCAN_TIMEOUT=5s\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	c, err := ApplyEnvFile(Default(), path)
	if err != nil {
		t.Fatalf("ApplyEnvFile: %v", err)
	}
	if c.HTTPAddr != ":7070" {
		t.Fatalf("expected BENCH_HTTP_ADDR override, got %q", c.HTTPAddr)
	}
	if c.UDPLog.Port != 6000 {
		t.Fatalf("expected BENCH_UDP_LOG_PORT override, got %d", c.UDPLog.Port)
	}
	if c.BLE.ScanTimeout != 5*time.Second {
		t.Fatalf("expected BENCH_BLE_SCAN_TIMEOUT override, got %v", c.BLE.ScanTimeout)
	}
}

func TestApplyOSEnvironWinsOverYAML(t *testing.T) {
	t.Setenv("BENCH_HTTP_ADDR", ":6060")

	c := ApplyOSEnviron(Default())
	if c.HTTPAddr != ":6060" {
		t.Fatalf("expected os environ to win, got %q", c.HTTPAddr)
	}
}

func TestParsePinList(t *testing.T) {
	cases := map[string][]int{
		"":            nil,
		"17":          {17},
		"17,27":       {17, 27},
		"17, 27, 22":  {17, 27, 22},
		"  5   9  ":   {5, 9},
	}
	for input, want := range cases {
		got := parsePinList(input)
		if len(got) != len(want) {
			t.Fatalf("parsePinList(%q) = %v, want %v", input, got, want)
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("parsePinList(%q) = %v, want %v", input, got, want)
			}
		}
	}
}
