// Package config loads the bench's ambient configuration: a bench.yaml
// of non-secret defaults overridden by a .env file of deployment-specific
// knobs (spec §6 "Environment knobs"). The slot map itself stays the one
// durable JSON file spec §3/§6 mandate — it is loaded separately by
// internal/slotmap, never folded into this struct.
//
// Grounded on R2Northstar-Atlas's cmd/atlas/main.go (hashicorp/go-envparse
// over an optional env file) for the .env layer, and
// aldrin-isaac-newtron's pkg/labgen.LoadTopology (gopkg.in/yaml.v3 over a
// validated struct) for the bench.yaml layer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-envparse"
	"gopkg.in/yaml.v3"
)

// Config is every non-secret, non-slot-map knob the bench needs at
// startup (spec §6: "Environment knobs").
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	SlotMap  string `yaml:"slot_map"`

	BindHost string `yaml:"bind_host"`

	Wireless WirelessConfig `yaml:"wireless"`
	UDPLog   UDPLogConfig   `yaml:"udp_log"`
	Firmware FirmwareConfig `yaml:"firmware"`
	BLE      BLEConfig      `yaml:"ble"`
	Flap     FlapConfig     `yaml:"flap"`
	GPIO     GPIOConfig     `yaml:"gpio"`
}

type WirelessConfig struct {
	Interface  string `yaml:"interface"`
	APIP       string `yaml:"ap_ip"`
	APNetmask  string `yaml:"ap_netmask"`
	DHCPRangeLo string `yaml:"dhcp_range_lo"`
	DHCPRangeHi string `yaml:"dhcp_range_hi"`
}

type UDPLogConfig struct {
	Port     int `yaml:"port"`
	Capacity int `yaml:"capacity"`
}

type FirmwareConfig struct {
	Root string `yaml:"root"`
}

type BLEConfig struct {
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}

type FlapConfig struct {
	WindowSeconds   int `yaml:"window_seconds"`
	Threshold       int `yaml:"threshold"`
	CooldownSeconds int `yaml:"cooldown_seconds"`
	MaxRetries      int `yaml:"max_retries"`
}

type GPIOConfig struct {
	AllowedPins []int `yaml:"allowed_pins"`
	// RecoveryPins maps a slot_key to the boot-select/reset pins the flap
	// recoverer drives (spec §4.1's GPIO-assisted path). A slot absent
	// from this map falls back to the no-GPIO retry path.
	RecoveryPins map[string]RecoveryPinsConfig `yaml:"recovery_pins"`
}

type RecoveryPinsConfig struct {
	BootSelect int `yaml:"boot_select"`
	Reset      int `yaml:"reset"`
}

// Default returns the bench's built-in defaults, used when bench.yaml is
// absent and no .env override is present for a given knob.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		SlotMap:  "slotmap.json",
		BindHost: "0.0.0.0",
		Wireless: WirelessConfig{
			Interface:   "wlan0",
			APIP:        "192.168.4.1",
			APNetmask:   "255.255.255.0",
			DHCPRangeLo: "192.168.4.2",
			DHCPRangeHi: "192.168.4.20",
		},
		UDPLog:   UDPLogConfig{Port: 5555, Capacity: 4000},
		Firmware: FirmwareConfig{Root: "./firmware"},
		BLE:      BLEConfig{ScanTimeout: 10 * time.Second},
		Flap:     FlapConfig{WindowSeconds: 30, Threshold: 6, CooldownSeconds: 10, MaxRetries: 2},
		GPIO:     GPIOConfig{},
	}
}

// LoadYAML reads bench.yaml at path into a Config seeded with Default().
// A missing file is not an error — the defaults stand as-is.
func LoadYAML(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// ApplyEnvFile overlays knobs from a .env file (parsed with
// hashicorp/go-envparse, as R2Northstar-Atlas does) onto c. A missing file is
// not an error.
func ApplyEnvFile(c Config, path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	env, err := envparse.Parse(f)
	if err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	return applyEnv(c, env), nil
}

// ApplyOSEnviron overlays knobs from the real process environment,
// letting `BENCH_*` variables win over both bench.yaml and any .env file
// — the same override order R2Northstar-Atlas uses for its env file vs.
// ambient environment.
func ApplyOSEnviron(c Config) Config {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return applyEnv(c, env)
}

func applyEnv(c Config, env map[string]string) Config {
	if v, ok := env["BENCH_HTTP_ADDR"]; ok {
		c.HTTPAddr = v
	}
	if v, ok := env["BENCH_SLOT_MAP"]; ok {
		c.SlotMap = v
	}
	if v, ok := env["BENCH_BIND_HOST"]; ok {
		c.BindHost = v
	}
	if v, ok := env["BENCH_WIFI_INTERFACE"]; ok {
		c.Wireless.Interface = v
	}
	if v, ok := env["BENCH_AP_IP"]; ok {
		c.Wireless.APIP = v
	}
	if v, ok := env["BENCH_UDP_LOG_PORT"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.UDPLog.Port = n
		}
	}
	if v, ok := env["BENCH_FIRMWARE_ROOT"]; ok {
		c.Firmware.Root = v
	}
	if v, ok := env["BENCH_BLE_SCAN_TIMEOUT"]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.BLE.ScanTimeout = d
		}
	}
	if v, ok := env["BENCH_GPIO_ALLOWED_PINS"]; ok {
		c.GPIO.AllowedPins = parsePinList(v)
	}
	return c
}

func parsePinList(v string) []int {
	var pins []int
	cur := 0
	has := false
	flush := func() {
		if has {
			pins = append(pins, cur)
		}
		cur, has = 0, false
	}
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			cur = cur*10 + int(r-'0')
			has = true
		case r == ',' || r == ' ':
			flush()
		}
	}
	flush()
	return pins
}
