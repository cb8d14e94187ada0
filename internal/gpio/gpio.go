// Package gpio implements the allowlisted GPIO line driver referenced by
// spec §1 (out of scope beyond its interface) and §6
// (POST /api/gpio/set, GET /api/gpio/status). It also backs the flap
// recoverer's boot-select/reset pulses (spec §4.1).
package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/benchlab/fleetbench/internal/benchapi"
)

// Value is the tagged {0, 1, "z"} variant spec §9 calls for: driven low,
// driven high, or released to high-impedance (input mode).
type Value string

const (
	Low   Value = "0"
	High  Value = "1"
	HighZ Value = "z"
)

// ParseValue accepts the JSON forms 0, 1, "0", "1", "z".
func ParseValue(v any) (Value, error) {
	switch t := v.(type) {
	case float64:
		if t == 0 {
			return Low, nil
		}
		if t == 1 {
			return High, nil
		}
	case string:
		switch t {
		case "0":
			return Low, nil
		case "1":
			return High, nil
		case "z", "Z":
			return HighZ, nil
		}
	}
	return "", benchapi.Errorf(benchapi.BadRequest, "gpio value must be 0, 1, or \"z\"")
}

// Line is a hardware pin driver. The real implementation bit-bangs Linux
// sysfs GPIO; tests use a Sim.
type Line interface {
	Set(pin int, value Value) error
	Status() map[int]Value
}

// Controller enforces the pin allowlist in front of a Line.
type Controller struct {
	mu        sync.Mutex
	allowed   map[int]bool
	line      Line
	lastValue map[int]Value
}

// NewController builds a Controller restricted to the given allowlist.
func NewController(allowedPins []int, line Line) *Controller {
	allowed := make(map[int]bool, len(allowedPins))
	for _, p := range allowedPins {
		allowed[p] = true
	}
	return &Controller{allowed: allowed, line: line, lastValue: make(map[int]Value)}
}

// Set drives pin to value, failing bad_request if pin is not allowlisted.
func (c *Controller) Set(pin int, value Value) error {
	c.mu.Lock()
	if !c.allowed[pin] {
		c.mu.Unlock()
		return benchapi.Errorf(benchapi.BadRequest, "pin %d is not in the allowlist", pin)
	}
	c.mu.Unlock()

	if err := c.line.Set(pin, value); err != nil {
		return benchapi.Wrap(benchapi.Internal, err, "set gpio pin %d", pin)
	}

	c.mu.Lock()
	c.lastValue[pin] = value
	c.mu.Unlock()
	return nil
}

// Status returns the allowlisted pins and their last-commanded value.
func (c *Controller) Status() map[int]Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]Value, len(c.allowed))
	for pin := range c.allowed {
		if v, ok := c.lastValue[pin]; ok {
			out[pin] = v
		} else {
			out[pin] = HighZ
		}
	}
	return out
}

// SysfsLine drives real hardware via the Linux sysfs GPIO interface
// (/sys/class/gpio). It is the production Line; recovery sequences
// (spec §4.1: boot-select LOW, pulse reset) call Set directly.
type SysfsLine struct {
	basePath string
	mu       sync.Mutex
	exported map[int]bool
}

// NewSysfsLine returns a Line backed by /sys/class/gpio (or basePath, for
// tests pointing at a fake sysfs tree).
func NewSysfsLine(basePath string) *SysfsLine {
	if basePath == "" {
		basePath = "/sys/class/gpio"
	}
	return &SysfsLine{basePath: basePath, exported: make(map[int]bool)}
}

func (s *SysfsLine) ensureExported(pin int) error {
	if s.exported[pin] {
		return nil
	}
	exportPath := filepath.Join(s.basePath, "export")
	if err := os.WriteFile(exportPath, []byte(strconv.Itoa(pin)), 0o200); err != nil && !os.IsExist(err) {
		return fmt.Errorf("export gpio %d: %w", pin, err)
	}
	s.exported[pin] = true
	return nil
}

func (s *SysfsLine) pinDir(pin int) string {
	return filepath.Join(s.basePath, fmt.Sprintf("gpio%d", pin))
}

// Set drives pin per value: Low/High set direction=out and write the
// level; HighZ sets direction=in, releasing the line.
func (s *SysfsLine) Set(pin int, value Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureExported(pin); err != nil {
		return err
	}
	dir := s.pinDir(pin)

	if value == HighZ {
		return os.WriteFile(filepath.Join(dir, "direction"), []byte("in"), 0o200)
	}

	if err := os.WriteFile(filepath.Join(dir, "direction"), []byte("out"), 0o200); err != nil {
		return fmt.Errorf("set direction out on gpio %d: %w", pin, err)
	}
	level := "0"
	if value == High {
		level = "1"
	}
	if err := os.WriteFile(filepath.Join(dir, "value"), []byte(level), 0o200); err != nil {
		return fmt.Errorf("set value on gpio %d: %w", pin, err)
	}
	return nil
}

// Status is unused on SysfsLine: the Controller tracks last-commanded
// value itself since sysfs doesn't round-trip direction=out state
// cheaply.
func (s *SysfsLine) Status() map[int]Value { return nil }

// Sim is an in-memory Line for tests and hardware-less dev runs.
type Sim struct {
	mu     sync.Mutex
	values map[int]Value
}

// NewSim returns a Sim Line.
func NewSim() *Sim {
	return &Sim{values: make(map[int]Value)}
}

func (s *Sim) Set(pin int, value Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[pin] = value
	return nil
}

func (s *Sim) Status() map[int]Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]Value, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
