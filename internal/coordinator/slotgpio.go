package coordinator

import (
	"github.com/benchlab/fleetbench/internal/benchapi"
	"github.com/benchlab/fleetbench/internal/gpio"
)

// RecoveryPins maps one slot's boot-select and reset GPIO lines to
// physical pin numbers (spec §4.1's GPIO-assisted recovery path: "assert
// boot-select LOW, pulse reset LOW then HIGH").
type RecoveryPins struct {
	BootSelect int
	Reset      int
}

// SlotGPIO adapts gpio.Controller's raw pin-number interface to the
// per-slot named-line interface the flap recoverer wants, so recovery
// code never has to know physical pin numbers — only "boot_select" and
// "reset" per slot_key.
type SlotGPIO struct {
	Controller *gpio.Controller
	Pins       map[string]RecoveryPins
}

// Set drives the named line (boot_select|reset) for slotKey to value
// ("0", "1", or "z").
func (g *SlotGPIO) Set(slotKey, line, value string) error {
	pins, ok := g.Pins[slotKey]
	if !ok {
		return benchapi.Errorf(benchapi.Unavailable, "no gpio recovery pins configured for slot %s", slotKey)
	}

	var pin int
	switch line {
	case "boot_select":
		pin = pins.BootSelect
	case "reset":
		pin = pins.Reset
	default:
		return benchapi.Errorf(benchapi.BadRequest, "unknown gpio recovery line %q", line)
	}

	v, err := gpio.ParseValue(value)
	if err != nil {
		return err
	}
	return g.Controller.Set(pin, v)
}
