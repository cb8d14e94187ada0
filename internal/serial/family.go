// Package serial implements the per-slot byte-oriented device bridge:
// device family classification and settle policy (spec §4.1), the
// modem-control-aware telnet-style proxy (spec §4.2), and the low-level
// DTR/RTS handle used by both the proxy and serial ops (spec §4.4).
package serial

import "strings"

// Family distinguishes the two device-path naming conventions spec
// §4.1 calls out, each with a different settle policy.
type Family int

const (
	// Unknown devices are settled the conservative way: non-blocking
	// open-close probe, same as UARTBridge.
	Unknown Family = iota
	// NativeUSB covers chips whose OS driver asserts DTR+RTS on open()
	// (example prefix ttyACM*), forcing bootloader mode. Settle must
	// only check path existence, never open().
	NativeUSB
	// UARTBridge covers classic USB-UART bridges (example prefix
	// ttyUSB*), settled by a non-blocking open-close probe.
	UARTBridge
)

// PostAddSettleDelay is the fixed delay inserted after a NativeUSB
// device's add event before the proxy opens it, giving the chip's boot
// window time to finish (spec §4.1).
const PostAddSettleDelay = 2_000 // milliseconds; time.Duration built by callers

// ClassifyDevnode derives a Family from a device path using the
// well-known prefixes from spec §4.1. Real deployments may refine this
// with a USB vendor/product-ID probe (see usbdescriptor.go); this is the
// fallback that always works from the devnode string alone.
func ClassifyDevnode(devnode string) Family {
	base := devnode
	if idx := strings.LastIndexByte(devnode, '/'); idx >= 0 {
		base = devnode[idx+1:]
	}
	switch {
	case strings.HasPrefix(base, "ttyACM"):
		return NativeUSB
	case strings.HasPrefix(base, "ttyUSB"):
		return UARTBridge
	default:
		return Unknown
	}
}

func (f Family) String() string {
	switch f {
	case NativeUSB:
		return "native-usb"
	case UARTBridge:
		return "uart-bridge"
	default:
		return "unknown"
	}
}
