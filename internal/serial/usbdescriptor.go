//go:build !mips && !mipsle
// +build !mips,!mipsle

// USB descriptor-based family classification.
//
// Excluded on MIPS builds because gousb links libusb via cgo, mirroring
// the exclusion of the gousb-dependent file
// (internal/driver/device/usb_device.go in guiperry-HASHER) on MIPS.
package serial

import (
	"github.com/google/gousb"
)

// ProbeUSBFamily looks up the USB device at busNum/devAddr and classifies
// it by vendor/product ID when the devnode prefix alone is ambiguous.
// Nothing in the bench calls it: the boot scan and the hotplug
// reconciler classify by devnode prefix only (ClassifyDevnode).
//
// This opens the USB context only for the duration of the lookup; it is
// not meant to be called on a hot path.
func ProbeUSBFamily(busNum, devAddr int) (Family, bool) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == busNum && desc.Address == devAddr
	})
	if err != nil || len(devs) == 0 {
		return Unknown, false
	}
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()

	desc := devs[0].Desc
	// Well-known CDC-ACM class (native USB, asserts modem control on
	// open) vs vendor-specific UART bridges is a coarse heuristic;
	// operators needing precision should rely on the devnode-prefix
	// classification and only use this as a tiebreaker.
	if desc.Class == gousb.ClassCDC || desc.Class == gousb.ClassCDCData {
		return NativeUSB, true
	}
	return UARTBridge, true
}
