package serial

import (
	"io"
)

// ModemBits is the subset of RS-232 control lines the proxy and serial
// ops care about (spec §4.2, §4.4).
type ModemBits struct {
	DTR bool
	RTS bool
}

// Device is one open handle to a local byte-oriented device node. The
// real implementation (device_linux.go) opens the tty and drives
// DTR/RTS via termios ioctls; Sim (device_sim.go) stands in a PTY pair
// for tests and hardware-less dev runs.
type Device interface {
	io.ReadWriteCloser
	// SetModem drives DTR/RTS immediately, verbatim — the proxy never
	// imposes its own reset sequence (spec §4.2).
	SetModem(bits ModemBits) error
	// SetBreak asserts or releases a break condition.
	SetBreak(on bool) error
	// SetBaud reconfigures the line speed; parity/stopbits follow the
	// same verbatim-passthrough contract.
	SetBaud(baud int) error
}

// OpenFunc opens the device node at path and returns a Device. Swappable
// so tests can inject Sim devices without touching real hardware.
type OpenFunc func(path string, family Family) (Device, error)
