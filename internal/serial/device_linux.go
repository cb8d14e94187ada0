//go:build linux

package serial

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// realDevice is the production Device: a real tty node driven through
// termios and the TIOCM* modem-control ioctls.
type realDevice struct {
	mu     sync.Mutex
	f      *os.File
	family Family
}

var baudRates = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// OpenReal opens path as a raw tty. For NativeUSB devices it pre-sets
// DTR=0/RTS=0 immediately after open and clears HUPCL so a later close
// doesn't re-assert DTR — the two properties spec §4.2 requires to keep
// native-USB chips out of bootloader mode across the proxy's lifetime.
func OpenReal(path string, family Family) (Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	d := &realDevice{f: f, family: family}

	termios, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("get termios %s: %w", path, err)
	}
	unix.CfmakeRaw(termios)
	termios.Cflag &^= unix.HUPCL // don't hang up (re-assert DTR) on close
	termios.Cflag |= unix.CLOCAL | unix.CREAD
	termios.Cflag &^= unix.PARENB
	termios.Cflag &^= unix.CSTOPB
	termios.Cflag &^= unix.CSIZE
	termios.Cflag |= unix.CS8
	if err := unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, termios); err != nil {
		f.Close()
		return nil, fmt.Errorf("set termios %s: %w", path, err)
	}

	if family == NativeUSB {
		if err := d.SetModem(ModemBits{DTR: false, RTS: false}); err != nil {
			f.Close()
			return nil, fmt.Errorf("pre-release modem control on %s: %w", path, err)
		}
	}

	return d, nil
}

func (d *realDevice) Read(p []byte) (int, error) {
	return d.f.Read(p)
}

func (d *realDevice) Write(p []byte) (int, error) {
	return d.f.Write(p)
}

func (d *realDevice) Close() error {
	return d.f.Close()
}

// SetModem drives DTR/RTS verbatim via TIOCMBIS/TIOCMBIC — no reset
// sequence of its own (spec §4.2: callers own the sequence).
func (d *realDevice) SetModem(bits ModemBits) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var set, clear int
	if bits.DTR {
		set |= unix.TIOCM_DTR
	} else {
		clear |= unix.TIOCM_DTR
	}
	if bits.RTS {
		set |= unix.TIOCM_RTS
	} else {
		clear |= unix.TIOCM_RTS
	}

	if set != 0 {
		if err := unix.IoctlSetPointerInt(int(d.f.Fd()), unix.TIOCMBIS, set); err != nil {
			return fmt.Errorf("TIOCMBIS: %w", err)
		}
	}
	if clear != 0 {
		if err := unix.IoctlSetPointerInt(int(d.f.Fd()), unix.TIOCMBIC, clear); err != nil {
			return fmt.Errorf("TIOCMBIC: %w", err)
		}
	}
	return nil
}

func (d *realDevice) SetBreak(on bool) error {
	req := unix.TIOCCBRK
	if on {
		req = unix.TIOCSBRK
	}
	if err := unix.IoctlSetInt(int(d.f.Fd()), uint(req), 0); err != nil {
		return fmt.Errorf("set break: %w", err)
	}
	return nil
}

func (d *realDevice) SetBaud(baud int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rate, ok := baudRates[baud]
	if !ok {
		return fmt.Errorf("unsupported baud rate %d", baud)
	}
	termios, err := unix.IoctlGetTermios(int(d.f.Fd()), unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}
	termios.Ispeed = rate
	termios.Ospeed = rate
	if err := unix.IoctlSetTermios(int(d.f.Fd()), unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set baud: %w", err)
	}
	return nil
}

// ProbeExists reports whether path exists without opening it — the
// settle check NativeUSB devices require (spec §4.1: "MUST NOT open the
// file").
func ProbeExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ProbeOpenClose performs the non-blocking open-close settle probe
// UARTBridge devices use (spec §4.1).
func ProbeOpenClose(path string) bool {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
