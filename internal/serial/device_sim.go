package serial

import (
	"os"
	"sync"

	"github.com/creack/pty"
)

// SimDevice is a hardware-less stand-in for a tty device node, used by
// tests and dev-mode runs of the bench (spec §9 calls for exercising the
// proxy/flap-detector without real hardware). A PTY pair stands in for
// the device: Device() gives the slave path the proxy opens exactly like
// a real /dev/ttyACM* node, while the master end (Master()) lets a test
// harness play the part of the microcontroller — writing boot banners,
// observing DTR/RTS pulses, etc.
type SimDevice struct {
	master *os.File
	slave  *os.File
	mu     sync.Mutex
	modem  ModemBits
	broken bool
}

// NewSimDevice allocates a PTY pair and returns the harness-facing
// handle. Call SlavePath() to get the path a Proxy or hotplug scan
// should treat as the devnode.
func NewSimDevice() (*SimDevice, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}
	return &SimDevice{master: master, slave: slave}, nil
}

// SlavePath returns the pty slave's path, e.g. "/dev/pts/7".
func (s *SimDevice) SlavePath() string {
	return s.slave.Name()
}

// Master returns the master end for the test harness to read/write as
// the simulated microcontroller.
func (s *SimDevice) Master() *os.File {
	return s.master
}

// Close releases both ends of the pty pair.
func (s *SimDevice) Close() error {
	err1 := s.master.Close()
	err2 := s.slave.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// OpenSim implements OpenFunc: it opens the slave end by path, the same
// way OpenReal opens a real tty node, so proxy/hotplug code is oblivious
// to whether it's talking to hardware or a sim.
func OpenSim(path string, family Family) (Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &simOpenDevice{f: f}, nil
}

type simOpenDevice struct {
	mu    sync.Mutex
	f     *os.File
	modem ModemBits
}

func (d *simOpenDevice) Read(p []byte) (int, error)  { return d.f.Read(p) }
func (d *simOpenDevice) Write(p []byte) (int, error) { return d.f.Write(p) }
func (d *simOpenDevice) Close() error                { return d.f.Close() }

func (d *simOpenDevice) SetModem(bits ModemBits) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modem = bits
	return nil
}

func (d *simOpenDevice) SetBreak(on bool) error { return nil }
func (d *simOpenDevice) SetBaud(baud int) error { return nil }

// LastModem reports the most recently commanded DTR/RTS state, for test
// assertions.
func (d *simOpenDevice) LastModem() ModemBits {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.modem
}
