//go:build !linux

package serial

import (
	"errors"
	"os"
)

// Real serial device control relies on Linux termios/TIOCM ioctls
// (device_linux.go). On other platforms (dev-machine builds of cmd/benchd
// that never touch real hardware) these are stubs so the package still
// builds; the bench always runs on the Raspberry Pi target in practice.
var errUnsupportedPlatform = errors.New("serial: real device control requires linux")

func OpenReal(path string, family Family) (Device, error) {
	return nil, errUnsupportedPlatform
}

func ProbeExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func ProbeOpenClose(path string) bool {
	return false
}
