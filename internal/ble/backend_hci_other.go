//go:build !linux

package ble

import "fmt"

// NewHCIBackend is unavailable off Linux (no raw HCI socket), mirroring
// internal/serial's device_other.go stub.
func NewHCIBackend(hciDevice int) (BluetoothBackend, error) {
	return nil, fmt.Errorf("ble: hci backend requires linux")
}
