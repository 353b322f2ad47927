//go:build !darwin && !linux

package goble

import (
	"runtime"

	"github.com/go-ble/ble"

	"github.com/srg/kbridge/internal/device"
)

func newHostDevice() (ble.Device, error) {
	return nil, device.Errorf(device.CodeNotImplemented, "bluetooth is not supported on %s", runtime.GOOS)
}
