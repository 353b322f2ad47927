package goble

import (
	"context"
	"errors"
	"strings"

	"github.com/srg/kbridge/internal/device"
)

// NormalizeError maps known go-ble and host stack error strings to coded device errors.
// Errors that already carry a code, and unknown errors, are returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	var coded *device.Error
	if errors.As(err, &coded) {
		return err
	}

	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return device.Wrap(device.CodeConnectTimeout, "", err)
	case containsIgnoreCase(msg, "central manager has invalid state"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"):
		return device.Wrap(device.CodeBluetoothOff, "", err)
	case containsIgnoreCase(msg, "not authorized"),
		containsIgnoreCase(msg, "operation not permitted"):
		return device.Wrap(device.CodePermissionDenied, "", err)
	case containsIgnoreCase(msg, "device already connected"):
		return device.Wrap(device.CodeAlreadyConnected, "", err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return device.Wrap(device.CodeDeviceDisconnected, "", err)
	case containsIgnoreCase(msg, "can't dial"),
		containsIgnoreCase(msg, "can't create connection"):
		return device.Wrap(device.CodeConnectFailed, "", err)
	default:
		return err
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
