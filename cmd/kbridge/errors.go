package main

import (
	"context"
	"errors"

	"github.com/srg/kbridge/internal/device"
)

var userHints = map[device.Code]string{
	device.CodeBluetoothOff:       "Bluetooth is off or unavailable; turn it on and retry",
	device.CodePermissionDenied:   "Bluetooth permission denied; grant access to this terminal and retry",
	device.CodeDeviceNotFound:     "device not found; make sure it is advertising and matches the scan prefix",
	device.CodeNoConnectedDevice:  "no device is connected",
	device.CodeConnectTimeout:     "the device did not answer in time; move closer and retry",
	device.CodeRequestConflict:    "another request for this device is still running",
	device.CodeAlreadyConnected:   "another device is already connected",
	device.CodeAuthFailed:         "proof of possession rejected",
	device.CodeDeviceDisconnected: "the device disconnected",
}

// FormatUserError renders err for the terminal: the error tag, a hint for common
// conditions and the underlying message.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "operation timed out"
	}

	var derr *device.Error
	if !errors.As(err, &derr) {
		return err.Error()
	}
	msg := string(derr.Code)
	if hint, ok := userHints[derr.Code]; ok {
		msg += ": " + hint
	}
	return msg + " (" + err.Error() + ")"
}
