package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/device/bluez"
)

// hostAdapter prefers BlueZ, which reports the radio being switched off at runtime,
// and falls back to the BLE stack when the system bus is unavailable.
func hostAdapter(ctx context.Context, fallback device.AdapterStateProvider, name string, logger *logrus.Logger) (device.AdapterStateProvider, func() error) {
	mon, err := bluez.Open(name, logger)
	if err != nil {
		logger.WithError(err).Debug("BlueZ unavailable, adapter state comes from the BLE stack")
		return fallback, nil
	}
	if err := mon.Watch(ctx); err != nil {
		logger.WithError(err).Warn("Failed to watch adapter power state")
	}
	return mon, mon.Close
}
