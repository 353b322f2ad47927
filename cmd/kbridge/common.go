package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/events"
	"github.com/srg/kbridge/internal/registry"
	"github.com/srg/kbridge/internal/session"
)

// signalContext is canceled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// discover scans with prefix until id shows up or timeout elapses. The scan is stopped
// before returning.
func discover(ctx context.Context, m *session.Manager, id, prefix string, timeout time.Duration) error {
	if err := m.StartScan(ctx, prefix); err != nil {
		return err
	}
	defer func() { _ = m.StopScan(context.Background()) }()

	stream, err := m.Discoveries(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// the device may have been registered before the stream was opened
	if devices, err := m.Devices(ctx); err == nil && containsDevice(devices, id) {
		return nil
	}
	for ev := range stream.All(ctx) {
		if d, ok := ev.(events.Discovery); ok && strings.EqualFold(d.ID, id) {
			return nil
		}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return device.Errorf(device.CodeDeviceNotFound, "%s not seen within %s", id, timeout)
}

func containsDevice(devices []registry.Peripheral, id string) bool {
	for _, p := range devices {
		if strings.EqualFold(p.ID, id) {
			return true
		}
	}
	return false
}
