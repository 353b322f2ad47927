//go:build !linux

package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/device"
)

func hostAdapter(_ context.Context, fallback device.AdapterStateProvider, _ string, _ *logrus.Logger) (device.AdapterStateProvider, func() error) {
	return fallback, nil
}
