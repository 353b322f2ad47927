package main

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/kbridge/internal/device"
	goble "github.com/srg/kbridge/internal/device/go-ble"
	"github.com/srg/kbridge/internal/session"
	"github.com/srg/kbridge/pkg/config"
)

// sdkSet is the host radio stack seen by the session manager.
type sdkSet struct {
	Beacons      device.BeaconSDK
	Provisioning device.ProvisioningSDK
	Adapter      device.AdapterStateProvider
	closers      []func() error
}

func (s *sdkSet) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// openSDKs creates the host SDKs (can be overridden in tests)
var openSDKs = openHostSDKs

func openHostSDKs(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*sdkSet, error) {
	stack := goble.NewStack(logger)
	set := &sdkSet{
		Beacons:      goble.NewBeacons(stack, cfg.BeaconConfig(), logger),
		Provisioning: goble.NewProvisioner(stack, cfg.ProvisioningConfig(), logger),
		Adapter:      stack,
		closers:      []func() error{stack.Close},
	}

	adapter, closeAdapter := hostAdapter(ctx, stack, cfg.Adapter, logger)
	set.Adapter = adapter
	if closeAdapter != nil {
		set.closers = append(set.closers, closeAdapter)
	}
	return set, nil
}

// runtime is a started session manager plus the SDKs backing it.
type runtime struct {
	cfg     *config.Config
	logger  *logrus.Logger
	manager *session.Manager
	sdks    *sdkSet
}

func newRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := configureLogger(cmd, cfg)

	sdks, err := openSDKs(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	m, err := session.New(session.Config{
		Beacons:      sdks.Beacons,
		Provisioning: sdks.Provisioning,
		Adapter:      sdks.Adapter,
		Logger:       logger,
		Options:      cfg.SessionOptions(),
	})
	if err != nil {
		_ = sdks.close()
		return nil, err
	}
	m.Start(ctx)
	return &runtime{cfg: cfg, logger: logger, manager: m, sdks: sdks}, nil
}

func (r *runtime) Close() error {
	err := r.manager.Close(context.Background())
	return errors.Join(err, r.sdks.close())
}
