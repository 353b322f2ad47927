package goble

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/groutine"
)

// BeaconConfig names the GATT characteristics of the beacon firmware.
type BeaconConfig struct {
	// AuthCharUUID receives the connection secret right after connecting. Empty skips
	// authentication.
	AuthCharUUID string
	// NotifyCharUUID pushes device events; the first byte is the event code.
	NotifyCharUUID string
	// NameCharUUID holds the advertised name. Defaults to the GAP Device Name.
	NameCharUUID string
}

const gapDeviceNameUUID = "2a00"

// Beacons implements device.BeaconSDK on go-ble.
type Beacons struct {
	*connector
	cfg BeaconConfig

	scanMu     sync.Mutex
	scanCancel context.CancelFunc
}

var _ device.BeaconSDK = (*Beacons)(nil)

func NewBeacons(stack *Stack, cfg BeaconConfig, logger *logrus.Logger) *Beacons {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.NameCharUUID == "" {
		cfg.NameCharUUID = gapDeviceNameUUID
	}
	return &Beacons{connector: newConnector(stack, logger, "beacon"), cfg: cfg}
}

// StartScan starts a duplicate-reporting scan in the background. Restarting a running
// scan is a no-op.
func (b *Beacons) StartScan() error {
	dev, err := b.stack.device()
	if err != nil {
		return err
	}

	b.scanMu.Lock()
	defer b.scanMu.Unlock()
	if b.scanCancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.scanCancel = cancel

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		b.logger.Debug("BLE scan started")
		err := dev.Scan(ctx, true, func(adv ble.Advertisement) {
			if s := b.get(); s != nil {
				s.OnAdvertisement(NewAdvertisement(adv))
			}
		})
		b.scanMu.Lock()
		if ctx.Err() == nil {
			b.scanCancel = nil
		}
		b.scanMu.Unlock()
		cancel()

		if err == nil || ctx.Err() != nil {
			b.logger.Debug("BLE scan stopped")
			return
		}
		err = NormalizeError(err)
		b.logger.WithError(err).Warn("BLE scan ended unexpectedly")
		b.stack.observe(err)
		if s := b.get(); s != nil {
			s.OnAdapterState(b.stack.AdapterState())
		}
	})
	return nil
}

func (b *Beacons) StopScan() error {
	b.scanMu.Lock()
	defer b.scanMu.Unlock()
	if b.scanCancel != nil {
		b.scanCancel()
		b.scanCancel = nil
	}
	return nil
}

// Connect dials the beacon, writes secret to the auth characteristic and subscribes to
// device notifications. The outcome is reported through the sink.
func (b *Beacons) Connect(id, secret string, timeout time.Duration) error {
	return b.open(id, timeout, func(l *link) error {
		if secret != "" && b.cfg.AuthCharUUID != "" {
			if err := l.write(b.cfg.AuthCharUUID, []byte(secret)); err != nil {
				return device.Wrap(device.CodeAuthFailed, "beacon rejected the secret", err)
			}
		}
		if b.cfg.NotifyCharUUID != "" {
			return b.subscribe(l)
		}
		return nil
	})
}

func (b *Beacons) subscribe(l *link) error {
	client, c, err := l.characteristic(b.cfg.NotifyCharUUID)
	if err != nil {
		b.logger.WithError(err).WithField("device_id", l.id).Debug("Beacon has no notification characteristic")
		return nil
	}
	id := l.id
	return NormalizeError(client.Subscribe(c, false, func(data []byte) {
		if len(data) == 0 {
			return
		}
		if s := b.get(); s != nil {
			s.OnNotify(id, int(data[0]), data[1:])
		}
	}))
}

func (b *Beacons) Disconnect(id string) error {
	return b.close(id)
}

// ModifyName writes name to the beacon name characteristic.
func (b *Beacons) ModifyName(id, name string, done func(error)) {
	l, err := b.lookup(id)
	if err != nil {
		done(err)
		return
	}
	groutine.Go(l.ctx, "ble-beacon-rename", func(context.Context) {
		done(l.write(b.cfg.NameCharUUID, []byte(name)))
	})
}
