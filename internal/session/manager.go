// Package session implements the device session and event-routing model of the bridge:
// discovery, the single active connection, request correlation, the provisioning
// workflow and the fan-out of SDK callbacks.
//
// All state lives on one dispatch loop. Public methods validate synchronously on the
// loop and return; outcomes of radio operations are delivered through Result values and
// the event stream.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/correlator"
	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/dispatch"
	"github.com/srg/kbridge/internal/events"
	"github.com/srg/kbridge/internal/registry"
)

// Options tunes timeouts and buffers of a Manager.
type Options struct {
	ConnectTimeout          time.Duration
	ProvisionConnectTimeout time.Duration
	DisconnectTimeout       time.Duration
	RenameDisconnectDelay   time.Duration
	ProvisioningServiceUUID string
	EventBuffer             int
}

// DefaultOptions returns the defaults used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:          5 * time.Second,
		ProvisionConnectTimeout: 15 * time.Second,
		DisconnectTimeout:       3 * time.Second,
		EventBuffer:             events.DefaultBufferSize,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.ProvisionConnectTimeout <= 0 {
		o.ProvisionConnectTimeout = d.ProvisionConnectTimeout
	}
	if o.DisconnectTimeout <= 0 {
		o.DisconnectTimeout = d.DisconnectTimeout
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = d.EventBuffer
	}
	return o
}

// Config wires a Manager to its collaborators.
type Config struct {
	Beacons      device.BeaconSDK
	Provisioning device.ProvisioningSDK // optional; provisioning calls fail with NOT_IMPLEMENTED without it
	Adapter      device.AdapterStateProvider
	Permissions  device.PermissionChecker // optional; defaults to device.AlwaysGranted
	Logger       *logrus.Logger
	Options      Options
}

// Manager owns the registry, the discovery and connection sessions, the correlator and
// the event bus.
type Manager struct {
	beacons device.BeaconSDK
	prov    device.ProvisioningSDK
	adapter device.AdapterStateProvider
	perms   device.PermissionChecker
	logger  *logrus.Logger
	opts    Options
	now     func() time.Time

	loop     *dispatch.Loop
	bus      *events.Bus
	registry *registry.Registry
	pending  *correlator.Table

	// loop-owned state
	discovery    discovery
	active       *conn
	provisioning *provisioning
	// connects given up on while the radio may still complete them, by device id
	abandoned map[string]correlator.Kind
}

// New validates cfg and builds a Manager. Call Start before use.
func New(cfg Config) (*Manager, error) {
	if cfg.Beacons == nil {
		return nil, errors.New("session: beacon SDK is required")
	}
	if cfg.Adapter == nil {
		return nil, errors.New("session: adapter state provider is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	perms := cfg.Permissions
	if perms == nil {
		perms = device.AlwaysGranted
	}
	opts := cfg.Options.withDefaults()

	return &Manager{
		beacons:  cfg.Beacons,
		prov:     cfg.Provisioning,
		adapter:  cfg.Adapter,
		perms:    perms,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		loop:     dispatch.New(logger),
		bus:      events.NewBus(opts.EventBuffer, logger),
		registry: registry.New(),
		pending:  correlator.New(logger),

		abandoned: make(map[string]correlator.Kind),
	}, nil
}

// Start runs the dispatch loop and attaches the SDK callbacks.
func (m *Manager) Start(ctx context.Context) {
	m.loop.Start(ctx)
	sink := &callbacks{m: m}
	m.beacons.Attach(sink)
	if m.prov != nil {
		m.prov.Attach(sink)
	}
	// Adapter providers that observe power changes push them like an SDK callback.
	if a, ok := m.adapter.(interface{ Attach(device.Sink) }); ok {
		a.Attach(sink)
	}
	m.logger.Debug("Session manager started")
}

// Close stops scanning, tears down the active connection, resolves everything still
// pending and ends all subscriptions.
func (m *Manager) Close(ctx context.Context) error {
	err := m.loop.Do(ctx, func() {
		m.stopScanLocked("manager closed")
		if c := m.active; c != nil && c.state != device.StateDisconnected {
			if sdkErr := m.sdkDisconnect(c.id, c.kind); sdkErr != nil {
				m.logger.WithError(sdkErr).Warn("Failed to disconnect during shutdown")
			}
			m.markDisconnected(c, device.Errorf(device.CodeDeviceDisconnected, "bridge closed"), nil)
		}
	})
	m.bus.Close()
	m.loop.Stop()
	if errors.Is(err, dispatch.ErrStopped) {
		return nil
	}
	return err
}

// Subscribe returns the continuous event stream.
func (m *Manager) Subscribe() *events.Subscription {
	return m.bus.Subscribe(nil)
}

// Devices returns the peripherals registered by the current scan, in discovery order.
func (m *Manager) Devices(ctx context.Context) ([]registry.Peripheral, error) {
	var out []registry.Peripheral
	if err := m.loop.Do(ctx, func() { out = m.registry.List() }); err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshot is a point-in-time view of the manager state.
type Snapshot struct {
	Scanning          bool
	Prefix            string
	Devices           int
	ActiveID          string
	ActiveState       device.ConnState
	Pending           int
	Provisioning      bool
	ProvisioningState ProvisionState
}

// Snapshot reports the current state.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := m.loop.Do(ctx, func() {
		s.Scanning = m.discovery.state == ScanScanning
		s.Prefix = m.discovery.prefix
		s.Devices = m.registry.Len()
		s.Pending = m.pending.Len()
		if c := m.active; c != nil {
			s.ActiveID = c.id
			s.ActiveState = c.state
		}
		if p := m.provisioning; p != nil {
			s.Provisioning = true
			s.ProvisioningState = p.state
		}
	})
	return s, err
}
