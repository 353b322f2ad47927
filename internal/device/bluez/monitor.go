// Package bluez reports the host adapter power state from BlueZ over the system D-Bus.
// Unlike the go-ble stack, it sees the radio being switched off while the bridge runs.
package bluez

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/groutine"
)

const (
	busName        = "org.bluez"
	adapterIface   = "org.bluez.Adapter1"
	propertiesIfce = "org.freedesktop.DBus.Properties"

	DefaultAdapter = "hci0"
)

// Monitor implements device.AdapterStateProvider for one BlueZ adapter.
type Monitor struct {
	conn   *dbus.Conn
	path   dbus.ObjectPath
	logger *logrus.Logger

	state atomic.Int32

	mu   sync.Mutex
	sink device.Sink
}

// Open connects to the system bus and reads the current state of adapter (e.g. "hci0").
func Open(adapter string, logger *logrus.Logger) (*Monitor, error) {
	if adapter == "" {
		adapter = DefaultAdapter
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system DBus: %w", err)
	}

	m := newMonitor(conn, dbus.ObjectPath("/org/bluez/"+adapter), logger)
	powered, err := m.readPowered()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("adapter %s: %w", adapter, err)
	}
	m.state.Store(int32(poweredState(powered)))
	return m, nil
}

func newMonitor(conn *dbus.Conn, path dbus.ObjectPath, logger *logrus.Logger) *Monitor {
	if logger == nil {
		logger = logrus.New()
	}
	m := &Monitor{conn: conn, path: path, logger: logger}
	m.state.Store(int32(device.AdapterUnknown))
	return m
}

func (m *Monitor) readPowered() (bool, error) {
	v, err := m.conn.Object(busName, m.path).GetProperty(adapterIface + ".Powered")
	if err != nil {
		return false, err
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s.Powered has unexpected type %T", adapterIface, v.Value())
	}
	return powered, nil
}

// Attach registers the receiver of state changes.
func (m *Monitor) Attach(sink device.Sink) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

func (m *Monitor) AdapterState() device.AdapterState {
	return device.AdapterState(m.state.Load())
}

// Watch subscribes to PropertiesChanged of the adapter and forwards state changes until
// ctx is done. It returns once the subscription is in place.
func (m *Monitor) Watch(ctx context.Context) error {
	err := m.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(m.path),
		dbus.WithMatchInterface(propertiesIfce),
		dbus.WithMatchMember("PropertiesChanged"),
	)
	if err != nil {
		return fmt.Errorf("failed to add DBus match rule: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	m.conn.Signal(signals)

	groutine.Go(ctx, "bluez-monitor", func(ctx context.Context) {
		defer m.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				m.handleSignal(sig)
			}
		}
	})
	m.logger.WithField("adapter", m.path).Debug("Watching adapter power state")
	return nil
}

// handleSignal applies a PropertiesChanged signal and reports whether the state changed.
func (m *Monitor) handleSignal(sig *dbus.Signal) bool {
	if sig == nil || sig.Path != m.path || len(sig.Body) < 2 {
		return false
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != adapterIface {
		return false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false
	}

	next, ok := stateFromProperties(changed)
	if !ok {
		return false
	}
	prev := device.AdapterState(m.state.Swap(int32(next)))
	if prev == next {
		return false
	}

	m.logger.WithFields(logrus.Fields{
		"adapter": m.path,
		"from":    prev,
		"to":      next,
	}).Info("Adapter state changed")

	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		sink.OnAdapterState(next)
	}
	return true
}

// Close releases the D-Bus connection.
func (m *Monitor) Close() error {
	return m.conn.Close()
}

// stateFromProperties prefers the PowerState property (BlueZ 5.64+), which also reports
// rfkill blocks and transitions, over the plain Powered flag.
func stateFromProperties(props map[string]dbus.Variant) (device.AdapterState, bool) {
	if v, ok := props["PowerState"]; ok {
		if s, ok := v.Value().(string); ok {
			switch s {
			case "on":
				return device.AdapterPoweredOn, true
			case "off", "off-blocked":
				return device.AdapterPoweredOff, true
			case "on-disabling", "off-enabling":
				return device.AdapterResetting, true
			}
		}
	}
	if v, ok := props["Powered"]; ok {
		if powered, ok := v.Value().(bool); ok {
			return poweredState(powered), true
		}
	}
	return device.AdapterUnknown, false
}

func poweredState(powered bool) device.AdapterState {
	if powered {
		return device.AdapterPoweredOn
	}
	return device.AdapterPoweredOff
}
