package session

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/events"
	"github.com/srg/kbridge/internal/registry"
)

// ScanState is the discovery session state.
type ScanState int

const (
	ScanStopped ScanState = iota
	ScanScanning
)

func (s ScanState) String() string {
	if s == ScanScanning {
		return "scanning"
	}
	return "stopped"
}

type discovery struct {
	state      ScanState
	prefix     string
	generation uint64
	streams    []*events.Subscription
}

// StartScan clears the registry and starts (or restarts) discovery of peripherals whose
// advertised name begins with prefix. An empty prefix matches every named peripheral.
func (m *Manager) StartScan(ctx context.Context, prefix string) error {
	if !m.perms.Granted(ctx) {
		return device.Errorf(device.CodePermissionDenied, "bluetooth permissions not granted")
	}

	var err error
	if doErr := m.loop.Do(ctx, func() { err = m.startScanLocked(prefix) }); doErr != nil {
		return doErr
	}
	return err
}

func (m *Manager) startScanLocked(prefix string) error {
	if err := m.requireAdapter(); err != nil {
		return err
	}

	d := &m.discovery
	wasScanning := d.state == ScanScanning

	// a restart begins a fresh sequence
	d.closeStreams()
	m.registry.Clear()
	d.prefix = prefix
	d.generation++

	if !wasScanning {
		if err := m.beacons.StartScan(); err != nil {
			d.state = ScanStopped
			return device.Wrap(device.CodeScanFailed, "failed to start scanning", err)
		}
	}
	d.state = ScanScanning

	m.logger.WithFields(logrus.Fields{
		"prefix":     prefix,
		"generation": d.generation,
		"restart":    wasScanning,
	}).Info("Scan started")
	return nil
}

// requireAdapter fails when the radio is not powered on. The failure is also broadcast
// so passive subscribers learn the adapter state.
func (m *Manager) requireAdapter() error {
	state := m.adapter.AdapterState()
	if err := state.Err(); err != nil {
		m.bus.Publish(events.AdapterState{State: state})
		return err
	}
	return nil
}

// StopScan stops discovery and ends every discovery stream. Stopping an idle session is
// a no-op.
func (m *Manager) StopScan(ctx context.Context) error {
	return m.loop.Do(ctx, func() { m.stopScanLocked("stopped by caller") })
}

func (m *Manager) stopScanLocked(reason string) {
	d := &m.discovery
	if d.state != ScanScanning {
		return
	}
	d.state = ScanStopped
	if err := m.beacons.StopScan(); err != nil {
		m.logger.WithError(err).Warn("Failed to stop scanning")
	}
	d.closeStreams()
	m.logger.WithFields(logrus.Fields{
		"reason":  reason,
		"devices": m.registry.Len(),
	}).Info("Scan stopped")
}

// Discoveries returns a stream of newly discovered peripherals for the current scan.
// The stream ends when the scan stops or restarts. Without an active scan the returned
// subscription is already closed.
func (m *Manager) Discoveries(ctx context.Context) (*events.Subscription, error) {
	var sub *events.Subscription
	err := m.loop.Do(ctx, func() {
		d := &m.discovery
		gen := d.generation
		sub = m.bus.Subscribe(func(ev events.Event) bool {
			disc, ok := ev.(events.Discovery)
			return ok && disc.Generation() == gen
		})
		if d.state != ScanScanning {
			sub.Close()
			return
		}
		d.streams = append(d.streams, sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (d *discovery) closeStreams() {
	for _, s := range d.streams {
		s.Close()
	}
	d.streams = nil
}

func (m *Manager) handleAdvertisement(adv device.Advertisement) {
	d := &m.discovery
	if d.state != ScanScanning {
		return
	}
	name := adv.LocalName()
	if name == "" || !strings.HasPrefix(name, d.prefix) {
		return
	}

	p := registry.FromAdvertisement(adv, m.now())
	if !m.registry.Upsert(p) {
		return
	}

	m.logger.WithFields(logrus.Fields{
		"device_id": p.ID,
		"name":      p.Name,
		"rssi":      p.RSSI,
	}).Info("Discovered device")
	m.bus.Publish(events.NewDiscovery(p.ID, p.Name, p.RSSI, d.generation))
}
