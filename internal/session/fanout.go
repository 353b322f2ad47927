package session

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/events"
)

// callbacks is the device.Sink handed to the SDKs. Every callback hops onto the loop.
type callbacks struct {
	m *Manager
}

func (c *callbacks) OnAdapterState(state device.AdapterState) {
	c.m.loop.Post(func() { c.m.handleAdapterState(state) })
}

func (c *callbacks) OnAdvertisement(adv device.Advertisement) {
	c.m.loop.Post(func() { c.m.handleAdvertisement(adv) })
}

func (c *callbacks) OnConnState(id string, state device.ConnState, reason error) {
	c.m.loop.Post(func() { c.m.handleConnState(id, state, reason) })
}

func (c *callbacks) OnNotify(id string, code int, payload []byte) {
	// SDK buffers may be reused after the callback returns
	data := bytes.Clone(payload)
	c.m.loop.Post(func() { c.m.handleNotify(id, code, data) })
}

func (m *Manager) handleAdapterState(state device.AdapterState) {
	m.logger.WithField("adapter_state", state.String()).Info("Bluetooth adapter state changed")
	if state != device.AdapterPoweredOn && m.discovery.state == ScanScanning {
		m.stopScanLocked("adapter " + state.String())
	}
	m.bus.Publish(events.AdapterState{State: state})
}

func (m *Manager) handleNotify(id string, code int, payload []byte) {
	m.logger.WithFields(logrus.Fields{
		"device_id":  id,
		"event_code": code,
		"bytes":      len(payload),
	}).Debug("Device notification")
	m.bus.Publish(events.Notification{ID: id, Code: code, Payload: payload})
}

// handleConnState applies an SDK connection transition. Session state is updated and
// pending requests are resolved before the event is mirrored to subscribers, so a
// caller observing its result never sees a stale state.
func (m *Manager) handleConnState(id string, state device.ConnState, reason error) {
	c := m.active
	if c != nil && c.id != id {
		c = nil
	}

	log := m.logger.WithFields(logrus.Fields{
		"device_id": id,
		"state":     state.String(),
	})
	if reason != nil {
		log = log.WithError(reason)
	}

	switch state {
	case device.StateConnected:
		switch {
		case c == nil:
			if m.reclaim(id, log) {
				// never mirrored: subscribers only see the active connection
				return
			}
			log.Warn("Connected callback for an untracked device")
		case c.state == device.StateConnecting:
			c.state = device.StateConnected
			c.stopTimers()
			log.WithField("elapsed", m.now().Sub(c.started)).Info("Device connected")
			m.pending.Resolve(id, nil)
		case c.state == device.StateDisconnected:
			if m.reclaim(id, log) {
				return
			}
			log.Warn("Late connected callback, disconnecting")
			if err := m.sdkDisconnect(c.id, c.kind); err != nil {
				log.WithError(err).Warn("Failed to disconnect late connection")
			}
		default:
			log.Debug("Duplicate connected callback ignored")
		}

	case device.StateDisconnecting:
		if c != nil && c.state == device.StateConnected {
			c.state = device.StateDisconnecting
		}

	case device.StateDisconnected:
		if c == nil || c.state == device.StateDisconnected {
			delete(m.abandoned, id)
			log.Debug("Duplicate disconnected callback ignored")
			break
		}
		log.Info("Device disconnected")
		m.markDisconnected(c, connectFailure(id, reason), reason)
	}

	m.bus.Publish(events.ConnectionState{ID: id, State: state, Reason: reason})
}

func connectFailure(id string, reason error) error {
	if reason == nil {
		return device.Errorf(device.CodeConnectFailed, "failed to connect to device %s", id)
	}
	if device.IsCode(reason, device.CodeConnectFailed) {
		return reason
	}
	return device.Wrap(device.CodeConnectFailed, "failed to connect to device "+id, reason)
}
