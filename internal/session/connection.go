package session

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/correlator"
	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/events"
)

// conn is the single connection slot. It is owned by the loop.
type conn struct {
	id        string
	kind      correlator.Kind
	state     device.ConnState
	requestID ulid.ULID
	started   time.Time

	connectTimer    *time.Timer
	disconnectTimer *time.Timer

	// onClosed runs once when the connection reaches Disconnected
	onClosed func(cause error)
}

func (c *conn) stopTimers() {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	if c.disconnectTimer != nil {
		c.disconnectTimer.Stop()
		c.disconnectTimer = nil
	}
}

// Connect initiates a connection to a discovered beacon. Validation failures are
// returned synchronously; once accepted, the Result resolves with the device id when
// the SDK confirms the connection, or with an error on failure or timeout.
// A zero timeout selects the configured default.
func (m *Manager) Connect(ctx context.Context, id, secret string, timeout time.Duration) (*Result[string], error) {
	if strings.TrimSpace(id) == "" {
		return nil, device.Errorf(device.CodeInvalidArguments, "device id is required")
	}
	if timeout <= 0 {
		timeout = m.opts.ConnectTimeout
	}

	res := newResult[string]()
	var err error
	doErr := m.loop.Do(ctx, func() {
		err = m.connectLocked(id, secret, timeout, res)
	})
	if doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *Manager) connectLocked(id, secret string, timeout time.Duration, res *Result[string]) error {
	p, err := m.registry.Lookup(id)
	if err != nil {
		return err
	}

	c, err := m.openConn(p.ID, correlator.KindConnect, func(err error) {
		if err != nil {
			res.resolve("", err)
			return
		}
		res.resolve(p.ID, nil)
	})
	if err != nil {
		return err
	}

	if err := m.beacons.Connect(p.ID, secret, timeout); err != nil {
		return m.failInit(c, err)
	}
	m.armConnectTimeout(c, timeout)
	return nil
}

// openConn claims the connection slot and registers the pending request.
func (m *Manager) openConn(id string, kind correlator.Kind, cb correlator.Callback) (*conn, error) {
	if _, ok := m.pending.Lookup(id); ok {
		return nil, device.Errorf(device.CodeRequestConflict, "a request is already pending for device %s", id)
	}
	if a := m.active; a != nil && a.state.Active() {
		if a.id == id {
			return nil, device.Errorf(device.CodeAlreadyConnected, "device %s is already %s", id, a.state)
		}
		return nil, device.Errorf(device.CodeAlreadyConnected, "device %s holds the connection", a.id)
	}
	if err := m.requireAdapter(); err != nil {
		return nil, err
	}

	req, err := m.pending.Register(id, kind, cb)
	if err != nil {
		return nil, err
	}
	// a fresh attempt owns whatever the radio reports for id from now on
	delete(m.abandoned, id)

	c := &conn{
		id:        id,
		kind:      kind,
		state:     device.StateConnecting,
		requestID: req.ID,
		started:   m.now(),
	}
	m.active = c

	m.logger.WithFields(logrus.Fields{
		"device_id":  id,
		"kind":       kind,
		"request_id": req.ID.String(),
	}).Info("Connecting to device")
	return c, nil
}

// failInit handles a connect primitive that refused to start. The pending request is
// resolved so the correlator stays consistent, and the error is returned to the caller.
func (m *Manager) failInit(c *conn, cause error) error {
	err := device.Wrap(device.CodeConnectInitFailed, "failed to initiate connection to "+c.id, cause)
	m.logger.WithError(cause).WithField("device_id", c.id).Warn("Connect initiation failed")
	m.markDisconnected(c, err, cause)
	return err
}

func (m *Manager) armConnectTimeout(c *conn, timeout time.Duration) {
	reqID := c.requestID
	c.connectTimer = m.loop.AfterFunc(timeout, func() {
		m.connectTimedOut(c, reqID, timeout)
	})
}

func (m *Manager) connectTimedOut(c *conn, reqID ulid.ULID, timeout time.Duration) {
	if m.active != c || c.state != device.StateConnecting {
		return
	}
	if p, ok := m.pending.Lookup(c.id); !ok || p.ID != reqID {
		return
	}

	m.logger.WithFields(logrus.Fields{
		"device_id": c.id,
		"timeout":   timeout,
	}).Warn("Connection attempt timed out")

	err := device.Errorf(device.CodeConnectTimeout, "connection to %s timed out after %s", c.id, timeout)
	m.markDisconnected(c, err, err)
	m.abandon(c)
	m.bus.Publish(events.ConnectionState{ID: c.id, State: device.StateDisconnected, Reason: err})

	if sdkErr := m.sdkDisconnect(c.id, c.kind); sdkErr != nil {
		m.logger.WithError(sdkErr).WithField("device_id", c.id).Debug("Cancel of timed out connect failed")
	}
}

// markDisconnected moves c to Disconnected, resolves whatever is pending for the device
// and runs the close hook. pendingErr resolves connect and provisioning requests; other
// requests fail with DEVICE_DISCONNECTED.
func (m *Manager) markDisconnected(c *conn, pendingErr, cause error) {
	c.state = device.StateDisconnected
	c.stopTimers()

	if p, ok := m.pending.Lookup(c.id); ok {
		err := pendingErr
		if p.Kind == correlator.KindRename {
			err = device.Wrap(device.CodeDeviceDisconnected, "device "+c.id+" disconnected", cause)
		}
		m.pending.ResolveID(c.id, p.ID, err)
	}

	if hook := c.onClosed; hook != nil {
		c.onClosed = nil
		hook(cause)
	}
}

// Disconnect tears down the active connection. A connection still being established is
// cancelled and its pending connect fails.
func (m *Manager) Disconnect(ctx context.Context) error {
	var err error
	doErr := m.loop.Do(ctx, func() {
		c := m.active
		if c == nil || (c.state != device.StateConnected && c.state != device.StateConnecting) {
			err = device.Errorf(device.CodeNoConnectedDevice, "no device is connected")
			return
		}
		m.beginDisconnect(c)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// beginDisconnect asks the SDK to disconnect and bounds the wait for its confirmation.
func (m *Manager) beginDisconnect(c *conn) {
	if c.state == device.StateDisconnecting || c.state == device.StateDisconnected {
		return
	}
	c.state = device.StateDisconnecting
	log := m.logger.WithField("device_id", c.id)
	log.Info("Disconnecting device")

	if err := m.sdkDisconnect(c.id, c.kind); err != nil {
		log.WithError(err).Warn("Disconnect request failed, dropping connection")
		m.forceDisconnected(c, err)
		return
	}

	c.disconnectTimer = m.loop.AfterFunc(m.opts.DisconnectTimeout, func() {
		if c.state != device.StateDisconnecting {
			return
		}
		log.WithField("timeout", m.opts.DisconnectTimeout).Warn("Disconnect not confirmed, forcing disconnected state")
		m.forceDisconnected(c, device.Errorf(device.CodeDeviceDisconnected, "disconnect of %s not confirmed", c.id))
	})
}

func (m *Manager) forceDisconnected(c *conn, cause error) {
	m.markDisconnected(c, connectFailure(c.id, cause), cause)
	m.abandon(c)
	m.bus.Publish(events.ConnectionState{ID: c.id, State: device.StateDisconnected, Reason: cause})
}

// abandon remembers that the radio may still report c as connected after the session
// gave up on it. The record outlives the slot, so a late Connected is torn down even
// when another device holds the connection by then.
func (m *Manager) abandon(c *conn) {
	m.abandoned[c.id] = c.kind
}

// reclaim tears down a link the SDK reports connected after its session was abandoned.
// It reports whether id was abandoned.
func (m *Manager) reclaim(id string, log *logrus.Entry) bool {
	kind, ok := m.abandoned[id]
	if !ok {
		return false
	}
	delete(m.abandoned, id)
	log.WithField("kind", kind).Warn("Late connected callback for an abandoned connect, disconnecting")
	if err := m.sdkDisconnect(id, kind); err != nil {
		log.WithError(err).Warn("Failed to disconnect late connection")
	}
	return true
}

func (m *Manager) sdkDisconnect(id string, kind correlator.Kind) error {
	if kind == correlator.KindProvision {
		return m.prov.Disconnect(id)
	}
	return m.beacons.Disconnect(id)
}

// State reports the connection state of id. Devices other than the one holding the
// connection slot are Idle.
func (m *Manager) State(ctx context.Context, id string) (device.ConnState, error) {
	state := device.StateIdle
	err := m.loop.Do(ctx, func() {
		if c := m.active; c != nil && strings.EqualFold(c.id, id) {
			state = c.state
		}
	})
	return state, err
}
