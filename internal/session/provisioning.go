package session

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/correlator"
	"github.com/srg/kbridge/internal/device"
)

// Action is the operation a provisioning run performs once authenticated.
type Action int

const (
	ActionScanNetworks Action = iota
	ActionApplyCredentials
)

func (a Action) String() string {
	if a == ActionApplyCredentials {
		return "apply_credentials"
	}
	return "scan_networks"
}

// ProvisionState is the provisioning workflow state.
type ProvisionState int

const (
	ProvAwaitingConnection ProvisionState = iota
	ProvAuthenticating
	ProvExecuting
	ProvCompleted
	ProvFailed
)

var provStateNames = [...]string{
	ProvAwaitingConnection: "awaiting_connection",
	ProvAuthenticating:     "authenticating",
	ProvExecuting:          "executing",
	ProvCompleted:          "completed",
	ProvFailed:             "failed",
}

func (s ProvisionState) String() string {
	if s < 0 || int(s) >= len(provStateNames) {
		return "unknown"
	}
	return provStateNames[s]
}

func (s ProvisionState) terminal() bool {
	return s == ProvCompleted || s == ProvFailed
}

// provisioning is one run of the workflow. The caller's result is delivered only after
// the connection has reached Disconnected.
type provisioning struct {
	m      *Manager
	id     string
	proof  string
	action Action

	ssid       string
	passphrase string

	state    ProvisionState
	conn     *conn
	networks []string
	err      error
	resolved bool
	finish   func(networks []string, err error)
}

// ScanWifiNetworks connects to a provisioning device, authenticates with proof and lists
// the Wi-Fi networks the device can see.
func (m *Manager) ScanWifiNetworks(ctx context.Context, id, proof string) (*Result[[]string], error) {
	res := newResult[[]string]()
	p := &provisioning{
		id:     id,
		proof:  proof,
		action: ActionScanNetworks,
		finish: func(networks []string, err error) {
			if err != nil {
				res.resolve(nil, err)
				return
			}
			if networks == nil {
				networks = []string{}
			}
			res.resolve(networks, nil)
		},
	}
	if err := m.startProvisioning(ctx, p); err != nil {
		return nil, err
	}
	return res, nil
}

// ProvisionWifi connects to a provisioning device, authenticates with proof and applies
// the given Wi-Fi credentials.
func (m *Manager) ProvisionWifi(ctx context.Context, id, proof, ssid, passphrase string) (*Result[bool], error) {
	if ssid == "" {
		return nil, device.Errorf(device.CodeInvalidArguments, "ssid is required")
	}
	res := newResult[bool]()
	p := &provisioning{
		id:         id,
		proof:      proof,
		action:     ActionApplyCredentials,
		ssid:       ssid,
		passphrase: passphrase,
		finish: func(_ []string, err error) {
			res.resolve(err == nil, err)
		},
	}
	if err := m.startProvisioning(ctx, p); err != nil {
		return nil, err
	}
	return res, nil
}

func (m *Manager) startProvisioning(ctx context.Context, p *provisioning) error {
	if strings.TrimSpace(p.id) == "" {
		return device.Errorf(device.CodeInvalidArguments, "device id is required")
	}
	if m.prov == nil {
		return device.Errorf(device.CodeNotImplemented, "provisioning is not available on this host")
	}

	var err error
	doErr := m.loop.Do(ctx, func() { err = m.startProvisioningLocked(p) })
	if doErr != nil {
		return doErr
	}
	return err
}

func (m *Manager) startProvisioningLocked(p *provisioning) error {
	peripheral, err := m.registry.Lookup(p.id)
	if err != nil {
		return err
	}
	p.id = peripheral.ID

	serviceUUID := peripheral.ServiceUUID
	if serviceUUID == "" {
		serviceUUID = m.opts.ProvisioningServiceUUID
	}
	if serviceUUID == "" {
		return device.Errorf(device.CodeDeviceNotFound, "device %s advertises no provisioning service", p.id)
	}

	c, err := m.openConn(p.id, correlator.KindProvision, p.onConnectOutcome)
	if err != nil {
		return err
	}
	p.m = m
	p.conn = c
	p.state = ProvAwaitingConnection
	c.onClosed = p.onConnectionClosed
	m.provisioning = p

	p.log().WithField("service_uuid", serviceUUID).Info("Provisioning started")

	if err := m.prov.Connect(p.id, serviceUUID); err != nil {
		return m.failInit(c, err)
	}
	m.armConnectTimeout(c, m.opts.ProvisionConnectTimeout)
	return nil
}

func (p *provisioning) log() *logrus.Entry {
	return p.m.logger.WithFields(logrus.Fields{
		"device_id": p.id,
		"action":    p.action.String(),
		"state":     p.state.String(),
	})
}

func (p *provisioning) onConnectOutcome(err error) {
	if p.state != ProvAwaitingConnection {
		return
	}
	if err != nil {
		p.fail(connectFailure(p.id, err))
		return
	}

	p.state = ProvAuthenticating
	p.log().Debug("Authenticating")
	p.m.prov.Authenticate(p.id, p.proof, func(err error) {
		p.m.loop.Post(func() { p.onAuthenticated(err) })
	})
}

func (p *provisioning) onAuthenticated(err error) {
	if p.state != ProvAuthenticating {
		return
	}
	if err != nil {
		p.fail(device.Wrap(device.CodeAuthFailed, "proof of possession rejected", err))
		return
	}

	p.state = ProvExecuting
	p.log().Debug("Authenticated")

	switch p.action {
	case ActionScanNetworks:
		p.m.prov.ScanNetworks(p.id, func(networks []string, err error) {
			p.m.loop.Post(func() { p.onNetworks(networks, err) })
		})
	case ActionApplyCredentials:
		p.m.prov.ApplyCredentials(p.id, p.ssid, p.passphrase, func(err error) {
			p.m.loop.Post(func() { p.onApplied(err) })
		})
	}
}

func (p *provisioning) onNetworks(networks []string, err error) {
	if p.state != ProvExecuting {
		return
	}
	if err != nil {
		p.fail(device.Wrap(device.CodeWifiScanFailed, "wifi scan failed", err))
		return
	}
	p.networks = networks
	p.complete()
}

func (p *provisioning) onApplied(err error) {
	if p.state != ProvExecuting {
		return
	}
	if err != nil {
		p.fail(device.Wrap(device.CodeProvisionFailed, "failed to apply wifi credentials", err))
		return
	}
	p.complete()
}

func (p *provisioning) complete() {
	p.state = ProvCompleted
	p.log().Info("Provisioning step completed")
	p.teardown()
}

func (p *provisioning) fail(err error) {
	p.state = ProvFailed
	p.err = err
	p.log().WithError(err).Warn("Provisioning failed")
	p.teardown()
}

// teardown disconnects before resolving. The result is delivered from the close hook,
// or immediately when the link is already down.
func (p *provisioning) teardown() {
	if p.conn.state == device.StateDisconnected {
		p.resolve()
		return
	}
	p.m.beginDisconnect(p.conn)
}

func (p *provisioning) onConnectionClosed(cause error) {
	if !p.state.terminal() {
		stage := p.state.String()
		p.state = ProvFailed
		p.err = device.Wrap(device.CodeDeviceDisconnected, "device disconnected while "+stage, cause)
		p.log().WithError(p.err).Warn("Provisioning interrupted")
	}
	p.resolve()
}

func (p *provisioning) resolve() {
	if p.resolved {
		return
	}
	p.resolved = true
	if p.m.provisioning == p {
		p.m.provisioning = nil
	}
	p.log().Debug("Provisioning result delivered")
	p.finish(p.networks, p.err)
}
