package session

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/correlator"
	"github.com/srg/kbridge/internal/device"
)

// ChangeDeviceName writes a new advertised name to the connected beacon. The Result
// resolves with the new name once the device acknowledges it. With a configured
// RenameDisconnectDelay the beacon is disconnected that long after a successful rename.
func (m *Manager) ChangeDeviceName(ctx context.Context, name string) (*Result[string], error) {
	if strings.TrimSpace(name) == "" {
		return nil, device.Errorf(device.CodeInvalidArguments, "name is required")
	}

	res := newResult[string]()
	var err error
	doErr := m.loop.Do(ctx, func() { err = m.renameLocked(name, res) })
	if doErr != nil {
		return nil, doErr
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *Manager) renameLocked(name string, res *Result[string]) error {
	c := m.active
	if c == nil || c.state != device.StateConnected || c.kind != correlator.KindConnect {
		return device.Errorf(device.CodeNoConnectedDevice, "no beacon is connected")
	}

	log := m.logger.WithFields(logrus.Fields{
		"device_id": c.id,
		"name":      name,
	})

	req, err := m.pending.Register(c.id, correlator.KindRename, func(err error) {
		if err != nil {
			if !device.IsCode(err, device.CodeDeviceDisconnected) {
				err = device.Wrap(device.CodeNameChangeFailed, "failed to change device name", err)
			}
			log.WithError(err).Warn("Rename failed")
			res.resolve("", err)
			return
		}
		log.Info("Device renamed")
		res.resolve(name, nil)
		m.scheduleRenameDisconnect(c)
	})
	if err != nil {
		return err
	}

	id := c.id
	m.beacons.ModifyName(id, name, func(err error) {
		m.loop.Post(func() { m.pending.ResolveID(id, req.ID, err) })
	})
	return nil
}

func (m *Manager) scheduleRenameDisconnect(c *conn) {
	delay := m.opts.RenameDisconnectDelay
	if delay <= 0 {
		return
	}
	m.loop.AfterFunc(delay, func() {
		if m.active == c && c.state == device.StateConnected {
			m.beginDisconnect(c)
		}
	})
}
