package goble

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/groutine"
)

// ProvisioningConfig names the GATT characteristics of the provisioning service.
type ProvisioningConfig struct {
	ProofCharUUID      string
	SSIDCharUUID       string
	PassphraseCharUUID string
	NetworksCharUUID   string
	// StatusCharUUID is read after authentication and after applying credentials; a
	// non-zero first byte is a rejection. Empty skips the check.
	StatusCharUUID string
}

// Provisioner implements device.ProvisioningSDK on go-ble.
type Provisioner struct {
	*connector
	cfg ProvisioningConfig
}

var _ device.ProvisioningSDK = (*Provisioner)(nil)

func NewProvisioner(stack *Stack, cfg ProvisioningConfig, logger *logrus.Logger) *Provisioner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Provisioner{connector: newConnector(stack, logger, "provisioning"), cfg: cfg}
}

// Connect dials id and verifies it exposes serviceUUID.
func (p *Provisioner) Connect(id, serviceUUID string) error {
	return p.open(id, DefaultDialTimeout, func(l *link) error {
		_, profile, err := l.gatt()
		if err != nil {
			return err
		}
		ok, err := hasService(profile, serviceUUID)
		if err != nil {
			return err
		}
		if !ok {
			return device.Errorf(device.CodeConnectFailed, "device %s has no provisioning service %s", id, serviceUUID)
		}
		return nil
	})
}

func (p *Provisioner) Disconnect(id string) error {
	return p.close(id)
}

func (p *Provisioner) Authenticate(id, proof string, done func(error)) {
	p.async(id, "auth", done, func(l *link) error {
		if err := l.write(p.cfg.ProofCharUUID, []byte(proof)); err != nil {
			return err
		}
		return p.checkStatus(l, "proof rejected")
	})
}

func (p *Provisioner) ScanNetworks(id string, done func([]string, error)) {
	var networks []string
	p.async(id, "wifi-scan", func(err error) { done(networks, err) }, func(l *link) error {
		data, err := l.read(p.cfg.NetworksCharUUID)
		if err != nil {
			return err
		}
		networks, err = ParseNetworks(data)
		return err
	})
}

func (p *Provisioner) ApplyCredentials(id, ssid, passphrase string, done func(error)) {
	p.async(id, "wifi-apply", done, func(l *link) error {
		if err := l.write(p.cfg.SSIDCharUUID, []byte(ssid)); err != nil {
			return err
		}
		if err := l.write(p.cfg.PassphraseCharUUID, []byte(passphrase)); err != nil {
			return err
		}
		return p.checkStatus(l, "credentials rejected")
	})
}

func (p *Provisioner) async(id, op string, done func(error), fn func(*link) error) {
	l, err := p.lookup(id)
	if err != nil {
		done(err)
		return
	}
	groutine.Go(l.ctx, "ble-provisioning-"+op, func(context.Context) {
		err := fn(l)
		if err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{"device_id": id, "op": op}).Debug("Provisioning operation failed")
		}
		done(err)
	})
}

func (p *Provisioner) checkStatus(l *link, rejection string) error {
	if p.cfg.StatusCharUUID == "" {
		return nil
	}
	status, err := l.read(p.cfg.StatusCharUUID)
	if err != nil {
		return err
	}
	if len(status) > 0 && status[0] != 0 {
		return device.Errorf(device.CodeInternal, "%s (status %d)", rejection, status[0])
	}
	return nil
}

// ParseNetworks decodes the networks characteristic. It accepts a JSON array of SSIDs,
// a JSON array of objects with an "ssid" field, or newline separated SSIDs. Blank and
// repeated SSIDs are dropped; order is kept.
func ParseNetworks(data []byte) ([]string, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return []string{}, nil
	}

	var raw []string
	if strings.HasPrefix(trimmed, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return nil, device.Wrap(device.CodeInternal, "malformed network list", err)
		}
		for _, item := range items {
			var ssid string
			if err := json.Unmarshal(item, &ssid); err == nil {
				raw = append(raw, ssid)
				continue
			}
			var obj struct {
				SSID string `json:"ssid"`
			}
			if err := json.Unmarshal(item, &obj); err != nil {
				return nil, device.Wrap(device.CodeInternal, "malformed network entry", err)
			}
			raw = append(raw, obj.SSID)
		}
	} else {
		raw = strings.Split(trimmed, "\n")
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, ssid := range raw {
		ssid = strings.TrimSpace(ssid)
		if ssid == "" {
			continue
		}
		if _, dup := seen[ssid]; dup {
			continue
		}
		seen[ssid] = struct{}{}
		out = append(out, ssid)
	}
	return out, nil
}
