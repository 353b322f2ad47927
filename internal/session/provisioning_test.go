package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/session"
	"github.com/srg/kbridge/internal/testutils"
)

// provisionConnected starts a wifi scan run and drives it up to an outstanding
// Authenticate call.
func (s *ManagerSuite) provisionConnected() *session.Result[[]string] {
	s.discover(provID, "PROV_1A2B3C", provService)
	res, err := s.m.ScanWifiNetworks(s.ctx, provID, "abcd1234")
	s.Require().NoError(err)
	s.prov.AssertCalled(s.T(), "Connect", provID, provService)

	s.prov.EmitConnState(provID, device.StateConnected, nil)
	s.barrier()
	s.prov.AssertCalled(s.T(), "Authenticate", provID, "abcd1234")
	return res
}

func (s *ManagerSuite) TestScanWifiNetworks() {
	res := s.provisionConnected()
	s.Equal(session.ProvAuthenticating, s.barrier().ProvisioningState)

	s.Require().True(s.prov.CompleteAuth(nil))
	s.barrier()
	s.prov.AssertCalled(s.T(), "ScanNetworks", provID)

	s.Require().True(s.prov.CompleteScan([]string{"home", "office"}, nil))
	s.barrier()
	s.prov.AssertCalled(s.T(), "Disconnect", provID)
	pendingResult(s, res)

	s.prov.EmitConnState(provID, device.StateDisconnected, nil)
	networks, err := wait(s, res)
	s.Require().NoError(err)
	s.Equal([]string{"home", "office"}, networks)

	snap := s.barrier()
	s.Equal(device.StateDisconnected, snap.ActiveState, "the result MUST follow the disconnect")
	s.False(snap.Provisioning)
}

func (s *ManagerSuite) TestScanWifiNetworksEmptyList() {
	res := s.provisionConnected()
	s.prov.CompleteAuth(nil)
	s.barrier()
	s.prov.CompleteScan(nil, nil)
	s.barrier()
	s.prov.EmitConnState(provID, device.StateDisconnected, nil)

	networks, err := wait(s, res)
	s.Require().NoError(err)
	s.NotNil(networks)
	s.Empty(networks)
}

func (s *ManagerSuite) TestProvisionWifi() {
	s.discover(provID, "PROV_1A2B3C", provService)
	res, err := s.m.ProvisionWifi(s.ctx, provID, "abcd1234", "home", "secret-pass")
	s.Require().NoError(err)

	s.prov.EmitConnState(provID, device.StateConnected, nil)
	s.barrier()
	s.prov.CompleteAuth(nil)
	s.barrier()
	s.prov.AssertCalled(s.T(), "ApplyCredentials", provID, "home", "secret-pass")
	s.prov.AssertNotCalled(s.T(), "ScanNetworks", mock.Anything)

	s.prov.CompleteApply(nil)
	s.barrier()
	pendingResult(s, res)
	s.prov.EmitConnState(provID, device.StateDisconnected, nil)

	ok, err := wait(s, res)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *ManagerSuite) TestProvisioningFailures() {
	tests := []struct {
		name    string
		drive   func()
		wantErr error
	}{
		{
			name:    "authentication rejected",
			drive:   func() { s.prov.CompleteAuth(errors.New("bad proof")) },
			wantErr: device.ErrAuthFailed,
		},
		{
			name: "network scan fails",
			drive: func() {
				s.prov.CompleteAuth(nil)
				s.barrier()
				s.prov.CompleteScan(nil, errors.New("scan aborted"))
			},
			wantErr: device.ErrWifiScanFailed,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			res := s.provisionConnected()
			tt.drive()
			s.barrier()
			pendingResult(s, res)

			s.prov.EmitConnState(provID, device.StateDisconnected, nil)
			_, err := wait(s, res)
			s.ErrorIs(err, tt.wantErr)
			s.Equal(device.StateDisconnected, s.barrier().ActiveState)
		})
	}
}

func (s *ManagerSuite) TestProvisionApplyFailure() {
	s.discover(provID, "PROV_1A2B3C", provService)
	res, err := s.m.ProvisionWifi(s.ctx, provID, "abcd1234", "home", "wrong")
	s.Require().NoError(err)
	s.prov.EmitConnState(provID, device.StateConnected, nil)
	s.barrier()
	s.prov.CompleteAuth(nil)
	s.barrier()
	s.prov.CompleteApply(errors.New("rejected"))
	s.barrier()
	s.prov.EmitConnState(provID, device.StateDisconnected, nil)

	ok, err := wait(s, res)
	s.ErrorIs(err, device.ErrProvisionFailed)
	s.False(ok)
}

func (s *ManagerSuite) TestProvisioningDeviceDisconnects() {
	res := s.provisionConnected()
	s.prov.CompleteAuth(nil)
	s.barrier()

	s.prov.EmitConnState(provID, device.StateDisconnected, errors.New("supervision timeout"))
	_, err := wait(s, res)
	s.ErrorIs(err, device.ErrDeviceDisconnected)

	// the scan answer arriving afterwards MUST be ignored
	s.prov.CompleteScan([]string{"late"}, nil)
	s.barrier()
	s.prov.AssertNotCalled(s.T(), "Disconnect", provID)
}

func (s *ManagerSuite) TestProvisioningConnectTimeout() {
	s.discover(provID, "PROV_1A2B3C", provService)
	res, err := s.m.ScanWifiNetworks(s.ctx, provID, "abcd1234")
	s.Require().NoError(err)

	_, err = wait(s, res)
	s.ErrorIs(err, device.ErrConnectFailed)
	s.ErrorIs(err, device.ErrConnectTimeout)
	s.prov.AssertNotCalled(s.T(), "Authenticate", mock.Anything, mock.Anything)
	s.barrier()
	s.prov.AssertCalled(s.T(), "Disconnect", provID)
}

func (s *ManagerSuite) TestProvisioningUnconfirmedDisconnect() {
	res := s.provisionConnected()
	s.prov.CompleteAuth(errors.New("bad proof"))

	// no Disconnected callback: the result arrives once the disconnect is forced
	ctx, cancel := context.WithTimeout(s.ctx, time.Second)
	defer cancel()
	_, err := res.Wait(ctx)
	s.ErrorIs(err, device.ErrAuthFailed)
	s.Equal(device.StateDisconnected, s.barrier().ActiveState)
}

func (s *ManagerSuite) TestProvisioningValidation() {
	s.discover(beaconID, "KBeacon-01")

	_, err := s.m.ScanWifiNetworks(s.ctx, "", "abcd")
	s.ErrorIs(err, device.ErrInvalidArguments)

	_, err = s.m.ProvisionWifi(s.ctx, provID, "abcd", "", "pass")
	s.ErrorIs(err, device.ErrInvalidArguments)

	_, err = s.m.ScanWifiNetworks(s.ctx, otherID, "abcd")
	s.ErrorIs(err, device.ErrDeviceNotFound)

	_, err = s.m.ScanWifiNetworks(s.ctx, beaconID, "abcd")
	s.ErrorIs(err, device.ErrDeviceNotFound, "a device without a provisioning service MUST be rejected")

	s.prov.AssertNotCalled(s.T(), "Connect", mock.Anything, mock.Anything)
}

func (s *ManagerSuite) TestProvisioningConflicts() {
	s.provisionConnected()

	_, err := s.m.ScanWifiNetworks(s.ctx, provID, "abcd1234")
	s.ErrorIs(err, device.ErrAlreadyConnected)

	s.discover(beaconID, "KBeacon-01")
	_, err = s.m.Connect(s.ctx, beaconID, "", 0)
	s.ErrorIs(err, device.ErrAlreadyConnected)

	_, err = s.m.ChangeDeviceName(s.ctx, "Renamed")
	s.ErrorIs(err, device.ErrNotConnected, "rename MUST only target a connected beacon")
}

func TestProvisioningUnavailable(t *testing.T) {
	m, err := session.New(session.Config{
		Beacons: testutils.NewMockBeaconSDK(),
		Adapter: testutils.NewFakeAdapter(),
	})
	require.NoError(t, err)
	m.Start(context.Background())
	defer m.Close(context.Background())

	_, err = m.ScanWifiNetworks(context.Background(), provID, "abcd")
	assert.ErrorIs(t, err, device.ErrNotImplemented, "provisioning without an SDK MUST be rejected")
}
