package session_test

import (
	"errors"
	"time"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/events"
	"github.com/srg/kbridge/internal/testutils"
)

func (s *ManagerSuite) TestDiscoveryDeduplicates() {
	s.startScan("KBeacon")
	stream, err := s.m.Discoveries(s.ctx)
	s.Require().NoError(err)

	adv := testutils.NewAdvertisementBuilder().WithAddress(beaconID).WithName("KBeacon-01")
	s.beacons.EmitAdvertisement(adv.WithRSSI(-70).Build())
	s.beacons.EmitAdvertisement(adv.WithRSSI(-40).Build())

	first := testutils.Receive(s.T(), stream.C(), waitFor).(events.Discovery)
	s.Equal(beaconID, first.ID)
	s.Equal("KBeacon-01", first.Name)
	s.Equal(-70, first.RSSI)
	testutils.RequireNothing(s.T(), stream.C(), 50*time.Millisecond)

	devices, err := s.m.Devices(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(devices, 1, "a rediscovered device MUST be registered once")
	s.Equal(-40, devices[0].RSSI, "rediscovery MUST refresh the signal strength")
}

func (s *ManagerSuite) TestDiscoveryFiltersByPrefix() {
	s.startScan("KBeacon")
	stream, err := s.m.Discoveries(s.ctx)
	s.Require().NoError(err)

	s.beacons.EmitAdvertisement(testutils.NewAdvertisementBuilder().WithAddress(otherID).WithName("Speaker").Build())
	s.beacons.EmitAdvertisement(testutils.NewAdvertisementBuilder().WithAddress("AA:BB:CC:DD:EE:03").Build())
	s.beacons.EmitAdvertisement(testutils.NewAdvertisementBuilder().WithAddress(beaconID).WithName("KBeacon-01").Build())

	ev := testutils.Receive(s.T(), stream.C(), waitFor).(events.Discovery)
	s.Equal(beaconID, ev.ID, "only names with the prefix MUST be reported")
	s.Equal(1, s.barrier().Devices)
}

func (s *ManagerSuite) TestRestartClearsRegistry() {
	s.discover(beaconID, "KBeacon-01")
	old, err := s.m.Discoveries(s.ctx)
	s.Require().NoError(err)
	s.Require().Equal(1, s.barrier().Devices)

	s.startScan("")

	snap := s.barrier()
	s.True(snap.Scanning)
	s.Zero(snap.Devices, "restart MUST clear the registry")
	testutils.RequireClosed(s.T(), old.C(), waitFor)
	s.beacons.AssertNumberOfCalls(s.T(), "StartScan", 1)

	_, err = s.m.Connect(s.ctx, beaconID, "", 0)
	s.ErrorIs(err, device.ErrDeviceNotFound, "devices from the previous scan MUST be forgotten")

	s.discover(beaconID, "KBeacon-01")
	s.Equal(1, s.barrier().Devices, "a restarted scan MUST report devices again")
}

func (s *ManagerSuite) TestStopScanEndsStreams() {
	s.startScan("")
	stream, err := s.m.Discoveries(s.ctx)
	s.Require().NoError(err)

	s.Require().NoError(s.m.StopScan(s.ctx))
	testutils.RequireClosed(s.T(), stream.C(), waitFor)
	s.beacons.AssertCalled(s.T(), "StopScan")

	s.NoError(s.m.StopScan(s.ctx), "stopping an idle scan MUST be a no-op")
	s.beacons.AssertNumberOfCalls(s.T(), "StopScan", 1)

	idle, err := s.m.Discoveries(s.ctx)
	s.Require().NoError(err)
	testutils.RequireClosed(s.T(), idle.C(), waitFor)
}

func (s *ManagerSuite) TestStartScanPreconditions() {
	tests := []struct {
		name    string
		setup   func()
		wantErr error
		event   bool
	}{
		{
			name:    "permissions denied",
			setup:   func() { s.perms = false },
			wantErr: device.ErrPermissionDenied,
		},
		{
			name:    "adapter powered off",
			setup:   func() { s.adapter.Set(device.AdapterPoweredOff) },
			wantErr: device.ErrBluetoothOff,
			event:   true,
		},
		{
			name:    "adapter unauthorized",
			setup:   func() { s.adapter.Set(device.AdapterUnauthorized) },
			wantErr: device.ErrPermissionDenied,
			event:   true,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.perms = true
			s.adapter.Set(device.AdapterPoweredOn)
			tt.setup()

			err := s.m.StartScan(s.ctx, "")
			s.ErrorIs(err, tt.wantErr)
			s.False(s.barrier().Scanning)
			if tt.event {
				ev := s.nextEvent(events.KindAdapterState).(events.AdapterState)
				s.Equal(s.adapter.AdapterState(), ev.State)
			}
		})
	}
	s.beacons.AssertNotCalled(s.T(), "StartScan")
}

func (s *ManagerSuite) TestStartScanPrimitiveFailure() {
	s.beacons.Override("StartScan").On("StartScan").Return(errors.New("radio busy"))

	err := s.m.StartScan(s.ctx, "")
	s.ErrorIs(err, device.ErrScanFailed)
	s.False(s.barrier().Scanning)
}

func (s *ManagerSuite) TestAdapterPowerLossStopsScan() {
	s.startScan("")
	stream, err := s.m.Discoveries(s.ctx)
	s.Require().NoError(err)

	s.beacons.EmitAdapterState(device.AdapterPoweredOff)

	ev := s.nextEvent(events.KindAdapterState).(events.AdapterState)
	s.Equal(device.AdapterPoweredOff, ev.State)
	testutils.RequireClosed(s.T(), stream.C(), waitFor)
	s.False(s.barrier().Scanning)
}
