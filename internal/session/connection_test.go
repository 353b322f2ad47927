package session_test

import (
	"context"
	"errors"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/events"
	"github.com/srg/kbridge/internal/testutils"
)

func (s *ManagerSuite) TestConnectResolvesOnce() {
	s.discover(beaconID, "KBeacon-01")

	res, err := s.m.Connect(s.ctx, beaconID, "0000000000000000", 0)
	s.Require().NoError(err)
	s.beacons.AssertCalled(s.T(), "Connect", beaconID, "0000000000000000", 200*time.Millisecond)
	pendingResult(s, res)

	s.beacons.EmitConnState(beaconID, device.StateConnected, nil)
	got, err := wait(s, res)
	s.Require().NoError(err)
	s.Equal(beaconID, got)

	// duplicate and contradicting callbacks MUST NOT change the delivered outcome
	s.beacons.EmitConnState(beaconID, device.StateConnected, nil)
	s.beacons.EmitConnState(beaconID, device.StateDisconnected, errors.New("link lost"))
	s.barrier()
	got, err = wait(s, res)
	s.NoError(err)
	s.Equal(beaconID, got)

	state, err := s.m.State(s.ctx, beaconID)
	s.Require().NoError(err)
	s.Equal(device.StateDisconnected, state)
	s.Zero(s.barrier().Pending)
}

func (s *ManagerSuite) TestConnectStateEventsFollowResolution() {
	s.discover(beaconID, "KBeacon-01")
	res, err := s.m.Connect(s.ctx, beaconID, "", 0)
	s.Require().NoError(err)

	s.beacons.EmitConnState(beaconID, device.StateConnecting, nil)
	s.beacons.EmitConnState(beaconID, device.StateConnected, nil)

	ev := s.nextEvent(events.KindConnectionState).(events.ConnectionState)
	s.Equal(device.StateConnecting, ev.State)
	ev = s.nextEvent(events.KindConnectionState).(events.ConnectionState)
	s.Equal(device.StateConnected, ev.State)

	select {
	case <-res.Done():
	default:
		s.Fail("result MUST be resolved before the connected event is visible")
	}
}

func (s *ManagerSuite) TestConnectValidation() {
	s.discover(beaconID, "KBeacon-01")

	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{name: "empty id", id: "", wantErr: device.ErrInvalidArguments},
		{name: "blank id", id: "  ", wantErr: device.ErrInvalidArguments},
		{name: "unknown device", id: otherID, wantErr: device.ErrDeviceNotFound},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			res, err := s.m.Connect(s.ctx, tt.id, "", 0)
			s.ErrorIs(err, tt.wantErr)
			s.Nil(res)
		})
	}
	s.beacons.AssertNotCalled(s.T(), "Connect", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ManagerSuite) TestConnectLookupIgnoresCase() {
	s.discover(beaconID, "KBeacon-01")
	_, err := s.m.Connect(s.ctx, "aa:bb:cc:dd:ee:01", "", 0)
	s.Require().NoError(err)
	s.beacons.AssertCalled(s.T(), "Connect", beaconID, "", 200*time.Millisecond)
}

func (s *ManagerSuite) TestConnectWithAdapterOff() {
	s.discover(beaconID, "KBeacon-01")
	s.adapter.Set(device.AdapterPoweredOff)

	res, err := s.m.Connect(s.ctx, beaconID, "", 0)
	s.ErrorIs(err, device.ErrBluetoothOff)
	s.Nil(res)

	ev := s.nextEvent(events.KindAdapterState).(events.AdapterState)
	s.Equal(device.AdapterPoweredOff, ev.State, "the failure MUST be broadcast on the stream")
	snap := s.barrier()
	s.Empty(snap.ActiveID)
	s.Zero(snap.Pending)
	s.beacons.AssertNotCalled(s.T(), "Connect", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ManagerSuite) TestConnectCancelledWhileQueued() {
	// GOAL: A Connect whose caller gives up before the loop reaches it leaves no trace:
	// no pending request, no claimed slot, no SDK dial
	//
	// TEST SCENARIO: loop busy in StopScan → Connect with short deadline → release → nothing registered

	s.discover(beaconID, "KBeacon-01")

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	s.beacons.Override("StopScan").On("StopScan").Run(func(mock.Arguments) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}).Return(nil)

	stopped := make(chan error, 1)
	go func() { stopped <- s.m.StopScan(s.ctx) }()
	testutils.Receive(s.T(), entered, waitFor)

	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()
	res, err := s.m.Connect(ctx, beaconID, "", 0)
	s.ErrorIs(err, context.DeadlineExceeded)
	s.Nil(res)

	close(release)
	s.Require().NoError(testutils.Receive(s.T(), stopped, waitFor))

	snap := s.barrier()
	s.Empty(snap.ActiveID, "an abandoned Connect MUST NOT claim the connection slot")
	s.Zero(snap.Pending)
	s.beacons.AssertNotCalled(s.T(), "Connect", mock.Anything, mock.Anything, mock.Anything)

	s.connected(beaconID)
}

func (s *ManagerSuite) TestConnectConflicts() {
	s.discover(beaconID, "KBeacon-01")
	s.discover(otherID, "KBeacon-02")

	first, err := s.m.Connect(s.ctx, beaconID, "", 0)
	s.Require().NoError(err)

	_, err = s.m.Connect(s.ctx, beaconID, "", 0)
	s.ErrorIs(err, device.ErrRequestConflict, "a second request for the same device MUST conflict")

	_, err = s.m.Connect(s.ctx, otherID, "", 0)
	s.ErrorIs(err, device.ErrAlreadyConnected, "the connection slot MUST be exclusive")

	pendingResult(s, first)
	s.beacons.EmitConnState(beaconID, device.StateConnected, nil)
	_, err = wait(s, first)
	s.Require().NoError(err)

	_, err = s.m.Connect(s.ctx, beaconID, "", 0)
	s.ErrorIs(err, device.ErrAlreadyConnected)
	s.beacons.AssertNumberOfCalls(s.T(), "Connect", 1)
}

func (s *ManagerSuite) TestConnectTimeout() {
	s.discover(beaconID, "KBeacon-01")

	res, err := s.m.Connect(s.ctx, beaconID, "", 100*time.Millisecond)
	s.Require().NoError(err)

	_, err = wait(s, res)
	s.ErrorIs(err, device.ErrConnectTimeout)

	ev := s.nextEvent(events.KindConnectionState).(events.ConnectionState)
	s.Equal(device.StateDisconnected, ev.State)
	s.ErrorIs(ev.Reason, device.ErrConnectTimeout)

	s.barrier()
	s.beacons.AssertCalled(s.T(), "Disconnect", beaconID)
	state, err := s.m.State(s.ctx, beaconID)
	s.Require().NoError(err)
	s.Equal(device.StateDisconnected, state)

	// a late success MUST be ignored and the stray link dropped
	s.beacons.EmitConnState(beaconID, device.StateConnected, nil)
	s.barrier()
	s.beacons.AssertNumberOfCalls(s.T(), "Disconnect", 2)
	_, err = wait(s, res)
	s.ErrorIs(err, device.ErrConnectTimeout)

	// the slot is free again
	_, err = s.m.Connect(s.ctx, beaconID, "", 0)
	s.NoError(err)
}

func (s *ManagerSuite) TestLateConnectedAfterSlotReused() {
	// GOAL: A timed-out connect that completes after another device took the slot is torn
	// down, so the radio never holds two links
	//
	// TEST SCENARIO: A times out → B connects → late Connected for A → A disconnected, B untouched

	s.discover(beaconID, "KBeacon-01")
	s.discover(otherID, "KBeacon-02")

	res, err := s.m.Connect(s.ctx, beaconID, "", 50*time.Millisecond)
	s.Require().NoError(err)
	_, err = wait(s, res)
	s.Require().ErrorIs(err, device.ErrConnectTimeout)

	s.connected(otherID)
	before := s.disconnectCalls(beaconID)

	s.beacons.EmitConnState(beaconID, device.StateConnected, nil)
	snap := s.barrier()

	s.Equal(before+1, s.disconnectCalls(beaconID), "the stray link MUST be disconnected")
	s.Zero(s.disconnectCalls(otherID), "the active connection MUST NOT be touched")
	s.Equal(otherID, snap.ActiveID)
	s.Equal(device.StateConnected, snap.ActiveState)

	// a second late callback has nothing left to reclaim
	s.beacons.EmitConnState(beaconID, device.StateConnected, nil)
	s.barrier()
	s.Equal(before+1, s.disconnectCalls(beaconID))
}

func (s *ManagerSuite) TestLateConnectedAfterForcedDisconnect() {
	s.discover(beaconID, "KBeacon-01")
	s.discover(otherID, "KBeacon-02")
	s.connected(beaconID)

	// the SDK never confirms, so the session forces Disconnected after its timeout
	s.Require().NoError(s.m.Disconnect(s.ctx))
	s.Require().Eventually(func() bool {
		return s.barrier().ActiveState == device.StateDisconnected
	}, waitFor, 10*time.Millisecond)

	s.connected(otherID)
	before := s.disconnectCalls(beaconID)
	s.beacons.EmitConnState(beaconID, device.StateConnected, nil)
	s.barrier()
	s.Equal(before+1, s.disconnectCalls(beaconID))
	s.Zero(s.disconnectCalls(otherID))
}

func (s *ManagerSuite) TestReconnectClearsAbandonedRecord() {
	s.discover(beaconID, "KBeacon-01")

	res, err := s.m.Connect(s.ctx, beaconID, "", 50*time.Millisecond)
	s.Require().NoError(err)
	_, err = wait(s, res)
	s.Require().ErrorIs(err, device.ErrConnectTimeout)

	// the new attempt owns the next Connected callback
	s.connected(beaconID)
	s.Equal(device.StateConnected, s.barrier().ActiveState)
	s.Equal(1, s.disconnectCalls(beaconID), "only the timeout MUST have disconnected")
}

func (s *ManagerSuite) TestConnectFailureCallback() {
	s.discover(beaconID, "KBeacon-01")
	res, err := s.m.Connect(s.ctx, beaconID, "", 0)
	s.Require().NoError(err)

	s.beacons.EmitConnState(beaconID, device.StateDisconnected, errors.New("auth rejected"))

	_, err = wait(s, res)
	s.ErrorIs(err, device.ErrConnectFailed)
	s.ErrorContains(err, "auth rejected")
}

func (s *ManagerSuite) TestConnectInitFailure() {
	s.discover(beaconID, "KBeacon-01")
	s.beacons.Override("Connect").On("Connect", beaconID, mock.Anything, mock.Anything).Return(errors.New("not ready")).Once()
	s.beacons.On("Connect", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	res, err := s.m.Connect(s.ctx, beaconID, "", 0)
	s.ErrorIs(err, device.ErrConnectInitFailed)
	s.Nil(res)
	s.Zero(s.barrier().Pending, "a refused connect MUST NOT leave a pending request")

	_, err = s.m.Connect(s.ctx, beaconID, "", 0)
	s.NoError(err, "the slot MUST be free after an init failure")
}

func (s *ManagerSuite) TestDisconnect() {
	s.ErrorIs(s.m.Disconnect(s.ctx), device.ErrNotConnected)

	s.discover(beaconID, "KBeacon-01")
	s.connected(beaconID)

	s.Require().NoError(s.m.Disconnect(s.ctx))
	s.beacons.AssertCalled(s.T(), "Disconnect", beaconID)
	s.Equal(device.StateDisconnecting, s.barrier().ActiveState)

	s.beacons.EmitConnState(beaconID, device.StateDisconnected, nil)
	s.Equal(device.StateDisconnected, s.barrier().ActiveState)
	s.ErrorIs(s.m.Disconnect(s.ctx), device.ErrNotConnected)
}

func (s *ManagerSuite) TestDisconnectCancelsConnect() {
	s.discover(beaconID, "KBeacon-01")
	res, err := s.m.Connect(s.ctx, beaconID, "", time.Minute)
	s.Require().NoError(err)

	s.Require().NoError(s.m.Disconnect(s.ctx))
	pendingResult(s, res)

	s.beacons.EmitConnState(beaconID, device.StateDisconnected, nil)
	_, err = wait(s, res)
	s.ErrorIs(err, device.ErrConnectFailed)
}

func (s *ManagerSuite) TestDisconnectForcedWithoutConfirmation() {
	s.discover(beaconID, "KBeacon-01")
	s.connected(beaconID)

	s.Require().NoError(s.m.Disconnect(s.ctx))

	ev := s.nextEvent(events.KindConnectionState)
	s.Equal(device.StateConnected, ev.(events.ConnectionState).State)
	ev = s.nextEvent(events.KindConnectionState)
	s.Equal(device.StateDisconnected, ev.(events.ConnectionState).State, "an unconfirmed disconnect MUST be forced")
	s.Equal(device.StateDisconnected, s.barrier().ActiveState)
}
