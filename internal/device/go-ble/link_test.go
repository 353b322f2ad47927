package goble

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/kbridge/internal/device"
)

// gatedDevice is a ble.Device whose first dial only returns once the test releases it;
// later dials return when cancelled.
type gatedDevice struct {
	ble.Device

	first chan struct{}
	dials atomic.Int32
}

func (d *gatedDevice) Dial(ctx context.Context, _ ble.Addr) (ble.Client, error) {
	if d.dials.Add(1) == 1 {
		<-d.first
	} else {
		<-ctx.Done()
	}
	return nil, ctx.Err()
}

func (d *gatedDevice) Stop() error { return nil }

type transition struct {
	id     string
	state  device.ConnState
	reason error
}

type transitionRecorder struct {
	mu   sync.Mutex
	seen []transition
}

func (r *transitionRecorder) OnAdapterState(device.AdapterState)   {}
func (r *transitionRecorder) OnAdvertisement(device.Advertisement) {}
func (r *transitionRecorder) OnNotify(string, int, []byte)         {}

func (r *transitionRecorder) OnConnState(id string, state device.ConnState, reason error) {
	r.mu.Lock()
	r.seen = append(r.seen, transition{id: id, state: state, reason: reason})
	r.mu.Unlock()
}

func (r *transitionRecorder) count(state device.ConnState) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.seen {
		if t.state == state {
			n++
		}
	}
	return n
}

func TestReconnectWhileClosingLinkTearsDown(t *testing.T) {
	// GOAL: A device can be dialed again right after Disconnect, before the previous link
	// finished its teardown, and the old link's late transitions do not leak into the new
	// attempt
	//
	// TEST SCENARIO: connect → disconnect (teardown stalls) → connect again accepted →
	// old link finishes silently → new link reports its own Disconnected

	const id = "AA:BB:CC:DD:EE:01"
	dev := &gatedDevice{first: make(chan struct{})}
	orig := DeviceFactory
	t.Cleanup(func() { DeviceFactory = orig })
	DeviceFactory = func() (ble.Device, error) { return dev, nil }

	stack := NewStack(nil)
	t.Cleanup(func() { _ = stack.Close() })
	rec := &transitionRecorder{}
	b := NewBeacons(stack, BeaconConfig{}, nil)
	b.Attach(rec)

	require.NoError(t, b.Connect(id, "", time.Minute))
	require.Eventually(t, func() bool { return dev.dials.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Disconnect(id))
	require.NoError(t, b.Connect(id, "", time.Minute), "a closing link MUST NOT block a new connect")
	require.Eventually(t, func() bool { return dev.dials.Load() == 2 }, time.Second, 5*time.Millisecond)

	close(dev.first)
	assert.Never(t, func() bool { return rec.count(device.StateDisconnected) > 0 }, 100*time.Millisecond, 5*time.Millisecond,
		"the replaced link MUST NOT report Disconnected for the new attempt")

	require.NoError(t, b.Disconnect(id))
	require.Eventually(t, func() bool { return rec.count(device.StateDisconnected) == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, b.Disconnect(id), device.ErrNotConnected)
}
