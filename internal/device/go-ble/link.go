package goble

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/groutine"
)

const (
	// DefaultDialTimeout bounds a dial when the caller gives no timeout.
	DefaultDialTimeout = 15 * time.Second

	// disconnectGrace bounds the wait for the stack to confirm CancelConnection.
	disconnectGrace = 2 * time.Second
)

// link is one GATT client connection and the goroutine that watches it.
type link struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	closing atomic.Bool

	mu      sync.Mutex
	client  ble.Client
	profile *ble.Profile
}

func (l *link) gatt() (ble.Client, *ble.Profile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client == nil || l.profile == nil {
		return nil, nil, device.Errorf(device.CodeNoConnectedDevice, "device %s is not connected", l.id)
	}
	return l.client, l.profile, nil
}

func (l *link) characteristic(uuid string) (ble.Client, *ble.Characteristic, error) {
	client, profile, err := l.gatt()
	if err != nil {
		return nil, nil, err
	}
	c, err := findCharacteristic(profile, uuid)
	if err != nil {
		return nil, nil, err
	}
	return client, c, nil
}

func (l *link) write(uuid string, data []byte) error {
	client, c, err := l.characteristic(uuid)
	if err != nil {
		return err
	}
	return NormalizeError(client.WriteCharacteristic(c, data, false))
}

func (l *link) read(uuid string) ([]byte, error) {
	client, c, err := l.characteristic(uuid)
	if err != nil {
		return nil, err
	}
	data, err := client.ReadCharacteristic(c)
	return data, NormalizeError(err)
}

func findCharacteristic(p *ble.Profile, uuid string) (*ble.Characteristic, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, device.Wrap(device.CodeInvalidArguments, "characteristic uuid "+uuid, err)
	}
	for _, svc := range p.Services {
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(u) {
				return c, nil
			}
		}
	}
	return nil, device.Errorf(device.CodeNotImplemented, "characteristic %s not found", uuid)
}

func hasService(p *ble.Profile, uuid string) (bool, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return false, device.Wrap(device.CodeInvalidArguments, "service uuid "+uuid, err)
	}
	for _, svc := range p.Services {
		if svc.UUID.Equal(u) {
			return true, nil
		}
	}
	return false, nil
}

// sinkRef holds the attached sink.
type sinkRef struct {
	mu   sync.RWMutex
	sink device.Sink
}

func (r *sinkRef) Attach(sink device.Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

func (r *sinkRef) get() device.Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sink
}

func (r *sinkRef) connState(id string, state device.ConnState, reason error) {
	if s := r.get(); s != nil {
		s.OnConnState(id, state, reason)
	}
}

// connector runs the dial, discovery and supervision of links for one primitive.
type connector struct {
	sinkRef
	stack  *Stack
	logger *logrus.Logger
	role   string

	mu    sync.Mutex
	links map[string]*link
}

func newConnector(stack *Stack, logger *logrus.Logger, role string) *connector {
	return &connector{stack: stack, logger: logger, role: role, links: make(map[string]*link)}
}

func (c *connector) lookup(id string) (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[id]
	if !ok {
		return nil, device.Errorf(device.CodeNoConnectedDevice, "device %s is not connected", id)
	}
	return l, nil
}

// open starts a connection to id and returns once the dial goroutine is running.
// setup runs after profile discovery; an error from it aborts the connection.
func (c *connector) open(id string, timeout time.Duration, setup func(*link) error) error {
	dev, err := c.stack.device()
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	c.mu.Lock()
	if _, ok := c.links[id]; ok {
		c.mu.Unlock()
		return device.Errorf(device.CodeAlreadyConnected, "device %s already has a link", id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{id: id, ctx: ctx, cancel: cancel}
	c.links[id] = l
	c.mu.Unlock()

	groutine.Go(ctx, "ble-"+c.role+"-link", func(ctx context.Context) {
		c.run(ctx, dev, l, timeout, setup)
	})
	return nil
}

func (c *connector) run(ctx context.Context, dev ble.Device, l *link, timeout time.Duration, setup func(*link) error) {
	log := c.logger.WithFields(logrus.Fields{"device_id": l.id, "role": c.role})
	c.report(l, device.StateConnecting, nil)

	dialCtx, cancelDial := context.WithTimeout(ctx, timeout)
	client, err := dev.Dial(dialCtx, ble.NewAddr(l.id))
	cancelDial()
	if err != nil {
		log.WithError(err).Warn("Failed to dial BLE device")
		c.finish(l, c.dialFailure(ctx, err))
		return
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		log.WithError(err).Warn("Failed to discover profile")
		c.abort(client, log)
		c.finish(l, NormalizeError(err))
		return
	}

	l.mu.Lock()
	l.client = client
	l.profile = profile
	l.mu.Unlock()

	if setup != nil {
		if err := setup(l); err != nil {
			log.WithError(err).Warn("Connection setup failed")
			c.abort(client, log)
			c.finish(l, err)
			return
		}
	}
	if l.closing.Load() {
		c.abort(client, log)
		c.finish(l, nil)
		return
	}

	log.WithField("services", len(profile.Services)).Info("BLE device connected")
	c.report(l, device.StateConnected, nil)

	var disconnected <-chan struct{}
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		disconnected = dc.Disconnected()
	}

	select {
	case <-disconnected:
		if l.closing.Load() {
			c.finish(l, nil)
		} else {
			log.Warn("BLE stack reported disconnection")
			c.finish(l, device.Errorf(device.CodeDeviceDisconnected, "link to %s lost", l.id))
		}
	case <-ctx.Done():
		c.report(l, device.StateDisconnecting, nil)
		c.abort(client, log)
		if disconnected != nil {
			select {
			case <-disconnected:
			case <-time.After(disconnectGrace):
				log.Warn("Disconnect not confirmed by BLE stack")
			}
		}
		c.finish(l, nil)
	}
}

func (c *connector) dialFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		// cancelled by Disconnect
		return nil
	}
	err = NormalizeError(err)
	if device.CodeOf(err) == device.CodeInternal {
		err = device.Wrap(device.CodeConnectFailed, "", err)
	}
	c.stack.observe(err)
	return err
}

func (c *connector) abort(client ble.Client, log *logrus.Entry) {
	if err := client.CancelConnection(); err != nil {
		log.WithError(err).Debug("CancelConnection failed")
	}
}

func (c *connector) finish(l *link, reason error) {
	c.mu.Lock()
	if c.links[l.id] == l {
		delete(c.links, l.id)
	}
	c.mu.Unlock()

	l.cancel()
	l.mu.Lock()
	l.client = nil
	l.profile = nil
	l.mu.Unlock()

	c.report(l, device.StateDisconnected, reason)
}

// report forwards a transition of l unless a newer link for the same device replaced
// it. The caller closed a superseded link and already owns the newer one.
func (c *connector) report(l *link, state device.ConnState, reason error) {
	c.mu.Lock()
	current, ok := c.links[l.id]
	c.mu.Unlock()
	if ok && current != l {
		c.logger.WithFields(logrus.Fields{
			"device_id": l.id,
			"role":      c.role,
			"state":     state.String(),
		}).Debug("Transition of a replaced link dropped")
		return
	}
	c.connState(l.id, state, reason)
}

// close asks the link goroutine to tear the connection down and releases id at once,
// so a new open for the same device does not wait for the teardown. The Disconnected
// transition is reported asynchronously unless a newer link took over by then.
func (c *connector) close(id string) error {
	c.mu.Lock()
	l, ok := c.links[id]
	if ok {
		delete(c.links, id)
	}
	c.mu.Unlock()
	if !ok {
		return device.Errorf(device.CodeNoConnectedDevice, "device %s is not connected", id)
	}
	l.closing.Store(true)
	l.cancel()
	return nil
}
