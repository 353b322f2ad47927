package goble

import (
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/device"
)

// DeviceFactory creates the host ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newHostDevice

// Stack owns the host ble.Device shared by the beacon and provisioning primitives.
// The device is opened lazily on first use.
type Stack struct {
	logger *logrus.Logger

	mu    sync.Mutex
	dev   ble.Device
	state atomic.Int32
}

func NewStack(logger *logrus.Logger) *Stack {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Stack{logger: logger}
	s.state.Store(int32(device.AdapterUnknown))
	return s
}

func (s *Stack) device() (ble.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev != nil {
		return s.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		err = NormalizeError(err)
		s.observe(err)
		s.logger.WithError(err).Error("Failed to open BLE device")
		return nil, err
	}
	s.dev = dev
	s.state.Store(int32(device.AdapterPoweredOn))
	s.logger.Debug("BLE device opened")
	return dev, nil
}

// observe derives the adapter state from a stack error.
func (s *Stack) observe(err error) {
	switch device.CodeOf(err) {
	case device.CodeBluetoothOff:
		s.state.Store(int32(device.AdapterPoweredOff))
	case device.CodePermissionDenied:
		s.state.Store(int32(device.AdapterUnauthorized))
	case device.CodeNotImplemented:
		s.state.Store(int32(device.AdapterUnsupported))
	}
}

// AdapterState reports the last known adapter state, opening the device if needed.
// Hosts with BlueZ should prefer the D-Bus provider, which sees power changes.
func (s *Stack) AdapterState() device.AdapterState {
	_, _ = s.device()
	return device.AdapterState(s.state.Load())
}

// Close releases the host device.
func (s *Stack) Close() error {
	s.mu.Lock()
	dev := s.dev
	s.dev = nil
	s.mu.Unlock()
	if dev == nil {
		return nil
	}
	return NormalizeError(dev.Stop())
}
