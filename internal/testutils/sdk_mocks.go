package testutils

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/srg/kbridge/internal/device"
)

// sinkHolder keeps the sink attached by the code under test so tests can drive
// SDK callbacks.
type sinkHolder struct {
	mu   sync.Mutex
	sink device.Sink
}

func (h *sinkHolder) set(s device.Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = s
}

// Sink returns the attached sink, or nil.
func (h *sinkHolder) Sink() device.Sink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sink
}

// EmitConnState delivers a connection transition as the SDK would.
func (h *sinkHolder) EmitConnState(id string, state device.ConnState, reason error) {
	h.Sink().OnConnState(id, state, reason)
}

// EmitAdvertisement delivers a discovery callback.
func (h *sinkHolder) EmitAdvertisement(adv device.Advertisement) {
	h.Sink().OnAdvertisement(adv)
}

// EmitAdapterState delivers an adapter state change.
func (h *sinkHolder) EmitAdapterState(state device.AdapterState) {
	h.Sink().OnAdapterState(state)
}

// EmitNotify delivers a device notification.
func (h *sinkHolder) EmitNotify(id string, code int, payload []byte) {
	h.Sink().OnNotify(id, code, payload)
}

// MockBeaconSDK is a testify mock of device.BeaconSDK. ModifyName completions are kept
// so a test decides when and how the device answers.
type MockBeaconSDK struct {
	mock.Mock
	sinkHolder

	mu      sync.Mutex
	renames []func(error)
}

// NewMockBeaconSDK returns a mock where every primitive succeeds unless a test overrides
// the expectation before the call.
func NewMockBeaconSDK() *MockBeaconSDK {
	m := &MockBeaconSDK{}
	m.On("StartScan").Return(nil).Maybe()
	m.On("StopScan").Return(nil).Maybe()
	m.On("Connect", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Disconnect", mock.Anything).Return(nil).Maybe()
	m.On("ModifyName", mock.Anything, mock.Anything).Return().Maybe()
	return m
}

func (m *MockBeaconSDK) Attach(sink device.Sink) { m.set(sink) }

func (m *MockBeaconSDK) StartScan() error {
	return m.Called().Error(0)
}

func (m *MockBeaconSDK) StopScan() error {
	return m.Called().Error(0)
}

func (m *MockBeaconSDK) Connect(id, secret string, timeout time.Duration) error {
	return m.Called(id, secret, timeout).Error(0)
}

func (m *MockBeaconSDK) Disconnect(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockBeaconSDK) ModifyName(id, name string, done func(error)) {
	m.Called(id, name)
	m.mu.Lock()
	m.renames = append(m.renames, done)
	m.mu.Unlock()
}

// CompleteRename answers the oldest outstanding ModifyName. It reports false when
// nothing is outstanding.
func (m *MockBeaconSDK) CompleteRename(err error) bool {
	m.mu.Lock()
	if len(m.renames) == 0 {
		m.mu.Unlock()
		return false
	}
	done := m.renames[0]
	m.renames = m.renames[1:]
	m.mu.Unlock()
	done(err)
	return true
}

// PendingRenames returns the number of unanswered ModifyName calls.
func (m *MockBeaconSDK) PendingRenames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.renames)
}

// Override drops the default expectation for method so a test-specific one applies.
func (m *MockBeaconSDK) Override(method string) *MockBeaconSDK {
	m.ExpectedCalls = dropExpectations(m.ExpectedCalls, method)
	return m
}

// MockProvisioningSDK is a testify mock of device.ProvisioningSDK. Completion callbacks
// of Authenticate, ScanNetworks and ApplyCredentials are kept until a test answers them.
type MockProvisioningSDK struct {
	mock.Mock
	sinkHolder

	mu      sync.Mutex
	auth    []func(error)
	scans   []func([]string, error)
	applies []func(error)
}

// NewMockProvisioningSDK returns a mock where every primitive is accepted.
func NewMockProvisioningSDK() *MockProvisioningSDK {
	m := &MockProvisioningSDK{}
	m.On("Connect", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Disconnect", mock.Anything).Return(nil).Maybe()
	m.On("Authenticate", mock.Anything, mock.Anything).Return().Maybe()
	m.On("ScanNetworks", mock.Anything).Return().Maybe()
	m.On("ApplyCredentials", mock.Anything, mock.Anything, mock.Anything).Return().Maybe()
	return m
}

func (m *MockProvisioningSDK) Attach(sink device.Sink) { m.set(sink) }

func (m *MockProvisioningSDK) Connect(id, serviceUUID string) error {
	return m.Called(id, serviceUUID).Error(0)
}

func (m *MockProvisioningSDK) Disconnect(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockProvisioningSDK) Authenticate(id, proof string, done func(error)) {
	m.Called(id, proof)
	m.mu.Lock()
	m.auth = append(m.auth, done)
	m.mu.Unlock()
}

func (m *MockProvisioningSDK) ScanNetworks(id string, done func([]string, error)) {
	m.Called(id)
	m.mu.Lock()
	m.scans = append(m.scans, done)
	m.mu.Unlock()
}

func (m *MockProvisioningSDK) ApplyCredentials(id, ssid, passphrase string, done func(error)) {
	m.Called(id, ssid, passphrase)
	m.mu.Lock()
	m.applies = append(m.applies, done)
	m.mu.Unlock()
}

// CompleteAuth answers the oldest outstanding Authenticate.
func (m *MockProvisioningSDK) CompleteAuth(err error) bool {
	done := popFront(&m.mu, &m.auth)
	if done == nil {
		return false
	}
	done(err)
	return true
}

// CompleteScan answers the oldest outstanding ScanNetworks.
func (m *MockProvisioningSDK) CompleteScan(networks []string, err error) bool {
	done := popFront(&m.mu, &m.scans)
	if done == nil {
		return false
	}
	done(networks, err)
	return true
}

// CompleteApply answers the oldest outstanding ApplyCredentials.
func (m *MockProvisioningSDK) CompleteApply(err error) bool {
	done := popFront(&m.mu, &m.applies)
	if done == nil {
		return false
	}
	done(err)
	return true
}

// Outstanding reports how many Authenticate, ScanNetworks and ApplyCredentials calls
// await an answer.
func (m *MockProvisioningSDK) Outstanding() (auth, scans, applies int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.auth), len(m.scans), len(m.applies)
}

// Override drops the default expectation for method so a test-specific one applies.
func (m *MockProvisioningSDK) Override(method string) *MockProvisioningSDK {
	m.ExpectedCalls = dropExpectations(m.ExpectedCalls, method)
	return m
}

func popFront[T any](mu *sync.Mutex, q *[]T) T {
	mu.Lock()
	defer mu.Unlock()
	var zero T
	if len(*q) == 0 {
		return zero
	}
	v := (*q)[0]
	*q = (*q)[1:]
	return v
}

func dropExpectations(calls []*mock.Call, method string) []*mock.Call {
	kept := calls[:0]
	for _, c := range calls {
		if c.Method != method {
			kept = append(kept, c)
		}
	}
	return kept
}

// FakeAdapter is a device.AdapterStateProvider with a settable state.
type FakeAdapter struct {
	state atomic.Int32
}

// NewFakeAdapter returns an adapter that is powered on.
func NewFakeAdapter() *FakeAdapter {
	a := &FakeAdapter{}
	a.Set(device.AdapterPoweredOn)
	return a
}

func (a *FakeAdapter) AdapterState() device.AdapterState {
	return device.AdapterState(a.state.Load())
}

func (a *FakeAdapter) Set(state device.AdapterState) {
	a.state.Store(int32(state))
}
