package device

import (
	"context"
	"fmt"
	"time"
)

// ConnState is the lifecycle state of a single logical connection.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateDisconnected
)

var connStateNames = [...]string{
	StateIdle:          "idle",
	StateConnecting:    "connecting",
	StateConnected:     "connected",
	StateDisconnecting: "disconnecting",
	StateDisconnected:  "disconnected",
}

func (s ConnState) String() string {
	if s < 0 || int(s) >= len(connStateNames) {
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
	return connStateNames[s]
}

// Active reports whether the state holds the radio (anything between issuing a
// connect and the confirmed disconnect).
func (s ConnState) Active() bool {
	return s == StateConnecting || s == StateConnected || s == StateDisconnecting
}

// AdapterState is the host Bluetooth radio power/authorization status.
// Values follow the CoreBluetooth central manager numbering used by the beacon SDK.
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterResetting
	AdapterUnsupported
	AdapterUnauthorized
	AdapterPoweredOff
	AdapterPoweredOn
)

var adapterStateNames = [...]string{
	AdapterUnknown:      "unknown",
	AdapterResetting:    "resetting",
	AdapterUnsupported:  "unsupported",
	AdapterUnauthorized: "unauthorized",
	AdapterPoweredOff:   "powered_off",
	AdapterPoweredOn:    "powered_on",
}

func (s AdapterState) String() string {
	if s < 0 || int(s) >= len(adapterStateNames) {
		return fmt.Sprintf("AdapterState(%d)", int(s))
	}
	return adapterStateNames[s]
}

// Err returns the caller-visible error for a non-ready adapter, nil when powered on.
func (s AdapterState) Err() error {
	switch s {
	case AdapterPoweredOn:
		return nil
	case AdapterUnauthorized:
		return fmt.Errorf("%w: bluetooth unauthorized", ErrPermissionDenied)
	default:
		return &Error{Code: CodeBluetoothOff, Msg: "bluetooth is " + s.String()}
	}
}

// ServiceData is a single service data entry of an advertisement.
type ServiceData struct {
	UUID string
	Data []byte
}

// Advertisement is the SDK-independent view of a discovery callback.
type Advertisement interface {
	Addr() string
	LocalName() string
	RSSI() int
	Services() []string
	ServiceData() []ServiceData
	ManufacturerData() []byte
	Connectable() bool
}

// Sink receives asynchronous SDK callbacks. Implementations must be safe for use from
// any goroutine and must not block the caller for long.
type Sink interface {
	OnAdapterState(state AdapterState)
	OnAdvertisement(adv Advertisement)
	// OnConnState reports a connection transition. reason is non-nil when the SDK
	// attached a failure cause (e.g. a Disconnected after a failed dial).
	OnConnState(id string, state ConnState, reason error)
	OnNotify(id string, code int, payload []byte)
}

// AdapterStateProvider reports the current adapter state.
type AdapterStateProvider interface {
	AdapterState() AdapterState
}

// BeaconSDK is the scan/connect primitive of the beacon management library.
// Connect and Disconnect only initiate; outcomes arrive as Sink.OnConnState.
type BeaconSDK interface {
	Attach(sink Sink)
	StartScan() error
	StopScan() error
	Connect(id, secret string, timeout time.Duration) error
	Disconnect(id string) error
	// ModifyName writes a new advertised name to a connected beacon. done is called
	// exactly once, from any goroutine.
	ModifyName(id, name string, done func(error))
}

// ProvisioningSDK is the device-provisioning primitive. Connection transitions are
// reported through Sink.OnConnState like the beacon SDK.
type ProvisioningSDK interface {
	Attach(sink Sink)
	Connect(id, serviceUUID string) error
	Disconnect(id string) error
	Authenticate(id, proof string, done func(error))
	ScanNetworks(id string, done func([]string, error))
	ApplyCredentials(id, ssid, passphrase string, done func(error))
}

// PermissionChecker reports whether the host granted the Bluetooth permissions.
type PermissionChecker interface {
	Granted(ctx context.Context) bool
}

// PermissionFunc adapts a plain function to PermissionChecker.
type PermissionFunc func(ctx context.Context) bool

func (f PermissionFunc) Granted(ctx context.Context) bool { return f(ctx) }

// AlwaysGranted is used on platforms without a runtime permission model.
var AlwaysGranted PermissionChecker = PermissionFunc(func(context.Context) bool { return true })
