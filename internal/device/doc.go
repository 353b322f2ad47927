// Package device defines the domain vocabulary shared by the bridge: connection and
// adapter states, the advertisement view of a peripheral, the error taxonomy surfaced
// to callers, and the interfaces of the external SDK collaborators.
//
// Implementations of the collaborators live in sub-packages:
//   - go-ble: scan/connect and GATT provisioning primitives on top of go-ble/ble
//   - bluez:  adapter power state from BlueZ over the system D-Bus
//
// SDK implementations deliver their asynchronous callbacks through a Sink. A Sink may be
// called from any goroutine; the session layer serializes the calls onto its single
// dispatch loop.
package device
