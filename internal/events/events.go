// Package events defines the typed events of the continuous subscriber stream and the
// bus that fans them out.
package events

import (
	"github.com/srg/kbridge/internal/device"
)

// Kind is the variant tag of an Event.
type Kind string

const (
	KindAdapterState    Kind = "adapterState"
	KindDiscovery       Kind = "discovery"
	KindConnectionState Kind = "connectionState"
	KindNotification    Kind = "notification"
)

// Event is one of AdapterState, Discovery, ConnectionState or Notification.
type Event interface {
	Kind() Kind
}

// AdapterState reports a change of the host Bluetooth radio.
type AdapterState struct {
	State device.AdapterState `json:"-"`
}

func (AdapterState) Kind() Kind { return KindAdapterState }

// Discovery reports a newly registered peripheral.
type Discovery struct {
	ID   string `json:"identifier"`
	Name string `json:"name"`
	RSSI int    `json:"signalStrength"`

	generation uint64
}

func (Discovery) Kind() Kind { return KindDiscovery }

// NewDiscovery builds a discovery event tagged with the scan generation it belongs to.
func NewDiscovery(id, name string, rssi int, generation uint64) Discovery {
	return Discovery{ID: id, Name: name, RSSI: rssi, generation: generation}
}

// Generation identifies the scan session that produced the event.
func (d Discovery) Generation() uint64 { return d.generation }

// ConnectionState mirrors a connection transition.
type ConnectionState struct {
	ID     string           `json:"identifier"`
	State  device.ConnState `json:"-"`
	Reason error            `json:"-"`
}

func (ConnectionState) Kind() Kind { return KindConnectionState }

// Notification carries data pushed by a connected device.
type Notification struct {
	ID      string `json:"identifier"`
	Code    int    `json:"eventCode"`
	Payload []byte `json:"-"`
}

func (Notification) Kind() Kind { return KindNotification }
