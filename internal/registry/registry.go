// Package registry tracks discovered peripherals by identifier.
//
// The registry is not safe for concurrent use; the session layer only touches it from
// its dispatch loop.
package registry

import (
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/kbridge/internal/device"
)

// Peripheral is the record of a discovered remote device.
type Peripheral struct {
	ID          string    `json:"identifier"`
	Name        string    `json:"name"`
	RSSI        int       `json:"signalStrength"`
	Payload     []byte    `json:"payload,omitempty"`
	ServiceUUID string    `json:"serviceUuid,omitempty"`
	LastSeen    time.Time `json:"lastSeen"`
}

// FromAdvertisement builds a record from a discovery callback. The first advertised
// service UUID becomes the record's service UUID; the payload is the manufacturer data.
func FromAdvertisement(adv device.Advertisement, now time.Time) Peripheral {
	p := Peripheral{
		ID:       adv.Addr(),
		Name:     adv.LocalName(),
		RSSI:     adv.RSSI(),
		LastSeen: now,
	}
	if data := adv.ManufacturerData(); len(data) > 0 {
		p.Payload = append([]byte(nil), data...)
	}
	if services := adv.Services(); len(services) > 0 {
		p.ServiceUUID = services[0]
	}
	return p
}

// Registry is an insertion-ordered table of peripherals keyed by identifier.
type Registry struct {
	items *orderedmap.OrderedMap[string, *Peripheral]
}

func New() *Registry {
	return &Registry{items: orderedmap.New[string, *Peripheral]()}
}

// Upsert inserts p if its identifier is unseen. For a known identifier only the signal
// strength (and last-seen time) is refreshed. Returns true for a new insertion.
func (r *Registry) Upsert(p Peripheral) bool {
	if existing, ok := r.items.Get(p.ID); ok {
		existing.RSSI = p.RSSI
		if !p.LastSeen.IsZero() {
			existing.LastSeen = p.LastSeen
		}
		return false
	}
	stored := p
	r.items.Set(p.ID, &stored)
	return true
}

// Lookup returns the record for id. Identifiers are matched exactly first and then
// case-insensitively, since hosts disagree on the case of addresses and UUIDs.
func (r *Registry) Lookup(id string) (Peripheral, error) {
	if p, ok := r.items.Get(id); ok {
		return *p, nil
	}
	for pair := r.items.Oldest(); pair != nil; pair = pair.Next() {
		if strings.EqualFold(pair.Key, id) {
			return *pair.Value, nil
		}
	}
	return Peripheral{}, device.Errorf(device.CodeDeviceNotFound, "could not find device with id %q", id)
}

// Clear removes all records.
func (r *Registry) Clear() {
	r.items = orderedmap.New[string, *Peripheral]()
}

// Len returns the number of tracked peripherals.
func (r *Registry) Len() int {
	return r.items.Len()
}

// List returns a snapshot of all records in discovery order.
func (r *Registry) List() []Peripheral {
	out := make([]Peripheral, 0, r.items.Len())
	for pair := r.items.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, *pair.Value)
	}
	return out
}
