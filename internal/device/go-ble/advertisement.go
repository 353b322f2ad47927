package goble

import (
	"github.com/go-ble/ble"

	"github.com/srg/kbridge/internal/device"
)

// Advertisement adapts ble.Advertisement to device.Advertisement.
type Advertisement struct {
	adv ble.Advertisement
}

func NewAdvertisement(adv ble.Advertisement) device.Advertisement {
	return &Advertisement{adv: adv}
}

func (a *Advertisement) Addr() string             { return a.adv.Addr().String() }
func (a *Advertisement) LocalName() string        { return a.adv.LocalName() }
func (a *Advertisement) RSSI() int                { return a.adv.RSSI() }
func (a *Advertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }
func (a *Advertisement) Connectable() bool        { return a.adv.Connectable() }

func (a *Advertisement) Services() []string {
	svcs := a.adv.Services()
	out := make([]string, len(svcs))
	for i, u := range svcs {
		out[i] = u.String()
	}
	return out
}

func (a *Advertisement) ServiceData() []device.ServiceData {
	sd := a.adv.ServiceData()
	out := make([]device.ServiceData, len(sd))
	for i, d := range sd {
		out[i] = device.ServiceData{UUID: d.UUID.String(), Data: d.Data}
	}
	return out
}
