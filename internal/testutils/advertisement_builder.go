package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/srg/kbridge/internal/device"
)

// Advertisement is a static device.Advertisement.
type Advertisement struct {
	Address       string
	Name          string
	SignalRSSI    int
	ServiceUUIDs  []string
	Manufacturer  []byte
	Data          []device.ServiceData
	IsConnectable bool
}

func (a *Advertisement) Addr() string                      { return a.Address }
func (a *Advertisement) LocalName() string                 { return a.Name }
func (a *Advertisement) RSSI() int                         { return a.SignalRSSI }
func (a *Advertisement) Services() []string                { return a.ServiceUUIDs }
func (a *Advertisement) ServiceData() []device.ServiceData { return a.Data }
func (a *Advertisement) ManufacturerData() []byte          { return a.Manufacturer }
func (a *Advertisement) Connectable() bool                 { return a.IsConnectable }

// AdvertisementBuilder builds advertisements for tests with a fluent API.
type AdvertisementBuilder struct {
	adv         Advertisement
	serviceData map[string][]byte
}

// NewAdvertisementBuilder starts a connectable advertisement with RSSI -50.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		adv:         Advertisement{SignalRSSI: -50, IsConnectable: true},
		serviceData: make(map[string][]byte),
	}
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.SignalRSSI = rssi
	return b
}

// WithServices appends advertised service UUIDs.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.ServiceUUIDs = append(b.adv.ServiceUUIDs, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.adv.Manufacturer = data
	return b
}

func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	b.serviceData[uuid] = data
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.IsConnectable = c
	return b
}

// FromJSON fills the builder from a JSON object, with fmt-style formatting applied
// first. Panics on invalid JSON since it only sets up test data.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...any) *AdvertisementBuilder {
	var data struct {
		Name             *string           `json:"name"`
		Address          *string           `json:"address"`
		RSSI             *int              `json:"rssi"`
		Services         []string          `json:"services"`
		ManufacturerData []byte            `json:"manufacturerData"`
		ServiceData      map[string][]byte `json:"serviceData"`
		Connectable      *bool             `json:"connectable"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}

	if data.Name != nil {
		b.WithName(*data.Name)
	}
	if data.Address != nil {
		b.WithAddress(*data.Address)
	}
	if data.RSSI != nil {
		b.WithRSSI(*data.RSSI)
	}
	if data.Connectable != nil {
		b.WithConnectable(*data.Connectable)
	}
	b.WithServices(data.Services...)
	if data.ManufacturerData != nil {
		b.WithManufacturerData(data.ManufacturerData)
	}
	for uuid, d := range data.ServiceData {
		b.WithServiceData(uuid, d)
	}
	return b
}

// Build returns the advertisement. Service data is ordered by UUID.
func (b *AdvertisementBuilder) Build() *Advertisement {
	adv := b.adv
	adv.ServiceUUIDs = append([]string(nil), b.adv.ServiceUUIDs...)

	uuids := make([]string, 0, len(b.serviceData))
	for uuid := range b.serviceData {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)
	for _, uuid := range uuids {
		adv.Data = append(adv.Data, device.ServiceData{UUID: uuid, Data: b.serviceData[uuid]})
	}
	return &adv
}
