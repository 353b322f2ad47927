package device

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// CompanyApple is the Bluetooth SIG company identifier carried by iBeacon frames.
const CompanyApple uint16 = 0x004C

// ManufacturerDataParser decodes company-specific manufacturer data. The input
// includes the two company id bytes.
type ManufacturerDataParser func([]byte) (VendorInfo, error)

// VendorInfo is implemented by decoded manufacturer data.
type VendorInfo interface {
	VendorID() uint16
	VendorName() string
}

var manufacturerDataParsers = map[uint16]ManufacturerDataParser{
	CompanyApple: parseIBeacon,
}

// ParseManufacturerData decodes raw manufacturer data using the company id in its
// first two bytes (little-endian). It returns (nil, nil) for companies without a parser
// and for frames the parser does not recognize.
func ParseManufacturerData(raw []byte) (VendorInfo, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("manufacturer data too short: %d bytes", len(raw))
	}
	parser, ok := manufacturerDataParsers[binary.LittleEndian.Uint16(raw[0:2])]
	if !ok {
		return nil, nil
	}
	return parser(raw)
}

// IBeacon is a decoded iBeacon advertisement.
//
// Format (25 bytes):
//   - Bytes 0-1:   Company ID (0x004C)
//   - Byte 2:      Type (0x02)
//   - Byte 3:      Length (0x15)
//   - Bytes 4-19:  Proximity UUID
//   - Bytes 20-21: Major (big-endian)
//   - Bytes 22-23: Minor (big-endian)
//   - Byte 24:     Measured power at 1m (signed dBm)
type IBeacon struct {
	ProximityUUID uuid.UUID
	Major         uint16
	Minor         uint16
	MeasuredPower int8
}

func (b *IBeacon) VendorID() uint16   { return CompanyApple }
func (b *IBeacon) VendorName() string { return "iBeacon" }

func (b *IBeacon) String() string {
	return fmt.Sprintf("%s major=%d minor=%d", b.ProximityUUID, b.Major, b.Minor)
}

func parseIBeacon(data []byte) (VendorInfo, error) {
	if len(data) < 4 || data[2] != 0x02 || data[3] != 0x15 {
		return nil, nil
	}
	if len(data) < 25 {
		return nil, fmt.Errorf("ibeacon frame too short: %d bytes, expected 25", len(data))
	}
	id, err := uuid.FromBytes(data[4:20])
	if err != nil {
		return nil, err
	}
	return &IBeacon{
		ProximityUUID: id,
		Major:         binary.BigEndian.Uint16(data[20:22]),
		Minor:         binary.BigEndian.Uint16(data[22:24]),
		MeasuredPower: int8(data[24]),
	}, nil
}
