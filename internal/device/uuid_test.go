package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit short form", input: "180d", expected: "180d"},
		{name: "16-bit with 0x prefix", input: "0x2A00", expected: "2a00"},
		{name: "SIG base with dashes", input: "0000180d-0000-1000-8000-00805f9b34fb", expected: "180d"},
		{name: "SIG base without dashes", input: "0000180D00001000800000805F9B34FB", expected: "180d"},
		{name: "custom 128-bit", input: "021A9004-0382-4AEA-BFF4-6B3F1C5ADFB4", expected: "021a900403824aeabff46b3f1c5adfb4"},
		{name: "braces", input: "{0000180d-0000-1000-8000-00805f9b34fb}", expected: "180d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestValidateUUID(t *testing.T) {
	got, err := ValidateUUID("021a9004-0382-4aea-bff4-6b3f1c5adfb4")
	require.NoError(t, err)
	assert.Equal(t, "021a900403824aeabff46b3f1c5adfb4", got)

	got, err = ValidateUUID("2A00")
	require.NoError(t, err)
	assert.Equal(t, "2a00", got)

	for _, bad := range []string{"", "xyz", "12345", "021a9004-0382-4aea-bff4-6b3f1c5adfbz"} {
		_, err := ValidateUUID(bad)
		assert.ErrorIs(t, err, ErrInvalidArguments, "%q MUST be rejected", bad)
	}

	assert.Equal(t, "021a9004", ShortenUUID("021a900403824aeabff46b3f1c5adfb4"))
	assert.Equal(t, "2a00", ShortenUUID("2a00"))
}

func TestParseManufacturerData(t *testing.T) {
	ibeacon := []byte{
		0x4c, 0x00, 0x02, 0x15,
		0xe2, 0xc5, 0x6d, 0xb5, 0xdf, 0xfb, 0x48, 0xd2, 0xb0, 0x60, 0xd0, 0xf5, 0xa7, 0x10, 0x96, 0xe0,
		0x00, 0x0a, 0x00, 0x07, 0xc5,
	}

	info, err := ParseManufacturerData(ibeacon)
	require.NoError(t, err)
	b, ok := info.(*IBeacon)
	require.True(t, ok, "apple frames MUST decode as iBeacon")
	assert.Equal(t, "e2c56db5-dffb-48d2-b060-d0f5a71096e0", b.ProximityUUID.String())
	assert.Equal(t, uint16(10), b.Major)
	assert.Equal(t, uint16(7), b.Minor)
	assert.Equal(t, int8(-59), b.MeasuredPower)
	assert.Equal(t, "iBeacon", b.VendorName())

	info, err = ParseManufacturerData([]byte{0x4c, 0x00, 0x10, 0x05, 0x01})
	assert.NoError(t, err)
	assert.Nil(t, info, "other apple frames MUST be ignored")

	info, err = ParseManufacturerData([]byte{0x59, 0x00, 0x01})
	assert.NoError(t, err)
	assert.Nil(t, info, "unknown companies MUST be ignored")

	_, err = ParseManufacturerData(ibeacon[:10])
	assert.Error(t, err)

	_, err = ParseManufacturerData([]byte{0x4c})
	assert.Error(t, err)
}
