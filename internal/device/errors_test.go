package device_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/kbridge/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestError_IsComparesCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   error
		expected bool
	}{
		{
			name:     "bare sentinel matches itself",
			err:      device.ErrDeviceNotFound,
			target:   device.ErrDeviceNotFound,
			expected: true,
		},
		{
			name:     "annotated error matches sentinel",
			err:      device.Errorf(device.CodeDeviceNotFound, "device %q", "AA:BB"),
			target:   device.ErrDeviceNotFound,
			expected: true,
		},
		{
			name:     "fmt-wrapped error matches sentinel",
			err:      fmt.Errorf("connect: %w", device.ErrRequestConflict),
			target:   device.ErrRequestConflict,
			expected: true,
		},
		{
			name:     "different codes do not match",
			err:      device.ErrConnectFailed,
			target:   device.ErrConnectTimeout,
			expected: false,
		},
		{
			name:     "foreign error does not match",
			err:      errors.New("boom"),
			target:   device.ErrConnectFailed,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, errors.Is(tt.err, tt.target))
		})
	}
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("gatt write rejected")
	err := device.Wrap(device.CodeProvisionFailed, "apply credentials", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, device.ErrProvisionFailed)
	assert.Equal(t, "provision failed: apply credentials: gatt write rejected", err.Error())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, device.CodeBluetoothOff, device.CodeOf(fmt.Errorf("scan: %w", device.ErrBluetoothOff)))
	assert.Equal(t, device.CodeInternal, device.CodeOf(errors.New("plain")))
	assert.Equal(t, device.CodeInternal, device.CodeOf(nil))
}

func TestAdapterState_Err(t *testing.T) {
	assert.NoError(t, device.AdapterPoweredOn.Err())
	assert.ErrorIs(t, device.AdapterPoweredOff.Err(), device.ErrBluetoothOff)
	assert.ErrorIs(t, device.AdapterResetting.Err(), device.ErrBluetoothOff)
	assert.ErrorIs(t, device.AdapterUnauthorized.Err(), device.ErrPermissionDenied)
	assert.Equal(t, "powered_off", device.AdapterPoweredOff.String())
	assert.Equal(t, "AdapterState(42)", device.AdapterState(42).String())
}

func TestConnState(t *testing.T) {
	assert.Equal(t, "connecting", device.StateConnecting.String())
	assert.True(t, device.StateConnected.Active())
	assert.True(t, device.StateDisconnecting.Active())
	assert.False(t, device.StateDisconnected.Active())
	assert.False(t, device.StateIdle.Active())
}
