package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...any) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		wantDiff bool
	}{
		{
			name:     "extra keys are ignored by default",
			actual:   `{"identifier":"AA","name":"KBeacon","signalStrength":-60}`,
			expected: `{"identifier":"AA","name":"KBeacon"}`,
		},
		{
			name:     "extra keys fail when not ignored",
			opts:     []Option{WithIgnoreExtraKeys(false)},
			actual:   `{"identifier":"AA","name":"KBeacon"}`,
			expected: `{"identifier":"AA"}`,
			wantDiff: true,
		},
		{
			name:     "presence placeholder matches any value",
			actual:   `{"id":"01J9","result":"AA"}`,
			expected: `{"id":"<<PRESENCE>>","result":"AA"}`,
		},
		{
			name:     "presence placeholder needs the key",
			actual:   `{"result":"AA"}`,
			expected: `{"id":"<<PRESENCE>>","result":"AA"}`,
			wantDiff: true,
		},
		{
			name:     "array order matters by default",
			actual:   `["b","a"]`,
			expected: `["a","b"]`,
			wantDiff: true,
		},
		{
			name:     "array order ignored",
			opts:     []Option{WithIgnoreArrayOrder(true)},
			actual:   `["b","a"]`,
			expected: `["a","b"]`,
		},
		{
			name:     "ignored fields at any depth",
			opts:     []Option{WithIgnoredFields("ts")},
			actual:   `{"event":{"ts":1,"type":"discovery"}}`,
			expected: `{"event":{"ts":2,"type":"discovery"}}`,
		},
		{
			name:     "value mismatch",
			actual:   `{"code":"CONNECT_TIMEOUT"}`,
			expected: `{"code":"CONNECT_FAILED"}`,
			wantDiff: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t).WithOptions(tt.opts...).diff(tt.actual, tt.expected)
			if tt.wantDiff {
				assert.NotEmpty(t, diff, "documents MUST differ")
			} else {
				assert.Empty(t, diff, "documents MUST match")
			}
		})
	}
}

func TestTextAsserter(t *testing.T) {
	rec := &recordingT{}
	ta := NewTextAsserter(rec)

	ta.Assert("ID   NAME\nAA   KBeacon  \n", "ID   NAME\nAA   KBeacon")
	assert.Empty(t, rec.failures, "trailing whitespace MUST be ignored by default")

	ta.Assert("ID   NAME\nAA   Other", "ID   NAME\nAA   KBeacon")
	if assert.Len(t, rec.failures, 1) {
		assert.Contains(t, rec.failures[0], "-AA   KBeacon")
		assert.Contains(t, rec.failures[0], "+AA   Other")
	}
}

func TestAdvertisementBuilder_FromJSON(t *testing.T) {
	adv := NewAdvertisementBuilder().FromJSON(`{
		"address": "%s",
		"name": "KBeacon-01",
		"rssi": -61,
		"services": ["021a9004-0382-4aea-bff4-6b3f1c5adfb4"],
		"manufacturerData": "TFkB",
		"connectable": false
	}`, "AA:BB:CC:DD:EE:FF").Build()

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", adv.Addr())
	assert.Equal(t, "KBeacon-01", adv.LocalName())
	assert.Equal(t, -61, adv.RSSI())
	assert.Equal(t, []string{"021a9004-0382-4aea-bff4-6b3f1c5adfb4"}, adv.Services())
	assert.Equal(t, []byte{0x4c, 0x59, 0x01}, adv.ManufacturerData())
	assert.False(t, adv.Connectable())
}
