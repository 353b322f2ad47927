package device

import (
	"strings"

	"github.com/google/uuid"
)

const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal form: lowercase, no dashes,
// braces or 0x prefix. Full UUIDs on the Bluetooth SIG base collapse to their 16-bit
// form.
func NormalizeUUID(u string) string {
	s := strings.ToLower(strings.TrimSpace(u))
	s = strings.TrimPrefix(strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}"), "0x")
	s = strings.ReplaceAll(s, "-", "")
	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// ShortenUUID returns the first eight characters of a long UUID for display.
func ShortenUUID(u string) string {
	if len(u) > 8 {
		return u[:8]
	}
	return u
}

// ValidateUUID checks that u is a 16-bit, 32-bit or 128-bit UUID and returns it in
// normalized form.
func ValidateUUID(u string) (string, error) {
	n := NormalizeUUID(u)
	switch len(n) {
	case 4, 8:
		if strings.Trim(n, "0123456789abcdef") == "" {
			return n, nil
		}
	case 32:
		if _, err := uuid.Parse(n); err == nil {
			return n, nil
		}
	}
	return "", Errorf(CodeInvalidArguments, "invalid UUID %q", u)
}
