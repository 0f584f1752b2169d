package device

import (
	"fmt"
	"strings"
)

// 128-bit UUIDs built on the Bluetooth base UUID carry a 16-bit short form at [4:8].
const (
	baseUUIDHead = "0000"
	baseUUIDTail = "00001000800000805f9b34fb"
)

// NormalizeUUID returns uuid as lowercase hex without dashes or a 0x prefix.
// A 128-bit UUID built on the Bluetooth base UUID is shortened to its 16-bit
// form, so "0000FFE0-0000-1000-8000-00805F9B34FB" and "FFE0" both give "ffe0".
// Anything that is not 4, 8 or 32 hex digits gives "".
func NormalizeUUID(uuid string) string {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(uuid)), "0x")
	s = strings.ReplaceAll(s, "-", "")

	if !isHex(s) {
		return ""
	}
	switch len(s) {
	case 4, 8:
		return s
	case 32:
		if strings.HasPrefix(s, baseUUIDHead) && strings.HasSuffix(s, baseUUIDTail) {
			return s[4:8]
		}
		return s
	}
	return ""
}

// SameUUID reports whether a and b name the same UUID in any accepted notation.
// Malformed UUIDs never match.
func SameUUID(a, b string) bool {
	na := NormalizeUUID(a)
	return na != "" && na == NormalizeUUID(b)
}

// ValidateUUID normalizes uuid, failing when it is empty or malformed.
func ValidateUUID(uuid string) (string, error) {
	if strings.TrimSpace(uuid) == "" {
		return "", fmt.Errorf("UUID cannot be empty")
	}
	n := NormalizeUUID(uuid)
	if n == "" {
		return "", fmt.Errorf("malformed UUID %q: want 4, 8 or 32 hex digits", uuid)
	}
	return n, nil
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
