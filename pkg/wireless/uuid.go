package wireless

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// 0000xxxx-0000-1000-8000-00805f9b34fb.
const sigBaseSuffix = "-0000-1000-8000-00805f9b34fb"

// NormalizeUUID returns the canonical form used as a lookup key: 16-bit UUIDs
// (and 128-bit UUIDs on the SIG base) as four lowercase hex digits, other
// UUIDs in lowercase dashed form. It returns "" for malformed input.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")

	if len(s) == 4 {
		if _, err := strconv.ParseUint(s, 16, 16); err != nil {
			return ""
		}
		return s
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return ""
	}
	canonical := u.String()
	if strings.HasPrefix(canonical, "0000") && strings.HasSuffix(canonical, sigBaseSuffix) {
		return canonical[4:8]
	}
	return canonical
}

// ValidateUUID normalizes uuids, failing on the first malformed one.
func ValidateUUID(uuids ...string) ([]string, error) {
	result := make([]string, 0, len(uuids))
	for i, raw := range uuids {
		if raw == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(raw)
		if normalized == "" {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, raw)
		}
		result = append(result, normalized)
	}
	return result, nil
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
func ShortenUUID(u string) string {
	if len(u) > 8 {
		return u[:8]
	}
	return u
}

// NormalizeUUIDs normalizes every UUID, dropping malformed ones.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		if n := NormalizeUUID(u); n != "" {
			out = append(out, n)
		}
	}
	return out
}
