package wireless

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
		{name: "16-bit lowercase", input: "2a56", expected: "2a56"},
		{name: "16-bit uppercase", input: "2A56", expected: "2a56"},
		{name: "16-bit with 0x prefix", input: "0x1815", expected: "1815"},
		{name: "16-bit with 0X prefix", input: "0X1815", expected: "1815"},
		{name: "SIG base UUID", input: "00001815-0000-1000-8000-00805f9b34fb", expected: "1815"},
		{name: "SIG base UUID uppercase", input: "00002A56-0000-1000-8000-00805F9B34FB", expected: "2a56"},
		{name: "SIG base UUID without dashes", input: "0000181500001000800000805f9b34fb", expected: "1815"},
		{name: "custom UUID", input: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", expected: "6e400001-b5a3-f393-e0a9-e50e24dcca9e"},
		{name: "custom UUID on SIG suffix", input: "AA001815-0000-1000-8000-00805f9b34fb", expected: "aa001815-0000-1000-8000-00805f9b34fb"},
		{name: "surrounding spaces", input: "  1815 ", expected: "1815"},
		{name: "empty", input: "", expected: ""},
		{name: "non-hex 16-bit", input: "zz12", expected: ""},
		{name: "garbage", input: "not-a-uuid", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestValidateUUID(t *testing.T) {
	got, err := ValidateUUID("1815", "0x2A56")
	require.NoError(t, err)
	assert.Equal(t, []string{"1815", "2a56"}, got)

	_, err = ValidateUUID("1815", "")
	assert.ErrorContains(t, err, "index 1")

	_, err = ValidateUUID("xyz")
	assert.ErrorContains(t, err, "invalid UUID format")
}

func TestNormalizeUUIDsDropsMalformed(t *testing.T) {
	assert.Equal(t, []string{"1815", "2a56"}, NormalizeUUIDs([]string{"1815", "bogus", "2A56"}))
	assert.Empty(t, NormalizeUUIDs(nil))
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "1815", ShortenUUID("1815"))
	assert.Equal(t, "6e400001", ShortenUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e"))
}
