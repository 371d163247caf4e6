package wireless

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		input  error
		target error
	}{
		{name: "device not connected", input: errors.New("Device Not Connected"), target: ErrNotConnected},
		{name: "disconnected", input: errors.New("peer disconnected"), target: ErrNotConnected},
		{name: "already connected", input: errors.New("already connected to peer"), target: ErrAlreadyConnected},
		{name: "timeout", input: errors.New("operation timeout"), target: ErrTimeout},
		{name: "timed out", input: errors.New("connect timed out"), target: ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeError(tt.input)
			assert.ErrorIs(t, err, tt.target, "normalized error MUST match the sentinel")
			assert.Contains(t, err.Error(), tt.input.Error(), "original message MUST be preserved")
		})
	}

	assert.NoError(t, NormalizeError(nil))
	plain := errors.New("something else")
	assert.Same(t, plain, NormalizeError(plain), "unknown errors MUST pass through")
	assert.Same(t, ErrNotBound, NormalizeError(ErrNotBound), "structured errors MUST pass through")
}

func TestConnectionErrorIs(t *testing.T) {
	err := &ConnectionError{State: NotConnected, Msg: "link lost"}
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NotErrorIs(t, err, ErrAlreadyConnected)
	assert.Equal(t, "not_connected: link lost", err.Error())
	assert.True(t, IsConnectionState(err, NotConnected))
	assert.False(t, IsConnectionState(errors.New("x"), NotConnected))
}

func TestNotFoundError(t *testing.T) {
	assert.Equal(t, "service not found", (&NotFoundError{Resource: "service"}).Error())
	assert.Equal(t, `service "1815" not found`, (&NotFoundError{Resource: "service", UUIDs: []string{"1815"}}).Error())
	assert.Equal(t, `characteristic "2a56" not found in service "1815"`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"1815", "2a56"}}).Error())
}

func TestParseRole(t *testing.T) {
	for _, role := range []Role{RoleNone, RolePeripheral, RoleCentral} {
		parsed, err := ParseRole(role.String())
		assert.NoError(t, err)
		assert.Equal(t, role, parsed)
	}
	_, err := ParseRole("observer")
	assert.Error(t, err)
}
