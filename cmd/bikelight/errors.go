package main

import (
	"errors"
	"strings"

	"github.com/srg/bikelight/pkg/wireless"
)

// Command-level errors
var (
	ErrUnknownField = errors.New("unknown profile field")
	ErrReadOnly     = errors.New("field is not writable by this node")
)

// formatUserError turns backend failures into short hints.
func formatUserError(err error) string {
	switch {
	case errors.Is(err, wireless.ErrUnsupported):
		return err.Error() + " (is the Bluetooth adapter available and powered on?)"
	case errors.Is(err, wireless.ErrNoRole):
		return err.Error() + " (set node.role to central or peripheral)"
	case errors.Is(err, ErrUnknownField):
		return err.Error() + " (see 'bikelight profile' for field names)"
	}
	return strings.TrimSpace(err.Error())
}
