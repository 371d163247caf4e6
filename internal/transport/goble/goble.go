// Package goble runs the wireless transport on go-ble: HCI sockets on Linux
// and CoreBluetooth on macOS.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/bikelight/pkg/wireless"
)

// DeviceFactory creates the ble.Device (can be overridden in tests).
var DeviceFactory = newDevice

// Transport implements wireless.Transport on a single go-ble device.
type Transport struct {
	timing wireless.Timing
	log    *logrus.Entry

	mu       sync.Mutex
	dev      ble.Device
	server   *server
	accepted chan ble.Conn
	current  ble.Conn
}

var _ wireless.Transport = (*Transport)(nil)

func New(timing wireless.Timing, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{
		timing:   timing,
		log:      logger.WithField("component", "goble"),
		accepted: make(chan ble.Conn, 1),
	}
}

// device opens the radio on first use.
func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		t.log.WithError(err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)
	t.dev = dev
	return dev, nil
}

// Close stops the radio.
func (t *Transport) Close() error {
	t.mu.Lock()
	dev := t.dev
	t.dev = nil
	t.mu.Unlock()
	if dev == nil {
		return nil
	}
	return dev.Stop()
}

func (t *Transport) Disconnect(_ context.Context, c wireless.Conn) error {
	switch conn := c.(type) {
	case *centralConn:
		t.log.WithField("address", conn.Address()).Info("Disconnecting from peripheral...")
		return NormalizeError(conn.client.CancelConnection())
	case *peripheralConn:
		t.log.WithField("address", conn.Address()).Info("Disconnecting central...")
		return NormalizeError(conn.conn.Close())
	default:
		return fmt.Errorf("foreign connection %T", c)
	}
}

func (t *Transport) WaitForDisconnect(ctx context.Context, c wireless.Conn) error {
	var done <-chan struct{}
	switch conn := c.(type) {
	case *centralConn:
		done = conn.client.Disconnected()
	case *peripheralConn:
		done = conn.conn.Disconnected()
	default:
		return fmt.Errorf("foreign connection %T", c)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseUUID(s string) (ble.UUID, error) {
	normalized := wireless.NormalizeUUID(s)
	if normalized == "" {
		return nil, fmt.Errorf("invalid UUID %q", s)
	}
	u, err := ble.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u, nil
}

func uuidStrings(uuids []ble.UUID) []string {
	out := make([]string, 0, len(uuids))
	for _, u := range uuids {
		out = append(out, wireless.NormalizeUUID(u.String()))
	}
	return out
}

// latest replaces any unread value in ch with data.
func latest(ch chan []byte, data []byte) {
	data = append([]byte(nil), data...)
	for {
		select {
		case ch <- data:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// NormalizeError maps known go-ble error strings to the wireless sentinels.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "is bluetooth turned on"), strings.Contains(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: bluetooth is off: %v", wireless.ErrUnsupported, err)
	case strings.Contains(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", wireless.ErrNotConnected, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", wireless.ErrTimeout, err)
	default:
		return wireless.NormalizeError(err)
	}
}
