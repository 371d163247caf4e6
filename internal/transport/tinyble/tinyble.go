// Package tinyble runs the wireless transport on tinygo.org/x/bluetooth:
// BlueZ over D-Bus on Linux, CoreBluetooth on macOS and WinRT on Windows.
package tinyble

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/bikelight/pkg/wireless"
)

// Transport implements wireless.Transport on the default adapter.
type Transport struct {
	adapter *bluetooth.Adapter
	timing  wireless.Timing
	log     *logrus.Entry

	enableOnce sync.Once
	enableErr  error

	mu       sync.Mutex
	links    map[string]*link
	accepted chan *link
	// services registered on the adapter, keyed by service UUID. The stack
	// cannot remove services, so rebuilding reuses them.
	services map[string]*servedService
}

var _ wireless.Transport = (*Transport)(nil)

func New(timing wireless.Timing, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{
		adapter:  bluetooth.DefaultAdapter,
		timing:   timing,
		log:      logger.WithField("component", "tinyble"),
		links:    make(map[string]*link),
		accepted: make(chan *link, 1),
		services: make(map[string]*servedService),
	}
}

// enable turns the adapter on once and routes link events.
func (t *Transport) enable() error {
	t.enableOnce.Do(func() {
		if err := t.adapter.Enable(); err != nil {
			t.enableErr = fmt.Errorf("failed to enable adapter: %w", wireless.NormalizeError(err))
			return
		}
		t.adapter.SetConnectHandler(t.onConnect)
	})
	return t.enableErr
}

func (t *Transport) onConnect(device bluetooth.Device, connected bool) {
	address := strings.ToLower(device.Address.String())
	t.mu.Lock()
	l, known := t.links[address]
	if connected && !known {
		l = newLink(device)
		t.links[address] = l
	}
	if !connected && known {
		delete(t.links, address)
	}
	t.mu.Unlock()

	t.log.WithFields(logrus.Fields{"address": address, "connected": connected}).Debug("Link event")
	switch {
	case connected && !known:
		select {
		case t.accepted <- l:
		default:
		}
	case !connected && known:
		l.close()
	}
}

// track registers a link dialed by this node.
func (t *Transport) track(device bluetooth.Device) *link {
	address := strings.ToLower(device.Address.String())
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.links[address]; ok {
		l.device = device
		return l
	}
	l := newLink(device)
	t.links[address] = l
	return l
}

func (t *Transport) forget(l *link) {
	address := strings.ToLower(l.device.Address.String())
	t.mu.Lock()
	if t.links[address] == l {
		delete(t.links, address)
	}
	t.mu.Unlock()
	l.close()
}

func (t *Transport) Disconnect(_ context.Context, c wireless.Conn) error {
	var l *link
	switch conn := c.(type) {
	case *centralConn:
		l = conn.link
	case *peripheralConn:
		l = conn.link
	default:
		return fmt.Errorf("foreign connection %T", c)
	}
	err := l.device.Disconnect()
	t.forget(l)
	return wireless.NormalizeError(err)
}

func (t *Transport) WaitForDisconnect(ctx context.Context, c wireless.Conn) error {
	var l *link
	switch conn := c.(type) {
	case *centralConn:
		l = conn.link
	case *peripheralConn:
		l = conn.link
	default:
		return fmt.Errorf("foreign connection %T", c)
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// link is one radio connection as seen by the adapter.
type link struct {
	device bluetooth.Device
	done   chan struct{}
	once   sync.Once
}

func newLink(device bluetooth.Device) *link {
	return &link{device: device, done: make(chan struct{})}
}

func (l *link) close() { l.once.Do(func() { close(l.done) }) }

func (l *link) connected() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// parseUUID accepts every form wireless.NormalizeUUID does.
func parseUUID(s string) (bluetooth.UUID, error) {
	normalized := wireless.NormalizeUUID(s)
	if normalized == "" {
		return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q", s)
	}
	if len(normalized) == 4 {
		v, err := strconv.ParseUint(normalized, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	}
	return bluetooth.ParseUUID(normalized)
}

func parseUUIDs(in []string) ([]bluetooth.UUID, error) {
	out := make([]bluetooth.UUID, 0, len(in))
	for _, s := range in {
		u, err := parseUUID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
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
