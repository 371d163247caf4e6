package tinyble

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/bikelight/pkg/wireless"
)

type servedService struct {
	chars map[string]*servedChar
}

type servedChar struct {
	handle  bluetooth.Characteristic
	written chan []byte
}

// peripheralConn is a central linked to the local GATT server. The stack
// reports the central's address only.
type peripheralConn struct {
	link *link
}

func (c *peripheralConn) Name() string       { return "" }
func (c *peripheralConn) Address() string    { return c.link.device.Address.String() }
func (c *peripheralConn) Services() []string { return nil }
func (c *peripheralConn) Connected() bool    { return c.link.connected() }

func (t *Transport) BuildServer(_ context.Context, services []wireless.ServiceSpec) (wireless.Endpoints, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}

	eps := make(wireless.Endpoints)
	for _, spec := range services {
		served, err := t.serve(spec)
		if err != nil {
			return nil, err
		}
		for _, cs := range spec.Characteristics {
			key := wireless.NormalizeUUID(cs.UUID)
			eps[key] = &serverEndpoint{char: served.chars[key]}
		}
	}
	return eps, nil
}

// serve registers spec on the adapter or returns the earlier registration.
func (t *Transport) serve(spec wireless.ServiceSpec) (*servedService, error) {
	key := wireless.NormalizeUUID(spec.UUID)
	t.mu.Lock()
	defer t.mu.Unlock()

	if served, ok := t.services[key]; ok {
		for _, cs := range spec.Characteristics {
			if _, ok := served.chars[wireless.NormalizeUUID(cs.UUID)]; !ok {
				return nil, fmt.Errorf("service %s already registered without characteristic %s", key, cs.UUID)
			}
		}
		return served, nil
	}

	svcUUID, err := parseUUID(spec.UUID)
	if err != nil {
		return nil, err
	}
	served := &servedService{chars: make(map[string]*servedChar)}
	svc := &bluetooth.Service{UUID: svcUUID}

	for _, cs := range spec.Characteristics {
		charUUID, err := parseUUID(cs.UUID)
		if err != nil {
			return nil, err
		}
		sc := &servedChar{written: make(chan []byte, 1)}
		served.chars[wireless.NormalizeUUID(cs.UUID)] = sc

		flags := bluetooth.CharacteristicReadPermission
		if cs.Notify {
			flags |= bluetooth.CharacteristicNotifyPermission
		}
		cfg := bluetooth.CharacteristicConfig{
			Handle: &sc.handle,
			UUID:   charUUID,
			Value:  make([]byte, cs.Size),
			Flags:  flags,
		}
		if cs.Writable {
			cfg.Flags |= bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission
			cfg.WriteEvent = func(_ bluetooth.Connection, offset int, value []byte) {
				if offset != 0 {
					return
				}
				latest(sc.written, value)
			}
		}
		svc.Characteristics = append(svc.Characteristics, cfg)
	}

	if err := t.adapter.AddService(svc); err != nil {
		return nil, fmt.Errorf("failed to register service %s: %w", key, wireless.NormalizeError(err))
	}
	t.services[key] = served
	t.log.WithFields(logrus.Fields{"service": key, "characteristics": len(served.chars)}).Debug("Service registered")
	return served, nil
}

// Advertise advertises until a central connects or the scan window elapses.
func (t *Transport) Advertise(ctx context.Context, name string, services []string) (wireless.Conn, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}
	uuids, err := parseUUIDs(services)
	if err != nil {
		return nil, err
	}

	adv := t.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{LocalName: name, ServiceUUIDs: uuids}); err != nil {
		return nil, fmt.Errorf("failed to configure advertisement: %w", wireless.NormalizeError(err))
	}
	select {
	case <-t.accepted:
	default:
	}
	if err := adv.Start(); err != nil {
		return nil, fmt.Errorf("failed to start advertising: %w", wireless.NormalizeError(err))
	}
	defer func() {
		if err := adv.Stop(); err != nil {
			t.log.WithError(err).Debug("Stopping advertisement failed")
		}
	}()
	t.log.WithFields(logrus.Fields{"name": name, "services": services}).Debug("Advertising...")

	window := time.NewTimer(t.timing.ScanDuration)
	defer window.Stop()

	select {
	case l := <-t.accepted:
		t.log.WithField("address", l.device.Address.String()).Info("Central connected")
		return &peripheralConn{link: l}, nil
	case <-window.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// serverEndpoint: Read waits for the next central write, Write notifies
// subscribers.
type serverEndpoint struct {
	char *servedChar
}

func (e *serverEndpoint) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-e.char.written:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *serverEndpoint) Write(_ context.Context, data []byte) error {
	_, err := e.char.handle.Write(data)
	return wireless.NormalizeError(err)
}
