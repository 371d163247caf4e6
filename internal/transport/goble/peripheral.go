package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/bikelight/internal/groutine"
	"github.com/srg/bikelight/pkg/wireless"
)

// peripheralConn is a central linked to the local GATT server. go-ble does
// not expose the central's name, only its address.
type peripheralConn struct {
	conn ble.Conn
}

func (c *peripheralConn) Name() string       { return "" }
func (c *peripheralConn) Address() string    { return c.conn.RemoteAddr().String() }
func (c *peripheralConn) Services() []string { return nil }
func (c *peripheralConn) Connected() bool {
	select {
	case <-c.conn.Disconnected():
		return false
	default:
		return true
	}
}

type server struct {
	slots map[string]*slot
}

// slot backs one served characteristic.
type slot struct {
	mu        sync.Mutex
	value     []byte
	written   chan []byte
	notifiers map[ble.Notifier]struct{}
}

func newSlot(size int) *slot {
	return &slot{
		value:     make([]byte, size),
		written:   make(chan []byte, 1),
		notifiers: make(map[ble.Notifier]struct{}),
	}
}

func (s *slot) current() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.value...)
}

// publish stores data and returns the subscribed notifiers.
func (s *slot) publish(data []byte) []ble.Notifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = append([]byte(nil), data...)
	out := make([]ble.Notifier, 0, len(s.notifiers))
	for n := range s.notifiers {
		out = append(out, n)
	}
	return out
}

func (s *slot) subscribe(n ble.Notifier) {
	s.mu.Lock()
	s.notifiers[n] = struct{}{}
	s.mu.Unlock()
}

func (s *slot) unsubscribe(n ble.Notifier) {
	s.mu.Lock()
	delete(s.notifiers, n)
	s.mu.Unlock()
}

// observe reports the central behind an ATT request. The first request of
// a new link is how the peripheral learns it was connected.
func (t *Transport) observe(c ble.Conn) {
	if c == nil {
		return
	}
	t.mu.Lock()
	if t.current == c {
		t.mu.Unlock()
		return
	}
	t.current = c
	t.mu.Unlock()

	select {
	case t.accepted <- c:
	default:
	}
}

func (t *Transport) BuildServer(_ context.Context, services []wireless.ServiceSpec) (wireless.Endpoints, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	srv := &server{slots: make(map[string]*slot)}
	eps := make(wireless.Endpoints)
	bleServices := make([]*ble.Service, 0, len(services))

	for _, spec := range services {
		svcUUID, err := parseUUID(spec.UUID)
		if err != nil {
			return nil, err
		}
		svc := ble.NewService(svcUUID)
		for _, cs := range spec.Characteristics {
			charUUID, err := parseUUID(cs.UUID)
			if err != nil {
				return nil, err
			}
			key := wireless.NormalizeUUID(cs.UUID)
			s := newSlot(cs.Size)
			srv.slots[key] = s
			t.serve(svc.NewCharacteristic(charUUID), cs, s)
			eps[key] = &serverEndpoint{slot: s, log: t.log.WithField("uuid", key)}
		}
		bleServices = append(bleServices, svc)
	}

	if err := dev.SetServices(bleServices); err != nil {
		return nil, fmt.Errorf("failed to register GATT services: %w", NormalizeError(err))
	}
	t.mu.Lock()
	t.server = srv
	t.mu.Unlock()

	t.log.WithField("services", len(bleServices)).Debug("GATT server registered")
	return eps, nil
}

func (t *Transport) serve(c *ble.Characteristic, spec wireless.CharacteristicSpec, s *slot) {
	c.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		t.observe(req.Conn())
		if _, err := rsp.Write(s.current()); err != nil {
			t.log.WithError(err).WithField("uuid", spec.UUID).Warn("Read response failed")
		}
	}))
	if spec.Writable {
		c.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, _ ble.ResponseWriter) {
			t.observe(req.Conn())
			latest(s.written, req.Data())
		}))
	}
	if spec.Notify {
		c.HandleNotify(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
			t.observe(req.Conn())
			s.subscribe(n)
			defer s.unsubscribe(n)
			t.log.WithField("uuid", spec.UUID).Debug("Central subscribed")
			<-n.Context().Done()
		}))
	}
}

// Advertise advertises until a central issues its first request or the
// scan window elapses.
func (t *Transport) Advertise(ctx context.Context, name string, services []string) (wireless.Conn, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}
	uuids := make([]ble.UUID, 0, len(services))
	for _, s := range services {
		u, err := parseUUID(s)
		if err != nil {
			return nil, err
		}
		uuids = append(uuids, u)
	}

	t.mu.Lock()
	t.current = nil
	t.mu.Unlock()
	select {
	case <-t.accepted:
	default:
	}

	actx, cancel := context.WithTimeout(ctx, t.timing.ScanDuration)
	defer cancel()

	errc := make(chan error, 1)
	groutine.Go(actx, "goble-advertise", func(actx context.Context) {
		errc <- dev.AdvertiseNameAndServices(actx, name, uuids...)
	})
	t.log.WithFields(logrus.Fields{"name": name, "services": services}).Debug("Advertising...")

	select {
	case c := <-t.accepted:
		cancel()
		<-errc
		t.log.WithField("address", c.RemoteAddr().String()).Info("Central connected")
		return &peripheralConn{conn: c}, nil
	case err := <-errc:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, nil
		}
		return nil, fmt.Errorf("advertising failed: %w", NormalizeError(err))
	}
}

// serverEndpoint: Read waits for the next central write, Write notifies
// every subscribed central.
type serverEndpoint struct {
	slot *slot
	log  *logrus.Entry
}

func (e *serverEndpoint) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-e.slot.written:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *serverEndpoint) Write(_ context.Context, data []byte) error {
	var errs []error
	for _, n := range e.slot.publish(data) {
		if _, err := n.Write(data); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return NormalizeError(err)
	}
	return nil
}
