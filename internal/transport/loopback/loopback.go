// Package loopback is an in-process radio: transports attached to the same
// Hub can advertise, scan, connect and exchange characteristic values
// without hardware. It backs the simulate command and the session tests.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bikelight/pkg/wireless"
)

// Op names a transport operation for failure injection.
type Op string

const (
	OpAdvertise Op = "advertise"
	OpScan      Op = "scan"
	OpConnect   Op = "connect"
	OpRead      Op = "read"
	OpWrite     Op = "write"
)

// ErrInjected is returned by operations failed through FailNext.
var ErrInjected = errors.New("injected failure")

// Hub is the shared medium.
type Hub struct {
	timing wireless.Timing
	log    *logrus.Entry

	mu      sync.Mutex
	adverts map[string]*advert
}

type advert struct {
	owner    *Transport
	name     string
	services []string
	accept   chan *link
}

func NewHub(timing wireless.Timing, logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		timing:  timing,
		log:     logger.WithField("component", "loopback"),
		adverts: make(map[string]*advert),
	}
}

// Transport creates a node on the hub identified by name and address.
func (h *Hub) Transport(name, address string) *Transport {
	return &Transport{
		hub:      h,
		name:     name,
		address:  address,
		failures: make(map[Op]int),
	}
}

// Advertisers returns the peers currently advertising.
func (h *Hub) Advertisers() []wireless.PeerInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]wireless.PeerInfo, 0, len(h.adverts))
	for address, a := range h.adverts {
		out = append(out, wireless.PeerInfo{LocalName: a.name, Addr: address, ServiceUUIDs: a.services})
	}
	return out
}

// Transport is one node's view of the hub.
type Transport struct {
	hub     *Hub
	name    string
	address string

	mu       sync.Mutex
	server   *server
	failures map[Op]int
	calls    map[Op]int
}

var _ wireless.Transport = (*Transport)(nil)

func (t *Transport) Name() string    { return t.name }
func (t *Transport) Address() string { return t.address }

// FailNext makes the next n calls of op fail with ErrInjected.
func (t *Transport) FailNext(op Op, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[op] = n
}

// Calls returns how many times op was invoked.
func (t *Transport) Calls(op Op) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[op]
}

func (t *Transport) record(op Op) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.calls == nil {
		t.calls = make(map[Op]int)
	}
	t.calls[op]++
	if t.failures[op] > 0 {
		t.failures[op]--
		return fmt.Errorf("%s: %w", op, ErrInjected)
	}
	return nil
}

func (t *Transport) Advertise(ctx context.Context, name string, services []string) (wireless.Conn, error) {
	if err := t.record(OpAdvertise); err != nil {
		return nil, err
	}
	a := &advert{owner: t, name: name, services: wireless.NormalizeUUIDs(services), accept: make(chan *link, 1)}

	t.hub.mu.Lock()
	if _, busy := t.hub.adverts[t.address]; busy {
		t.hub.mu.Unlock()
		return nil, fmt.Errorf("%s already advertising", t.address)
	}
	t.hub.adverts[t.address] = a
	t.hub.mu.Unlock()

	defer func() {
		t.hub.mu.Lock()
		if t.hub.adverts[t.address] == a {
			delete(t.hub.adverts, t.address)
		}
		t.hub.mu.Unlock()
	}()

	window := time.NewTimer(t.hub.timing.ScanDuration)
	defer window.Stop()

	select {
	case l := <-a.accept:
		return &conn{link: l, remote: l.central}, nil
	case <-window.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Transport) Scan(ctx context.Context, handler func(wireless.Peer) bool) error {
	if err := t.record(OpScan); err != nil {
		return err
	}
	deadline := time.NewTimer(t.hub.timing.ScanDuration)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		for _, p := range t.hub.Advertisers() {
			if p.Addr == t.address {
				continue
			}
			if handler(p) {
				return nil
			}
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Transport) Connect(ctx context.Context, candidate wireless.Peer) (wireless.Conn, error) {
	if err := t.record(OpConnect); err != nil {
		return nil, err
	}

	t.hub.mu.Lock()
	a, ok := t.hub.adverts[candidate.Address()]
	if ok {
		delete(t.hub.adverts, candidate.Address())
	}
	t.hub.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s is not advertising", candidate.Address())
	}

	a.owner.mu.Lock()
	srv := a.owner.server
	a.owner.mu.Unlock()

	l := &link{central: t, peripheral: a.owner, server: srv, done: make(chan struct{})}
	select {
	case a.accept <- l:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	t.hub.log.WithFields(logrus.Fields{"central": t.address, "peripheral": a.owner.address}).Debug("Linked")
	return &conn{link: l, remote: a.owner, services: a.services}, nil
}

func (t *Transport) Disconnect(_ context.Context, c wireless.Conn) error {
	lc, ok := c.(*conn)
	if !ok {
		return fmt.Errorf("foreign connection %T", c)
	}
	lc.link.close()
	return nil
}

func (t *Transport) WaitForDisconnect(ctx context.Context, c wireless.Conn) error {
	lc, ok := c.(*conn)
	if !ok {
		return fmt.Errorf("foreign connection %T", c)
	}
	select {
	case <-lc.link.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drop severs the current link from the peripheral side, as a radio loss
// would.
func (t *Transport) Drop(c wireless.Conn) {
	if lc, ok := c.(*conn); ok {
		lc.link.close()
	}
}

func (t *Transport) BuildServer(_ context.Context, services []wireless.ServiceSpec) (wireless.Endpoints, error) {
	srv := &server{slots: make(map[string]*slot)}
	eps := make(wireless.Endpoints)
	for _, svc := range services {
		for _, ch := range svc.Characteristics {
			uuid := wireless.NormalizeUUID(ch.UUID)
			s := newSlot(ch.Size)
			srv.slots[uuid] = s
			eps[uuid] = &serverEndpoint{owner: t, slot: s}
		}
	}
	t.mu.Lock()
	t.server = srv
	t.mu.Unlock()
	return eps, nil
}

func (t *Transport) BindClient(_ context.Context, c wireless.Conn, services []wireless.ServiceSpec) (wireless.Endpoints, error) {
	lc, ok := c.(*conn)
	if !ok {
		return nil, fmt.Errorf("foreign connection %T", c)
	}
	if lc.link.server == nil {
		return nil, &wireless.NotFoundError{Resource: "service"}
	}
	eps := make(wireless.Endpoints)
	for _, svc := range services {
		for _, ch := range svc.Characteristics {
			uuid := wireless.NormalizeUUID(ch.UUID)
			s, ok := lc.link.server.slots[uuid]
			if !ok {
				return nil, &wireless.NotFoundError{Resource: "characteristic", UUIDs: []string{svc.UUID, uuid}}
			}
			eps[uuid] = &clientEndpoint{owner: t, link: lc.link, slot: s, timeout: t.hub.timing.IOTimeout}
		}
	}
	return eps, nil
}
