package tinyble

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/bikelight/internal/groutine"
	"github.com/srg/bikelight/pkg/wireless"
)

// scanPeer adapts a scan result. The stack answers service membership but
// does not list advertised services, so it implements ServiceProber.
type scanPeer struct {
	result bluetooth.ScanResult
}

func (p scanPeer) Name() string       { return p.result.LocalName() }
func (p scanPeer) Address() string    { return p.result.Address.String() }
func (p scanPeer) Services() []string { return nil }

func (p scanPeer) HasService(uuid string) bool {
	u, err := parseUUID(uuid)
	if err != nil {
		return false
	}
	return p.result.HasServiceUUID(u)
}

// centralConn is the link to a remote GATT server.
type centralConn struct {
	link *link
	peer scanPeer
}

func (c *centralConn) Name() string                { return c.peer.Name() }
func (c *centralConn) Address() string             { return c.peer.Address() }
func (c *centralConn) Services() []string          { return nil }
func (c *centralConn) HasService(uuid string) bool { return c.peer.HasService(uuid) }
func (c *centralConn) Connected() bool             { return c.link.connected() }

// Scan stops the radio scan before every handler call so the handler may
// connect. Declined candidates are not reported again within the window.
func (t *Transport) Scan(ctx context.Context, handler func(wireless.Peer) bool) error {
	if err := t.enable(); err != nil {
		return err
	}
	deadline := time.NewTimer(t.timing.ScanDuration)
	defer deadline.Stop()
	declined := make(map[string]struct{})

	for {
		found := make(chan bluetooth.ScanResult, 1)
		errc := make(chan error, 1)
		groutine.Go(ctx, "tinyble-scan", func(context.Context) {
			errc <- t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
				if _, skip := declined[strings.ToLower(result.Address.String())]; skip {
					return
				}
				select {
				case found <- result:
					if err := adapter.StopScan(); err != nil {
						t.log.WithError(err).Debug("Stopping scan failed")
					}
				default:
				}
			})
		})

		select {
		case result := <-found:
			<-errc
			peer := scanPeer{result: result}
			t.log.WithFields(logrus.Fields{"name": peer.Name(), "address": peer.Address()}).Trace("Candidate")
			if handler(peer) {
				return nil
			}
			declined[strings.ToLower(peer.Address())] = struct{}{}
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("scan failed: %w", wireless.NormalizeError(err))
			}
			return nil
		case <-deadline.C:
			t.stopScan(errc)
			return nil
		case <-ctx.Done():
			t.stopScan(errc)
			return ctx.Err()
		}
	}
}

func (t *Transport) stopScan(errc <-chan error) {
	if err := t.adapter.StopScan(); err != nil {
		t.log.WithError(err).Debug("Stopping scan failed")
	}
	<-errc
}

func (t *Transport) Connect(ctx context.Context, candidate wireless.Peer) (wireless.Conn, error) {
	peer, ok := candidate.(scanPeer)
	if !ok {
		return nil, fmt.Errorf("candidate %s was not reported by this transport", candidate.Address())
	}

	type result struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan result, 1)
	groutine.Go(ctx, "tinyble-connect", func(context.Context) {
		device, err := t.adapter.Connect(peer.result.Address, bluetooth.ConnectionParams{})
		ch <- result{device, err}
	})

	cctx, cancel := context.WithTimeout(ctx, t.timing.ConnectTimeout)
	defer cancel()

	t.log.WithField("address", peer.Address()).Debug("Connecting...")
	select {
	case <-cctx.Done():
		// The stack cannot abort a pending connect; it completes or times out on its own.
		return nil, fmt.Errorf("connect to %s: %w", peer.Address(), wireless.NormalizeError(cctx.Err()))
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("connect to %s: %w", peer.Address(), wireless.NormalizeError(r.err))
		}
		t.log.WithField("address", peer.Address()).Info("Connected to peripheral")
		return &centralConn{link: t.track(r.device), peer: peer}, nil
	}
}

// BindClient discovers the requested services and subscribes to every
// notifying characteristic.
func (t *Transport) BindClient(_ context.Context, c wireless.Conn, services []wireless.ServiceSpec) (wireless.Endpoints, error) {
	conn, ok := c.(*centralConn)
	if !ok {
		return nil, fmt.Errorf("foreign connection %T", c)
	}

	eps := make(wireless.Endpoints)
	for _, spec := range services {
		svcUUID, err := parseUUID(spec.UUID)
		if err != nil {
			return nil, err
		}
		svcs, err := conn.link.device.DiscoverServices([]bluetooth.UUID{svcUUID})
		if err != nil {
			return nil, fmt.Errorf("failed to discover services: %w", wireless.NormalizeError(err))
		}
		if len(svcs) == 0 {
			return nil, &wireless.NotFoundError{Resource: "service", UUIDs: []string{spec.UUID}}
		}

		charUUIDs := make([]bluetooth.UUID, 0, len(spec.Characteristics))
		for _, cs := range spec.Characteristics {
			u, err := parseUUID(cs.UUID)
			if err != nil {
				return nil, err
			}
			charUUIDs = append(charUUIDs, u)
		}
		chars, err := svcs[0].DiscoverCharacteristics(charUUIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to discover characteristics: %w", wireless.NormalizeError(err))
		}
		byUUID := make(map[string]bluetooth.DeviceCharacteristic, len(chars))
		for _, ch := range chars {
			byUUID[wireless.NormalizeUUID(ch.UUID().String())] = ch
		}

		for _, cs := range spec.Characteristics {
			key := wireless.NormalizeUUID(cs.UUID)
			ch, ok := byUUID[key]
			if !ok {
				return nil, &wireless.NotFoundError{Resource: "characteristic", UUIDs: []string{spec.UUID, cs.UUID}}
			}
			ep := &clientEndpoint{
				char:    ch,
				link:    conn.link,
				size:    cs.Size,
				timeout: t.timing.IOTimeout,
				notify:  make(chan []byte, 1),
			}
			if cs.Notify {
				if err := ch.EnableNotifications(func(buf []byte) { latest(ep.notify, buf) }); err != nil {
					return nil, fmt.Errorf("failed to subscribe to %s: %w", key, wireless.NormalizeError(err))
				}
				ep.subscribed = true
			}
			eps[key] = ep
		}
	}
	return eps, nil
}

// maxValue bounds reads of characteristics without a declared size.
const maxValue = 512

type clientEndpoint struct {
	char       bluetooth.DeviceCharacteristic
	link       *link
	size       int
	timeout    time.Duration
	notify     chan []byte
	subscribed bool
}

func (e *clientEndpoint) Read(ctx context.Context) ([]byte, error) {
	if !e.link.connected() {
		return nil, wireless.ErrNotConnected
	}
	if e.subscribed {
		timer := time.NewTimer(e.timeout)
		defer timer.Stop()
		select {
		case data := <-e.notify:
			return data, nil
		case <-e.link.done:
			return nil, wireless.ErrNotConnected
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	size := e.size
	if size <= 0 {
		size = maxValue
	}
	buf := make([]byte, size)
	n, err := e.char.Read(buf)
	if err != nil {
		return nil, wireless.NormalizeError(err)
	}
	return buf[:n], nil
}

func (e *clientEndpoint) Write(_ context.Context, data []byte) error {
	if !e.link.connected() {
		return wireless.ErrNotConnected
	}
	_, err := e.char.WriteWithoutResponse(data)
	return wireless.NormalizeError(err)
}
