package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/bikelight/internal/groutine"
	"github.com/srg/bikelight/pkg/wireless"
)

// advertisement adapts ble.Advertisement to wireless.Peer.
type advertisement struct {
	adv ble.Advertisement
}

func (a advertisement) Name() string       { return a.adv.LocalName() }
func (a advertisement) Address() string    { return a.adv.Addr().String() }
func (a advertisement) Services() []string { return uuidStrings(a.adv.Services()) }

// centralConn is the link to a remote GATT server.
type centralConn struct {
	client   ble.Client
	name     string
	services []string
}

func (c *centralConn) Name() string {
	if c.name != "" {
		return c.name
	}
	return c.client.Name()
}
func (c *centralConn) Address() string    { return c.client.Addr().String() }
func (c *centralConn) Services() []string { return c.services }
func (c *centralConn) Connected() bool {
	select {
	case <-c.client.Disconnected():
		return false
	default:
		return true
	}
}

// Scan restarts go-ble scanning around every candidate so the handler may
// dial without an active scan. Candidates the handler declined are not
// reported again within the same window.
func (t *Transport) Scan(ctx context.Context, handler func(wireless.Peer) bool) error {
	dev, err := t.device()
	if err != nil {
		return err
	}
	deadline := time.Now().Add(t.timing.ScanDuration)
	declined := make(map[string]struct{})

	for time.Now().Before(deadline) {
		sctx, cancel := context.WithDeadline(ctx, deadline)
		found := make(chan ble.Advertisement, 1)
		errc := make(chan error, 1)

		groutine.Go(sctx, "goble-scan", func(sctx context.Context) {
			errc <- dev.Scan(sctx, false, func(a ble.Advertisement) {
				if !a.Connectable() {
					return
				}
				if _, skip := declined[strings.ToLower(a.Addr().String())]; skip {
					return
				}
				select {
				case found <- a:
				default:
				}
			})
		})

		select {
		case a := <-found:
			cancel()
			<-errc
			peer := advertisement{adv: a}
			t.log.WithFields(logrus.Fields{"name": peer.Name(), "address": peer.Address()}).Trace("Candidate")
			if handler(peer) {
				return nil
			}
			declined[strings.ToLower(peer.Address())] = struct{}{}
		case err := <-errc:
			cancel()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("scan failed: %w", NormalizeError(err))
		}
	}
	return nil
}

func (t *Transport) Connect(ctx context.Context, candidate wireless.Peer) (wireless.Conn, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}
	address := candidate.Address()
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	cctx, cancel := context.WithTimeout(ctx, t.timing.ConnectTimeout)
	defer cancel()

	t.log.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(cctx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}
	t.log.WithField("address", address).Info("Connected to peripheral")
	return &centralConn{client: client, name: candidate.Name(), services: candidate.Services()}, nil
}

// BindClient discovers the peer profile and subscribes to every notifying
// characteristic requested.
func (t *Transport) BindClient(_ context.Context, c wireless.Conn, services []wireless.ServiceSpec) (wireless.Endpoints, error) {
	conn, ok := c.(*centralConn)
	if !ok {
		return nil, fmt.Errorf("foreign connection %T", c)
	}

	profile, err := conn.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	found := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		svcUUID := wireless.NormalizeUUID(svc.UUID.String())
		for _, ch := range svc.Characteristics {
			found[svcUUID+"/"+wireless.NormalizeUUID(ch.UUID.String())] = ch
		}
	}

	eps := make(wireless.Endpoints)
	for _, spec := range services {
		svcUUID := wireless.NormalizeUUID(spec.UUID)
		for _, cs := range spec.Characteristics {
			charUUID := wireless.NormalizeUUID(cs.UUID)
			ch, ok := found[svcUUID+"/"+charUUID]
			if !ok {
				return nil, &wireless.NotFoundError{Resource: "characteristic", UUIDs: []string{svcUUID, charUUID}}
			}
			ep := &clientEndpoint{
				client:  conn.client,
				char:    ch,
				timeout: t.timing.IOTimeout,
				notify:  make(chan []byte, 1),
			}
			if cs.Notify && ch.Property&(ble.CharNotify|ble.CharIndicate) != 0 {
				indicate := ch.Property&ble.CharNotify == 0
				if err := conn.client.Subscribe(ch, indicate, func(data []byte) {
					latest(ep.notify, data)
				}); err != nil {
					return nil, fmt.Errorf("failed to subscribe to %s: %w", charUUID, NormalizeError(err))
				}
				ep.subscribed = true
			}
			eps[charUUID] = ep
		}
	}

	t.log.WithFields(logrus.Fields{"address": conn.Address(), "characteristics": len(eps)}).Debug("Client bound")
	return eps, nil
}

// clientEndpoint waits for a notification up to the I/O timeout and then
// reads the current value.
type clientEndpoint struct {
	client     ble.Client
	char       *ble.Characteristic
	timeout    time.Duration
	notify     chan []byte
	subscribed bool
}

func (e *clientEndpoint) Read(ctx context.Context) ([]byte, error) {
	if e.subscribed {
		timer := time.NewTimer(e.timeout)
		defer timer.Stop()
		select {
		case data := <-e.notify:
			return data, nil
		case <-e.client.Disconnected():
			return nil, wireless.ErrNotConnected
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if e.char.Property&ble.CharRead == 0 {
		return nil, fmt.Errorf("characteristic %s is not readable: %w", e.char.UUID, wireless.ErrUnsupported)
	}
	data, err := e.client.ReadCharacteristic(e.char)
	if err != nil {
		return nil, NormalizeError(err)
	}
	return data, nil
}

func (e *clientEndpoint) Write(_ context.Context, data []byte) error {
	noRsp := e.char.Property&ble.CharWrite == 0
	return NormalizeError(e.client.WriteCharacteristic(e.char, data, noRsp))
}
