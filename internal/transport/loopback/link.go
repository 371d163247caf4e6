package loopback

import (
	"context"
	"sync"
	"time"

	"github.com/srg/bikelight/pkg/wireless"
)

type link struct {
	central    *Transport
	peripheral *Transport
	server     *server
	done       chan struct{}
	once       sync.Once
}

func (l *link) close() {
	l.once.Do(func() { close(l.done) })
}

func (l *link) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// conn is one end of a link; remote is the other node.
type conn struct {
	link     *link
	remote   *Transport
	services []string
}

func (c *conn) Name() string       { return c.remote.name }
func (c *conn) Address() string    { return c.remote.address }
func (c *conn) Services() []string { return c.services }
func (c *conn) Connected() bool    { return !c.link.closed() }

type server struct {
	slots map[string]*slot
}

// slot holds one characteristic value plus the latest pending notification
// and the latest pending client write. Newer values replace unread ones.
type slot struct {
	mu      sync.Mutex
	value   []byte
	notify  chan []byte
	written chan []byte
}

func newSlot(size int) *slot {
	return &slot{
		value:   make([]byte, size),
		notify:  make(chan []byte, 1),
		written: make(chan []byte, 1),
	}
}

func (s *slot) current() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.value...)
}

func (s *slot) store(data []byte) {
	s.mu.Lock()
	s.value = append([]byte(nil), data...)
	s.mu.Unlock()
}

func offer(ch chan []byte, data []byte) {
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

// serverEndpoint is the peripheral side: Read waits for client writes,
// Write publishes a notification.
type serverEndpoint struct {
	owner *Transport
	slot  *slot
}

func (e *serverEndpoint) Read(ctx context.Context) ([]byte, error) {
	if err := e.owner.record(OpRead); err != nil {
		return nil, err
	}
	select {
	case data := <-e.slot.written:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *serverEndpoint) Write(_ context.Context, data []byte) error {
	if err := e.owner.record(OpWrite); err != nil {
		return err
	}
	e.slot.store(data)
	offer(e.slot.notify, data)
	return nil
}

// clientEndpoint is the central side: Read waits for a notification up to
// the I/O timeout and then falls back to the current value.
type clientEndpoint struct {
	owner   *Transport
	link    *link
	slot    *slot
	timeout time.Duration
}

func (e *clientEndpoint) Read(ctx context.Context) ([]byte, error) {
	if err := e.owner.record(OpRead); err != nil {
		return nil, err
	}
	if e.link.closed() {
		return nil, wireless.ErrNotConnected
	}
	timer := time.NewTimer(e.timeout)
	defer timer.Stop()
	select {
	case data := <-e.slot.notify:
		return data, nil
	case <-timer.C:
		return e.slot.current(), nil
	case <-e.link.done:
		return nil, wireless.ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *clientEndpoint) Write(_ context.Context, data []byte) error {
	if err := e.owner.record(OpWrite); err != nil {
		return err
	}
	if e.link.closed() {
		return wireless.ErrNotConnected
	}
	e.slot.store(data)
	offer(e.slot.written, data)
	return nil
}
