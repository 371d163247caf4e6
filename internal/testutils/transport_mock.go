package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/srg/bikelight/pkg/wireless"
)

// MockTransport is a testify mock of wireless.Transport.
type MockTransport struct {
	mock.Mock
}

var _ wireless.Transport = (*MockTransport)(nil)

func connArg(args mock.Arguments, i int) wireless.Conn {
	if c, ok := args.Get(i).(wireless.Conn); ok {
		return c
	}
	return nil
}

func endpointsArg(args mock.Arguments, i int) wireless.Endpoints {
	if eps, ok := args.Get(i).(wireless.Endpoints); ok {
		return eps
	}
	return nil
}

func (m *MockTransport) Advertise(ctx context.Context, name string, services []string) (wireless.Conn, error) {
	args := m.Called(ctx, name, services)
	return connArg(args, 0), args.Error(1)
}

func (m *MockTransport) Scan(ctx context.Context, handler func(wireless.Peer) bool) error {
	args := m.Called(ctx, handler)
	return args.Error(0)
}

func (m *MockTransport) Connect(ctx context.Context, candidate wireless.Peer) (wireless.Conn, error) {
	args := m.Called(ctx, candidate)
	return connArg(args, 0), args.Error(1)
}

func (m *MockTransport) Disconnect(ctx context.Context, conn wireless.Conn) error {
	args := m.Called(ctx, conn)
	if sc, ok := conn.(*StubConn); ok && args.Error(0) == nil {
		sc.Drop()
	}
	return args.Error(0)
}

func (m *MockTransport) WaitForDisconnect(ctx context.Context, conn wireless.Conn) error {
	if sc, ok := conn.(*StubConn); ok {
		select {
		case <-sc.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockTransport) BuildServer(ctx context.Context, services []wireless.ServiceSpec) (wireless.Endpoints, error) {
	args := m.Called(ctx, services)
	return endpointsArg(args, 0), args.Error(1)
}

func (m *MockTransport) BindClient(ctx context.Context, conn wireless.Conn, services []wireless.ServiceSpec) (wireless.Endpoints, error) {
	args := m.Called(ctx, conn, services)
	return endpointsArg(args, 0), args.Error(1)
}

// ScanReporting returns a mock Run function that feeds peers to the scan
// handler until it accepts one.
func ScanReporting(peers ...wireless.Peer) func(mock.Arguments) {
	return func(args mock.Arguments) {
		handler := args.Get(1).(func(wireless.Peer) bool)
		for _, p := range peers {
			if handler(p) {
				return
			}
		}
	}
}

// StubConn is a controllable link.
type StubConn struct {
	wireless.PeerInfo
	once sync.Once
	done chan struct{}
}

func NewStubConn(name, address string, services ...string) *StubConn {
	return &StubConn{
		PeerInfo: wireless.PeerInfo{LocalName: name, Addr: address, ServiceUUIDs: services},
		done:     make(chan struct{}),
	}
}

func (c *StubConn) Connected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Drop simulates link loss.
func (c *StubConn) Drop() {
	c.once.Do(func() { close(c.done) })
}

// ErrStub is the failure injected by StubEndpoint.
var ErrStub = errors.New("stub failure")

// StubEndpoint records writes and serves scripted reads. Failure counters
// make the next calls fail with ErrStub.
type StubEndpoint struct {
	mu         sync.Mutex
	reads      chan []byte
	writes     [][]byte
	writeCalls int
	failReads  int
	failWrites int
}

func NewStubEndpoint() *StubEndpoint {
	return &StubEndpoint{reads: make(chan []byte, 16)}
}

// Deliver queues data for the next Read.
func (e *StubEndpoint) Deliver(data []byte) {
	e.reads <- data
}

func (e *StubEndpoint) FailWrites(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failWrites = n
}

func (e *StubEndpoint) FailReads(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failReads = n
}

func (e *StubEndpoint) Read(ctx context.Context) ([]byte, error) {
	e.mu.Lock()
	if e.failReads > 0 {
		e.failReads--
		e.mu.Unlock()
		return nil, ErrStub
	}
	e.mu.Unlock()
	select {
	case data := <-e.reads:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *StubEndpoint) Write(_ context.Context, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeCalls++
	if e.failWrites > 0 {
		e.failWrites--
		return ErrStub
	}
	e.writes = append(e.writes, append([]byte(nil), data...))
	return nil
}

// Writes returns the successfully written payloads.
func (e *StubEndpoint) Writes() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.writes...)
}

// WriteCalls counts every Write, failed or not.
func (e *StubEndpoint) WriteCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeCalls
}
