package wireless

import (
	"context"
	"time"
)

// Peer describes a remote node: a scan candidate or the far end of a link.
type Peer interface {
	Name() string
	Address() string
	// Services lists advertised service UUIDs. A nil slice means the
	// backend does not know them.
	Services() []string
}

// ServiceProber is implemented by peers that can answer service membership
// without enumerating their advertisement.
type ServiceProber interface {
	HasService(uuid string) bool
}

// Conn is an established link.
type Conn interface {
	Peer
	Connected() bool
}

// Endpoint is the bound I/O handle of one characteristic on one link.
//
// On a central, Read fetches the peer's current (or next notified) value and
// Write sends to the peer. On a peripheral, Read waits for the next value
// written by the peer and Write publishes a new value to subscribers.
type Endpoint interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

// Endpoints maps normalized characteristic UUIDs to bound endpoints.
type Endpoints map[string]Endpoint

// CharacteristicSpec declares one characteristic of the local GATT layout.
type CharacteristicSpec struct {
	UUID string
	Size int
	// Notify: the server publishes values (server to client direction).
	Notify bool
	// Writable: the client writes values (client to server direction).
	Writable bool
}

// ServiceSpec declares one primary service.
type ServiceSpec struct {
	UUID            string
	Characteristics []CharacteristicSpec
}

// Transport is the capability surface a radio backend offers the session.
type Transport interface {
	// Advertise advertises name and services until a central connects and
	// returns the accepted link, or nil if advertising ended without one.
	Advertise(ctx context.Context, name string, services []string) (Conn, error)
	// Scan reports candidates to handler until it returns true, ctx ends or
	// the backend's scan window elapses.
	Scan(ctx context.Context, handler func(Peer) bool) error
	Connect(ctx context.Context, candidate Peer) (Conn, error)
	Disconnect(ctx context.Context, conn Conn) error
	// WaitForDisconnect blocks until conn drops or ctx ends.
	WaitForDisconnect(ctx context.Context, conn Conn) error
	// BuildServer registers the local GATT server and returns its endpoints.
	BuildServer(ctx context.Context, services []ServiceSpec) (Endpoints, error)
	// BindClient discovers services on the peer of conn and returns endpoints
	// for the requested characteristics.
	BindClient(ctx context.Context, conn Conn, services []ServiceSpec) (Endpoints, error)
}

// PeerInfo is a plain Peer value.
type PeerInfo struct {
	LocalName    string
	Addr         string
	ServiceUUIDs []string
}

func (p PeerInfo) Name() string       { return p.LocalName }
func (p PeerInfo) Address() string    { return p.Addr }
func (p PeerInfo) Services() []string { return p.ServiceUUIDs }

// Timing bundles the timeouts adapters apply to radio operations.
type Timing struct {
	ScanDuration   time.Duration
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		ScanDuration:   5 * time.Second,
		ConnectTimeout: 10 * time.Second,
		IOTimeout:      time.Second,
	}
}
