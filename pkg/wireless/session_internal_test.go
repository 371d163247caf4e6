package wireless

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bikelight/pkg/encoding"
)

type heldConn struct {
	PeerInfo
}

func (*heldConn) Connected() bool { return true }

// recordingTransport only remembers the links it was asked to drop.
type recordingTransport struct {
	Transport

	mu      sync.Mutex
	dropped []Conn
}

func (t *recordingTransport) Disconnect(_ context.Context, conn Conn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropped = append(t.dropped, conn)
	return nil
}

func (t *recordingTransport) Dropped() []Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Conn(nil), t.dropped...)
}

// blockingEndpoint never answers on its own; calls end with their context.
type blockingEndpoint struct {
	entered chan struct{}
}

func (e *blockingEndpoint) Read(ctx context.Context) ([]byte, error) {
	e.entered <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (e *blockingEndpoint) Write(ctx context.Context, _ []byte) error {
	e.entered <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func quietSession(t *testing.T, transport Transport) *Session {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewSession(transport, SessionOptions{Name: "Rear", Logger: logger})
}

func TestSecondLinkRefusedAndDropped(t *testing.T) {
	// GOAL: Verify a link arriving while another is held is disconnected, not leaked
	//
	// TEST SCENARIO: Adopt first link → offer second → second refused and dropped → first still held

	transport := &recordingTransport{}
	s := quietSession(t, transport)
	first := &heldConn{PeerInfo{LocalName: "Front", Addr: "AA:00:00:00:00:01"}}
	second := &heldConn{PeerInfo{LocalName: "Other", Addr: "AA:00:00:00:00:02"}}

	require.True(t, s.onConnected(context.Background(), first), "first link MUST be adopted")
	assert.False(t, s.onConnected(context.Background(), second), "second link MUST be refused")

	assert.Equal(t, first, s.Connection(), "held link MUST stay untouched")
	assert.Equal(t, []Conn{second}, transport.Dropped(), "refused link MUST be disconnected")
	assert.True(t, s.Connected())
}

func TestRebindInterruptsBlockedIO(t *testing.T) {
	// GOAL: Verify endpoint calls blocked on a dead link end when the link is unbound or replaced
	//
	// TEST SCENARIO: Read blocks on link A → bind(nil) → read returns; write blocks on B → bind(C) → write returns

	s := quietSession(t, &recordingTransport{})
	svc, err := NewService(s, "1815")
	require.NoError(t, err)
	c, err := NewCharacteristic(svc, "2a56", ModeBidirectional, encoding.Uint8)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := &blockingEndpoint{entered: make(chan struct{}, 1)}
	c.bind(a)
	readDone := make(chan bool, 1)
	go func() { readDone <- c.read(ctx) }()
	<-a.entered
	c.bind(nil)
	select {
	case ok := <-readDone:
		assert.False(t, ok, "interrupted read MUST not report a value")
	case <-time.After(time.Second):
		t.Fatal("read MUST return once the link is unbound")
	}

	b := &blockingEndpoint{entered: make(chan struct{}, 1)}
	c.bind(b)
	writeDone := make(chan error, 1)
	go func() { writeDone <- c.write(ctx, 3) }()
	<-b.entered
	c.bind(&blockingEndpoint{entered: make(chan struct{}, 1)})
	select {
	case err := <-writeDone:
		assert.ErrorIs(t, err, context.Canceled, "write on the replaced link MUST be cancelled")
	case <-time.After(time.Second):
		t.Fatal("write MUST return once the link is replaced")
	}
	assert.NoError(t, ctx.Err(), "session context MUST stay alive")
}
