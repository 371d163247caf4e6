package loopback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bikelight/pkg/wireless"
)

func testHub() *Hub {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return NewHub(wireless.Timing{
		ScanDuration:   200 * time.Millisecond,
		ConnectTimeout: 200 * time.Millisecond,
		IOTimeout:      30 * time.Millisecond,
	}, logger)
}

var testServices = []wireless.ServiceSpec{{
	UUID: "1815",
	Characteristics: []wireless.CharacteristicSpec{
		{UUID: "2a56", Size: 1, Notify: true},
		{UUID: "2a57", Size: 1, Writable: true},
	},
}}

// linkPair connects central to an advertising peripheral and returns both ends.
func linkPair(t *testing.T, hub *Hub) (peripheral, central *Transport, pconn, cconn wireless.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	peripheral = hub.Transport("Rear", "AA:00:00:00:00:01")
	central = hub.Transport("Front", "AA:00:00:00:00:02")

	_, err := peripheral.BuildServer(ctx, testServices)
	require.NoError(t, err)

	accepted := make(chan wireless.Conn, 1)
	go func() {
		c, _ := peripheral.Advertise(ctx, "Rear", []string{"1815"})
		accepted <- c
	}()

	var candidate wireless.Peer
	require.NoError(t, central.Scan(ctx, func(p wireless.Peer) bool {
		candidate = p
		return true
	}))
	require.NotNil(t, candidate, "scan MUST report the advertiser")

	cconn, err = central.Connect(ctx, candidate)
	require.NoError(t, err)
	pconn = <-accepted
	require.NotNil(t, pconn, "advertise MUST return the accepted link")
	return peripheral, central, pconn, cconn
}

func TestScanReportsAdvertisers(t *testing.T) {
	// GOAL: Verify scan sees advertisers with name, address and services
	//
	// TEST SCENARIO: Peripheral advertises → central scans → candidate carries the advertised identity

	_, _, pconn, cconn := linkPair(t, testHub())

	assert.Equal(t, "Rear", cconn.Name(), "central link MUST name the peripheral")
	assert.Equal(t, "AA:00:00:00:00:01", cconn.Address())
	assert.Equal(t, []string{"1815"}, cconn.Services(), "services MUST be normalized")
	assert.Equal(t, "Front", pconn.Name(), "peripheral link MUST name the central")
	assert.True(t, pconn.Connected())
	assert.True(t, cconn.Connected())
}

func TestAdvertiseWindowEndsWithoutLink(t *testing.T) {
	// GOAL: Verify an unanswered advertisement returns no link and no error
	//
	// TEST SCENARIO: Advertise with no central → window elapses → (nil, nil)

	hub := testHub()
	tr := hub.Transport("Rear", "AA:00:00:00:00:01")

	conn, err := tr.Advertise(context.Background(), "Rear", nil)
	assert.NoError(t, err)
	assert.Nil(t, conn, "advertising MUST end without a link")
	assert.Empty(t, hub.Advertisers(), "advert MUST be withdrawn")
}

func TestServerEndpointsRoundTrip(t *testing.T) {
	// GOAL: Verify a server notification reaches the client and a client write reaches the server
	//
	// TEST SCENARIO: Bind both sides on one link → exchange one value each way

	hub := testHub()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	peripheral := hub.Transport("Rear", "AA:00:00:00:00:01")
	central := hub.Transport("Front", "AA:00:00:00:00:02")
	server, err := peripheral.BuildServer(ctx, testServices)
	require.NoError(t, err)

	go func() { _, _ = peripheral.Advertise(ctx, "Rear", nil) }()
	require.Eventually(t, func() bool { return len(hub.Advertisers()) == 1 }, time.Second, 5*time.Millisecond)

	cconn, err := central.Connect(ctx, hub.Advertisers()[0])
	require.NoError(t, err)
	client, err := central.BindClient(ctx, cconn, testServices)
	require.NoError(t, err)

	notify := wireless.NormalizeUUID("2a56")
	write := wireless.NormalizeUUID("2a57")

	require.NoError(t, server[notify].Write(ctx, []byte{0x05}))
	got, err := client[notify].Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05}, got, "client MUST receive the notification")

	require.NoError(t, client[write].Write(ctx, []byte{0x07}))
	got, err = server[write].Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x07}, got, "server MUST receive the client write")
}

func TestDisconnect(t *testing.T) {
	// GOAL: Verify disconnect closes both ends and fails client I/O
	//
	// TEST SCENARIO: Drop from the peripheral → both conns report down → client read returns ErrNotConnected

	peripheral, central, pconn, cconn := linkPair(t, testHub())
	ctx := context.Background()
	client, err := central.BindClient(ctx, cconn, testServices)
	require.NoError(t, err)

	peripheral.Drop(pconn)

	require.NoError(t, central.WaitForDisconnect(ctx, cconn))
	assert.False(t, cconn.Connected())
	assert.False(t, pconn.Connected())

	_, err = client[wireless.NormalizeUUID("2a56")].Read(ctx)
	assert.True(t, errors.Is(err, wireless.ErrNotConnected), "read on a closed link MUST fail with ErrNotConnected")
}

func TestFailureInjection(t *testing.T) {
	// GOAL: Verify FailNext fails exactly n calls and Calls counts them all
	//
	// TEST SCENARIO: FailNext(scan, 2) → two failures then success

	hub := testHub()
	tr := hub.Transport("Front", "AA:00:00:00:00:02")
	tr.FailNext(OpScan, 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stop := func(wireless.Peer) bool { return true }

	assert.ErrorIs(t, tr.Scan(ctx, stop), ErrInjected)
	assert.ErrorIs(t, tr.Scan(ctx, stop), ErrInjected)
	assert.NoError(t, tr.Scan(ctx, stop))
	assert.Equal(t, 3, tr.Calls(OpScan))
}

func TestBindClientMissingCharacteristic(t *testing.T) {
	// GOAL: Verify binding a characteristic the server lacks reports NotFoundError
	//
	// TEST SCENARIO: Server has 2a56/2a57 → client asks for 2a58 → NotFoundError

	_, central, _, cconn := linkPair(t, testHub())

	_, err := central.BindClient(context.Background(), cconn, []wireless.ServiceSpec{{
		UUID:            "1815",
		Characteristics: []wireless.CharacteristicSpec{{UUID: "2a58", Size: 1}},
	}})
	var nf *wireless.NotFoundError
	assert.ErrorAs(t, err, &nf, "missing characteristic MUST be reported as NotFoundError")
}
