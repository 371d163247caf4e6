package wireless_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bikelight/internal/testutils"
	"github.com/srg/bikelight/pkg/encoding"
	"github.com/srg/bikelight/pkg/wireless"
)

const recordChar = "2a58"

// CharacteristicTestSuite drives a central session over a mocked transport
// whose single characteristic endpoint is scripted by the test.
type CharacteristicTestSuite struct {
	suite.Suite

	transport *testutils.MockTransport
	endpoint  *testutils.StubEndpoint
	conn      *testutils.StubConn
	session   *wireless.Session
	service   *wireless.Service

	cancel context.CancelFunc
	done   chan error
}

func (s *CharacteristicTestSuite) SetupTest() {
	logger := testutils.NewTestLogger()
	s.transport = new(testutils.MockTransport)
	s.endpoint = testutils.NewStubEndpoint()
	s.conn = testutils.NewStubConn("Rear", "AA:00:00:00:00:01", testService)
	s.session = wireless.NewSession(s.transport, testutils.FastSessionOptions("Front", logger))
	s.session.SetAsCentral(&wireless.Target{Name: "Rear"})

	var err error
	s.service, err = wireless.NewService(s.session, testService)
	s.Require().NoError(err)

	s.transport.On("Scan", mock.Anything, mock.Anything).Run(testutils.ScanReporting(s.conn.PeerInfo)).Return(nil)
	s.transport.On("Connect", mock.Anything, mock.Anything).Return(s.conn, nil)
	s.transport.On("BindClient", mock.Anything, mock.Anything, mock.Anything).
		Return(wireless.Endpoints{wireless.NormalizeUUID(recordChar): s.endpoint}, nil)
	s.transport.On("Disconnect", mock.Anything, mock.Anything).Return(nil).Maybe()
	s.done = nil
}

func (s *CharacteristicTestSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			s.Fail("session did not stop after cancellation")
		}
		s.cancel = nil
	}
}

// run starts the session and waits until it holds the stub link.
func (s *CharacteristicTestSuite) run() {
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan error, 1)
	go func() { s.done <- s.session.Run(ctx) }()
	s.session.Connect()
	s.Require().Eventually(s.session.Connected, 2*time.Second, 5*time.Millisecond, "session MUST connect through the mock")
}

func (s *CharacteristicTestSuite) record(opts ...wireless.CharacteristicOption) (*wireless.Characteristic, []*wireless.Information) {
	c, err := wireless.NewCharacteristic(s.service, recordChar, wireless.ModeServerToClient, nil, opts...)
	s.Require().NoError(err)
	var infos []*wireless.Information
	for _, codec := range []encoding.Codec{encoding.Uint8, encoding.Boolean, encoding.Uint16} {
		info, err := c.AddInformation(codec, wireless.WithActive(true))
		s.Require().NoError(err)
		infos = append(infos, info)
	}
	return c, infos
}

func (s *CharacteristicTestSuite) TestRecordLayout() {
	// GOAL: Verify informations compose the characteristic record in attachment order
	//
	// TEST SCENARIO: Add uint8, bool, uint16 → size 4, zero record, indexes 0..2

	c, infos := s.record()

	s.Equal(4, c.Size(), "record size MUST be the sum of information sizes")
	s.Equal([]any{0, false, 0}, c.Value(), "record MUST start zeroed")
	for i, info := range infos {
		s.Equal(i, info.Index())
		s.Same(c, info.Characteristic())
	}
	spec := c.Spec()
	s.True(spec.Notify)
	s.False(spec.Writable)
}

func (s *CharacteristicTestSuite) TestInformationInitialValue() {
	// GOAL: Verify an information seed survives later attachments and queues a write
	//
	// TEST SCENARIO: Add uint8 with value 5 → add bool → record is [5 false], pending set

	c, err := wireless.NewCharacteristic(s.service, "2a59", wireless.ModeClientToServer, nil)
	s.Require().NoError(err)
	first, err := c.AddInformation(encoding.Uint8, wireless.WithValue(5))
	s.Require().NoError(err)
	_, err = c.AddInformation(encoding.Boolean)
	s.Require().NoError(err)

	s.Equal([]any{5, false}, c.Value(), "previous record MUST be preserved")
	s.Equal(5, first.Value())
	s.True(c.Pending(), "seeded value MUST be queued for sending")
}

func (s *CharacteristicTestSuite) TestInformationSetValue() {
	// GOAL: Verify information assignment replaces only its own slot
	//
	// TEST SCENARIO: Record [0 false] → set slot 1 to true → record [0 true]

	c, err := wireless.NewCharacteristic(s.service, "2a59", wireless.ModeClientToServer, nil)
	s.Require().NoError(err)
	_, err = c.AddInformation(encoding.Uint8)
	s.Require().NoError(err)
	flag, err := c.AddInformation(encoding.Boolean)
	s.Require().NoError(err)

	s.True(flag.SetValue(true))
	s.Equal([]any{0, true}, c.Value(), "only the information slot MUST change")
}

func (s *CharacteristicTestSuite) TestAddInformationRequiresCodec() {
	c, err := wireless.NewCharacteristic(s.service, "2a59", wireless.ModeClientToServer, nil)
	s.Require().NoError(err)
	_, err = c.AddInformation(nil)
	s.ErrorIs(err, encoding.ErrUnsupportedValue)
}

func (s *CharacteristicTestSuite) TestDuplicateCharacteristic() {
	_, err := wireless.NewCharacteristic(s.service, recordChar, wireless.ModeServerToClient, encoding.Uint8)
	s.Require().NoError(err)
	_, err = wireless.NewCharacteristic(s.service, "0x2A58", wireless.ModeServerToClient, encoding.Uint8)
	s.Error(err, "re-registering a UUID MUST fail")

	found, ok := s.session.Characteristic("2A58")
	s.True(ok, "lookup MUST be case-insensitive")
	s.Equal(recordChar, found.UUID())

	_, err = s.service.Characteristic("2a60")
	var nf *wireless.NotFoundError
	s.ErrorAs(err, &nf)
}

func (s *CharacteristicTestSuite) TestInformationChangeDetection() {
	// GOAL: Verify only informations whose slot changed fire their listeners
	//
	// TEST SCENARIO: Deliver [3 true 9] → all fire; deliver [4 true 9] → only slot 0 fires again

	c, infos := s.record()
	counts := make([]atomic.Int32, len(infos))
	for i, info := range infos {
		info.Add(func(any) { counts[i].Add(1) })
	}
	s.run()

	first, err := c.Encode([]any{3, true, 9})
	s.Require().NoError(err)
	s.endpoint.Deliver(first)
	s.Eventually(func() bool { return counts[2].Load() == 1 }, time.Second, 5*time.Millisecond)
	for i := range counts {
		s.Equal(int32(1), counts[i].Load(), "information %d MUST fire once", i)
	}
	s.Equal(9, infos[2].Value())

	second, err := c.Encode([]any{4, true, 9})
	s.Require().NoError(err)
	s.endpoint.Deliver(second)
	s.Eventually(func() bool { return counts[0].Load() == 2 }, time.Second, 5*time.Millisecond,
		"changed information MUST fire again")
	time.Sleep(50 * time.Millisecond)

	s.Equal(int32(1), counts[1].Load(), "unchanged information MUST NOT fire")
	s.Equal(int32(1), counts[2].Load(), "unchanged information MUST NOT fire")
}

func (s *CharacteristicTestSuite) TestDuplicateValueIgnored() {
	// GOAL: Verify a repeated inbound value does not fire listeners twice
	//
	// TEST SCENARIO: Deliver 7 twice → one callback

	c, err := wireless.NewCharacteristic(s.service, recordChar, wireless.ModeServerToClient, encoding.Uint8, wireless.WithActive(true))
	s.Require().NoError(err)
	var fired atomic.Int32
	c.Add(func(any) { fired.Add(1) })
	s.run()

	s.endpoint.Deliver([]byte{7})
	s.endpoint.Deliver([]byte{7})
	s.Eventually(func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	s.Equal(int32(1), fired.Load(), "duplicate value MUST be ignored")
}

func (s *CharacteristicTestSuite) TestUndecodableValueIgnored() {
	// GOAL: Verify buffers of the wrong width are dropped
	//
	// TEST SCENARIO: Deliver two bytes to a uint8 characteristic → value unchanged

	c, err := wireless.NewCharacteristic(s.service, recordChar, wireless.ModeServerToClient, encoding.Uint8, wireless.WithActive(true))
	s.Require().NoError(err)
	s.run()

	s.endpoint.Deliver([]byte{1, 2})
	s.endpoint.Deliver([]byte{9})
	s.Eventually(func() bool { return c.Value() == 9 }, time.Second, 5*time.Millisecond)
}

func (s *CharacteristicTestSuite) TestReadFailureRetried() {
	// GOAL: Verify read errors back off and the next value is delivered exactly once
	//
	// TEST SCENARIO: Three failing reads with 20ms backoff → value arrives after the backoffs → one update, no repeats

	const backoff = 20 * time.Millisecond
	c, err := wireless.NewCharacteristic(s.service, recordChar, wireless.ModeServerToClient, encoding.Uint8,
		wireless.WithActive(true), wireless.WithBackoff(backoff, 0))
	s.Require().NoError(err)
	var updates atomic.Int32
	c.Add(func(any) { updates.Add(1) })

	s.endpoint.FailReads(3)
	s.endpoint.Deliver([]byte{4})
	start := time.Now()
	s.run()

	s.Require().Eventually(func() bool { return updates.Load() == 1 }, 3*backoff+time.Second, 5*time.Millisecond,
		"value MUST arrive once the failing reads are exhausted")
	s.GreaterOrEqual(time.Since(start), 3*backoff, "each failed read MUST wait out the backoff")
	s.Equal(4, c.Value())
	s.Never(func() bool { return updates.Load() > 1 }, 5*backoff, 5*time.Millisecond,
		"a single delivered value MUST produce a single update")
}

func (s *CharacteristicTestSuite) TestInformationActivityDrivesCharacteristic() {
	// GOAL: Verify the characteristic pauses when no information is active and resumes with them
	//
	// TEST SCENARIO: Connected → pause every information → characteristic pauses; resume one → characteristic resumes

	c, infos := s.record(wireless.WithRefresh(20 * time.Millisecond))
	s.run()
	s.Eventually(c.IsActive, time.Second, 5*time.Millisecond, "characteristic MUST open with its informations")

	for _, info := range infos {
		info.Pause()
	}
	s.Eventually(func() bool { return !c.IsActive() }, time.Second, 5*time.Millisecond,
		"characteristic MUST pause without active informations")

	infos[1].Resume()
	s.True(infos[1].IsActive(), "resumed information MUST open while linked")
	s.Eventually(c.IsActive, time.Second, 5*time.Millisecond, "characteristic MUST resume with an active information")
}

func (s *CharacteristicTestSuite) TestInactiveInformationSilent() {
	// GOAL: Verify an information that is not wanted never fires
	//
	// TEST SCENARIO: Slot 1 added with WithActive(false) → deliver change → no callback

	c, err := wireless.NewCharacteristic(s.service, recordChar, wireless.ModeServerToClient, nil)
	s.Require().NoError(err)
	level, err := c.AddInformation(encoding.Uint8, wireless.WithActive(true))
	s.Require().NoError(err)
	quiet, err := c.AddInformation(encoding.Uint8)
	s.Require().NoError(err)

	var fired atomic.Int32
	quiet.Add(func(any) { fired.Add(1) })
	s.run()

	data, err := c.Encode([]any{1, 2})
	s.Require().NoError(err)
	s.endpoint.Deliver(data)
	s.Eventually(func() bool { return level.Value() == 1 }, time.Second, 5*time.Millisecond)

	s.False(quiet.IsActive())
	s.Equal(int32(0), fired.Load(), "inactive information MUST NOT fire")
}

func (s *CharacteristicTestSuite) TestModeDirections() {
	cases := []struct {
		mode        wireless.Mode
		role        wireless.Role
		read, write bool
	}{
		{wireless.ModeServerToClient, wireless.RolePeripheral, false, true},
		{wireless.ModeServerToClient, wireless.RoleCentral, true, false},
		{wireless.ModeClientToServer, wireless.RolePeripheral, true, false},
		{wireless.ModeClientToServer, wireless.RoleCentral, false, true},
		{wireless.ModeBidirectional, wireless.RoleCentral, true, true},
		{wireless.ModeNone, wireless.RoleCentral, false, false},
		{wireless.ModeBidirectional, wireless.RoleNone, false, false},
	}
	for _, tc := range cases {
		read, write := tc.mode.Directions(tc.role)
		s.Equal(tc.read, read, "%s as %s read", tc.mode, tc.role)
		s.Equal(tc.write, write, "%s as %s write", tc.mode, tc.role)
	}
}

func TestCharacteristicTestSuite(t *testing.T) {
	suite.Run(t, new(CharacteristicTestSuite))
}
