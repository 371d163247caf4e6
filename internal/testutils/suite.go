package testutils

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bikelight/internal/transport/loopback"
	"github.com/srg/bikelight/pkg/wireless"
)

// FastTiming keeps loopback radio windows short enough for unit tests.
func FastTiming() wireless.Timing {
	return wireless.Timing{
		ScanDuration:   100 * time.Millisecond,
		ConnectTimeout: 200 * time.Millisecond,
		IOTimeout:      50 * time.Millisecond,
	}
}

// FastSessionOptions shortens every session interval for tests.
func FastSessionOptions(name string, logger *logrus.Logger) wireless.SessionOptions {
	return wireless.SessionOptions{
		Name:               name,
		ConnectionInterval: 10 * time.Millisecond,
		ConnectBackoff:     20 * time.Millisecond,
		DisconnectBackoff:  20 * time.Millisecond,
		ConnectTimeout:     200 * time.Millisecond,
		Logger:             logger,
	}
}

// NewTestLogger returns a logger at debug level so failing tests show the
// execution flow.
func NewTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

// TransportSuite provides a fresh loopback hub per test and runs sessions
// under a context cancelled on teardown.
//
// Usage:
//
//	type LinkSuite struct {
//	    testutils.TransportSuite
//	}
//
//	func (s *LinkSuite) TestSomething() {
//	    peripheral := s.NewSession("Rear", "AA:00:00:00:00:01")
//	    ...
//	    s.Start(peripheral)
//	}
type TransportSuite struct {
	suite.Suite

	Logger *logrus.Logger
	Hub    *loopback.Hub

	ctx    context.Context
	cancel context.CancelFunc
	done   []chan error
}

func (s *TransportSuite) SetupTest() {
	s.Logger = NewTestLogger()
	s.Hub = loopback.NewHub(FastTiming(), s.Logger)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = nil
}

func (s *TransportSuite) TearDownTest() {
	s.cancel()
	for _, done := range s.done {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			s.Fail("session did not stop after cancellation")
		}
	}
}

// Context is cancelled when the test ends.
func (s *TransportSuite) Context() context.Context { return s.ctx }

// NewSession creates a session on its own loopback transport.
func (s *TransportSuite) NewSession(name, address string) (*wireless.Session, *loopback.Transport) {
	tr := s.Hub.Transport(name, address)
	return wireless.NewSession(tr, FastSessionOptions(name, s.Logger)), tr
}

// Start runs the session until the test ends.
func (s *TransportSuite) Start(sessions ...*wireless.Session) {
	for _, session := range sessions {
		done := make(chan error, 1)
		s.done = append(s.done, done)
		go func(session *wireless.Session) {
			done <- session.Run(s.ctx)
		}(session)
	}
}

// Eventually asserts cond becomes true within two seconds.
func (s *TransportSuite) Eventually(cond func() bool, msg string) {
	s.Require().Eventually(cond, 2*time.Second, 5*time.Millisecond, msg)
}
