package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bikelight/internal/testutils"
	"github.com/srg/bikelight/internal/transport/loopback"
	"github.com/srg/bikelight/pkg/bikelight"
	"github.com/srg/bikelight/pkg/config"
	"github.com/srg/bikelight/pkg/wireless"
)

const fastConfig = `
log_level: error
timing:
  connection_interval: 10ms
  connect_backoff: 20ms
  disconnect_backoff: 20ms
  characteristic_refresh: 20ms
  connect_timeout: 200ms
  io_timeout: 50ms
  scan_duration: 100ms
`

// CommandTestSuite runs commands through the root command with a fast
// configuration file.
type CommandTestSuite struct {
	suite.Suite
	configPath string
}

func (s *CommandTestSuite) SetupTest() {
	s.configPath = filepath.Join(s.T().TempDir(), "bikelight.yaml")
	s.Require().NoError(os.WriteFile(s.configPath, []byte(fastConfig), 0o600))

	// cobra keeps flag values between executions
	simulateAssignments, simulateDemo, simulateDuration = nil, false, 5*time.Second
	runAssignments, runRole, runBackend = nil, "", ""
	s.Require().NoError(rootCmd.PersistentFlags().Set("log-level", ""))
	s.Require().NoError(rootCmd.PersistentFlags().Set("verbose", "false"))
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func (s *CommandTestSuite) newNode(label, address string) *node {
	cfg, err := config.Load(s.configPath)
	s.Require().NoError(err)
	logger := testutils.NewTestLogger()
	hub := loopback.NewHub(cfg.TransportTiming(), logger)
	n, err := newNode(label, hub.Transport(label, address), cfg, logger)
	s.Require().NoError(err, "node MUST build on a fresh transport")
	return n
}

func (s *CommandTestSuite) TestProfileCommand() {
	// GOAL: Verify the profile command prints every field of both characteristics
	//
	// TEST SCENARIO: Execute profile → output lists service, characteristics and fields

	out, err := s.ExecuteCommand("profile", "--config", s.configPath)
	s.Require().NoError(err)

	s.Contains(out, bikelight.ServiceUUID)
	s.Contains(out, "BleGeneric")
	s.Contains(out, "server-to-client")
	s.Contains(out, "BleBack")
	s.Contains(out, "client-to-server")
	for _, field := range []string{"BleRearActivation", "BleBrakeBrightness", "GeneralEco", "BleBackTemperature", "BleBackBattery"} {
		s.Contains(out, field, "profile MUST list %s", field)
	}
}

func (s *CommandTestSuite) TestSimulateExchangesAssignments() {
	// GOAL: Verify simulate links both nodes and delivers assignments across
	//
	// TEST SCENARIO: simulate --set rear brightness and battery → back prints brightness, front prints battery

	out, err := s.ExecuteCommand("simulate", "--config", s.configPath, "--duration", "1500ms",
		"--set", "BleRearBrightness=60", "--set", "BleBackBattery=3.5")
	s.Require().NoError(err, "simulation MUST end cleanly at its deadline")

	s.Regexp(`\[Bluefruit\] \S+ connected BikeLight`, out, "back MUST report the link")
	s.Contains(out, "[Bluefruit] BleRearBrightness = 60", "back MUST receive the front assignment")
	s.Contains(out, "[BikeLight] BleBackBattery = 3.5", "front MUST receive the back assignment")
	s.Contains(out, "events recorded", "history MUST be reported on exit")
}

func (s *CommandTestSuite) TestSimulateRejectsUnknownField() {
	// GOAL: Verify assignments naming no profile field fail before linking
	//
	// TEST SCENARIO: simulate --set Missing=1 → ErrUnknownField

	_, err := s.ExecuteCommand("simulate", "--config", s.configPath, "--set", "Missing=1")
	s.ErrorIs(err, ErrUnknownField)
}

func (s *CommandTestSuite) TestRunRejectsLoopbackBackend() {
	// GOAL: Verify run refuses the in-process backend
	//
	// TEST SCENARIO: run --backend loopback → unsupported error with a hint

	_, err := s.ExecuteCommand("run", "--config", s.configPath, "--backend", "loopback", "--role", "central")
	s.ErrorIs(err, wireless.ErrUnsupported)
	s.Contains(formatUserError(err), "simulate")
}

func (s *CommandTestSuite) TestInvalidLogLevel() {
	_, err := s.ExecuteCommand("profile", "--log-level", "loud")
	s.Error(err, "unknown log level MUST be rejected")
}

func (s *CommandTestSuite) TestNodeAssign() {
	// GOAL: Verify assignments parse with the field codec and respect field direction
	//
	// TEST SCENARIO: front node → set generic field ok, back field read-only, malformed input rejected

	front := s.newNode(bikelight.FrontName, bikelight.FrontAddress)
	s.Require().NoError(front.configure(wireless.RolePeripheral, nil))

	s.NoError(front.assign("BleRearActivation=true"))
	s.Equal(true, front.profile.RearActivation.Value())
	s.NoError(front.assign(" BleRearFrequency = 2.5 "), "assignment MUST tolerate spaces")
	s.Equal(2.5, front.profile.RearFrequency.Value())

	s.ErrorIs(front.assign("BleBackBattery=3.7"), ErrReadOnly, "front MUST NOT assign back telemetry")
	s.ErrorIs(front.assign("Nope=1"), ErrUnknownField)
	s.Error(front.assign("BleRearBrightness"), "assignment without '=' MUST fail")
	s.Error(front.assign("BleRearBrightness=bright"), "unparsable value MUST fail")
}

func (s *CommandTestSuite) TestNodeConfigureRequiresRole() {
	n := s.newNode(bikelight.BackName, bikelight.BackAddress)
	s.ErrorIs(n.configure(wireless.RoleNone, nil), wireless.ErrNoRole)
}

func (s *CommandTestSuite) TestScanPeersReportsEachAddressOnce() {
	// GOAL: Verify scanning reports every matching advertiser once across windows
	//
	// TEST SCENARIO: mock reports front twice per window plus a stranger → filter on service → one report

	front := wireless.PeerInfo{LocalName: bikelight.FrontName, Addr: bikelight.FrontAddress, ServiceUUIDs: []string{bikelight.ServiceUUID}}
	frontLower := wireless.PeerInfo{LocalName: bikelight.FrontName, Addr: "24:58:7c:dc:4f:92", ServiceUUIDs: []string{bikelight.ServiceUUID}}
	stranger := wireless.PeerInfo{LocalName: "Phone", Addr: "11:22:33:44:55:66", ServiceUUIDs: []string{"180d"}}

	tr := &testutils.MockTransport{}
	tr.On("Scan", mock.Anything, mock.Anything).
		Run(testutils.ScanReporting(front, stranger, frontLower)).
		After(5 * time.Millisecond).
		Return(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var reported []wireless.Peer
	err := scanPeers(ctx, tr, &wireless.Target{Services: []string{bikelight.ServiceUUID}}, func(p wireless.Peer) {
		reported = append(reported, p)
	})
	s.Require().NoError(err)
	s.Require().Len(reported, 1, "front MUST be reported once regardless of address case")
	s.Equal(bikelight.FrontName, reported[0].Name())
}

func (s *CommandTestSuite) TestScanPeersFailure() {
	tr := &testutils.MockTransport{}
	tr.On("Scan", mock.Anything, mock.Anything).Return(testutils.ErrStub).Once()

	err := scanPeers(context.Background(), tr, nil, func(wireless.Peer) {})
	s.True(errors.Is(err, testutils.ErrStub), "scan failure MUST surface")
}

func (s *CommandTestSuite) TestFormatVersion() {
	s.Equal("v1.2.0", formatVersion("1.2.0"))
	s.Equal("dev", formatVersion("dev"))
}

func TestCommandTestSuite(t *testing.T) {
	suite.Run(t, new(CommandTestSuite))
}
