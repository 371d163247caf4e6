// Package wireless keeps the two BikeLight nodes linked: a GAP session that
// seeks, accepts and tears down the single connection, and a GATT model of
// services, characteristics and sub-field informations that bridges
// transport bytes to the reactive engine.
package wireless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/bikelight/internal/groutine"
	"github.com/srg/bikelight/pkg/reactive"
)

const (
	DefaultConnectionInterval = time.Second
	DefaultConnectBackoff     = 2 * time.Second
	DefaultDisconnectBackoff  = 2 * time.Second
	DefaultConnectTimeout     = 10 * time.Second
)

// SessionOptions configures a Session.
type SessionOptions struct {
	// Name is advertised while acting as peripheral.
	Name               string
	ConnectionInterval time.Duration
	ConnectBackoff     time.Duration
	DisconnectBackoff  time.Duration
	ConnectTimeout     time.Duration
	Logger             *logrus.Logger
}

func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Name:               "BikeLight",
		ConnectionInterval: DefaultConnectionInterval,
		ConnectBackoff:     DefaultConnectBackoff,
		DisconnectBackoff:  DefaultDisconnectBackoff,
		ConnectTimeout:     DefaultConnectTimeout,
	}
}

// Session owns the GAP role, the target filter and the single live
// connection, and drives characteristic activation from link health.
type Session struct {
	transport Transport
	opts      SessionOptions
	logger    *logrus.Logger
	log       *logrus.Entry

	connMutex sync.RWMutex
	role      Role
	target    *Target
	conn      Conn
	state     State
	services  []*Service

	index *hashmap.Map[string, *Characteristic]

	connecting    *reactive.Signal
	disconnecting *reactive.Signal
	status        *reactive.Signal
	events        *reactive.Action[Event]
}

func NewSession(transport Transport, opts SessionOptions) *Session {
	defaults := DefaultSessionOptions()
	if opts.ConnectionInterval <= 0 {
		opts.ConnectionInterval = defaults.ConnectionInterval
	}
	if opts.ConnectBackoff <= 0 {
		opts.ConnectBackoff = defaults.ConnectBackoff
	}
	if opts.DisconnectBackoff <= 0 {
		opts.DisconnectBackoff = defaults.DisconnectBackoff
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	return &Session{
		transport:     transport,
		opts:          opts,
		logger:        opts.Logger,
		log:           opts.Logger.WithField("component", "session"),
		index:         hashmap.New[string, *Characteristic](),
		connecting:    &reactive.Signal{},
		disconnecting: &reactive.Signal{},
		status:        &reactive.Signal{},
		events:        reactive.NewAction[Event]("session-events", opts.Logger),
	}
}

// SetAsCentral makes the session scan for and connect to target.
func (s *Session) SetAsCentral(target *Target) {
	s.setRole(RoleCentral, target)
}

// SetAsPeripheral makes the session advertise and accept a central
// matching target.
func (s *Session) SetAsPeripheral(target *Target) {
	s.setRole(RolePeripheral, target)
}

// Reset clears role and target.
func (s *Session) Reset() {
	s.setRole(RoleNone, nil)
}

func (s *Session) setRole(role Role, target *Target) {
	s.connMutex.Lock()
	s.role, s.target = role, target
	s.connMutex.Unlock()
	s.log.WithFields(logrus.Fields{"role": role, "target": target}).Info("Role configured")
}

func (s *Session) Role() Role {
	s.connMutex.RLock()
	defer s.connMutex.RUnlock()
	return s.role
}

func (s *Session) IsCentral() bool    { return s.Role() == RoleCentral }
func (s *Session) IsPeripheral() bool { return s.Role() == RolePeripheral }

func (s *Session) Target() *Target {
	s.connMutex.RLock()
	defer s.connMutex.RUnlock()
	return s.target
}

func (s *Session) Name() string { return s.opts.Name }

func (s *Session) Logger() *logrus.Logger { return s.logger }

// Connection returns the live link or nil.
func (s *Session) Connection() Conn {
	s.connMutex.RLock()
	defer s.connMutex.RUnlock()
	return s.conn
}

// Connected reports whether a live link is held.
func (s *Session) Connected() bool {
	conn := s.Connection()
	return conn != nil && conn.Connected()
}

func (s *Session) State() State {
	s.connMutex.RLock()
	defer s.connMutex.RUnlock()
	return s.state
}

// Status is set on every connect and disconnect. Observers clear it after
// handling.
func (s *Session) Status() *reactive.Signal { return s.status }

// Events publishes state transitions, connections and failures.
func (s *Session) Events() *reactive.Action[Event] { return s.events }

// Services returns the registered services in registration order.
func (s *Session) Services() []*Service {
	s.connMutex.RLock()
	defer s.connMutex.RUnlock()
	return append([]*Service(nil), s.services...)
}

// Characteristic looks up a registered characteristic by UUID.
func (s *Session) Characteristic(uuid string) (*Characteristic, bool) {
	return s.index.Get(NormalizeUUID(uuid))
}

// Characteristics returns every registered characteristic in service and
// attachment order.
func (s *Session) Characteristics() []*Characteristic {
	var out []*Characteristic
	for _, svc := range s.Services() {
		out = append(out, svc.Characteristics()...)
	}
	return out
}

func (s *Session) addService(svc *Service) error {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	for _, existing := range s.services {
		if existing.uuid == svc.uuid {
			return fmt.Errorf("service %s already registered", svc.uuid)
		}
	}
	s.services = append(s.services, svc)
	return nil
}

func (s *Session) register(c *Characteristic) {
	s.index.Set(c.UUID(), c)
}

// Connect asks the session to seek and hold a link.
func (s *Session) Connect() {
	s.log.Debug("Connect requested")
	s.disconnecting.Clear()
	s.connecting.Set()
}

// Disconnect asks the session to drop the link and stop seeking.
func (s *Session) Disconnect() {
	s.log.Debug("Disconnect requested")
	s.connecting.Clear()
	s.disconnecting.Set()
}

// Run drives the connecting and disconnecting loops and every registered
// characteristic until ctx is done. The role must be configured first.
func (s *Session) Run(ctx context.Context) error {
	var g groutine.Group
	g.Go(ctx, "session-connecting", s.connectingLoop)
	g.Go(ctx, "session-disconnecting", s.disconnectingLoop)
	for _, c := range s.Characteristics() {
		g.Go(ctx, "characteristic-"+ShortenUUID(c.UUID()), c.Run)
	}
	return g.Wait()
}

// Close drops any live link immediately, outside the loops. Used on
// shutdown after Run returned.
func (s *Session) Close(ctx context.Context) error {
	conn := s.Connection()
	if conn == nil {
		return nil
	}
	err := s.transport.Disconnect(ctx, conn)
	s.onDisconnected(conn)
	return err
}

func (s *Session) connectingLoop(ctx context.Context) error {
	for {
		if err := s.connecting.Wait(ctx); err != nil {
			return err
		}

		if !s.Connected() {
			if stale := s.Connection(); stale != nil {
				s.onDisconnected(stale)
			}
			switch s.Role() {
			case RoleCentral:
				s.setState(StateSeeking)
				s.attempt(ctx, "scan", s.opts.ConnectBackoff, s.scan)
			case RolePeripheral:
				s.setState(StateSeeking)
				s.attempt(ctx, "advertise", s.opts.ConnectBackoff, s.advertise)
			}
		}

		if conn := s.Connection(); conn != nil && conn.Connected() {
			err := s.transport.WaitForDisconnect(ctx, conn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				s.log.WithError(err).Warn("Waiting for disconnect failed")
			}
			s.onDisconnected(conn)
		}

		if err := reactive.Sleep(ctx, s.opts.ConnectionInterval); err != nil {
			return err
		}
	}
}

func (s *Session) disconnectingLoop(ctx context.Context) error {
	for {
		if err := s.disconnecting.Wait(ctx); err != nil {
			return err
		}

		if conn := s.Connection(); conn != nil && conn.Connected() {
			s.setState(StateTearingDown)
			ok := s.attempt(ctx, "disconnect", s.opts.DisconnectBackoff, func(ctx context.Context) error {
				return s.transport.Disconnect(ctx, conn)
			})
			if ok {
				s.onDisconnected(conn)
			}
		} else if s.State() != StateIdle && s.Connection() == nil {
			s.setState(StateIdle)
		}

		if err := reactive.Sleep(ctx, s.opts.ConnectionInterval); err != nil {
			return err
		}
	}
}

// attempt runs fn and swallows its failure: the error is logged and
// published, then the caller sleeps backoff. It reports success.
func (s *Session) attempt(ctx context.Context, action string, backoff time.Duration, fn func(ctx context.Context) error) bool {
	err := fn(ctx)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	err = NormalizeError(err)
	s.log.WithError(err).WithField("action", action).Error("Wireless operation failed")
	s.publish(Event{Kind: EventFailure, Err: fmt.Errorf("%s: %w", action, err)})
	_ = reactive.Sleep(ctx, backoff)
	return false
}

func (s *Session) scan(ctx context.Context) error {
	return s.transport.Scan(ctx, func(p Peer) bool {
		return s.tryCandidate(ctx, p)
	})
}

// tryCandidate returns true when scanning should stop: a candidate matched,
// whether or not the connection then succeeded.
func (s *Session) tryCandidate(ctx context.Context, p Peer) bool {
	if !s.Target().Match(p) {
		s.log.WithFields(logrus.Fields{"name": p.Name(), "address": p.Address()}).Trace("Ignoring candidate")
		return false
	}
	if s.Connection() != nil || !s.connecting.IsSet() {
		return true
	}

	var conn Conn
	ok := s.attempt(ctx, "connect", s.opts.ConnectBackoff, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
		c, err := s.transport.Connect(cctx, p)
		conn = c
		return err
	})
	if !ok || conn == nil {
		return true
	}

	// Some backends only learn the peer's identity once linked.
	if !s.Target().Match(conn) {
		s.reject(ctx, conn)
		return true
	}

	if cur := s.Connection(); cur != nil && cur != conn {
		s.refuse(ctx, conn)
		return true
	}

	if !s.attempt(ctx, "bind client", s.opts.ConnectBackoff, func(ctx context.Context) error {
		return s.client(ctx, conn)
	}) {
		if err := s.transport.Disconnect(ctx, conn); err != nil {
			s.log.WithError(err).Warn("Dropping half-bound link failed")
		}
		return true
	}

	s.onConnected(ctx, conn)
	return true
}

func (s *Session) advertise(ctx context.Context) error {
	if err := s.server(ctx); err != nil {
		return err
	}
	conn, err := s.transport.Advertise(ctx, s.opts.Name, s.serviceUUIDs())
	if err != nil {
		return err
	}
	if conn == nil {
		return nil
	}
	if !s.Target().Match(conn) {
		s.reject(ctx, conn)
		return nil
	}
	s.onConnected(ctx, conn)
	return nil
}

// reject actively drops a link to a peer that does not match the target.
func (s *Session) reject(ctx context.Context, conn Conn) {
	s.log.WithFields(logrus.Fields{
		"name":    conn.Name(),
		"address": conn.Address(),
		"target":  s.Target(),
	}).Warn("Rejecting peer not matching target")
	s.publish(Event{Kind: EventRejected, Name: conn.Name(), Address: conn.Address()})
	if err := s.transport.Disconnect(ctx, conn); err != nil {
		s.log.WithError(err).Warn("Dropping rejected peer failed")
	}
}

func (s *Session) serviceUUIDs() []string {
	services := s.Services()
	out := make([]string, 0, len(services))
	for _, svc := range services {
		out = append(out, svc.UUID())
	}
	return out
}

func (s *Session) specs() []ServiceSpec {
	services := s.Services()
	out := make([]ServiceSpec, 0, len(services))
	for _, svc := range services {
		out = append(out, svc.Spec())
	}
	return out
}

// server realizes the registered services as the local GATT server.
func (s *Session) server(ctx context.Context) error {
	eps, err := s.transport.BuildServer(ctx, s.specs())
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	s.bind(eps)
	return nil
}

// client binds the registered services to the peer's GATT server.
func (s *Session) client(ctx context.Context, conn Conn) error {
	eps, err := s.transport.BindClient(ctx, conn, s.specs())
	if err != nil {
		return fmt.Errorf("bind client: %w", err)
	}
	s.bind(eps)
	return nil
}

func (s *Session) bind(eps Endpoints) {
	for _, svc := range s.Services() {
		for _, c := range svc.Characteristics() {
			ep, ok := eps[c.UUID()]
			if !ok {
				err := &NotFoundError{Resource: "characteristic", UUIDs: []string{svc.UUID(), c.UUID()}}
				s.log.WithError(err).Warn("Characteristic left unbound")
			}
			c.bind(ep)
		}
	}
}

// refuse drops a link that arrived while another one is held.
func (s *Session) refuse(ctx context.Context, conn Conn) {
	s.log.WithError(ErrAlreadyConnected).WithFields(logrus.Fields{
		"name":    conn.Name(),
		"address": conn.Address(),
	}).Error("Refusing second link")
	if err := s.transport.Disconnect(ctx, conn); err != nil {
		s.log.WithError(err).Warn("Dropping refused link failed")
	}
}

// onConnected adopts conn as the session link. A second link is refused
// and disconnected, leaving the held one untouched.
func (s *Session) onConnected(ctx context.Context, conn Conn) bool {
	s.connMutex.Lock()
	if s.conn != nil && s.conn != conn {
		s.connMutex.Unlock()
		s.refuse(ctx, conn)
		return false
	}
	s.conn = conn
	s.state = StateConnected
	s.connMutex.Unlock()

	s.log.WithFields(logrus.Fields{"name": conn.Name(), "address": conn.Address()}).Info("Connected")
	for _, c := range s.Characteristics() {
		c.setLinkActivation(true)
	}
	s.status.Set()
	s.publish(Event{Kind: EventConnected, State: StateConnected, Name: conn.Name(), Address: conn.Address()})
	return true
}

// onDisconnected runs the disconnect side effects once per link; later
// calls for the same link are ignored.
func (s *Session) onDisconnected(conn Conn) {
	s.connMutex.Lock()
	old := s.conn
	if old == nil || (conn != nil && old != conn) {
		s.connMutex.Unlock()
		return
	}
	s.conn = nil
	s.state = StateIdle
	s.connMutex.Unlock()

	s.log.WithField("address", old.Address()).Info("Disconnected")
	for _, c := range s.Characteristics() {
		c.setLinkActivation(false)
		c.bind(nil)
	}
	s.status.Set()
	s.publish(Event{Kind: EventDisconnected, State: StateIdle, Name: old.Name(), Address: old.Address()})
}

func (s *Session) setState(state State) {
	s.connMutex.Lock()
	changed := s.state != state
	s.state = state
	s.connMutex.Unlock()
	if changed {
		s.log.WithField("state", state).Debug("State changed")
		s.publish(Event{Kind: EventStateChanged, State: state})
	}
}

func (s *Session) publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.events.Callback(e)
}

// IsCancellation reports whether err only signals a finished context.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
