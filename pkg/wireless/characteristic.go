package wireless

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bikelight/internal/groutine"
	"github.com/srg/bikelight/pkg/encoding"
	"github.com/srg/bikelight/pkg/reactive"
)

// Mode is the declared direction of a characteristic's values.
type Mode int

const (
	ModeNone Mode = iota
	// ModeServerToClient: the GATT server (peripheral) produces values.
	ModeServerToClient
	// ModeClientToServer: the GATT client (central) produces values.
	ModeClientToServer
	ModeBidirectional
)

func (m Mode) String() string {
	switch m {
	case ModeServerToClient:
		return "server-to-client"
	case ModeClientToServer:
		return "client-to-server"
	case ModeBidirectional:
		return "bidirectional"
	default:
		return "none"
	}
}

func (m Mode) serverWrites() bool { return m == ModeServerToClient || m == ModeBidirectional }
func (m Mode) clientWrites() bool { return m == ModeClientToServer || m == ModeBidirectional }

// Directions reports whether a node in role reads and writes values.
func (m Mode) Directions(role Role) (read, write bool) {
	switch role {
	case RolePeripheral:
		return m.clientWrites(), m.serverWrites()
	case RoleCentral:
		return m.serverWrites(), m.clientWrites()
	}
	return false, false
}

const (
	DefaultCharacteristicRefresh = 5 * time.Second
	DefaultReadBackoff           = 100 * time.Millisecond
	DefaultWriteBackoff          = 100 * time.Millisecond
)

type charSettings struct {
	name            string
	initial         any
	waitRefresh     time.Duration
	waitChange      time.Duration
	readBackoff     time.Duration
	writeBackoff    time.Duration
	checkValue      bool
	initiallyActive bool
}

// CharacteristicOption configures a Characteristic or Information.
type CharacteristicOption func(*charSettings)

func WithCharacteristicName(name string) CharacteristicOption {
	return func(s *charSettings) { s.name = name }
}

// WithValue seeds the value and queues it for sending once linked.
func WithValue(v any) CharacteristicOption {
	return func(s *charSettings) { s.initial = v }
}

// WithRefresh sets the cadence of the information activity check.
func WithRefresh(d time.Duration) CharacteristicOption {
	return func(s *charSettings) { s.waitRefresh = d }
}

// WithSettle adds a delay after every accepted inbound value.
func WithSettle(d time.Duration) CharacteristicOption {
	return func(s *charSettings) { s.waitChange = d }
}

func WithBackoff(read, write time.Duration) CharacteristicOption {
	return func(s *charSettings) {
		if read > 0 {
			s.readBackoff = read
		}
		if write > 0 {
			s.writeBackoff = write
		}
	}
}

func WithValueCheck(check bool) CharacteristicOption {
	return func(s *charSettings) { s.checkValue = check }
}

// WithActive marks the characteristic or information as wanted, so it
// activates whenever the link is up.
func WithActive(active bool) CharacteristicOption {
	return func(s *charSettings) { s.initiallyActive = active }
}

func applyCharOptions(name string, opts []CharacteristicOption) charSettings {
	s := charSettings{
		name:         name,
		waitRefresh:  DefaultCharacteristicRefresh,
		readBackoff:  DefaultReadBackoff,
		writeBackoff: DefaultWriteBackoff,
		checkValue:   true,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Characteristic is a fixed-width GATT value bridged to the reactive engine.
// With informations attached its value is a []any record, one slot per
// information in attachment order.
type Characteristic struct {
	*reactive.Action[any]

	uuid    string
	mode    Mode
	service *Service
	log     *logrus.Entry
	opts    charSettings

	mu       sync.RWMutex
	codec    encoding.Codec
	value    any
	seq      uint64
	wanted   bool
	endpoint Endpoint
	link     context.Context
	unlink   context.CancelFunc
	fields   []*Information

	gate    *reactive.Signal
	pending *reactive.Signal
}

// NewCharacteristic registers a characteristic on svc. codec may be nil when
// the value is composed of informations added later.
func NewCharacteristic(svc *Service, uuid string, mode Mode, codec encoding.Codec, opts ...CharacteristicOption) (*Characteristic, error) {
	normalized := NormalizeUUID(uuid)
	if normalized == "" {
		return nil, fmt.Errorf("invalid characteristic UUID: %s", uuid)
	}
	s := applyCharOptions(ShortenUUID(normalized), opts)
	logger := svc.Session().Logger()

	c := &Characteristic{
		Action:  reactive.NewAction[any](s.name, logger),
		uuid:    normalized,
		mode:    mode,
		service: svc,
		log:     logger.WithFields(logrus.Fields{"component": "characteristic", "name": s.name, "uuid": normalized}),
		opts:    s,
		codec:   codec,
		wanted:  s.initiallyActive,
		gate:    &reactive.Signal{},
		pending: &reactive.Signal{},
	}
	if s.initial != nil {
		c.value = s.initial
		c.pending.Set()
	}

	if err := svc.add(c); err != nil {
		return nil, err
	}
	svc.Session().register(c)
	return c, nil
}

func (c *Characteristic) UUID() string { return c.uuid }

func (c *Characteristic) Name() string { return c.opts.name }

func (c *Characteristic) Mode() Mode { return c.mode }

func (c *Characteristic) Service() *Service { return c.service }

func (c *Characteristic) Codec() encoding.Codec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.codec
}

// Size is the wire width in bytes.
func (c *Characteristic) Size() int {
	if codec := c.Codec(); codec != nil {
		return codec.Size()
	}
	return 0
}

func (c *Characteristic) Spec() CharacteristicSpec {
	return CharacteristicSpec{
		UUID:     c.uuid,
		Size:     c.Size(),
		Notify:   c.mode.serverWrites(),
		Writable: c.mode.clientWrites(),
	}
}

func (c *Characteristic) Encode(v any) ([]byte, error) {
	codec := c.Codec()
	if codec == nil {
		return nil, fmt.Errorf("characteristic %s has no codec: %w", c.uuid, encoding.ErrUnsupportedValue)
	}
	return codec.Encode(v)
}

// Decode returns nil for buffers the codec cannot decode.
func (c *Characteristic) Decode(data []byte) any {
	codec := c.Codec()
	if codec == nil {
		return nil
	}
	return codec.Decode(data)
}

func (c *Characteristic) Value() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// SetValue assigns an outbound value and queues it for writing. It reports
// false when the local role never writes this characteristic.
func (c *Characteristic) SetValue(v any) bool {
	return c.assign(func(any) (any, bool) { return v, true })
}

// assign replaces the value with the result of fn under the value lock.
func (c *Characteristic) assign(fn func(current any) (any, bool)) bool {
	if role := c.service.Session().Role(); role != RoleNone {
		if _, write := c.mode.Directions(role); !write {
			c.log.WithField("role", role).Debug("Ignoring assignment to inbound characteristic")
			return false
		}
	}
	c.mu.Lock()
	next, ok := fn(c.value)
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.value = next
	c.seq++
	c.mu.Unlock()
	c.pending.Set()
	return true
}

// Pending reports whether an assigned value still waits to be written.
func (c *Characteristic) Pending() bool { return c.pending.IsSet() }

// IsActive reports whether the characteristic's loops may run.
func (c *Characteristic) IsActive() bool { return c.gate.IsSet() }

// Update fires the characteristic's listeners and those of every
// information whose slot changed.
func (c *Characteristic) Update() {
	c.Callback(c.Value())
	for _, info := range c.snapshotFields() {
		info.Update()
	}
}

// Pause stops traffic and clears the wanted flag along with every active
// information.
func (c *Characteristic) Pause() {
	c.mu.Lock()
	c.wanted = false
	fields := c.fields
	c.mu.Unlock()

	c.log.Debug("Pausing")
	c.gate.Clear()
	for _, f := range fields {
		if f.gate.IsSet() {
			f.Pause()
		}
	}
}

// Resume marks the characteristic wanted and opens it if the link is up,
// along with every wanted information.
func (c *Characteristic) Resume() {
	c.mu.Lock()
	c.wanted = true
	fields := c.fields
	c.mu.Unlock()

	c.log.Debug("Resuming")
	if c.service.Session().Connected() {
		c.gate.Set()
		for _, f := range fields {
			if f.isWanted() && !f.gate.IsSet() {
				f.gate.Set()
			}
		}
	}
}

func (c *Characteristic) SetActivation(active bool) {
	if active {
		c.Resume()
	} else {
		c.Pause()
	}
}

// setLinkActivation follows link health without touching the wanted flags.
func (c *Characteristic) setLinkActivation(up bool) {
	c.mu.RLock()
	eligible := c.wanted || len(c.fields) > 0
	fields := c.fields
	c.mu.RUnlock()

	if !eligible {
		return
	}
	if up {
		c.gate.Set()
	} else {
		c.gate.Clear()
	}
	for _, f := range fields {
		f.setLinkActivation(up)
	}
}

// bind attaches ep for the lifetime of one link. I/O still blocked on the
// previous endpoint is cancelled, so a rebind or bind(nil) never leaves a
// loop waiting on a dead link.
func (c *Characteristic) bind(ep Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unlink != nil {
		c.unlink()
	}
	c.endpoint, c.link, c.unlink = ep, nil, nil
	if ep != nil {
		c.link, c.unlink = context.WithCancel(context.Background())
	}
}

// linked returns the bound endpoint and a context done when either ctx or
// the current link ends. The caller must call release.
func (c *Characteristic) linked(ctx context.Context) (Endpoint, context.Context, context.CancelFunc) {
	c.mu.RLock()
	ep, link := c.endpoint, c.link
	c.mu.RUnlock()
	if ep == nil {
		return nil, ctx, func() {}
	}
	lctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(link, cancel)
	return ep, lctx, func() {
		stop()
		cancel()
	}
}

// Run starts the loops the local role needs: reading for inbound values,
// writing for outbound values and checking when informations are attached.
func (c *Characteristic) Run(ctx context.Context) error {
	read, write := c.mode.Directions(c.service.Session().Role())
	var g groutine.Group
	if read {
		g.Go(ctx, "reading-"+c.opts.name, c.reading)
	}
	if write {
		g.Go(ctx, "writing-"+c.opts.name, c.writing)
	}
	if len(c.snapshotFields()) > 0 && c.opts.waitRefresh > 0 {
		checker := reactive.NewRefresher(c.checkInformations,
			reactive.WithName("checking-"+c.opts.name),
			reactive.WithLogger(c.service.Session().Logger()),
			reactive.WithWaitRefresh(c.opts.waitRefresh),
			reactive.WithAlwaysActive())
		g.Go(ctx, "checking-"+c.opts.name, checker.Run)
	}
	c.log.WithFields(logrus.Fields{"read": read, "write": write}).Debug("Characteristic running")
	return g.Wait()
}

func (c *Characteristic) reading(ctx context.Context) error {
	for {
		if err := c.gate.Wait(ctx); err != nil {
			return err
		}
		if c.read(ctx) {
			c.Update()
			if err := reactive.Sleep(ctx, c.opts.waitChange); err != nil {
				return err
			}
		} else if err := reactive.Sleep(ctx, c.opts.readBackoff); err != nil {
			return err
		}
	}
}

// read fetches and decodes one inbound value and reports whether it was
// accepted as a change.
func (c *Characteristic) read(ctx context.Context) bool {
	ep, lctx, release := c.linked(ctx)
	defer release()
	if ep == nil {
		c.log.WithError(ErrNotBound).Trace("Read skipped")
		return false
	}

	raw, err := ep.Read(lctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return false
	case lctx.Err() != nil:
		c.log.Debug("Read interrupted by link change")
		return false
	default:
		c.log.WithError(NormalizeError(err)).Error("Error while reading")
		return false
	}
	v := c.Decode(raw)
	if v == nil {
		c.log.WithField("bytes", len(raw)).Warn("Undecodable value")
		return false
	}
	if !c.gate.IsSet() {
		return false
	}

	c.mu.Lock()
	if c.opts.checkValue && reflect.DeepEqual(c.value, v) {
		c.mu.Unlock()
		return false
	}
	c.value = v
	c.mu.Unlock()
	c.log.WithField("value", v).Debug("Received")
	return true
}

func (c *Characteristic) writing(ctx context.Context) error {
	for {
		if err := c.gate.Wait(ctx); err != nil {
			return err
		}
		if err := c.pending.Wait(ctx); err != nil {
			return err
		}
		if !c.gate.IsSet() {
			continue
		}

		c.mu.RLock()
		v, seq := c.value, c.seq
		c.mu.RUnlock()

		err := c.write(ctx, v)
		if err != nil && !isEncodingError(err) {
			if ctx.Err() == nil {
				c.log.WithError(NormalizeError(err)).Error("Error while writing")
			}
			if err := reactive.Sleep(ctx, c.opts.writeBackoff); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			c.log.WithError(err).WithField("value", v).Error("Dropping value that cannot be encoded")
		} else {
			c.log.WithField("value", v).Debug("Sent")
			c.Update()
		}

		c.mu.Lock()
		if c.seq == seq {
			c.pending.Clear()
		}
		c.mu.Unlock()
	}
}

func (c *Characteristic) write(ctx context.Context, v any) error {
	data, err := c.Encode(v)
	if err != nil {
		return err
	}
	ep, lctx, release := c.linked(ctx)
	defer release()
	if ep == nil {
		return ErrNotBound
	}
	return ep.Write(lctx, data)
}

// checkInformations pauses the characteristic when no information is
// active and resumes it otherwise.
func (c *Characteristic) checkInformations() bool {
	fields := c.snapshotFields()
	for _, f := range fields {
		if f.gate.IsSet() {
			if !c.gate.IsSet() {
				c.Resume()
			}
			return false
		}
	}
	if c.gate.IsSet() {
		c.Pause()
	}
	return false
}

func isEncodingError(err error) bool {
	return errors.Is(err, encoding.ErrOutOfRange) || errors.Is(err, encoding.ErrUnsupportedValue)
}

// Informations returns the attached informations in attachment order.
func (c *Characteristic) Informations() []*Information {
	return c.snapshotFields()
}

func (c *Characteristic) snapshotFields() []*Information {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Information(nil), c.fields...)
}
