package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bikelight/internal/history"
	"github.com/srg/bikelight/pkg/bikelight"
	"github.com/srg/bikelight/pkg/config"
	"github.com/srg/bikelight/pkg/wireless"
)

const (
	historySize  = 256
	closeTimeout = 2 * time.Second
)

// node is one BikeLight unit: a session carrying the profile, with its
// events kept in a bounded history.
type node struct {
	label   string
	session *wireless.Session
	profile *bikelight.Profile
	events  chan wireless.Event
	history *history.Collector[wireless.Event]
	log     *logrus.Entry
}

func newNode(label string, transport wireless.Transport, cfg *config.Config, logger *logrus.Logger) (*node, error) {
	opts := cfg.SessionOptions(logger)
	opts.Name = label
	session := wireless.NewSession(transport, opts)

	profile, err := bikelight.New(session, cfg.CharacteristicOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to register profile: %w", err)
	}

	n := &node{
		label:   label,
		session: session,
		profile: profile,
		events:  make(chan wireless.Event, historySize),
		log:     logger.WithFields(logrus.Fields{"component": "node", "node": label}),
	}
	n.history, err = history.NewCollector[wireless.Event](n.events, historySize, func(err error) {
		n.log.WithError(err).Error("History collector failed")
	})
	if err != nil {
		return nil, err
	}

	session.Events().Add(func(e wireless.Event) {
		select {
		case n.events <- e:
		default:
			n.log.WithField("event", e.Kind).Warn("History backlog full, event dropped")
		}
	})
	return n, nil
}

func (n *node) configure(role wireless.Role, target *wireless.Target) error {
	switch role {
	case wireless.RoleCentral:
		n.session.SetAsCentral(target)
	case wireless.RolePeripheral:
		n.session.SetAsPeripheral(target)
	default:
		return wireless.ErrNoRole
	}
	return nil
}

// watch prints every field change and session event.
func (n *node) watch(p *printer) {
	for _, c := range n.session.Characteristics() {
		for _, info := range c.Informations() {
			name := info.Name()
			info.Add(func(v any) { p.Update(n.label, name, v) })
		}
	}
	n.session.Events().Add(func(e wireless.Event) { p.Event(n.label, e) })
}

// assign applies a "field=value" assignment, parsing value with the field
// codec.
func (n *node) assign(assignment string) error {
	name, text, ok := strings.Cut(assignment, "=")
	if !ok {
		return fmt.Errorf("invalid assignment %q (want field=value)", assignment)
	}
	info, found := n.profile.Information(strings.TrimSpace(name))
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	v, err := info.Codec().Parse(strings.TrimSpace(text))
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", info.Name(), err)
	}
	if !info.SetValue(v) {
		return fmt.Errorf("%w: %s", ErrReadOnly, info.Name())
	}
	n.log.WithFields(logrus.Fields{"field": info.Name(), "value": v}).Info("Field assigned")
	return nil
}

// run links the node and blocks until ctx ends.
func (n *node) run(ctx context.Context) error {
	if err := n.history.Start(); err != nil {
		return err
	}
	defer func() {
		if err := n.history.Stop(); err != nil {
			n.log.WithError(err).Warn("History collector stop")
		}
	}()

	n.session.Connect()
	err := n.session.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if cerr := n.session.Close(closeCtx); cerr != nil {
		n.log.WithError(cerr).Warn("Close")
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (n *node) report(p *printer) {
	events, err := n.history.Drain()
	if err != nil {
		n.log.WithError(err).Warn("History drain")
	}
	p.History(n.label, events, n.history.Metrics())
}
