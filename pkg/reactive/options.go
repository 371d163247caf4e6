package reactive

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bikelight/pkg/sensor"
)

const (
	DefaultWaitRefresh = 50 * time.Millisecond
)

type settings struct {
	name            string
	logger          *logrus.Logger
	waitRefresh     time.Duration
	waitChange      time.Duration
	initiallyActive bool
	alwaysActive    bool
	irq             sensor.Interrupt

	initial    any
	checkInput bool
	checkValue bool
	avgInput   int
	avgValue   int
}

func defaultSettings(name string) settings {
	return settings{
		name:            name,
		waitRefresh:     DefaultWaitRefresh,
		initiallyActive: true,
		checkInput:      true,
		checkValue:      true,
	}
}

// Option configures refreshers and triggers.
type Option func(*settings)

func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithWaitRefresh sets the pause between loop iterations.
func WithWaitRefresh(d time.Duration) Option {
	return func(s *settings) { s.waitRefresh = d }
}

// WithWaitChange adds a settle delay after an iteration that produced a change.
func WithWaitChange(d time.Duration) Option {
	return func(s *settings) { s.waitChange = d }
}

func WithInitiallyActive(active bool) Option {
	return func(s *settings) { s.initiallyActive = active }
}

// WithAlwaysActive removes the activation gate entirely.
func WithAlwaysActive() Option {
	return func(s *settings) { s.alwaysActive = true }
}

// WithInterrupt switches the refresher to interrupt mode: no loop runs, and
// the gate enables or disables edge delivery from irq.
func WithInterrupt(irq sensor.Interrupt) Option {
	return func(s *settings) { s.irq = irq }
}

// WithInitial seeds a trigger's value. The value must have the trigger's
// value type.
func WithInitial(v any) Option {
	return func(s *settings) { s.initial = v }
}

// WithCheckInput controls whether an unchanged input stops the update.
func WithCheckInput(check bool) Option {
	return func(s *settings) { s.checkInput = check }
}

// WithCheckValue controls whether an unchanged value suppresses the callback.
func WithCheckValue(check bool) Option {
	return func(s *settings) { s.checkValue = check }
}

// WithInputAverage smooths numeric inputs over a moving window.
func WithInputAverage(points int) Option {
	return func(s *settings) { s.avgInput = points }
}

// WithValueAverage smooths numeric derived values over a moving window.
func WithValueAverage(points int) Option {
	return func(s *settings) { s.avgValue = points }
}

func applyOptions(name string, opts []Option) settings {
	s := defaultSettings(name)
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
	}
	return s
}
