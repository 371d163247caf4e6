package reactive

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Refresher repeatedly runs an update function while its gate is open.
type Refresher struct {
	name        string
	log         *logrus.Entry
	gate        Gate
	interrupt   bool
	waitRefresh time.Duration
	waitChange  time.Duration
	update      func() bool
}

// NewRefresher builds a refresher around update, which reports whether the
// iteration produced a change.
func NewRefresher(update func() bool, opts ...Option) *Refresher {
	return newRefresher(applyOptions("refresher", opts), update)
}

func newRefresher(s settings, update func() bool) *Refresher {
	r := &Refresher{
		name:        s.name,
		log:         s.logger.WithField("component", s.name),
		waitRefresh: s.waitRefresh,
		waitChange:  s.waitChange,
		update:      update,
	}

	switch {
	case s.irq != nil:
		r.interrupt = true
		ig := &interruptGate{irq: s.irq, handler: func() { r.update() }}
		r.gate = ig
		if s.alwaysActive {
			ig.Open()
		}
	case s.alwaysActive:
		r.gate = openGate{}
	default:
		r.gate = &signalGate{signal: &Signal{}}
	}

	if s.initiallyActive && !s.alwaysActive {
		r.gate.Open()
	}
	return r
}

func (r *Refresher) Name() string { return r.name }

// Update runs one unit of work outside the loop.
func (r *Refresher) Update() bool { return r.update() }

func (r *Refresher) IsActive() bool { return r.gate.Active() }

func (r *Refresher) Pause() {
	r.log.Debug("Pausing")
	r.gate.Close()
}

func (r *Refresher) Resume() {
	r.log.Debug("Resuming")
	r.gate.Open()
}

func (r *Refresher) SetActivation(active bool) {
	if active {
		r.Resume()
	} else {
		r.Pause()
	}
}

func (r *Refresher) ToggleActivation() {
	r.SetActivation(!r.IsActive())
}

// Run loops until ctx is done: wait for the gate, update, optionally settle
// after a change, then sleep the refresh period. In interrupt mode updates
// are driven by the hardware and Run only blocks.
func (r *Refresher) Run(ctx context.Context) error {
	if r.interrupt {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		if err := r.gate.Wait(ctx); err != nil {
			return err
		}
		if r.update() && r.waitChange > 0 {
			if err := Sleep(ctx, r.waitChange); err != nil {
				return err
			}
		}
		if err := Sleep(ctx, r.waitRefresh); err != nil {
			return err
		}
	}
}
