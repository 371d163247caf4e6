package reactive

import (
	"context"
	"time"
)

// Clock exposes the local hour of day and signals when it was adjusted.
type Clock interface {
	Hours() float64
	Changed() *Signal
}

// ClockTrigger compares the hour of day against thresholds, waking on
// clock adjustments or at the next boundary crossing.
type ClockTrigger struct {
	*Refresher
	*Action[bool]

	clock Clock
	op    Operator
	lower float64
	upper *float64
}

func NewClockTrigger(clock Clock, operator string, lower float64, upper *float64, opts ...Option) (*ClockTrigger, error) {
	op, err := ParseOperator(operator, upper != nil)
	if err != nil {
		return nil, err
	}
	s := applyOptions("clock", opts)
	ct := &ClockTrigger{
		Action: NewAction[bool](s.name, s.logger),
		clock:  clock,
		op:     op,
		lower:  lower,
		upper:  upper,
	}
	ct.Refresher = newRefresher(s, ct.fire)
	return ct, nil
}

func (ct *ClockTrigger) Value() bool {
	var upper float64
	if ct.upper != nil {
		upper = *ct.upper
	}
	return ct.op.Compare(ct.clock.Hours(), ct.lower, upper)
}

// NextChange is the time until the next threshold the hour will cross.
func (ct *ClockTrigger) NextChange() time.Duration {
	in := ct.clock.Hours()
	var hours float64
	switch {
	case in < ct.lower:
		hours = ct.lower - in
	case ct.upper != nil && in < *ct.upper:
		hours = *ct.upper - in
	default:
		hours = 24 - in + ct.lower
	}
	return time.Duration(hours * float64(time.Hour))
}

func (ct *ClockTrigger) fire() bool {
	ct.Callback(ct.Value())
	return true
}

func (ct *ClockTrigger) Run(ctx context.Context) error {
	changed := ct.clock.Changed()
	last := ct.Value()
	changed.Clear()

	for {
		if err := ct.gate.Wait(ctx); err != nil {
			return err
		}
		if v := ct.Value(); v != last {
			last = v
			ct.fire()
		}

		timer := time.NewTimer(ct.NextChange())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-changed.Done():
			timer.Stop()
			changed.Clear()
		case <-timer.C:
			if ct.IsActive() {
				last = ct.Value()
				ct.fire()
			}
		}
	}
}
