package reactive

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/bikelight/pkg/sensor"
)

// Timer fires its action once per refresh period while active. In switch
// mode the fired value alternates between true and false.
type Timer struct {
	*Refresher
	*Action[bool]

	mu        sync.Mutex
	switching bool
	value     bool
}

func NewTimer(switching bool, opts ...Option) *Timer {
	s := applyOptions("timer", opts)
	t := &Timer{
		Action:    NewAction[bool](s.name, s.logger),
		switching: switching,
	}
	if v, ok := s.initial.(bool); ok {
		t.value = v
	}
	t.Refresher = newRefresher(s, t.fire)
	return t
}

func (t *Timer) Value() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

func (t *Timer) fire() bool {
	v := t.Value()
	t.Callback(v)
	if t.switching {
		t.mu.Lock()
		t.value = !t.value
		t.mu.Unlock()
	}
	return true
}

// Run sleeps one period before each tick so the first callback lands a full
// period after activation.
func (t *Timer) Run(ctx context.Context) error {
	for {
		if err := t.gate.Wait(ctx); err != nil {
			return err
		}
		if err := Sleep(ctx, t.waitRefresh); err != nil {
			return err
		}
		if t.IsActive() {
			t.fire()
		}
	}
}

// ContinuousAverage samples a source on every timer tick into a moving
// average.
type ContinuousAverage struct {
	*Timer
	source  sensor.Source[float64]
	average *Average
	log     *logrus.Entry
}

func NewContinuousAverage(source sensor.Source[float64], points int, opts ...Option) *ContinuousAverage {
	ca := &ContinuousAverage{
		Timer:   NewTimer(false, append([]Option{WithName("continuous-average")}, opts...)...),
		source:  source,
		average: NewAverage(points),
	}
	ca.log = ca.Timer.Refresher.log
	ca.Timer.Add(func(bool) { ca.Collect() })
	return ca
}

// Collect takes one sample immediately.
func (ca *ContinuousAverage) Collect() {
	ca.average.Collect(ca.source.Value())
}

func (ca *ContinuousAverage) Value() float64 {
	return ca.average.Value()
}
