package reactive

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bikelight/pkg/sensor"
)

// Strategy derives a trigger's value from a fresh input sample. current is
// the trigger's present value and valid reports whether it has been set.
type Strategy[I, V comparable] interface {
	Derive(input I, current V, valid bool) V
}

// StrategyFunc adapts a plain function to a Strategy.
type StrategyFunc[I, V comparable] func(input I, current V, valid bool) V

func (f StrategyFunc[I, V]) Derive(input I, current V, valid bool) V { return f(input, current, valid) }

// Identity passes the input through unchanged.
func Identity[T comparable]() Strategy[T, T] {
	return StrategyFunc[T, T](func(input T, _ T, _ bool) T { return input })
}

// Trigger samples a source, derives a value through a strategy and fires
// its action when the value changes.
type Trigger[I, V comparable] struct {
	*Refresher
	*Action[V]

	source   sensor.Source[I]
	strategy Strategy[I, V]
	log      *logrus.Entry

	mu         sync.Mutex
	inputted   I
	sampled    bool
	value      V
	valued     bool
	checkInput bool
	checkValue bool
	avgInput   *Average
	avgValue   *Average
}

// NewTrigger builds a trigger reading source and deriving values with
// strategy. WithInitial must carry a V if given.
func NewTrigger[I, V comparable](source sensor.Source[I], strategy Strategy[I, V], opts ...Option) *Trigger[I, V] {
	return newTrigger(source, strategy, applyOptions("trigger", opts))
}

func newTrigger[I, V comparable](source sensor.Source[I], strategy Strategy[I, V], s settings) *Trigger[I, V] {
	t := &Trigger[I, V]{
		Action:     NewAction[V](s.name, s.logger),
		source:     source,
		strategy:   strategy,
		log:        s.logger.WithField("component", s.name),
		checkInput: s.checkInput,
		checkValue: s.checkValue,
	}
	if v, ok := s.initial.(V); ok {
		t.value, t.valued = v, true
	}
	if s.avgInput > 0 {
		t.avgInput = NewAverage(s.avgInput)
	}
	if s.avgValue > 0 {
		t.avgValue = NewAverage(s.avgValue)
	}
	t.Refresher = newRefresher(s, t.Update)
	return t
}

// Update samples the source and runs the derive pipeline.
func (t *Trigger[I, V]) Update() bool {
	return t.SetInput(t.source.Value(), true)
}

// SetInput feeds a sample as if read from the source. An unchanged input
// (when input checking is on) or an unchanged value (when value checking is
// on) stops the pipeline and returns false.
func (t *Trigger[I, V]) SetInput(input I, callback bool) bool {
	t.mu.Lock()
	input = smooth(t.avgInput, input)
	if t.sampled && t.inputted == input && t.checkInput {
		t.mu.Unlock()
		return false
	}
	t.inputted, t.sampled = input, true

	v := t.strategy.Derive(input, t.value, t.valued)
	changed := t.store(v)
	value := t.value
	t.mu.Unlock()

	if !changed {
		return false
	}
	t.log.WithField("value", value).Trace("Update")
	if callback {
		t.Callback(value)
	}
	return true
}

// SetValue overrides the derived value.
func (t *Trigger[I, V]) SetValue(v V, callback bool) bool {
	t.mu.Lock()
	changed := t.store(v)
	value := t.value
	t.mu.Unlock()

	if changed && callback {
		t.Callback(value)
	}
	return changed
}

func (t *Trigger[I, V]) store(v V) bool {
	v = smooth(t.avgValue, v)
	if t.valued && t.value == v && t.checkValue {
		return false
	}
	t.value, t.valued = v, true
	return true
}

func (t *Trigger[I, V]) Value() V {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

func (t *Trigger[I, V]) Inputted() I {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputted
}

// Virtual reports whether the trigger is fed by a software Input instead of
// polling hardware.
func (t *Trigger[I, V]) Virtual() bool {
	return sensor.IsVirtual(t.source)
}

// Press emulates a button edge by inverting the last input.
func Press[V comparable](t *Trigger[bool, V]) bool {
	return t.SetInput(!t.Inputted(), true)
}
