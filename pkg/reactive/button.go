package reactive

import "github.com/srg/bikelight/pkg/sensor"

// Debounce toggles value on every pressed sample.
func Debounce(pressed, value bool) bool {
	if pressed {
		return !value
	}
	return value
}

// Button turns raw edges into a toggled boolean state. Inverse treats a low
// input as pressed (active-low wiring).
type Button struct {
	Inverse bool
}

func (b Button) Derive(input bool, current bool, _ bool) bool {
	return Debounce(input != b.Inverse, current)
}

// NewButton builds a toggle trigger over a boolean source. The value starts
// false unless WithInitial says otherwise.
func NewButton(source sensor.Source[bool], inverse bool, opts ...Option) *Trigger[bool, bool] {
	s := applyOptions("button", opts)
	if _, ok := s.initial.(bool); !ok {
		s.initial = false
	}
	return newTrigger[bool, bool](source, Button{Inverse: inverse}, s)
}
