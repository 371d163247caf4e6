package reactive

import (
	"math"

	"github.com/srg/bikelight/pkg/sensor"
)

// Range maps an input interval onto an output interval.
type Range struct {
	FromLow, FromHigh float64
	ToLow, ToHigh     float64
	// Step quantises the mapped value up to the next multiple above ToLow.
	// Zero disables quantisation.
	Step    float64
	Inverse bool
}

// Map clamps v to the input interval, maps it linearly, quantises it and
// optionally mirrors it as ToHigh - v.
func (r Range) Map(v float64) float64 {
	v = math.Max(math.Min(v, r.FromHigh), r.FromLow)

	mapped := r.ToLow
	if r.FromHigh != r.FromLow {
		mapped = (v-r.FromLow)*(r.ToHigh-r.ToLow)/(r.FromHigh-r.FromLow) + r.ToLow
	}

	if r.Step > 0 {
		offset := mapped - r.ToLow
		steps := math.Floor(offset / r.Step)
		if math.Mod(offset, r.Step) != 0 {
			steps++
		}
		mapped = steps*r.Step + r.ToLow
	}

	if r.Inverse {
		return r.ToHigh - mapped
	}
	return mapped
}

// Analog derives a numeric value from a numeric input, with optional range
// mapping and a hysteresis threshold below which changes are ignored.
type Analog struct {
	Range *Range
	// Difference keeps the current value unless the new one differs by more
	// than this amount. Zero accepts every change.
	Difference float64
}

func (a Analog) Derive(input float64, current float64, valid bool) float64 {
	v := input
	if a.Range != nil {
		v = a.Range.Map(input)
	}
	if valid && math.Abs(v-current) <= a.Difference {
		return current
	}
	return v
}

func NewAnalog(source sensor.Source[float64], analog Analog, opts ...Option) *Trigger[float64, float64] {
	return newTrigger[float64, float64](source, analog, applyOptions("analog", opts))
}
