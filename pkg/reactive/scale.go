package reactive

import (
	"math"
	"sync"

	"github.com/srg/bikelight/pkg/sensor"
)

// Scale is a cyclic index over an arithmetic range or an explicit list.
// Moving past either end wraps around.
type Scale struct {
	mu     sync.Mutex
	start  float64
	step   float64
	length int
	values []float64
	index  int
}

// NewScale builds the range start, start+step, ... up to end inclusive.
func NewScale(start, end, step float64) *Scale {
	if step <= 0 {
		step = 1
	}
	length := 1 + int(math.Floor((end-start)/step))
	if length < 1 {
		length = 1
	}
	return &Scale{start: start, step: step, length: length}
}

// NewScaleOf builds a scale over an explicit list of values.
func NewScaleOf(values ...float64) *Scale {
	if len(values) == 0 {
		values = []float64{0}
	}
	return &Scale{values: append([]float64(nil), values...), length: len(values)}
}

func (s *Scale) Len() int { return s.length }

func (s *Scale) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// SetIndex moves to index, reduced modulo the scale length.
func (s *Scale) SetIndex(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setIndex(index)
}

func (s *Scale) setIndex(index int) {
	s.index = ((index % s.length) + s.length) % s.length
}

func (s *Scale) Value() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values != nil {
		return s.values[s.index]
	}
	return s.start + float64(s.index)*s.step
}

// SetValue moves to the position holding v. Range scales snap to the
// nearest step; list scales require an exact member and report false
// otherwise.
func (s *Scale) SetValue(v float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values != nil {
		for i, candidate := range s.values {
			if candidate == v {
				s.index = i
				return true
			}
		}
		return false
	}
	steps := (v - s.start) / s.step
	div := math.Floor(steps)
	rest := (steps - div) * s.step
	index := int(div)
	if rest >= s.step/2 {
		index++
	}
	s.setIndex(index)
	return true
}

func (s *Scale) Up() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setIndex(s.index + 1)
}

func (s *Scale) Down() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setIndex(s.index - 1)
}

// Stepper moves a Scale one position per debounced button edge.
type Stepper struct {
	Scale     *Scale
	Down      bool
	debounced bool
}

func (st *Stepper) Derive(input bool, _ float64, _ bool) float64 {
	next := Debounce(input, st.debounced)
	if next != st.debounced {
		if st.Down {
			st.Scale.Down()
		} else {
			st.Scale.Up()
		}
	}
	st.debounced = next
	return st.Scale.Value()
}

// NewScaleTrigger builds a trigger whose value walks scale on button edges.
func NewScaleTrigger(source sensor.Source[bool], scale *Scale, down bool, opts ...Option) *Trigger[bool, float64] {
	s := applyOptions("scale", opts)
	if v, ok := s.initial.(float64); ok {
		scale.SetValue(v)
	}
	s.initial = scale.Value()
	return newTrigger[bool, float64](source, &Stepper{Scale: scale, Down: down}, s)
}
