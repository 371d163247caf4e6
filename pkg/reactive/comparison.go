package reactive

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/srg/bikelight/pkg/sensor"
)

// ComparisonConfig describes a threshold trigger.
type ComparisonConfig struct {
	Operator string
	Lower    float64
	// Upper turns the comparison into a band test when set.
	Upper *float64
	// ExpansionLower and ExpansionUpper widen the thresholds while the
	// comparison is true, so the value does not chatter around a boundary.
	ExpansionLower float64
	ExpansionUpper float64
	// Switch reports the comparison result directly. Otherwise the result is
	// treated as a button press and toggles the value.
	Switch bool
	// Difference compares the change since a reference input, refreshed at
	// most once per Every, instead of the input itself.
	Difference bool
	Every      time.Duration
}

// Comparison is the Strategy behind NewComparison.
type Comparison struct {
	op       Operator
	lower    float64
	upper    float64
	expanded bool
	lowerExp float64
	upperExp float64

	momentary bool
	raw       bool

	difference bool
	reference  float64
	referenced bool
	sometimes  *rate.Sometimes
}

func newComparison(cfg ComparisonConfig, waitRefresh time.Duration) (*Comparison, error) {
	op, err := ParseOperator(cfg.Operator, cfg.Upper != nil)
	if err != nil {
		return nil, err
	}
	c := &Comparison{op: op, lower: cfg.Lower, momentary: !cfg.Switch, difference: cfg.Difference}
	if cfg.Upper != nil {
		c.upper = *cfg.Upper
	}

	if cfg.ExpansionLower > 0 || cfg.ExpansionUpper > 0 {
		fl, fu := op.Expansion()
		c.expanded = true
		c.lowerExp = c.lower + cfg.ExpansionLower*fl
		c.upperExp = c.upper + cfg.ExpansionUpper*fu
	}

	if cfg.Difference {
		every := cfg.Every
		if every < waitRefresh {
			every = waitRefresh
		}
		c.sometimes = &rate.Sometimes{Interval: every}
	}
	return c, nil
}

func (c *Comparison) Derive(input float64, current bool, _ bool) bool {
	on := current
	if c.momentary {
		on = c.raw
	}

	x := input
	if c.difference {
		x = 0
		if c.referenced {
			x = input - c.reference
		}
		c.sometimes.Do(func() {
			c.reference, c.referenced = input, true
		})
	}

	lower, upper := c.lower, c.upper
	if on && c.expanded {
		lower, upper = c.lowerExp, c.upperExp
	}
	result := c.op.Compare(x, lower, upper)

	if c.momentary {
		c.raw = result
		return Debounce(result, current)
	}
	return result
}

// NewComparison builds a boolean trigger from a numeric source compared
// against thresholds.
func NewComparison(source sensor.Source[float64], cfg ComparisonConfig, opts ...Option) (*Trigger[float64, bool], error) {
	s := applyOptions("comparison", opts)
	c, err := newComparison(cfg, s.waitRefresh)
	if err != nil {
		return nil, err
	}
	if _, ok := s.initial.(bool); !ok {
		s.initial = false
	}
	c.raw = s.initial.(bool)
	return newTrigger[float64, bool](source, c, s), nil
}
