package reactive

import (
	"fmt"
	"strings"
)

// Operator is a parsed threshold comparison. Single operators compare the
// input against one bound; double operators test an inside or outside band.
type Operator struct {
	symbol string
	double bool
	single func(lower, in float64) bool
	band   func(lower, upper, in float64) bool
}

// ParseOperator parses symbol as a single (double=false) or band
// (double=true) comparison. An empty symbol means equality.
func ParseOperator(symbol string, double bool) (Operator, error) {
	op := Operator{symbol: symbol, double: double}
	if double {
		switch symbol {
		case "<>":
			op.band = func(l, u, x float64) bool { return l < x && x < u }
		case "<=>":
			op.band = func(l, u, x float64) bool { return l <= x && x <= u }
		case "<>=":
			op.band = func(l, u, x float64) bool { return l < x && x <= u }
		case "=<>":
			op.band = func(l, u, x float64) bool { return l <= x && x < u }
		case "><":
			op.band = func(l, u, x float64) bool { return x < l || x > u }
		case ">=<":
			op.band = func(l, u, x float64) bool { return x <= l || x >= u }
		case "><=":
			op.band = func(l, u, x float64) bool { return x < l || x >= u }
		case "=><":
			op.band = func(l, u, x float64) bool { return x <= l || x > u }
		case "", "==":
			op.band = func(l, u, x float64) bool { return l == u && u == x }
		default:
			return Operator{}, fmt.Errorf("unknown band operator %q", symbol)
		}
		return op, nil
	}

	switch symbol {
	case "<":
		op.single = func(l, x float64) bool { return x < l }
	case ">":
		op.single = func(l, x float64) bool { return x > l }
	case "<=":
		op.single = func(l, x float64) bool { return x <= l }
	case ">=":
		op.single = func(l, x float64) bool { return x >= l }
	case "!=":
		op.single = func(l, x float64) bool { return x != l }
	case "", "==":
		op.single = func(l, x float64) bool { return x == l }
	default:
		return Operator{}, fmt.Errorf("unknown operator %q", symbol)
	}
	return op, nil
}

func (o Operator) String() string { return o.symbol }

func (o Operator) Double() bool { return o.double }

// Compare evaluates the operator for in. upper is ignored by single
// operators.
func (o Operator) Compare(in, lower, upper float64) bool {
	if o.double {
		return o.band(lower, upper, in)
	}
	return o.single(lower, in)
}

// Expansion returns the signs applied to the lower and upper expansion
// amounts so that an active comparison widens the region that keeps it
// active.
func (o Operator) Expansion() (lower, upper float64) {
	if !o.double {
		switch {
		case strings.HasPrefix(o.symbol, "<"):
			return 1, 0
		case strings.HasPrefix(o.symbol, ">"):
			return -1, 0
		}
		return 0, 0
	}
	lt, gt := strings.Index(o.symbol, "<"), strings.Index(o.symbol, ">")
	if lt == -1 || gt == -1 {
		return 0, 0
	}
	if lt > gt {
		return 1, -1
	}
	return -1, 1
}
