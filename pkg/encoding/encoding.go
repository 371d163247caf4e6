// Package encoding converts typed field values to and from the fixed-width
// little-endian byte layouts carried by BikeLight characteristics.
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/x448/float16"
)

var (
	// ErrOutOfRange is returned when a value does not fit the wire width.
	ErrOutOfRange = errors.New("value out of range")
	// ErrUnsupportedValue is returned when a value has a type a codec cannot encode.
	ErrUnsupportedValue = errors.New("unsupported value")
)

// Codec is a fixed-size value serializer.
//
// Decode never fails loudly: a buffer that cannot be decoded yields nil.
type Codec interface {
	Size() int
	Encode(value any) ([]byte, error)
	Decode(data []byte) any
	Parse(text string) (any, error)
}

// Kind identifies the wire layout of an Encoder.
type Kind int

const (
	KindBoolean Kind = iota
	KindInt8
	KindUint8
	KindUint16
	KindPercentageInt
	KindPercentageFloat
	KindFloat
	KindSmallFloat
)

var kindNames = map[Kind]string{
	KindBoolean:         "boolean",
	KindInt8:            "int8",
	KindUint8:           "uint8",
	KindUint16:          "uint16",
	KindPercentageInt:   "percentage-int",
	KindPercentageFloat: "percentage-float",
	KindFloat:           "float",
	KindSmallFloat:      "small-float",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Encoder is the scalar Codec for one Kind.
//
// Decoded values use canonical Go types: bool for Boolean, int for the
// integer kinds and float64 for the floating kinds.
type Encoder struct {
	kind Kind
}

var (
	Boolean         = Encoder{kind: KindBoolean}
	Int8            = Encoder{kind: KindInt8}
	Uint8           = Encoder{kind: KindUint8}
	Uint16          = Encoder{kind: KindUint16}
	PercentageInt   = Encoder{kind: KindPercentageInt}
	PercentageFloat = Encoder{kind: KindPercentageFloat}
	Float           = Encoder{kind: KindFloat}
	SmallFloat      = Encoder{kind: KindSmallFloat}
)

func (e Encoder) Kind() Kind { return e.kind }

func (e Encoder) String() string { return e.kind.String() }

// Size returns the wire width in bytes.
func (e Encoder) Size() int {
	switch e.kind {
	case KindUint16, KindSmallFloat:
		return 2
	case KindFloat:
		return 4
	default:
		return 1
	}
}

// Encode converts value to its wire form. A nil value encodes as zero.
func (e Encoder) Encode(value any) ([]byte, error) {
	out := make([]byte, e.Size())
	if value == nil {
		return out, nil
	}

	switch e.kind {
	case KindBoolean:
		b, err := asBool(value)
		if err != nil {
			return nil, err
		}
		if b {
			out[0] = 1
		}
	case KindInt8:
		n, err := asInt(value)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt8 || n > math.MaxInt8 {
			return nil, fmt.Errorf("%w: %d does not fit %s", ErrOutOfRange, n, e.kind)
		}
		out[0] = byte(int8(n))
	case KindUint8:
		n, err := asInt(value)
		if err != nil {
			return nil, err
		}
		if n < 0 || n > math.MaxUint8 {
			return nil, fmt.Errorf("%w: %d does not fit %s", ErrOutOfRange, n, e.kind)
		}
		out[0] = byte(n)
	case KindPercentageInt:
		n, err := asInt(value)
		if err != nil {
			return nil, err
		}
		if n < 0 || n > 100 {
			return nil, fmt.Errorf("%w: %d is not a percentage", ErrOutOfRange, n)
		}
		out[0] = byte(n)
	case KindUint16:
		n, err := asInt(value)
		if err != nil {
			return nil, err
		}
		if n < 0 || n > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %d does not fit %s", ErrOutOfRange, n, e.kind)
		}
		binary.LittleEndian.PutUint16(out, uint16(n))
	case KindPercentageFloat:
		f, err := asFloat(value)
		if err != nil {
			return nil, err
		}
		n := math.Round(f * 100)
		if n < math.MinInt8 || n > math.MaxInt8 {
			return nil, fmt.Errorf("%w: %v does not fit %s", ErrOutOfRange, f, e.kind)
		}
		out[0] = byte(int8(n))
	case KindFloat:
		f, err := asFloat(value)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint32(out, math.Float32bits(float32(f)))
	case KindSmallFloat:
		f, err := asFloat(value)
		if err != nil {
			return nil, err
		}
		binary.LittleEndian.PutUint16(out, float16.Fromfloat32(float32(f)).Bits())
	}
	return out, nil
}

// Decode converts a wire buffer back to a value, or nil if the buffer is
// not exactly Size bytes long.
func (e Encoder) Decode(data []byte) any {
	if len(data) != e.Size() {
		return nil
	}

	switch e.kind {
	case KindBoolean:
		return data[0] != 0
	case KindInt8:
		return int(int8(data[0]))
	case KindUint8, KindPercentageInt:
		return int(data[0])
	case KindUint16:
		return int(binary.LittleEndian.Uint16(data))
	case KindPercentageFloat:
		return float64(int8(data[0])) / 100
	case KindFloat:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data)))
	case KindSmallFloat:
		return float64(float16.Frombits(binary.LittleEndian.Uint16(data)).Float32())
	}
	return nil
}

// Parse converts user text into a value this encoder accepts.
func (e Encoder) Parse(text string) (any, error) {
	text = strings.TrimSpace(text)
	switch e.kind {
	case KindBoolean:
		return strings.EqualFold(text, "true") || text == "1", nil
	case KindInt8, KindUint8, KindUint16, KindPercentageInt:
		n, err := strconv.Atoi(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s %q: %w", e.kind, text, err)
		}
		return n, nil
	default:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s %q: %w", e.kind, text, err)
		}
		return f, nil
	}
}

func asBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	default:
		n, err := asFloat(value)
		if err != nil {
			return false, err
		}
		return n != 0, nil
	}
}

func asInt(value any) (int, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint:
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case float32:
		return int(v), nil
	case float64:
		return int(v), nil
	}
	return 0, fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
}

func asFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	}
	n, err := asInt(value)
	return float64(n), err
}
