package encoding

import (
	"fmt"
	"strings"
)

// ArrayEncoder concatenates a fixed sequence of encoders into one record.
type ArrayEncoder struct {
	encoders []Codec
}

func NewArrayEncoder(encoders ...Codec) *ArrayEncoder {
	return &ArrayEncoder{encoders: append([]Codec(nil), encoders...)}
}

// Encoders returns the field codecs in layout order.
func (a *ArrayEncoder) Encoders() []Codec {
	return append([]Codec(nil), a.encoders...)
}

// Offset returns the byte offset of field index.
func (a *ArrayEncoder) Offset(index int) int {
	offset := 0
	for i := 0; i < index && i < len(a.encoders); i++ {
		offset += a.encoders[i].Size()
	}
	return offset
}

func (a *ArrayEncoder) Size() int {
	return a.Offset(len(a.encoders))
}

// Encode accepts a []any record. Missing trailing values are zero-filled.
func (a *ArrayEncoder) Encode(value any) ([]byte, error) {
	var values []any
	switch v := value.(type) {
	case nil:
	case []any:
		values = v
	default:
		return nil, fmt.Errorf("%w: array record must be []any, got %T", ErrUnsupportedValue, value)
	}

	out := make([]byte, 0, a.Size())
	for i, enc := range a.encoders {
		if i >= len(values) {
			out = append(out, make([]byte, enc.Size())...)
			continue
		}
		chunk, err := enc.Encode(values[i])
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// Decode returns a []any with one entry per field that fits in data.
// Decoding stops at the first field extending past the end of the buffer.
// Empty buffers and buffers longer than the record decode to nil.
func (a *ArrayEncoder) Decode(data []byte) any {
	if len(data) == 0 || len(data) > a.Size() {
		return nil
	}
	values := make([]any, 0, len(a.encoders))
	offset := 0
	for _, enc := range a.encoders {
		end := offset + enc.Size()
		if end > len(data) {
			break
		}
		values = append(values, enc.Decode(data[offset:end]))
		offset = end
	}
	return values
}

// Parse splits comma separated text and parses each part with the matching
// field codec. Extra parts are ignored.
func (a *ArrayEncoder) Parse(text string) (any, error) {
	parts := strings.Split(text, ",")
	values := make([]any, 0, len(a.encoders))
	for i, part := range parts {
		if i >= len(a.encoders) {
			break
		}
		v, err := a.encoders[i].Parse(part)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		values = append(values, v)
	}
	return values, nil
}
