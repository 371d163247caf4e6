package reactive

import "sync"

// Average is a moving mean over the most recent points samples.
type Average struct {
	mu     sync.Mutex
	points int
	data   []float64
	next   int
	full   bool
}

func NewAverage(points int) *Average {
	if points < 1 {
		points = 1
	}
	return &Average{points: points, data: make([]float64, 0, points)}
}

func (a *Average) Collect(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.full {
		a.data = append(a.data, v)
		a.full = len(a.data) == a.points
		return
	}
	a.data[a.next] = v
	a.next = (a.next + 1) % a.points
}

// Value returns the mean of the collected samples, or 0 when empty.
func (a *Average) Value() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range a.data {
		sum += v
	}
	return sum / float64(len(a.data))
}

func (a *Average) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.data)
}

// smooth feeds numeric values through avg and returns the mean converted
// back to T. Non-numeric values pass through unchanged.
func smooth[T any](avg *Average, v T) T {
	if avg == nil {
		return v
	}
	f, ok := toFloat(v)
	if !ok {
		return v
	}
	avg.Collect(f)
	return fromFloat(avg.Value(), v)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	}
	return 0, false
}

func fromFloat[T any](f float64, like T) T {
	var out any
	switch any(like).(type) {
	case float64:
		out = f
	case float32:
		out = float32(f)
	case int:
		out = int(f)
	case int8:
		out = int8(f)
	case int16:
		out = int16(f)
	case int32:
		out = int32(f)
	case int64:
		out = int64(f)
	case uint8:
		out = uint8(f)
	case uint16:
		out = uint16(f)
	case uint32:
		out = uint32(f)
	default:
		return like
	}
	return out.(T)
}
