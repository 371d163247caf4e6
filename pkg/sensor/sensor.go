// Package sensor holds the narrow contracts through which hardware drivers,
// actuators and virtual inputs feed the reactive core.
package sensor

import "sync"

// Source is anything with a readable current value.
type Source[T any] interface {
	Value() T
}

// SourceFunc adapts a plain function (typically an extractor over a richer
// driver) to a Source.
type SourceFunc[T any] func() T

func (f SourceFunc[T]) Value() T { return f() }

// Actuator is an output device driven by reactive callbacks.
type Actuator interface {
	SetData(data any)
	ShowData(data any, amplification float64)
	HideData()
}

// Interrupt is a hardware edge source. Enabling installs handler; disabling
// removes it.
type Interrupt interface {
	SetInterrupt(enabled bool, handler func())
}

// Virtual marks sources that are fed by software instead of being polled.
type Virtual interface {
	Virtual() bool
}

// Input is a software-settable Source, used for virtual buttons and values
// pushed from elsewhere in the application.
type Input[T any] struct {
	mu    sync.RWMutex
	value T
}

func NewInput[T any](initial T) *Input[T] {
	return &Input[T]{value: initial}
}

func (i *Input[T]) Value() T {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.value
}

func (i *Input[T]) Set(v T) {
	i.mu.Lock()
	i.value = v
	i.mu.Unlock()
}

func (i *Input[T]) Virtual() bool { return true }

// IsVirtual reports whether src is fed by software.
func IsVirtual(src any) bool {
	v, ok := src.(Virtual)
	return ok && v.Virtual()
}
