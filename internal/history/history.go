// Package history keeps the most recent session events and value changes in
// a bounded, overwrite-on-full buffer so the CLI can render them on demand.
package history

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Metrics counts collector activity. All fields are accessed atomically.
type Metrics struct {
	RecordsProcessed   int64
	ErrorsOccurred     int64
	RecordsOverwritten int64
}

func (m *Metrics) processed()           { atomic.AddInt64(&m.RecordsProcessed, 1) }
func (m *Metrics) failed()              { atomic.AddInt64(&m.ErrorsOccurred, 1) }
func (m *Metrics) overwritten(n uint32) { atomic.AddInt64(&m.RecordsOverwritten, int64(n)) }
func (m *Metrics) snapshot() Metrics {
	return Metrics{
		RecordsProcessed:   atomic.LoadInt64(&m.RecordsProcessed),
		ErrorsOccurred:     atomic.LoadInt64(&m.ErrorsOccurred),
		RecordsOverwritten: atomic.LoadInt64(&m.RecordsOverwritten),
	}
}

const (
	stateNotRunning uint32 = iota
	stateRunning
	stateStopping

	// MaxSize guards against accidental misconfiguration.
	MaxSize uint32 = 64 * 1024
)

// Collector moves records from a channel into a ring buffer that drops the
// oldest record when full.
//
// All methods are thread-safe.
type Collector[T any] struct {
	input   <-chan T
	buffer  mpmc.RichOverlappedRingBuffer[T]
	stop    chan struct{}
	done    chan struct{}
	onError func(error)
	metrics Metrics
	state   uint32
}

// NewCollector creates a collector reading from ch into a buffer of size
// records. onError receives unexpected buffer failures; nil panics.
func NewCollector[T any](ch <-chan T, size uint32, onError func(error)) (*Collector[T], error) {
	if ch == nil {
		return nil, fmt.Errorf("input channel cannot be nil")
	}
	if size == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if size > MaxSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", size, MaxSize)
	}
	if onError == nil {
		onError = func(err error) {
			panic(fmt.Sprintf("history collector: %v", err))
		}
	}
	return &Collector[T]{
		input:   ch,
		buffer:  mpmc.NewOverlappedRingBuffer[T](size),
		onError: onError,
	}, nil
}

// Start begins collecting. It returns once the collecting goroutine runs.
func (c *Collector[T]) Start() error {
	if !atomic.CompareAndSwapUint32(&c.state, stateNotRunning, stateRunning) {
		switch atomic.LoadUint32(&c.state) {
		case stateRunning:
			return fmt.Errorf("collector is already running")
		default:
			return fmt.Errorf("collector is stopping, wait for it to finish")
		}
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	started := make(chan struct{}, 1)

	go func() {
		started <- struct{}{}
		defer func() {
			close(c.done)
			atomic.StoreUint32(&c.state, stateNotRunning)
		}()
		for {
			select {
			case <-c.stop:
				return
			case rec, ok := <-c.input:
				if !ok {
					return
				}
				if err := c.Record(rec); err != nil {
					c.onError(err)
					return
				}
			}
		}
	}()

	select {
	case <-started:
		return nil
	case <-time.After(time.Second):
		close(c.stop)
		<-c.done
		return fmt.Errorf("collector failed to start within 1s timeout")
	}
}

// Stop ends collecting and waits for the goroutine to exit.
func (c *Collector[T]) Stop() error {
	if !atomic.CompareAndSwapUint32(&c.state, stateRunning, stateStopping) {
		if atomic.LoadUint32(&c.state) == stateNotRunning {
			return nil
		}
	} else {
		close(c.stop)
	}

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		<-c.done
		return fmt.Errorf("stop completed but exceeded 5s timeout")
	}
}

// Record stores rec directly, bypassing the input channel.
func (c *Collector[T]) Record(rec T) error {
	overwrites, err := c.buffer.EnqueueM(rec)
	if err != nil {
		c.metrics.failed()
		return fmt.Errorf("unexpected buffer enqueue error: %w", err)
	}
	c.metrics.overwritten(overwrites)
	c.metrics.processed()
	return nil
}

// Drain removes and returns every buffered record, oldest first.
func (c *Collector[T]) Drain() ([]T, error) {
	var out []T
	for !c.buffer.IsEmpty() {
		rec, err := c.buffer.Dequeue()
		if err != nil {
			return out, fmt.Errorf("buffer dequeue error: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Collector[T]) Cap() uint32 { return c.buffer.Cap() }

func (c *Collector[T]) Metrics() Metrics { return c.metrics.snapshot() }

func (c *Collector[T]) Running() bool {
	return atomic.LoadUint32(&c.state) == stateRunning
}
