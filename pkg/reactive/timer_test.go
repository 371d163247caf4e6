package reactive

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bikelight/pkg/sensor"
)

type fakeClock struct {
	mu      sync.Mutex
	hours   float64
	changed Signal
}

func (c *fakeClock) Hours() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hours
}

func (c *fakeClock) Changed() *Signal { return &c.changed }

func (c *fakeClock) set(h float64) {
	c.mu.Lock()
	c.hours = h
	c.mu.Unlock()
	c.changed.Set()
}

func TestTimer_SwitchMode(t *testing.T) {
	values := make(chan bool, 8)
	timer := NewTimer(true, WithWaitRefresh(5*time.Millisecond), WithInitial(true))
	timer.Add(func(v bool) { values <- v })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = timer.Run(ctx) }()

	var got []bool
	for len(got) < 3 {
		select {
		case v := <-values:
			got = append(got, v)
		case <-time.After(time.Second):
			t.Fatal("timer MUST tick")
		}
	}
	assert.Equal(t, []bool{true, false, true}, got, "switch mode MUST alternate values")
}

func TestContinuousAverage(t *testing.T) {
	in := sensor.NewInput(4.0)
	ca := NewContinuousAverage(in, 4, WithWaitRefresh(time.Millisecond))
	ca.Collect()
	in.Set(8)
	ca.Collect()
	assert.Equal(t, 6.0, ca.Value())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ca.Run(ctx) }()
	assert.Eventually(t, func() bool { return ca.Value() == 8 }, time.Second, 2*time.Millisecond,
		"periodic sampling MUST converge on a constant source")
}

func TestClockTrigger_NextChange(t *testing.T) {
	upper := 20.0
	clock := &fakeClock{hours: 6}
	ct, err := NewClockTrigger(clock, "<>", 8, &upper)
	require.NoError(t, err)

	assert.False(t, ct.Value())
	assert.Equal(t, 2*time.Hour, ct.NextChange(), "before lower MUST wait for lower")

	clock.hours = 10
	assert.True(t, ct.Value())
	assert.Equal(t, 10*time.Hour, ct.NextChange(), "inside band MUST wait for upper")

	clock.hours = 22
	assert.Equal(t, 10*time.Hour, ct.NextChange(), "after upper MUST wrap to the next day's lower")
}

func TestClockTrigger_WakesOnClockChange(t *testing.T) {
	upper := 20.0
	clock := &fakeClock{hours: 6}
	ct, err := NewClockTrigger(clock, "<>", 8, &upper)
	require.NoError(t, err)

	var fired atomic.Value
	ct.Add(func(v bool) { fired.Store(v) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ct.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	clock.set(12)
	assert.Eventually(t, func() bool {
		v, ok := fired.Load().(bool)
		return ok && v
	}, time.Second, 5*time.Millisecond, "clock adjustment across a boundary MUST fire")
}

func TestFeature_SkipsVirtualRunners(t *testing.T) {
	var polled atomic.Int32
	polledTrigger := NewTrigger[int, int](sensor.SourceFunc[int](func() int { return int(polled.Add(1)) }),
		Identity[int](), WithWaitRefresh(time.Millisecond))
	virtual := NewButton(sensor.NewInput(false), false)

	primed := false
	virtual.Add(func(bool) { primed = true })

	f := NewFeature("lights", nil, true, polledTrigger, virtual)
	assert.Equal(t, int32(1), polled.Load(), "initiate MUST prime every runner once")
	assert.False(t, primed, "priming an idle button MUST NOT toggle it")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	assert.Eventually(t, func() bool { return polled.Load() > 3 }, time.Second, 2*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("feature MUST stop on cancellation")
	}
}
