package reactive

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIRQ struct {
	mu      sync.Mutex
	enabled bool
	handler func()
}

func (f *fakeIRQ) SetInterrupt(enabled bool, handler func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
	if enabled {
		f.handler = handler
	} else {
		f.handler = nil
	}
}

func (f *fakeIRQ) fire() {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h()
	}
}

func TestRefresher_LoopsOnlyWhileActive(t *testing.T) {
	// GOAL: Verify the gate controls the refresh loop
	//
	// TEST SCENARIO: Start paused → no updates → resume → updates flow → pause → updates stop

	var count atomic.Int32
	r := NewRefresher(func() bool { count.Add(1); return false },
		WithWaitRefresh(2*time.Millisecond), WithInitiallyActive(false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	assert.Never(t, func() bool { return count.Load() > 0 }, 30*time.Millisecond, 5*time.Millisecond,
		"paused refresher MUST NOT update")

	r.Resume()
	assert.Eventually(t, func() bool { return count.Load() > 3 }, time.Second, 5*time.Millisecond,
		"active refresher MUST update repeatedly")

	r.Pause()
	time.Sleep(10 * time.Millisecond)
	stopped := count.Load()
	assert.Never(t, func() bool { return count.Load() > stopped+1 }, 30*time.Millisecond, 5*time.Millisecond,
		"paused refresher MUST stop updating")
}

func TestRefresher_ToggleActivation(t *testing.T) {
	r := NewRefresher(func() bool { return false })
	assert.True(t, r.IsActive(), "refreshers MUST start active by default")
	r.ToggleActivation()
	assert.False(t, r.IsActive())
	r.SetActivation(true)
	assert.True(t, r.IsActive())
}

func TestRefresher_InterruptMode(t *testing.T) {
	// GOAL: Verify interrupt mode delegates activation to the interrupt source
	//
	// TEST SCENARIO: Pause disables IRQ → edges ignored → resume enables IRQ → edge runs update

	irq := &fakeIRQ{}
	var count atomic.Int32
	r := NewRefresher(func() bool { count.Add(1); return true }, WithInterrupt(irq))
	require.True(t, irq.enabled, "initially active refresher MUST enable the interrupt")

	r.Pause()
	irq.fire()
	assert.Zero(t, count.Load(), "disabled interrupt MUST NOT update")

	r.Resume()
	irq.fire()
	assert.Equal(t, int32(1), count.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Run(ctx), context.Canceled, "interrupt mode Run MUST only wait for cancellation")
}

func TestRefresher_AlwaysActive(t *testing.T) {
	r := NewRefresher(func() bool { return false }, WithAlwaysActive(), WithInitiallyActive(false))
	r.Pause()
	assert.True(t, r.IsActive(), "always-active refresher MUST ignore pause")
}
