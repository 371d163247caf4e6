package reactive

import (
	"context"
	"sync"

	"github.com/srg/bikelight/pkg/sensor"
)

// Gate is the activation flag of a Refresher. It is resolved once at
// construction: a cooperative gate backed by a Signal, an interrupt gate that
// toggles hardware edge delivery, or an always-open gate.
type Gate interface {
	Active() bool
	Open()
	Close()
	// Wait blocks while the gate is closed. Interrupt gates never block.
	Wait(ctx context.Context) error
}

type signalGate struct {
	signal *Signal
}

func (g *signalGate) Active() bool                   { return g.signal.IsSet() }
func (g *signalGate) Open()                          { g.signal.Set() }
func (g *signalGate) Close()                         { g.signal.Clear() }
func (g *signalGate) Wait(ctx context.Context) error { return g.signal.Wait(ctx) }

type interruptGate struct {
	mu      sync.Mutex
	irq     sensor.Interrupt
	handler func()
	active  bool
}

func (g *interruptGate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

func (g *interruptGate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = true
	g.irq.SetInterrupt(true, g.handler)
}

func (g *interruptGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
	g.irq.SetInterrupt(false, g.handler)
}

func (g *interruptGate) Wait(ctx context.Context) error { return ctx.Err() }

type openGate struct{}

func (openGate) Active() bool                   { return true }
func (openGate) Open()                          {}
func (openGate) Close()                         {}
func (openGate) Wait(ctx context.Context) error { return ctx.Err() }
