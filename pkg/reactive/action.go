// Package reactive implements the event-driven core shared by both nodes:
// listener dispatch (Action), gated periodic loops (Refresher) and sampling
// triggers that derive values from sources (Trigger and its strategies).
package reactive

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bikelight/internal/groutine"
)

// Action is an ordered set of listeners fired with a value on Callback:
// plain functions run synchronously, signals are set, and tasks are
// scheduled on their own goroutine.
type Action[T any] struct {
	name   string
	logger *logrus.Entry

	mu      sync.RWMutex
	funcs   []func(T)
	signals []*Signal
	tasks   []func(context.Context, T)
}

func NewAction[T any](name string, logger *logrus.Logger) *Action[T] {
	if logger == nil {
		logger = logrus.New()
	}
	return &Action[T]{
		name:   name,
		logger: logger.WithField("component", name),
	}
}

// Add appends listener functions and returns the action for chaining.
func (a *Action[T]) Add(funcs ...func(T)) *Action[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.funcs = append(a.funcs, funcs...)
	return a
}

// AddSignals appends signals set on every callback.
func (a *Action[T]) AddSignals(signals ...*Signal) *Action[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signals = append(a.signals, signals...)
	return a
}

// AddTasks appends listeners started asynchronously on every callback.
func (a *Action[T]) AddTasks(tasks ...func(context.Context, T)) *Action[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks = append(a.tasks, tasks...)
	return a
}

// Callback fires every listener in registration order. A panicking listener
// is logged and does not prevent the remaining listeners from running.
func (a *Action[T]) Callback(value T) {
	a.mu.RLock()
	funcs := a.funcs
	signals := a.signals
	tasks := a.tasks
	a.mu.RUnlock()

	for i, fn := range funcs {
		a.invoke(i, fn, value)
	}
	for _, s := range signals {
		s.Set()
	}
	for i, task := range tasks {
		task := task
		groutine.Go(context.Background(), fmt.Sprintf("%s-task-%d", a.name, i), func(ctx context.Context) {
			a.invoke(i, func(v T) { task(ctx, v) }, value)
		})
	}
}

func (a *Action[T]) invoke(index int, fn func(T), value T) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithFields(logrus.Fields{
				"listener": index,
				"panic":    r,
			}).Error("Listener failed")
		}
	}()
	fn(value)
}
